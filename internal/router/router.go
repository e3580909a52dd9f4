package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"quorum/internal/apierror"
	"quorum/internal/config"
	"quorum/internal/handlers"
	"quorum/internal/middleware"
	"quorum/internal/models"
	"quorum/internal/ratelimit"
	"quorum/internal/services"
	"quorum/internal/storage"
	"quorum/internal/telemetry"
)

// Deps is everything the HTTP surface needs.
type Deps struct {
	Config   *config.Config
	Services *services.Services
	Store    storage.Store
	Limiter  ratelimit.Limiter
	Metrics  *telemetry.Metrics
	// Health reports backend health for /health. Nil means always healthy.
	Health func(ctx context.Context) error
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
}

// New builds the engine with the global middleware chain and every route.
func New(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Recovery(), middleware.AccessLog(), middleware.Tracing())

	if origins := d.Config.Server.AllowedOrigins; len(origins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", middleware.RequestIDHeader},
			ExposeHeaders:    []string{middleware.RequestIDHeader, "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	store := cookie.NewStore([]byte(d.Config.Session.Secret))
	store.Options(sessions.Options{Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions(d.Config.Session.Name, store))
	r.Use(middleware.LoadUser(d.Store.Users()))

	r.NoRoute(func(c *gin.Context) {
		apierror.Abort(c, http.StatusNotFound, "not_found", "not found")
	})

	r.GET("/health", func(c *gin.Context) {
		if d.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := d.Health(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if d.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(d.MetricsHandler))
	}

	RegisterRoutes(r.Group("/api"), d)
	return r
}

// RegisterRoutes mounts the JSON API on api. The caller must have installed
// sessions and middleware.LoadUser upstream.
func RegisterRoutes(api *gin.RouterGroup, d Deps) {
	svc := d.Services
	voteHandler := handlers.NewVoteHandler(svc.Votes, svc.Reactions)
	commentHandler := handlers.NewCommentHandler(svc.Comments)
	postHandler := handlers.NewPostHandler(svc.Posts, svc.Votes, svc.Reactions)
	notificationHandler := handlers.NewNotificationHandler(svc.Notifications)
	adminHandler := handlers.NewAdminHandler(svc.Posts, svc.Moderation, svc.Audit)

	limit := func(action string) gin.HandlerFunc {
		policy, _ := d.Config.RateLimit.Policy(action)
		return middleware.RateLimit(d.Limiter, action, policy, middleware.ByUser, d.Metrics)
	}

	// Public routes; the caller's own vote/reactions are filled in when signed in.
	api.GET("/posts/:id", postHandler.Get)
	api.GET("/posts/:id/comments", commentHandler.List)
	api.GET("/posts/:id/reactions", voteHandler.Reactions)
	api.GET("/vote/:kind/:id", voteHandler.Score)

	authorized := api.Group("")
	authorized.Use(middleware.AuthRequired())
	{
		authorized.POST("/posts", limit(config.ActionPost), postHandler.Create)
		authorized.PATCH("/posts/:id", postHandler.Patch)
		authorized.DELETE("/posts/:id", postHandler.Delete)

		authorized.POST("/posts/:id/comments", limit(config.ActionComment), commentHandler.Create)
		authorized.DELETE("/comments/:id", commentHandler.Delete)

		authorized.POST("/vote/:kind/:id", limit(config.ActionVote), voteHandler.Vote)
		authorized.POST("/posts/:id/reactions", limit(config.ActionReact), voteHandler.React)

		authorized.GET("/notifications", notificationHandler.List)
		authorized.PUT("/notifications", notificationHandler.MarkRead)
	}

	mod := api.Group("/mod")
	mod.Use(middleware.AuthRequired(), middleware.RequireRole((*models.User).IsModerator))
	{
		mod.PATCH("/posts/:id", adminHandler.ModeratePost)
		mod.DELETE("/comments/:id", adminHandler.RemoveComment)
	}

	admin := api.Group("/admin")
	admin.Use(middleware.AuthRequired(), middleware.RequireRole((*models.User).IsAdmin))
	{
		admin.POST("/updates", adminHandler.PublishUpdate)
		admin.DELETE("/updates/:id", adminHandler.DeleteUpdate)
		admin.PATCH("/users/:id", adminHandler.PatchUser)
		admin.GET("/audit", adminHandler.ListAudit)
	}
}
