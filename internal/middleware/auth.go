package middleware

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"quorum/internal/apierror"
	"quorum/internal/logging"
	"quorum/internal/models"
	"quorum/internal/storage"
)

// CheckUserKey is the gin context key holding the current *models.User.
const CheckUserKey = "user"

// SessionUserKey is the session value the auth service stores the user id under.
const SessionUserKey = "user_id"

// CurrentUser returns the user loaded by LoadUser, or nil for anonymous requests.
func CurrentUser(c *gin.Context) *models.User {
	if v, ok := c.Get(CheckUserKey); ok {
		if u, ok := v.(*models.User); ok {
			return u
		}
	}
	return nil
}

// CurrentUserID is CurrentUser's id, 0 when anonymous.
func CurrentUserID(c *gin.Context) uint {
	if u := CurrentUser(c); u != nil {
		return u.ID
	}
	return 0
}

// sessionUserID accepts the shapes a session codec may hand back.
func sessionUserID(v interface{}) (uint, bool) {
	switch id := v.(type) {
	case uint:
		return id, id != 0
	case int:
		return uint(id), id > 0
	case int64:
		return uint(id), id > 0
	case uint64:
		return uint(id), id != 0
	case float64:
		return uint(id), id >= 1
	case string:
		n, err := strconv.ParseUint(id, 10, 64)
		return uint(n), err == nil && n != 0
	default:
		return 0, false
	}
}

// LoadUser retrieves the user from the session and sets it on the context.
// Unknown or stale ids leave the request anonymous.
func LoadUser(users storage.UserStore) gin.HandlerFunc {
	log := logging.WithComponent("middleware")
	return func(c *gin.Context) {
		session := sessions.Default(c)
		id, ok := sessionUserID(session.Get(SessionUserKey))
		if ok {
			user, err := users.Get(c.Request.Context(), id)
			switch {
			case err == nil:
				c.Set(CheckUserKey, user)
			case !errors.Is(err, storage.ErrNotFound):
				logging.FromContext(c.Request.Context(), log).Warn("Failed to load session user", zap.Uint("user_id", id), zap.Error(err))
			}
		}
		c.Next()
	}
}

// AuthRequired rejects anonymous and banned callers.
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			apierror.Abort(c, http.StatusUnauthorized, "unauthenticated", "authentication required")
			return
		}
		if user.Banned {
			apierror.Abort(c, http.StatusForbidden, "forbidden", "account is banned")
			return
		}
		c.Next()
	}
}

// RequireRole lets through callers for which allowed returns true. It must run after AuthRequired.
func RequireRole(allowed func(*models.User) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil || !allowed(user) {
			apierror.Abort(c, http.StatusForbidden, "forbidden", "permission denied")
			return
		}
		c.Next()
	}
}
