package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"quorum/internal/apierror"
	"quorum/internal/middleware"
	"quorum/internal/models"
	"quorum/internal/services"
	"quorum/internal/storage"
)

// AdminHandler serves the moderator and admin endpoints.
type AdminHandler struct {
	posts      *services.PostService
	moderation *services.ModerationService
	audit      *services.AuditService
}

func NewAdminHandler(posts *services.PostService, moderation *services.ModerationService, audit *services.AuditService) *AdminHandler {
	return &AdminHandler{posts: posts, moderation: moderation, audit: audit}
}

// ModeratePost handles PATCH /api/mod/posts/:id.
func (h *AdminHandler) ModeratePost(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var patch services.ModerationPatch
	if !decodeStrict(c, &patch) {
		return
	}
	post, err := h.posts.Moderate(c.Request.Context(), id, middleware.CurrentUserID(c), patch)
	if err != nil {
		apierror.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, newPostView(post))
}

// RemoveComment handles DELETE /api/mod/comments/:id?reason=...
func (h *AdminHandler) RemoveComment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.moderation.RemoveComment(c.Request.Context(), id, middleware.CurrentUserID(c), c.Query("reason")); err != nil {
		apierror.Write(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PublishUpdate stores an announcement; the broadcast to every user runs in the background.
func (h *AdminHandler) PublishUpdate(c *gin.Context) {
	var in services.UpdateInput
	if !decodeStrict(c, &in) {
		return
	}
	update, err := h.moderation.PublishUpdate(c.Request.Context(), middleware.CurrentUserID(c), in)
	if err != nil {
		apierror.Write(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"update": update})
}

func (h *AdminHandler) DeleteUpdate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.moderation.DeleteUpdate(c.Request.Context(), middleware.CurrentUserID(c), id); err != nil {
		apierror.Write(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AdminHandler) PatchUser(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var patch services.UserPatch
	if !decodeStrict(c, &patch) {
		return
	}
	user, err := h.moderation.PatchUser(c.Request.Context(), middleware.CurrentUserID(c), id, patch)
	if err != nil {
		apierror.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// ListAudit handles GET /api/admin/audit?action=&actor_id=&limit=
func (h *AdminHandler) ListAudit(c *gin.Context) {
	filter := storage.AuditFilter{
		Action: models.AuditAction(c.Query("action")),
		Limit:  queryInt(c, "limit", 100),
	}
	if v := c.Query("actor_id"); v != "" {
		actor, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			apierror.BadRequest(c, "invalid actor_id")
			return
		}
		filter.ActorID = uint(actor)
	}
	entries, err := h.audit.List(c.Request.Context(), filter)
	if err != nil {
		apierror.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
