package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"quorum/internal/apierror"
	"quorum/internal/middleware"
	"quorum/internal/services"
)

type CommentHandler struct {
	comments *services.CommentService
}

func NewCommentHandler(comments *services.CommentService) *CommentHandler {
	return &CommentHandler{comments: comments}
}

type createCommentRequest struct {
	Content  string `json:"content"`
	ParentID *uint  `json:"parentId"`
}

// List returns the comment tree of a post.
func (h *CommentHandler) List(c *gin.Context) {
	postID, ok := pathID(c, "id")
	if !ok {
		return
	}
	tree, err := h.comments.List(c.Request.Context(), postID, middleware.CurrentUserID(c))
	if err != nil {
		apierror.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": tree})
}

func (h *CommentHandler) Create(c *gin.Context) {
	postID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req createCommentRequest
	if !decode(c, &req) {
		return
	}
	node, err := h.comments.Create(c.Request.Context(), postID, middleware.CurrentUserID(c), req.Content, req.ParentID)
	if err != nil {
		apierror.Write(c, err)
		return
	}
	c.JSON(http.StatusCreated, node)
}

func (h *CommentHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.comments.Delete(c.Request.Context(), id, middleware.CurrentUserID(c)); err != nil {
		apierror.Write(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
