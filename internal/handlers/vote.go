package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"quorum/internal/apierror"
	"quorum/internal/middleware"
	"quorum/internal/models"
	"quorum/internal/services"
)

type VoteHandler struct {
	votes     *services.VoteService
	reactions *services.ReactionService
}

func NewVoteHandler(votes *services.VoteService, reactions *services.ReactionService) *VoteHandler {
	return &VoteHandler{votes: votes, reactions: reactions}
}

type voteRequest struct {
	Value *int `json:"value"`
}

type reactRequest struct {
	Kind models.ReactionKind `json:"kind"`
}

func targetKind(c *gin.Context) (models.TargetKind, bool) {
	kind := models.TargetKind(strings.ToUpper(c.Param("kind")))
	if !kind.Valid() {
		apierror.BadRequest(c, "kind must be post or comment")
		return "", false
	}
	return kind, true
}

// Vote toggles the caller's vote: POST /api/vote/:kind/:id {"value": 1|-1}
func (h *VoteHandler) Vote(c *gin.Context) {
	kind, ok := targetKind(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req voteRequest
	if !decode(c, &req) {
		return
	}
	if req.Value == nil {
		apierror.BadRequest(c, "value is required")
		return
	}

	res, err := h.votes.Vote(c.Request.Context(), middleware.CurrentUserID(c), id, kind, *req.Value)
	if err != nil {
		apierror.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Score returns the target's score and the caller's vote.
func (h *VoteHandler) Score(c *gin.Context) {
	kind, ok := targetKind(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	view, err := h.votes.Score(c.Request.Context(), kind, id, middleware.CurrentUserID(c))
	if err != nil {
		apierror.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// React toggles one reaction kind: POST /api/posts/:id/reactions {"kind": "..."}
func (h *VoteHandler) React(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req reactRequest
	if !decode(c, &req) {
		return
	}
	res, err := h.reactions.React(c.Request.Context(), middleware.CurrentUserID(c), id, models.ReactionKind(strings.ToUpper(string(req.Kind))))
	if err != nil {
		apierror.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *VoteHandler) Reactions(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res, err := h.reactions.Summary(c.Request.Context(), id, middleware.CurrentUserID(c))
	if err != nil {
		apierror.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
