package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"quorum/internal/apierror"
	"quorum/internal/logging"
	"quorum/internal/middleware"
	"quorum/internal/models"
	"quorum/internal/services"
	"quorum/internal/utils"
)

type PostHandler struct {
	posts     *services.PostService
	votes     *services.VoteService
	reactions *services.ReactionService
	logger    *zap.Logger
}

func NewPostHandler(posts *services.PostService, votes *services.VoteService, reactions *services.ReactionService) *PostHandler {
	return &PostHandler{posts: posts, votes: votes, reactions: reactions, logger: logging.WithComponent("handlers")}
}

type postView struct {
	ID          uint                        `json:"id"`
	AuthorID    uint                        `json:"authorId"`
	Title       string                      `json:"title"`
	Content     string                      `json:"content"`
	ContentHTML string                      `json:"contentHtml"`
	Category    string                      `json:"category"`
	Status      models.PostStatus           `json:"status"`
	Tags        []string                    `json:"tags"`
	Pinned      bool                        `json:"pinned"`
	ViewCount   int                         `json:"viewCount"`
	VoteScore   int                         `json:"voteScore"`
	UserVote    *int                        `json:"userVote"`
	Reactions   map[models.ReactionKind]int `json:"reactions,omitempty"`
	CreatedAt   time.Time                   `json:"createdAt"`
	UpdatedAt   time.Time                   `json:"updatedAt"`
}

func newPostView(p *models.Post) *postView {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	return &postView{
		ID:          p.ID,
		AuthorID:    p.UserID,
		Title:       p.Title,
		Content:     p.Content,
		ContentHTML: utils.RenderMarkdown(p.Content),
		Category:    p.Category,
		Status:      p.Status,
		Tags:        tags,
		Pinned:      p.Pinned,
		ViewCount:   p.ViewCount,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func (h *PostHandler) Create(c *gin.Context) {
	var in services.NewPost
	if !decode(c, &in) {
		return
	}
	post, err := h.posts.Create(c.Request.Context(), middleware.CurrentUserID(c), in)
	if err != nil {
		apierror.Write(c, err)
		return
	}
	c.JSON(http.StatusCreated, newPostView(post))
}

// Get returns a post with its score and reactions and records a view.
func (h *PostHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	callerID := middleware.CurrentUserID(c)

	post, err := h.posts.Get(ctx, id, callerID)
	if err != nil {
		apierror.Write(c, err)
		return
	}
	view := newPostView(post)
	if !post.Visible() {
		// the author previewing a draft
		c.JSON(http.StatusOK, view)
		return
	}

	counted, err := h.posts.RecordView(ctx, id, viewerKey(c))
	if err != nil {
		logging.FromContext(ctx, h.logger).Warn("Failed to record view", zap.Uint("post_id", id), zap.Error(err))
	} else if counted {
		view.ViewCount++
	}

	score, err := h.votes.Score(ctx, models.TargetPost, id, callerID)
	if err != nil {
		apierror.Write(c, err)
		return
	}
	view.VoteScore, view.UserVote = score.Score, score.UserVote

	reactions, err := h.reactions.Summary(ctx, id, callerID)
	if err != nil {
		apierror.Write(c, err)
		return
	}
	view.Reactions = reactions.Counts

	c.JSON(http.StatusOK, view)
}

func (h *PostHandler) Patch(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var patch services.PostPatch
	if !decodeStrict(c, &patch) {
		return
	}
	post, err := h.posts.Patch(c.Request.Context(), id, middleware.CurrentUserID(c), patch)
	if err != nil {
		apierror.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, newPostView(post))
}

func (h *PostHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.posts.Delete(c.Request.Context(), id, middleware.CurrentUserID(c)); err != nil {
		apierror.Write(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
