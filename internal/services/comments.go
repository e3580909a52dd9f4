package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"quorum/internal/logging"
	"quorum/internal/models"
	"quorum/internal/storage"
	"quorum/internal/telemetry"
	"quorum/internal/utils"
)

// CommentNode is a comment enriched with its score, the caller's vote and its replies.
type CommentNode struct {
	ID          uint           `json:"id"`
	PostID      uint           `json:"postId"`
	ParentID    *uint          `json:"parentId"`
	AuthorID    uint           `json:"authorId"`
	AuthorName  string         `json:"authorName"`
	Content     string         `json:"content"`
	ContentHTML string         `json:"contentHtml"`
	Removed     bool           `json:"removed"`
	CreatedAt   time.Time      `json:"createdAt"`
	VoteScore   int            `json:"voteScore"`
	UserVote    *int           `json:"userVote"`
	Replies     []*CommentNode `json:"replies"`
}

func newCommentNode(c *models.Comment) *CommentNode {
	return &CommentNode{
		ID:          c.ID,
		PostID:      c.PostID,
		ParentID:    c.ParentID,
		AuthorID:    c.UserID,
		AuthorName:  c.User.Username,
		Content:     c.Content,
		ContentHTML: utils.RenderMarkdown(c.Content),
		Removed:     c.Removed,
		CreatedAt:   c.CreatedAt,
		Replies:     []*CommentNode{},
	}
}

// CommentService builds and mutates the nested comment tree of a post.
type CommentService struct {
	store     storage.Store
	notifier  *NotificationService
	maxDepth  int
	maxLength int
	logger    *zap.Logger
}

func NewCommentService(store storage.Store, notifier *NotificationService, maxDepth, maxLength int) *CommentService {
	return &CommentService{
		store:     store,
		notifier:  notifier,
		maxDepth:  maxDepth,
		maxLength: maxLength,
		logger:    logging.WithComponent("comments"),
	}
}

// List returns the comment tree of a post in creation order. Nesting stops at
// maxDepth: deeper replies join the replies of their ancestor at maxDepth.
// callerID 0 means anonymous; UserVote is then nil everywhere.
func (s *CommentService) List(ctx context.Context, postID, callerID uint) ([]*CommentNode, error) {
	const op = "services.CommentService.List"

	ctx, span := telemetry.StartSpan(ctx, "CommentService.List")
	defer span.End()

	log := logging.FromContext(ctx, s.logger)

	if err := requireVisiblePost(ctx, s.store, log, op, postID); err != nil {
		return nil, err
	}

	comments, err := s.store.Comments().ListByPost(ctx, postID)
	if err != nil {
		return nil, storageErr(log, op, err)
	}

	roots, nodes := buildTree(comments, s.maxDepth)
	if len(nodes) == 0 {
		return roots, nil
	}

	ids := make([]uint, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	scores, err := s.store.Votes().Scores(ctx, models.TargetComment, ids)
	if err != nil {
		return nil, storageErr(log, op, err)
	}
	var mine map[uint]int
	if callerID != 0 {
		mine, err = s.store.Votes().UserVotes(ctx, callerID, models.TargetComment, ids)
		if err != nil {
			return nil, storageErr(log, op, err)
		}
	}

	walk(roots, func(n *CommentNode) {
		n.VoteScore = scores[n.ID]
		if v, ok := mine[n.ID]; ok {
			n.UserVote = &v
		}
	})
	return roots, nil
}

// buildTree assembles comments (ordered by creation) into a forest. A comment
// whose parent is not in the set becomes a root.
func buildTree(comments []*models.Comment, maxDepth int) ([]*CommentNode, map[uint]*CommentNode) {
	nodes := make(map[uint]*CommentNode, len(comments))
	parents := make(map[uint]*uint, len(comments))
	for _, c := range comments {
		nodes[c.ID] = newCommentNode(c)
		parents[c.ID] = c.ParentID
	}

	// parent edges always point at an older comment, so they never form a cycle
	depths := make(map[uint]int, len(comments))
	var depthOf func(id uint) int
	depthOf = func(id uint) int {
		if d, ok := depths[id]; ok {
			return d
		}
		d := 1
		if p := parents[id]; p != nil {
			if _, ok := nodes[*p]; ok {
				d = depthOf(*p) + 1
			}
		}
		depths[id] = d
		return d
	}

	roots := []*CommentNode{}
	for _, c := range comments {
		n := nodes[c.ID]
		if depthOf(c.ID) == 1 {
			roots = append(roots, n)
			continue
		}
		anchor := *parents[c.ID]
		for depthOf(anchor) > maxDepth {
			anchor = *parents[anchor]
		}
		nodes[anchor].Replies = append(nodes[anchor].Replies, n)
	}
	return roots, nodes
}

func walk(nodes []*CommentNode, fn func(*CommentNode)) {
	for _, n := range nodes {
		fn(n)
		walk(n.Replies, fn)
	}
}

// Create stores a sanitized comment and notifies the post author (top level)
// or the parent comment's author (reply).
func (s *CommentService) Create(ctx context.Context, postID, authorID uint, content string, parentID *uint) (*CommentNode, error) {
	const op = "services.CommentService.Create"

	ctx, span := telemetry.StartSpan(ctx, "CommentService.Create")
	defer span.End()

	log := logging.FromContext(ctx, s.logger)

	if authorID == 0 {
		return nil, fail(op, ErrUnauthenticated)
	}
	content = strings.TrimSpace(content)
	if n := utf8.RuneCountInString(content); n == 0 || n > s.maxLength {
		return nil, failf(op, ErrInvalidArgument, "content must be 1 to %d characters", s.maxLength)
	}

	post, err := s.store.Posts().Get(ctx, postID)
	if err != nil {
		return nil, storageErr(log, op, err)
	}
	if !post.Visible() {
		return nil, fail(op, ErrNotFound)
	}

	var parent *models.Comment
	if parentID != nil {
		parent, err = s.store.Comments().Get(ctx, *parentID)
		if err != nil {
			return nil, storageErr(log, op, err)
		}
		if parent.PostID != postID {
			return nil, failf(op, ErrNotFound, "parent comment belongs to another post")
		}
	}

	clean := utils.SanitizeMarkdown(content)
	if clean == "" {
		return nil, failf(op, ErrInvalidArgument, "content is empty after sanitizing")
	}

	comment := &models.Comment{
		PostID:   postID,
		UserID:   authorID,
		ParentID: parentID,
		Content:  clean,
	}
	if err := s.store.Comments().Create(ctx, comment); err != nil {
		return nil, storageErr(log, op, err)
	}
	if author, err := s.store.Users().Get(ctx, authorID); err == nil {
		comment.User = *author
	}

	link := fmt.Sprintf("/posts/%d#comment-%d", postID, comment.ID)
	if parent == nil {
		s.notifier.Notify(ctx, Notice{
			ActorID:     authorID,
			RecipientID: post.UserID,
			Type:        models.NotificationComment,
			Message:     fmt.Sprintf("New comment on \"%s\": %s", post.Title, clean),
			Link:        link,
			PostID:      postID,
		})
	} else {
		s.notifier.Notify(ctx, Notice{
			ActorID:     authorID,
			RecipientID: parent.UserID,
			Type:        models.NotificationReply,
			Message:     fmt.Sprintf("New reply to your comment on \"%s\": %s", post.Title, clean),
			Link:        link,
			PostID:      postID,
		})
	}

	return newCommentNode(comment), nil
}

// Delete hard-deletes the requester's own comment together with its votes.
// Its direct replies move up to its parent, or to the top level.
func (s *CommentService) Delete(ctx context.Context, commentID, requesterID uint) error {
	const op = "services.CommentService.Delete"

	ctx, span := telemetry.StartSpan(ctx, "CommentService.Delete")
	defer span.End()

	log := logging.FromContext(ctx, s.logger)

	if requesterID == 0 {
		return fail(op, ErrUnauthenticated)
	}
	comment, err := s.store.Comments().Get(ctx, commentID)
	if err != nil {
		return storageErr(log, op, err)
	}
	if comment.UserID != requesterID {
		return fail(op, ErrForbidden)
	}

	err = s.store.WithTx(ctx, func(tx storage.Store) error {
		if err := tx.Comments().Reparent(ctx, comment.ID, comment.ParentID); err != nil {
			return err
		}
		if err := tx.Votes().DeleteForTarget(ctx, models.TargetComment, comment.ID); err != nil {
			return err
		}
		return tx.Comments().Delete(ctx, comment.ID)
	})
	if err != nil {
		return storageErr(log, op, err)
	}
	log.Info("Comment deleted", zap.Uint("comment_id", commentID), zap.Uint("post_id", comment.PostID))
	return nil
}
