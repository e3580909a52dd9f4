package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"quorum/internal/config"
	"quorum/internal/logging"
	"quorum/internal/models"
	"quorum/internal/ratelimit"
	"quorum/internal/storage"
	"quorum/internal/telemetry"
	"quorum/internal/utils"
)

const (
	maxTitleLength   = 200
	maxContentLength = 20000
	maxTags          = 10
	maxTagLength     = 30
)

// murmurDayShift is the fixed offset from UTC at which the MURMUR day starts.
// It is a plain shift, not a time zone: there is no daylight saving handling.
const murmurDayShift = 9 * time.Hour

// murmurDay returns the [from, to) UTC bounds of the MURMUR day containing now.
func murmurDay(now time.Time) (time.Time, time.Time) {
	shifted := now.UTC().Add(murmurDayShift)
	start := time.Date(shifted.Year(), shifted.Month(), shifted.Day(), 0, 0, 0, 0, time.UTC).Add(-murmurDayShift)
	return start, start.Add(24 * time.Hour)
}

// NewPost is the input of PostService.Create.
type NewPost struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
	Draft    bool     `json:"draft"`
}

// PostPatch lists the fields an author may change. Nil fields are left alone.
type PostPatch struct {
	Title    *string            `json:"title"`
	Content  *string            `json:"content"`
	Category *string            `json:"category"`
	Tags     *[]string          `json:"tags"`
	Status   *models.PostStatus `json:"status"`
}

// ModerationPatch lists the fields a moderator may change on a post.
type ModerationPatch struct {
	Status *models.PostStatus `json:"status"`
	Pinned *bool              `json:"pinned"`
	Reason string             `json:"reason"`
}

// PostService drives the post lifecycle.
type PostService struct {
	store    storage.Store
	limiter  ratelimit.Limiter
	view     config.Policy
	notifier *NotificationService
	audit    *AuditService
	now      func() time.Time
	logger   *zap.Logger
}

func NewPostService(store storage.Store, limiter ratelimit.Limiter, view config.Policy, notifier *NotificationService, audit *AuditService) *PostService {
	return &PostService{
		store:    store,
		limiter:  limiter,
		view:     view,
		notifier: notifier,
		audit:    audit,
		now:      time.Now,
		logger:   logging.WithComponent("posts"),
	}
}

func validateTitle(op, title string) (string, error) {
	title = strings.TrimSpace(utils.SanitizeMarkdown(title))
	if n := utf8.RuneCountInString(title); n == 0 || n > maxTitleLength {
		return "", failf(op, ErrInvalidArgument, "title must be 1 to %d characters", maxTitleLength)
	}
	return title, nil
}

func validateContent(op, content string) (string, error) {
	if utf8.RuneCountInString(content) > maxContentLength {
		return "", failf(op, ErrInvalidArgument, "content must be at most %d characters", maxContentLength)
	}
	return utils.SanitizeMarkdown(content), nil
}

func validateTags(op string, tags []string) ([]string, error) {
	if len(tags) > maxTags {
		return nil, failf(op, ErrInvalidArgument, "at most %d tags", maxTags)
	}
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(utils.SanitizeMarkdown(t))
		if t == "" || seen[t] {
			continue
		}
		if utf8.RuneCountInString(t) > maxTagLength {
			return nil, failf(op, ErrInvalidArgument, "tag %q is longer than %d characters", t, maxTagLength)
		}
		seen[t] = true
		out = append(out, t)
	}
	return out, nil
}

// checkMurmurQuota allows one MURMUR post per author per MURMUR day.
func (s *PostService) checkMurmurQuota(ctx context.Context, op string, authorID uint) error {
	from, to := murmurDay(s.now())
	n, err := s.store.Posts().CountByCategory(ctx, authorID, models.CategoryMurmur, from, to)
	if err != nil {
		return storageErr(s.logger, op, err)
	}
	if n > 0 {
		return failf(op, ErrRateLimited, "one %s post per day", models.CategoryMurmur)
	}
	return nil
}

func (s *PostService) Create(ctx context.Context, authorID uint, in NewPost) (*models.Post, error) {
	const op = "services.PostService.Create"

	ctx, span := telemetry.StartSpan(ctx, "PostService.Create")
	defer span.End()

	log := logging.FromContext(ctx, s.logger)

	if authorID == 0 {
		return nil, fail(op, ErrUnauthenticated)
	}
	title, err := validateTitle(op, in.Title)
	if err != nil {
		return nil, err
	}
	content, err := validateContent(op, in.Content)
	if err != nil {
		return nil, err
	}
	tags, err := validateTags(op, in.Tags)
	if err != nil {
		return nil, err
	}
	category := strings.ToUpper(strings.TrimSpace(in.Category))
	if category == models.CategoryMurmur {
		if err := s.checkMurmurQuota(ctx, op, authorID); err != nil {
			return nil, err
		}
	}

	post := &models.Post{
		UserID:    authorID,
		Title:     title,
		Content:   content,
		Category:  category,
		Tags:      tags,
		Status:    models.PostPublished,
		CreatedAt: s.now().UTC(),
	}
	if in.Draft {
		post.Status = models.PostDraft
	}
	if err := s.store.Posts().Create(ctx, post); err != nil {
		return nil, storageErr(log, op, err)
	}
	log.Info("Post created", zap.Uint("post_id", post.ID), zap.Uint("user_id", authorID), zap.String("status", string(post.Status)))
	return post, nil
}

// Get returns a visible post to anyone and a draft or removed post only to its author.
func (s *PostService) Get(ctx context.Context, postID, callerID uint) (*models.Post, error) {
	const op = "services.PostService.Get"

	post, err := s.store.Posts().Get(ctx, postID)
	if err != nil {
		return nil, storageErr(s.logger, op, err)
	}
	if !post.Visible() && (callerID == 0 || callerID != post.UserID) {
		return nil, fail(op, ErrNotFound)
	}
	return post, nil
}

// RecordView counts a view at most once per viewer per window. It reports
// whether the view was counted; a limited view is skipped without error.
func (s *PostService) RecordView(ctx context.Context, postID uint, viewerKey string) (bool, error) {
	const op = "services.PostService.RecordView"

	key := ratelimit.Key(config.ActionView, viewerKey, strconv.FormatUint(uint64(postID), 10))
	if d := s.limiter.Allow(ctx, key, s.view.Limit, s.view.Window); !d.Allowed {
		return false, nil
	}
	if err := s.store.Posts().IncrementViews(ctx, postID); err != nil {
		return false, storageErr(s.logger, op, err)
	}
	return true, nil
}

func isAuthorStatus(st models.PostStatus) bool {
	return st == models.PostDraft || st == models.PostPublished
}

// Patch applies an author's edit. Authors may only move a post between DRAFT and PUBLISHED.
func (s *PostService) Patch(ctx context.Context, postID, actorID uint, patch PostPatch) (*models.Post, error) {
	const op = "services.PostService.Patch"

	log := logging.FromContext(ctx, s.logger)

	if actorID == 0 {
		return nil, fail(op, ErrUnauthenticated)
	}
	post, err := s.store.Posts().Get(ctx, postID)
	if err != nil {
		return nil, storageErr(log, op, err)
	}
	if post.Status == models.PostRemoved {
		return nil, fail(op, ErrNotFound)
	}
	if post.UserID != actorID {
		return nil, fail(op, ErrForbidden)
	}

	if patch.Title != nil {
		if post.Title, err = validateTitle(op, *patch.Title); err != nil {
			return nil, err
		}
	}
	if patch.Content != nil {
		if post.Content, err = validateContent(op, *patch.Content); err != nil {
			return nil, err
		}
	}
	if patch.Tags != nil {
		if post.Tags, err = validateTags(op, *patch.Tags); err != nil {
			return nil, err
		}
	}
	if patch.Category != nil {
		category := strings.ToUpper(strings.TrimSpace(*patch.Category))
		if category == models.CategoryMurmur && post.Category != models.CategoryMurmur {
			if err := s.checkMurmurQuota(ctx, op, actorID); err != nil {
				return nil, err
			}
		}
		post.Category = category
	}
	if patch.Status != nil && *patch.Status != post.Status {
		if !isAuthorStatus(*patch.Status) || !isAuthorStatus(post.Status) {
			return nil, failf(op, ErrInvalidArgument, "cannot change status from %s to %s", post.Status, *patch.Status)
		}
		post.Status = *patch.Status
	}

	if err := s.store.Posts().Save(ctx, post); err != nil {
		return nil, storageErr(log, op, err)
	}
	return post, nil
}

// Delete soft-deletes the author's own post.
func (s *PostService) Delete(ctx context.Context, postID, actorID uint) error {
	const op = "services.PostService.Delete"

	if actorID == 0 {
		return fail(op, ErrUnauthenticated)
	}
	post, err := s.store.Posts().Get(ctx, postID)
	if err != nil {
		return storageErr(s.logger, op, err)
	}
	if post.Status == models.PostRemoved {
		return fail(op, ErrNotFound)
	}
	if post.UserID != actorID {
		return fail(op, ErrForbidden)
	}
	post.Status = models.PostRemoved
	if err := s.store.Posts().Save(ctx, post); err != nil {
		return storageErr(s.logger, op, err)
	}
	return nil
}

// Moderate lets a moderator flag, remove, restore or pin a post.
func (s *PostService) Moderate(ctx context.Context, postID, moderatorID uint, patch ModerationPatch) (*models.Post, error) {
	const op = "services.PostService.Moderate"

	ctx, span := telemetry.StartSpan(ctx, "PostService.Moderate")
	defer span.End()

	log := logging.FromContext(ctx, s.logger)

	if _, err := requireRole(ctx, s.store, log, op, moderatorID, (*models.User).IsModerator); err != nil {
		return nil, err
	}
	if patch.Status == nil && patch.Pinned == nil {
		return nil, failf(op, ErrInvalidArgument, "nothing to change")
	}
	if patch.Status != nil {
		switch *patch.Status {
		case models.PostPublished, models.PostFlagged, models.PostRemoved:
		default:
			return nil, failf(op, ErrInvalidArgument, "moderators cannot set status %s", *patch.Status)
		}
	}

	post, err := s.store.Posts().Get(ctx, postID)
	if err != nil {
		return nil, storageErr(log, op, err)
	}

	var changes []string
	statusChanged := false
	if patch.Status != nil && *patch.Status != post.Status {
		changes = append(changes, fmt.Sprintf("status: %s -> %s", post.Status, *patch.Status))
		post.Status = *patch.Status
		statusChanged = true
	}
	if patch.Pinned != nil && *patch.Pinned != post.Pinned {
		changes = append(changes, fmt.Sprintf("pinned: %t -> %t", post.Pinned, *patch.Pinned))
		post.Pinned = *patch.Pinned
	}
	if len(changes) == 0 {
		return post, nil
	}

	if err := s.store.Posts().Save(ctx, post); err != nil {
		return nil, storageErr(log, op, err)
	}

	details := strings.Join(changes, "; ")
	if patch.Reason != "" {
		details += "; reason: " + patch.Reason
	}
	s.audit.Record(ctx, AuditRecord{
		ActorID:    moderatorID,
		Action:     models.AuditPostModeration,
		TargetID:   post.ID,
		TargetType: "post",
		Details:    details,
	})

	if statusChanged {
		msg := fmt.Sprintf("Your post \"%s\" is now %s", post.Title, strings.ToLower(string(post.Status)))
		if patch.Reason != "" {
			msg += ": " + patch.Reason
		}
		s.notifier.Notify(ctx, Notice{
			ActorID:     moderatorID,
			RecipientID: post.UserID,
			Type:        models.NotificationModeration,
			Message:     msg,
			Link:        fmt.Sprintf("/posts/%d", post.ID),
			PostID:      post.ID,
		})
	}
	return post, nil
}

// requireRole loads the actor and checks allowed against it.
func requireRole(ctx context.Context, store storage.Store, log *zap.Logger, op string, actorID uint, allowed func(*models.User) bool) (*models.User, error) {
	if actorID == 0 {
		return nil, fail(op, ErrUnauthenticated)
	}
	actor, err := store.Users().Get(ctx, actorID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fail(op, ErrUnauthenticated)
		}
		return nil, storageErr(log, op, err)
	}
	if actor.Banned || !allowed(actor) {
		return nil, fail(op, ErrForbidden)
	}
	return actor, nil
}
