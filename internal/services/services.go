package services

import (
	"context"
	"time"

	"quorum/internal/config"
	"quorum/internal/ratelimit"
	"quorum/internal/storage"
	"quorum/internal/telemetry"
)

// Services wires the engagement core together.
type Services struct {
	Dispatcher    *Dispatcher
	Notifications *NotificationService
	Audit         *AuditService
	Votes         *VoteService
	Reactions     *ReactionService
	Comments      *CommentService
	Posts         *PostService
	Moderation    *ModerationService
}

func New(store storage.Store, limiter ratelimit.Limiter, cfg *config.Config, metrics *telemetry.Metrics) *Services {
	dispatcher := NewDispatcher(cfg.Notifications, metrics)
	notifications := NewNotificationService(store, dispatcher, cfg.Notifications.BatchSize, metrics)
	audit := NewAuditService(store, dispatcher)

	view, ok := cfg.RateLimit.Policy(config.ActionView)
	if !ok {
		view = config.Policy{Limit: 1, Window: 300 * time.Second}
	}

	return &Services{
		Dispatcher:    dispatcher,
		Notifications: notifications,
		Audit:         audit,
		Votes:         NewVoteService(store, notifications, metrics),
		Reactions:     NewReactionService(store, metrics),
		Comments:      NewCommentService(store, notifications, cfg.Comments.MaxDepth, cfg.Comments.MaxLength),
		Posts:         NewPostService(store, limiter, view, notifications, audit),
		Moderation:    NewModerationService(store, notifications, audit),
	}
}

// Start launches the background workers.
func (s *Services) Start() {
	s.Dispatcher.Start()
}

// Shutdown drains pending notifications and audit entries.
func (s *Services) Shutdown(ctx context.Context) error {
	return s.Dispatcher.Shutdown(ctx)
}
