package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"quorum/internal/logging"
	"quorum/internal/models"
	"quorum/internal/storage"
	"quorum/internal/telemetry"
)

// ReactionResult carries counts for every kind and the caller's held kinds.
type ReactionResult struct {
	Counts    map[models.ReactionKind]int `json:"reactions"`
	UserKinds []models.ReactionKind       `json:"userReactions"`
}

// ReactionService toggles per-kind reactions. Unlike votes, kinds are
// independent: an actor may hold all three on one post.
type ReactionService struct {
	store   storage.Store
	metrics *telemetry.Metrics
	logger  *zap.Logger
}

func NewReactionService(store storage.Store, metrics *telemetry.Metrics) *ReactionService {
	return &ReactionService{store: store, metrics: metrics, logger: logging.WithComponent("reactions")}
}

func (s *ReactionService) React(ctx context.Context, actorID, postID uint, kind models.ReactionKind) (*ReactionResult, error) {
	const op = "services.ReactionService.React"

	ctx, span := telemetry.StartSpan(ctx, "ReactionService.React")
	defer span.End()

	log := logging.FromContext(ctx, s.logger)

	if actorID == 0 {
		return nil, fail(op, ErrUnauthenticated)
	}
	if !kind.Valid() {
		return nil, failf(op, ErrInvalidArgument, "unknown reaction kind %q", kind)
	}
	if err := requireVisiblePost(ctx, s.store, log, op, postID); err != nil {
		return nil, err
	}

	err := s.toggle(ctx, actorID, postID, kind)
	if errors.Is(err, storage.ErrConflict) {
		// a concurrent toggle by the same actor created the row first
		err = s.toggle(ctx, actorID, postID, kind)
	}
	if err != nil {
		return nil, storageErr(log, op, err)
	}
	s.metrics.ReactionToggled(ctx, string(kind))

	return s.summary(ctx, op, postID, actorID)
}

func (s *ReactionService) toggle(ctx context.Context, actorID, postID uint, kind models.ReactionKind) error {
	return s.store.WithTx(ctx, func(tx storage.Store) error {
		existing, err := tx.Reactions().Find(ctx, actorID, postID, kind)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return tx.Reactions().Create(ctx, &models.Reaction{UserID: actorID, PostID: postID, Kind: kind})
		case err != nil:
			return err
		default:
			return tx.Reactions().Delete(ctx, existing.ID)
		}
	})
}

// Summary returns the reaction counts of a post and the caller's kinds (0 = anonymous).
func (s *ReactionService) Summary(ctx context.Context, postID, callerID uint) (*ReactionResult, error) {
	const op = "services.ReactionService.Summary"

	if err := requireVisiblePost(ctx, s.store, s.logger, op, postID); err != nil {
		return nil, err
	}
	return s.summary(ctx, op, postID, callerID)
}

func (s *ReactionService) summary(ctx context.Context, op string, postID, callerID uint) (*ReactionResult, error) {
	counts, err := s.store.Reactions().Counts(ctx, postID)
	if err != nil {
		return nil, storageErr(s.logger, op, err)
	}

	result := &ReactionResult{
		Counts:    make(map[models.ReactionKind]int, len(models.ReactionKinds)),
		UserKinds: []models.ReactionKind{},
	}
	for _, k := range models.ReactionKinds {
		result.Counts[k] = counts[k]
	}

	if callerID == 0 {
		return result, nil
	}
	held, err := s.store.Reactions().UserKinds(ctx, callerID, postID)
	if err != nil {
		return nil, storageErr(s.logger, op, err)
	}
	set := make(map[models.ReactionKind]bool, len(held))
	for _, k := range held {
		set[k] = true
	}
	for _, k := range models.ReactionKinds {
		if set[k] {
			result.UserKinds = append(result.UserKinds, k)
		}
	}
	return result, nil
}

// requireVisiblePost returns ErrNotFound unless the post exists and is visible.
func requireVisiblePost(ctx context.Context, store storage.Store, log *zap.Logger, op string, postID uint) error {
	post, err := store.Posts().Get(ctx, postID)
	if err != nil {
		return storageErr(log, op, err)
	}
	if !post.Visible() {
		return fail(op, ErrNotFound)
	}
	return nil
}
