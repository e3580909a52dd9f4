package services

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"quorum/internal/logging"
	"quorum/internal/models"
	"quorum/internal/storage"
	"quorum/internal/telemetry"
)

const (
	VoteCreated = "created"
	VoteUpdated = "updated"
	VoteRemoved = "removed"
)

// VoteResult is the state of a target after a vote.
type VoteResult struct {
	Action   string `json:"action"`
	Score    int    `json:"voteScore"`
	UserVote *int   `json:"userVote"`
}

// ScoreView is the aggregate score of a target and the caller's own vote.
type ScoreView struct {
	Score    int  `json:"voteScore"`
	UserVote *int `json:"userVote"`
}

// VoteService keeps at most one up/down vote per (actor, target).
type VoteService struct {
	store    storage.Store
	notifier *NotificationService
	metrics  *telemetry.Metrics
	logger   *zap.Logger
}

func NewVoteService(store storage.Store, notifier *NotificationService, metrics *telemetry.Metrics) *VoteService {
	return &VoteService{store: store, notifier: notifier, metrics: metrics, logger: logging.WithComponent("votes")}
}

// Vote applies value to the actor's vote on the target: the first vote creates
// it, the same value again removes it, the opposite value flips it in place.
func (s *VoteService) Vote(ctx context.Context, actorID, targetID uint, kind models.TargetKind, value int) (*VoteResult, error) {
	const op = "services.VoteService.Vote"

	ctx, span := telemetry.StartSpan(ctx, "VoteService.Vote")
	defer span.End()
	span.SetAttributes(attribute.String("target_kind", string(kind)), attribute.Int("target_id", int(targetID)))

	log := logging.FromContext(ctx, s.logger)

	if actorID == 0 {
		return nil, fail(op, ErrUnauthenticated)
	}
	if value != 1 && value != -1 {
		return nil, failf(op, ErrInvalidArgument, "value must be 1 or -1")
	}
	if !kind.Valid() {
		return nil, failf(op, ErrInvalidArgument, "unknown target kind %q", kind)
	}

	post, err := s.loadTarget(ctx, kind, targetID)
	if err != nil {
		return nil, err
	}

	result, err := s.apply(ctx, actorID, targetID, kind, value)
	if errors.Is(err, storage.ErrConflict) {
		// a concurrent request from the same actor created the row first
		log.Debug("Vote identity conflict, retrying", zap.Uint("target_id", targetID))
		result, err = s.apply(ctx, actorID, targetID, kind, value)
	}
	if err != nil {
		return nil, storageErr(log, op, err)
	}

	s.metrics.VoteApplied(ctx, string(kind), result.Action)

	if result.Action == VoteCreated && value == 1 && post != nil {
		s.notifier.Notify(ctx, Notice{
			ActorID:     actorID,
			RecipientID: post.UserID,
			Type:        models.NotificationVote,
			Message:     fmt.Sprintf("Your post \"%s\" received an upvote", post.Title),
			Link:        fmt.Sprintf("/posts/%d", post.ID),
			PostID:      post.ID,
		})
	}

	return result, nil
}

// loadTarget checks the target exists and, for posts, is visible. It returns
// the post for POST targets and nil for comments.
func (s *VoteService) loadTarget(ctx context.Context, kind models.TargetKind, targetID uint) (*models.Post, error) {
	const op = "services.VoteService.loadTarget"

	if kind == models.TargetPost {
		post, err := s.store.Posts().Get(ctx, targetID)
		if err != nil {
			return nil, storageErr(s.logger, op, err)
		}
		if !post.Visible() {
			return nil, fail(op, ErrNotFound)
		}
		return post, nil
	}

	comment, err := s.store.Comments().Get(ctx, targetID)
	if err != nil {
		return nil, storageErr(s.logger, op, err)
	}
	if comment.Removed {
		return nil, fail(op, ErrNotFound)
	}
	return nil, nil
}

func (s *VoteService) apply(ctx context.Context, actorID, targetID uint, kind models.TargetKind, value int) (*VoteResult, error) {
	result := &VoteResult{}
	err := s.store.WithTx(ctx, func(tx storage.Store) error {
		existing, err := tx.Votes().FindForUpdate(ctx, actorID, kind, targetID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			vote := &models.Vote{
				UserID:     actorID,
				TargetKind: kind,
				TargetID:   targetID,
				Value:      value,
				Label:      models.LabelFor(value),
			}
			if err := tx.Votes().Create(ctx, vote); err != nil {
				return err
			}
			result.Action = VoteCreated
			result.UserVote = &value
		case err != nil:
			return err
		case existing.Value == value:
			if err := tx.Votes().Delete(ctx, existing.ID); err != nil {
				return err
			}
			result.Action = VoteRemoved
		default:
			if err := tx.Votes().UpdateValue(ctx, existing.ID, value); err != nil {
				return err
			}
			result.Action = VoteUpdated
			result.UserVote = &value
		}

		score, err := tx.Votes().Score(ctx, kind, targetID)
		if err != nil {
			return err
		}
		result.Score = score
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Score returns the target's aggregate score and callerID's vote (0 = anonymous).
func (s *VoteService) Score(ctx context.Context, kind models.TargetKind, targetID, callerID uint) (*ScoreView, error) {
	const op = "services.VoteService.Score"

	if !kind.Valid() {
		return nil, failf(op, ErrInvalidArgument, "unknown target kind %q", kind)
	}
	if _, err := s.loadTarget(ctx, kind, targetID); err != nil {
		return nil, err
	}

	score, err := s.store.Votes().Score(ctx, kind, targetID)
	if err != nil {
		return nil, storageErr(s.logger, op, err)
	}
	view := &ScoreView{Score: score}
	if callerID != 0 {
		mine, err := s.store.Votes().UserVotes(ctx, callerID, kind, []uint{targetID})
		if err != nil {
			return nil, storageErr(s.logger, op, err)
		}
		if v, ok := mine[targetID]; ok {
			view.UserVote = &v
		}
	}
	return view, nil
}
