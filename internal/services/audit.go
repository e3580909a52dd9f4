package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"quorum/internal/logging"
	"quorum/internal/models"
	"quorum/internal/storage"
)

// AuditRecord describes one privileged mutation.
type AuditRecord struct {
	ActorID    uint
	Action     models.AuditAction
	TargetID   uint
	TargetType string
	Details    string
}

// AuditService appends audit entries in the background. A failed write never
// affects the action it documents.
type AuditService struct {
	store      storage.Store
	dispatcher *Dispatcher
	logger     *zap.Logger
}

func NewAuditService(store storage.Store, dispatcher *Dispatcher) *AuditService {
	return &AuditService{store: store, dispatcher: dispatcher, logger: logging.WithComponent("audit")}
}

func (s *AuditService) Record(ctx context.Context, r AuditRecord) {
	if !r.Action.Valid() {
		logging.FromContext(ctx, s.logger).Error("Dropping audit entry with unknown action",
			zap.String("action", string(r.Action)), zap.Uint("actor_id", r.ActorID))
		return
	}

	entry := &models.AuditEntry{
		ActorID: r.ActorID,
		Action:  r.Action,
		Details: r.Details,
	}
	if r.TargetID != 0 {
		id := r.TargetID
		entry.TargetID = &id
	}
	if r.TargetType != "" {
		tt := r.TargetType
		entry.TargetType = &tt
	}

	s.dispatcher.Submit(ctx, "audit:"+string(r.Action), func(ctx context.Context) error {
		if err := s.store.Audit().Create(ctx, entry); err != nil {
			return fmt.Errorf("record %s by %d: %w", r.Action, r.ActorID, err)
		}
		return nil
	})
}

// List returns audit entries newest first.
func (s *AuditService) List(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error) {
	const op = "services.AuditService.List"

	if filter.Action != "" && !filter.Action.Valid() {
		return nil, failf(op, ErrInvalidArgument, "unknown action %q", filter.Action)
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 100
	}
	entries, err := s.store.Audit().List(ctx, filter)
	if err != nil {
		return nil, storageErr(s.logger, op, err)
	}
	return entries, nil
}
