package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"quorum/internal/logging"
	"quorum/internal/models"
	"quorum/internal/storage"
	"quorum/internal/telemetry"
	"quorum/internal/utils"
)

// Notice describes a single-recipient notification.
type Notice struct {
	// ActorID is the user whose action triggered the notice; 0 for the system.
	// A notice addressed to its own actor is never delivered.
	ActorID     uint
	RecipientID uint
	Type        models.NotificationType
	Message     string
	Link        string
	PostID      uint
}

// NotificationService delivers notifications in the background. Delivery is
// best effort: failures are logged and counted, never returned.
type NotificationService struct {
	store      storage.Store
	dispatcher *Dispatcher
	batchSize  int
	metrics    *telemetry.Metrics
	logger     *zap.Logger
}

func NewNotificationService(store storage.Store, dispatcher *Dispatcher, batchSize int, metrics *telemetry.Metrics) *NotificationService {
	return &NotificationService{
		store:      store,
		dispatcher: dispatcher,
		batchSize:  batchSize,
		metrics:    metrics,
		logger:     logging.WithComponent("notifications"),
	}
}

func newNotification(recipient uint, typ models.NotificationType, message, link string, postID uint) *models.Notification {
	n := &models.Notification{
		UserID:  recipient,
		Type:    typ,
		Message: utils.Truncate(message, models.MaxNotificationMessage),
	}
	if link != "" {
		n.Link = &link
	}
	if postID != 0 {
		n.PostID = &postID
	}
	return n
}

// Notify queues one notification and returns immediately.
func (s *NotificationService) Notify(ctx context.Context, n Notice) {
	if n.RecipientID == 0 || n.RecipientID == n.ActorID {
		return
	}
	row := newNotification(n.RecipientID, n.Type, n.Message, n.Link, n.PostID)
	s.dispatcher.Submit(ctx, "notify:"+string(n.Type), func(ctx context.Context) error {
		if err := s.store.Notifications().CreateBatch(ctx, []*models.Notification{row}); err != nil {
			s.metrics.NotificationsFailed(ctx, 1)
			return fmt.Errorf("notify user %d: %w", n.RecipientID, err)
		}
		s.metrics.NotificationsDelivered(ctx, 1)
		return nil
	})
}

// BroadcastAll queues a notification for every user and returns immediately.
func (s *NotificationService) BroadcastAll(ctx context.Context, message, link string, typ models.NotificationType) {
	s.dispatcher.Submit(ctx, "broadcast:"+string(typ), func(ctx context.Context) error {
		return s.broadcast(ctx, message, link, typ)
	})
}

// broadcast pages users by id and writes one bulk insert per page. It stops at
// the first short page, so memory and transaction size stay bounded by batchSize.
func (s *NotificationService) broadcast(ctx context.Context, message, link string, typ models.NotificationType) error {
	ctx, span := telemetry.StartSpan(ctx, "NotificationService.broadcast")
	defer span.End()

	log := logging.FromContext(ctx, s.logger)
	var after uint
	delivered := 0
	for {
		ids, err := s.store.Users().ListIDsAfter(ctx, after, s.batchSize)
		if err != nil {
			return fmt.Errorf("list users after %d: %w", after, err)
		}
		if len(ids) == 0 {
			break
		}

		batch := make([]*models.Notification, 0, len(ids))
		for _, id := range ids {
			batch = append(batch, newNotification(id, typ, message, link, 0))
		}
		if err := s.store.Notifications().CreateBatch(ctx, batch); err != nil {
			s.metrics.NotificationsFailed(ctx, len(batch))
			return fmt.Errorf("insert batch after %d: %w", after, err)
		}
		s.metrics.NotificationsDelivered(ctx, len(batch))
		delivered += len(batch)

		if len(ids) < s.batchSize {
			break
		}
		after = ids[len(ids)-1]
	}

	log.Info("Broadcast delivered", zap.String("type", string(typ)), zap.Int("recipients", delivered))
	return nil
}

// List returns the newest notifications of userID.
func (s *NotificationService) List(ctx context.Context, userID uint, limit int) ([]*models.Notification, error) {
	const op = "services.NotificationService.List"

	if limit <= 0 || limit > 100 {
		limit = 50
	}
	items, err := s.store.Notifications().ListForUser(ctx, userID, limit)
	if err != nil {
		return nil, storageErr(s.logger, op, err)
	}
	return items, nil
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	const op = "services.NotificationService.UnreadCount"

	n, err := s.store.Notifications().UnreadCount(ctx, userID)
	if err != nil {
		return 0, storageErr(s.logger, op, err)
	}
	return n, nil
}

// MarkRead marks the given ids read. Ids owned by other users are ignored.
func (s *NotificationService) MarkRead(ctx context.Context, userID uint, ids []uint) (int64, error) {
	const op = "services.NotificationService.MarkRead"

	if len(ids) == 0 {
		return 0, failf(op, ErrInvalidArgument, "ids must not be empty")
	}
	n, err := s.store.Notifications().MarkRead(ctx, userID, ids)
	if err != nil {
		return 0, storageErr(s.logger, op, err)
	}
	return n, nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	const op = "services.NotificationService.MarkAllRead"

	n, err := s.store.Notifications().MarkAllRead(ctx, userID)
	if err != nil {
		return 0, storageErr(s.logger, op, err)
	}
	return n, nil
}
