package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"quorum/internal/logging"
	"quorum/internal/models"
	"quorum/internal/storage"
	"quorum/internal/telemetry"
	"quorum/internal/utils"
)

// RemovedCommentText replaces the content of a comment removed by a moderator.
const RemovedCommentText = "[removed by a moderator]"

// UserPatch lists the account fields an admin may change. Nil fields are left alone.
type UserPatch struct {
	Role   *string `json:"role"`
	Plan   *string `json:"plan"`
	Banned *bool   `json:"banned"`
}

// UpdateInput is a product announcement to publish.
type UpdateInput struct {
	Title    string `json:"title"`
	Impact   string `json:"impact"`
	Category string `json:"category"`
}

// ModerationService holds the privileged mutations: every one is audited.
type ModerationService struct {
	store    storage.Store
	notifier *NotificationService
	audit    *AuditService
	logger   *zap.Logger
}

func NewModerationService(store storage.Store, notifier *NotificationService, audit *AuditService) *ModerationService {
	return &ModerationService{store: store, notifier: notifier, audit: audit, logger: logging.WithComponent("moderation")}
}

// RemoveComment soft-removes a comment and tells its author why.
func (s *ModerationService) RemoveComment(ctx context.Context, commentID, moderatorID uint, reason string) error {
	const op = "services.ModerationService.RemoveComment"

	ctx, span := telemetry.StartSpan(ctx, "ModerationService.RemoveComment")
	defer span.End()

	log := logging.FromContext(ctx, s.logger)

	if _, err := requireRole(ctx, s.store, log, op, moderatorID, (*models.User).IsModerator); err != nil {
		return err
	}
	comment, err := s.store.Comments().Get(ctx, commentID)
	if err != nil {
		return storageErr(log, op, err)
	}
	if comment.Removed {
		return nil
	}
	if err := s.store.Comments().MarkRemoved(ctx, commentID, RemovedCommentText); err != nil {
		return storageErr(log, op, err)
	}

	reason = strings.TrimSpace(reason)
	s.audit.Record(ctx, AuditRecord{
		ActorID:    moderatorID,
		Action:     models.AuditCommentModeration,
		TargetID:   commentID,
		TargetType: "comment",
		Details:    "removed; reason: " + reason,
	})

	msg := "Your comment was removed by a moderator"
	if reason != "" {
		msg += ": " + reason
	}
	s.notifier.Notify(ctx, Notice{
		ActorID:     moderatorID,
		RecipientID: comment.UserID,
		Type:        models.NotificationModeration,
		Message:     msg,
		Link:        fmt.Sprintf("/posts/%d#comment-%d", comment.PostID, comment.ID),
		PostID:      comment.PostID,
	})
	return nil
}

// PatchUser changes role, plan or ban state. Each changed field gets its own audit entry.
func (s *ModerationService) PatchUser(ctx context.Context, adminID, userID uint, patch UserPatch) (*models.User, error) {
	const op = "services.ModerationService.PatchUser"

	log := logging.FromContext(ctx, s.logger)

	if _, err := requireRole(ctx, s.store, log, op, adminID, (*models.User).IsAdmin); err != nil {
		return nil, err
	}
	if patch.Role == nil && patch.Plan == nil && patch.Banned == nil {
		return nil, failf(op, ErrInvalidArgument, "nothing to change")
	}
	if patch.Role != nil {
		switch *patch.Role {
		case models.RoleUser, models.RoleModerator, models.RoleAdmin:
		default:
			return nil, failf(op, ErrInvalidArgument, "unknown role %q", *patch.Role)
		}
	}
	if patch.Plan != nil && *patch.Plan != models.PlanFree && *patch.Plan != models.PlanPro {
		return nil, failf(op, ErrInvalidArgument, "unknown plan %q", *patch.Plan)
	}
	if userID == adminID && (patch.Role != nil || patch.Banned != nil) {
		return nil, failf(op, ErrInvalidArgument, "admins cannot change their own role or ban state")
	}

	user, err := s.store.Users().Get(ctx, userID)
	if err != nil {
		return nil, storageErr(log, op, err)
	}

	var (
		records []AuditRecord
		changes storage.UserChanges
	)
	record := func(action models.AuditAction, details string) {
		records = append(records, AuditRecord{
			ActorID:    adminID,
			Action:     action,
			TargetID:   user.ID,
			TargetType: "user",
			Details:    details,
		})
	}
	if patch.Role != nil && *patch.Role != user.Role {
		record(models.AuditRoleChange, fmt.Sprintf("role: %s -> %s", user.Role, *patch.Role))
		changes.Role = patch.Role
	}
	if patch.Plan != nil && *patch.Plan != user.Plan {
		record(models.AuditPlanChange, fmt.Sprintf("plan: %s -> %s", user.Plan, *patch.Plan))
		changes.Plan = patch.Plan
	}
	if patch.Banned != nil && *patch.Banned != user.Banned {
		if *patch.Banned {
			record(models.AuditBan, "banned")
		} else {
			record(models.AuditUnban, "unbanned")
		}
		changes.Banned = patch.Banned
	}
	if len(records) == 0 {
		return user, nil
	}

	if err := s.store.Users().ApplyPatch(ctx, user.ID, changes); err != nil {
		return nil, storageErr(log, op, err)
	}
	for _, r := range records {
		s.audit.Record(ctx, r)
	}

	updated, err := s.store.Users().Get(ctx, user.ID)
	if err != nil {
		return nil, storageErr(log, op, err)
	}
	return updated, nil
}

// PublishUpdate stores an announcement and broadcasts it to every user. The
// broadcast runs in the background; the update is returned straight away.
func (s *ModerationService) PublishUpdate(ctx context.Context, adminID uint, in UpdateInput) (*models.Update, error) {
	const op = "services.ModerationService.PublishUpdate"

	log := logging.FromContext(ctx, s.logger)

	if _, err := requireRole(ctx, s.store, log, op, adminID, (*models.User).IsAdmin); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(utils.SanitizeMarkdown(in.Title))
	if n := utf8.RuneCountInString(title); n == 0 || n > maxTitleLength {
		return nil, failf(op, ErrInvalidArgument, "title must be 1 to %d characters", maxTitleLength)
	}
	category := strings.TrimSpace(utils.SanitizeMarkdown(in.Category))
	if category == "" {
		category = "general"
	}

	update := &models.Update{
		AuthorID: adminID,
		Title:    title,
		Impact:   utils.SanitizeMarkdown(in.Impact),
		Category: category,
	}
	if err := s.store.Updates().Create(ctx, update); err != nil {
		return nil, storageErr(log, op, err)
	}

	s.audit.Record(ctx, AuditRecord{
		ActorID:    adminID,
		Action:     models.AuditUpdateCreate,
		TargetID:   update.ID,
		TargetType: "update",
		Details:    update.Title,
	})
	s.notifier.BroadcastAll(ctx,
		fmt.Sprintf("[%s] %s: %s", update.Category, update.Title, update.Impact),
		fmt.Sprintf("/updates/%d", update.ID),
		models.NotificationUpdate,
	)
	return update, nil
}

func (s *ModerationService) DeleteUpdate(ctx context.Context, adminID, updateID uint) error {
	const op = "services.ModerationService.DeleteUpdate"

	log := logging.FromContext(ctx, s.logger)

	if _, err := requireRole(ctx, s.store, log, op, adminID, (*models.User).IsAdmin); err != nil {
		return err
	}
	update, err := s.store.Updates().Get(ctx, updateID)
	if err != nil {
		return storageErr(log, op, err)
	}
	if err := s.store.Updates().Delete(ctx, updateID); err != nil {
		return storageErr(log, op, err)
	}
	s.audit.Record(ctx, AuditRecord{
		ActorID:    adminID,
		Action:     models.AuditUpdateDelete,
		TargetID:   updateID,
		TargetType: "update",
		Details:    update.Title,
	})
	return nil
}
