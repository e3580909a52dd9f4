// Package storage declares the persistence contracts of the engagement core.
// internal/db implements them on PostgreSQL; memstore implements them in memory.
package storage

import (
	"context"
	"errors"
	"time"

	"quorum/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// Store groups the per-entity repositories.
type Store interface {
	Votes() VoteStore
	Reactions() ReactionStore
	Comments() CommentStore
	Posts() PostStore
	Users() UserStore
	Notifications() NotificationStore
	Audit() AuditStore
	Updates() UpdateStore

	// WithTx runs fn inside one transaction. Repositories reached through tx
	// share it; a non-nil error from fn rolls everything back.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

type VoteStore interface {
	// FindForUpdate returns the actor's vote on the target and locks the row
	// for the rest of the transaction. ErrNotFound when there is none.
	FindForUpdate(ctx context.Context, userID uint, kind models.TargetKind, targetID uint) (*models.Vote, error)
	// Create returns ErrConflict when the identity index already holds a row.
	Create(ctx context.Context, vote *models.Vote) error
	UpdateValue(ctx context.Context, id uint, value int) error
	Delete(ctx context.Context, id uint) error
	DeleteForTarget(ctx context.Context, kind models.TargetKind, targetID uint) error
	Score(ctx context.Context, kind models.TargetKind, targetID uint) (int, error)
	// Scores sums values per target; targets without votes are absent.
	Scores(ctx context.Context, kind models.TargetKind, targetIDs []uint) (map[uint]int, error)
	UserVotes(ctx context.Context, userID uint, kind models.TargetKind, targetIDs []uint) (map[uint]int, error)
}

type ReactionStore interface {
	Find(ctx context.Context, userID, postID uint, kind models.ReactionKind) (*models.Reaction, error)
	Create(ctx context.Context, reaction *models.Reaction) error
	Delete(ctx context.Context, id uint) error
	Counts(ctx context.Context, postID uint) (map[models.ReactionKind]int, error)
	UserKinds(ctx context.Context, userID, postID uint) ([]models.ReactionKind, error)
}

type CommentStore interface {
	Get(ctx context.Context, id uint) (*models.Comment, error)
	// ListByPost returns every comment of the post ordered by (created_at, id).
	ListByPost(ctx context.Context, postID uint) ([]*models.Comment, error)
	Create(ctx context.Context, comment *models.Comment) error
	Delete(ctx context.Context, id uint) error
	// Reparent moves the direct replies of parentID under newParent (nil = top level).
	Reparent(ctx context.Context, parentID uint, newParent *uint) error
	MarkRemoved(ctx context.Context, id uint, content string) error
}

type PostStore interface {
	Get(ctx context.Context, id uint) (*models.Post, error)
	Create(ctx context.Context, post *models.Post) error
	Save(ctx context.Context, post *models.Post) error
	IncrementViews(ctx context.Context, id uint) error
	// CountByCategory counts the author's posts in category created within [from, to).
	CountByCategory(ctx context.Context, userID uint, category string, from, to time.Time) (int64, error)
}

// UserChanges names the admin-owned user columns to write. Nil fields are left alone.
type UserChanges struct {
	Role   *string
	Plan   *string
	Banned *bool
}

type UserStore interface {
	Get(ctx context.Context, id uint) (*models.User, error)
	Save(ctx context.Context, user *models.User) error
	// ApplyPatch writes only the columns set in changes, so profile fields
	// edited elsewhere are never overwritten.
	ApplyPatch(ctx context.Context, id uint, changes UserChanges) error
	// ListIDsAfter pages user ids in ascending order starting after afterID.
	ListIDsAfter(ctx context.Context, afterID uint, limit int) ([]uint, error)
}

type NotificationStore interface {
	// CreateBatch writes all rows with a single insert.
	CreateBatch(ctx context.Context, notifications []*models.Notification) error
	ListForUser(ctx context.Context, userID uint, limit int) ([]*models.Notification, error)
	UnreadCount(ctx context.Context, userID uint) (int64, error)
	MarkRead(ctx context.Context, userID uint, ids []uint) (int64, error)
	MarkAllRead(ctx context.Context, userID uint) (int64, error)
}

// AuditFilter narrows an audit listing. Zero values match everything.
type AuditFilter struct {
	Action  models.AuditAction
	ActorID uint
	Limit   int
}

type AuditStore interface {
	Create(ctx context.Context, entry *models.AuditEntry) error
	List(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error)
}

type UpdateStore interface {
	Create(ctx context.Context, update *models.Update) error
	Get(ctx context.Context, id uint) (*models.Update, error)
	Delete(ctx context.Context, id uint) error
}
