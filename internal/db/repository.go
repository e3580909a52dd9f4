package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"quorum/internal/models"
	"quorum/internal/storage"
)

const uniqueViolation = "23505"

// translateError maps driver errors onto the storage sentinels.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return storage.ErrConflict
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return storage.ErrConflict
	}
	return err
}

// Store implements storage.Store on top of gorm.
type Store struct {
	db *gorm.DB
}

// NewStore creates a store backed by db
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Votes() storage.VoteStore                 { return &VoteRepository{db: s.db} }
func (s *Store) Reactions() storage.ReactionStore         { return &ReactionRepository{db: s.db} }
func (s *Store) Comments() storage.CommentStore           { return &CommentRepository{db: s.db} }
func (s *Store) Posts() storage.PostStore                 { return &PostRepository{db: s.db} }
func (s *Store) Users() storage.UserStore                 { return &UserRepository{db: s.db} }
func (s *Store) Notifications() storage.NotificationStore { return &NotificationRepository{db: s.db} }
func (s *Store) Audit() storage.AuditStore                { return &AuditRepository{db: s.db} }
func (s *Store) Updates() storage.UpdateStore             { return &UpdateRepository{db: s.db} }

func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// VoteRepository provides vote-related database operations
type VoteRepository struct {
	db *gorm.DB
}

func (r *VoteRepository) FindForUpdate(ctx context.Context, userID uint, kind models.TargetKind, targetID uint) (*models.Vote, error) {
	var vote models.Vote
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND target_kind = ? AND target_id = ?", userID, kind, targetID).
		First(&vote).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &vote, nil
}

func (r *VoteRepository) Create(ctx context.Context, vote *models.Vote) error {
	return translateError(r.db.WithContext(ctx).Create(vote).Error)
}

func (r *VoteRepository) UpdateValue(ctx context.Context, id uint, value int) error {
	return translateError(r.db.WithContext(ctx).Model(&models.Vote{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"value": value, "label": models.LabelFor(value)}).Error)
}

func (r *VoteRepository) Delete(ctx context.Context, id uint) error {
	return translateError(r.db.WithContext(ctx).Delete(&models.Vote{}, id).Error)
}

func (r *VoteRepository) DeleteForTarget(ctx context.Context, kind models.TargetKind, targetID uint) error {
	return translateError(r.db.WithContext(ctx).
		Where("target_kind = ? AND target_id = ?", kind, targetID).
		Delete(&models.Vote{}).Error)
}

func (r *VoteRepository) Score(ctx context.Context, kind models.TargetKind, targetID uint) (int, error) {
	var score int64
	err := r.db.WithContext(ctx).Model(&models.Vote{}).
		Select("COALESCE(SUM(value), 0)").
		Where("target_kind = ? AND target_id = ?", kind, targetID).
		Scan(&score).Error
	if err != nil {
		return 0, translateError(err)
	}
	return int(score), nil
}

type targetSum struct {
	TargetID uint
	Total    int64
}

func (r *VoteRepository) Scores(ctx context.Context, kind models.TargetKind, targetIDs []uint) (map[uint]int, error) {
	scores := make(map[uint]int, len(targetIDs))
	if len(targetIDs) == 0 {
		return scores, nil
	}
	var rows []targetSum
	err := r.db.WithContext(ctx).Model(&models.Vote{}).
		Select("target_id, SUM(value) AS total").
		Where("target_kind = ? AND target_id IN ?", kind, targetIDs).
		Group("target_id").
		Scan(&rows).Error
	if err != nil {
		return nil, translateError(err)
	}
	for _, row := range rows {
		scores[row.TargetID] = int(row.Total)
	}
	return scores, nil
}

func (r *VoteRepository) UserVotes(ctx context.Context, userID uint, kind models.TargetKind, targetIDs []uint) (map[uint]int, error) {
	votes := make(map[uint]int)
	if len(targetIDs) == 0 {
		return votes, nil
	}
	var rows []models.Vote
	err := r.db.WithContext(ctx).
		Select("target_id", "value").
		Where("user_id = ? AND target_kind = ? AND target_id IN ?", userID, kind, targetIDs).
		Find(&rows).Error
	if err != nil {
		return nil, translateError(err)
	}
	for _, row := range rows {
		votes[row.TargetID] = row.Value
	}
	return votes, nil
}

// ReactionRepository provides reaction-related database operations
type ReactionRepository struct {
	db *gorm.DB
}

func (r *ReactionRepository) Find(ctx context.Context, userID, postID uint, kind models.ReactionKind) (*models.Reaction, error) {
	var reaction models.Reaction
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND post_id = ? AND kind = ?", userID, postID, kind).
		First(&reaction).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &reaction, nil
}

func (r *ReactionRepository) Create(ctx context.Context, reaction *models.Reaction) error {
	return translateError(r.db.WithContext(ctx).Create(reaction).Error)
}

func (r *ReactionRepository) Delete(ctx context.Context, id uint) error {
	return translateError(r.db.WithContext(ctx).Delete(&models.Reaction{}, id).Error)
}

func (r *ReactionRepository) Counts(ctx context.Context, postID uint) (map[models.ReactionKind]int, error) {
	var rows []struct {
		Kind  models.ReactionKind
		Total int64
	}
	err := r.db.WithContext(ctx).Model(&models.Reaction{}).
		Select("kind, COUNT(*) AS total").
		Where("post_id = ?", postID).
		Group("kind").
		Scan(&rows).Error
	if err != nil {
		return nil, translateError(err)
	}
	counts := make(map[models.ReactionKind]int, len(rows))
	for _, row := range rows {
		counts[row.Kind] = int(row.Total)
	}
	return counts, nil
}

func (r *ReactionRepository) UserKinds(ctx context.Context, userID, postID uint) ([]models.ReactionKind, error) {
	var kinds []models.ReactionKind
	err := r.db.WithContext(ctx).Model(&models.Reaction{}).
		Where("user_id = ? AND post_id = ?", userID, postID).
		Pluck("kind", &kinds).Error
	if err != nil {
		return nil, translateError(err)
	}
	return kinds, nil
}

// CommentRepository provides comment-related database operations
type CommentRepository struct {
	db *gorm.DB
}

func (r *CommentRepository) Get(ctx context.Context, id uint) (*models.Comment, error) {
	var comment models.Comment
	if err := r.db.WithContext(ctx).First(&comment, id).Error; err != nil {
		return nil, translateError(err)
	}
	return &comment, nil
}

func (r *CommentRepository) ListByPost(ctx context.Context, postID uint) ([]*models.Comment, error) {
	var comments []*models.Comment
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("post_id = ?", postID).
		Order("created_at ASC, id ASC").
		Find(&comments).Error
	if err != nil {
		return nil, translateError(err)
	}
	return comments, nil
}

func (r *CommentRepository) Create(ctx context.Context, comment *models.Comment) error {
	return translateError(r.db.WithContext(ctx).Create(comment).Error)
}

func (r *CommentRepository) Delete(ctx context.Context, id uint) error {
	return translateError(r.db.WithContext(ctx).Delete(&models.Comment{}, id).Error)
}

func (r *CommentRepository) Reparent(ctx context.Context, parentID uint, newParent *uint) error {
	var value interface{}
	if newParent != nil {
		value = *newParent
	}
	return translateError(r.db.WithContext(ctx).Model(&models.Comment{}).
		Where("parent_id = ?", parentID).
		Update("parent_id", value).Error)
}

func (r *CommentRepository) MarkRemoved(ctx context.Context, id uint, content string) error {
	return translateError(r.db.WithContext(ctx).Model(&models.Comment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"removed": true, "content": content}).Error)
}

// PostRepository provides post-related database operations
type PostRepository struct {
	db *gorm.DB
}

func (r *PostRepository) Get(ctx context.Context, id uint) (*models.Post, error) {
	var post models.Post
	if err := r.db.WithContext(ctx).First(&post, id).Error; err != nil {
		return nil, translateError(err)
	}
	return &post, nil
}

func (r *PostRepository) Create(ctx context.Context, post *models.Post) error {
	return translateError(r.db.WithContext(ctx).Create(post).Error)
}

func (r *PostRepository) Save(ctx context.Context, post *models.Post) error {
	return translateError(r.db.WithContext(ctx).Omit("User").Save(post).Error)
}

func (r *PostRepository) IncrementViews(ctx context.Context, id uint) error {
	return translateError(r.db.WithContext(ctx).Model(&models.Post{}).
		Where("id = ?", id).
		UpdateColumn("view_count", gorm.Expr("view_count + 1")).Error)
}

func (r *PostRepository) CountByCategory(ctx context.Context, userID uint, category string, from, to time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Post{}).
		Where("user_id = ? AND category = ? AND created_at >= ? AND created_at < ?", userID, category, from, to).
		Count(&count).Error
	return count, translateError(err)
}

// UserRepository provides user-related database operations
type UserRepository struct {
	db *gorm.DB
}

func (r *UserRepository) Get(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, translateError(err)
	}
	return &user, nil
}

func (r *UserRepository) Save(ctx context.Context, user *models.User) error {
	return translateError(r.db.WithContext(ctx).Save(user).Error)
}

func (r *UserRepository) ApplyPatch(ctx context.Context, id uint, changes storage.UserChanges) error {
	updates := map[string]interface{}{}
	if changes.Role != nil {
		updates["role"] = *changes.Role
	}
	if changes.Plan != nil {
		updates["plan"] = *changes.Plan
	}
	if changes.Banned != nil {
		updates["banned"] = *changes.Banned
	}
	if len(updates) == 0 {
		return nil
	}

	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *UserRepository) ListIDsAfter(ctx context.Context, afterID uint, limit int) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, translateError(err)
	}
	return ids, nil
}

// NotificationRepository provides notification-related database operations
type NotificationRepository struct {
	db *gorm.DB
}

func (r *NotificationRepository) CreateBatch(ctx context.Context, notifications []*models.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	return translateError(r.db.WithContext(ctx).Create(notifications).Error)
}

func (r *NotificationRepository) ListForUser(ctx context.Context, userID uint, limit int) ([]*models.Notification, error) {
	var notifications []*models.Notification
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&notifications).Error
	if err != nil {
		return nil, translateError(err)
	}
	return notifications, nil
}

func (r *NotificationRepository) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	return count, translateError(err)
}

func (r *NotificationRepository) MarkRead(ctx context.Context, userID uint, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND id IN ? AND is_read = ?", userID, ids, false).
		Update("is_read", true)
	return result.RowsAffected, translateError(result.Error)
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	return result.RowsAffected, translateError(result.Error)
}

// AuditRepository provides audit-related database operations
type AuditRepository struct {
	db *gorm.DB
}

func (r *AuditRepository) Create(ctx context.Context, entry *models.AuditEntry) error {
	return translateError(r.db.WithContext(ctx).Create(entry).Error)
}

func (r *AuditRepository) List(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error) {
	query := r.db.WithContext(ctx).Model(&models.AuditEntry{})
	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}
	if filter.ActorID != 0 {
		query = query.Where("actor_id = ?", filter.ActorID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var entries []*models.AuditEntry
	if err := query.Order("created_at DESC, id DESC").Find(&entries).Error; err != nil {
		return nil, translateError(err)
	}
	return entries, nil
}

// UpdateRepository provides announcement-related database operations
type UpdateRepository struct {
	db *gorm.DB
}

func (r *UpdateRepository) Create(ctx context.Context, update *models.Update) error {
	return translateError(r.db.WithContext(ctx).Create(update).Error)
}

func (r *UpdateRepository) Get(ctx context.Context, id uint) (*models.Update, error) {
	var update models.Update
	if err := r.db.WithContext(ctx).First(&update, id).Error; err != nil {
		return nil, translateError(err)
	}
	return &update, nil
}

func (r *UpdateRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&models.Update{}, id)
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
