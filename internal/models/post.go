package models

import (
	"time"
)

type PostStatus string

const (
	PostDraft     PostStatus = "DRAFT"
	PostPublished PostStatus = "PUBLISHED"
	PostFlagged   PostStatus = "FLAGGED"
	PostRemoved   PostStatus = "REMOVED"
)

// CategoryMurmur posts are limited to one per author per day.
const CategoryMurmur = "MURMUR"

type Post struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	UserID    uint       `gorm:"not null;index" json:"user_id"`
	User      User       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Title     string     `gorm:"not null" json:"title"`
	Content   string     `gorm:"type:text" json:"content"`
	Category  string     `gorm:"size:30;index" json:"category"`
	Status    PostStatus `gorm:"type:varchar(10);not null;default:'PUBLISHED';index" json:"status"`
	ViewCount int        `gorm:"default:0" json:"view_count"`
	Tags      []string   `gorm:"serializer:json;type:jsonb" json:"tags"`
	Pinned    bool       `gorm:"default:false" json:"pinned"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Visible reports whether the post can be read and voted on by anyone.
func (p *Post) Visible() bool {
	return p.Status == PostPublished || p.Status == PostFlagged
}
