package models

import (
	"time"
)

type NotificationType string

const (
	NotificationVote       NotificationType = "VOTE"
	NotificationComment    NotificationType = "COMMENT"
	NotificationReply      NotificationType = "REPLY"
	NotificationModeration NotificationType = "MODERATION"
	NotificationUpdate     NotificationType = "UPDATE"
)

// MaxNotificationMessage is the stored message limit in runes.
const MaxNotificationMessage = 200

type Notification struct {
	ID        uint             `gorm:"primaryKey" json:"id"`
	UserID    uint             `gorm:"not null;index:idx_notification_recipient,priority:1" json:"user_id"` // Receiver
	Type      NotificationType `gorm:"type:varchar(20);not null" json:"type"`
	Message   string           `gorm:"size:800;not null" json:"message"`
	Link      *string          `gorm:"size:500" json:"link,omitempty"`
	PostID    *uint            `gorm:"index" json:"post_id,omitempty"`
	IsRead    bool             `gorm:"default:false;index:idx_notification_recipient,priority:2" json:"is_read"`
	CreatedAt time.Time        `json:"created_at"`
}
