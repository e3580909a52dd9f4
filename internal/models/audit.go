package models

import (
	"time"
)

type AuditAction string

const (
	AuditBan               AuditAction = "ban"
	AuditUnban             AuditAction = "unban"
	AuditRoleChange        AuditAction = "role_change"
	AuditPlanChange        AuditAction = "plan_change"
	AuditTicketUpdate      AuditAction = "ticket_update"
	AuditUpdateCreate      AuditAction = "update_create"
	AuditUpdateDelete      AuditAction = "update_delete"
	AuditPostModeration    AuditAction = "post_moderation"
	AuditCommentModeration AuditAction = "comment_moderation"
)

var auditActions = map[AuditAction]struct{}{
	AuditBan: {}, AuditUnban: {}, AuditRoleChange: {}, AuditPlanChange: {},
	AuditTicketUpdate: {}, AuditUpdateCreate: {}, AuditUpdateDelete: {},
	AuditPostModeration: {}, AuditCommentModeration: {},
}

func (a AuditAction) Valid() bool {
	_, ok := auditActions[a]
	return ok
}

// AuditEntry is append-only; rows are never updated or deleted.
type AuditEntry struct {
	ID         uint        `gorm:"primaryKey" json:"id"`
	ActorID    uint        `gorm:"not null;index" json:"actor_id"`
	Action     AuditAction `gorm:"type:varchar(30);not null;index" json:"action"`
	TargetID   *uint       `json:"target_id,omitempty"`
	TargetType *string     `gorm:"size:20" json:"target_type,omitempty"`
	Details    string      `gorm:"type:text" json:"details"`
	CreatedAt  time.Time   `gorm:"index" json:"created_at"`
}
