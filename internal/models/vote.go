package models

import (
	"time"
)

type TargetKind string

const (
	TargetPost    TargetKind = "POST"
	TargetComment TargetKind = "COMMENT"
)

// Valid reports whether k is one of the votable target kinds.
func (k TargetKind) Valid() bool {
	return k == TargetPost || k == TargetComment
}

const (
	LabelUpvote   = "UPVOTE"
	LabelDownvote = "DOWNVOTE"
)

// Vote is the single up/down vote an actor holds on a post or comment.
// idx_vote_identity serializes concurrent votes from the same actor.
type Vote struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	UserID     uint       `gorm:"not null;uniqueIndex:idx_vote_identity,priority:1" json:"user_id"`
	TargetKind TargetKind `gorm:"type:varchar(10);not null;uniqueIndex:idx_vote_identity,priority:2;index:idx_vote_target,priority:1" json:"target_kind"`
	TargetID   uint       `gorm:"not null;uniqueIndex:idx_vote_identity,priority:3;index:idx_vote_target,priority:2" json:"target_id"`
	Value      int        `gorm:"not null" json:"value"` // 1 or -1
	Label      string     `gorm:"type:varchar(10);not null" json:"label"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// LabelFor derives the stored label from a vote value.
func LabelFor(value int) string {
	if value > 0 {
		return LabelUpvote
	}
	return LabelDownvote
}
