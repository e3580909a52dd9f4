package models

import (
	"time"
)

type ReactionKind string

const (
	ReactionWantMore  ReactionKind = "WANT_MORE"
	ReactionDiscovery ReactionKind = "DISCOVERY"
	ReactionConsult   ReactionKind = "CONSULT"
)

// ReactionKinds lists every kind in display order.
var ReactionKinds = []ReactionKind{ReactionWantMore, ReactionDiscovery, ReactionConsult}

func (k ReactionKind) Valid() bool {
	for _, known := range ReactionKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Reaction is an independent per-kind toggle on a post, separate from votes.
type Reaction struct {
	ID        uint         `gorm:"primaryKey" json:"id"`
	UserID    uint         `gorm:"not null;uniqueIndex:idx_reaction_identity,priority:1" json:"user_id"`
	PostID    uint         `gorm:"not null;index;uniqueIndex:idx_reaction_identity,priority:2" json:"post_id"`
	Kind      ReactionKind `gorm:"type:varchar(20);not null;uniqueIndex:idx_reaction_identity,priority:3" json:"kind"`
	CreatedAt time.Time    `json:"created_at"`
}
