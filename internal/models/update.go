package models

import (
	"time"
)

// Update is a product announcement broadcast to every user when published.
type Update struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	AuthorID  uint      `gorm:"not null;index" json:"author_id"`
	Title     string    `gorm:"size:200;not null" json:"title"`
	Impact    string    `gorm:"type:text" json:"impact"`
	Category  string    `gorm:"size:30" json:"category"`
	CreatedAt time.Time `json:"created_at"`
}
