package models

import (
	"time"
)

// Chat is the message log of one event. Messages holds a codec-encoded list
// of encoded {sender, text} records in insertion order. Members and ReadBy
// are encoded user id sets; ReadBy is cleared by every new message.
type Chat struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	EventID    uint      `gorm:"uniqueIndex;not null" json:"event_id"`
	CreatorID  uint      `gorm:"not null" json:"creator_id"`
	Messages   string    `gorm:"type:text;not null;default:'[]'" json:"-"`
	Members    string    `gorm:"type:text;not null;default:'[]'" json:"-"`
	ReadBy     string    `gorm:"type:text;not null;default:'[]'" json:"-"`
	Version    int64     `gorm:"not null;default:0" json:"-"`
	LastUpdate time.Time `json:"last_update"`
	CreatedAt  time.Time `json:"created_at"`
}
