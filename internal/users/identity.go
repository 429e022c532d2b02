package users

import (
	"strings"
	"time"
)

// Identity is the persisted record of a principal: who they are and how they
// are displayed to collaborators.
type Identity struct {
	UserID      string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	Email       string    `gorm:"column:email;size:320"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
}

// TableName exposes the table backing principal identities.
func (Identity) TableName() string {
	return "user_identities"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
