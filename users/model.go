package users

import (
	"strings"
	"time"
)

// Role is a user's privilege level.
type Role string

const (
	RoleDev   Role = "DEV"
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

// Roles lists every role, highest privilege first.
var Roles = []Role{RoleDev, RoleAdmin, RoleUser}

// User is a bot user keyed by Telegram id.
type User struct {
	TelegramID   int64     `gorm:"primaryKey;autoIncrement:false" json:"telegram_id"`
	Name         string    `gorm:"size:128;not null" json:"name"`
	Username     string    `gorm:"size:64" json:"username,omitempty"`
	Role         Role      `gorm:"size:16;not null;index" json:"role"`
	Language     string    `gorm:"size:8;not null" json:"language"`
	IsBlocked    bool      `gorm:"not null" json:"is_blocked"`
	IsBotBlocked bool      `gorm:"not null" json:"is_bot_blocked"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Profile is what the chat platform reports about the sender of an update.
type Profile struct {
	ID           int64
	FirstName    string
	LastName     string
	Username     string
	LanguageCode string
	IsBot        bool
}

// FullName joins first and last name.
func (p Profile) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}
