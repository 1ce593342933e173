package model

import (
	"strings"
	"time"

	"telegram-lessons-bot/internal/domain"
)

// User is a Telegram user known to the bot. Users are never deleted;
// Active flips to false when Telegram reports the chat unreachable.
type User struct {
	ID            int64
	TelegramID    int64
	Username      string
	DisplayName   string
	Language      string
	RegisteredAt  time.Time
	LastActiveAt  time.Time
	Active        bool
	DeactivatedAt *time.Time
	Banned        bool
	TotalSpent    int64
}

func NewUser(tgID int64, username, displayName, language string) (*User, error) {
	if tgID <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now().UTC()
	u := &User{
		TelegramID:   tgID,
		Username:     strings.TrimPrefix(username, "@"),
		DisplayName:  displayName,
		Language:     language,
		RegisteredAt: now,
		LastActiveAt: now,
		Active:       true,
	}
	return u, nil
}

func (u *User) IsZero() bool { return u == nil || u.TelegramID == 0 }
func (u *User) Touch()       { u.LastActiveAt = time.Now().UTC() }

// Lang returns the user's language tag or "en".
func (u *User) Lang() string {
	if u == nil || u.Language == "" {
		return "en"
	}
	return u.Language
}
