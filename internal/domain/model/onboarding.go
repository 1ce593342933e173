package model

import (
	"time"

	"telegram-lessons-bot/internal/domain"
)

// OnboardingStep is one scripted drip message. Either Text or a source message
// to copy must be set.
type OnboardingStep struct {
	Delay           time.Duration
	Text            string
	SourceChatID    int64
	SourceMessageID int
	Buttons         Keyboard
}

func (s OnboardingStep) Validate() error {
	if s.Delay < 0 {
		return domain.ErrInvalidArgument
	}
	hasText := s.Text != ""
	hasCopy := s.SourceChatID != 0 && s.SourceMessageID > 0
	if hasText == hasCopy {
		return domain.ErrInvalidArgument
	}
	return s.Buttons.Validate()
}

type OnboardingScript []OnboardingStep

// OnboardingProgress tracks where one user is in the script.
type OnboardingProgress struct {
	UserID     int64
	TelegramID int64
	Step       int
	// Attempts counts claims of the current step, this one included.
	Attempts   int
	NextAt     time.Time
	Done       bool
	UpdatedAt  time.Time
}
