package model

import (
	"strings"
	"time"

	"telegram-lessons-bot/internal/domain"
)

type ContentType string

const (
	ContentText     ContentType = "text"
	ContentPhoto    ContentType = "photo"
	ContentVideo    ContentType = "video"
	ContentDocument ContentType = "document"
)

func (c ContentType) Valid() bool {
	switch c {
	case ContentText, ContentPhoto, ContentVideo, ContentDocument:
		return true
	}
	return false
}

// Lesson is a sellable unit of content. Price is in Stars.
type Lesson struct {
	ID          int64
	Title       string
	Description string
	Price       int64
	IsFree      bool
	Active      bool
	ContentType ContentType
	ContentRef  string // Telegram file_id for media
	ContentText string // body for text lessons, caption for media
	CategoryID  *int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Category struct {
	ID   int64
	Name string
}

// Validate checks the lesson invariants: free iff price is zero, and active
// media lessons carry a file reference.
func (l *Lesson) Validate() error {
	if strings.TrimSpace(l.Title) == "" || l.Price < 0 {
		return domain.ErrInvalidArgument
	}
	if l.IsFree != (l.Price == 0) {
		return domain.ErrInvalidArgument
	}
	if !l.ContentType.Valid() {
		return domain.ErrInvalidArgument
	}
	if l.Active && l.ContentType != ContentText && strings.TrimSpace(l.ContentRef) == "" {
		return domain.ErrInvalidArgument
	}
	return nil
}

// Artifact converts the lesson content into a sendable artifact.
func (l *Lesson) Artifact() Artifact {
	return Artifact{Type: l.ContentType, FileRef: l.ContentRef, Text: l.ContentText}
}

// Artifact is a self-contained outbound message body.
type Artifact struct {
	Type    ContentType
	FileRef string
	Text    string
}
