package model

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"telegram-lessons-bot/internal/domain"
)

type JobStatus string

const (
	JobWaiting   JobStatus = "waiting"
	JobRunning   JobStatus = "running"
	JobDone      JobStatus = "done"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobFailed || s == JobCancelled
}

// BroadcastJob is an authored intent to copy one message to every user at FireAt.
// RunID, ClaimedAt and HeartbeatAt are set while a run owns the job. StartedAt and
// AudienceMaxUserID freeze the audience on the first claim.
type BroadcastJob struct {
	ID              int64
	FireAt          time.Time
	SourceChatID    int64
	SourceMessageID int
	Keyboard        Keyboard
	Status          JobStatus
	CreatedBy       int64
	CreatedAt       time.Time

	RunID             string
	ClaimedAt         *time.Time
	HeartbeatAt       *time.Time
	StartedAt         *time.Time
	FinishedAt        *time.Time
	CursorUserID      int64
	AudienceMaxUserID int64
	ReclaimCount      int
	DeliveredCount    int
	FailedCount       int
	FailReason        string
}

// NewBroadcastJob validates an authored job. FireAt is normalized to UTC.
func NewBroadcastJob(fireAt time.Time, srcChat int64, srcMsg int, kb Keyboard, createdBy int64) (*BroadcastJob, error) {
	if srcChat == 0 || srcMsg <= 0 || fireAt.IsZero() {
		return nil, domain.ErrInvalidArgument
	}
	if err := kb.Validate(); err != nil {
		return nil, err
	}
	return &BroadcastJob{
		FireAt:          fireAt.UTC(),
		SourceChatID:    srcChat,
		SourceMessageID: srcMsg,
		Keyboard:        kb,
		Status:          JobWaiting,
		CreatedBy:       createdBy,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// KeyboardButton is one URL button, rendered on its own row.
type KeyboardButton struct {
	Label string
	URL   string
}

// Keyboard is an ordered list of URL buttons. Nil means no keyboard.
type Keyboard []KeyboardButton

func (k Keyboard) Validate() error {
	for _, b := range k {
		if strings.TrimSpace(b.Label) == "" {
			return domain.ErrInvalidKeyboard
		}
		u, err := url.Parse(b.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "tg") || (u.Host == "" && u.Scheme != "tg") {
			return domain.ErrInvalidKeyboard
		}
	}
	return nil
}

// MarshalJSON writes the persisted descriptor: [{"label":"url"}, ...].
func (k Keyboard) MarshalJSON() ([]byte, error) {
	if k == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, b := range k {
		if i > 0 {
			buf.WriteByte(',')
		}
		label, _ := json.Marshal(b.Label)
		link, _ := json.Marshal(b.URL)
		buf.WriteByte('{')
		buf.Write(label)
		buf.WriteByte(':')
		buf.Write(link)
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts only a list of single-key objects with string values.
func (k *Keyboard) UnmarshalJSON(data []byte) error {
	parsed, err := ParseKeyboard(data)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKeyboard parses and validates a keyboard descriptor. Empty input and
// JSON null yield a nil keyboard.
func ParseKeyboard(data []byte) (Keyboard, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, domain.ErrInvalidKeyboard
	}
	kb := make(Keyboard, 0, len(entries))
	for _, e := range entries {
		if len(e) != 1 {
			return nil, domain.ErrInvalidKeyboard
		}
		for label, raw := range e {
			var link string
			if err := json.Unmarshal(raw, &link); err != nil {
				return nil, domain.ErrInvalidKeyboard
			}
			kb = append(kb, KeyboardButton{Label: label, URL: link})
		}
	}
	if err := kb.Validate(); err != nil {
		return nil, err
	}
	return kb, nil
}

// OutcomeResult is the terminal per-recipient result of a broadcast send.
type OutcomeResult string

const (
	OutcomeDelivered   OutcomeResult = "delivered"
	OutcomeBlocked     OutcomeResult = "blocked"
	OutcomeRateLimited OutcomeResult = "rate_limited"
	OutcomeInvalid     OutcomeResult = "invalid"
	OutcomeOtherError  OutcomeResult = "other_error"
)

type BroadcastOutcome struct {
	JobID         int64
	UserID        int64
	Attempts      int
	Result        OutcomeResult
	LastError     string
	LastAttemptAt time.Time
}

// Recipient is the minimum a run needs to address a user.
type Recipient struct {
	UserID     int64
	TelegramID int64
}

// BroadcastStats aggregates outcomes for one job.
type BroadcastStats struct {
	Total   int
	ByState map[OutcomeResult]int
}
