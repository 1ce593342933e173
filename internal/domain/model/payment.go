package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"telegram-lessons-bot/internal/domain"
)

// StarsCurrency is the Telegram Stars currency marker.
const StarsCurrency = "XTR"

type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusCompleted PurchaseStatus = "completed" // grants access
	PurchaseStatusRefunded  PurchaseStatus = "refunded"
	PurchaseStatusFailed    PurchaseStatus = "failed"
)

// Purchase records one captured Stars charge. ChargeID is globally unique.
type Purchase struct {
	ID          int64
	UserID      int64 // internal users.id
	LessonID    int64
	ChargeID    string
	Amount      int64
	Currency    string
	Status      PurchaseStatus
	PurchasedAt time.Time
	DeliveredAt *time.Time
	RefundedAt  *time.Time
	Note        string
}

// InvoicePayload is the string that round-trips through the provider:
// lesson|<lesson_id>|<user_id>|<unix_seconds>. UserID is the Telegram id.
type InvoicePayload struct {
	LessonID int64
	UserID   int64
	IssuedAt time.Time
}

const payloadKind = "lesson"

func (p InvoicePayload) String() string {
	return fmt.Sprintf("%s|%d|%d|%d", payloadKind, p.LessonID, p.UserID, p.IssuedAt.Unix())
}

func ParseInvoicePayload(s string) (InvoicePayload, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 4 || parts[0] != payloadKind {
		return InvoicePayload{}, domain.ErrMalformedPayload
	}
	lessonID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || lessonID <= 0 {
		return InvoicePayload{}, domain.ErrMalformedPayload
	}
	userID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || userID <= 0 {
		return InvoicePayload{}, domain.ErrMalformedPayload
	}
	ts, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil || ts < 0 {
		return InvoicePayload{}, domain.ErrMalformedPayload
	}
	return InvoicePayload{LessonID: lessonID, UserID: userID, IssuedAt: time.Unix(ts, 0).UTC()}, nil
}

// RejectReason enumerates why a purchase step was refused.
type RejectReason string

const (
	ReasonNone             RejectReason = ""
	ReasonLessonMissing    RejectReason = "lesson_missing"
	ReasonLessonInactive   RejectReason = "lesson_inactive"
	ReasonLessonFree       RejectReason = "lesson_free"
	ReasonAlreadyPurchased RejectReason = "already_purchased"
	ReasonUserBlocked      RejectReason = "user_blocked"
	ReasonPriceMismatch    RejectReason = "price_mismatch"
	ReasonPayloadMismatch  RejectReason = "payload_mismatch"
	ReasonMalformedPayload RejectReason = "malformed_payload"
	ReasonWrongCurrency    RejectReason = "wrong_currency"
	ReasonInternal         RejectReason = "internal"
)

// Validation is the typed result of checking whether a user may buy a lesson.
type Validation struct {
	OK     bool
	Reason RejectReason
	Lesson *Lesson
}

func Reject(reason RejectReason, l *Lesson) Validation {
	return Validation{OK: false, Reason: reason, Lesson: l}
}

// PreCheckout is the provider's pre-checkout query.
type PreCheckout struct {
	QueryID  string
	FromID   int64
	Currency string
	Amount   int64
	Payload  string
}

// Decision answers a pre-checkout query.
type Decision struct {
	Approved bool
	Reason   RejectReason
}

func Approve() Decision                 { return Decision{Approved: true} }
func Deny(reason RejectReason) Decision { return Decision{Reason: reason} }

// SuccessfulPayment is the provider's confirmation of a captured charge.
type SuccessfulPayment struct {
	FromID   int64
	ChatID   int64
	ChargeID string
	Currency string
	Amount   int64
	Payload  string
}

// FinalizeResult reports what FinalizePayment did. AlreadyProcessed means the
// charge id was seen before and nothing changed.
type FinalizeResult struct {
	Purchase         *Purchase
	AlreadyProcessed bool
	Duplicate        bool // charge recorded as failed because the lesson was already owned
	UnknownLesson    bool // charge recorded as failed because the lesson does not exist
	Delivered        bool
}
