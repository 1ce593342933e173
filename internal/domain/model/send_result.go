package model

import (
	"fmt"
	"time"
)

// ResultKind is the fixed taxonomy of outbound send results.
type ResultKind int

const (
	ResultDelivered ResultKind = iota
	ResultBlocked
	ResultInvalidChat
	ResultRateLimited
	ResultTransient
	// ResultSourceMissing means a copy failed because the source message is gone.
	// It is fatal for a broadcast run rather than for a single recipient.
	ResultSourceMissing
)

func (k ResultKind) String() string {
	switch k {
	case ResultDelivered:
		return "delivered"
	case ResultBlocked:
		return "blocked"
	case ResultInvalidChat:
		return "invalid_chat"
	case ResultRateLimited:
		return "rate_limited"
	case ResultTransient:
		return "transient"
	case ResultSourceMissing:
		return "source_missing"
	}
	return "unknown"
}

// SendResult is what the gateway returns for every send or copy.
type SendResult struct {
	Kind       ResultKind
	MessageID  int
	RetryAfter time.Duration
	Detail     string
}

func Delivered(msgID int) SendResult { return SendResult{Kind: ResultDelivered, MessageID: msgID} }

func (r SendResult) OK() bool { return r.Kind == ResultDelivered }

// Err adapts a non-delivered result into an error for interactive flows.
func (r SendResult) Err() error {
	if r.OK() {
		return nil
	}
	if r.Detail != "" {
		return fmt.Errorf("send %s: %s", r.Kind, r.Detail)
	}
	return fmt.Errorf("send %s", r.Kind)
}

// Outcome maps a terminal result onto the persisted outcome vocabulary.
func (r SendResult) Outcome() OutcomeResult {
	switch r.Kind {
	case ResultDelivered:
		return OutcomeDelivered
	case ResultBlocked:
		return OutcomeBlocked
	case ResultInvalidChat:
		return OutcomeInvalid
	case ResultRateLimited:
		return OutcomeRateLimited
	}
	return OutcomeOtherError
}
