package model

import (
	"time"

	"telegram-lessons-bot/internal/domain"
)

// DialogState is the persisted step of an admin authoring dialog.
type DialogState string

const (
	DialogIdle             DialogState = ""
	DialogAwaitMessage     DialogState = "broadcast.await_message"
	DialogAwaitKeyboard    DialogState = "broadcast.await_keyboard"
	DialogAwaitTime        DialogState = "broadcast.await_time"
	DialogAwaitConfirm     DialogState = "broadcast.await_confirm"
	DialogLessonAwaitInput DialogState = "lesson.await_content"
)

func ParseDialogState(s string) (DialogState, error) {
	switch st := DialogState(s); st {
	case DialogIdle, DialogAwaitMessage, DialogAwaitKeyboard, DialogAwaitTime, DialogAwaitConfirm, DialogLessonAwaitInput:
		return st, nil
	}
	return DialogIdle, domain.ErrInvalidArgument
}

// BroadcastDraft accumulates the artifact while the dialog runs.
type BroadcastDraft struct {
	SourceChatID    int64     `json:"source_chat_id,omitempty"`
	SourceMessageID int       `json:"source_message_id,omitempty"`
	Keyboard        Keyboard  `json:"keyboard,omitempty"`
	FireAt          time.Time `json:"fire_at,omitempty"`
}

// LessonDraft holds the lesson being attached to uploaded content.
type LessonDraft struct {
	LessonID int64 `json:"lesson_id,omitempty"`
}

// Dialog is the persisted dialog of one admin.
type Dialog struct {
	TelegramID int64
	State      DialogState
	Broadcast  BroadcastDraft
	Lesson     LessonDraft
	UpdatedAt  time.Time
}

func (d *Dialog) Reset() {
	d.State = DialogIdle
	d.Broadcast = BroadcastDraft{}
	d.Lesson = LessonDraft{}
}
