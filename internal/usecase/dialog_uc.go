package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"telegram-lessons-bot/internal/domain"
	"telegram-lessons-bot/internal/domain/model"
	"telegram-lessons-bot/internal/domain/ports/repository"
)

var _ DialogUseCase = (*dialogUC)(nil)

// DialogInput is one admin message fed to a running dialog.
type DialogInput struct {
	ChatID    int64
	MessageID int
	Text      string
	Artifact  *model.Artifact
}

// DialogStep tells the caller what to show next. Prompt is a translation key.
type DialogStep struct {
	State  model.DialogState
	Prompt string
	Args   []interface{}
	Draft  model.BroadcastDraft
	Job    *model.BroadcastJob
}

// DialogUseCase drives the admin authoring dialogs. State lives in the
// database so a restart mid-dialog resumes where the admin left off.
type DialogUseCase interface {
	StartBroadcast(ctx context.Context, adminID int64) (DialogStep, error)
	StartLessonUpload(ctx context.Context, adminID, lessonID int64) (DialogStep, error)
	Active(ctx context.Context, adminID int64) (bool, error)
	Handle(ctx context.Context, adminID int64, in DialogInput) (DialogStep, error)
	Cancel(ctx context.Context, adminID int64) error
}

type dialogUC struct {
	dialogs    repository.DialogRepository
	broadcasts BroadcastUseCase
	lessons    LessonUseCase
	now        func() time.Time
	log        *zerolog.Logger
}

func NewDialogUseCase(dialogs repository.DialogRepository, broadcasts BroadcastUseCase, lessons LessonUseCase, logger *zerolog.Logger) *dialogUC {
	return &dialogUC{
		dialogs:    dialogs,
		broadcasts: broadcasts,
		lessons:    lessons,
		now:        func() time.Time { return time.Now().UTC() },
		log:        logger,
	}
}

func (u *dialogUC) StartBroadcast(ctx context.Context, adminID int64) (DialogStep, error) {
	d := &model.Dialog{TelegramID: adminID, State: model.DialogAwaitMessage}
	if err := u.dialogs.Save(ctx, repository.NoTX, d); err != nil {
		return DialogStep{}, err
	}
	return DialogStep{State: d.State, Prompt: "dialog_await_message"}, nil
}

func (u *dialogUC) StartLessonUpload(ctx context.Context, adminID, lessonID int64) (DialogStep, error) {
	if _, err := u.lessons.Get(ctx, lessonID); err != nil {
		return DialogStep{}, err
	}
	d := &model.Dialog{TelegramID: adminID, State: model.DialogLessonAwaitInput, Lesson: model.LessonDraft{LessonID: lessonID}}
	if err := u.dialogs.Save(ctx, repository.NoTX, d); err != nil {
		return DialogStep{}, err
	}
	return DialogStep{State: d.State, Prompt: "dialog_await_content", Args: []interface{}{lessonID}}, nil
}

func (u *dialogUC) Active(ctx context.Context, adminID int64) (bool, error) {
	d, err := u.dialogs.Get(ctx, repository.NoTX, adminID)
	if err != nil {
		return false, err
	}
	return d.State != model.DialogIdle, nil
}

func (u *dialogUC) Cancel(ctx context.Context, adminID int64) error {
	return u.dialogs.Clear(ctx, repository.NoTX, adminID)
}

func (u *dialogUC) Handle(ctx context.Context, adminID int64, in DialogInput) (DialogStep, error) {
	d, err := u.dialogs.Get(ctx, repository.NoTX, adminID)
	if err != nil {
		return DialogStep{}, err
	}
	text := strings.TrimSpace(in.Text)

	switch d.State {
	case model.DialogAwaitMessage:
		if in.MessageID == 0 {
			return u.stay(d, "dialog_await_message")
		}
		d.Broadcast.SourceChatID = in.ChatID
		d.Broadcast.SourceMessageID = in.MessageID
		d.State = model.DialogAwaitKeyboard
		return u.save(ctx, d, "dialog_await_keyboard")

	case model.DialogAwaitKeyboard:
		if !isSkip(text) {
			kb, err := model.ParseKeyboard([]byte(text))
			if err != nil {
				return u.stay(d, "dialog_bad_keyboard")
			}
			d.Broadcast.Keyboard = kb
		}
		d.State = model.DialogAwaitTime
		return u.save(ctx, d, "dialog_await_time")

	case model.DialogAwaitTime:
		at, err := ParseFireTime(text, u.now())
		if err != nil {
			return u.stay(d, "dialog_bad_time")
		}
		d.Broadcast.FireAt = at
		d.State = model.DialogAwaitConfirm
		step, err := u.save(ctx, d, "dialog_confirm")
		step.Args = []interface{}{at.Format("2006-01-02 15:04 MST")}
		return step, err

	case model.DialogAwaitConfirm:
		switch strings.ToLower(text) {
		case "yes", "y", "confirm", "да":
			job, err := u.broadcasts.Schedule(ctx, adminID, d.Broadcast)
			if err != nil {
				return DialogStep{}, err
			}
			if err := u.dialogs.Clear(ctx, repository.NoTX, adminID); err != nil {
				u.log.Warn().Err(err).Int64("tg_id", adminID).Msg("failed to clear dialog after scheduling")
			}
			return DialogStep{State: model.DialogIdle, Prompt: "broadcast_scheduled", Args: []interface{}{job.ID}, Job: job}, nil
		case "no", "n", "нет":
			if err := u.dialogs.Clear(ctx, repository.NoTX, adminID); err != nil {
				return DialogStep{}, err
			}
			return DialogStep{State: model.DialogIdle, Prompt: "dialog_cancelled"}, nil
		}
		return u.stay(d, "dialog_confirm_hint")

	case model.DialogLessonAwaitInput:
		var art model.Artifact
		switch {
		case in.Artifact != nil:
			art = *in.Artifact
		case text != "":
			art = model.Artifact{Type: model.ContentText, Text: in.Text}
		default:
			return u.stay(d, "dialog_await_content")
		}
		if err := u.lessons.AttachContent(ctx, d.Lesson.LessonID, art); err != nil {
			if errors.Is(err, domain.ErrInvalidArgument) {
				return u.stay(d, "dialog_bad_content")
			}
			return DialogStep{}, err
		}
		if err := u.dialogs.Clear(ctx, repository.NoTX, adminID); err != nil {
			return DialogStep{}, err
		}
		return DialogStep{State: model.DialogIdle, Prompt: "lesson_content_saved", Args: []interface{}{d.Lesson.LessonID}}, nil
	}
	return DialogStep{State: model.DialogIdle}, nil
}

func (u *dialogUC) save(ctx context.Context, d *model.Dialog, prompt string) (DialogStep, error) {
	if err := u.dialogs.Save(ctx, repository.NoTX, d); err != nil {
		return DialogStep{}, err
	}
	return DialogStep{State: d.State, Prompt: prompt, Draft: d.Broadcast}, nil
}

func (u *dialogUC) stay(d *model.Dialog, prompt string) (DialogStep, error) {
	return DialogStep{State: d.State, Prompt: prompt, Draft: d.Broadcast}, nil
}

func isSkip(s string) bool {
	switch strings.ToLower(s) {
	case "", "-", "skip", "none", "null":
		return true
	}
	return false
}

// ParseFireTime accepts "now", a relative duration ("90m", "+2h"), RFC 3339,
// or "YYYY-MM-DD HH:MM" in UTC.
func ParseFireTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "now") || s == "" {
		return now, nil
	}
	if d, err := time.ParseDuration(strings.TrimPrefix(s, "+")); err == nil {
		if d < 0 {
			return time.Time{}, domain.ErrInvalidArgument
		}
		return now.Add(d), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04", s, time.UTC); err == nil {
		return t, nil
	}
	return time.Time{}, domain.ErrInvalidArgument
}
