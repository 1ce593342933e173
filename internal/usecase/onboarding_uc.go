package usecase

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"telegram-lessons-bot/internal/domain"
	"telegram-lessons-bot/internal/domain/model"
	"telegram-lessons-bot/internal/domain/ports/adapter"
	"telegram-lessons-bot/internal/domain/ports/repository"
	ports "telegram-lessons-bot/internal/domain/ports/usecase"
	"telegram-lessons-bot/internal/infra/metrics"
)

var (
	_ OnboardingUseCase       = (*onboardingUC)(nil)
	_ ports.OnboardingStepper = (*onboardingUC)(nil)
)

type OnboardingUseCase interface {
	// HandleJoinRequest approves a join request to the onboarding channel and
	// enrolls the user in the drip script.
	HandleJoinRequest(ctx context.Context, chatID int64, tgID int64, username, displayName, lang string) error
	SendStep(ctx context.Context, p *model.OnboardingProgress) error
	Steps() int
}

type onboardingUC struct {
	users    repository.UserRepository
	progress repository.OnboardingRepository
	gateway  adapter.TelegramGateway
	script   model.OnboardingScript
	chatID   int64
	log      *zerolog.Logger
}

func NewOnboardingUseCase(
	users repository.UserRepository,
	progress repository.OnboardingRepository,
	gateway adapter.TelegramGateway,
	script model.OnboardingScript,
	chatID int64,
	logger *zerolog.Logger,
) *onboardingUC {
	return &onboardingUC{users: users, progress: progress, gateway: gateway, script: script, chatID: chatID, log: logger}
}

func (u *onboardingUC) Steps() int { return len(u.script) }

func (u *onboardingUC) HandleJoinRequest(ctx context.Context, chatID int64, tgID int64, username, displayName, lang string) error {
	if u.chatID == 0 || chatID != u.chatID {
		return domain.ErrForbidden
	}
	if err := u.gateway.ApproveJoinRequest(ctx, chatID, tgID); err != nil {
		return err
	}
	nu, err := model.NewUser(tgID, username, displayName, lang)
	if err != nil {
		return err
	}
	user, _, err := u.users.Upsert(ctx, repository.NoTX, nu)
	if err != nil {
		return err
	}
	if len(u.script) == 0 {
		return nil
	}
	enrolled, err := u.progress.Enroll(ctx, repository.NoTX, user.ID, time.Now().UTC().Add(u.script[0].Delay))
	if err != nil {
		return err
	}
	if enrolled {
		metrics.IncOnboardingStep("enrolled")
		u.log.Info().Int64("tg_id", tgID).Msg("user enrolled in onboarding")
	}
	return nil
}

// maxStepAttempts bounds how often one step is retried before it is skipped.
const maxStepAttempts = 5

// SendStep delivers the step the progress row points at and moves the row
// forward. Rate limits and transport failures leave the row alone; its lease
// runs out and a later tick retries, up to maxStepAttempts claims.
func (u *onboardingUC) SendStep(ctx context.Context, p *model.OnboardingProgress) error {
	if p.Step >= len(u.script) {
		return u.progress.Complete(ctx, repository.NoTX, p.UserID)
	}
	step := u.script[p.Step]
	var res model.SendResult
	if step.Text != "" {
		res = u.gateway.Send(ctx, p.TelegramID, model.Artifact{Type: model.ContentText, Text: step.Text}, step.Buttons)
	} else {
		res = u.gateway.Copy(ctx, step.SourceChatID, step.SourceMessageID, p.TelegramID, step.Buttons)
	}

	switch res.Kind {
	case model.ResultDelivered:
		metrics.IncOnboardingStep("sent")
		return u.advance(ctx, p)
	case model.ResultBlocked, model.ResultInvalidChat:
		metrics.IncOnboardingStep("unreachable")
		if err := u.users.Deactivate(ctx, repository.NoTX, p.UserID, time.Now().UTC()); err != nil {
			return err
		}
		metrics.IncUsersDeactivated()
		return u.progress.Complete(ctx, repository.NoTX, p.UserID)
	case model.ResultSourceMissing:
		metrics.IncOnboardingStep("source_missing")
		u.log.Error().Int("step", p.Step).Int64("source_chat", step.SourceChatID).Int("source_message", step.SourceMessageID).
			Msg("onboarding source message missing, skipping step")
		return u.advance(ctx, p)
	}
	if p.Attempts >= maxStepAttempts {
		metrics.IncOnboardingStep("gave_up")
		u.log.Warn().Int64("user_id", p.UserID).Int("step", p.Step).Int("attempts", p.Attempts).Str("error", res.Detail).
			Msg("onboarding step kept failing, skipping it")
		return u.advance(ctx, p)
	}
	metrics.IncOnboardingStep("retry")
	return res.Err()
}

func (u *onboardingUC) advance(ctx context.Context, p *model.OnboardingProgress) error {
	next := p.Step + 1
	if next >= len(u.script) {
		return u.progress.Complete(ctx, repository.NoTX, p.UserID)
	}
	return u.progress.Advance(ctx, repository.NoTX, p.UserID, next, time.Now().UTC().Add(u.script[next].Delay))
}

type scriptFile struct {
	Steps []struct {
		Delay           string            `yaml:"delay"`
		Text            string            `yaml:"text"`
		SourceChatID    int64             `yaml:"source_chat_id"`
		SourceMessageID int               `yaml:"source_message_id"`
		Buttons         []scriptButtonDef `yaml:"buttons"`
	} `yaml:"steps"`
}

type scriptButtonDef struct {
	Label string `yaml:"label"`
	URL   string `yaml:"url"`
}

// LoadOnboardingScript reads the YAML drip script. An empty path yields an
// empty script.
func LoadOnboardingScript(path string) (model.OnboardingScript, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read onboarding script: %w", err)
	}
	return ParseOnboardingScript(data)
}

func ParseOnboardingScript(data []byte) (model.OnboardingScript, error) {
	var f scriptFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse onboarding script: %w", err)
	}
	script := make(model.OnboardingScript, 0, len(f.Steps))
	for i, s := range f.Steps {
		var delay time.Duration
		if s.Delay != "" {
			d, err := time.ParseDuration(s.Delay)
			if err != nil {
				return nil, fmt.Errorf("step %d: delay: %w", i, err)
			}
			delay = d
		}
		var kb model.Keyboard
		for _, b := range s.Buttons {
			kb = append(kb, model.KeyboardButton{Label: b.Label, URL: b.URL})
		}
		step := model.OnboardingStep{
			Delay:           delay,
			Text:            s.Text,
			SourceChatID:    s.SourceChatID,
			SourceMessageID: s.SourceMessageID,
			Buttons:         kb,
		}
		if err := step.Validate(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		script = append(script, step)
	}
	return script, nil
}
