// File: internal/infra/telegram/pacer.go
package telegram

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"telegram-lessons-bot/internal/domain/model"
	"telegram-lessons-bot/internal/domain/ports/adapter"
	"telegram-lessons-bot/internal/infra/metrics"
)

// Pacer is the process-wide outbound token bucket. A 429 pauses every caller
// until the advertised retry_after has passed.
type Pacer struct {
	lim *rate.Limiter

	mu    sync.Mutex
	until time.Time
}

func NewPacer(perSecond int) *Pacer {
	if perSecond <= 0 {
		perSecond = 30
	}
	return &Pacer{lim: rate.NewLimiter(rate.Limit(perSecond), 1)}
}

// Wait blocks until a pause is over and a token is available. A pause that
// starts while the caller is queued on the limiter is honored too.
func (p *Pacer) Wait(ctx context.Context) error {
	start := time.Now()
	for {
		if err := p.sleepPause(ctx); err != nil {
			return err
		}
		if err := p.lim.Wait(ctx); err != nil {
			return err
		}
		if p.PausedFor() == 0 {
			break
		}
	}
	metrics.ObservePacerWait(time.Since(start))
	return nil
}

func (p *Pacer) sleepPause(ctx context.Context) error {
	for {
		wait := p.PausedFor()
		if wait <= 0 {
			return nil
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Pause stops all sends for d. Overlapping pauses keep the later deadline.
func (p *Pacer) Pause(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t := time.Now().Add(d); t.After(p.until) {
		p.until = t
	}
}

// PausedFor reports the remaining pause.
func (p *Pacer) PausedFor() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d := time.Until(p.until); d > 0 {
		return d
	}
	return 0
}

var _ adapter.TelegramGateway = (*PacedGateway)(nil)

// PacedGateway puts every message-producing call behind the shared Pacer.
// Query answers, refunds and join approvals go straight through.
type PacedGateway struct {
	adapter.TelegramGateway
	pacer *Pacer
	log   *zerolog.Logger
}

func NewPacedGateway(next adapter.TelegramGateway, pacer *Pacer, logger *zerolog.Logger) *PacedGateway {
	l := logger.With().Str("component", "Pacer").Logger()
	return &PacedGateway{TelegramGateway: next, pacer: pacer, log: &l}
}

func (g *PacedGateway) Send(ctx context.Context, chatID int64, art model.Artifact, kb model.Keyboard) model.SendResult {
	if err := g.pacer.Wait(ctx); err != nil {
		return cancelled(err)
	}
	return g.observe(g.TelegramGateway.Send(ctx, chatID, art, kb))
}

func (g *PacedGateway) Copy(ctx context.Context, fromChatID int64, messageID int, toChatID int64, kb model.Keyboard) model.SendResult {
	if err := g.pacer.Wait(ctx); err != nil {
		return cancelled(err)
	}
	return g.observe(g.TelegramGateway.Copy(ctx, fromChatID, messageID, toChatID, kb))
}

func (g *PacedGateway) SendButtons(ctx context.Context, chatID int64, text string, rows [][]adapter.InlineButton) model.SendResult {
	if err := g.pacer.Wait(ctx); err != nil {
		return cancelled(err)
	}
	return g.observe(g.TelegramGateway.SendButtons(ctx, chatID, text, rows))
}

func (g *PacedGateway) SendInvoice(ctx context.Context, inv adapter.Invoice) model.SendResult {
	if err := g.pacer.Wait(ctx); err != nil {
		return cancelled(err)
	}
	return g.observe(g.TelegramGateway.SendInvoice(ctx, inv))
}

func (g *PacedGateway) observe(res model.SendResult) model.SendResult {
	if res.Kind == model.ResultRateLimited {
		g.log.Warn().Dur("retry_after", res.RetryAfter).Msg("flood control, pausing all sends")
		g.pacer.Pause(res.RetryAfter)
	}
	return res
}
