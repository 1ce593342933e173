package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"telegram-lessons-bot/internal/domain/ports/repository"
	uc "telegram-lessons-bot/internal/domain/ports/usecase"
	"telegram-lessons-bot/internal/infra/metrics"
	"telegram-lessons-bot/internal/infra/redis"
)

const reconcilerLockKey = "lessons:lock:delivery-reconciler"

// DeliveryReconciler retries lesson delivery for paid purchases whose content
// never reached the buyer, e.g. after a send failed or the process crashed
// between recording the payment and sending the lesson.
type DeliveryReconciler struct {
	purchases  repository.PurchaseRepository
	deliverer  uc.ContentDeliverer
	locker     redis.Locker
	interval   time.Duration
	staleAfter time.Duration
	batch      int
	now        func() time.Time
	log        *zerolog.Logger
}

// NewDeliveryReconciler accepts a nil locker; each process then scans on its
// own and delivery stays safe through MarkDelivered.
func NewDeliveryReconciler(purchases repository.PurchaseRepository, deliverer uc.ContentDeliverer, locker redis.Locker, interval, staleAfter time.Duration, logger *zerolog.Logger) *DeliveryReconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 2 * time.Minute
	}
	l := logger.With().Str("component", "DeliveryReconciler").Logger()
	return &DeliveryReconciler{
		purchases:  purchases,
		deliverer:  deliverer,
		locker:     locker,
		interval:   interval,
		staleAfter: staleAfter,
		batch:      100,
		now:        func() time.Time { return time.Now().UTC() },
		log:        &l,
	}
}

func (w *DeliveryReconciler) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting delivery reconciler")
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping delivery reconciler")
			return nil
		case <-t.C:
			w.Tick(ctx)
		}
	}
}

// Tick redelivers one batch and reports how many purchases were delivered.
func (w *DeliveryReconciler) Tick(ctx context.Context) int {
	if w.locker != nil {
		token, err := w.locker.TryLock(ctx, reconcilerLockKey, w.interval)
		if errors.Is(err, redis.ErrLockHeld) {
			return 0
		}
		if err != nil {
			w.log.Warn().Err(err).Msg("leader lock unavailable, skipping tick")
			return 0
		}
		defer func() {
			err := w.locker.Unlock(context.WithoutCancel(ctx), reconcilerLockKey, token)
			switch {
			case errors.Is(err, redis.ErrLockLost):
				w.log.Warn().Dur("ttl", w.interval).Msg("reconcile tick outlived its lease")
			case err != nil:
				w.log.Debug().Err(err).Msg("unlock")
			}
		}()
	}

	pending, err := w.purchases.ListUndelivered(ctx, repository.NoTX, w.now().Add(-w.staleAfter), w.batch)
	if err != nil {
		w.log.Error().Err(err).Msg("list undelivered purchases")
		return 0
	}
	n := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			break
		}
		if err := w.deliverer.DeliverPurchase(ctx, p); err != nil {
			metrics.IncDelivery("reconcile_failed")
			w.log.Warn().Err(err).Int64("purchase_id", p.ID).Int64("user_id", p.UserID).Msg("redelivery failed")
			continue
		}
		metrics.IncDelivery("reconciled")
		n++
	}
	if n > 0 {
		w.log.Info().Int("count", n).Msg("purchases redelivered")
	}
	return n
}
