// File: internal/infra/worker/pool.go
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// ErrPoolFull is returned by Submit when every slot is busy.
var ErrPoolFull = errors.New("worker pool full")

type Task func(ctx context.Context) error

// Pool runs at most n tasks at once. Submit never queues; the caller asks
// Free first and retries on a later tick.
type Pool struct {
	wg    sync.WaitGroup
	slots chan struct{}
	log   *zerolog.Logger
}

func NewPool(workers int, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	l := logger.With().Str("component", "WorkerPool").Logger()
	return &Pool{slots: make(chan struct{}, workers), log: &l}
}

// Free reports how many slots are idle right now.
func (p *Pool) Free() int { return cap(p.slots) - len(p.slots) }

// Submit starts task in its own goroutine if a slot is free.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	if task == nil {
		return errors.New("nil task")
	}
	select {
	case p.slots <- struct{}{}:
	default:
		return ErrPoolFull
	}
	p.wg.Add(1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				p.log.Error().Interface("panic", rec).Msg("task panicked")
			}
			<-p.slots
			p.wg.Done()
		}()
		if err := task(ctx); err != nil {
			p.log.Error().Err(err).Msg("task error")
		}
	}()
	return nil
}

// Wait blocks until every running task returned.
func (p *Pool) Wait() { p.wg.Wait() }
