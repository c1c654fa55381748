// Package scheduler owns the only timer of the service: it runs engine ticks
// on a fixed interval.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/reancirl/car-erp-sub006/internal/clock"
	"github.com/reancirl/car-erp-sub006/internal/engine"
)

type ticker interface {
	Tick(ctx context.Context, now time.Time) (engine.TickReport, error)
}

// Scheduler calls Tick every interval. Ticks never overlap: a manual RunOnce
// waits for a running scheduled tick and vice versa.
type Scheduler struct {
	engine   ticker
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger

	tickMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(e ticker, c clock.Clock, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		engine:   e,
		clock:    c,
		interval: interval,
		logger:   logger,
	}
}

// Start runs a tick immediately and then every interval until Stop or ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	s.logger.Info("scheduler started", "interval", s.interval)

	go func() {
		defer close(done)
		s.RunOnce(ctx)

		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
		s.logger.Info("scheduler stopped")
	}
}

// RunOnce runs one tick at the clock's current time.
func (s *Scheduler) RunOnce(ctx context.Context) (engine.TickReport, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	report, err := s.engine.Tick(ctx, s.clock.Now())
	if err != nil {
		s.logger.Error("tick failed", "error", err)
	}
	return report, err
}
