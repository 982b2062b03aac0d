package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/invitegen/edgegate/internal/metrics"
	"github.com/invitegen/edgegate/pkg/logger"
)

// DefaultSweepInterval is used when no interval or policy window is known.
const DefaultSweepInterval = time.Minute

// Sweeper periodically removes expired records from a Store.
// It runs on its own schedule and never touches the request path beyond
// the store's chunked locking.
type Sweeper struct {
	store    Store
	interval time.Duration
	now      func() time.Time
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewSweeper creates a sweeper for store. Intervals under one second are
// raised to one second, the scheduler's resolution.
func NewSweeper(store Store, interval time.Duration, log *logger.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if interval < time.Second {
		interval = time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		now:      time.Now,
		log:      log.With("component", "ratelimit.sweeper"),
	}
}

// Interval returns the effective sweep interval.
func (s *Sweeper) Interval() time.Duration {
	return s.interval
}

// Start schedules the sweep.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		_, _ = s.RunOnce(context.Background())
	}); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	c.Start()
	s.cron = c
	s.running = true

	s.log.Info("rate limit sweeper started", "interval", s.interval.String())
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	<-s.cron.Stop().Done()
	s.running = false
	s.log.Info("rate limit sweeper stopped")
}

// RunOnce sweeps immediately.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	removed, err := s.store.Sweep(ctx, s.now())
	if err != nil {
		s.log.Error("rate limit sweep failed", "error", err)
		return removed, err
	}

	metrics.RecordSweep(removed)
	if sized, ok := s.store.(interface{ Len() int }); ok {
		metrics.SetActiveKeys(sized.Len())
	}

	if removed > 0 {
		s.log.Debug("swept expired rate limit records", "removed", removed)
	}
	return removed, nil
}
