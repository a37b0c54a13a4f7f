package positions

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dmateu/syncanvas/internal/store"
)

const defaultRetention = 7 * 24 * time.Hour

// Janitor periodically flushes dirty layout entries and purges durable
// records that have not been saved within the retention window. The sweep
// schedule is a standard five-field cron expression.
type Janitor struct {
	cache     *Cache
	store     store.Store
	schedule  cron.Schedule
	retention time.Duration
	logger    *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewJanitor parses the cron expression and builds a Janitor. A zero
// retention falls back to the 7-day default.
func NewJanitor(cache *Cache, st store.Store, cronExpr string, retention time.Duration, logger *slog.Logger) (*Janitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("parse janitor schedule %q: %w", cronExpr, err)
	}
	return &Janitor{
		cache:     cache,
		store:     st,
		schedule:  schedule,
		retention: retention,
		logger:    logger,
	}, nil
}

// Start launches the background sweep loop.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.done != nil {
		j.mu.Unlock()
		return fmt.Errorf("janitor already started")
	}
	sweepCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})
	j.mu.Unlock()

	go j.loop(sweepCtx)
	j.logger.Info("layout janitor started")
	return nil
}

func (j *Janitor) loop(ctx context.Context) {
	defer close(j.done)

	for {
		next := j.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			j.tick(ctx)
		}
	}
}

// tick flushes all dirty in-memory entries, then purges stale durable rows.
// Idle in-memory eviction itself is handled by the cache's expiring tier;
// flushing first guarantees nothing dirty is lost to it.
func (j *Janitor) tick(ctx context.Context) {
	j.cache.Flush(ctx)

	cutoff := time.Now().UTC().Add(-j.retention)
	purged, err := j.store.PurgeStalePositions(ctx, cutoff)
	if err != nil {
		j.logger.Error("failed to purge stale layouts", slog.String("error", err.Error()))
		return
	}
	if purged > 0 {
		j.logger.Info("purged stale layouts", slog.Int64("count", purged))
	}
}

// Stop gracefully shuts down the janitor.
func (j *Janitor) Stop() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cancel == nil {
		return nil
	}
	j.cancel()
	<-j.done
	j.cancel = nil
	j.done = nil

	j.logger.Info("layout janitor stopped")
	return nil
}
