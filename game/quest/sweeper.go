package quest

import (
	"context"
	"sync"
	"time"

	"github.com/kasuganosora/questkeeper/config"
	"github.com/kasuganosora/questkeeper/scheduler"
	"github.com/kasuganosora/questkeeper/store"
	"go.uber.org/zap"
)

// Scheduler task names registered by the sweeper.
const (
	TaskExpiration          = "quest_expiration"
	TaskExpirationStoreScan = "quest_expiration_store_scan"
	TaskCacheGC             = "quest_cache_gc"
)

// Sweeper expires assignments past their deadline. Each tick scans the
// registry snapshot and starts one independent expiration per due
// assignment; it never waits for them. A slower store scan catches
// assignments that are not in the registry.
type Sweeper struct {
	lifecycle *Lifecycle
	registry  *Registry
	gw        *store.Gateway
	evictors  []interface{ EvictIdle() int }
	logger    *zap.Logger
	now       func() time.Time

	inflight sync.Map // assignment id -> struct{}
	wg       sync.WaitGroup
}

// NewSweeper creates a sweeper. evictors are trimmed by the cache GC task.
func NewSweeper(lifecycle *Lifecycle, registry *Registry, gw *store.Gateway, logger *zap.Logger,
	evictors ...interface{ EvictIdle() int }) *Sweeper {
	return &Sweeper{
		lifecycle: lifecycle,
		registry:  registry,
		gw:        gw,
		evictors:  evictors,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock replaces the time source. Used by tests.
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Register adds the sweeper's periodic tasks to sched.
func (s *Sweeper) Register(sched *scheduler.Scheduler, cfg config.QuestConfig) {
	sched.AddTicker(TaskExpiration, cfg.SweepInterval, func(context.Context) { s.Tick() })
	sched.AddTicker(TaskExpirationStoreScan, cfg.StoreScanInterval, func(ctx context.Context) {
		if _, err := s.ScanStore(ctx); err != nil {
			s.logger.Warn("quest: expiration store scan", zap.Error(err))
		}
	})
	gcInterval := cfg.CacheTTL / 4
	if gcInterval < time.Second {
		gcInterval = time.Second
	}
	sched.AddTicker(TaskCacheGC, gcInterval, func(context.Context) { s.EvictIdle() })
}

// Tick dispatches an expiration for every due assignment in the registry
// snapshot and returns how many it started.
func (s *Sweeper) Tick() int {
	now := s.now()
	started := 0
	for _, a := range s.registry.Snapshot() {
		if a.Expired(now) && s.dispatch(a.ID) {
			started++
		}
	}
	return started
}

// ScanStore dispatches expirations for due assignments found in the store.
func (s *Sweeper) ScanStore(ctx context.Context) (int, error) {
	due, err := s.gw.ListExpiredAssignments(ctx, s.now())
	if err != nil {
		return 0, err
	}
	started := 0
	for _, a := range due {
		if s.dispatch(a.ID) {
			started++
		}
	}
	return started, nil
}

// dispatch starts one expiration unless one is already running for id.
func (s *Sweeper) dispatch(id int64) bool {
	if _, busy := s.inflight.LoadOrStore(id, struct{}{}); busy {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inflight.Delete(id)
		if out := s.lifecycle.Expire(context.Background(), id); out == OutcomeError {
			s.logger.Warn("quest: expiration failed", zap.Int64("assignment_id", id))
		}
	}()
	return true
}

// Wait blocks until every dispatched expiration has finished.
func (s *Sweeper) Wait() {
	s.wg.Wait()
}

// EvictIdle trims idle entries from the registry and the other caches.
func (s *Sweeper) EvictIdle() int {
	n := s.registry.EvictIdle()
	for _, e := range s.evictors {
		n += e.EvictIdle()
	}
	return n
}
