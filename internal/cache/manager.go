// Package cache holds the per-user prepared datasets behind a
// get-or-build contract: concurrent requests for the same user coalesce
// into one build, entries expire lazily on TTL, and explicit invalidation
// is linearized through a per-key generation counter so a build started
// before an invalidation can never clobber one started after it.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/finchat-kernel/internal/records"
)

// DefaultTTL bounds how long a prepared dataset may serve reads.
const DefaultTTL = 5 * time.Minute

// Builder loads and materializes a user's dataset. It runs at most once
// per cache miss regardless of how many callers are waiting.
type Builder func(ctx context.Context, userID string) (*records.Dataset, error)

// Config tunes the manager. Zero values get defaults.
type Config struct {
	TTL time.Duration

	// Now is the clock used for TTL checks. Tests inject a fake.
	Now func() time.Time
}

// Metrics tracks cache behavior for the stats endpoint.
type Metrics struct {
	Hits          int64
	Misses        int64
	Builds        int64
	BuildErrors   int64
	Invalidations int64
}

type entry struct {
	dataset *records.Dataset
	builtAt time.Time
	gen     uint64
}

// flight tracks the live waiters of one in-progress build so the build
// context is cancelled only when nobody is left to receive the result.
type flight struct {
	waiters int
	ctx     context.Context
	cancel  context.CancelFunc
	done    bool
}

// Manager is the process-wide cache of prepared datasets, keyed by user.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry
	gens    map[string]uint64

	group   singleflight.Group
	flights map[string]*flight
	fmu     sync.Mutex

	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger

	metrics   Metrics
	metricsMu sync.Mutex

	broadcast *broadcaster
}

// NewManager creates a cache manager.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		entries: make(map[string]*entry),
		gens:    make(map[string]uint64),
		flights: make(map[string]*flight),
		ttl:     cfg.TTL,
		now:     cfg.Now,
		logger:  logger.Named("cache"),
	}
}

// GetOrBuild returns the cached dataset for userID, building it through
// builder on a miss. Concurrent callers for the same key share one build
// and all receive its result; unrelated keys build in parallel. A failed
// build is never stored, its error goes to every waiter, and the next
// call starts fresh.
func (m *Manager) GetOrBuild(ctx context.Context, userID string, builder Builder) (*records.Dataset, error) {
	if ds, ok := m.lookup(userID); ok {
		m.recordHit()
		return ds, nil
	}
	m.recordMiss()

	// The generation is captured before the build starts and the flight
	// key includes it, so a read arriving after Invalidate never joins
	// a build that started before it. ensureGen materializes the key so
	// Clear sees the build even if it has never stored an entry.
	gen := m.ensureGen(userID)
	key := userID + "#" + strconv.FormatUint(gen, 10)

	m.addWaiter(key)
	defer m.removeWaiter(key)

	ch := m.group.DoChan(key, func() (interface{}, error) {
		f, bctx := m.flightContext(key)
		defer m.finishFlight(key, f)

		m.recordBuild()
		ds, err := builder(bctx, userID)
		if err != nil {
			m.recordBuildError()
			return nil, err
		}
		m.store(userID, ds, gen)
		return ds, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("building dataset for user %s: %w", userID, res.Err)
		}
		return res.Val.(*records.Dataset), nil
	case <-ctx.Done():
		// The build keeps running for the remaining waiters; it is
		// cancelled by removeWaiter once the last one leaves.
		return nil, ctx.Err()
	}
}

// Invalidate drops the user's entry and bumps its generation so any build
// still in flight for the old generation cannot repopulate the cache.
// It never blocks on in-flight builds.
func (m *Manager) Invalidate(userID string) {
	m.invalidateLocal(userID)
	if m.broadcast != nil {
		m.broadcast.publish(userID)
	}
}

func (m *Manager) invalidateLocal(userID string) {
	m.mu.Lock()
	delete(m.entries, userID)
	m.gens[userID]++
	m.mu.Unlock()

	m.recordInvalidation()
	m.logger.Debug("cache invalidated", zap.String("user", userID))
}

// Clear drops every entry. Generations are bumped for every known key,
// not just the stored ones, so builds still in flight cannot repopulate
// the cache afterwards. Idempotent; intended for operator use.
func (m *Manager) Clear() {
	m.mu.Lock()
	for userID := range m.entries {
		delete(m.entries, userID)
	}
	for userID := range m.gens {
		m.gens[userID]++
	}
	m.mu.Unlock()

	m.logger.Info("cache cleared")
}

// Stats returns a snapshot of cache metrics plus the current entry count.
func (m *Manager) Stats() map[string]interface{} {
	m.metricsMu.Lock()
	metrics := m.metrics
	m.metricsMu.Unlock()

	m.mu.RLock()
	size := len(m.entries)
	m.mu.RUnlock()

	return map[string]interface{}{
		"entries":       size,
		"hits":          metrics.Hits,
		"misses":        metrics.Misses,
		"builds":        metrics.Builds,
		"build_errors":  metrics.BuildErrors,
		"invalidations": metrics.Invalidations,
		"ttl_seconds":   m.ttl.Seconds(),
	}
}

// lookup returns the entry for userID if it is present, current, and
// inside its TTL. Expiry is lazy: an aged entry is simply ignored here
// and overwritten by the next successful build.
func (m *Manager) lookup(userID string) (*records.Dataset, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[userID]
	if !ok {
		return nil, false
	}
	if e.gen != m.gens[userID] {
		return nil, false
	}
	if m.now().Sub(e.builtAt) >= m.ttl {
		return nil, false
	}
	return e.dataset, true
}

// store installs a freshly built dataset, but only if the key's
// generation still matches the one the build started under. A build that
// raced an invalidation is dropped here; its waiters still receive the
// value directly, and the next read rebuilds.
func (m *Manager) store(userID string, ds *records.Dataset, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gens[userID] != gen {
		m.logger.Debug("discarding stale build",
			zap.String("user", userID),
			zap.Uint64("build_gen", gen),
			zap.Uint64("current_gen", m.gens[userID]))
		return
	}
	m.entries[userID] = &entry{dataset: ds, builtAt: m.now(), gen: gen}
}

// TTL returns the configured entry time-to-live. Layers that memoize
// values derived from a dataset must not keep them longer than this.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Generation returns the user's current invalidation generation. It
// moves only on Invalidate/Clear, so anything derived from the dataset
// can be memoized under (user, generation) and never outlive the data.
func (m *Manager) Generation(userID string) uint64 {
	return m.currentGen(userID)
}

func (m *Manager) currentGen(userID string) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gens[userID]
}

// ensureGen returns the user's generation, creating the map entry if the
// key has never been seen. Clear bumps every key in the map, so a key
// must exist there before its first build starts.
func (m *Manager) ensureGen(userID string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.gens[userID]; !ok {
		m.gens[userID] = 0
	}
	return m.gens[userID]
}

func (m *Manager) addWaiter(key string) {
	m.fmu.Lock()
	defer m.fmu.Unlock()

	f, ok := m.flights[key]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		f = &flight{ctx: ctx, cancel: cancel}
		m.flights[key] = f
	}
	f.waiters++
}

func (m *Manager) removeWaiter(key string) {
	m.fmu.Lock()
	defer m.fmu.Unlock()

	f, ok := m.flights[key]
	if !ok {
		return
	}
	f.waiters--
	if f.waiters <= 0 && !f.done {
		// Last waiter gone while the build is still running: nobody is
		// left to consume the result. Forget the flight first so a
		// caller arriving after this point starts a fresh build rather
		// than joining the doomed one, then cancel the load.
		m.group.Forget(key)
		f.cancel()
		delete(m.flights, key)
	}
}

func (m *Manager) flightContext(key string) (*flight, context.Context) {
	m.fmu.Lock()
	defer m.fmu.Unlock()

	if f, ok := m.flights[key]; ok {
		return f, f.ctx
	}
	// The flight was reaped between DoChan and the function body
	// starting: every waiter already left. The orphaned build runs
	// uncancellable to completion; storing its result is harmless
	// (the generation check still applies) and nobody observes it.
	return nil, context.Background()
}

// finishFlight tears down the flight a completed build ran under. The
// pointer comparison matters: after an abandoned build is forgotten, a
// new flight can exist under the same key, and the old build must not
// reap it.
func (m *Manager) finishFlight(key string, f *flight) {
	if f == nil {
		return
	}
	m.fmu.Lock()
	defer m.fmu.Unlock()

	f.done = true
	if m.flights[key] == f {
		f.cancel()
		delete(m.flights, key)
	}
}

func (m *Manager) recordHit() {
	m.metricsMu.Lock()
	m.metrics.Hits++
	m.metricsMu.Unlock()
}

func (m *Manager) recordMiss() {
	m.metricsMu.Lock()
	m.metrics.Misses++
	m.metricsMu.Unlock()
}

func (m *Manager) recordBuild() {
	m.metricsMu.Lock()
	m.metrics.Builds++
	m.metricsMu.Unlock()
}

func (m *Manager) recordBuildError() {
	m.metricsMu.Lock()
	m.metrics.BuildErrors++
	m.metricsMu.Unlock()
}

func (m *Manager) recordInvalidation() {
	m.metricsMu.Lock()
	m.metrics.Invalidations++
	m.metricsMu.Unlock()
}
