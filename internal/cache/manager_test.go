package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/finchat-kernel/internal/records"
)

// fakeClock is an adjustable clock for TTL tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testDataset(userID string) *records.Dataset {
	return records.BuildDataset(userID, records.RecordSet{})
}

func staticBuilder(calls *int64) Builder {
	return func(ctx context.Context, userID string) (*records.Dataset, error) {
		atomic.AddInt64(calls, 1)
		return testDataset(userID), nil
	}
}

func TestGetOrBuildCachesResult(t *testing.T) {
	m := NewManager(Config{}, zaptest.NewLogger(t))
	var calls int64

	ds1, err := m.GetOrBuild(context.Background(), "u1", staticBuilder(&calls))
	require.NoError(t, err)
	ds2, err := m.GetOrBuild(context.Background(), "u1", staticBuilder(&calls))
	require.NoError(t, err)

	assert.Same(t, ds1, ds2)
	assert.EqualValues(t, 1, atomic.LoadInt64(&calls))
}

func TestGetOrBuildSingleFlight(t *testing.T) {
	m := NewManager(Config{}, zaptest.NewLogger(t))

	var calls int64
	release := make(chan struct{})
	builder := func(ctx context.Context, userID string) (*records.Dataset, error) {
		atomic.AddInt64(&calls, 1)
		<-release
		return testDataset(userID), nil
	}

	const n = 16
	results := make([]*records.Dataset, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.GetOrBuild(context.Background(), "u1", builder)
		}(i)
	}

	// Let all callers reach the flight before the build completes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt64(&calls), "builder must run exactly once")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i], "all waiters share one dataset")
	}
}

func TestUnrelatedKeysBuildIndependently(t *testing.T) {
	m := NewManager(Config{}, zaptest.NewLogger(t))
	var calls int64

	_, err := m.GetOrBuild(context.Background(), "u1", staticBuilder(&calls))
	require.NoError(t, err)
	_, err = m.GetOrBuild(context.Background(), "u2", staticBuilder(&calls))
	require.NoError(t, err)

	assert.EqualValues(t, 2, atomic.LoadInt64(&calls))
}

func TestInvalidateForcesRebuild(t *testing.T) {
	m := NewManager(Config{}, zaptest.NewLogger(t))
	var calls int64

	_, err := m.GetOrBuild(context.Background(), "u1", staticBuilder(&calls))
	require.NoError(t, err)

	m.Invalidate("u1")

	_, err = m.GetOrBuild(context.Background(), "u1", staticBuilder(&calls))
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt64(&calls))
}

func TestInvalidateIsIdempotentAndUnknownKeySafe(t *testing.T) {
	m := NewManager(Config{}, zaptest.NewLogger(t))
	m.Invalidate("nobody")
	m.Invalidate("nobody")
	m.Clear()
	m.Clear()
}

func TestTTLExpiryTriggersRebuild(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(Config{TTL: 5 * time.Minute, Now: clock.Now}, zaptest.NewLogger(t))
	var calls int64

	_, err := m.GetOrBuild(context.Background(), "u1", staticBuilder(&calls))
	require.NoError(t, err)

	// Just inside the TTL: still a hit.
	clock.Advance(5*time.Minute - time.Second)
	_, err = m.GetOrBuild(context.Background(), "u1", staticBuilder(&calls))
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt64(&calls))

	// Past the TTL: treated as a miss.
	clock.Advance(2 * time.Second)
	_, err = m.GetOrBuild(context.Background(), "u1", staticBuilder(&calls))
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt64(&calls))
}

func TestBuilderFailureIsNotCached(t *testing.T) {
	m := NewManager(Config{}, zaptest.NewLogger(t))
	boom := errors.New("store unreachable")

	var calls int64
	failing := func(ctx context.Context, userID string) (*records.Dataset, error) {
		atomic.AddInt64(&calls, 1)
		return nil, boom
	}

	_, err := m.GetOrBuild(context.Background(), "u1", failing)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	// The failure must not be cached: the next call retries.
	_, err = m.GetOrBuild(context.Background(), "u1", failing)
	require.Error(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt64(&calls))
}

func TestStaleBuildCannotClobberInvalidation(t *testing.T) {
	m := NewManager(Config{}, zaptest.NewLogger(t))

	started := make(chan struct{})
	release := make(chan struct{})
	slow := func(ctx context.Context, userID string) (*records.Dataset, error) {
		close(started)
		<-release
		return testDataset(userID), nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := m.GetOrBuild(context.Background(), "u1", slow)
		assert.NoError(t, err)
	}()

	<-started
	// Invalidate while the build is in flight: the build started under
	// the old generation and its result must not be stored.
	m.Invalidate("u1")
	close(release)
	<-done

	var calls int64
	_, err := m.GetOrBuild(context.Background(), "u1", staticBuilder(&calls))
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt64(&calls), "read after invalidation must rebuild")
}

func TestReadAfterInvalidateDoesNotJoinStaleFlight(t *testing.T) {
	m := NewManager(Config{}, zaptest.NewLogger(t))

	started := make(chan struct{})
	release := make(chan struct{})
	var slowCalls int64
	slow := func(ctx context.Context, userID string) (*records.Dataset, error) {
		atomic.AddInt64(&slowCalls, 1)
		close(started)
		<-release
		return testDataset(userID), nil
	}

	go func() {
		_, _ = m.GetOrBuild(context.Background(), "u1", slow)
	}()
	<-started
	m.Invalidate("u1")

	// This read starts under the new generation and must run its own
	// build rather than waiting on the stale one.
	var freshCalls int64
	_, err := m.GetOrBuild(context.Background(), "u1", staticBuilder(&freshCalls))
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt64(&freshCalls))

	close(release)
}

func TestClearDropsAllEntries(t *testing.T) {
	m := NewManager(Config{}, zaptest.NewLogger(t))
	var calls int64

	_, err := m.GetOrBuild(context.Background(), "u1", staticBuilder(&calls))
	require.NoError(t, err)
	_, err = m.GetOrBuild(context.Background(), "u2", staticBuilder(&calls))
	require.NoError(t, err)

	m.Clear()

	_, err = m.GetOrBuild(context.Background(), "u1", staticBuilder(&calls))
	require.NoError(t, err)
	_, err = m.GetOrBuild(context.Background(), "u2", staticBuilder(&calls))
	require.NoError(t, err)
	assert.EqualValues(t, 4, atomic.LoadInt64(&calls))
}

func TestClearCoversInFlightBuilds(t *testing.T) {
	m := NewManager(Config{}, zaptest.NewLogger(t))

	started := make(chan struct{})
	release := make(chan struct{})
	slow := func(ctx context.Context, userID string) (*records.Dataset, error) {
		close(started)
		<-release
		return testDataset(userID), nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := m.GetOrBuild(context.Background(), "u1", slow)
		assert.NoError(t, err)
	}()

	<-started
	// Clear while u1's very first build is in flight: no entry exists
	// yet, but the generation bump must still cover the build so its
	// result is not stored.
	m.Clear()
	close(release)
	<-done

	var calls int64
	_, err := m.GetOrBuild(context.Background(), "u1", staticBuilder(&calls))
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt64(&calls), "read after clear must rebuild")
}

func TestCancelledCallerDoesNotAbortSharedBuild(t *testing.T) {
	m := NewManager(Config{}, zaptest.NewLogger(t))

	started := make(chan struct{})
	release := make(chan struct{})
	var buildCtxErr error
	builder := func(ctx context.Context, userID string) (*records.Dataset, error) {
		close(started)
		<-release
		buildCtxErr = ctx.Err()
		return testDataset(userID), nil
	}

	ctx1, cancel1 := context.WithCancel(context.Background())
	results := make(chan error, 2)
	go func() {
		_, err := m.GetOrBuild(ctx1, "u1", builder)
		results <- err
	}()
	<-started
	go func() {
		_, err := m.GetOrBuild(context.Background(), "u1", builder)
		results <- err
	}()
	time.Sleep(20 * time.Millisecond)

	// First caller disconnects; the second is still waiting, so the
	// build context must stay live.
	cancel1()
	err1 := <-results
	assert.ErrorIs(t, err1, context.Canceled)

	close(release)
	err2 := <-results
	assert.NoError(t, err2)
	assert.NoError(t, buildCtxErr, "build context must not be cancelled while waiters remain")
}

func TestCallerAfterAbandonedBuildGetsFreshBuild(t *testing.T) {
	m := NewManager(Config{}, zaptest.NewLogger(t))

	started := make(chan struct{})
	cancelled := make(chan struct{})
	abandoned := func(ctx context.Context, userID string) (*records.Dataset, error) {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return nil, ctx.Err()
	}

	ctx1, cancel1 := context.WithCancel(context.Background())
	go func() {
		_, _ = m.GetOrBuild(ctx1, "u1", abandoned)
	}()
	<-started

	// The only waiter disconnects; the build is abandoned and its
	// flight forgotten.
	cancel1()
	<-cancelled

	// A caller arriving afterwards must run its own build, not inherit
	// the abandoned flight's context.Canceled.
	var calls int64
	_, err := m.GetOrBuild(context.Background(), "u1", staticBuilder(&calls))
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt64(&calls))
}

func TestStatsCounts(t *testing.T) {
	m := NewManager(Config{}, zaptest.NewLogger(t))
	var calls int64

	_, _ = m.GetOrBuild(context.Background(), "u1", staticBuilder(&calls))
	_, _ = m.GetOrBuild(context.Background(), "u1", staticBuilder(&calls))
	m.Invalidate("u1")

	stats := m.Stats()
	assert.EqualValues(t, 1, stats["hits"])
	assert.EqualValues(t, 1, stats["misses"])
	assert.EqualValues(t, 1, stats["builds"])
	assert.EqualValues(t, 1, stats["invalidations"])
}
