package flags

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeScheduler records armed timers and lets tests fire them manually
type fakeScheduler struct {
	mu      sync.Mutex
	pending []func()
	stopped int
}

func (s *fakeScheduler) Schedule(d time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, fn)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.stopped++
	}
}

func (s *fakeScheduler) Fire(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		t.Fatal("no timer armed")
	}
	fn := s.pending[0]
	s.pending = s.pending[1:]
	s.mu.Unlock()
	fn()
}

func (s *fakeScheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

type fakeClient struct {
	mu        sync.Mutex
	flags     map[string]bool
	fetchErr  error
	evalErr   error
	fetches   int
	evals     int
	evalValue bool
}

func (f *fakeClient) FetchAll(ctx context.Context, endpoint string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := make(map[string]bool, len(f.flags))
	for k, v := range f.flags {
		out[k] = v
	}
	return out, nil
}

func (f *fakeClient) EvaluateFlag(ctx context.Context, endpoint, flag string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evals++
	if f.evalErr != nil {
		return false, f.evalErr
	}
	return f.evalValue, nil
}

func (f *fakeClient) SetFlags(flags map[string]bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags = flags
}

func (f *fakeClient) Fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

const endpoint = "https://flags.example.com"

func newTestCache(t *testing.T) (*Cache, *fakeClient, *fakeClock, *fakeScheduler) {
	t.Helper()
	client := &fakeClient{flags: map[string]bool{}}
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	sched := &fakeScheduler{}
	return NewCache(client, clock, sched, nil), client, clock, sched
}

func TestGet_UnknownFlag(t *testing.T) {
	cache, _, _, _ := newTestCache(t)

	_, ok := cache.Get("search-ranking-v2", endpoint)
	assert.False(t, ok)
}

func TestRefreshThenGet(t *testing.T) {
	cache, client, _, _ := newTestCache(t)
	client.SetFlags(map[string]bool{"search-ranking-v2": true})

	require.NoError(t, cache.Refresh(context.Background(), endpoint))

	value, ok := cache.Get("search-ranking-v2", endpoint)
	assert.True(t, ok)
	assert.True(t, value)
}

func TestGet_StaleTriggersBackgroundRefresh(t *testing.T) {
	defer goleak.VerifyNone(t)

	cache, client, clock, _ := newTestCache(t)
	client.SetFlags(map[string]bool{"f": true})
	require.NoError(t, cache.Refresh(context.Background(), endpoint))
	assert.Equal(t, 1, client.Fetches())

	// Fresh snapshot: no refresh
	_, _ = cache.Get("f", endpoint)
	assert.Equal(t, 1, client.Fetches())

	clock.Advance(61 * time.Minute)

	// Stale snapshot is still served immediately
	value, ok := cache.Get("f", endpoint)
	assert.True(t, ok)
	assert.True(t, value)

	assert.Eventually(t, func() bool {
		return client.Fetches() == 2
	}, 2*time.Second, 10*time.Millisecond, "stale Get must refresh in the background")
}

func TestEvaluate_FailsClosed(t *testing.T) {
	cache, client, _, _ := newTestCache(t)
	client.evalErr = errors.New("network down")

	assert.False(t, cache.Evaluate(context.Background(), "unknown-flag", endpoint))
}

func TestEvaluate_CachesResult(t *testing.T) {
	cache, client, _, _ := newTestCache(t)
	client.evalValue = true

	assert.True(t, cache.Evaluate(context.Background(), "f", endpoint))
	assert.Equal(t, 1, client.evals)

	// Second call is served from cache
	assert.True(t, cache.Evaluate(context.Background(), "f", endpoint))
	assert.Equal(t, 1, client.evals)

	value, ok := cache.Get("f", endpoint)
	assert.True(t, ok)
	assert.True(t, value)
}

func TestOnChange_FiresOnlyOnRealChanges(t *testing.T) {
	cache, client, _, _ := newTestCache(t)
	client.SetFlags(map[string]bool{"exp-a": true, "other": true})

	var calls []map[string]bool
	unsub := cache.OnChange(endpoint, "exp-", func(flags map[string]bool) {
		calls = append(calls, flags)
	})
	defer unsub()

	require.NoError(t, cache.Refresh(context.Background(), endpoint))
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]bool{"exp-a": true}, calls[0])

	// Same snapshot again: no callback
	require.NoError(t, cache.Refresh(context.Background(), endpoint))
	assert.Len(t, calls, 1)

	// Change outside the prefix: no callback
	client.SetFlags(map[string]bool{"exp-a": true, "other": false})
	require.NoError(t, cache.Refresh(context.Background(), endpoint))
	assert.Len(t, calls, 1)

	// Change inside the prefix: callback
	client.SetFlags(map[string]bool{"exp-a": false, "other": false})
	require.NoError(t, cache.Refresh(context.Background(), endpoint))
	require.Len(t, calls, 2)
	assert.Equal(t, map[string]bool{"exp-a": false}, calls[1])
}

func TestOnChange_TimerLifecycle(t *testing.T) {
	cache, _, _, sched := newTestCache(t)

	assert.Equal(t, 0, sched.Armed(), "no timer before any subscription")

	unsub1 := cache.OnChange(endpoint, "", func(map[string]bool) {})
	assert.Equal(t, 1, sched.Armed(), "first subscription arms the timer")

	unsub2 := cache.OnChange(endpoint, "exp-", func(map[string]bool) {})
	assert.Equal(t, 1, sched.Armed(), "second subscription must not arm another")

	unsub1()
	assert.Equal(t, 0, sched.stopped, "timer stays armed while a subscription remains")

	unsub2()
	assert.Equal(t, 1, sched.stopped, "last unsubscribe disarms the timer")

	// Unsubscribing twice is harmless
	unsub2()
	assert.Equal(t, 1, sched.stopped)
}

func TestTimerFired_RefreshesAndRearms(t *testing.T) {
	cache, client, _, sched := newTestCache(t)
	client.SetFlags(map[string]bool{"exp-a": true})

	var calls int
	unsub := cache.OnChange(endpoint, "exp-", func(map[string]bool) { calls++ })
	defer unsub()

	sched.Fire(t)

	assert.Eventually(t, func() bool {
		return client.Fetches() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, sched.Armed(), "timer re-arms while subscriptions remain")
	assert.Eventually(t, func() bool { return calls == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestInvalidate_DropsSnapshot(t *testing.T) {
	defer goleak.VerifyNone(t)

	cache, client, _, _ := newTestCache(t)
	client.SetFlags(map[string]bool{"f": true})
	require.NoError(t, cache.Refresh(context.Background(), endpoint))

	cache.Invalidate(endpoint)

	_, ok := cache.Get("f", endpoint)
	assert.False(t, ok)

	// The miss triggers a refetch
	assert.Eventually(t, func() bool {
		return client.Fetches() == 2
	}, 2*time.Second, 10*time.Millisecond)
}
