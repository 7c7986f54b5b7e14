package flags

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gowebpki/jcs"
	"go.uber.org/zap"
)

const (
	// staleAfter is how long a fetched snapshot is served before Get
	// triggers a background refresh
	staleAfter = time.Hour

	// refreshInterval drives the subscription timer
	refreshInterval = 10 * time.Minute
)

// Clock abstracts time.Now for tests
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the real wall clock
func SystemClock() Clock { return systemClock{} }

// Scheduler abstracts timer arming for tests. Schedule runs fn once after d;
// the returned stop function cancels a pending run.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) (stop func())
}

type timerScheduler struct{}

func (timerScheduler) Schedule(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

// TimerScheduler returns a Scheduler backed by time.AfterFunc
func TimerScheduler() Scheduler { return timerScheduler{} }

type snapshot struct {
	flags     map[string]bool
	fetchedAt time.Time
}

type subscription struct {
	id       int
	endpoint string
	prefix   string
	callback func(flags map[string]bool)
	lastSeen []byte // canonical serialization of the prefix-filtered view
}

// Cache holds per-endpoint feature flag snapshots with change notification.
//
// Get is non-blocking: it serves whatever snapshot exists, stale or not, and
// kicks off an async refresh when the snapshot is older than an hour.
// Evaluate blocks on a single remote evaluation and fails closed to false.
type Cache struct {
	client    Client
	clock     Clock
	scheduler Scheduler
	logger    *zap.Logger

	mu         sync.Mutex
	snapshots  map[string]*snapshot
	subs       map[int]*subscription
	nextSubID  int
	stopTimer  func()
	refreshing map[string]bool
}

// NewCache creates a flag cache. A nil clock or scheduler falls back to the
// real ones.
func NewCache(client Client, clock Clock, scheduler Scheduler, logger *zap.Logger) *Cache {
	if clock == nil {
		clock = SystemClock()
	}
	if scheduler == nil {
		scheduler = TimerScheduler()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		client:     client,
		clock:      clock,
		scheduler:  scheduler,
		logger:     logger,
		snapshots:  make(map[string]*snapshot),
		subs:       make(map[int]*subscription),
		refreshing: make(map[string]bool),
	}
}

// Get returns the cached value of a flag for an endpoint. The second return
// is false when the flag is unknown. Never blocks on the network; a stale
// snapshot is served as-is while a background refresh runs.
func (c *Cache) Get(flag, endpoint string) (bool, bool) {
	c.mu.Lock()
	snap, ok := c.snapshots[endpoint]
	var value, present bool
	if ok {
		value, present = snap.flags[flag]
	}
	needsRefresh := !ok || c.clock.Now().Sub(snap.fetchedAt) > staleAfter
	if needsRefresh && !c.refreshing[endpoint] {
		c.refreshing[endpoint] = true
		go c.refresh(endpoint)
	}
	c.mu.Unlock()

	return value, present
}

// Evaluate returns the value of a flag, evaluating it remotely when it is not
// cached. Evaluation errors fail closed to false.
func (c *Cache) Evaluate(ctx context.Context, flag, endpoint string) bool {
	c.mu.Lock()
	if snap, ok := c.snapshots[endpoint]; ok {
		if value, present := snap.flags[flag]; present {
			c.mu.Unlock()
			return value
		}
	}
	c.mu.Unlock()

	value, err := c.client.EvaluateFlag(ctx, endpoint, flag)
	if err != nil {
		c.logger.Debug("flag evaluation failed, defaulting to false",
			zap.String("flag", flag), zap.Error(err))
		return false
	}

	c.mu.Lock()
	snap, ok := c.snapshots[endpoint]
	if !ok {
		snap = &snapshot{flags: make(map[string]bool), fetchedAt: c.clock.Now()}
		c.snapshots[endpoint] = snap
	}
	snap.flags[flag] = value
	c.notifyLocked(endpoint)
	c.mu.Unlock()

	return value
}

// OnChange subscribes to changes of flags whose name starts with prefix on
// the given endpoint. The callback fires only when the prefix-filtered
// snapshot actually differs from the previous one. Returns an unsubscribe
// function. The refresh timer runs only while at least one subscription is
// active.
func (c *Cache) OnChange(endpoint, prefix string, callback func(flags map[string]bool)) func() {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	sub := &subscription{
		id:       id,
		endpoint: endpoint,
		prefix:   prefix,
		callback: callback,
		lastSeen: c.serializeLocked(endpoint, prefix),
	}
	c.subs[id] = sub
	if len(c.subs) == 1 {
		c.armTimerLocked()
	}
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[id]; !ok {
			return
		}
		delete(c.subs, id)
		if len(c.subs) == 0 && c.stopTimer != nil {
			c.stopTimer()
			c.stopTimer = nil
		}
	}
}

// Invalidate drops the snapshot for an endpoint, typically after the auth
// state changes
func (c *Cache) Invalidate(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snapshots, endpoint)
}

// InvalidateAll drops every snapshot
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots = make(map[string]*snapshot)
}

// Refresh fetches the full flag set for an endpoint synchronously and
// notifies subscribers of changes.
func (c *Cache) Refresh(ctx context.Context, endpoint string) error {
	flags, err := c.client.FetchAll(ctx, endpoint)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.snapshots[endpoint] = &snapshot{flags: flags, fetchedAt: c.clock.Now()}
	c.notifyLocked(endpoint)
	c.mu.Unlock()
	return nil
}

func (c *Cache) refresh(endpoint string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := c.Refresh(ctx, endpoint)

	c.mu.Lock()
	delete(c.refreshing, endpoint)
	c.mu.Unlock()

	if err != nil {
		c.logger.Debug("background flag refresh failed",
			zap.String("endpoint", endpoint), zap.Error(err))
	}
}

// armTimerLocked schedules the periodic refresh. Each firing refreshes every
// endpoint that has a subscription, then re-arms while subscriptions remain.
func (c *Cache) armTimerLocked() {
	c.stopTimer = c.scheduler.Schedule(refreshInterval, c.timerFired)
}

func (c *Cache) timerFired() {
	c.mu.Lock()
	endpoints := make(map[string]bool)
	for _, sub := range c.subs {
		endpoints[sub.endpoint] = true
	}
	active := len(c.subs) > 0
	if active {
		c.armTimerLocked()
	} else {
		c.stopTimer = nil
	}
	c.mu.Unlock()

	for endpoint := range endpoints {
		c.refreshEndpointOnce(endpoint)
	}
}

func (c *Cache) refreshEndpointOnce(endpoint string) {
	c.mu.Lock()
	if c.refreshing[endpoint] {
		c.mu.Unlock()
		return
	}
	c.refreshing[endpoint] = true
	c.mu.Unlock()
	c.refresh(endpoint)
}

// notifyLocked fires callbacks whose prefix-filtered view changed. The mutex
// is held by the caller; callbacks run inline and must not call back into
// the cache.
func (c *Cache) notifyLocked(endpoint string) {
	for _, sub := range c.subs {
		if sub.endpoint != endpoint {
			continue
		}
		current := c.serializeLocked(endpoint, sub.prefix)
		if bytes.Equal(current, sub.lastSeen) {
			continue
		}
		sub.lastSeen = current
		sub.callback(c.filteredLocked(endpoint, sub.prefix))
	}
}

// filteredLocked returns a copy of the endpoint's flags matching the prefix
func (c *Cache) filteredLocked(endpoint, prefix string) map[string]bool {
	out := make(map[string]bool)
	snap, ok := c.snapshots[endpoint]
	if !ok {
		return out
	}
	for name, value := range snap.flags {
		if strings.HasPrefix(name, prefix) {
			out[name] = value
		}
	}
	return out
}

// serializeLocked produces the canonical JSON of the prefix-filtered flags.
// Canonicalization makes the diff independent of map iteration order.
func (c *Cache) serializeLocked(endpoint, prefix string) []byte {
	filtered := c.filteredLocked(endpoint, prefix)
	raw, err := json.Marshal(filtered)
	if err != nil {
		return nil
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return raw
	}
	return canonical
}
