// Package ratelimit enforces minimum spacing between external provider calls.
// One Limiter instance is shared process-wide and injected into every caller;
// each endpoint class gets its own gate so search and detail traffic do not
// contend with each other.
package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/lattice-ip/priorart-engine/internal/model"
)

// Endpoint classes known to the engine.
const (
	EndpointSearch = "search"
	EndpointDetail = "detail"
)

// ErrAcquireTimeout is returned when the next free slot lies beyond the
// caller's deadline. The reserved slot is released before returning.
var ErrAcquireTimeout = eris.Wrap(context.DeadlineExceeded, "ratelimit: slot unavailable before caller deadline")

// Config maps endpoint classes to their minimum call spacing.
type Config struct {
	// Intervals overrides the spacing per endpoint class.
	Intervals map[string]time.Duration

	// DefaultInterval applies to endpoints absent from Intervals. Default: 5s.
	DefaultInterval time.Duration
}

// Option customizes a Limiter, mainly for tests.
type Option func(*Limiter)

// WithNow injects the clock used for slot reservations.
func WithNow(fn func() time.Time) Option {
	return func(l *Limiter) { l.nowFunc = fn }
}

// WithSleep injects the waiter that blocks until the reserved slot time.
func WithSleep(fn func(ctx context.Context, until time.Time) error) Option {
	return func(l *Limiter) { l.sleepFunc = fn }
}

// Limiter spaces out calls per endpoint class. Reservation is atomic: two
// concurrent acquirers can never be granted slots closer than the interval.
type Limiter struct {
	mu    sync.RWMutex
	gates map[string]*gate

	intervals       map[string]time.Duration
	defaultInterval time.Duration

	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, until time.Time) error
}

type gate struct {
	limiter *rate.Limiter

	mu         sync.Mutex
	lastCallAt time.Time
	waiting    int
}

// New creates a Limiter from cfg.
func New(cfg Config, opts ...Option) *Limiter {
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = 5 * time.Second
	}
	l := &Limiter{
		gates:           make(map[string]*gate),
		intervals:       cfg.Intervals,
		defaultInterval: cfg.DefaultInterval,
		nowFunc:         time.Now,
	}
	l.sleepFunc = l.sleepUntil
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire blocks until the caller may make one call on the given endpoint
// class. If the next free slot is beyond ctx's deadline the slot is released
// immediately and ErrAcquireTimeout is returned; callers waiting in line keep
// their positions.
func (l *Limiter) Acquire(ctx context.Context, endpoint string) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "ratelimit: acquire")
	}

	g := l.gate(endpoint)
	g.addWaiting(1)
	defer g.addWaiting(-1)

	now := l.nowFunc()
	res := g.limiter.ReserveN(now, 1)
	if !res.OK() {
		return eris.Errorf("ratelimit: no slot available for %s", endpoint)
	}

	target := now.Add(res.DelayFrom(now))

	if deadline, ok := ctx.Deadline(); ok && target.After(deadline) {
		res.CancelAt(now)
		return ErrAcquireTimeout
	}

	if target.After(now) {
		if err := l.sleepFunc(ctx, target); err != nil {
			res.CancelAt(l.nowFunc())
			return eris.Wrap(err, "ratelimit: acquire "+endpoint)
		}
	}

	g.markCall(target)
	return nil
}

// Snapshot reports per-endpoint limiter state, sorted by endpoint name.
func (l *Limiter) Snapshot() []model.RateLimiterState {
	l.mu.RLock()
	defer l.mu.RUnlock()

	states := make([]model.RateLimiterState, 0, len(l.gates))
	for name, g := range l.gates {
		g.mu.Lock()
		states = append(states, model.RateLimiterState{
			Endpoint:       name,
			LastCallAt:     g.lastCallAt,
			WaitingCallers: g.waiting,
		})
		g.mu.Unlock()
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Endpoint < states[j].Endpoint })
	return states
}

// gate returns the gate for the endpoint, creating it on first use.
func (l *Limiter) gate(endpoint string) *gate {
	l.mu.RLock()
	g, ok := l.gates[endpoint]
	l.mu.RUnlock()
	if ok {
		return g
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Double-check after acquiring write lock.
	if g, ok = l.gates[endpoint]; ok {
		return g
	}

	interval := l.defaultInterval
	if iv, ok := l.intervals[endpoint]; ok && iv > 0 {
		interval = iv
	}
	g = &gate{limiter: rate.NewLimiter(rate.Every(interval), 1)}
	l.gates[endpoint] = g
	return g
}

func (l *Limiter) sleepUntil(ctx context.Context, until time.Time) error {
	d := until.Sub(l.nowFunc())
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (g *gate) addWaiting(n int) {
	g.mu.Lock()
	g.waiting += n
	g.mu.Unlock()
}

func (g *gate) markCall(at time.Time) {
	g.mu.Lock()
	if at.After(g.lastCallAt) {
		g.lastCallAt = at
	}
	g.mu.Unlock()
}
