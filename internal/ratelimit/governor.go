package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Governor paces outbound API calls. Each caller identity is spaced
// independently, but the adaptive interval learned from throttling
// responses is shared across all callers.
type Governor struct {
	mu        sync.Mutex
	lastCall  map[string]time.Time
	interval  time.Duration
	successes int

	minInterval time.Duration
	maxInterval time.Duration
	decayAfter  int

	now func() time.Time
}

type GovernorOptions struct {
	// MinInterval is the floor the interval decays toward. Defaults to 200ms.
	MinInterval time.Duration
	// MaxInterval caps interval growth after throttling. Defaults to 1s.
	MaxInterval time.Duration
	// DecayAfter is the consecutive-success streak required before the
	// interval decays by 5%. Defaults to 10.
	DecayAfter int
}

func NewGovernor(opts GovernorOptions) *Governor {
	minInterval := opts.MinInterval
	if minInterval <= 0 {
		minInterval = 200 * time.Millisecond
	}
	maxInterval := opts.MaxInterval
	if maxInterval <= 0 {
		maxInterval = time.Second
	}
	if maxInterval < minInterval {
		maxInterval = minInterval
	}
	decayAfter := opts.DecayAfter
	if decayAfter <= 0 {
		decayAfter = 10
	}
	return &Governor{
		lastCall:    map[string]time.Time{},
		interval:    minInterval,
		minInterval: minInterval,
		maxInterval: maxInterval,
		decayAfter:  decayAfter,
		now:         time.Now,
	}
}

// Wait blocks until at least the adaptive interval has elapsed since the
// previous call under the same caller identity.
func (g *Governor) Wait(ctx context.Context, callerID string) error {
	g.mu.Lock()
	interval := g.interval
	last, seen := g.lastCall[callerID]
	g.mu.Unlock()

	if seen {
		if wait := interval - g.now().Sub(last); wait > 0 {
			if err := sleepContext(ctx, wait); err != nil {
				return err
			}
		}
	}

	g.mu.Lock()
	g.lastCall[callerID] = g.now()
	g.mu.Unlock()
	return nil
}

// OnThrottle handles an explicit throttling signal: it sleeps for the
// server-requested duration and then grows the shared interval by 50%.
func (g *Governor) OnThrottle(ctx context.Context, retryAfter time.Duration) error {
	if err := sleepContext(ctx, retryAfter); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.successes = 0
	g.interval = clampInterval(time.Duration(float64(g.interval)*1.5), g.minInterval, g.maxInterval)
	return nil
}

// OnSuccess decays the interval by 5% once enough consecutive calls have
// succeeded, floored at the configured minimum.
func (g *Governor) OnSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.successes++
	if g.successes < g.decayAfter {
		return
	}
	g.successes = 0
	g.interval = clampInterval(time.Duration(float64(g.interval)*0.95), g.minInterval, g.maxInterval)
}

// OnFailure resets the success streak and grows the interval by 20%.
func (g *Governor) OnFailure() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.successes = 0
	g.interval = clampInterval(time.Duration(float64(g.interval)*1.2), g.minInterval, g.maxInterval)
}

// Interval reports the current adaptive interval.
func (g *Governor) Interval() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.interval
}

func clampInterval(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
