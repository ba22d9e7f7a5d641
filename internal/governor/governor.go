// Package governor enforces a shared request ceiling over a rolling
// one-minute window. Embedding workers call Wait before every provider
// request so the pool as a whole never exceeds the configured rate.
package governor

import (
	"context"
	"sync"
	"time"
)

// slack is added to each computed sleep so a grant never lands exactly on
// the window edge.
const slack = 100 * time.Millisecond

// Governor admits at most ceiling grants in any rolling window. Grant
// timestamps are tracked explicitly, so the bound holds over every
// trailing window rather than per calendar minute.
type Governor struct {
	mu      sync.Mutex
	ceiling int
	window  time.Duration
	grants  []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a governor that admits at most perMinute grants in any
// rolling minute. A non-positive ceiling disables limiting.
func New(perMinute int) *Governor {
	return newGovernor(perMinute, time.Minute, time.Now, sleepContext)
}

func newGovernor(ceiling int, window time.Duration, now func() time.Time, sleep func(context.Context, time.Duration) error) *Governor {
	return &Governor{ceiling: ceiling, window: window, now: now, sleep: sleep}
}

// Wait blocks until a grant is available or ctx is done. It returns nil
// exactly when a grant was taken.
func (g *Governor) Wait(ctx context.Context) error {
	if g.ceiling <= 0 {
		return ctx.Err()
	}
	for {
		g.mu.Lock()
		now := g.now()
		g.prune(now)
		if len(g.grants) < g.ceiling {
			g.grants = append(g.grants, now)
			g.mu.Unlock()
			return nil
		}
		// Window is full. Sleep until the oldest grant falls out, then
		// recheck; another worker may have taken the freed slot first.
		wait := g.window - now.Sub(g.grants[0]) + slack
		g.mu.Unlock()

		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// InFlight returns how many grants currently sit inside the window.
func (g *Governor) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prune(g.now())
	return len(g.grants)
}

// prune drops grants older than the window. Callers hold g.mu.
func (g *Governor) prune(now time.Time) {
	cut := 0
	for cut < len(g.grants) && now.Sub(g.grants[cut]) >= g.window {
		cut++
	}
	if cut > 0 {
		g.grants = append(g.grants[:0], g.grants[cut:]...)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
