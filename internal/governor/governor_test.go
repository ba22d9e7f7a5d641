package governor

import (
	"context"
	"testing"
	"time"
)

// fakeClock drives the governor deterministically: sleeping advances the
// clock instead of blocking.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.t = c.t.Add(d)
	return nil
}

// TestWait_RollingWindowCeiling verifies that no rolling window ever
// contains more grants than the ceiling, even under sustained demand.
func TestWait_RollingWindowCeiling(t *testing.T) {
	const ceiling = 5
	clock := &fakeClock{t: time.Unix(1000, 0)}
	g := newGovernor(ceiling, time.Minute, clock.now, clock.sleep)

	var granted []time.Time
	for i := 0; i < 18; i++ {
		if err := g.Wait(context.Background()); err != nil {
			t.Fatalf("Wait %d failed: %v", i, err)
		}
		granted = append(granted, clock.t)
		// Simulate a little work between requests.
		clock.t = clock.t.Add(200 * time.Millisecond)
	}

	// Every trailing one-minute window must hold at most ceiling grants.
	for i := range granted {
		inWindow := 0
		for j := 0; j <= i; j++ {
			if granted[i].Sub(granted[j]) < time.Minute {
				inWindow++
			}
		}
		if inWindow > ceiling {
			t.Fatalf("grant %d: %d grants inside one minute, ceiling is %d", i, inWindow, ceiling)
		}
	}
}

// TestWait_FreesSlotsAsWindowSlides checks that capacity returns once old
// grants age out, without waiting a full minute from the last grant.
func TestWait_FreesSlotsAsWindowSlides(t *testing.T) {
	clock := &fakeClock{t: time.Unix(5000, 0)}
	g := newGovernor(2, time.Minute, clock.now, clock.sleep)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := g.Wait(ctx); err != nil {
			t.Fatalf("warmup Wait failed: %v", err)
		}
		clock.t = clock.t.Add(10 * time.Second)
	}

	before := clock.t
	if err := g.Wait(ctx); err != nil {
		t.Fatalf("blocked Wait failed: %v", err)
	}
	// The first grant was 20s ago, so roughly 40s of sleep should free it.
	slept := clock.t.Sub(before)
	if slept < 39*time.Second || slept > 42*time.Second {
		t.Errorf("expected ~40s wait for the oldest grant to age out, got %v", slept)
	}
	if got := g.InFlight(); got != 2 {
		t.Errorf("InFlight: expected 2, got %d", got)
	}
}

// TestWait_ContextCancelled verifies a cancelled context aborts the wait.
func TestWait_ContextCancelled(t *testing.T) {
	g := New(1)
	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := g.Wait(ctx); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

// TestWait_NoCeiling verifies a non-positive ceiling never blocks.
func TestWait_NoCeiling(t *testing.T) {
	g := New(0)
	for i := 0; i < 100; i++ {
		if err := g.Wait(context.Background()); err != nil {
			t.Fatalf("Wait with no ceiling failed: %v", err)
		}
	}
}
