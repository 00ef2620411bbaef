package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeEquity struct {
	value float64
	err   error
}

func (f *fakeEquity) get(ctx context.Context) (float64, error) {
	return f.value, f.err
}

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) get() time.Time {
	return f.now
}

func ptr(v float64) *float64 { return &v }

func newTestGuard(eq *fakeEquity, clock *fakeClock) *Guard {
	return New(eq.get, clock.get, zerolog.Nop())
}

func TestGuardDisabledNeverBlocks(t *testing.T) {
	eq := &fakeEquity{value: 10000}
	clock := &fakeClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	g := newTestGuard(eq, clock)

	eq.value = 1 // catastrophic drawdown, guard is off
	if v := g.Evaluate(context.Background()); v.Blocked {
		t.Fatalf("disabled guard blocked: %+v", v)
	}
}

func TestGuardBlocksAtPctLimit(t *testing.T) {
	eq := &fakeEquity{value: 10000}
	clock := &fakeClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	g := newTestGuard(eq, clock)
	g.Configure(Limits{Enabled: true, LimitPct: ptr(5.0)})

	// First evaluation captures the baseline
	if v := g.Evaluate(context.Background()); v.Blocked {
		t.Fatalf("blocked at baseline: %+v", v)
	}

	// 4.99% down, still allowed
	eq.value = 9501
	if v := g.Evaluate(context.Background()); v.Blocked {
		t.Fatalf("blocked below limit: %+v", v)
	}

	// Exactly 5% down blocks (limit is inclusive)
	eq.value = 9500
	v := g.Evaluate(context.Background())
	if !v.Blocked {
		t.Fatal("expected block at exactly the pct limit")
	}
	if v.Reason != "guard: daily loss limit reached" {
		t.Errorf("unexpected reason: %q", v.Reason)
	}
}

func TestGuardBlocksAtUsdLimit(t *testing.T) {
	eq := &fakeEquity{value: 10000}
	clock := &fakeClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	g := newTestGuard(eq, clock)
	g.Configure(Limits{Enabled: true, LimitUsd: ptr(200.0)})

	g.Evaluate(context.Background())

	eq.value = 9800
	if v := g.Evaluate(context.Background()); !v.Blocked {
		t.Fatal("expected block at the usd limit")
	}
}

func TestGuardBlockIsSticky(t *testing.T) {
	eq := &fakeEquity{value: 10000}
	clock := &fakeClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	g := newTestGuard(eq, clock)
	g.Configure(Limits{Enabled: true, LimitPct: ptr(5.0)})

	g.Evaluate(context.Background())
	eq.value = 9000
	g.Evaluate(context.Background())

	// Equity recovers above the limit but the block stays for the day
	eq.value = 9999
	if v := g.Evaluate(context.Background()); !v.Blocked {
		t.Fatal("block must be sticky within the same UTC day")
	}
}

func TestGuardUTCRolloverResets(t *testing.T) {
	eq := &fakeEquity{value: 10000}
	clock := &fakeClock{now: time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC)}
	g := newTestGuard(eq, clock)
	g.Configure(Limits{Enabled: true, LimitPct: ptr(5.0)})

	g.Evaluate(context.Background())
	eq.value = 9000
	if v := g.Evaluate(context.Background()); !v.Blocked {
		t.Fatal("expected block before rollover")
	}

	// Next UTC day: block clears and the baseline is the current equity
	clock.now = time.Date(2025, 3, 11, 0, 30, 0, 0, time.UTC)
	if v := g.Evaluate(context.Background()); v.Blocked {
		t.Fatalf("block survived UTC rollover: %+v", v)
	}

	st := g.Status()
	if st.Baseline != 9000 {
		t.Errorf("baseline after rollover = %v, want 9000", st.Baseline)
	}
	if st.WindowStart != "2025-03-11" {
		t.Errorf("window start = %q, want 2025-03-11", st.WindowStart)
	}
}

func TestGuardExplicitReset(t *testing.T) {
	eq := &fakeEquity{value: 10000}
	clock := &fakeClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	g := newTestGuard(eq, clock)
	g.Configure(Limits{Enabled: true, LimitPct: ptr(5.0)})

	g.Evaluate(context.Background())
	eq.value = 9000
	g.Evaluate(context.Background())

	g.Reset()
	if v := g.Evaluate(context.Background()); v.Blocked {
		t.Fatalf("block survived explicit reset: %+v", v)
	}
	if st := g.Status(); st.Baseline != 9000 {
		t.Errorf("baseline after reset = %v, want 9000", st.Baseline)
	}
}

func TestGuardDisableClearsBlockAndReenableRebaselines(t *testing.T) {
	eq := &fakeEquity{value: 10000}
	clock := &fakeClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	g := newTestGuard(eq, clock)
	g.Configure(Limits{Enabled: true, LimitPct: ptr(5.0)})

	g.Evaluate(context.Background())
	eq.value = 9000
	g.Evaluate(context.Background())

	g.Configure(Limits{Enabled: false})
	if v := g.Evaluate(context.Background()); v.Blocked {
		t.Fatalf("disabled guard still blocked: %+v", v)
	}

	// Re-enable: the next evaluation baselines from current equity, so
	// yesterday's losses do not trip the limit again
	g.Configure(Limits{Enabled: true, LimitPct: ptr(5.0)})
	if v := g.Evaluate(context.Background()); v.Blocked {
		t.Fatalf("re-enabled guard blocked without fresh drawdown: %+v", v)
	}
	if st := g.Status(); st.Baseline != 9000 {
		t.Errorf("baseline after re-enable = %v, want 9000", st.Baseline)
	}
}

func TestGuardFailsClosedOnEquityError(t *testing.T) {
	eq := &fakeEquity{value: 10000}
	clock := &fakeClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	g := newTestGuard(eq, clock)
	g.Configure(Limits{Enabled: true, LimitPct: ptr(5.0)})

	eq.err = errors.New("venue timeout")
	v := g.Evaluate(context.Background())
	if !v.Blocked {
		t.Fatal("equity error must fail closed")
	}
	if v.Reason != "guard: equity query failed" {
		t.Errorf("unexpected reason: %q", v.Reason)
	}

	// Transient failure does not leave a sticky block behind
	eq.err = nil
	if v := g.Evaluate(context.Background()); v.Blocked {
		t.Fatalf("transient equity error left a sticky block: %+v", v)
	}
}
