package ratelimit

import (
	"testing"
	"time"
)

// fakeClock lets tests move time forward deterministically.
type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestLimiter(cfg Config) (*Limiter, *fakeClock) {
	l := New(cfg)
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l.now = clk.now
	return l, clk
}

func TestBackoffCurve(t *testing.T) {
	l := New(Config{MinInterval: 2 * time.Second, MaxInterval: 30 * time.Second, Multiplier: 2})
	cases := []struct {
		failures int
		want     time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{2, 8 * time.Second},
		{3, 16 * time.Second},
		{4, 30 * time.Second}, // capped
		{10, 30 * time.Second},
	}
	prev := time.Duration(0)
	for _, tc := range cases {
		got := l.RequiredDelay(tc.failures)
		if got != tc.want {
			t.Errorf("RequiredDelay(%d) = %v, want %v", tc.failures, got, tc.want)
		}
		if got < prev {
			t.Errorf("delay not monotonic at n=%d: %v < %v", tc.failures, got, prev)
		}
		prev = got
	}
}

func TestFirstAttemptImmediate(t *testing.T) {
	l, _ := newTestLimiter(Config{})
	if wait := l.CheckAndReserve("chan"); wait != 0 {
		t.Fatalf("first attempt wait = %v, want 0", wait)
	}
}

func TestInterAttemptDelayGrowsWithFailures(t *testing.T) {
	l, clk := newTestLimiter(Config{MinInterval: 2 * time.Second, MaxInterval: 30 * time.Second, Multiplier: 2})
	if wait := l.CheckAndReserve("chan"); wait != 0 {
		t.Fatalf("unexpected wait %v", wait)
	}
	l.RecordFailure("chan")
	l.RecordFailure("chan")

	// 2s * 2^2 = 8s required; only 1s elapsed.
	clk.advance(time.Second)
	if wait := l.CheckAndReserve("chan"); wait != 7*time.Second {
		t.Errorf("wait = %v, want 7s", wait)
	}
	clk.advance(7 * time.Second)
	if wait := l.CheckAndReserve("chan"); wait != 0 {
		t.Errorf("wait after backoff elapsed = %v, want 0", wait)
	}
}

func TestSuccessResetsFailuresOnly(t *testing.T) {
	l, clk := newTestLimiter(Config{MinInterval: 2 * time.Second, MaxAttemptsPerMinute: 3})
	for i := 0; i < 3; i++ {
		if wait := l.CheckAndReserve("chan"); wait != 0 {
			t.Fatalf("attempt %d blocked: %v", i, wait)
		}
		clk.advance(3 * time.Second)
	}
	l.RecordFailure("chan")
	l.RecordSuccess("chan")
	if n := l.Failures("chan"); n != 0 {
		t.Errorf("failures after success = %d, want 0", n)
	}
	// The per-minute counter did not reset on success: the window still caps.
	if wait := l.CheckAndReserve("chan"); wait == 0 {
		t.Error("expected window cap to block the 4th attempt despite success")
	}
}

func TestWindowCapAndReset(t *testing.T) {
	l, clk := newTestLimiter(Config{MinInterval: time.Second, MaxAttemptsPerMinute: 3, Window: time.Minute})
	for i := 0; i < 3; i++ {
		if wait := l.CheckAndReserve("chan"); wait != 0 {
			t.Fatalf("attempt %d blocked: %v", i, wait)
		}
		clk.advance(2 * time.Second)
	}
	wait := l.CheckAndReserve("chan")
	if wait <= 0 {
		t.Fatal("4th attempt inside window should wait")
	}
	clk.advance(wait)
	if wait := l.CheckAndReserve("chan"); wait != 0 {
		t.Errorf("attempt after window reset blocked: %v", wait)
	}
}

func TestChannelsIndependent(t *testing.T) {
	l, _ := newTestLimiter(Config{})
	l.RecordFailure("a")
	if n := l.Failures("b"); n != 0 {
		t.Errorf("channel b failures = %d, want 0", n)
	}
	if wait := l.CheckAndReserve("b"); wait != 0 {
		t.Errorf("channel b should be unaffected, wait = %v", wait)
	}
}
