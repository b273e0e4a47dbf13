// Package ratelimit throttles upstream connection attempts per physical
// channel. Multiple panels may watch the same channel; they share one budget
// here so they cannot collectively hammer a rate-limited upstream.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Config tunes the limiter. Zero values are replaced by the defaults the
// upstream tolerates in practice.
type Config struct {
	MinInterval          time.Duration // base delay between attempts
	MaxInterval          time.Duration // backoff cap
	Multiplier           float64       // exponential backoff multiplier
	MaxAttemptsPerMinute int           // hard cap inside the sliding window
	Window               time.Duration // attempt-count window
}

func (c Config) withDefaults() Config {
	if c.MinInterval <= 0 {
		c.MinInterval = 2 * time.Second
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2
	}
	if c.MaxAttemptsPerMinute <= 0 {
		c.MaxAttemptsPerMinute = 3
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	return c
}

type channelState struct {
	lastAttempt         time.Time
	attemptsInWindow    int
	windowResetAt       time.Time
	consecutiveFailures int
}

// Limiter tracks attempt/backoff state per channel name. All methods are safe
// for concurrent use; a reserve is atomic with respect to other reserves.
type Limiter struct {
	mu       sync.Mutex
	cfg      Config
	channels map[string]*channelState
	now      func() time.Time
}

func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:      cfg.withDefaults(),
		channels: make(map[string]*channelState),
		now:      time.Now,
	}
}

// CheckAndReserve returns 0 and records an attempt if the channel may connect
// now, or the duration the caller must wait. Callers must re-check after
// waiting: failures recorded in the interim may have extended the delay.
func (l *Limiter) CheckAndReserve(channel string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	st, ok := l.channels[channel]
	if !ok {
		st = &channelState{}
		l.channels[channel] = st
	}

	// Exponential inter-attempt delay scaled by consecutive failures.
	if !st.lastAttempt.IsZero() {
		required := l.requiredDelay(st.consecutiveFailures)
		if since := now.Sub(st.lastAttempt); since < required {
			return required - since
		}
	}

	// Sliding per-window attempt cap. The counter only resets when the
	// window elapses, never on success.
	if now.After(st.windowResetAt) {
		st.attemptsInWindow = 0
		st.windowResetAt = now.Add(l.cfg.Window)
	}
	if st.attemptsInWindow >= l.cfg.MaxAttemptsPerMinute {
		return st.windowResetAt.Sub(now)
	}

	st.attemptsInWindow++
	st.lastAttempt = now
	return 0
}

// RecordFailure bumps the channel's consecutive-failure count, lengthening
// the delay before the next allowed attempt.
func (l *Limiter) RecordFailure(channel string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.channels[channel]
	if !ok {
		st = &channelState{}
		l.channels[channel] = st
	}
	st.consecutiveFailures++
}

// RecordSuccess resets the consecutive-failure count after an explicit
// successful upstream handshake. Soft timeouts must not call this.
func (l *Limiter) RecordSuccess(channel string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok := l.channels[channel]; ok {
		st.consecutiveFailures = 0
	}
}

// Failures returns the current consecutive-failure count for a channel.
func (l *Limiter) Failures(channel string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok := l.channels[channel]; ok {
		return st.consecutiveFailures
	}
	return 0
}

// requiredDelay computes min(base * multiplier^failures, cap). Callers hold mu.
func (l *Limiter) requiredDelay(failures int) time.Duration {
	if failures <= 0 {
		return l.cfg.MinInterval
	}
	d := float64(l.cfg.MinInterval) * math.Pow(l.cfg.Multiplier, float64(failures))
	if d > float64(l.cfg.MaxInterval) {
		return l.cfg.MaxInterval
	}
	return time.Duration(d)
}

// RequiredDelay exposes the backoff curve for a given failure count.
func (l *Limiter) RequiredDelay(failures int) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.requiredDelay(failures)
}
