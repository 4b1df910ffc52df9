package middleware

import (
	"time"
)

// LockoutConfig defines brute-force lockout settings
type LockoutConfig struct {
	// Threshold is the number of consecutive failures that triggers a lock
	Threshold int
	// Duration is how long a key stays locked
	Duration time.Duration
}

// DefaultLockoutConfig returns 5 failures / 15 minutes.
func DefaultLockoutConfig() *LockoutConfig {
	return &LockoutConfig{
		Threshold: 5,
		Duration:  15 * time.Minute,
	}
}

// LockStatus reports whether a key is locked and for how long.
type LockStatus struct {
	Locked     bool
	RetryAfter time.Duration
}

// RetryAfterSeconds is RetryAfter rounded up to whole seconds.
func (s LockStatus) RetryAfterSeconds() int {
	return CeilSeconds(s.RetryAfter)
}

// LockoutTracker counts consecutive login failures per client address and
// locks the address once the threshold is reached.
//
// Reaching the threshold resets the count, so after the lock expires the
// address gets a full set of attempts again. Failure counts below the
// threshold do not decay.
type LockoutTracker struct {
	config  *LockoutConfig
	entries *keyedTable[lockoutEntry]
	now     func() time.Time
}

type lockoutEntry struct {
	failures    int
	lockedUntil time.Time
}

// NewLockoutTracker creates a new lockout tracker
func NewLockoutTracker(config *LockoutConfig, opts ...Option) *LockoutTracker {
	if config == nil {
		config = DefaultLockoutConfig()
	}
	o := buildOptions(opts)

	return &LockoutTracker{
		config:  config,
		entries: newKeyedTable[lockoutEntry](),
		now:     o.now,
	}
}

// Check reports whether key is currently locked. An expired lock is removed.
func (lt *LockoutTracker) Check(key string) LockStatus {
	now := lt.now()
	var status LockStatus

	lt.entries.update(key, false, func(e *lockoutEntry) bool {
		if e.lockedUntil.IsZero() {
			return false
		}
		if now.Before(e.lockedUntil) {
			status = LockStatus{Locked: true, RetryAfter: e.lockedUntil.Sub(now)}
			return false
		}
		return true
	})

	return status
}

// RecordFailure counts a failed attempt and reports whether it triggered a
// lock.
func (lt *LockoutTracker) RecordFailure(key string) LockStatus {
	now := lt.now()
	var status LockStatus

	lt.entries.update(key, true, func(e *lockoutEntry) bool {
		if !e.lockedUntil.IsZero() {
			if now.Before(e.lockedUntil) {
				// Already locked; the caller raced a concurrent lock
				status = LockStatus{Locked: true, RetryAfter: e.lockedUntil.Sub(now)}
				return false
			}
			*e = lockoutEntry{}
		}

		e.failures++
		if e.failures >= lt.config.Threshold {
			e.failures = 0
			e.lockedUntil = now.Add(lt.config.Duration)
			status = LockStatus{Locked: true, RetryAfter: lt.config.Duration}
		}
		return false
	})

	return status
}

// Clear forgets key after a successful login.
func (lt *LockoutTracker) Clear(key string) {
	lt.entries.update(key, false, func(*lockoutEntry) bool { return true })
}

// Failures returns the current consecutive failure count for key.
func (lt *LockoutTracker) Failures(key string) int {
	n := 0
	lt.entries.update(key, false, func(e *lockoutEntry) bool {
		n = e.failures
		return false
	})
	return n
}

// Sweep removes entries whose lock has expired and returns how many were
// removed. Entries still accumulating failures are kept.
func (lt *LockoutTracker) Sweep() int {
	now := lt.now()
	return lt.entries.sweep(func(e *lockoutEntry) bool {
		return !e.lockedUntil.IsZero() && !now.Before(e.lockedUntil)
	})
}

// Len returns the number of tracked keys.
func (lt *LockoutTracker) Len() int {
	return lt.entries.len()
}
