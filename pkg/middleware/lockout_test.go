package middleware

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockoutTracker_LocksAtThreshold(t *testing.T) {
	clock := newTestClock()
	tracker := NewLockoutTracker(DefaultLockoutConfig(), WithClock(clock.Now))

	for i := 1; i <= 4; i++ {
		st := tracker.RecordFailure("9.9.9.9")
		assert.False(t, st.Locked, "failure %d", i)
		assert.Equal(t, i, tracker.Failures("9.9.9.9"))
	}
	assert.False(t, tracker.Check("9.9.9.9").Locked)

	st := tracker.RecordFailure("9.9.9.9")
	assert.True(t, st.Locked)
	assert.Equal(t, 900, st.RetryAfterSeconds())
	assert.Equal(t, 0, tracker.Failures("9.9.9.9"), "reaching the threshold resets the count")

	st = tracker.Check("9.9.9.9")
	assert.True(t, st.Locked)
	assert.Equal(t, 900, st.RetryAfterSeconds())

	// Other addresses are unaffected
	assert.False(t, tracker.Check("1.1.1.1").Locked)
}

func TestLockoutTracker_RetryAfterRoundsUp(t *testing.T) {
	clock := newTestClock()
	tracker := NewLockoutTracker(&LockoutConfig{Threshold: 1, Duration: time.Minute}, WithClock(clock.Now))

	tracker.RecordFailure("ip")
	clock.Advance(59*time.Second + 500*time.Millisecond)

	st := tracker.Check("ip")
	assert.True(t, st.Locked)
	assert.Equal(t, 1, st.RetryAfterSeconds())
}

func TestLockoutTracker_ExpiredLockIsRemovedOnCheck(t *testing.T) {
	clock := newTestClock()
	tracker := NewLockoutTracker(DefaultLockoutConfig(), WithClock(clock.Now))

	for i := 0; i < 5; i++ {
		tracker.RecordFailure("ip")
	}
	assert.Equal(t, 1, tracker.Len())

	clock.Advance(15 * time.Minute)
	assert.False(t, tracker.Check("ip").Locked)
	assert.Equal(t, 0, tracker.Len())

	// A fresh set of attempts
	for i := 1; i <= 4; i++ {
		assert.False(t, tracker.RecordFailure("ip").Locked)
	}
	assert.True(t, tracker.RecordFailure("ip").Locked)
}

func TestLockoutTracker_Clear(t *testing.T) {
	tracker := NewLockoutTracker(DefaultLockoutConfig())

	tracker.RecordFailure("ip")
	tracker.RecordFailure("ip")
	tracker.Clear("ip")

	assert.Equal(t, 0, tracker.Failures("ip"))
	assert.Equal(t, 0, tracker.Len())

	// Clearing an unknown key is harmless
	tracker.Clear("nobody")
}

func TestLockoutTracker_FailuresDoNotDecay(t *testing.T) {
	clock := newTestClock()
	tracker := NewLockoutTracker(DefaultLockoutConfig(), WithClock(clock.Now))

	tracker.RecordFailure("ip")
	clock.Advance(24 * time.Hour)
	tracker.Sweep()

	assert.Equal(t, 1, tracker.Failures("ip"))
}

func TestLockoutTracker_Sweep(t *testing.T) {
	clock := newTestClock()
	tracker := NewLockoutTracker(&LockoutConfig{Threshold: 1, Duration: time.Minute}, WithClock(clock.Now))

	tracker.RecordFailure("old")
	clock.Advance(30 * time.Second)
	tracker.RecordFailure("new")

	assert.Equal(t, 0, tracker.Sweep())

	clock.Advance(30 * time.Second)
	assert.Equal(t, 1, tracker.Sweep())
	assert.False(t, tracker.Check("old").Locked)
	assert.True(t, tracker.Check("new").Locked)
}

func TestLockoutTracker_ConcurrentFailures(t *testing.T) {
	tracker := NewLockoutTracker(&LockoutConfig{Threshold: 5, Duration: time.Hour})

	var wg sync.WaitGroup
	var mu sync.Mutex
	locks := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tracker.RecordFailure("ip").Locked {
				mu.Lock()
				locks++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, locks, "exactly one failure crosses the threshold")
	assert.True(t, tracker.Check("ip").Locked)
}
