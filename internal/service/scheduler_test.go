package service

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExpiryScheduler(t *testing.T) {
	t.Run("fires after ttl and removes the entry", func(t *testing.T) {
		sched := NewExpiryScheduler()
		defer sched.Close()

		fired := make(chan struct{})
		sched.Schedule("ABC123", 1, 10*time.Millisecond, func() {
			close(fired)
		})
		assert.Equal(t, 1, sched.Armed())

		select {
		case <-fired:
		case <-time.After(time.Second):
			t.Fatal("timer did not fire")
		}

		assert.Eventually(t, func() bool { return sched.Armed() == 0 }, time.Second, 5*time.Millisecond)
	})

	t.Run("Cancel disarms a matching token", func(t *testing.T) {
		sched := NewExpiryScheduler()
		defer sched.Close()

		var fired atomic.Bool
		sched.Schedule("ABC123", 1, 20*time.Millisecond, func() {
			fired.Store(true)
		})
		sched.Cancel("ABC123", 1)

		time.Sleep(60 * time.Millisecond)
		assert.False(t, fired.Load())
		assert.Equal(t, 0, sched.Armed())
	})

	t.Run("Cancel with a stale token is a no-op", func(t *testing.T) {
		sched := NewExpiryScheduler()
		defer sched.Close()

		fired := make(chan struct{})
		sched.Schedule("ABC123", 2, 10*time.Millisecond, func() {
			close(fired)
		})
		sched.Cancel("ABC123", 1)

		select {
		case <-fired:
		case <-time.After(time.Second):
			t.Fatal("stale cancel must not disarm the live timer")
		}
	})

	t.Run("re-scheduling the same code replaces the timer", func(t *testing.T) {
		sched := NewExpiryScheduler()
		defer sched.Close()

		var first atomic.Bool
		second := make(chan struct{})
		sched.Schedule("ABC123", 1, 20*time.Millisecond, func() {
			first.Store(true)
		})
		sched.Schedule("ABC123", 2, 10*time.Millisecond, func() {
			close(second)
		})
		assert.Equal(t, 1, sched.Armed())

		select {
		case <-second:
		case <-time.After(time.Second):
			t.Fatal("replacement timer did not fire")
		}
		time.Sleep(40 * time.Millisecond)
		assert.False(t, first.Load())
	})

	t.Run("Close disarms everything and rejects new entries", func(t *testing.T) {
		sched := NewExpiryScheduler()

		var fired atomic.Bool
		sched.Schedule("AAAAAA", 1, 20*time.Millisecond, func() { fired.Store(true) })
		sched.Schedule("BBBBBB", 2, 20*time.Millisecond, func() { fired.Store(true) })
		sched.Close()

		sched.Schedule("CCCCCC", 3, time.Millisecond, func() { fired.Store(true) })

		time.Sleep(60 * time.Millisecond)
		assert.False(t, fired.Load())
		assert.Equal(t, 0, sched.Armed())
	})
}
