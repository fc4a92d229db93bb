// internal/ratelimit/ratelimit_test.go
package ratelimit

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blockfriends/partylink/internal/ticker"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestCooldown(t *testing.T, window time.Duration) (*Cooldown, *ticker.Ticker) {
	t.Helper()
	tk := ticker.New(testLogger())
	return New(testLogger(), tk, "test", window), tk
}

func TestFirstCallPassesThenWindowCloses(t *testing.T) {
	c, _ := newTestCooldown(t, time.Second)

	if !c.CanCall() {
		t.Fatal("first call should pass")
	}
	if c.CanCall() {
		t.Fatal("second immediate call should be refused")
	}
	if !c.InCooldown() {
		t.Fatal("expected active cooldown")
	}
}

func TestWindowExpiryReopens(t *testing.T) {
	c, tk := newTestCooldown(t, time.Second)

	c.CanCall()
	tk.Advance(600 * time.Millisecond)
	if c.CanCall() {
		t.Fatal("call inside the window should be refused")
	}
	tk.Advance(500 * time.Millisecond)
	if c.InCooldown() {
		t.Fatal("cooldown should have expired")
	}
	if !c.CanCall() {
		t.Fatal("call after expiry should pass")
	}
}

func TestDeferredOpsDrainInOrder(t *testing.T) {
	c, tk := newTestCooldown(t, time.Second)

	c.CanCall()
	var order []int
	c.Enqueue(func() { order = append(order, 1) })
	c.Enqueue(func() { order = append(order, 2) })

	tk.Advance(time.Second)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected FIFO drain, got %v", order)
	}
}

func TestRelimitedOpWaitsForNextExpiry(t *testing.T) {
	c, tk := newTestCooldown(t, time.Second)

	c.CanCall()
	var winner, retried int
	var retry func()
	retry = func() {
		if !c.CanCall() {
			retried++
			c.Enqueue(retry)
			return
		}
		winner++
	}
	// Both drain on expiry; the first consumes the reopened window, the
	// second re-enqueues and wins the one after.
	c.Enqueue(retry)
	c.Enqueue(retry)

	tk.Advance(time.Second)
	if winner != 1 || retried != 1 {
		t.Fatalf("after first expiry: winner=%d retried=%d", winner, retried)
	}

	tk.Advance(time.Second)
	if winner != 2 {
		t.Fatalf("re-enqueued op should run after the next expiry, winner=%d", winner)
	}
}

func TestOnChangedFires(t *testing.T) {
	c, tk := newTestCooldown(t, time.Second)

	var flips []bool
	c.OnChanged(func(active bool) { flips = append(flips, active) })

	c.CanCall()
	tk.Advance(time.Second)

	if len(flips) != 2 || !flips[0] || flips[1] {
		t.Fatalf("expected [true false], got %v", flips)
	}
}
