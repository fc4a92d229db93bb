// internal/ratelimit/ratelimit.go

// Package ratelimit tracks the client side of the directory's per-category
// request limits. Each category owns a Cooldown: inside the window calls are
// refused and optionally queued, and the queue drains in submission order
// once the window expires. Being rate limited here is not an error; callers
// treat it like any other recoverable "try later".
package ratelimit

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blockfriends/partylink/internal/ticker"
)

// Cooldown gates one request category. Not safe for concurrent use; runs on
// the tick goroutine like everything else.
type Cooldown struct {
	log      *logrus.Logger
	tk       *ticker.Ticker
	category string
	cooldown time.Duration

	sinceLast  time.Duration
	inCooldown bool
	handle     ticker.Handle
	pending    []func()

	// onChanged fires when the cooldown state flips, e.g. so the UI can show
	// a waiting indicator.
	onChanged func(active bool)
}

// New returns a Cooldown that is immediately callable.
func New(log *logrus.Logger, tk *ticker.Ticker, category string, cooldown time.Duration) *Cooldown {
	return &Cooldown{
		log:       log,
		tk:        tk,
		category:  category,
		cooldown:  cooldown,
		sinceLast: cooldown, // first call goes straight through
	}
}

func (c *Cooldown) Category() string { return c.category }

// InCooldown reports whether a call right now would be refused.
func (c *Cooldown) InCooldown() bool { return c.inCooldown }

// OnChanged registers the state-flip observer. Only one is kept.
func (c *Cooldown) OnChanged(fn func(active bool)) { c.onChanged = fn }

// CanCall reports whether the category is clear. A true return starts the
// next cooldown window immediately, so the caller is expected to actually
// dispatch.
func (c *Cooldown) CanCall() bool {
	if c.sinceLast < c.cooldown {
		return false
	}
	c.sinceLast = 0
	c.setInCooldown(true)
	if c.handle == nil {
		c.handle = c.tk.Subscribe("ratelimit/"+c.category, c.onTick, c.cooldown)
	}
	return true
}

// Enqueue defers op until the cooldown expires. Queued operations run in
// FIFO order, exactly once per expiry; an operation that finds itself rate
// limited again re-enqueues behind anything added after it.
func (c *Cooldown) Enqueue(op func()) {
	if op == nil {
		return
	}
	c.pending = append(c.pending, op)
}

func (c *Cooldown) setInCooldown(active bool) {
	if c.inCooldown == active {
		return
	}
	c.inCooldown = active
	if c.onChanged != nil {
		c.onChanged(active)
	}
}

func (c *Cooldown) onTick(dt time.Duration) {
	c.sinceLast += dt
	if c.sinceLast < c.cooldown {
		return
	}
	c.setInCooldown(false)

	// An onChanged observer may have called CanCall immediately, putting us
	// back in cooldown; stay subscribed in that case.
	if c.inCooldown {
		return
	}
	c.tk.Unsubscribe(c.handle)
	c.handle = nil

	// Drain only what is queued right now. An operation may re-enqueue
	// itself or add new ones; those wait for the next expiry.
	n := len(c.pending)
	if n > 0 {
		c.log.WithFields(logrus.Fields{
			"category": c.category,
			"pending":  n,
		}).Debug("cooldown expired, draining deferred calls")
	}
	for ; n > 0; n-- {
		op := c.pending[0]
		c.pending = c.pending[1:]
		op()
	}
}
