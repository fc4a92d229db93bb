// internal/ticker/ticker.go

// Package ticker drives all periodic work off one shared low-frequency tick
// source. Subscribers declare a period and get called back with the elapsed
// time once it accumulates; timing is coalesced to the frame rate, not
// wall-clock-precise. Completions of asynchronous work are marshaled back
// onto the tick goroutine with Post, which is the only concurrency boundary
// in the whole core.
package ticker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultBudget is how long one subscriber may run before it is considered
// runaway and dropped.
const DefaultBudget = 10 * time.Millisecond

type subscriber struct {
	fn      func(dt time.Duration)
	period  time.Duration
	elapsed time.Duration
	name    string
	removed bool
	// keep prevents eviction for subscribers that are known to overrun
	// occasionally and are trusted to do so.
	keep bool
}

// Handle identifies a subscription for Unsubscribe.
type Handle = *subscriber

// Ticker is the shared tick source. Subscribe, Unsubscribe and Advance must
// all be called from the tick goroutine; Post may be called from anywhere.
type Ticker struct {
	log    *logrus.Logger
	budget time.Duration

	subs []*subscriber

	mu    sync.Mutex
	posts []func()
}

func New(log *logrus.Logger) *Ticker {
	return &Ticker{log: log, budget: DefaultBudget}
}

// SetBudget overrides the per-invocation duration budget.
func (t *Ticker) SetBudget(budget time.Duration) { t.budget = budget }

// Post schedules fn to run on the tick goroutine at the start of the next
// Advance. This is how network callbacks re-enter the single-threaded world.
func (t *Ticker) Post(fn func()) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	t.posts = append(t.posts, fn)
	t.mu.Unlock()
}

// Subscribe registers fn to be invoked roughly every period of elapsed tick
// time. name labels the subscriber in eviction logs.
func (t *Ticker) Subscribe(name string, fn func(dt time.Duration), period time.Duration) Handle {
	if fn == nil {
		return nil
	}
	sub := &subscriber{fn: fn, period: period, name: name}
	t.subs = append(t.subs, sub)
	return sub
}

// SubscribeKept is Subscribe without the duration-budget eviction, for
// subscribers expected to run long.
func (t *Ticker) SubscribeKept(name string, fn func(dt time.Duration), period time.Duration) Handle {
	sub := t.Subscribe(name, fn, period)
	if sub != nil {
		sub.keep = true
	}
	return sub
}

// Unsubscribe is safe to call with a handle that was already removed, or nil.
func (t *Ticker) Unsubscribe(h Handle) {
	if h == nil {
		return
	}
	h.removed = true
}

// After runs fn once after delay has elapsed. Used for fixed-backoff retries.
func (t *Ticker) After(name string, delay time.Duration, fn func()) Handle {
	var h Handle
	h = t.Subscribe(name, func(time.Duration) {
		t.Unsubscribe(h)
		fn()
	}, delay)
	return h
}

// Advance pumps the tick source by dt: posted completions first, then every
// subscriber whose period has accumulated. A subscriber that panics or that
// overruns the duration budget is dropped with a logged reason, so one
// runaway callback cannot wedge the loop forever.
func (t *Ticker) Advance(dt time.Duration) {
	t.mu.Lock()
	posts := t.posts
	t.posts = nil
	t.mu.Unlock()
	for _, fn := range posts {
		fn()
	}

	// Snapshot: callbacks may subscribe, which appends; those start next
	// Advance.
	subs := t.subs
	for _, sub := range subs {
		if sub.removed {
			continue
		}
		sub.elapsed += dt
		if sub.elapsed < sub.period {
			continue
		}
		accumulated := sub.elapsed
		sub.elapsed = 0

		start := time.Now()
		t.invoke(sub, accumulated)
		elapsed := time.Since(start)

		if !sub.removed && elapsed > t.budget && !sub.keep {
			sub.removed = true
			t.log.WithFields(logrus.Fields{
				"subscriber": sub.name,
				"elapsed":    elapsed,
			}).Error("tick subscriber took too long, removing")
		}
	}

	t.compact()
}

func (t *Ticker) invoke(sub *subscriber, dt time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			sub.removed = true
			t.log.WithFields(logrus.Fields{
				"subscriber": sub.name,
				"panic":      r,
			}).Error("tick subscriber panicked, removing")
		}
	}()
	sub.fn(dt)
}

func (t *Ticker) compact() {
	kept := t.subs[:0]
	for _, sub := range t.subs {
		if !sub.removed {
			kept = append(kept, sub)
		}
	}
	for i := len(kept); i < len(t.subs); i++ {
		t.subs[i] = nil
	}
	t.subs = kept
}

// Run drives Advance from the wall clock until ctx is done. frame is the
// outer tick rate everything coalesces to.
func (t *Ticker) Run(ctx context.Context, frame time.Duration) {
	tick := time.NewTicker(frame)
	defer tick.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			t.Advance(now.Sub(last))
			last = now
		}
	}
}
