// internal/message/bus.go
package message

import (
	"time"

	"github.com/sirupsen/logrus"
)

// maxPublishDepth bounds publishes triggered from within handlers. Legitimate
// cascades stay shallow; anything deeper is a notification cycle.
const maxPublishDepth = 5

// durationTolerance is how long one handler may take before a warning is
// logged. Observability only; slow handlers are not evicted.
const durationTolerance = 30 * time.Millisecond

// Handler receives published messages. Don't assume messages arrive in any
// particular order relative to other handlers.
type Handler interface {
	OnMessage(msg Message)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(msg Message)

func (f HandlerFunc) OnMessage(msg Message) { f(msg) }

// Bus delivers published messages synchronously to every current subscriber.
// Subscribe/Unsubscribe calls made during a delivery pass are deferred until
// the pass completes, so a handler can unsubscribe itself mid-notification
// without corrupting the iteration. Not safe for concurrent use; everything
// runs on the tick goroutine.
type Bus struct {
	log      *logrus.Logger
	handlers []Handler
	pending  []func()
	depth    int
}

func NewBus(log *logrus.Logger) *Bus {
	return &Bus{log: log}
}

func (b *Bus) Subscribe(h Handler) {
	if h == nil {
		return
	}
	b.pending = append(b.pending, func() {
		for _, existing := range b.handlers {
			if existing == h {
				return
			}
		}
		b.handlers = append(b.handlers, h)
	})
	b.applyPending()
}

func (b *Bus) Unsubscribe(h Handler) {
	b.pending = append(b.pending, func() {
		for i, existing := range b.handlers {
			if existing == h {
				b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
				return
			}
		}
	})
	b.applyPending()
}

// applyPending flushes deferred subscription changes, but only outside of a
// delivery pass.
func (b *Bus) applyPending() {
	if b.depth > 0 {
		return
	}
	for len(b.pending) > 0 {
		op := b.pending[0]
		b.pending = b.pending[1:]
		op()
	}
}

// Publish delivers msg to every subscriber, in unspecified order.
func (b *Bus) Publish(msg Message) {
	if b.depth > maxPublishDepth {
		b.log.WithField("type", msg.Type.String()).
			Error("publish recursion limit hit; is a handler publishing in response to its own message?")
		return
	}

	b.applyPending()

	b.depth++
	for _, h := range b.handlers {
		start := time.Now()
		h.OnMessage(msg)
		if elapsed := time.Since(start); elapsed > durationTolerance {
			b.log.WithFields(logrus.Fields{
				"type":    msg.Type.String(),
				"elapsed": elapsed,
			}).Warn("message handler took too long")
		}
	}
	b.depth--

	b.applyPending()
}
