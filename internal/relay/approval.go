// internal/relay/approval.go
package relay

import (
	"time"

	"github.com/blockfriends/partylink/internal/message"
	"github.com/blockfriends/partylink/internal/ticker"
)

// Verdict is the outcome of a pending approval.
type Verdict int

const (
	VerdictApproved Verdict = iota
	VerdictDenied
)

// ApprovalConfig controls the admission gate.
type ApprovalConfig struct {
	// GraceWindow is how long disapprovals are accepted before the default
	// verdict lands.
	GraceWindow time.Duration
	// FailOpen admits the connection when the window elapses with no
	// disapproval. This is the inherited default; set false for a
	// fail-closed deployment.
	FailOpen bool
}

// PendingApproval gates one inbound relay connection. The host doesn't know
// what might object to a joiner, so this broadcasts that approval is being
// sought; any bus subscriber may disapprove with a reason inside the grace
// window. It resolves exactly once.
type PendingApproval struct {
	peerID   string
	resolved bool
	handle   ticker.Handle
	tk       *ticker.Ticker
	onResult func(peerID string, verdict Verdict, reason message.DenyReason)
}

// NewPendingApproval arms the grace-window clock. The broadcast is a separate
// step so callers can register the approval first; a synchronous disapproval
// during the publish then finds it where bookkeeping expects it.
func NewPendingApproval(tk *ticker.Ticker, peerID string, cfg ApprovalConfig,
	onResult func(peerID string, verdict Verdict, reason message.DenyReason)) *PendingApproval {

	p := &PendingApproval{peerID: peerID, tk: tk, onResult: onResult}
	deferred := Verdict(VerdictDenied)
	if cfg.FailOpen {
		deferred = VerdictApproved
	}
	p.handle = tk.After("relay/approval", cfg.GraceWindow, func() {
		p.resolve(deferred, message.DenyNone)
	})
	return p
}

// Broadcast asks the bus whether anything objects to the connection.
// Disapproval may arrive synchronously during the publish.
func (p *PendingApproval) Broadcast(bus *message.Bus) {
	bus.Publish(message.Message{
		Type:    message.TypeApprovalRequested,
		Payload: message.ApprovalRequest{PlayerID: p.peerID, Disapprove: p.Disapprove},
	})
}

// Disapprove refuses the connection. A call after resolution is ignored; a
// resolved approval never flips.
func (p *PendingApproval) Disapprove(reason message.DenyReason) {
	p.resolve(VerdictDenied, reason)
}

// Cancel disposes the approval without a verdict, for host teardown.
func (p *PendingApproval) Cancel() {
	if p.resolved {
		return
	}
	p.resolved = true
	p.tk.Unsubscribe(p.handle)
}

func (p *PendingApproval) resolve(verdict Verdict, reason message.DenyReason) {
	if p.resolved {
		return
	}
	p.resolved = true
	p.tk.Unsubscribe(p.handle)
	if p.onResult != nil {
		p.onResult(p.peerID, verdict, reason)
	}
}
