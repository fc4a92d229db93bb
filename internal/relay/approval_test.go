// internal/relay/approval_test.go
package relay

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blockfriends/partylink/internal/message"
	"github.com/blockfriends/partylink/internal/ticker"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type verdictRecord struct {
	peerID  string
	verdict Verdict
	reason  message.DenyReason
	count   int
}

func newApprovalFixture() (*message.Bus, *ticker.Ticker, *verdictRecord, func(peer string, cfg ApprovalConfig) *PendingApproval) {
	log := testLogger()
	bus := message.NewBus(log)
	tk := ticker.New(log)
	rec := &verdictRecord{}
	mkApproval := func(peer string, cfg ApprovalConfig) *PendingApproval {
		p := NewPendingApproval(tk, peer, cfg, func(peerID string, verdict Verdict, reason message.DenyReason) {
			rec.peerID = peerID
			rec.verdict = verdict
			rec.reason = reason
			rec.count++
		})
		p.Broadcast(bus)
		return p
	}
	return bus, tk, rec, mkApproval
}

func TestFailOpenAdmitsAfterGraceWindow(t *testing.T) {
	_, tk, rec, mkApproval := newApprovalFixture()
	mkApproval("p1", ApprovalConfig{GraceWindow: time.Second, FailOpen: true})

	tk.Advance(500 * time.Millisecond)
	if rec.count != 0 {
		t.Fatal("resolved before the window elapsed")
	}
	tk.Advance(time.Second)
	if rec.count != 1 || rec.verdict != VerdictApproved || rec.peerID != "p1" {
		t.Fatalf("expected fail-open admit, got %+v", rec)
	}
}

func TestFailClosedDeniesAfterGraceWindow(t *testing.T) {
	_, tk, rec, mkApproval := newApprovalFixture()
	mkApproval("p1", ApprovalConfig{GraceWindow: time.Second, FailOpen: false})

	tk.Advance(time.Second)
	if rec.count != 1 || rec.verdict != VerdictDenied {
		t.Fatalf("expected fail-closed deny, got %+v", rec)
	}
}

func TestDisapprovalWithinWindowWins(t *testing.T) {
	bus, tk, rec, mkApproval := newApprovalFixture()

	// Emulate the lobby veto: disapprove synchronously during the broadcast.
	bus.Subscribe(message.HandlerFunc(func(msg message.Message) {
		if msg.Type == message.TypeApprovalRequested {
			req := msg.Payload.(message.ApprovalRequest)
			req.Disapprove(message.DenyGameAlreadyStarted)
		}
	}))

	mkApproval("p1", ApprovalConfig{GraceWindow: time.Second, FailOpen: true})
	if rec.count != 1 || rec.verdict != VerdictDenied || rec.reason != message.DenyGameAlreadyStarted {
		t.Fatalf("expected synchronous deny, got %+v", rec)
	}

	// The elapsed window must not resolve a second time.
	tk.Advance(2 * time.Second)
	if rec.count != 1 {
		t.Fatalf("approval resolved twice, count=%d", rec.count)
	}
}

func TestCancelSuppressesVerdict(t *testing.T) {
	_, tk, rec, mkApproval := newApprovalFixture()
	p := mkApproval("p1", ApprovalConfig{GraceWindow: time.Second, FailOpen: true})
	p.Cancel()

	tk.Advance(2 * time.Second)
	if rec.count != 0 {
		t.Fatalf("cancelled approval still resolved: %+v", rec)
	}

	p.Disapprove(message.DenyNone)
	if rec.count != 0 {
		t.Fatal("disapprove after cancel must be ignored")
	}
}
