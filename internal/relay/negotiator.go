// internal/relay/negotiator.go
package relay

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blockfriends/partylink/internal/message"
	"github.com/blockfriends/partylink/internal/party"
	"github.com/blockfriends/partylink/internal/ticker"
)

// State is where a negotiator is in its handshake. Host flow:
// Idle→Allocating→Binding→Connected. Client flow:
// Idle→AwaitingJoinCode→Joining→AwaitingApproval→Connected. Failed is
// re-enterable; the retry loops back through Idle.
type State int

const (
	StateIdle State = iota
	StateAllocating
	StateBinding
	StateAwaitingJoinCode
	StateJoining
	StateAwaitingApproval
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAllocating:
		return "allocating"
	case StateBinding:
		return "binding"
	case StateAwaitingJoinCode:
		return "awaiting_join_code"
	case StateJoining:
		return "joining"
	case StateAwaitingApproval:
		return "awaiting_approval"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	}
	return "idle"
}

// Config carries negotiation timings and the approval gate settings.
type Config struct {
	CallTimeout time.Duration
	// RetryDelay is the fixed backoff between failed handshake attempts.
	RetryDelay time.Duration
	Approval   ApprovalConfig
	// Dial overrides the transport dialer; nil means DialAllocation.
	Dial Dialer
}

func (c Config) dialer() Dialer {
	if c.Dial != nil {
		return c.Dial
	}
	return DialAllocation
}

// Host runs the host side of the handshake: allocate a relay slot, bind to
// it and fetch the shareable join code, publish the code into the lobby once
// both finish, then gate every inbound peer behind a PendingApproval.
type Host struct {
	log *logrus.Logger
	bus *message.Bus
	tk  *ticker.Ticker
	svc Service
	cfg Config

	lobby  *party.LocalLobby
	player *party.LocalPlayer

	// onConnected reports the finished handshake upstream, so the
	// allocation id and code can be attached to the player's directory
	// record.
	onConnected func(allocationID, joinCode string)

	state State
	alloc *Allocation
	code  string
	conn  *Conn
	bound bool
	coded bool

	approvals map[string]*PendingApproval
	stopped   bool
}

func NewHost(log *logrus.Logger, bus *message.Bus, tk *ticker.Ticker, svc Service, cfg Config,
	lobby *party.LocalLobby, player *party.LocalPlayer, onConnected func(allocationID, joinCode string)) *Host {
	return &Host{
		log:         log,
		bus:         bus,
		tk:          tk,
		svc:         svc,
		cfg:         cfg,
		lobby:       lobby,
		player:      player,
		onConnected: onConnected,
		approvals:   make(map[string]*PendingApproval),
	}
}

func (h *Host) State() State { return h.state }

// Conn exposes the bound transport once Connected, for the game layer.
func (h *Host) Conn() *Conn { return h.conn }

// Start kicks off the allocation. Safe to call again after a terminal
// failure; the retry loop calls it itself.
func (h *Host) Start() {
	if h.stopped || h.state == StateConnected {
		return
	}
	h.state = StateAllocating
	capacity := h.lobby.MaxPlayers()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.CallTimeout)
		defer cancel()
		alloc, err := h.svc.Allocate(ctx, capacity)
		h.tk.Post(func() {
			if h.stopped {
				return
			}
			if err != nil {
				h.fail(err)
				return
			}
			h.onAllocated(alloc)
		})
	}()
}

// Stop abandons the handshake and tears down whatever is up. In-flight
// calls complete and find stopped set.
func (h *Host) Stop() {
	h.stopped = true
	for _, p := range h.approvals {
		p.Cancel()
	}
	h.approvals = make(map[string]*PendingApproval)
	if h.conn != nil {
		h.conn.Close()
		h.conn = nil
	}
	h.state = StateIdle
}

// onAllocated begins the two independent halves of phase two: bind the
// transport, and exchange the allocation for a join code.
func (h *Host) onAllocated(alloc *Allocation) {
	h.alloc = alloc
	h.state = StateBinding

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.CallTimeout)
		defer cancel()
		code, err := h.svc.JoinCode(ctx, alloc.ID)
		h.tk.Post(func() {
			if h.stopped {
				return
			}
			if err != nil {
				h.fail(err)
				return
			}
			h.code = code
			h.coded = true
			h.checkComplete()
		})
	}()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.CallTimeout)
		defer cancel()
		conn, err := h.cfg.dialer()(ctx, alloc)
		h.tk.Post(func() {
			if h.stopped {
				if conn != nil {
					conn.Close()
				}
				return
			}
			if err != nil {
				h.fail(err)
				return
			}
			h.conn = conn
			h.bound = true
			go conn.ReadLoop(context.Background(),
				func(f Frame) { h.tk.Post(func() { h.onFrame(f) }) },
				func(err error) { h.tk.Post(func() { h.onClosed(err) }) })
			h.checkComplete()
		})
	}()
}

func (h *Host) checkComplete() {
	if !h.bound || !h.coded {
		return
	}
	h.state = StateConnected
	h.log.WithField("code", h.code).Info("relay host is bound")
	h.lobby.SetRelayJoinCode(h.code)
	h.player.SetStatus(party.StatusLobby)
	if h.onConnected != nil {
		h.onConnected(h.alloc.ID, h.code)
	}
}

func (h *Host) onFrame(f Frame) {
	if h.stopped {
		return
	}
	switch f.Type {
	case FramePeerJoined:
		if _, exists := h.approvals[f.Peer]; exists {
			return
		}
		p := NewPendingApproval(h.tk, f.Peer, h.cfg.Approval, h.onVerdict)
		// Register before broadcasting: a synchronous veto resolves through
		// onVerdict, which removes the entry.
		h.approvals[f.Peer] = p
		p.Broadcast(h.bus)
	case FramePeerLeft:
		if p, ok := h.approvals[f.Peer]; ok {
			p.Cancel()
			delete(h.approvals, f.Peer)
		}
	}
}

// onVerdict relays the gate's decision to the peer.
func (h *Host) onVerdict(peerID string, verdict Verdict, reason message.DenyReason) {
	delete(h.approvals, peerID)
	if h.conn == nil {
		return
	}
	frame := Frame{Type: FrameAdmit, Peer: peerID}
	if verdict == VerdictDenied {
		frame = Frame{Type: FrameDeny, Peer: peerID, Reason: denyReasonString(reason)}
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.CallTimeout)
	defer cancel()
	if err := h.conn.Send(ctx, frame); err != nil {
		h.log.WithError(err).Warn("failed to send approval verdict")
	}
}

func (h *Host) onClosed(err error) {
	if h.stopped {
		return
	}
	h.bound = false
	h.conn = nil
	h.fail(err)
}

func (h *Host) fail(err error) {
	h.log.WithError(err).Warn("relay host negotiation failed")
	surfaceFault(h.bus, err)
	h.state = StateFailed
	h.bound, h.coded = false, false
	h.tk.After("relay/host-retry", h.cfg.RetryDelay, func() {
		// Don't retry into a session we've since left.
		if h.stopped || h.lobby.ID() == "" {
			return
		}
		h.state = StateIdle
		h.Start()
	})
}

// Client runs the client side: wait for the join code to surface in the
// synchronized lobby (the host allocates asynchronously, so it isn't there
// at join time), resolve it into an allocation, bind, then hold at
// AwaitingApproval until the host's verdict arrives over the transport. The
// player isn't part of the game state machine until approval is observed.
type Client struct {
	log *logrus.Logger
	bus *message.Bus
	tk  *ticker.Ticker
	svc Service
	cfg Config

	lobby  *party.LocalLobby
	player *party.LocalPlayer

	onConnected func(allocationID, joinCode string)

	state   State
	alloc   *Allocation
	code    string
	conn    *Conn
	obsID   int
	watching bool
	stopped  bool
}

func NewClient(log *logrus.Logger, bus *message.Bus, tk *ticker.Ticker, svc Service, cfg Config,
	lobby *party.LocalLobby, player *party.LocalPlayer, onConnected func(allocationID, joinCode string)) *Client {
	return &Client{
		log:         log,
		bus:         bus,
		tk:          tk,
		svc:         svc,
		cfg:         cfg,
		lobby:       lobby,
		player:      player,
		onConnected: onConnected,
	}
}

func (c *Client) State() State { return c.state }

func (c *Client) Conn() *Conn { return c.conn }

// Start waits on the lobby mirror for the join code rather than polling: the
// snapshot's change notification fires whenever a reconciliation lands.
func (c *Client) Start() {
	if c.stopped || c.state == StateConnected {
		return
	}
	c.state = StateAwaitingJoinCode
	c.player.SetStatus(party.StatusConnecting)
	if code := c.lobby.RelayJoinCode(); code != "" {
		c.beginJoin(code)
		return
	}
	if !c.watching {
		c.obsID = c.lobby.Observe(c.onLobbyChanged)
		c.watching = true
	}
}

func (c *Client) Stop() {
	c.stopped = true
	c.unwatch()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateIdle
}

func (c *Client) unwatch() {
	if c.watching {
		c.lobby.Unobserve(c.obsID)
		c.watching = false
	}
}

func (c *Client) onLobbyChanged(lobby *party.LocalLobby) {
	if c.state != StateAwaitingJoinCode {
		return
	}
	code := lobby.RelayJoinCode()
	if code == "" {
		return
	}
	c.unwatch()
	c.beginJoin(code)
}

func (c *Client) beginJoin(code string) {
	c.state = StateJoining
	c.code = code
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CallTimeout)
		defer cancel()
		alloc, err := c.svc.Join(ctx, code)
		c.tk.Post(func() {
			if c.stopped {
				return
			}
			if err != nil {
				c.fail(err)
				return
			}
			c.onJoined(alloc)
		})
	}()
}

func (c *Client) onJoined(alloc *Allocation) {
	c.alloc = alloc
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CallTimeout)
		defer cancel()
		conn, err := c.cfg.dialer()(ctx, alloc)
		c.tk.Post(func() {
			if c.stopped {
				if conn != nil {
					conn.Close()
				}
				return
			}
			if err != nil {
				c.fail(err)
				return
			}
			c.conn = conn
			c.state = StateAwaitingApproval
			go conn.ReadLoop(context.Background(),
				func(f Frame) { c.tk.Post(func() { c.onFrame(f) }) },
				func(err error) { c.tk.Post(func() { c.onClosed(err) }) })
		})
	}()
}

func (c *Client) onFrame(f Frame) {
	if c.stopped {
		return
	}
	switch f.Type {
	case FrameAdmit:
		if c.state != StateAwaitingApproval {
			return
		}
		c.state = StateConnected
		c.log.Info("relay client admitted by host")
		c.player.SetApproved(true)
		c.player.SetStatus(party.StatusLobby)
		c.bus.Publish(message.Message{Type: message.TypeApprovalGranted})
		if c.onConnected != nil {
			c.onConnected(c.alloc.ID, c.code)
		}
	case FrameDeny:
		c.log.WithField("reason", f.Reason).Warn("relay client denied by host")
		c.bus.Publish(message.Message{Type: message.TypeDisplayError, Payload: "Host refused the connection: " + f.Reason})
		c.bus.Publish(message.Message{Type: message.TypeChangeScene, Payload: message.SceneJoinMenu})
		c.state = StateFailed
	}
}

func (c *Client) onClosed(err error) {
	if c.stopped || c.state == StateFailed {
		return
	}
	c.conn = nil
	c.fail(err)
}

func (c *Client) fail(err error) {
	c.log.WithError(err).Warn("relay client negotiation failed")
	surfaceFault(c.bus, err)
	c.state = StateFailed
	c.tk.After("relay/client-retry", c.cfg.RetryDelay, func() {
		if c.stopped || c.lobby.ID() == "" {
			return
		}
		c.state = StateIdle
		c.Start()
	})
}

// surfaceFault classifies a relay failure. Unlike the directory, the relay
// has no benign fault class; every service fault is user-visible.
func surfaceFault(bus *message.Bus, err error) {
	var se *ServiceError
	if !errors.As(err, &se) {
		return // transport hiccups retry silently
	}
	bus.Publish(message.Message{Type: message.TypeDisplayError, Payload: "Relay error: " + se.Message})
}

func denyReasonString(reason message.DenyReason) string {
	switch reason {
	case message.DenyGameAlreadyStarted:
		return "game already started"
	case message.DenySessionFull:
		return "session is full"
	}
	return "not approved"
}
