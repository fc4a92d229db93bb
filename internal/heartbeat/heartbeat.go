// internal/heartbeat/heartbeat.go

// Package heartbeat keeps a joined session synchronized at a cadence
// compliant with the directory's rate limiting: push locally dirty fields,
// then pull the latest remote copy and reconcile it into the local mirror.
package heartbeat

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blockfriends/partylink/internal/gateway"
	"github.com/blockfriends/partylink/internal/message"
	"github.com/blockfriends/partylink/internal/party"
	"github.com/blockfriends/partylink/internal/ticker"
)

// Config carries the synchronizer timings.
type Config struct {
	// SyncPeriod spaces the push/pull rounds. Several seconds; the gateway's
	// cooldowns are the real limiter.
	SyncPeriod time.Duration
	// ApprovalMaxTime is how long an unapproved client waits before the
	// connection attempt is declared timed out.
	ApprovalMaxTime time.Duration
}

// Synchronizer runs the periodic push-then-pull cycle for one tracked
// session. Single-flight: while a round's queries are outstanding,
// subsequent ticks do nothing.
type Synchronizer struct {
	log *logrus.Logger
	bus *message.Bus
	tk  *ticker.Ticker
	gw  *gateway.Gateway
	cfg Config

	lobby  *party.LocalLobby
	player *party.LocalPlayer

	awaiting   int
	shouldPush bool
	lifetime   time.Duration

	handle  ticker.Handle
	obsID   int
	tracking bool
}

func New(log *logrus.Logger, bus *message.Bus, tk *ticker.Ticker, gw *gateway.Gateway, cfg Config) *Synchronizer {
	return &Synchronizer{log: log, bus: bus, tk: tk, gw: gw, cfg: cfg}
}

// BeginTracking starts the cycle for a freshly joined session. The first
// round always pushes, so a joining player's presence reaches the lobby even
// if they never touch their own data.
func (s *Synchronizer) BeginTracking(lobby *party.LocalLobby, player *party.LocalPlayer) {
	s.lobby = lobby
	s.player = player
	s.handle = s.tk.Subscribe("heartbeat", s.onTick, s.cfg.SyncPeriod)
	s.bus.Subscribe(s)
	s.obsID = lobby.Observe(s.onLobbyChanged)
	s.shouldPush = true
	s.lifetime = 0
	s.awaiting = 0
	s.tracking = true
}

// EndTracking stops the cycle. In-flight calls may still complete; their
// completions find tracking off and are discarded.
func (s *Synchronizer) EndTracking() {
	if !s.tracking {
		return
	}
	s.tracking = false
	s.shouldPush = false
	s.tk.Unsubscribe(s.handle)
	s.bus.Unsubscribe(s)
	if s.lobby != nil {
		s.lobby.Unobserve(s.obsID)
	}
	s.lobby = nil
	s.player = nil
	s.log.Debug("heartbeat: ended tracking")
}

func (s *Synchronizer) onLobbyChanged(changed *party.LocalLobby) {
	// When the player leaves, the lobby is cleared out but kept around.
	if changed.ID() == "" {
		s.EndTracking()
		return
	}
	s.shouldPush = true
}

// OnMessage lets the host veto joiners whose lobby has already moved on.
// Without refreshing, a session can linger in someone's lobby list after its
// countdown starts and still be join-targeted.
func (s *Synchronizer) OnMessage(msg message.Message) {
	if msg.Type != message.TypeApprovalRequested {
		return
	}
	req, ok := msg.Payload.(message.ApprovalRequest)
	if !ok || s.lobby == nil {
		return
	}
	if s.lobby.State() != party.StateLobby {
		req.Disapprove(message.DenyGameAlreadyStarted)
	}
}

func (s *Synchronizer) onTick(dt time.Duration) {
	s.lifetime += dt
	if s.lobby == nil {
		return
	}

	if s.player.IsHost() {
		// Liveness ping, separate from the data cycle; skipping it gets the
		// session garbage-collected as abandoned. Accounted before the
		// single-flight gate so an outstanding round can't stretch the ping
		// period.
		s.gw.Keepalive(dt)
	}

	if s.awaiting > 0 {
		return
	}

	if !s.player.IsApproved() && s.lifetime > s.cfg.ApprovalMaxTime {
		s.bus.Publish(message.Message{Type: message.TypeDisplayError, Payload: "Connection attempt timed out!"})
		s.bus.Publish(message.Message{Type: message.TypeChangeScene, Payload: message.SceneJoinMenu})
	}

	if s.shouldPush {
		s.push()
	} else {
		s.pull()
	}
}

// push sends dirty data up: the host owns the lobby-level fields, every
// player owns their member fields, and the pull runs once the last push
// completes. A failed push leaves shouldPush logic untouched; the same field
// set goes out next round (pushes are idempotent last-write overwrites).
func (s *Synchronizer) push() {
	s.shouldPush = false

	if s.player.IsHost() {
		s.awaiting++
		s.pushLobbyData()
	}
	s.awaiting++
	gen := s.lobby
	s.gw.UpdatePlayerData(s.player.ID(), party.PlayerProperties(s.player), func() {
		if s.lobby != gen {
			return
		}
		if s.awaiting--; s.awaiting <= 0 {
			s.pull()
		}
	})
}

func (s *Synchronizer) pushLobbyData() {
	// If the remote already has a relay code and ours hasn't arrived yet,
	// pushing now would clobber it with an empty value. Skip; the pull will
	// bring it down instead.
	if s.gw.HasRelayCode() && s.lobby.RelayJoinCode() == "" {
		s.log.Debug("heartbeat: abort lobby push, remote relay code would be overwritten")
		s.awaiting--
		return
	}
	gen := s.lobby
	s.gw.UpdateSessionData(party.LobbyProperties(s.lobby), func() {
		if s.lobby != gen {
			return
		}
		if s.awaiting--; s.awaiting <= 0 {
			s.pull()
		}
	})
}

// pull reconciles the gateway's cached remote copy into the mirror. A nil or
// degenerate copy is silently skipped; the next tick retries.
func (s *Synchronizer) pull() {
	if s.lobby == nil {
		return
	}
	remote := s.gw.Current()
	if remote == nil {
		return
	}
	if len(remote.Data) == 0 && s.lobby.Code() != "" {
		// The remote copy lost its data map, likely a racing overwrite.
		// Re-push ours rather than reconciling emptiness in.
		s.log.Debug("heartbeat: remote data missing, re-pushing")
		s.awaiting++
		s.pushLobbyData()
		return
	}

	prevPush := s.shouldPush
	party.ApplySession(remote, s.lobby)
	s.shouldPush = prevPush

	if s.lobby == nil {
		// ApplySession can empty the lobby id, which tears tracking down via
		// the observer.
		return
	}

	// The directory notices a vanished host eventually; detecting it from
	// the member list disconnects sooner.
	if !s.player.IsHost() && !s.lobby.HasHost() {
		s.bus.Publish(message.Message{Type: message.TypeDisplayError, Payload: "Host left the lobby! Disconnecting..."})
		s.bus.Publish(message.Message{Type: message.TypeEndGame})
		s.bus.Publish(message.Message{Type: message.TypeChangeScene, Payload: message.SceneJoinMenu})
	}
}
