// internal/party/lobby.go

// Package party holds the local mirror of a joined session: the lobby
// description with per-field-group edit stamps, and the player list keyed by
// player id. All mutation happens on the tick goroutine; the merge rule in
// ApplyRemote is the only discipline reconciling local edits with remote
// pulls.
package party

import "time"

// LobbyState is the coarse lifecycle of a session.
type LobbyState int

const (
	StateLobby LobbyState = iota + 1
	StateCountdown
	StateInGame
)

func (s LobbyState) String() string {
	switch s {
	case StateLobby:
		return "lobby"
	case StateCountdown:
		return "countdown"
	case StateInGame:
		return "ingame"
	}
	return "unknown"
}

// Color is an arbitrary tag a host can set on a lobby, exposed as an indexed
// field so quick-join and query can filter on it.
type Color int

const (
	ColorNone Color = iota
	ColorOrange
	ColorGreen
	ColorBlue
)

// Description is the value snapshot of a lobby's own data. ID and Code are
// assigned once by the directory on create/join and never reassigned. The
// three *LastEdit stamps version their field groups independently so
// unrelated edits never collide during reconciliation.
type Description struct {
	ID   string
	Code string

	Name       string
	Private    bool
	MaxPlayers int

	// RelayJoinCode is the shareable code the host publishes once its relay
	// allocation exists; clients wait for it before they can join the
	// transport.
	RelayJoinCode string

	// RelayTransportCode carries the transport-layer session code, pushed
	// separately from the join code once the game transport spins up.
	RelayTransportCode string

	State LobbyState
	Color Color

	StateLastEdit         int64
	ColorLastEdit         int64
	TransportCodeLastEdit int64
}

// LocalLobby mirrors the remote session this client is in. Observers get one
// coalesced notification per mutation or remote apply, never one per field.
type LocalLobby struct {
	data    Description
	players map[string]*LocalPlayer

	playerObs map[string]int
	observers map[int]func(*LocalLobby)
	nextObs   int

	// now produces the logical stamps for versioned field groups. Wall clock
	// by default; tests inject a counter.
	now func() int64
}

func NewLocalLobby() *LocalLobby {
	return &LocalLobby{
		data:      Description{State: StateLobby},
		players:   make(map[string]*LocalPlayer),
		playerObs: make(map[string]int),
		observers: make(map[int]func(*LocalLobby)),
		now:       func() int64 { return time.Now().UnixNano() },
	}
}

// SetClock replaces the stamp source for the versioned field groups.
func (l *LocalLobby) SetClock(now func() int64) { l.now = now }

func (l *LocalLobby) Observe(fn func(*LocalLobby)) int {
	l.nextObs++
	l.observers[l.nextObs] = fn
	return l.nextObs
}

func (l *LocalLobby) Unobserve(id int) {
	delete(l.observers, id)
}

func (l *LocalLobby) notify() {
	for _, fn := range l.observers {
		fn(l)
	}
}

// Data returns a copy of the lobby's description.
func (l *LocalLobby) Data() Description { return l.data }

func (l *LocalLobby) ID() string                  { return l.data.ID }
func (l *LocalLobby) Code() string                { return l.data.Code }
func (l *LocalLobby) Name() string                { return l.data.Name }
func (l *LocalLobby) Private() bool               { return l.data.Private }
func (l *LocalLobby) MaxPlayers() int             { return l.data.MaxPlayers }
func (l *LocalLobby) RelayJoinCode() string       { return l.data.RelayJoinCode }
func (l *LocalLobby) RelayTransportCode() string  { return l.data.RelayTransportCode }
func (l *LocalLobby) State() LobbyState           { return l.data.State }
func (l *LocalLobby) Color() Color                { return l.data.Color }

func (l *LocalLobby) SetID(id string) {
	l.data.ID = id
	l.notify()
}

func (l *LocalLobby) SetCode(code string) {
	l.data.Code = code
	l.notify()
}

func (l *LocalLobby) SetName(name string) {
	l.data.Name = name
	l.notify()
}

func (l *LocalLobby) SetPrivate(private bool) {
	l.data.Private = private
	l.notify()
}

func (l *LocalLobby) SetMaxPlayers(n int) {
	l.data.MaxPlayers = n
	l.notify()
}

func (l *LocalLobby) SetRelayJoinCode(code string) {
	l.data.RelayJoinCode = code
	l.notify()
}

func (l *LocalLobby) SetRelayTransportCode(code string) {
	l.data.RelayTransportCode = code
	l.data.TransportCodeLastEdit = l.now()
	l.notify()
}

func (l *LocalLobby) SetState(state LobbyState) {
	l.data.State = state
	l.data.StateLastEdit = l.now()
	l.notify()
}

func (l *LocalLobby) SetColor(color Color) {
	if l.data.Color == color {
		return
	}
	l.data.Color = color
	l.data.ColorLastEdit = l.now()
	l.notify()
}

// Players returns the live player map, keyed by player id. Callers must not
// mutate it; insertion order carries no meaning.
func (l *LocalLobby) Players() map[string]*LocalPlayer { return l.players }

func (l *LocalLobby) PlayerCount() int { return len(l.players) }

func (l *LocalLobby) Player(id string) (*LocalPlayer, bool) {
	p, ok := l.players[id]
	return p, ok
}

// HasHost reports whether any player in the list is flagged host. The
// heartbeat loop uses a false result on a non-host client as the signal that
// the host has disconnected.
func (l *LocalLobby) HasHost() bool {
	for _, p := range l.players {
		if p.IsHost() {
			return true
		}
	}
	return false
}

// AddPlayer inserts a player and forwards its change notifications into the
// lobby's own.
func (l *LocalLobby) AddPlayer(p *LocalPlayer) {
	if _, exists := l.players[p.ID()]; exists {
		return
	}
	l.addPlayer(p)
	l.notify()
}

func (l *LocalLobby) addPlayer(p *LocalPlayer) {
	l.players[p.ID()] = p
	l.playerObs[p.ID()] = p.Observe(func(*LocalPlayer) { l.notify() })
}

// RemovePlayer drops a player and detaches the observer hooked up in
// AddPlayer.
func (l *LocalLobby) RemovePlayer(id string) {
	if _, exists := l.players[id]; !exists {
		return
	}
	l.removePlayer(id)
	l.notify()
}

func (l *LocalLobby) removePlayer(id string) {
	if p, ok := l.players[id]; ok {
		p.Unobserve(l.playerObs[id])
	}
	delete(l.playerObs, id)
	delete(l.players, id)
}

// ApplyRemote merges a freshly pulled remote description and player set into
// the mirror.
//
// It is possible to edit the lobby between pushing data and the pull for new
// data completing; the remote value would then overwrite the unobserved edit.
// For each stamped field group, the local value therefore wins when its stamp
// is strictly newer than the remote one, otherwise the remote value lands.
//
// The player list is reconciled as a set diff: players present remotely but
// not locally are added, players absent remotely are removed and their
// observers detached, everyone else is overwritten in place. Applying the
// same snapshot twice is a no-op diff. One coalesced notification fires at
// the end.
func (l *LocalLobby) ApplyRemote(remote Description, players map[string]PlayerData) {
	pendingState := remote.State
	pendingStateEdit := remote.StateLastEdit
	if l.data.StateLastEdit > remote.StateLastEdit {
		pendingState = l.data.State
		pendingStateEdit = l.data.StateLastEdit
	}
	pendingColor := remote.Color
	pendingColorEdit := remote.ColorLastEdit
	if l.data.ColorLastEdit > remote.ColorLastEdit {
		pendingColor = l.data.Color
		pendingColorEdit = l.data.ColorLastEdit
	}
	pendingCode := remote.RelayTransportCode
	pendingCodeEdit := remote.TransportCodeLastEdit
	if l.data.TransportCodeLastEdit > remote.TransportCodeLastEdit {
		pendingCode = l.data.RelayTransportCode
		pendingCodeEdit = l.data.TransportCodeLastEdit
	}

	l.data = remote
	l.data.State = pendingState
	l.data.StateLastEdit = pendingStateEdit
	l.data.Color = pendingColor
	l.data.ColorLastEdit = pendingColorEdit
	l.data.RelayTransportCode = pendingCode
	l.data.TransportCodeLastEdit = pendingCodeEdit

	if players == nil {
		for id := range l.players {
			l.removePlayer(id)
		}
	} else {
		for id, p := range l.players {
			if data, ok := players[id]; ok {
				p.apply(data)
			} else {
				l.removePlayer(id)
			}
		}
		for id, data := range players {
			if _, ok := l.players[id]; !ok {
				p := NewLocalPlayer()
				p.data = data
				l.addPlayer(p)
			}
		}
	}

	l.notify()
}

// Reset tears the lobby down after leaving: identity cleared, membership
// emptied except for the surviving local player.
func (l *LocalLobby) Reset(local *LocalPlayer) {
	for id := range l.players {
		l.removePlayer(id)
	}
	l.data = Description{State: StateLobby}
	if local != nil {
		l.addPlayer(local)
	}
	l.notify()
}
