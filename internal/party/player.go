// internal/party/player.go
package party

// PlayerStatus is the current state of a player within the session flow.
type PlayerStatus int

const (
	StatusNone       PlayerStatus = iota
	StatusMenu                    // Not in a lobby, sitting in one of the menus.
	StatusConnecting              // Joined a lobby but not yet connected to the relay.
	StatusLobby                   // In a lobby and connected to the relay.
	StatusReady                   // Pressed ready, waiting for the game to start.
	StatusInGame                  // Part of a game that has started.
)

func (s PlayerStatus) String() string {
	switch s {
	case StatusMenu:
		return "menu"
	case StatusConnecting:
		return "connecting"
	case StatusLobby:
		return "lobby"
	case StatusReady:
		return "ready"
	case StatusInGame:
		return "ingame"
	}
	return "none"
}

// Seat is the paddle position assigned to a player. Seats are handed out by
// join order: the host takes the bottom, later joiners fill top, right, left.
type Seat int

const (
	SeatBottom Seat = iota
	SeatTop
	SeatRight
	SeatLeft
)

// Emote is a cosmetic reaction a player can flash to the rest of the lobby.
type Emote int

const (
	EmoteNone Emote = iota
	EmoteWave
	EmoteLaugh
	EmoteAngry
	EmoteTaunt
)

// PlayerData is the value snapshot of a single player's lobby-visible state.
type PlayerData struct {
	ID          string
	DisplayName string
	IsHost      bool
	IsApproved  bool
	Status      PlayerStatus
	Seat        Seat
	Emote       Emote
}

// LocalPlayer tracks one player's data and notifies observers when it
// changes, so edits made between a push and the next pull are visible to the
// heartbeat loop.
type LocalPlayer struct {
	data      PlayerData
	observers map[int]func(*LocalPlayer)
	nextObs   int
}

func NewLocalPlayer() *LocalPlayer {
	return &LocalPlayer{
		data:      PlayerData{Status: StatusMenu},
		observers: make(map[int]func(*LocalPlayer)),
	}
}

// Observe registers fn to be called after every mutation. The returned id is
// used with Unobserve; observers must be detached before the player is
// discarded.
func (p *LocalPlayer) Observe(fn func(*LocalPlayer)) int {
	p.nextObs++
	p.observers[p.nextObs] = fn
	return p.nextObs
}

func (p *LocalPlayer) Unobserve(id int) {
	delete(p.observers, id)
}

func (p *LocalPlayer) notify() {
	for _, fn := range p.observers {
		fn(p)
	}
}

// Data returns a copy of the player's current state.
func (p *LocalPlayer) Data() PlayerData { return p.data }

func (p *LocalPlayer) ID() string           { return p.data.ID }
func (p *LocalPlayer) DisplayName() string  { return p.data.DisplayName }
func (p *LocalPlayer) IsHost() bool         { return p.data.IsHost }
func (p *LocalPlayer) IsApproved() bool     { return p.data.IsApproved }
func (p *LocalPlayer) Status() PlayerStatus { return p.data.Status }
func (p *LocalPlayer) Seat() Seat           { return p.data.Seat }
func (p *LocalPlayer) Emote() Emote         { return p.data.Emote }

func (p *LocalPlayer) SetID(id string) {
	if p.data.ID == id {
		return
	}
	p.data.ID = id
	p.notify()
}

func (p *LocalPlayer) SetDisplayName(name string) {
	if p.data.DisplayName == name {
		return
	}
	p.data.DisplayName = name
	p.notify()
}

// SetHost marks the player as host. Hosts are implicitly approved; they are
// the ones granting approval to everyone else.
func (p *LocalPlayer) SetHost(isHost bool) {
	if p.data.IsHost == isHost {
		return
	}
	p.data.IsHost = isHost
	p.notify()
	if isHost {
		p.SetApproved(true)
	}
}

// SetApproved is monotonic: once a player is approved, only ResetState clears
// it. A remote pull carrying a stale false never revokes approval.
func (p *LocalPlayer) SetApproved(approved bool) {
	if !approved || p.data.IsApproved {
		return
	}
	p.data.IsApproved = true
	p.notify()
}

func (p *LocalPlayer) SetStatus(status PlayerStatus) {
	if p.data.Status == status {
		return
	}
	p.data.Status = status
	p.notify()
}

func (p *LocalPlayer) SetSeat(seat Seat) {
	if p.data.Seat == seat {
		return
	}
	p.data.Seat = seat
	p.notify()
}

func (p *LocalPlayer) SetEmote(emote Emote) {
	if p.data.Emote == emote {
		return
	}
	p.data.Emote = emote
	p.notify()
}

// apply overwrites the player's data wholesale from a remote snapshot,
// preserving the monotonic approval flag, and notifies once.
func (p *LocalPlayer) apply(data PlayerData) {
	if data == p.data {
		return
	}
	approved := p.data.IsApproved || data.IsApproved
	p.data = data
	p.data.IsApproved = approved
	p.notify()
}

// ResetState returns the player to the menu. ID and display name persist
// since this is likely the local user about to join something else.
func (p *LocalPlayer) ResetState() {
	p.data = PlayerData{
		ID:          p.data.ID,
		DisplayName: p.data.DisplayName,
		Status:      StatusMenu,
	}
	p.notify()
}
