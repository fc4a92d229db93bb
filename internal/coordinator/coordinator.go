// internal/coordinator/coordinator.go

// Package coordinator runs the whole client session: it turns bus requests
// into gateway calls, owns the local lobby/player lifecycle, and starts the
// heartbeat and relay negotiation once a session is joined.
package coordinator

import (
	"github.com/google/uuid"

	"github.com/blockfriends/partylink/internal/directory"
	"github.com/blockfriends/partylink/internal/heartbeat"
	"github.com/blockfriends/partylink/internal/message"
	"github.com/blockfriends/partylink/internal/party"
	"github.com/blockfriends/partylink/internal/relay"
)

// ListState tracks lobby-list retrieval, for UI that shows the list.
type ListState int

const (
	ListEmpty ListState = iota
	ListFetching
	ListError
	ListFetched
)

// Coordinator is the top-level session driver. Everything runs on the tick
// goroutine.
type Coordinator struct {
	reg *Registry

	scene  message.Scene
	lobby  *party.LocalLobby
	player *party.LocalPlayer
	sync   *heartbeat.Synchronizer

	host   *relay.Host
	client *relay.Client

	colorFilter party.Color
	listState   ListState
	listed      map[string]party.Description

	// generation increments on every teardown so late completions from a
	// previous session can be told apart and discarded.
	generation int
}

func New(reg *Registry) *Coordinator {
	c := &Coordinator{
		reg:    reg,
		scene:  message.SceneMainMenu,
		lobby:  party.NewLocalLobby(),
		player: party.NewLocalPlayer(),
		listed: make(map[string]party.Description),
	}
	c.sync = heartbeat.New(reg.Log, reg.Bus, reg.Ticker, reg.Gateway, heartbeat.Config{
		SyncPeriod:      reg.Cfg.SyncPeriod,
		ApprovalMaxTime: reg.Cfg.ApprovalMaxTime,
	})

	id := uuid.NewString()
	c.player.SetID(id)
	c.player.SetDisplayName(GenerateName(id))
	// The local player is hooked into the lobby before any join, so the
	// mirror already knows it when the first remote snapshot lands.
	c.lobby.AddPlayer(c.player)
	c.lobby.Observe(c.onLobbyChanged)

	reg.Bus.Subscribe(c)
	return c
}

func (c *Coordinator) Lobby() *party.LocalLobby   { return c.lobby }
func (c *Coordinator) Player() *party.LocalPlayer { return c.player }
func (c *Coordinator) Scene() message.Scene       { return c.scene }
func (c *Coordinator) ListState() ListState       { return c.listState }

// Listed returns the most recent lobby-list snapshot, keyed by session id.
func (c *Coordinator) Listed() map[string]party.Description { return c.listed }

// SetColorFilter narrows queries and quick joins to one color tag.
func (c *Coordinator) SetColorFilter(color party.Color) { c.colorFilter = color }

// OnMessage is the request surface: the UI layer (and the other core
// components) communicate exclusively through these messages.
func (c *Coordinator) OnMessage(msg message.Message) {
	switch msg.Type {
	case message.TypeCreateRequest:
		params, ok := msg.Payload.(message.CreateRequest)
		if !ok {
			return
		}
		c.colorFilter = params.Color
		c.reg.Gateway.Create(directory.CreateParams{
			Name:       params.Name,
			MaxPlayers: params.MaxPlayers,
			Private:    params.Private,
			Player:     c.playerParams(),
		}, c.onCreated, c.onFailedJoin)

	case message.TypeJoinRequest:
		ref, ok := msg.Payload.(message.SessionRef)
		if !ok {
			return
		}
		c.reg.Gateway.Join(directory.JoinParams{
			SessionID: ref.ID,
			Code:      ref.Code,
			Player:    c.playerParams(),
		}, c.onJoined, c.onFailedJoin)

	case message.TypeQuickJoin:
		if color, ok := msg.Payload.(party.Color); ok {
			c.colorFilter = color
		}
		c.reg.Gateway.QuickJoin(c.filter(), c.playerParams(), c.onJoined, c.onFailedJoin)

	case message.TypeQueryRequest:
		if color, ok := msg.Payload.(party.Color); ok {
			c.colorFilter = color
		}
		c.listState = ListFetching
		c.reg.Gateway.Query(c.filter(), c.onQueried, c.onQueryFailed)

	case message.TypeRenameRequest:
		name, _ := msg.Payload.(string)
		if name == "" {
			c.reg.Bus.Publish(message.Message{Type: message.TypeDisplayError, Payload: "Empty name not allowed."})
			return
		}
		c.player.SetDisplayName(name)

	case message.TypeUserStatus:
		if status, ok := msg.Payload.(party.PlayerStatus); ok {
			c.player.SetStatus(status)
		}

	case message.TypeSetEmote:
		if emote, ok := msg.Payload.(party.Emote); ok {
			c.player.SetEmote(emote)
		}

	case message.TypeApprovalGranted:
		c.player.SetApproved(true)

	case message.TypeStartCountdown:
		c.lobby.SetState(party.StateCountdown)

	case message.TypeCancelCountdown:
		c.lobby.SetState(party.StateLobby)

	case message.TypeCompleteCountdown:
		// Only the host flips the session into the game; everyone else
		// observes the state change through reconciliation.
		if c.player.IsHost() {
			c.reg.Bus.Publish(message.Message{Type: message.TypeConfirmInGame})
		}

	case message.TypeConfirmInGame:
		c.player.SetStatus(party.StatusInGame)
		c.lobby.SetState(party.StateInGame)

	case message.TypeEndGame:
		c.lobby.SetState(party.StateLobby)
		c.player.SetStatus(party.StatusLobby)

	case message.TypeChangeScene:
		if scene, ok := msg.Payload.(message.Scene); ok {
			c.setScene(scene)
		}
	}
}

// onLobbyChanged moves a non-host client into the game when reconciliation
// shows the session has started, instead of each client polling for it.
func (c *Coordinator) onLobbyChanged(lobby *party.LocalLobby) {
	if lobby.State() != party.StateInGame {
		return
	}
	if c.player.IsHost() || !c.player.IsApproved() {
		return
	}
	if c.player.Status() == party.StatusInGame {
		return
	}
	c.player.SetStatus(party.StatusInGame)
	c.scene = message.SceneInGame
}

func (c *Coordinator) filter() directory.Filter {
	return directory.Filter{Color: int(c.colorFilter)}
}

func (c *Coordinator) playerParams() directory.PlayerParams {
	return directory.PlayerParams{ID: c.player.ID(), Data: party.PlayerProperties(c.player)}
}

func (c *Coordinator) onCreated(s *directory.Session) {
	c.player.SetHost(true)
	c.player.SetSeat(party.SeatBottom)
	c.onJoined(s)
	// Stamp the chosen color after the initial apply so the first heartbeat
	// push carries it.
	c.lobby.SetColor(c.colorFilter)
}

func (c *Coordinator) onJoined(s *directory.Session) {
	party.ApplySession(s, c.lobby)
	if !c.player.IsHost() {
		c.assignSeat(len(s.Players))
	}
	c.reg.Gateway.BeginTracking(s.ID)
	c.sync.BeginTracking(c.lobby, c.player)
	// Players connect to the relay without game logic available, so the host
	// can still reject them; nothing trusts them until approval.
	c.player.SetStatus(party.StatusConnecting)
	c.startRelay()
	c.scene = message.SceneLobby
}

// assignSeat deals paddle positions by join order.
func (c *Coordinator) assignSeat(memberCount int) {
	switch memberCount {
	case 2:
		c.player.SetSeat(party.SeatTop)
	case 3:
		c.player.SetSeat(party.SeatRight)
	case 4:
		c.player.SetSeat(party.SeatLeft)
	}
}

func (c *Coordinator) startRelay() {
	gen := c.generation
	onConnected := func(allocationID, joinCode string) {
		if gen != c.generation {
			return
		}
		c.reg.Gateway.UpdatePlayerRelayInfo(c.player.ID(), allocationID, joinCode, nil)
		// Refresh now so the freshly pushed code isn't clobbered by a pull
		// of older data.
		c.reg.Gateway.ForceRefresh()
	}
	cfg := relay.Config{
		CallTimeout: c.reg.Cfg.CallTimeout,
		RetryDelay:  c.reg.Cfg.RetryDelay,
		Approval: relay.ApprovalConfig{
			GraceWindow: c.reg.Cfg.ApprovalWindow,
			FailOpen:    true,
		},
	}
	if c.player.IsHost() {
		c.host = relay.NewHost(c.reg.Log, c.reg.Bus, c.reg.Ticker, c.reg.Relay, cfg, c.lobby, c.player, onConnected)
		c.host.Start()
	} else {
		c.client = relay.NewClient(c.reg.Log, c.reg.Bus, c.reg.Ticker, c.reg.Relay, cfg, c.lobby, c.player, onConnected)
		c.client.Start()
	}
}

func (c *Coordinator) onFailedJoin() {
	c.reg.Log.Warn("create/join attempt failed")
}

func (c *Coordinator) onQueried(list []*directory.Session) {
	if list == nil {
		// Rate limited; the gateway re-enqueued the query.
		return
	}
	listed := make(map[string]party.Description, len(list))
	for _, s := range list {
		listed[s.ID] = party.RemoteDescription(s)
	}
	c.listed = listed
	c.listState = ListFetched
}

func (c *Coordinator) onQueryFailed() {
	c.listState = ListError
}

func (c *Coordinator) setScene(scene message.Scene) {
	leavingLobby := (scene == message.SceneMainMenu || scene == message.SceneJoinMenu) &&
		(c.scene == message.SceneLobby || c.scene == message.SceneInGame)
	c.scene = scene
	if leavingLobby {
		c.onLeftLobby()
	}
}

// onLeftLobby tears the session down. In-flight calls complete against the
// old generation and are discarded.
func (c *Coordinator) onLeftLobby() {
	sessionID := c.lobby.ID()
	c.player.ResetState()
	c.sync.EndTracking()
	c.reg.Gateway.Leave(sessionID, c.player.ID(), nil)
	c.reg.Gateway.EndTracking()
	if c.host != nil {
		c.host.Stop()
		c.host = nil
	}
	if c.client != nil {
		c.client.Stop()
		c.client = nil
	}
	c.generation++
	c.lobby.Reset(c.player)
}
