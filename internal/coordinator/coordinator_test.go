// internal/coordinator/coordinator_test.go
package coordinator

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blockfriends/partylink/internal/config"
	"github.com/blockfriends/partylink/internal/directory"
	"github.com/blockfriends/partylink/internal/gateway"
	"github.com/blockfriends/partylink/internal/message"
	"github.com/blockfriends/partylink/internal/party"
	"github.com/blockfriends/partylink/internal/relay"
	"github.com/blockfriends/partylink/internal/ticker"
)

// fakeDirectory hands back a session shaped like what the create/join
// endpoints return.
type fakeDirectory struct {
	mu         sync.Mutex
	session    *directory.Session
	err        error
	leaveCalls int
}

func (f *fakeDirectory) respond() (*directory.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, f.err
}

func (f *fakeDirectory) Create(_ context.Context, params directory.CreateParams) (*directory.Session, error) {
	f.mu.Lock()
	if f.session != nil {
		f.session.HostID = params.Player.ID
		f.session.Players = []directory.Player{{ID: params.Player.ID, Data: params.Player.Data}}
	}
	f.mu.Unlock()
	return f.respond()
}

func (f *fakeDirectory) Join(_ context.Context, params directory.JoinParams) (*directory.Session, error) {
	f.mu.Lock()
	if f.session != nil {
		f.session.Players = append(f.session.Players, directory.Player{ID: params.Player.ID, Data: params.Player.Data})
	}
	f.mu.Unlock()
	return f.respond()
}

func (f *fakeDirectory) QuickJoin(context.Context, directory.Filter, directory.PlayerParams) (*directory.Session, error) {
	return f.respond()
}
func (f *fakeDirectory) Query(context.Context, directory.Filter) ([]*directory.Session, error) {
	s, err := f.respond()
	if err != nil {
		return nil, err
	}
	if s == nil {
		return []*directory.Session{}, nil
	}
	return []*directory.Session{s}, nil
}
func (f *fakeDirectory) Get(context.Context, string) (*directory.Session, error) { return f.respond() }
func (f *fakeDirectory) Leave(context.Context, string, string) error {
	f.mu.Lock()
	f.leaveCalls++
	f.mu.Unlock()
	return nil
}
func (f *fakeDirectory) UpdateSession(context.Context, string, map[string]directory.Property, bool) (*directory.Session, error) {
	return f.respond()
}
func (f *fakeDirectory) UpdatePlayer(context.Context, string, string, map[string]string, string, string) (*directory.Session, error) {
	return f.respond()
}
func (f *fakeDirectory) Heartbeat(context.Context, string) error { return nil }

// fakeRelay refuses allocations so negotiation stops early; coordinator
// behavior under test doesn't depend on the relay completing.
type fakeRelay struct {
	mu        sync.Mutex
	allocates int
}

func (f *fakeRelay) Allocate(context.Context, int) (*relay.Allocation, error) {
	f.mu.Lock()
	f.allocates++
	f.mu.Unlock()
	return nil, errors.New("relay offline")
}
func (f *fakeRelay) JoinCode(context.Context, string) (string, error) {
	return "", errors.New("relay offline")
}
func (f *fakeRelay) Join(context.Context, string) (*relay.Allocation, error) {
	return nil, errors.New("relay offline")
}

func testSession() *directory.Session {
	return &directory.Session{
		ID:         "s1",
		Code:       "ABC123",
		Name:       "Room",
		MaxPlayers: 4,
		Data:       map[string]directory.Property{},
	}
}

func newTestRegistry(dir *fakeDirectory, rel *fakeRelay) *Registry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	bus := message.NewBus(log)
	tk := ticker.New(log)
	cfg := config.Config{
		HostCooldown:      time.Second,
		JoinCooldown:      time.Second,
		QuickJoinCooldown: time.Second,
		QueryCooldown:     time.Second,
		SyncPeriod:        time.Second,
		KeepalivePeriod:   8 * time.Second,
		ApprovalMaxTime:   20 * time.Second,
		ApprovalWindow:    time.Second,
		RetryDelay:        time.Second,
		CallTimeout:       time.Second,
	}
	gw := gateway.New(log, bus, tk, dir, gateway.Config{
		HostCooldown:      cfg.HostCooldown,
		JoinCooldown:      cfg.JoinCooldown,
		QuickJoinCooldown: cfg.QuickJoinCooldown,
		QueryCooldown:     cfg.QueryCooldown,
		KeepalivePeriod:   cfg.KeepalivePeriod,
		CallTimeout:       cfg.CallTimeout,
	})
	return &Registry{
		Log:       log,
		Cfg:       cfg,
		Bus:       bus,
		Ticker:    tk,
		Directory: dir,
		Relay:     rel,
		Gateway:   gw,
	}
}

func pump(t *testing.T, tk *ticker.Ticker, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tk.Advance(50 * time.Millisecond)
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestCreateRequestHostsSession(t *testing.T) {
	dir := &fakeDirectory{session: testSession()}
	rel := &fakeRelay{}
	reg := newTestRegistry(dir, rel)
	co := New(reg)

	reg.Bus.Publish(message.Message{
		Type:    message.TypeCreateRequest,
		Payload: message.CreateRequest{Name: "Room", MaxPlayers: 4, Color: party.ColorGreen},
	})

	// The allocation call runs on a goroutine spawned as the scene flips, so
	// wait for both; the assertions below are unchanged.
	pump(t, reg.Ticker, func() bool {
		rel.mu.Lock()
		defer rel.mu.Unlock()
		return co.Scene() == message.SceneLobby && rel.allocates > 0
	})

	if !co.Player().IsHost() {
		t.Fatal("creator should be host")
	}
	if co.Player().Seat() != party.SeatBottom {
		t.Fatalf("host should take the bottom seat, got %v", co.Player().Seat())
	}
	if co.Lobby().ID() != "s1" {
		t.Fatalf("lobby mirror not seeded: %q", co.Lobby().ID())
	}
	if co.Lobby().Color() != party.ColorGreen {
		t.Fatalf("chosen color should land in the lobby, got %v", co.Lobby().Color())
	}

	rel.mu.Lock()
	defer rel.mu.Unlock()
	if rel.allocates == 0 {
		t.Fatal("hosting should start relay allocation")
	}
}

func TestJoinAssignsSeatByMemberCount(t *testing.T) {
	s := testSession()
	s.HostID = "h1"
	s.Players = []directory.Player{{ID: "h1", Data: map[string]string{}}}
	dir := &fakeDirectory{session: s}
	reg := newTestRegistry(dir, &fakeRelay{})
	co := New(reg)

	reg.Bus.Publish(message.Message{
		Type:    message.TypeJoinRequest,
		Payload: message.SessionRef{Code: "ABC123"},
	})
	pump(t, reg.Ticker, func() bool { return co.Scene() == message.SceneLobby })

	// Second member overall.
	if co.Player().Seat() != party.SeatTop {
		t.Fatalf("second joiner should sit top, got %v", co.Player().Seat())
	}
	if co.Player().IsHost() {
		t.Fatal("joiner must not be host")
	}
}

func TestEmptyRenameIsRefused(t *testing.T) {
	reg := newTestRegistry(&fakeDirectory{}, &fakeRelay{})
	co := New(reg)
	before := co.Player().DisplayName()

	var sawError bool
	reg.Bus.Subscribe(message.HandlerFunc(func(msg message.Message) {
		if msg.Type == message.TypeDisplayError {
			sawError = true
		}
	}))

	reg.Bus.Publish(message.Message{Type: message.TypeRenameRequest, Payload: ""})
	if !sawError {
		t.Fatal("empty rename should surface an error")
	}
	if co.Player().DisplayName() != before {
		t.Fatal("name must be unchanged")
	}

	reg.Bus.Publish(message.Message{Type: message.TypeRenameRequest, Payload: "Ada"})
	if co.Player().DisplayName() != "Ada" {
		t.Fatalf("rename should land, got %q", co.Player().DisplayName())
	}
}

func TestQueryPopulatesLobbyList(t *testing.T) {
	dir := &fakeDirectory{session: testSession()}
	reg := newTestRegistry(dir, &fakeRelay{})
	co := New(reg)

	reg.Bus.Publish(message.Message{Type: message.TypeQueryRequest})
	if co.ListState() != ListFetching {
		t.Fatalf("expected fetching state, got %v", co.ListState())
	}

	pump(t, reg.Ticker, func() bool { return co.ListState() == ListFetched })
	if _, ok := co.Listed()["s1"]; !ok {
		t.Fatalf("expected s1 in the list, got %v", co.Listed())
	}
}

func TestLeavingLobbyTearsDown(t *testing.T) {
	dir := &fakeDirectory{session: testSession()}
	reg := newTestRegistry(dir, &fakeRelay{})
	co := New(reg)

	reg.Bus.Publish(message.Message{
		Type:    message.TypeCreateRequest,
		Payload: message.CreateRequest{Name: "Room", MaxPlayers: 4},
	})
	pump(t, reg.Ticker, func() bool { return co.Scene() == message.SceneLobby })

	reg.Bus.Publish(message.Message{Type: message.TypeChangeScene, Payload: message.SceneMainMenu})

	if co.Lobby().ID() != "" {
		t.Fatal("lobby should be reset after leaving")
	}
	if co.Player().IsHost() || co.Player().IsApproved() {
		t.Fatal("player session state should clear")
	}
	if co.Lobby().PlayerCount() != 1 {
		t.Fatalf("only the local player should remain, got %d", co.Lobby().PlayerCount())
	}

	pump(t, reg.Ticker, func() bool {
		dir.mu.Lock()
		defer dir.mu.Unlock()
		return dir.leaveCalls == 1
	})
}

func TestCountdownMessagesDriveLobbyState(t *testing.T) {
	reg := newTestRegistry(&fakeDirectory{session: testSession()}, &fakeRelay{})
	co := New(reg)

	reg.Bus.Publish(message.Message{Type: message.TypeStartCountdown})
	if co.Lobby().State() != party.StateCountdown {
		t.Fatalf("expected countdown, got %v", co.Lobby().State())
	}
	reg.Bus.Publish(message.Message{Type: message.TypeCancelCountdown})
	if co.Lobby().State() != party.StateLobby {
		t.Fatalf("expected lobby, got %v", co.Lobby().State())
	}
	reg.Bus.Publish(message.Message{Type: message.TypeConfirmInGame})
	if co.Lobby().State() != party.StateInGame {
		t.Fatalf("expected in-game, got %v", co.Lobby().State())
	}
	if co.Player().Status() != party.StatusInGame {
		t.Fatalf("player should be in game, got %v", co.Player().Status())
	}
	reg.Bus.Publish(message.Message{Type: message.TypeEndGame})
	if co.Lobby().State() != party.StateLobby || co.Player().Status() != party.StatusLobby {
		t.Fatal("end game should return to lobby")
	}
}

func TestApprovedClientFollowsRemoteIntoGame(t *testing.T) {
	reg := newTestRegistry(&fakeDirectory{session: testSession()}, &fakeRelay{})
	co := New(reg)

	co.Player().SetApproved(true)
	// Reconciliation flips the mirror into the game.
	co.Lobby().SetState(party.StateInGame)

	if co.Player().Status() != party.StatusInGame {
		t.Fatalf("approved client should enter the game, got %v", co.Player().Status())
	}
	if co.Scene() != message.SceneInGame {
		t.Fatalf("scene should follow, got %v", co.Scene())
	}
}

func TestGenerateNameIsStable(t *testing.T) {
	a := GenerateName("some-player-id")
	b := GenerateName("some-player-id")
	c := GenerateName("another-player-id")
	if a != b {
		t.Fatalf("name must be deterministic: %q vs %q", a, b)
	}
	if a == "" || c == "" {
		t.Fatal("names must be nonempty")
	}
}
