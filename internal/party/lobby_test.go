// internal/party/lobby_test.go
package party

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stampClock is an injectable logical clock for deterministic edit stamps.
type stampClock struct{ t int64 }

func (c *stampClock) now() int64 {
	c.t++
	return c.t
}

func newStampedLobby() (*LocalLobby, *stampClock) {
	clock := &stampClock{}
	l := NewLocalLobby()
	l.SetClock(clock.now)
	return l, clock
}

func TestApplyRemoteLocalEditWinsWhenNewer(t *testing.T) {
	l, _ := newStampedLobby()
	l.SetID("s1")

	// Remote snapshot captured before the local edits below.
	remote := Description{ID: "s1", State: StateLobby, StateLastEdit: 1}

	l.SetState(StateCountdown) // stamp 1
	l.SetState(StateLobby)     // stamp 2
	l.SetState(StateInGame)    // stamp 3, strictly newer than the remote

	l.ApplyRemote(remote, map[string]PlayerData{})

	assert.Equal(t, StateInGame, l.State(), "newer local edit must survive the pull")
	assert.Equal(t, int64(3), l.Data().StateLastEdit, "local stamp must survive too")
}

func TestApplyRemoteRemoteWinsWhenNewer(t *testing.T) {
	l, _ := newStampedLobby()
	l.SetID("s1")
	l.SetColor(ColorGreen) // stamp 1

	remote := Description{ID: "s1", State: StateLobby, Color: ColorBlue, ColorLastEdit: 50}
	l.ApplyRemote(remote, map[string]PlayerData{})

	assert.Equal(t, ColorBlue, l.Color())
	assert.Equal(t, int64(50), l.Data().ColorLastEdit)
}

func TestApplyRemoteGroupsAreIndependent(t *testing.T) {
	l, _ := newStampedLobby()
	l.SetID("s1")
	l.SetState(StateCountdown)            // stamp 1
	l.SetRelayTransportCode("localcode")  // stamp 2

	remote := Description{
		ID:                    "s1",
		State:                 StateInGame,
		StateLastEdit:         90, // newer than local
		RelayTransportCode:    "remotecode",
		TransportCodeLastEdit: 1, // older than local
	}
	l.ApplyRemote(remote, map[string]PlayerData{})

	assert.Equal(t, StateInGame, l.State(), "remote state is newer")
	assert.Equal(t, "localcode", l.RelayTransportCode(), "local transport code is newer")
}

func TestApplyRemotePlayerSetDiff(t *testing.T) {
	l, _ := newStampedLobby()
	l.SetID("s1")

	local := NewLocalPlayer()
	local.SetID("p1")
	l.AddPlayer(local)

	leaver := NewLocalPlayer()
	leaver.SetID("p2")
	l.AddPlayer(leaver)

	remote := Description{ID: "s1", State: StateLobby}
	players := map[string]PlayerData{
		"p1": {ID: "p1", DisplayName: "Ada", Status: StatusLobby},
		"p3": {ID: "p3", DisplayName: "Lin"},
	}
	l.ApplyRemote(remote, players)

	require.Equal(t, 2, l.PlayerCount())
	_, hasLeaver := l.Player("p2")
	assert.False(t, hasLeaver, "absent remote player should be removed")

	p1, ok := l.Player("p1")
	require.True(t, ok)
	assert.Equal(t, "Ada", p1.DisplayName(), "present player updated in place")
	assert.Same(t, local, p1, "present player object identity preserved")

	_, hasJoiner := l.Player("p3")
	assert.True(t, hasJoiner, "new remote player should be added")

	// Applying the same snapshot again is a no-op diff.
	l.ApplyRemote(remote, players)
	assert.Equal(t, 2, l.PlayerCount())
}

func TestApplyRemoteDetachesRemovedPlayerObservers(t *testing.T) {
	l, _ := newStampedLobby()
	l.SetID("s1")

	leaver := NewLocalPlayer()
	leaver.SetID("p2")
	l.AddPlayer(leaver)

	var lobbyNotifies int
	l.Observe(func(*LocalLobby) { lobbyNotifies++ })

	l.ApplyRemote(Description{ID: "s1"}, map[string]PlayerData{})
	notifiesAfterApply := lobbyNotifies

	// The removed player mutating must no longer reach the lobby.
	leaver.SetStatus(StatusInGame)
	assert.Equal(t, notifiesAfterApply, lobbyNotifies)
}

func TestApplyRemoteNotifiesOnce(t *testing.T) {
	l, _ := newStampedLobby()
	l.SetID("s1")

	var notifies int
	l.Observe(func(*LocalLobby) { notifies++ })

	l.ApplyRemote(Description{ID: "s1", Name: "Room"}, map[string]PlayerData{
		"p1": {ID: "p1"},
		"p2": {ID: "p2"},
	})
	assert.Equal(t, 1, notifies, "apply must coalesce to one notification")
}

func TestHasHost(t *testing.T) {
	l, _ := newStampedLobby()
	p := NewLocalPlayer()
	p.SetID("p1")
	l.AddPlayer(p)
	assert.False(t, l.HasHost())

	p.SetHost(true)
	assert.True(t, l.HasHost())
}

func TestResetKeepsLocalPlayer(t *testing.T) {
	l, _ := newStampedLobby()
	l.SetID("s1")
	l.SetName("Room")

	local := NewLocalPlayer()
	local.SetID("p1")
	other := NewLocalPlayer()
	other.SetID("p2")
	l.AddPlayer(local)
	l.AddPlayer(other)

	l.Reset(local)

	assert.Equal(t, "", l.ID())
	assert.Equal(t, StateLobby, l.State())
	require.Equal(t, 1, l.PlayerCount())
	_, ok := l.Player("p1")
	assert.True(t, ok)
}
