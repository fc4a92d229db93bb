// internal/party/convert_test.go
package party

import (
	"testing"

	"github.com/blockfriends/partylink/internal/directory"
)

func wireSession() *directory.Session {
	return &directory.Session{
		ID:         "s1",
		Code:       "ABC123",
		Name:       "Room",
		HostID:     "p1",
		MaxPlayers: 4,
		Data: map[string]directory.Property{
			KeyRelayJoinCode:     {Value: "RJ99", Public: true},
			KeyState:             {Value: "2", Public: true},
			KeyStateLastEdit:     {Value: "77", Public: true},
			KeyColor:             {Value: "3", Public: true, Index: directory.ColorIndex},
			KeyColorLastEdit:     {Value: "12", Public: true},
		},
		Players: []directory.Player{
			{ID: "p1", Data: map[string]string{KeyDisplayName: "Ada", KeyStatus: "3", KeySeat: "0"}},
			{ID: "p2", Data: map[string]string{KeyDisplayName: "Lin", KeyStatus: "2", KeySeat: "1"}},
		},
	}
}

func TestRemoteDescription(t *testing.T) {
	d := RemoteDescription(wireSession())

	if d.ID != "s1" || d.Code != "ABC123" || d.MaxPlayers != 4 {
		t.Fatalf("identity fields mismatch: %+v", d)
	}
	if d.RelayJoinCode != "RJ99" {
		t.Fatalf("relay join code mismatch: %q", d.RelayJoinCode)
	}
	if d.State != StateCountdown || d.StateLastEdit != 77 {
		t.Fatalf("state group mismatch: %v/%d", d.State, d.StateLastEdit)
	}
	if d.Color != ColorBlue || d.ColorLastEdit != 12 {
		t.Fatalf("color group mismatch: %v/%d", d.Color, d.ColorLastEdit)
	}
}

func TestRemoteDescriptionDefaultsToLobbyState(t *testing.T) {
	s := wireSession()
	delete(s.Data, KeyState)
	d := RemoteDescription(s)
	if d.State != StateLobby {
		t.Fatalf("missing state should default to lobby, got %v", d.State)
	}
}

func TestRemotePlayersDeriveHostFromSession(t *testing.T) {
	players := RemotePlayers(wireSession())

	if len(players) != 2 {
		t.Fatalf("expected 2 players, got %d", len(players))
	}
	if !players["p1"].IsHost {
		t.Fatal("p1 should be host")
	}
	if players["p2"].IsHost {
		t.Fatal("p2 should not be host")
	}
	if players["p2"].DisplayName != "Lin" || players["p2"].Status != StatusConnecting {
		t.Fatalf("p2 fields mismatch: %+v", players["p2"])
	}
	if players["p2"].Seat != SeatTop {
		t.Fatalf("p2 seat mismatch: %v", players["p2"].Seat)
	}
}

func TestLobbyPropertiesRoundTrip(t *testing.T) {
	l, _ := newStampedLobby()
	l.SetID("s1")
	l.SetCode("ABC123")
	l.SetState(StateCountdown)
	l.SetColor(ColorGreen)
	l.SetRelayJoinCode("RJ42")

	props := LobbyProperties(l)
	if props[KeyColor].Index != directory.ColorIndex {
		t.Fatal("color must carry the query index slot")
	}
	for key, prop := range props {
		if !prop.Public {
			t.Fatalf("property %s should be public", key)
		}
	}

	back := RemoteDescription(&directory.Session{ID: "s1", Code: "ABC123", Data: props})
	if back.State != StateCountdown || back.Color != ColorGreen || back.RelayJoinCode != "RJ42" {
		t.Fatalf("round trip mismatch: %+v", back)
	}
	if back.StateLastEdit != l.Data().StateLastEdit || back.ColorLastEdit != l.Data().ColorLastEdit {
		t.Fatal("edit stamps must round trip")
	}
}

func TestPlayerPropertiesOfEmptyPlayer(t *testing.T) {
	if len(PlayerProperties(nil)) != 0 {
		t.Fatal("nil player should flatten to nothing")
	}
}
