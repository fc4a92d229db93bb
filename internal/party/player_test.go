// internal/party/player_test.go
package party

import "testing"

func TestApprovalIsMonotonic(t *testing.T) {
	p := NewLocalPlayer()
	p.SetApproved(true)
	p.SetApproved(false)
	if !p.IsApproved() {
		t.Fatal("approval must not be revocable")
	}
}

func TestHostIsImplicitlyApproved(t *testing.T) {
	p := NewLocalPlayer()
	p.SetHost(true)
	if !p.IsApproved() {
		t.Fatal("host should be approved")
	}
}

func TestApplyPreservesApproval(t *testing.T) {
	p := NewLocalPlayer()
	p.SetID("p1")
	p.SetApproved(true)

	// A stale remote snapshot that predates the approval.
	p.apply(PlayerData{ID: "p1", DisplayName: "Someone", Status: StatusConnecting})
	if !p.IsApproved() {
		t.Fatal("remote apply must not revoke approval")
	}
	if p.DisplayName() != "Someone" {
		t.Fatalf("other fields should land, got %q", p.DisplayName())
	}
}

func TestSettersNotifyOnChangeOnly(t *testing.T) {
	p := NewLocalPlayer()
	var notifications int
	p.Observe(func(*LocalPlayer) { notifications++ })

	p.SetStatus(StatusLobby)
	p.SetStatus(StatusLobby)
	p.SetEmote(EmoteWave)
	p.SetEmote(EmoteWave)

	if notifications != 2 {
		t.Fatalf("expected 2 notifications for 2 actual changes, got %d", notifications)
	}
}

func TestResetStateKeepsIdentity(t *testing.T) {
	p := NewLocalPlayer()
	p.SetID("p1")
	p.SetDisplayName("Ada")
	p.SetHost(true)
	p.SetSeat(SeatBottom)
	p.SetStatus(StatusInGame)

	p.ResetState()

	if p.ID() != "p1" || p.DisplayName() != "Ada" {
		t.Fatal("identity should survive a reset")
	}
	if p.IsHost() || p.IsApproved() {
		t.Fatal("session-scoped state should clear")
	}
	if p.Status() != StatusMenu {
		t.Fatalf("expected menu status, got %v", p.Status())
	}
}

func TestUnobserveStopsNotifications(t *testing.T) {
	p := NewLocalPlayer()
	var notifications int
	id := p.Observe(func(*LocalPlayer) { notifications++ })
	p.SetStatus(StatusLobby)
	p.Unobserve(id)
	p.SetStatus(StatusReady)

	if notifications != 1 {
		t.Fatalf("expected 1 notification, got %d", notifications)
	}
}
