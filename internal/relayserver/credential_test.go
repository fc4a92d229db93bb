// internal/relayserver/credential_test.go
package relayserver

import (
	"testing"
	"time"
)

func TestCredentialRoundTrip(t *testing.T) {
	creds, err := NewCredentials(time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	token, err := creds.Mint(BindClaims{AllocationID: "a1", PeerID: "p1", Host: true})
	if err != nil {
		t.Fatal(err)
	}

	claims, err := creds.Verify(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.AllocationID != "a1" || claims.PeerID != "p1" || !claims.Host {
		t.Fatalf("claims did not survive the round trip: %+v", claims)
	}
}

func TestCredentialRejectsForeignKey(t *testing.T) {
	ours, err := NewCredentials(time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	theirs, err := NewCredentials(time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	token, err := theirs.Mint(BindClaims{AllocationID: "a1", PeerID: "p1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ours.Verify(token); err == nil {
		t.Fatal("credential signed by another key must not verify")
	}
}

func TestCredentialRejectsGarbage(t *testing.T) {
	creds, err := NewCredentials(time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := creds.Verify("not-a-token"); err == nil {
		t.Fatal("garbage must not verify")
	}
}

func TestCredentialExpires(t *testing.T) {
	creds, err := NewCredentials(-time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	token, err := creds.Mint(BindClaims{AllocationID: "a1", PeerID: "p1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := creds.Verify(token); err == nil {
		t.Fatal("expired credential must not verify")
	}
}
