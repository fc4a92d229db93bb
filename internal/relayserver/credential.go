// internal/relayserver/credential.go

// Package relayserver is the dev relay: a REST control plane that hands out
// allocations and join codes, and a websocket data plane that forwards frames
// between a host and its approved peers.
package relayserver

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credentials signs and verifies allocation-scoped bind tokens. The key pair
// is generated at startup; only this process ever verifies its own tokens.
type Credentials struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	ttl        time.Duration
}

func NewCredentials(ttl time.Duration) (*Credentials, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return &Credentials{privateKey: privateKey, publicKey: publicKey, ttl: ttl}, nil
}

// BindClaims is what a verified credential entitles the bearer to: one peer
// slot on one allocation.
type BindClaims struct {
	AllocationID string
	PeerID       string
	Host         bool
}

// Mint creates a signed credential for the claims.
func (c *Credentials) Mint(claims BindClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
		"sub":   claims.PeerID,
		"alloc": claims.AllocationID,
		"host":  claims.Host,
		"exp":   time.Now().Add(c.ttl).Unix(),
	})
	return token.SignedString(c.privateKey)
}

// Verify parses a credential and returns its claims, or an error for
// anything expired, malformed or signed by someone else.
func (c *Credentials) Verify(tokenString string) (BindClaims, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.publicKey, nil
	})
	if err != nil {
		return BindClaims{}, fmt.Errorf("credential parse error: %w", err)
	}
	if !t.Valid {
		return BindClaims{}, fmt.Errorf("invalid credential")
	}
	mapClaims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return BindClaims{}, fmt.Errorf("invalid credential claims")
	}
	peerID, _ := mapClaims["sub"].(string)
	allocID, _ := mapClaims["alloc"].(string)
	host, _ := mapClaims["host"].(bool)
	if peerID == "" || allocID == "" {
		return BindClaims{}, fmt.Errorf("credential missing subject or allocation")
	}
	return BindClaims{AllocationID: allocID, PeerID: peerID, Host: host}, nil
}
