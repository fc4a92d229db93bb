// internal/relay/service.go

// Package relay negotiates the peer-relayed transport for a session: the
// host allocates a relay slot, binds to it and publishes a shareable join
// code; clients join with that code and then sit behind the host's approval
// gate until admitted.
//
// The approval gate is fail-open: a pending connection that nobody
// disapproves within the grace window is admitted. That default is a trust
// tradeoff, kept deliberately and configurable via ApprovalConfig.
package relay

import (
	"context"
	"fmt"
)

// Reason classifies a relay service fault.
type Reason int

const (
	ReasonUnknown Reason = iota
	ReasonNotFound
	ReasonCodeInvalid
	ReasonFull
)

// ServiceError is the uniform failure signal for relay operations.
type ServiceError struct {
	Reason  Reason
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("relay: %s (reason %d)", e.Message, e.Reason)
}

// Endpoint is one address a relay allocation is reachable on. The secure
// variant is preferred whenever offered.
type Endpoint struct {
	URL    string `json:"url"`
	Secure bool   `json:"secure"`
}

// Allocation is a relay slot with the credentials to attach to it. The host
// gets one from Allocate; clients get theirs from Join.
type Allocation struct {
	ID         string     `json:"id"`
	PeerID     string     `json:"peerId"`
	Endpoints  []Endpoint `json:"endpoints"`
	Credential string     `json:"credential"`
}

// Service is the relay collaborator.
type Service interface {
	// Allocate reserves a relay slot sized for capacity connections.
	Allocate(ctx context.Context, capacity int) (*Allocation, error)
	// JoinCode exchanges an allocation for its shareable join code.
	JoinCode(ctx context.Context, allocationID string) (string, error)
	// Join resolves a join code into this peer's own attachment to the
	// host's allocation.
	Join(ctx context.Context, code string) (*Allocation, error)
}

// SelectEndpoint picks the endpoint to bind: the first encrypted one if any
// is offered, else the first one.
func SelectEndpoint(endpoints []Endpoint) (Endpoint, error) {
	if len(endpoints) == 0 {
		return Endpoint{}, &ServiceError{Reason: ReasonUnknown, Message: "allocation offered no endpoints"}
	}
	for _, ep := range endpoints {
		if ep.Secure {
			return ep, nil
		}
	}
	return endpoints[0], nil
}
