// internal/directory/directory.go

// Package directory is the thin client for the remote session directory: the
// wire model, the Service interface the rest of the code programs against,
// and an HTTP implementation. Rate limiting and fault classification live a
// layer up, in the gateway.
package directory

import (
	"context"
	"fmt"
)

// Reason classifies a directory fault so callers can decide what to surface.
type Reason int

const (
	ReasonUnknown Reason = iota
	// ReasonRateLimited means the remote itself refused the call with a 429.
	// The client-side cooldowns exist to prevent this, so when it happens
	// anyway it is swallowed rather than shown to the user.
	ReasonRateLimited
	ReasonNotFound
	ReasonSessionFull
	ReasonSessionLocked
	ReasonInvalidRequest
)

// ServiceError is the uniform failure signal for directory operations.
type ServiceError struct {
	Reason  Reason
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("directory: %s (reason %d)", e.Message, e.Reason)
}

// Property is one entry of a session's data map. Public properties are
// visible in query results; member properties only to joined players. Index
// names the query-filterable slot, e.g. the color tag is indexed so quick
// join can match on it.
type Property struct {
	Value  string `json:"value"`
	Public bool   `json:"public"`
	Index  string `json:"index,omitempty"`
}

// ColorIndex is the filter slot the lobby color tag is indexed under.
const ColorIndex = "N1"

// Player is one member of a remote session.
type Player struct {
	ID             string            `json:"id"`
	Data           map[string]string `json:"data"`
	AllocationID   string            `json:"allocationId,omitempty"`
	ConnectionInfo string            `json:"connectionInfo,omitempty"`
}

// Session is the directory's record of one lobby.
type Session struct {
	ID         string              `json:"id"`
	Code       string              `json:"code"`
	Name       string              `json:"name"`
	HostID     string              `json:"hostId"`
	MaxPlayers int                 `json:"maxPlayers"`
	Private    bool                `json:"private"`
	// Locked sessions are hidden from queries and refuse joins; the host
	// locks the session once its state leaves the lobby phase.
	Locked  bool                `json:"locked"`
	Data    map[string]Property `json:"data"`
	Players []Player            `json:"players"`
}

// HasData reports whether key is present in the session data map.
func (s *Session) HasData(key string) bool {
	if s == nil || s.Data == nil {
		return false
	}
	_, ok := s.Data[key]
	return ok
}

// Filter narrows query and quick-join matching. A zero filter matches any
// open, public session.
type Filter struct {
	Color int `json:"color,omitempty"`
}

// CreateParams describes the session to create. The creator joins it
// implicitly.
type CreateParams struct {
	Name       string            `json:"name"`
	MaxPlayers int               `json:"maxPlayers"`
	Private    bool              `json:"private"`
	Player     PlayerParams      `json:"player"`
}

// PlayerParams is the initial member data supplied on create/join.
type PlayerParams struct {
	ID   string            `json:"id"`
	Data map[string]string `json:"data"`
}

// JoinParams targets a session by ID or by shareable code; exactly one must
// be set.
type JoinParams struct {
	SessionID string       `json:"sessionId,omitempty"`
	Code      string       `json:"code,omitempty"`
	Player    PlayerParams `json:"player"`
}

// Service is the remote directory collaborator. All operations are fallible
// and independently rate-limited by the remote per operation class.
type Service interface {
	Create(ctx context.Context, params CreateParams) (*Session, error)
	Join(ctx context.Context, params JoinParams) (*Session, error)
	QuickJoin(ctx context.Context, filter Filter, player PlayerParams) (*Session, error)
	Query(ctx context.Context, filter Filter) ([]*Session, error)
	Get(ctx context.Context, sessionID string) (*Session, error)
	Leave(ctx context.Context, sessionID, playerID string) error
	UpdateSession(ctx context.Context, sessionID string, data map[string]Property, lock bool) (*Session, error)
	UpdatePlayer(ctx context.Context, sessionID, playerID string, data map[string]string, allocationID, connectionInfo string) (*Session, error)
	Heartbeat(ctx context.Context, sessionID string) error
}
