// internal/message/message.go

// Package message is the routing mechanism that lets components with
// unrelated responsibilities interact without coupling: senders publish typed
// messages and don't know what, if anything, is listening.
package message

import (
	"github.com/blockfriends/partylink/internal/party"
)

// Type discriminates messages. Handlers switch on it and assert the matching
// payload type; there is no reflection-based dispatch.
type Type int

const (
	TypeNone Type = iota

	// Requests issued by the UI layer.
	TypeRenameRequest  // payload string: new display name
	TypeCreateRequest  // payload CreateRequest
	TypeJoinRequest    // payload SessionRef
	TypeQueryRequest   // payload party.Color filter
	TypeQuickJoin      // payload party.Color filter

	// Session flow.
	TypeChangeScene       // payload Scene
	TypeConfirmInGame     // no payload
	TypeUserStatus        // payload party.PlayerStatus
	TypeSetEmote          // payload party.Emote
	TypeApprovalRequested // payload ApprovalRequest
	TypeApprovalGranted   // no payload
	TypeEndGame           // no payload

	// Countdown.
	TypeStartCountdown    // no payload
	TypeCancelCountdown   // no payload
	TypeCompleteCountdown // no payload

	// Surfacing.
	TypeDisplayError     // payload string: user-facing error text
	TypeRateLimitChanged // payload RateLimitChange
)

func (t Type) String() string {
	switch t {
	case TypeRenameRequest:
		return "rename_request"
	case TypeCreateRequest:
		return "create_request"
	case TypeJoinRequest:
		return "join_request"
	case TypeQueryRequest:
		return "query_request"
	case TypeQuickJoin:
		return "quick_join"
	case TypeChangeScene:
		return "change_scene"
	case TypeConfirmInGame:
		return "confirm_in_game"
	case TypeUserStatus:
		return "user_status"
	case TypeSetEmote:
		return "set_emote"
	case TypeApprovalRequested:
		return "approval_requested"
	case TypeApprovalGranted:
		return "approval_granted"
	case TypeEndGame:
		return "end_game"
	case TypeStartCountdown:
		return "start_countdown"
	case TypeCancelCountdown:
		return "cancel_countdown"
	case TypeCompleteCountdown:
		return "complete_countdown"
	case TypeDisplayError:
		return "display_error"
	case TypeRateLimitChanged:
		return "rate_limit_changed"
	}
	return "none"
}

// Message pairs a type with its payload. Payload is nil for types documented
// above as carrying none.
type Message struct {
	Type    Type
	Payload any
}

// Scene is the top-level screen the local client is on.
type Scene int

const (
	SceneMainMenu Scene = iota
	SceneJoinMenu
	SceneLobby
	SceneInGame
)

// CreateRequest carries the parameters for a new session.
type CreateRequest struct {
	Name       string
	MaxPlayers int
	Private    bool
	Color      party.Color
}

// SessionRef targets an existing session by ID or shareable code.
type SessionRef struct {
	ID   string
	Code string
}

// DenyReason is why a pending relay connection should be refused.
type DenyReason int

const (
	DenyNone DenyReason = iota
	DenyGameAlreadyStarted
	DenySessionFull
)

// ApprovalRequest announces that an inbound relay connection is awaiting the
// host's verdict. Any subscriber may call Disapprove with a reason before the
// grace window elapses; absent that, the connection is admitted.
type ApprovalRequest struct {
	PlayerID   string
	Disapprove func(DenyReason)
}

// RateLimitChange reports a request category entering or leaving cooldown,
// for UI that wants to show a waiting indicator.
type RateLimitChange struct {
	Category string
	Active   bool
}
