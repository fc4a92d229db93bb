// internal/relay/transport.go
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// FrameType discriminates relay data-plane frames.
type FrameType string

const (
	// FramePeerJoined tells the host a new peer attached and awaits a
	// verdict.
	FramePeerJoined FrameType = "peer_joined"
	// FramePeerLeft tells the host a peer detached.
	FramePeerLeft FrameType = "peer_left"
	// FrameAdmit carries the host's approval; the relay forwards it to the
	// named peer.
	FrameAdmit FrameType = "admit"
	// FrameDeny carries the host's refusal; the relay forwards it and drops
	// the peer.
	FrameDeny FrameType = "deny"
	// FrameData is opaque game payload, relayed host to clients and back.
	FrameData FrameType = "data"
)

// Frame is the single message shape on the relay websocket.
type Frame struct {
	Type   FrameType       `json:"type"`
	Peer   string          `json:"peer,omitempty"`
	Reason string          `json:"reason,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Conn is one attachment to a relay allocation.
type Conn struct {
	ws *websocket.Conn
}

// Dialer attaches to an allocation. Injected so negotiator tests can run
// without a relay server.
type Dialer func(ctx context.Context, alloc *Allocation) (*Conn, error)

// DialAllocation binds to the allocation's preferred endpoint, presenting
// the allocation credential at the upgrade.
func DialAllocation(ctx context.Context, alloc *Allocation) (*Conn, error) {
	ep, err := SelectEndpoint(alloc.Endpoints)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+alloc.Credential)
	ws, _, err := websocket.Dial(ctx, ep.URL, &websocket.DialOptions{
		Subprotocols: []string{"relay"},
		HTTPHeader:   header,
	})
	if err != nil {
		return nil, &ServiceError{Reason: ReasonUnknown, Message: fmt.Sprintf("bind failed: %v", err)}
	}
	return &Conn{ws: ws}, nil
}

// Send writes one frame.
func (c *Conn) Send(ctx context.Context, f Frame) error {
	buf, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("relay: failed to marshal frame: %w", err)
	}
	return c.ws.Write(ctx, websocket.MessageText, buf)
}

// ReadLoop reads frames until the connection dies, handing each to onFrame
// and the terminal error to onClosed. Run it on its own goroutine; the
// callbacks are expected to marshal back onto the tick goroutine themselves.
func (c *Conn) ReadLoop(ctx context.Context, onFrame func(Frame), onClosed func(error)) {
	for {
		_, buf, err := c.ws.Read(ctx)
		if err != nil {
			onClosed(err)
			return
		}
		var f Frame
		if err := json.Unmarshal(buf, &f); err != nil {
			continue // tolerate junk; the relay validates its own frames
		}
		onFrame(f)
	}
}

// Close tears the attachment down.
func (c *Conn) Close() {
	_ = c.ws.Close(websocket.StatusNormalClosure, "leaving")
}
