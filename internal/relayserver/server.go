// internal/relayserver/server.go
package relayserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/blockfriends/partylink/internal/middleware"
	"github.com/blockfriends/partylink/internal/relay"
)

const sendTimeout = 5 * time.Second

// peer is one websocket attachment to an allocation.
type peer struct {
	id   string
	host bool
	ws   *websocket.Conn
}

func (p *peer) send(f relay.Frame) {
	buf, err := json.Marshal(f)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	_ = p.ws.Write(ctx, websocket.MessageText, buf)
}

// allocation is one relay slot: a host, a shareable code, and up to
// capacity-1 client peers.
type allocation struct {
	id       string
	code     string
	capacity int
	host     *peer
	peers    map[string]*peer
}

// Server owns the allocations and both planes. One mutex guards the maps;
// frame forwarding happens outside it.
type Server struct {
	log   *logrus.Logger
	creds *Credentials

	// publicURL is the websocket endpoint handed out in allocations, e.g.
	// "ws://localhost:7360/ws".
	publicURL string

	mu      sync.Mutex
	allocs  map[string]*allocation
	byCode  map[string]string
}

func NewServer(log *logrus.Logger, creds *Credentials, publicURL string) *Server {
	return &Server{
		log:       log,
		creds:     creds,
		publicURL: publicURL,
		allocs:    make(map[string]*allocation),
		byCode:    make(map[string]string),
	}
}

// Routes registers the control plane and the websocket endpoint on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /allocations", s.handleAllocate)
	mux.HandleFunc("GET /allocations/{id}/code", s.handleJoinCode)
	mux.HandleFunc("POST /join", s.handleJoin)
	mux.HandleFunc("GET /ws", s.handleWS)
}

func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Capacity int `json:"capacity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body", "")
		return
	}
	if body.Capacity < 1 || body.Capacity > 4 {
		body.Capacity = 4
	}

	alloc := &allocation{
		id:       uuid.NewString(),
		code:     generateJoinCode(),
		capacity: body.Capacity,
		peers:    make(map[string]*peer),
	}
	hostPeerID := uuid.NewString()
	credential, err := s.creds.Mint(BindClaims{AllocationID: alloc.id, PeerID: hostPeerID, Host: true})
	if err != nil {
		s.log.WithError(err).Error("failed to mint host credential")
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}

	s.mu.Lock()
	s.allocs[alloc.id] = alloc
	s.byCode[alloc.code] = alloc.id
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"allocation": alloc.id, "code": alloc.code}).Info("allocation created")
	writeJSON(w, http.StatusCreated, relay.Allocation{
		ID:         alloc.id,
		PeerID:     hostPeerID,
		Endpoints:  s.endpoints(),
		Credential: credential,
	})
}

func (s *Server) handleJoinCode(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	alloc, ok := s.allocs[r.PathValue("id")]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "allocation not found", "")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Code string `json:"code"`
	}{alloc.code})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body", "")
		return
	}

	s.mu.Lock()
	id, ok := s.byCode[strings.ToUpper(strings.TrimSpace(body.Code))]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, "join code not recognized", "code_invalid")
		return
	}
	alloc := s.allocs[id]
	if len(alloc.peers)+1 >= alloc.capacity {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "allocation is full", "full")
		return
	}
	s.mu.Unlock()

	peerID := uuid.NewString()
	credential, err := s.creds.Mint(BindClaims{AllocationID: alloc.id, PeerID: peerID})
	if err != nil {
		s.log.WithError(err).Error("failed to mint peer credential")
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	writeJSON(w, http.StatusOK, relay.Allocation{
		ID:         alloc.id,
		PeerID:     peerID,
		Endpoints:  s.endpoints(),
		Credential: credential,
	})
}

func (s *Server) endpoints() []relay.Endpoint {
	return []relay.Endpoint{{
		URL:    s.publicURL,
		Secure: strings.HasPrefix(s.publicURL, "wss://"),
	}}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	claims, err := s.creds.Verify(token)
	if err != nil {
		s.log.WithError(err).Warn("bind refused, bad credential")
		http.Error(w, "invalid credential", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	alloc, ok := s.allocs[claims.AllocationID]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "allocation not found", http.StatusNotFound)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{"relay"},
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warnf("websocket accept error: %v", err)
		return
	}
	if c.Subprotocol() != "relay" {
		c.Close(websocket.StatusPolicyViolation, "client must speak the relay subprotocol")
		return
	}

	p := &peer{id: claims.PeerID, host: claims.Host, ws: c}
	var announceTo *peer
	s.mu.Lock()
	if p.host {
		alloc.host = p
	} else {
		alloc.peers[p.id] = p
		announceTo = alloc.host
	}
	s.mu.Unlock()
	middleware.LogWebSocketConnect(s.log, r.RemoteAddr, alloc.id, p.id)

	if announceTo != nil {
		announceTo.send(relay.Frame{Type: relay.FramePeerJoined, Peer: p.id})
	}

	s.readPump(r.Context(), alloc, p)
}

// readPump forwards frames until the attachment dies, then detaches the peer.
func (s *Server) readPump(ctx context.Context, alloc *allocation, p *peer) {
	var closeErr error
	for {
		_, buf, err := p.ws.Read(ctx)
		if err != nil {
			closeErr = err
			break
		}
		var f relay.Frame
		if err := json.Unmarshal(buf, &f); err != nil {
			continue
		}
		s.forward(alloc, p, f)
	}

	s.detach(alloc, p)
	middleware.LogWebSocketDisconnect(s.log, alloc.id, p.id, closeErr)
}

// forward applies the routing rules: the host may address admit/deny to a
// named peer and broadcast data; clients may only send data to the host. The
// peer field is rewritten to the sender so nobody can spoof it.
func (s *Server) forward(alloc *allocation, from *peer, f relay.Frame) {
	if from.host {
		switch f.Type {
		case relay.FrameAdmit, relay.FrameDeny:
			s.mu.Lock()
			target := alloc.peers[f.Peer]
			s.mu.Unlock()
			if target == nil {
				return
			}
			target.send(f)
			if f.Type == relay.FrameDeny {
				target.ws.Close(websocket.StatusPolicyViolation, "denied by host")
			}
		case relay.FrameData:
			s.mu.Lock()
			targets := make([]*peer, 0, len(alloc.peers))
			for _, t := range alloc.peers {
				targets = append(targets, t)
			}
			s.mu.Unlock()
			f.Peer = from.id
			for _, t := range targets {
				t.send(f)
			}
		}
		return
	}

	if f.Type != relay.FrameData {
		return
	}
	s.mu.Lock()
	host := alloc.host
	s.mu.Unlock()
	if host != nil {
		f.Peer = from.id
		host.send(f)
	}
}

// detach removes the peer. A departing host tears the whole allocation down;
// its clients are cut loose and will renegotiate against the next one.
func (s *Server) detach(alloc *allocation, p *peer) {
	s.mu.Lock()
	if p.host {
		delete(s.allocs, alloc.id)
		delete(s.byCode, alloc.code)
		orphans := make([]*peer, 0, len(alloc.peers))
		for _, t := range alloc.peers {
			orphans = append(orphans, t)
		}
		alloc.host = nil
		s.mu.Unlock()
		for _, t := range orphans {
			t.ws.Close(websocket.StatusGoingAway, "host left")
		}
		return
	}
	delete(alloc.peers, p.id)
	host := alloc.host
	s.mu.Unlock()
	if host != nil {
		host.send(relay.Frame{Type: relay.FramePeerLeft, Peer: p.id})
	}
}

const joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func generateJoinCode() string {
	id := uuid.New()
	buf := make([]byte, 6)
	for i := range buf {
		buf[i] = joinCodeAlphabet[int(id[i])%len(joinCodeAlphabet)]
	}
	return string(buf)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Error  string `json:"error"`
		Reason string `json:"reason,omitempty"`
	}{msg, reason})
}
