// internal/dirserver/server.go
package dirserver

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/blockfriends/partylink/internal/directory"
)

// Server serves the session directory REST API. Session mutation runs under
// one mutex; the dev directory optimizes for correctness, not throughput.
type Server struct {
	log   *logrus.Logger
	store Store
	ttl   time.Duration

	// mu serializes read-modify-write cycles against the store so two joins
	// racing for the last slot cannot both win.
	mu sync.Mutex

	limits map[string]*limiter
}

func NewServer(log *logrus.Logger, store Store, ttl time.Duration) *Server {
	return &Server{
		log:   log,
		store: store,
		ttl:   ttl,
		limits: map[string]*limiter{
			"create":    newLimiter(2, 6*time.Second),
			"join":      newLimiter(2, 6*time.Second),
			"quickjoin": newLimiter(1, 3*time.Second),
			"query":     newLimiter(10, 2*time.Second),
			"heartbeat": newLimiter(5, 30*time.Second),
		},
	}
}

// Routes registers all endpoints on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /sessions", s.handleCreate)
	mux.HandleFunc("POST /sessions/join", s.handleJoin)
	mux.HandleFunc("POST /sessions/quickjoin", s.handleQuickJoin)
	mux.HandleFunc("GET /sessions", s.handleQuery)
	mux.HandleFunc("GET /sessions/{id}", s.handleGet)
	mux.HandleFunc("POST /sessions/{id}/leave", s.handleLeave)
	mux.HandleFunc("PATCH /sessions/{id}/data", s.handleUpdateData)
	mux.HandleFunc("PATCH /sessions/{id}/players/{pid}", s.handleUpdatePlayer)
	mux.HandleFunc("POST /sessions/{id}/heartbeat", s.handleHeartbeat)
}

func (s *Server) limited(w http.ResponseWriter, r *http.Request, category string) bool {
	lim := s.limits[category]
	if lim.allow(clientKey(r)) {
		return false
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(lim.window/time.Second)))
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded for "+category, "")
	return true
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if s.limited(w, r, "create") {
		return
	}
	var params directory.CreateParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body", "")
		return
	}
	if params.Player.ID == "" {
		writeError(w, http.StatusBadRequest, "player id required", "")
		return
	}
	if params.MaxPlayers < 1 || params.MaxPlayers > 4 {
		params.MaxPlayers = 4
	}
	if params.Name == "" {
		params.Name = "Session"
	}

	session := &directory.Session{
		ID:         uuid.NewString(),
		Code:       generateCode(),
		Name:       params.Name,
		HostID:     params.Player.ID,
		MaxPlayers: params.MaxPlayers,
		Private:    params.Private,
		Data:       map[string]directory.Property{},
		Players: []directory.Player{{
			ID:   params.Player.ID,
			Data: playerData(params.Player),
		}},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Put(r.Context(), session, s.ttl); err != nil {
		s.storeFault(w, err)
		return
	}
	s.log.WithFields(logrus.Fields{"session": session.ID, "code": session.Code}).Info("session created")
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	if s.limited(w, r, "join") {
		return
	}
	var params directory.JoinParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body", "")
		return
	}
	if params.Player.ID == "" || (params.SessionID == "" && params.Code == "") {
		writeError(w, http.StatusBadRequest, "player id and session id or code required", "")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var session *directory.Session
	var err error
	if params.SessionID != "" {
		session, err = s.store.Get(r.Context(), params.SessionID)
	} else {
		session, err = s.store.GetByCode(r.Context(), strings.ToUpper(strings.TrimSpace(params.Code)))
	}
	if err != nil {
		s.storeFault(w, err)
		return
	}
	if !s.admit(w, r, session, params.Player) {
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleQuickJoin(w http.ResponseWriter, r *http.Request) {
	if s.limited(w, r, "quickjoin") {
		return
	}
	var body struct {
		Filter directory.Filter       `json:"filter"`
		Player directory.PlayerParams `json:"player"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body", "")
		return
	}
	if body.Player.ID == "" {
		writeError(w, http.StatusBadRequest, "player id required", "")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sessions, err := s.store.List(r.Context())
	if err != nil {
		s.storeFault(w, err)
		return
	}
	for _, session := range sessions {
		if session.Private || session.Locked || len(session.Players) >= session.MaxPlayers {
			continue
		}
		if !matchesFilter(session, body.Filter) {
			continue
		}
		if !s.admit(w, r, session, body.Player) {
			return
		}
		writeJSON(w, http.StatusOK, session)
		return
	}
	writeError(w, http.StatusNotFound, "no open session matched", "")
}

// admit appends the player and persists; returns false after writing an error
// response.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, session *directory.Session, player directory.PlayerParams) bool {
	if session.Locked {
		writeError(w, http.StatusConflict, "session is locked", "locked")
		return false
	}
	for i := range session.Players {
		if session.Players[i].ID == player.ID {
			// Rejoin: refresh the member data instead of duplicating.
			session.Players[i].Data = playerData(player)
			return s.persist(w, r, session)
		}
	}
	if len(session.Players) >= session.MaxPlayers {
		writeError(w, http.StatusConflict, "session is full", "full")
		return false
	}
	session.Players = append(session.Players, directory.Player{ID: player.ID, Data: playerData(player)})
	return s.persist(w, r, session)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if s.limited(w, r, "query") {
		return
	}
	sessions, err := s.store.List(r.Context())
	if err != nil {
		s.storeFault(w, err)
		return
	}
	filter := directory.Filter{}
	if v := r.URL.Query().Get("color"); v != "" {
		filter.Color, _ = strconv.Atoi(v)
	}
	out := []*directory.Session{}
	for _, session := range sessions {
		if session.Private || session.Locked {
			continue
		}
		if !matchesFilter(session, filter) {
			continue
		}
		out = append(out, redact(session))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if s.limited(w, r, "query") {
		return
	}
	session, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PlayerID string `json:"playerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body", "")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	session, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeFault(w, err)
		return
	}
	kept := session.Players[:0]
	for _, p := range session.Players {
		if p.ID != body.PlayerID {
			kept = append(kept, p)
		}
	}
	session.Players = kept
	if len(session.Players) == 0 {
		if err := s.store.Delete(r.Context(), session.ID); err != nil {
			s.storeFault(w, err)
			return
		}
		s.log.WithField("session", session.ID).Info("session emptied, deleted")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	// HostID is deliberately not reassigned: clients detect a vanished host
	// from the member list and disconnect themselves.
	if !s.persist(w, r, session) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateData(w http.ResponseWriter, r *http.Request) {
	if s.limited(w, r, "query") {
		return
	}
	var body struct {
		Data map[string]directory.Property `json:"data"`
		Lock bool                          `json:"lock"`
		// Private is optional; absent leaves the visibility unchanged.
		Private *bool `json:"private,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body", "")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	session, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeFault(w, err)
		return
	}
	if session.Data == nil {
		session.Data = map[string]directory.Property{}
	}
	for key, prop := range body.Data {
		session.Data[key] = prop
	}
	session.Locked = body.Lock
	if body.Private != nil {
		session.Private = *body.Private
	}
	if !s.persist(w, r, session) {
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleUpdatePlayer(w http.ResponseWriter, r *http.Request) {
	if s.limited(w, r, "query") {
		return
	}
	var body struct {
		Data           map[string]string `json:"data"`
		AllocationID   string            `json:"allocationId,omitempty"`
		ConnectionInfo string            `json:"connectionInfo,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body", "")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	session, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeFault(w, err)
		return
	}
	playerID := r.PathValue("pid")
	var target *directory.Player
	for i := range session.Players {
		if session.Players[i].ID == playerID {
			target = &session.Players[i]
			break
		}
	}
	if target == nil {
		writeError(w, http.StatusNotFound, "player not in session", "")
		return
	}
	if target.Data == nil {
		target.Data = map[string]string{}
	}
	for key, value := range body.Data {
		target.Data[key] = value
	}
	if body.AllocationID != "" {
		target.AllocationID = body.AllocationID
	}
	if body.ConnectionInfo != "" {
		target.ConnectionInfo = body.ConnectionInfo
	}
	if !s.persist(w, r, session) {
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if s.limited(w, r, "heartbeat") {
		return
	}
	if err := s.store.Touch(r.Context(), r.PathValue("id"), s.ttl); err != nil {
		s.storeFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) persist(w http.ResponseWriter, r *http.Request, session *directory.Session) bool {
	if err := s.store.Put(r.Context(), session, s.ttl); err != nil {
		s.storeFault(w, err)
		return false
	}
	return true
}

func (s *Server) storeFault(w http.ResponseWriter, err error) {
	if err == ErrNotFound {
		writeError(w, http.StatusNotFound, "session not found", "")
		return
	}
	s.log.WithError(err).Error("store operation failed")
	writeError(w, http.StatusInternalServerError, "internal error", "")
}

// matchesFilter checks the indexed color slot; a zero filter matches anything.
func matchesFilter(session *directory.Session, filter directory.Filter) bool {
	if filter.Color == 0 {
		return true
	}
	for _, prop := range session.Data {
		if prop.Index == directory.ColorIndex {
			return prop.Value == strconv.Itoa(filter.Color)
		}
	}
	return false
}

// redact strips everything an unjoined caller may not see: non-public
// properties and per-member data.
func redact(session *directory.Session) *directory.Session {
	out := *session
	out.Data = map[string]directory.Property{}
	for key, prop := range session.Data {
		if prop.Public {
			out.Data[key] = prop
		}
	}
	out.Players = make([]directory.Player, len(session.Players))
	for i, p := range session.Players {
		out.Players[i] = directory.Player{ID: p.ID}
	}
	return &out
}

func playerData(p directory.PlayerParams) map[string]string {
	if p.Data == nil {
		return map[string]string{}
	}
	return p.Data
}

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// generateCode makes a six-character shareable join code. Ambiguous glyphs
// are left out since people read these aloud.
func generateCode() string {
	buf := make([]byte, 6)
	for i := range buf {
		buf[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
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
