// internal/gateway/gateway.go

// Package gateway is the abstraction layer between the rest of the client
// and the raw directory API: it applies the per-category rate limits, keeps
// the last known remote session cached so every operation doesn't re-query,
// marshals completions back onto the tick goroutine, and funnels faults
// through one classification point.
package gateway

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blockfriends/partylink/internal/directory"
	"github.com/blockfriends/partylink/internal/message"
	"github.com/blockfriends/partylink/internal/party"
	"github.com/blockfriends/partylink/internal/ratelimit"
	"github.com/blockfriends/partylink/internal/ticker"
)

// Request categories, each with its own cooldown since the directory
// enforces per-operation-class limits.
const (
	CategoryHost      = "host"
	CategoryJoin      = "join"
	CategoryQuickJoin = "quickjoin"
	// CategoryQuery covers the lobby list, the in-lobby refresh and data
	// updates.
	CategoryQuery = "query"
)

// Config carries the gateway timings. Durations come from internal/config.
type Config struct {
	HostCooldown      time.Duration
	JoinCooldown      time.Duration
	QuickJoinCooldown time.Duration
	QueryCooldown     time.Duration
	// KeepalivePeriod spaces the host's liveness pings; the directory
	// garbage-collects sessions that go quiet.
	KeepalivePeriod time.Duration
	CallTimeout     time.Duration
}

// Gateway mediates all directory traffic. Mutated only on the tick
// goroutine.
type Gateway struct {
	log *logrus.Logger
	bus *message.Bus
	tk  *ticker.Ticker
	svc directory.Service
	cfg Config

	limits map[string]*ratelimit.Cooldown

	currentID string
	lastKnown *directory.Session

	keepaliveElapsed time.Duration
}

func New(log *logrus.Logger, bus *message.Bus, tk *ticker.Ticker, svc directory.Service, cfg Config) *Gateway {
	g := &Gateway{
		log:    log,
		bus:    bus,
		tk:     tk,
		svc:    svc,
		cfg:    cfg,
		limits: make(map[string]*ratelimit.Cooldown),
	}
	for category, cooldown := range map[string]time.Duration{
		CategoryHost:      cfg.HostCooldown,
		CategoryJoin:      cfg.JoinCooldown,
		CategoryQuickJoin: cfg.QuickJoinCooldown,
		CategoryQuery:     cfg.QueryCooldown,
	} {
		limit := ratelimit.New(log, tk, category, cooldown)
		limit.OnChanged(func(active bool) {
			bus.Publish(message.Message{
				Type:    message.TypeRateLimitChanged,
				Payload: message.RateLimitChange{Category: limit.Category(), Active: active},
			})
		})
		g.limits[category] = limit
	}

	// While tracking a session, refresh the cached remote copy at the query
	// cadence. The heartbeat loop reads Current instead of querying itself.
	tk.Subscribe("gateway/refresh", g.refresh, cfg.QueryCooldown)
	return g
}

// Limit exposes a category's cooldown, mostly for observability.
func (g *Gateway) Limit(category string) *ratelimit.Cooldown { return g.limits[category] }

// BeginTracking caches the session this client just joined. Assumes one
// actively-joined session at a time.
func (g *Gateway) BeginTracking(sessionID string) {
	g.currentID = sessionID
	g.keepaliveElapsed = 0
}

// EndTracking clears the cached session after leaving.
func (g *Gateway) EndTracking() {
	g.currentID = ""
	g.lastKnown = nil
	g.keepaliveElapsed = 0
}

// Current returns the most recently pulled remote session, or nil before the
// first refresh completes.
func (g *Gateway) Current() *directory.Session { return g.lastKnown }

// HasRelayCode reports whether the cached remote session already carries a
// relay join code. Used to keep a stale local push from clobbering it.
func (g *Gateway) HasRelayCode() bool {
	return g.lastKnown != nil && g.lastKnown.HasData(party.KeyRelayJoinCode) &&
		g.lastKnown.Data[party.KeyRelayJoinCode].Value != ""
}

func (g *Gateway) refresh(time.Duration) {
	if g.currentID == "" {
		return
	}
	if !g.limits[CategoryQuery].CanCall() {
		return
	}
	id := g.currentID
	g.async(func(ctx context.Context) (*directory.Session, error) {
		return g.svc.Get(ctx, id)
	}, func(s *directory.Session) {
		// Discard if tracking ended (or moved on) while the call was in
		// flight.
		if g.currentID == id {
			g.lastKnown = s
		}
	}, nil)
}

// ForceRefresh pulls the tracked session outside the regular cadence, e.g.
// right after the relay connection completes so the join code is not
// overwritten by stale data.
func (g *Gateway) ForceRefresh() {
	g.log.Debug("forcing session refresh")
	g.refresh(0)
}

// Create attempts to create a new session, which implicitly joins it.
// Refused (not failed) when the host category is cooling down.
func (g *Gateway) Create(params directory.CreateParams, onSuccess func(*directory.Session), onFailure func()) {
	if !g.limits[CategoryHost].CanCall() {
		g.log.Warn("create session hit the rate limit")
		callback(onFailure)
		return
	}
	g.async(func(ctx context.Context) (*directory.Session, error) {
		return g.svc.Create(ctx, params)
	}, func(s *directory.Session) {
		g.lastKnown = s
		if onSuccess != nil {
			onSuccess(s)
		}
	}, onFailure)
}

// Join attempts to join by id or code.
func (g *Gateway) Join(params directory.JoinParams, onSuccess func(*directory.Session), onFailure func()) {
	if !g.limits[CategoryJoin].CanCall() || (params.SessionID == "" && params.Code == "") {
		g.log.Warn("join session hit the rate limit")
		callback(onFailure)
		return
	}
	g.async(func(ctx context.Context) (*directory.Session, error) {
		return g.svc.Join(ctx, params)
	}, func(s *directory.Session) {
		g.lastKnown = s
		if onSuccess != nil {
			onSuccess(s)
		}
	}, onFailure)
}

// QuickJoin joins the first open session matching the filter.
func (g *Gateway) QuickJoin(filter directory.Filter, player directory.PlayerParams, onSuccess func(*directory.Session), onFailure func()) {
	if !g.limits[CategoryQuickJoin].CanCall() {
		g.log.Warn("quick join hit the rate limit")
		callback(onFailure)
		return
	}
	g.async(func(ctx context.Context) (*directory.Session, error) {
		return g.svc.QuickJoin(ctx, filter, player)
	}, func(s *directory.Session) {
		g.lastKnown = s
		if onSuccess != nil {
			onSuccess(s)
		}
	}, onFailure)
}

// Query fetches the list of open sessions. Unlike the join flavors, a
// rate-limited query re-enqueues itself so the lobby list eventually
// refreshes without the caller retrying.
func (g *Gateway) Query(filter directory.Filter, onResult func([]*directory.Session), onError func()) {
	if !g.limits[CategoryQuery].CanCall() {
		g.log.Warn("session query hit the rate limit, will retry soon")
		g.limits[CategoryQuery].Enqueue(func() { g.Query(filter, onResult, onError) })
		callback2(onResult, nil)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), g.cfg.CallTimeout)
		defer cancel()
		list, err := g.svc.Query(ctx, filter)
		g.tk.Post(func() {
			if err != nil {
				g.parseServiceFault(err)
				if onError != nil {
					onError()
				}
				return
			}
			if onResult != nil {
				onResult(list)
			}
		})
	}()
}

// Leave departs the session. onComplete runs regardless of outcome; the
// directory deletes unoccupied sessions on its own.
func (g *Gateway) Leave(sessionID, playerID string, onComplete func()) {
	if sessionID == "" {
		callback(onComplete)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), g.cfg.CallTimeout)
		defer cancel()
		err := g.svc.Leave(ctx, sessionID, playerID)
		g.tk.Post(func() {
			if err != nil {
				g.parseServiceFault(err)
			}
			callback(onComplete)
		})
	}()
}

// UpdateSessionData pushes lobby-level fields. Locks the session out of
// queries whenever its state has left the lobby phase, so rooms mid-game
// stop appearing in the list.
func (g *Gateway) UpdateSessionData(data map[string]directory.Property, onComplete func()) {
	if !g.shouldUpdate(func() { g.UpdateSessionData(data, onComplete) }, onComplete, false) {
		return
	}
	lock := false
	if prop, ok := data[party.KeyState]; ok {
		if v, err := strconv.Atoi(prop.Value); err == nil {
			lock = party.LobbyState(v) != party.StateLobby
		}
	}
	id := g.currentID
	g.async(func(ctx context.Context) (*directory.Session, error) {
		return g.svc.UpdateSession(ctx, id, data, lock)
	}, func(s *directory.Session) {
		if g.currentID == id {
			g.lastKnown = s
		}
		callback(onComplete)
	}, onComplete)
}

// UpdatePlayerData pushes this player's own member fields.
func (g *Gateway) UpdatePlayerData(playerID string, data map[string]string, onComplete func()) {
	if !g.shouldUpdate(func() { g.UpdatePlayerData(playerID, data, onComplete) }, onComplete, false) {
		return
	}
	id := g.currentID
	g.async(func(ctx context.Context) (*directory.Session, error) {
		return g.svc.UpdatePlayer(ctx, id, playerID, data, "", "")
	}, func(s *directory.Session) {
		if g.currentID == id {
			// Store the freshest copy now instead of waiting for the next
			// refresh.
			g.lastKnown = s
		}
		callback(onComplete)
	}, onComplete)
}

// UpdatePlayerRelayInfo attaches the relay allocation to the player record so
// the directory can auto-disconnect them if the allocation dies. Retries if
// no session is tracked yet, since the negotiator that calls this may be
// gone right after.
func (g *Gateway) UpdatePlayerRelayInfo(playerID, allocationID, connectionInfo string, onComplete func()) {
	if !g.shouldUpdate(func() { g.UpdatePlayerRelayInfo(playerID, allocationID, connectionInfo, onComplete) }, onComplete, true) {
		return
	}
	id := g.currentID
	g.async(func(ctx context.Context) (*directory.Session, error) {
		return g.svc.UpdatePlayer(ctx, id, playerID, map[string]string{}, allocationID, connectionInfo)
	}, func(*directory.Session) {
		callback(onComplete)
	}, onComplete)
}

// Keepalive accumulates tick time and pings the directory every keepalive
// period. Host only; this is liveness, independent of the data push/pull.
func (g *Gateway) Keepalive(dt time.Duration) {
	if g.currentID == "" {
		return
	}
	g.keepaliveElapsed += dt
	if g.keepaliveElapsed < g.cfg.KeepalivePeriod {
		return
	}
	g.keepaliveElapsed -= g.cfg.KeepalivePeriod
	id := g.currentID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), g.cfg.CallTimeout)
		defer cancel()
		if err := g.svc.Heartbeat(ctx, id); err != nil {
			g.tk.Post(func() { g.parseServiceFault(err) })
		}
	}()
}

// shouldUpdate holds pending updates behind the query cooldown when another
// operation is in the middle of its window, and leaves the "no session yet"
// decision to the caller: some need to retry, most just complete.
func (g *Gateway) shouldUpdate(caller func(), onComplete func(), retryIfNoSession bool) bool {
	if g.limits[CategoryQuery].InCooldown() {
		g.limits[CategoryQuery].Enqueue(caller)
		return false
	}
	if g.lastKnown == nil || g.currentID == "" {
		if retryIfNoSession {
			g.limits[CategoryQuery].Enqueue(caller)
		}
		callback(onComplete)
		return false
	}
	return true
}

// async runs call off the tick goroutine and posts its completion back.
func (g *Gateway) async(call func(ctx context.Context) (*directory.Session, error), onSuccess func(*directory.Session), onFailure func()) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), g.cfg.CallTimeout)
		defer cancel()
		s, err := call(ctx)
		g.tk.Post(func() {
			if err != nil {
				g.parseServiceFault(err)
				callback(onFailure)
				return
			}
			onSuccess(s)
		})
	}()
}

// parseServiceFault classifies a directory failure. A remote-side rate limit
// means our cooldowns and the server's window disagreed slightly; that is
// never worth telling the user about. Everything else carrying a service
// reason is surfaced once through the bus.
func (g *Gateway) parseServiceFault(err error) {
	var se *directory.ServiceError
	if !errors.As(err, &se) {
		g.log.WithError(err).Warn("directory call failed")
		return
	}
	if se.Reason == directory.ReasonRateLimited {
		g.log.Debug("rate limited by the directory, ignoring")
		return
	}
	g.bus.Publish(message.Message{
		Type:    message.TypeDisplayError,
		Payload: "Lobby error: " + se.Message,
	})
}

func callback(fn func()) {
	if fn != nil {
		fn()
	}
}

func callback2(fn func([]*directory.Session), list []*directory.Session) {
	if fn != nil {
		fn(list)
	}
}
