// internal/coordinator/registry.go
package coordinator

import (
	"github.com/sirupsen/logrus"

	"github.com/blockfriends/partylink/internal/config"
	"github.com/blockfriends/partylink/internal/directory"
	"github.com/blockfriends/partylink/internal/gateway"
	"github.com/blockfriends/partylink/internal/message"
	"github.com/blockfriends/partylink/internal/relay"
	"github.com/blockfriends/partylink/internal/ticker"
)

// Registry holds every shared collaborator, constructed once at process
// start and passed by reference to whatever needs it. Nothing in the client
// reaches for ambient globals.
type Registry struct {
	Log       *logrus.Logger
	Cfg       config.Config
	Bus       *message.Bus
	Ticker    *ticker.Ticker
	Directory directory.Service
	Relay     relay.Service
	Gateway   *gateway.Gateway
}

// NewRegistry wires the default production collaborators: HTTP services
// pointed at the configured directory and relay, and a gateway enforcing the
// configured cooldowns.
func NewRegistry(cfg config.Config, log *logrus.Logger) *Registry {
	bus := message.NewBus(log)
	tk := ticker.New(log)
	dir := directory.NewHTTPService(cfg.DirectoryURL, nil)
	rel := relay.NewHTTPService(cfg.RelayURL, nil)
	gw := gateway.New(log, bus, tk, dir, gateway.Config{
		HostCooldown:      cfg.HostCooldown,
		JoinCooldown:      cfg.JoinCooldown,
		QuickJoinCooldown: cfg.QuickJoinCooldown,
		QueryCooldown:     cfg.QueryCooldown,
		KeepalivePeriod:   cfg.KeepalivePeriod,
		CallTimeout:       cfg.CallTimeout,
	})
	return &Registry{
		Log:       log,
		Cfg:       cfg,
		Bus:       bus,
		Ticker:    tk,
		Directory: dir,
		Relay:     rel,
		Gateway:   gw,
	}
}
