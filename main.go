// main.go

// Demo client: hosts a session against the dev directory and relay, then
// sits in the lobby until interrupted. Run cmd/directoryd and cmd/relayd
// first; pass -join CODE to attach to an existing session instead.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/blockfriends/partylink/internal/config"
	"github.com/blockfriends/partylink/internal/coordinator"
	"github.com/blockfriends/partylink/internal/message"
	"github.com/blockfriends/partylink/internal/party"
)

func main() {
	joinCode := flag.String("join", "", "join an existing session by code instead of hosting")
	name := flag.String("name", "Dev Session", "session name when hosting")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	cfg := config.Load()
	reg := coordinator.NewRegistry(cfg, logger)
	co := coordinator.New(reg)

	reg.Bus.Subscribe(message.HandlerFunc(func(msg message.Message) {
		switch msg.Type {
		case message.TypeDisplayError:
			logger.Warnf("error: %v", msg.Payload)
		case message.TypeApprovalGranted:
			logger.Info("approved by host")
		}
	}))

	lobbyObserved := false
	co.Lobby().Observe(func(l *party.LocalLobby) {
		if l.ID() == "" {
			return
		}
		if !lobbyObserved && l.RelayJoinCode() != "" {
			lobbyObserved = true
			logger.Infof("session %s is up, share code %s (relay %s)", l.Name(), l.Code(), l.RelayJoinCode())
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	reg.Ticker.Post(func() {
		if *joinCode != "" {
			reg.Bus.Publish(message.Message{
				Type:    message.TypeJoinRequest,
				Payload: message.SessionRef{Code: *joinCode},
			})
			return
		}
		reg.Bus.Publish(message.Message{
			Type: message.TypeCreateRequest,
			Payload: message.CreateRequest{
				Name:       *name,
				MaxPlayers: 4,
				Color:      party.ColorOrange,
			},
		})
	})

	logger.Infof("directory %s, relay %s", cfg.DirectoryURL, cfg.RelayURL)
	reg.Ticker.Run(ctx, cfg.TickFrame)
	logger.Info("terminating")
}
