// cmd/relayd/main.go
package main

import (
	"log"
	"net/http"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/blockfriends/partylink/internal/config"
	"github.com/blockfriends/partylink/internal/middleware"
	"github.com/blockfriends/partylink/internal/relayserver"
)

func main() {
	cfg := config.Load()

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	creds, err := relayserver.NewCredentials(cfg.CredentialTTL)
	if err != nil {
		log.Fatalf("relay credentials: %v", err)
	}

	publicURL := os.Getenv("RELAY_PUBLIC_URL")
	if publicURL == "" {
		publicURL = "ws://localhost:7360/ws"
	}

	srv := relayserver.NewServer(logger, creds, publicURL)

	mux := http.NewServeMux()
	srv.Routes(mux)

	logger.Infof("relay listening on %s, public endpoint %s", cfg.RelayAddr, publicURL)
	if err := http.ListenAndServe(cfg.RelayAddr, middleware.LogMiddleware(logger)(mux)); err != nil {
		log.Fatalf("relay exited: %v", err)
	}
}
