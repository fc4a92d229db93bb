// cmd/directoryd/main.go
package main

import (
	"log"
	"net/http"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/blockfriends/partylink/internal/config"
	"github.com/blockfriends/partylink/internal/dirserver"
	"github.com/blockfriends/partylink/internal/middleware"
)

func main() {
	cfg := config.Load()

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	var store dirserver.Store
	if cfg.RedisAddr != "" {
		redisStore, err := dirserver.ConnectRedis(cfg.RedisAddr)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		store = redisStore
		logger.Infof("using redis store at %s", cfg.RedisAddr)
	} else {
		store = dirserver.NewMemoryStore()
		logger.Info("using in-memory store")
	}

	srv := dirserver.NewServer(logger, store, cfg.SessionTTL)

	mux := http.NewServeMux()
	srv.Routes(mux)

	logger.Infof("directory listening on %s", cfg.DirectoryAddr)
	if err := http.ListenAndServe(cfg.DirectoryAddr, middleware.LogMiddleware(logger)(mux)); err != nil {
		log.Fatalf("directory exited: %v", err)
	}
}
