package main

import (
	"flag"
	"os"

	"github.com/ethereum/go-ethereum/log"

	"github.com/layer-3/cryptolock/internal/config"
	"github.com/layer-3/cryptolock/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up or down")
	flag.Parse()

	log.SetDefault(log.NewLogger(log.NewTerminalHandler(os.Stderr, true)))

	cfg, err := config.Load()
	if err != nil {
		log.Crit("Failed to load config", "err", err)
	}

	if err := migrate.Run(cfg.DatabaseURL, *direction); err != nil {
		log.Crit("Migration failed", "direction", *direction, "err", err)
	}
	log.Info("Migrations applied", "direction", *direction)
}
