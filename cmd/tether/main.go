package main

import (
	"log"
	"os"

	"github.com/seantiz/tether/internal/api"
	"github.com/seantiz/tether/internal/config"
	"github.com/seantiz/tether/internal/dispatch"
	"github.com/seantiz/tether/internal/handler"
	"github.com/seantiz/tether/internal/handler/webhook"
	"github.com/seantiz/tether/internal/store"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("tether: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"sweep_interval", cfg.SweepInterval.String(),
		"default_timeout", cfg.DefaultTimeout.String(),
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	reg := handler.NewRegistry()
	reg.Register(webhook.Kind, webhook.New())

	d := dispatch.New(db, reg, logger, dispatch.Options{
		SweepInterval:  cfg.SweepInterval,
		DefaultTimeout: cfg.DefaultTimeout,
		QueueCapacity:  cfg.QueueCapacity,
	})
	d.Start()
	defer d.Close()

	srv := api.NewServer(cfg.ListenAddr, db, reg, d, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
