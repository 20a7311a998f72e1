package main

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sir_venger/docupload/internal/config"
	"github.com/sir_venger/docupload/internal/repo"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	if cfg.Sessions.Driver != config.SessionsPostgres {
		log.Info().Str("driver", cfg.Sessions.Driver).Msg("sessions driver has no schema, skipping migrations")
		return
	}
	dsn := strings.TrimSpace(cfg.Sessions.DSN)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := repo.ApplyMigrations(ctx, dsn); err != nil {
		log.Fatal().Err(err).Msg("apply migrations")
	}

	log.Info().Msg("migrations applied")
}
