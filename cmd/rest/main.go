package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sir_venger/docupload/internal/app/resthttp"
	"github.com/sir_venger/docupload/internal/config"
	"github.com/sir_venger/docupload/internal/logger"
)

// main инициализирует REST HTTP-сервис загрузки и обеспечивает корректное завершение по сигналу.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	lg, closeLog, err := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, File: cfg.Log.File})
	if err != nil {
		log.Fatal().Err(err).Msg("init logger")
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := resthttp.Build(ctx, cfg, lg)
	if err != nil {
		lg.Fatal().Err(err).Msg("build upload service")
	}
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           app.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		lg.Fatal().Err(err).Str("addr", cfg.ListenAddr).Msg("listen")
	}

	lg.Info().
		Str("addr", cfg.ListenAddr).
		Str("sessions", cfg.Sessions.Driver).
		Str("backend", cfg.Backend.Driver).
		Msg("REST listening")
	if err := app.Run(ctx, server, ln, 15*time.Second); err != nil {
		lg.Error().Err(err).Msg("REST server failed")
	}
	lg.Info().Msg("REST stopped")
}
