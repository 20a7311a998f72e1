package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sir_venger/docupload/internal/app/storagehttp"
	"github.com/sir_venger/docupload/internal/logger"
)

const (
	defaultStorageAddr   = ":8081"
	dataDirEnv           = "DATA_DIR"
	gcTTLHoursEnv        = "GC_TTL_HOURS"
	gcIntervalMinEnv     = "GC_INTERVAL_MIN"
	defaultDataDir       = "/data"
	defaultGCTTLHours    = 24
	defaultGCIntervalMin = 30
)

func main() {
	addr := flag.String("addr", defaultStorageAddr, "listen address")
	pretty := flag.Bool("pretty", false, "human readable logs")
	flag.Parse()

	lg, closeLog, err := logger.New(logger.Config{Level: os.Getenv("LOG_LEVEL"), Pretty: *pretty})
	if err != nil {
		log.Fatal().Err(err).Msg("init logger")
	}
	defer closeLog()

	dataDir := os.Getenv(dataDirEnv)
	if dataDir == "" {
		dataDir = defaultDataDir
	}

	h, err := storagehttp.New(dataDir, logger.Component(lg, "node"))
	if err != nil {
		lg.Fatal().Err(err).Str("data_dir", dataDir).Msg("init storage node")
	}

	// Настраиваем фоновый GC по удалению незавершённых сессий.
	gcTTLHours := envInt(gcTTLHoursEnv, defaultGCTTLHours)
	gcEveryMin := envInt(gcIntervalMinEnv, defaultGCIntervalMin)
	stopGC := storagehttp.StartGC(dataDir, time.Duration(gcTTLHours)*time.Hour, time.Duration(gcEveryMin)*time.Minute, logger.Component(lg, "gc"))
	defer stopGC()

	server := &http.Server{Addr: *addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error().Err(err).Msg("STORAGE shutdown error")
		}
	}()

	lg.Info().
		Str("addr", *addr).
		Str("data_dir", dataDir).
		Int("gc_ttl_hours", gcTTLHours).
		Int("gc_every_min", gcEveryMin).
		Msg("STORAGE listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		lg.Error().Err(err).Msg("STORAGE server failed")
	}
}

// envInt возвращает целочисленное значение из переменной окружения либо дефолт.
func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
