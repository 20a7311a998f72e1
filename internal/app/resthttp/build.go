package resthttp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/sir_venger/docupload/internal/config"
	"github.com/sir_venger/docupload/internal/logger"
	"github.com/sir_venger/docupload/internal/metrics"
	"github.com/sir_venger/docupload/internal/repo"
	"github.com/sir_venger/docupload/internal/transport"
	"github.com/sir_venger/docupload/internal/transport/miniobackend"
	"github.com/sir_venger/docupload/internal/transport/s3backend"
	"github.com/sir_venger/docupload/internal/usecase/uploadsvc"
	"github.com/sir_venger/docupload/pkg/storageclient"
)

// App is the wired upload API together with its background workers.
type App struct {
	Handler    http.Handler
	Server     *Server
	Uploads    *uploadsvc.Uploads
	Replicator *uploadsvc.Replicator
	Reaper     *uploadsvc.Reaper

	store repo.Store
}

// Build собирает сервис из конфигурации: хранилище сессий, бэкенд, репликацию и reaper.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	store, err := OpenStore(ctx, cfg.Sessions)
	if err != nil {
		return nil, err
	}

	backend, err := OpenBackend(ctx, cfg.Backend, logger.Component(log, "backend"))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	r := cfg.Upload.Retry
	adapter := transport.WithRetry(backend, transport.RetryPolicy{
		CallTimeout:     r.CallTimeout.Std(),
		MaxAttempts:     r.MaxAttempts,
		InitialInterval: r.InitialInterval.Std(),
		MaxInterval:     r.MaxInterval.Std(),
	}, logger.Component(log, "transport"))

	m := metrics.New()
	router := uploadsvc.NewReplicationRouter(cfg.Replication.Rules...)
	repl := uploadsvc.NewReplicator(adapter, router, cfg.Replication.Timeout.Std(), m, logger.Component(log, "replication"))

	uploads := uploadsvc.New(uploadsvc.Deps{
		Store:      store,
		Adapter:    adapter,
		Replicator: repl,
		Metrics:    m,
		Logger:     logger.Component(log, "uploads"),
		Limits:     uploadsvc.LimitsFromConfig(cfg.Upload),
	})

	srv := &Server{
		Uploads:     uploads,
		Replication: router,
		BackendName: cfg.Backend.Driver,
		Metrics:     m,
		Cfg:         cfg,
		Log:         logger.Component(log, "http"),
	}
	if p, ok := adapter.(transport.Pinger); ok {
		srv.Backend = p
	}

	return &App{
		Handler:    srv.Routes(),
		Server:     srv,
		Uploads:    uploads,
		Replicator: repl,
		Reaper:     uploadsvc.NewReaper(uploads, cfg.Upload.ReapInterval.Std(), logger.Component(log, "reaper")),
		store:      store,
	}, nil
}

// Close stops the reaper, drains replication and releases the session store.
func (a *App) Close() error {
	a.Reaper.Stop()
	a.Replicator.Wait()
	return a.store.Close()
}

// OpenStore выбирает хранилище сессий по драйверу.
func OpenStore(ctx context.Context, c config.Sessions) (repo.Store, error) {
	switch c.Driver {
	case config.SessionsMemory, "":
		return repo.NewMemoryStore(), nil
	case config.SessionsPostgres:
		store, err := repo.NewPGStore(ctx, c.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.SessionsRedis:
		client, err := repo.DialRedis(ctx, c.RedisAddr, c.RedisPass, c.RedisDB)
		if err != nil {
			return nil, err
		}
		return repo.NewRedisStore(client, 0), nil
	default:
		return nil, fmt.Errorf("unknown sessions driver %q", c.Driver)
	}
}

// OpenBackend выбирает транспорт до хранилища объектов.
func OpenBackend(ctx context.Context, c config.Backend, log zerolog.Logger) (transport.Adapter, error) {
	switch c.Driver {
	case config.BackendNode, "":
		if c.Node.URL == "" {
			return nil, errors.New("backend.node.url is required")
		}
		return storageclient.New(c.Node.URL, &http.Client{Timeout: 2 * time.Minute}), nil
	case config.BackendS3:
		b, err := s3backend.NewFromConfig(ctx, c.S3, log)
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.BackendMinio:
		b, err := miniobackend.New(c.Minio, log)
		if err != nil {
			return nil, err
		}
		if err := b.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown backend driver %q", c.Driver)
	}
}
