package resthttp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// Run serves on ln until ctx is cancelled. In-flight requests are drained
// before the reaper, replication and the session store are shut down.
func (a *App) Run(ctx context.Context, server *http.Server, ln net.Listener, shutdownTimeout time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.Reaper.Start()

	// Сценарий graceful shutdown: сначала дожидаемся обработчиков, потом закрываем зависимости.
	drained := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		drained <- server.Shutdown(shutdownCtx)
	}()

	serveErr := server.Serve(ln)
	if errors.Is(serveErr, http.ErrServerClosed) {
		serveErr = nil
	}
	cancel()
	shutdownErr := <-drained

	return errors.Join(serveErr, shutdownErr, a.Close())
}
