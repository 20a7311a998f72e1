package storagehttp

import (
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/sir_venger/docupload/internal/app/httplog"
	"github.com/sir_venger/docupload/internal/keylock"
)

const (
	sessionsDir = "sessions"
	objectsDir  = "objects"
)

// Server serves the storage node HTTP API on top of the local filesystem.
type Server struct {
	dataDir string
	log     zerolog.Logger

	// sessions serializes writes per token, objectsMu guards name resolution
	sessions  keylock.Map
	objectsMu sync.Mutex
}

// New создаёт HTTP-обработчик стоража поверх каталога с данными.
func New(dataDir string, log zerolog.Logger) (http.Handler, error) {
	for _, dir := range []string{sessionsDir, objectsDir} {
		if err := os.MkdirAll(filepath.Join(dataDir, dir), 0o755); err != nil {
			return nil, err
		}
	}

	srv := &Server{
		dataDir: dataDir,
		log:     log,
	}

	return srv.routes(), nil
}

// routes регистрирует обработчики сессий, объектов, здоровья и GC.
func (a *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(httplog.Middleware(a.log))

	r.Post("/sessions", a.openSession)
	r.Route("/sessions/{token}", func(sr chi.Router) {
		sr.Put("/", a.appendSession)
		sr.Delete("/", a.abortSession)
		sr.Post("/commit", a.commitSession)
	})

	r.Post("/objects/copy", a.copyObject)
	r.Get("/objects/*", a.fetchObject)
	r.Head("/objects/*", a.inspectObject)

	r.Get("/health", a.health)
	r.Post("/admin/gc", a.gcOnce)

	return r
}
