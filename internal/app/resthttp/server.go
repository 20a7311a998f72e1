package resthttp

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/sir_venger/docupload/internal/app/httplog"
	"github.com/sir_venger/docupload/internal/config"
	"github.com/sir_venger/docupload/internal/metrics"
	"github.com/sir_venger/docupload/internal/models"
	"github.com/sir_venger/docupload/internal/transport"
	"github.com/sir_venger/docupload/internal/usecase/uploadsvc"
	"github.com/sir_venger/docupload/pkg/uploadproto"
)

// Server отдаёт протокол загрузки и служебные ручки.
type Server struct {
	Uploads     uploadsvc.Service
	Replication *uploadsvc.ReplicationRouter
	// Backend is optional; without it /health only reports the process.
	Backend     transport.Pinger
	BackendName string
	Metrics     *metrics.Metrics
	Cfg         *config.Config
	Log         zerolog.Logger
}

// Routes собирает chi-роутер.
func (s *Server) Routes() http.Handler {
	rtr := chi.NewRouter()
	rtr.Use(middleware.RequestID)
	rtr.Use(middleware.Recoverer)
	rtr.Use(httplog.Middleware(s.Log))

	rtr.Post(uploadproto.UploadPath, s.postUpload)
	rtr.Post(uploadproto.DirectPath, s.postDirect)
	rtr.Get(uploadproto.HealthPath, s.getHealth)
	if s.Metrics != nil {
		rtr.Method(http.MethodGet, "/metrics", s.Metrics.Handler())
	}
	rtr.Get("/admin/config", s.getConfig)
	rtr.Post("/admin/replication", s.postReplication)

	return rtr
}

// decode читает JSON-тело с ограничением размера.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	if s.Cfg != nil && s.Cfg.Upload.MaxRequestBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.Cfg.Upload.MaxRequestBytes)
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return models.Validationf("malformed request body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
