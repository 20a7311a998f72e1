package resthttp

import (
	"context"
	"net/http"
	"time"

	"github.com/sir_venger/docupload/internal/config"
	"github.com/sir_venger/docupload/internal/models"
	"github.com/sir_venger/docupload/pkg/httperrors"
	"github.com/sir_venger/docupload/pkg/uploadproto"
)

const healthTimeout = 3 * time.Second

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	h := uploadproto.Health{OK: true, Backend: s.BackendName}
	if s.Backend != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.Backend.Ping(ctx); err != nil {
			h.OK = false
			h.Error = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, h)
			return
		}
	}
	writeJSON(w, http.StatusOK, h)
}

// getConfig отдаёт действующую конфигурацию без секретов.
func (s *Server) getConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := s.Cfg
	if cfg == nil {
		cfg = config.Default()
	}
	out := *cfg
	if s.Replication != nil {
		out.Replication.Rules = s.Replication.Rules()
	}
	writeJSON(w, http.StatusOK, out)
}

// postReplication заменяет или дополняет правила репликации на лету.
func (s *Server) postReplication(w http.ResponseWriter, r *http.Request) {
	if s.Replication == nil {
		httperrors.Write(w, models.Validationf("replication is not configured"))
		return
	}

	var payload uploadproto.ReplicationRequest
	if err := s.decode(w, r, &payload); err != nil {
		httperrors.Write(w, err)
		return
	}
	if len(payload.Rules) == 0 && !payload.Replace {
		httperrors.Write(w, models.Validationf("rules list is empty"))
		return
	}

	rules := make([]config.ReplicationRule, 0, len(payload.Rules))
	for _, rule := range payload.Rules {
		if rule.Office == "" || rule.Root == "" {
			httperrors.Write(w, models.Validationf("rule needs office and root"))
			return
		}
		rules = append(rules, config.ReplicationRule{Office: rule.Office, Root: rule.Root})
	}

	if payload.Replace {
		s.Replication.Set(rules)
	} else {
		s.Replication.Add(rules...)
	}
	s.Log.Info().Int("rules", len(rules)).Bool("replace", payload.Replace).Msg("replication rules updated")

	current := s.Replication.Rules()
	out := make([]uploadproto.ReplicationRule, 0, len(current))
	for _, rule := range current {
		out = append(out, uploadproto.ReplicationRule{Office: rule.Office, Root: rule.Root})
	}
	writeJSON(w, http.StatusOK, uploadproto.ReplicationRequest{Rules: out, Replace: payload.Replace})
}
