package storagehttp

import (
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sir_venger/docupload/pkg/storageproto"
)

const manualGCTTL = 24 * time.Hour

// gcOnce вручную запускает сбор брошенных сессий. TTL можно переопределить ?ttl=.
func (a *Server) gcOnce(w http.ResponseWriter, r *http.Request) {
	ttl := manualGCTTL
	if v := r.URL.Query().Get(storageproto.QueryGCTTL); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			http.Error(w, "invalid ttl", http.StatusBadRequest)
			return
		}
		ttl = d
	}

	removed, err := sweepOnce(a.dataDir, ttl, a.log)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, storageproto.GCResult{Removed: removed})
}

// StartGC стартует периодическую очистку каталога.
func StartGC(root string, ttl time.Duration, every time.Duration, log zerolog.Logger) func() {
	if every <= 0 || ttl <= 0 {
		return func() {}
	}

	ticker := time.NewTicker(every)
	stop := make(chan struct{})
	var once sync.Once
	go func() {
		for {
			select {
			case <-ticker.C:
				if _, err := sweepOnce(root, ttl, log); err != nil {
					log.Warn().Err(err).Msg("gc sweep failed")
				}
			case <-stop:
				ticker.Stop()
				return
			}
		}
	}()

	return func() {
		once.Do(func() {
			close(stop)
		})
	}
}

// sweepOnce удаляет сессии, которые не дописывались дольше ttl.
func sweepOnce(root string, ttl time.Duration, log zerolog.Logger) (int, error) {
	now := time.Now()
	dir := filepath.Join(root, sessionsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		sdir := filepath.Join(dir, e.Name())
		meta, err := readMeta(filepath.Join(sdir, metaFileName))
		if err != nil {
			continue
		}
		if now.Sub(meta.UpdatedAt) < ttl {
			continue
		}

		if err := os.RemoveAll(sdir); err != nil {
			log.Warn().Err(err).Str("token", meta.Token).Msg("gc remove session")
			continue
		}
		removed++
		log.Info().Str("token", meta.Token).Time("updated_at", meta.UpdatedAt).Msg("stale session collected")
	}

	return removed, nil
}
