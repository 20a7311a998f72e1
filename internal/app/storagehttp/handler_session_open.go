package storagehttp

import (
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/sir_venger/docupload/pkg/storageproto"
)

// openSession создаёт каталог сессии с пустым файлом данных.
func (a *Server) openSession(w http.ResponseWriter, _ *http.Request) {
	p := a.sessionPaths(uuid.NewString())

	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	f, err := os.Create(p.data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_ = f.Close()

	now := time.Now().UTC()
	if err := writeMeta(p.meta, sessionMeta{Token: p.token, CreatedAt: now, UpdatedAt: now}); err != nil {
		_ = os.RemoveAll(p.dir)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, storageproto.OpenResponse{Token: p.token})
}
