package storagehttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/sir_venger/docupload/internal/transport"
	"github.com/sir_venger/docupload/pkg/storageproto"
)

// commitSession переносит данные сессии в objects/ по запрошенному пути.
func (a *Server) commitSession(w http.ResponseWriter, r *http.Request) {
	p, ok := a.requireSession(w, r)
	if !ok {
		return
	}

	var req storageproto.CommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid commit body: "+err.Error(), http.StatusBadRequest)
		return
	}
	offset, err := parseOffset(r.Header.Get(storageproto.HeaderOffset))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := a.objectFile(req.Path); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	unlock := a.sessions.Lock(p.token)
	defer unlock()

	info, err := os.Stat(p.data)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if info.Size() != offset {
		w.Header().Set(storageproto.HeaderOffset, fmt.Sprint(info.Size()))
		http.Error(w, fmt.Sprintf("commit at %d, session holds %d bytes", offset, info.Size()), http.StatusConflict)
		return
	}

	sum, err := fileSha256(p.data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	a.objectsMu.Lock()
	defer a.objectsMu.Unlock()

	dst, err := transport.ResolveAutorename(r.Context(), req.Path, req.Autorename, func(_ context.Context, candidate string) (bool, error) {
		return a.objectExists(candidate)
	})
	if err != nil {
		writeTransportErr(w, err)
		return
	}
	if !req.Autorename {
		if exists, _ := a.objectExists(dst); exists {
			http.Error(w, "object already exists", http.StatusConflict)
			return
		}
	}

	target, _ := a.objectFile(dst)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := os.Rename(p.data, target); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	modified := info.ModTime().UTC()
	if !req.ModifiedAt.IsZero() {
		modified = req.ModifiedAt.UTC()
		_ = os.Chtimes(target, modified, modified)
	}
	if err := os.RemoveAll(p.dir); err != nil {
		a.log.Warn().Err(err).Str("token", p.token).Msg("remove committed session dir")
	}

	a.log.Info().Str("token", p.token).Str("path", dst).Int64("size", offset).Msg("session committed")
	writeJSON(w, http.StatusOK, storageproto.ObjectInfo{
		Path:       dst,
		Size:       offset,
		Revision:   sum,
		ModifiedAt: modified,
	})
}

func writeTransportErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, transport.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, transport.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
