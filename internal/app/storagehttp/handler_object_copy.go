package storagehttp

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/sir_venger/docupload/pkg/storageproto"
)

// copyObject дублирует готовый объект; существующий dst перезаписывается.
func (a *Server) copyObject(w http.ResponseWriter, r *http.Request) {
	var req storageproto.CopyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid copy body: "+err.Error(), http.StatusBadRequest)
		return
	}
	src, err := a.objectFile(req.Src)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	dst, err := a.objectFile(req.Dst)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	in, err := os.Open(src)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	// пишем во временный файл рядом, чтобы читатели не увидели половину объекта
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".copy-*")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), in)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, storageproto.ObjectInfo{
		Path:       path.Clean("/" + req.Dst),
		Size:       n,
		Revision:   hex.EncodeToString(h.Sum(nil)),
		ModifiedAt: time.Now().UTC(),
	})
}
