package storagehttp

import (
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sir_venger/docupload/pkg/storageproto"
)

func (a *Server) openObject(w http.ResponseWriter, r *http.Request) (*os.File, os.FileInfo, bool) {
	p, err := a.objectFile(chi.URLParam(r, "*"))
	if err != nil {
		http.NotFound(w, r)
		return nil, nil, false
	}
	f, err := os.Open(p)
	if err != nil {
		http.NotFound(w, r)
		return nil, nil, false
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		f.Close()
		http.NotFound(w, r)
		return nil, nil, false
	}
	return f, info, true
}

// fetchObject обслуживает GET-запросы, возвращая содержимое объекта.
func (a *Server) fetchObject(w http.ResponseWriter, r *http.Request) {
	f, info, ok := a.openObject(w, r)
	if !ok {
		return
	}
	defer f.Close()

	size := info.Size()
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set(storageproto.HeaderSize, strconv.FormatInt(size, 10))
	w.Header().Set(storageproto.HeaderModifiedAt, info.ModTime().UTC().Format(http.TimeFormat))
	w.Header().Set("Content-Type", storageproto.ContentTypeOctetStr)

	if _, err := io.Copy(w, f); err != nil {
		a.log.Warn().Err(err).Str("path", info.Name()).Msg("object stream interrupted")
	}
}

// inspectObject отвечает на HEAD-запросы размером и хешем объекта.
func (a *Server) inspectObject(w http.ResponseWriter, r *http.Request) {
	f, info, ok := a.openObject(w, r)
	if !ok {
		return
	}
	f.Close()

	sum, err := fileSha256(f.Name())
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set(storageproto.HeaderSize, strconv.FormatInt(info.Size(), 10))
	w.Header().Set(storageproto.HeaderChecksum, sum)
	w.Header().Set(storageproto.HeaderModifiedAt, info.ModTime().UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
}
