package storagehttp

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/sir_venger/docupload/pkg/storageproto"
)

// appendSession дописывает тело запроса по смещению X-Upload-Offset. Файл
// обрезается до смещения перед записью, поэтому повтор того же куска безопасен.
func (a *Server) appendSession(w http.ResponseWriter, r *http.Request) {
	p, ok := a.requireSession(w, r)
	if !ok {
		return
	}
	unlock := a.sessions.Lock(p.token)
	defer unlock()

	offset, err := parseOffset(r.Header.Get(storageproto.HeaderOffset))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f, err := os.OpenFile(p.data, os.O_WRONLY, 0o644)
	if err != nil {
		// сессию могли закоммитить или удалить, пока ждали блокировку
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if offset > info.Size() {
		w.Header().Set(storageproto.HeaderOffset, strconv.FormatInt(info.Size(), 10))
		http.Error(w, fmt.Sprintf("offset %d beyond size %d", offset, info.Size()), http.StatusConflict)
		return
	}

	if err := f.Truncate(offset); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), r.Body)
	if err != nil {
		_ = f.Truncate(offset)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.ContentLength >= 0 && n != r.ContentLength {
		_ = f.Truncate(offset)
		http.Error(w, "size mismatch", http.StatusBadRequest)
		return
	}
	got := hex.EncodeToString(h.Sum(nil))
	if exp := r.Header.Get(storageproto.HeaderChecksum); exp != "" && exp != got {
		_ = f.Truncate(offset)
		http.Error(w, "sha256 mismatch", http.StatusUnprocessableEntity)
		return
	}

	meta, err := readMeta(p.meta)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	meta.Appends++
	meta.LastSha = got
	meta.UpdatedAt = time.Now().UTC()
	if err := writeMeta(p.meta, *meta); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set(storageproto.HeaderOffset, strconv.FormatInt(offset+n, 10))
	w.WriteHeader(http.StatusNoContent)
}

func parseOffset(value string) (int64, error) {
	if value == "" {
		return 0, fmt.Errorf("missing %s header", storageproto.HeaderOffset)
	}
	off, err := strconv.ParseInt(value, 10, 64)
	if err != nil || off < 0 {
		return 0, fmt.Errorf("invalid %s header", storageproto.HeaderOffset)
	}
	return off, nil
}
