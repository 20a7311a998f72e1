package storagehttp

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/sir_venger/docupload/pkg/storageproto"
)

// health возвращает агрегированную статистику по данным стоража.
func (a *Server) health(w http.ResponseWriter, _ *http.Request) {
	var total int64
	// Суммируем размер объектов для простого capacity-метрика.
	err := filepath.WalkDir(filepath.Join(a.dataDir, objectsDir), func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	entries, err := os.ReadDir(filepath.Join(a.dataDir, sessionsDir))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, storageproto.Health{
		OK:         true,
		Sessions:   len(entries),
		TotalBytes: total,
	})
}
