package storagehttp

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	metaFileName = "meta.json"
	dataFileName = "data"
)

// sessionMeta хранится на диске рядом с данными сессии.
type sessionMeta struct {
	Token     string    `json:"token"`
	Appends   int       `json:"appends"`
	LastSha   string    `json:"last_sha256,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// sessionPaths содержит все вычисленные пути сессии.
type sessionPaths struct {
	token string
	dir   string
	data  string
	meta  string
}

func (a *Server) sessionPaths(token string) sessionPaths {
	dir := filepath.Join(a.dataDir, sessionsDir, token)
	return sessionPaths{
		token: token,
		dir:   dir,
		data:  filepath.Join(dir, dataFileName),
		meta:  filepath.Join(dir, metaFileName),
	}
}

// requireSession валидирует токен из URL и проверяет, что сессия существует.
func (a *Server) requireSession(w http.ResponseWriter, r *http.Request) (sessionPaths, bool) {
	token := chi.URLParam(r, "token")
	// токен всегда uuid, иначе он мог бы выйти за пределы каталога
	if _, err := uuid.Parse(token); err != nil {
		http.NotFound(w, r)
		return sessionPaths{}, false
	}

	p := a.sessionPaths(token)
	if _, err := os.Stat(p.meta); err != nil {
		http.NotFound(w, r)
		return sessionPaths{}, false
	}
	return p, true
}

// writeMeta сохраняет метаданные сессии на диск.
func writeMeta(p string, m sessionMeta) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, b, 0o644)
}

// readMeta читает метаданные сессии с диска.
func readMeta(p string) (*sessionMeta, error) {
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}

	var m sessionMeta
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// objectFile maps a slash separated object path to its file under objects/.
func (a *Server) objectFile(p string) (string, error) {
	clean := path.Clean("/" + p)
	if clean == "/" {
		return "", fmt.Errorf("empty object path")
	}
	return filepath.Join(a.dataDir, objectsDir, filepath.FromSlash(clean)), nil
}

func (a *Server) objectExists(p string) (bool, error) {
	f, err := a.objectFile(p)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(f)
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, err
	}
}

func fileSha256(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
