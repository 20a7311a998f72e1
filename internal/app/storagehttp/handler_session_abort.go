package storagehttp

import (
	"net/http"
	"os"
)

// abortSession удаляет сессию вместе с недописанными данными.
func (a *Server) abortSession(w http.ResponseWriter, r *http.Request) {
	p, ok := a.requireSession(w, r)
	if !ok {
		return
	}
	unlock := a.sessions.Lock(p.token)
	defer unlock()

	if err := os.RemoveAll(p.dir); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
