package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sir_venger/docupload/internal/keylock"
	"github.com/sir_venger/docupload/internal/models"
)

// MemoryStore хранит сессии только в оперативной памяти одного процесса.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]models.UploadSession

	locks keylock.Map
}

// NewMemoryStore создаёт пустое in-memory хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]models.UploadSession{},
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Create(_ context.Context, sess models.UploadSession) error {
	unlock := s.locks.Lock(sess.Key)
	defer unlock()

	s.mu.Lock()
	s.sessions[sess.Key] = sess
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (models.UploadSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[key]
	if !ok {
		return models.UploadSession{}, models.ErrNotFound
	}
	return sess, nil
}

func (s *MemoryStore) Update(ctx context.Context, key string, fn Mutation) error {
	unlock := s.locks.Lock(key)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	sess, err := s.Get(ctx, key)
	if err != nil {
		return err
	}

	remove, err := fn(&sess)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case remove:
		delete(s.sessions, key)
	case err == nil:
		s.sessions[key] = sess
	}
	return err
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	unlock := s.locks.Lock(key)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[key]; !ok {
		return models.ErrNotFound
	}
	delete(s.sessions, key)
	return nil
}

func (s *MemoryStore) Expired(_ context.Context, now time.Time, limit int) ([]models.UploadSession, error) {
	s.mu.RLock()
	var out []models.UploadSession
	for _, sess := range s.sessions {
		if sess.Expired(now) {
			out = append(out, sess)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *MemoryStore) Close() error { return nil }
