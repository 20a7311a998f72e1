// Package repo holds the upload session stores. Every store serializes
// mutations of one session key and lets independent keys proceed in parallel.
package repo

import (
	"context"
	"time"

	"github.com/sir_venger/docupload/internal/models"
)

// Mutation is applied to a session while its key is locked. Returning
// remove=true deletes the session whatever err is; otherwise the session is
// saved only when err is nil.
type Mutation func(s *models.UploadSession) (remove bool, err error)

// Store is the contract shared by all session stores.
type Store interface {
	// Create stores s, replacing any session with the same key.
	Create(ctx context.Context, s models.UploadSession) error
	Get(ctx context.Context, key string) (models.UploadSession, error)
	Update(ctx context.Context, key string, fn Mutation) error
	Delete(ctx context.Context, key string) error
	// Expired lists sessions whose ExpiresAt is not after now.
	Expired(ctx context.Context, now time.Time, limit int) ([]models.UploadSession, error)
	Close() error
}
