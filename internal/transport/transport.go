// Package transport defines the contract between the upload protocol and the
// remote object storage that actually holds the bytes.
package transport

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned for unknown sessions or source objects.
	ErrNotFound = errors.New("transport: not found")
	// ErrConflict is returned when an offset does not match the remote state.
	ErrConflict = errors.New("transport: offset conflict")
)

// CommitOptions control how a session is materialised at its destination.
type CommitOptions struct {
	Autorename bool
	ModifiedAt time.Time
}

// ObjectHandle describes a committed object.
type ObjectHandle struct {
	Path       string
	Size       int64
	Revision   string
	ModifiedAt time.Time
}

// Adapter wraps a remote object store offering session-oriented appends.
type Adapter interface {
	// OpenSession allocates a remote upload session.
	OpenSession(ctx context.Context) (string, error)
	// Append writes data at offset, which must equal the bytes already appended.
	Append(ctx context.Context, token string, offset int64, data []byte) error
	// Close commits the session's offset bytes to path.
	Close(ctx context.Context, token string, offset int64, path string, opts CommitOptions) (ObjectHandle, error)
	// Copy duplicates a committed object.
	Copy(ctx context.Context, src, dst string) (ObjectHandle, error)
	// Abort releases a session without committing it.
	Abort(ctx context.Context, token string) error
}

// RenameCandidate returns the n-th autorename alternative of p:
// "a/b.pdf" -> "a/b (1).pdf". n == 0 yields p itself.
func RenameCandidate(p string, n int) string {
	if n <= 0 {
		return p
	}
	dir, file := path.Split(p)
	ext := path.Ext(file)
	base := strings.TrimSuffix(file, ext)
	return fmt.Sprintf("%s%s (%d)%s", dir, base, n, ext)
}

// MaxRenameAttempts bounds autorename probing.
const MaxRenameAttempts = 1000

// ResolveAutorename probes candidates of p until exists reports a free one.
func ResolveAutorename(ctx context.Context, p string, autorename bool, exists func(context.Context, string) (bool, error)) (string, error) {
	if !autorename {
		return p, nil
	}
	for n := 0; n < MaxRenameAttempts; n++ {
		candidate := RenameCandidate(p, n)
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no free name for %s", ErrConflict, p)
}

// Pinger is implemented by adapters that can report backend readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}
