// Package transporttest provides an in-memory transport.Adapter that records
// every call, for tests of the protocol and its clients.
package transporttest

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sir_venger/docupload/internal/transport"
)

// AppendCall records one Append invocation.
type AppendCall struct {
	Token  string
	Offset int64
	Size   int
}

// CopyCall records one Copy invocation.
type CopyCall struct {
	Src, Dst string
}

// Adapter keeps sessions and objects in memory. Failure hooks, when set, are
// consulted before the real operation and may return an error to inject.
type Adapter struct {
	mu       sync.Mutex
	sessions map[string]*bytes.Buffer
	objects  map[string][]byte

	Appends []AppendCall
	Copies  []CopyCall
	Aborted []string
	Opened  int

	OpenErr   func() error
	AppendErr func(call AppendCall) error
	CloseErr  func(token string) error
	CopyErr   func(src, dst string) error
}

// New returns an empty adapter.
func New() *Adapter {
	return &Adapter{
		sessions: map[string]*bytes.Buffer{},
		objects:  map[string][]byte{},
	}
}

var _ transport.Adapter = (*Adapter)(nil)

func (a *Adapter) OpenSession(context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.OpenErr != nil {
		if err := a.OpenErr(); err != nil {
			return "", err
		}
	}
	a.Opened++
	token := uuid.NewString()
	a.sessions[token] = &bytes.Buffer{}
	return token, nil
}

func (a *Adapter) Append(_ context.Context, token string, offset int64, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	call := AppendCall{Token: token, Offset: offset, Size: len(data)}
	if a.AppendErr != nil {
		if err := a.AppendErr(call); err != nil {
			return err
		}
	}
	buf, ok := a.sessions[token]
	if !ok {
		return transport.ErrNotFound
	}
	if int64(buf.Len()) != offset {
		return fmt.Errorf("%w: offset %d, have %d", transport.ErrConflict, offset, buf.Len())
	}
	buf.Write(data)
	a.Appends = append(a.Appends, call)
	return nil
}

func (a *Adapter) Close(ctx context.Context, token string, offset int64, path string, opts transport.CommitOptions) (transport.ObjectHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.CloseErr != nil {
		if err := a.CloseErr(token); err != nil {
			return transport.ObjectHandle{}, err
		}
	}
	buf, ok := a.sessions[token]
	if !ok {
		return transport.ObjectHandle{}, transport.ErrNotFound
	}
	if int64(buf.Len()) != offset {
		return transport.ObjectHandle{}, fmt.Errorf("%w: commit at %d, have %d", transport.ErrConflict, offset, buf.Len())
	}

	dst, err := transport.ResolveAutorename(ctx, path, opts.Autorename, func(_ context.Context, p string) (bool, error) {
		_, taken := a.objects[p]
		return taken, nil
	})
	if err != nil {
		return transport.ObjectHandle{}, err
	}

	a.objects[dst] = buf.Bytes()
	delete(a.sessions, token)
	return transport.ObjectHandle{Path: dst, Size: offset, ModifiedAt: opts.ModifiedAt}, nil
}

func (a *Adapter) Copy(_ context.Context, src, dst string) (transport.ObjectHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.CopyErr != nil {
		if err := a.CopyErr(src, dst); err != nil {
			return transport.ObjectHandle{}, err
		}
	}
	data, ok := a.objects[src]
	if !ok {
		return transport.ObjectHandle{}, transport.ErrNotFound
	}
	a.objects[dst] = append([]byte(nil), data...)
	a.Copies = append(a.Copies, CopyCall{Src: src, Dst: dst})
	return transport.ObjectHandle{Path: dst, Size: int64(len(data)), ModifiedAt: time.Now()}, nil
}

func (a *Adapter) Abort(_ context.Context, token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, token)
	a.Aborted = append(a.Aborted, token)
	return nil
}

// Object returns a committed object's bytes.
func (a *Adapter) Object(path string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.objects[path]
	return b, ok
}

// OpenSessions returns the number of sessions neither committed nor aborted.
func (a *Adapter) OpenSessions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

// Snapshot returns copies of the recorded calls.
func (a *Adapter) Snapshot() (appends []AppendCall, copies []CopyCall) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]AppendCall(nil), a.Appends...), append([]CopyCall(nil), a.Copies...)
}
