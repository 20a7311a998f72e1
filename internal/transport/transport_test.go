package transport_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sir_venger/docupload/internal/transport"
	"github.com/sir_venger/docupload/internal/transport/transporttest"
)

func TestRenameCandidate(t *testing.T) {
	assert.Equal(t, "/a/b.pdf", transport.RenameCandidate("/a/b.pdf", 0))
	assert.Equal(t, "/a/b (1).pdf", transport.RenameCandidate("/a/b.pdf", 1))
	assert.Equal(t, "/a/b (12).tar", transport.RenameCandidate("/a/b.tar", 12))
	assert.Equal(t, "noext (2)", transport.RenameCandidate("noext", 2))
}

func TestResolveAutorename(t *testing.T) {
	taken := map[string]bool{"/x/d.pdf": true, "/x/d (1).pdf": true}
	exists := func(_ context.Context, p string) (bool, error) { return taken[p], nil }

	got, err := transport.ResolveAutorename(context.Background(), "/x/d.pdf", true, exists)
	require.NoError(t, err)
	assert.Equal(t, "/x/d (2).pdf", got)

	got, err = transport.ResolveAutorename(context.Background(), "/x/d.pdf", false, exists)
	require.NoError(t, err)
	assert.Equal(t, "/x/d.pdf", got)
}

func fastPolicy() transport.RetryPolicy {
	return transport.RetryPolicy{
		CallTimeout:     time.Second,
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func TestWithRetry_RetriesTransientAppend(t *testing.T) {
	mem := transporttest.New()
	failures := 2
	mem.AppendErr = func(transporttest.AppendCall) error {
		if failures > 0 {
			failures--
			return errors.New("connection reset by peer")
		}
		return nil
	}

	a := transport.WithRetry(mem, fastPolicy(), zerolog.Nop())
	ctx := context.Background()
	token, err := a.OpenSession(ctx)
	require.NoError(t, err)

	require.NoError(t, a.Append(ctx, token, 0, []byte("hello")))
	appends, _ := mem.Snapshot()
	require.Len(t, appends, 1)
	assert.Equal(t, int64(0), appends[0].Offset)
}

func TestWithRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	mem := transporttest.New()
	calls := 0
	mem.AppendErr = func(transporttest.AppendCall) error {
		calls++
		return errors.New("503 slow down")
	}

	a := transport.WithRetry(mem, fastPolicy(), zerolog.Nop())
	token, err := a.OpenSession(context.Background())
	require.NoError(t, err)

	err = a.Append(context.Background(), token, 0, []byte("x"))
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_ConflictIsPermanent(t *testing.T) {
	mem := transporttest.New()
	a := transport.WithRetry(mem, fastPolicy(), zerolog.Nop())
	token, err := a.OpenSession(context.Background())
	require.NoError(t, err)

	err = a.Append(context.Background(), token, 10, []byte("x"))
	assert.ErrorIs(t, err, transport.ErrConflict)

	_, err = a.Copy(context.Background(), "/missing", "/dst")
	assert.ErrorIs(t, err, transport.ErrNotFound)
}

// slowCommit delays Close and fails if the context ends first.
type slowCommit struct {
	transport.Adapter
	delay time.Duration
}

func (s slowCommit) Close(ctx context.Context, token string, offset int64, path string, opts transport.CommitOptions) (transport.ObjectHandle, error) {
	select {
	case <-ctx.Done():
		return transport.ObjectHandle{}, ctx.Err()
	case <-time.After(s.delay):
	}
	return s.Adapter.Close(ctx, token, offset, path, opts)
}

func TestWithRetry_CloseIsNotRetried(t *testing.T) {
	mem := transporttest.New()
	calls := 0
	mem.CloseErr = func(string) error {
		calls++
		return errors.New("connection reset by peer")
	}

	a := transport.WithRetry(mem, fastPolicy(), zerolog.Nop())
	ctx := context.Background()
	token, err := a.OpenSession(ctx)
	require.NoError(t, err)
	require.NoError(t, a.Append(ctx, token, 0, []byte("abc")))

	_, err = a.Close(ctx, token, 3, "/x/a.pdf", transport.CommitOptions{})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_CloseOutlastsCallTimeout(t *testing.T) {
	mem := transporttest.New()
	policy := fastPolicy()
	policy.CallTimeout = 20 * time.Millisecond
	a := transport.WithRetry(slowCommit{Adapter: mem, delay: 100 * time.Millisecond}, policy, zerolog.Nop())

	ctx := context.Background()
	token, err := a.OpenSession(ctx)
	require.NoError(t, err)
	require.NoError(t, a.Append(ctx, token, 0, []byte("abc")))

	obj, err := a.Close(ctx, token, 3, "/x/a.pdf", transport.CommitOptions{})
	require.NoError(t, err)
	assert.Equal(t, "/x/a.pdf", obj.Path)
}
