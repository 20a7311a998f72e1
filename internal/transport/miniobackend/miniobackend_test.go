package miniobackend

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sir_venger/docupload/internal/config"
	"github.com/sir_venger/docupload/internal/transport"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	endpoint := os.Getenv("TEST_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("TEST_MINIO_ENDPOINT not set")
	}

	b, err := New(config.Minio{
		Endpoint:  endpoint,
		AccessKey: envOr("TEST_MINIO_ACCESS_KEY", "minioadmin"),
		SecretKey: envOr("TEST_MINIO_SECRET_KEY", "minioadmin"),
		Bucket:    "docupload-test",
		Prefix:    "run-" + uuid.NewString(),
	}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, b.EnsureBucket(context.Background()))
	return b
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func read(t *testing.T, b *Backend, p string) string {
	t.Helper()
	obj, err := b.client.GetObject(context.Background(), b.bucket, b.objectKey(p), minio.GetObjectOptions{})
	require.NoError(t, err)
	defer obj.Close()
	data, err := io.ReadAll(obj)
	require.NoError(t, err)
	return string(data)
}

func TestBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	require.NoError(t, b.Ping(ctx))

	token, err := b.OpenSession(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Append(ctx, token, 0, []byte("hello ")))
	require.NoError(t, b.Append(ctx, token, 6, []byte("world")))
	require.ErrorIs(t, b.Append(ctx, token, 3, []byte("x")), transport.ErrConflict)

	obj, err := b.Close(ctx, token, 11, "/d/a.txt", transport.CommitOptions{Autorename: true})
	require.NoError(t, err)
	assert.Equal(t, "/d/a.txt", obj.Path)
	assert.Equal(t, "hello world", read(t, b, obj.Path))

	require.ErrorIs(t, b.Abort(ctx, token), transport.ErrNotFound)

	cp, err := b.Copy(ctx, obj.Path, "/archive/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", read(t, b, cp.Path))
}

func TestBackend_ComposeAndAutorename(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	big := strings.Repeat("a", transport.MinComposePart)
	for i, want := range []string{"/d/big.bin", "/d/big (1).bin"} {
		token, err := b.OpenSession(ctx)
		require.NoError(t, err)
		require.NoError(t, b.Append(ctx, token, 0, []byte(big)))
		require.NoError(t, b.Append(ctx, token, int64(len(big)), []byte("tail")))

		obj, err := b.Close(ctx, token, int64(len(big)+4), "/d/big.bin", transport.CommitOptions{Autorename: true})
		require.NoError(t, err, "commit %d", i)
		assert.Equal(t, want, obj.Path)
	}
}
