package integration

import (
	"context"
	"crypto/sha256"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sir_venger/docupload/internal/app/resthttp"
	"github.com/sir_venger/docupload/internal/app/storagehttp"
	"github.com/sir_venger/docupload/internal/config"
	"github.com/sir_venger/docupload/internal/metrics"
	"github.com/sir_venger/docupload/internal/repo"
	"github.com/sir_venger/docupload/internal/transport"
	"github.com/sir_venger/docupload/internal/usecase/uploadsvc"
	"github.com/sir_venger/docupload/pkg/storageclient"
	"github.com/sir_venger/docupload/pkg/uploadclient"
	"github.com/sir_venger/docupload/pkg/uploadproto"
)

const chunkSize = 64 << 10

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// stack is a storage node, the upload API on top of it and a protocol client.
type stack struct {
	node    *storageclient.Client
	api     *uploadclient.HTTPClient
	uploads *uploadsvc.Uploads
	repl    *uploadsvc.Replicator
	store   *repo.MemoryStore
	clock   *clock
}

func newStack(t *testing.T, rules ...config.ReplicationRule) *stack {
	t.Helper()

	nodeHandler, err := storagehttp.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	nodeSrv := httptest.NewServer(nodeHandler)
	t.Cleanup(nodeSrv.Close)
	node := storageclient.New(nodeSrv.URL, nodeSrv.Client())

	cfg := config.Default()
	cfg.Upload.ChunkSize = chunkSize
	cfg.Upload.SessionTTL = config.Duration(time.Hour)

	adapter := transport.WithRetry(node, transport.RetryPolicy{
		CallTimeout:     5 * time.Second,
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     10 * time.Millisecond,
	}, zerolog.Nop())

	m := metrics.New()
	router := uploadsvc.NewReplicationRouter(rules...)
	repl := uploadsvc.NewReplicator(adapter, router, 5*time.Second, m, zerolog.Nop())
	store := repo.NewMemoryStore()
	clk := &clock{now: time.Now().UTC()}
	uploads := uploadsvc.New(uploadsvc.Deps{
		Store:      store,
		Adapter:    adapter,
		Replicator: repl,
		Metrics:    m,
		Logger:     zerolog.Nop(),
		Limits:     uploadsvc.LimitsFromConfig(cfg.Upload),
		Clock:      clk.Now,
	})

	srv := &resthttp.Server{
		Uploads:     uploads,
		Replication: router,
		Backend:     node,
		BackendName: config.BackendNode,
		Metrics:     m,
		Cfg:         cfg,
		Log:         zerolog.Nop(),
	}
	rest := httptest.NewServer(srv.Routes())
	t.Cleanup(rest.Close)

	return &stack{
		node:    node,
		api:     uploadclient.NewHTTPClient(rest.URL, rest.Client()),
		uploads: uploads,
		repl:    repl,
		store:   store,
		clock:   clk,
	}
}

func (s *stack) orchestrator(t *testing.T, mutate func(*uploadclient.Options)) *uploadclient.Orchestrator {
	t.Helper()
	opts := uploadclient.DefaultOptions()
	opts.ChunkSize = chunkSize
	opts.Retry = uploadclient.RetryOptions{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	if mutate != nil {
		mutate(&opts)
	}
	o, err := uploadclient.New(s.api, opts, zerolog.Nop())
	require.NoError(t, err)
	return o
}

func (s *stack) fetchSum(t *testing.T, path string) [32]byte {
	t.Helper()
	body, err := s.node.Fetch(context.Background(), path)
	require.NoError(t, err)
	defer body.Close()

	h := sha256.New()
	_, err = io.Copy(h, body)
	require.NoError(t, err)

	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

func meta(name string) uploadproto.Metadata {
	return uploadproto.Metadata{
		Office:      "Berlin",
		LogicalID:   "A-17",
		DisplayName: "Jane Doe",
		SubmittedAt: time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC),
		FileName:    name,
	}
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}
