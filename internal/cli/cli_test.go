package cli

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sir_venger/docupload/internal/app/resthttp"
	"github.com/sir_venger/docupload/internal/config"
	"github.com/sir_venger/docupload/internal/repo"
	"github.com/sir_venger/docupload/internal/transport/transporttest"
	"github.com/sir_venger/docupload/internal/usecase/uploadsvc"
)

func newServer(t *testing.T) (*httptest.Server, *transporttest.Adapter) {
	t.Helper()
	cfg := config.Default()
	adapter := transporttest.New()
	svc := uploadsvc.New(uploadsvc.Deps{
		Store:   repo.NewMemoryStore(),
		Adapter: adapter,
		Logger:  zerolog.Nop(),
		Limits:  uploadsvc.LimitsFromConfig(cfg.Upload),
	})
	srv := &resthttp.Server{Uploads: svc, Cfg: cfg, BackendName: "memory", Log: zerolog.Nop()}
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, adapter
}

func TestCommandsExist(t *testing.T) {
	names := map[string]bool{}
	for _, c := range GetRootCmd().Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["upload"], "upload command should exist")
	assert.True(t, names["health"], "health command should exist")
}

func TestUploadCommand(t *testing.T) {
	ts, adapter := newServer(t)

	dir := t.TempDir()
	big := filepath.Join(dir, "transcript.txt")
	small := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(big, []byte("0123456789"), 0o644))
	require.NoError(t, os.WriteFile(small, []byte("hi"), 0o644))

	out := &bytes.Buffer{}
	cmd := GetRootCmd()
	cmd.SetOut(out)
	cmd.SetArgs([]string{
		"upload",
		"--server", ts.URL,
		"--office", "berlin",
		"--logical-id", "A-17",
		"--display-name", "Jane Doe",
		"--submitted-at", "2024-03-05T09:30:00Z",
		"--chunk-size", "4",
		"--allow", "text/plain",
		big, small,
	})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "uploaded 2, failed 0, cancelled 0")
	got, ok := adapter.Object("/uploads/berlin/Jane Doe (A-17)/transcript.txt")
	require.True(t, ok)
	assert.Equal(t, "0123456789", string(got))
	_, ok = adapter.Object("/uploads/berlin/Jane Doe (A-17)/note.txt")
	assert.True(t, ok)

	out.Reset()
	cmd.SetArgs([]string{"health", "--server", ts.URL})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "ok (backend memory)")
}

func TestParseSubmittedAt(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))

	got, err := parseSubmittedAt("", now)
	require.NoError(t, err)
	assert.Equal(t, now.UTC(), got)

	got, err = parseSubmittedAt("2024-03-05T09:30:00+02:00", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 7, 30, 0, 0, time.UTC), got)

	_, err = parseSubmittedAt("yesterday", now)
	require.Error(t, err)
}
