package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9000"
upload:
  chunk_size: 1048576
  session_ttl: 30m
sessions:
  driver: postgres
  dsn: postgres://u:p@localhost/db
backend:
  driver: s3
  s3:
    bucket: docs
replication:
  timeout: 15s
  rules:
    - office: berlin
      root: /archive
`), 0o644))

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("LISTEN_ADDR", ":9100")
	t.Setenv("ALLOWED_CONTENT_TYPES", "application/pdf, image/png")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.ListenAddr)
	assert.Equal(t, int64(1<<20), cfg.Upload.ChunkSize)
	assert.Equal(t, 30*time.Minute, cfg.Upload.SessionTTL.Std())
	assert.Equal(t, SessionsPostgres, cfg.Sessions.Driver)
	assert.Equal(t, "docs", cfg.Backend.S3.Bucket)
	assert.Equal(t, 15*time.Second, cfg.Replication.Timeout.Std())
	require.Len(t, cfg.Replication.Rules, 1)
	assert.Equal(t, "berlin", cfg.Replication.Rules[0].Office)
	assert.Equal(t, []string{"application/pdf", "image/png"}, cfg.Client.AllowedContentTypes)

	// defaults survive partial files
	assert.Equal(t, int64(8<<20), cfg.Upload.MaxChunkSize)
}

func TestLoad_MissingDefaultFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default().ListenAddr, cfg.ListenAddr)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown sessions driver", func(c *Config) { c.Sessions.Driver = "etcd" }},
		{"postgres without dsn", func(c *Config) { c.Sessions.Driver = SessionsPostgres }},
		{"redis without addr", func(c *Config) { c.Sessions.Driver = SessionsRedis }},
		{"unknown backend", func(c *Config) { c.Backend.Driver = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.Backend.Driver = BackendS3 }},
		{"minio without endpoint", func(c *Config) { c.Backend.Driver = BackendMinio }},
		{"zero chunk", func(c *Config) { c.Upload.ChunkSize = 0 }},
		{"max chunk below chunk", func(c *Config) { c.Upload.MaxChunkSize = c.Upload.ChunkSize - 1 }},
		{"request ceiling too small", func(c *Config) { c.Upload.MaxRequestBytes = c.Upload.MaxChunkSize }},
		{"rule without root", func(c *Config) {
			c.Replication.Rules = []ReplicationRule{{Office: "x"}}
		}},
	}

	require.NoError(t, Default().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
