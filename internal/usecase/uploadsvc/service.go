// Package uploadsvc implements the server side of the chunked upload protocol:
// session lifecycle, chunk bookkeeping and the post-commit replication hook.
package uploadsvc

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sir_venger/docupload/internal/config"
	"github.com/sir_venger/docupload/internal/metrics"
	"github.com/sir_venger/docupload/internal/models"
	"github.com/sir_venger/docupload/internal/repo"
	"github.com/sir_venger/docupload/internal/transport"
)

type (
	// Service объединяет операции протокола загрузки.
	Service interface {
		Start(ctx context.Context, in StartInput) (StartResult, error)
		Append(ctx context.Context, in AppendInput) (AppendResult, error)
		Finish(ctx context.Context, in FinishInput) (FinishResult, error)
		Direct(ctx context.Context, in DirectInput) (FinishResult, error)
		Reap(ctx context.Context, now time.Time) (int, error)
	}

	StartInput struct {
		models.FileMeta
		FileSize int64
		// ChunkSize is optional, zero selects the configured default.
		ChunkSize int64
	}

	StartResult struct {
		SessionKey         string `json:"sessionKey"`
		RemoteSessionToken string `json:"remoteSessionToken"`
		TotalChunks        int    `json:"totalChunks"`
		ChunkSize          int64  `json:"chunkSize"`
	}

	AppendInput struct {
		SessionKey string
		ChunkIndex int
		Data       []byte
	}

	AppendResult struct {
		UploadedChunks int   `json:"uploadedChunks"`
		TotalChunks    int   `json:"totalChunks"`
		UploadedBytes  int64 `json:"uploadedBytes"`
	}

	FinishInput struct {
		SessionKey string
		Commit     bool
	}

	FinishResult struct {
		Committed bool   `json:"committed"`
		Path      string `json:"path,omitempty"`
		Size      int64  `json:"size,omitempty"`
	}

	DirectInput struct {
		models.FileMeta
		Data []byte
	}
)

// Limits are the protocol bounds enforced by the service.
type Limits struct {
	ChunkSize       int64
	MaxChunkSize    int64
	MaxFileSize     int64
	DestinationRoot string
	SessionTTL      time.Duration
}

// LimitsFromConfig переносит лимиты из секции upload конфигурации.
func LimitsFromConfig(u config.Upload) Limits {
	return Limits{
		ChunkSize:       u.ChunkSize,
		MaxChunkSize:    u.MaxChunkSize,
		MaxFileSize:     u.MaxFileSize,
		DestinationRoot: u.DestinationRoot,
		SessionTTL:      u.SessionTTL.Std(),
	}
}

type Deps struct {
	Store      repo.Store
	Adapter    transport.Adapter
	Replicator *Replicator
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger
	Limits     Limits
	Clock      func() time.Time
}

type Uploads struct {
	Deps
}

// New конструирует сервис загрузки с заданными зависимостями.
func New(deps Deps) *Uploads {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Limits.ChunkSize <= 0 {
		deps.Limits.ChunkSize = 4 << 20
	}
	if deps.Limits.MaxChunkSize < deps.Limits.ChunkSize {
		deps.Limits.MaxChunkSize = deps.Limits.ChunkSize
	}
	if deps.Limits.SessionTTL <= 0 {
		deps.Limits.SessionTTL = 2 * time.Hour
	}
	return &Uploads{Deps: deps}
}

var _ Service = (*Uploads)(nil)

func (s *Uploads) now() time.Time {
	return s.Clock().UTC()
}

func (s *Uploads) commitOptions() transport.CommitOptions {
	return transport.CommitOptions{Autorename: true, ModifiedAt: s.now()}
}

// replicate hands a committed object to the post-commit hook, if one is wired.
func (s *Uploads) replicate(meta models.FileMeta, obj transport.ObjectHandle) {
	if s.Replicator == nil {
		return
	}
	s.Replicator.Submit(meta, obj)
}
