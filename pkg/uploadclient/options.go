package uploadclient

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sir_venger/docupload/internal/config"
	"github.com/sir_venger/docupload/pkg/uploadproto"
)

// requestOverhead is the room left in a request for the JSON envelope around a chunk.
const requestOverhead = 4 << 10

// Status is the client-side state of one file.
type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Progress is reported after every acknowledged chunk.
type Progress struct {
	File           string
	UploadedChunks int
	TotalChunks    int
	Percent        int
	Status         Status
}

type RetryOptions struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type Options struct {
	ChunkSize   int64
	MaxFileSize int64
	// AllowedContentTypes is checked against the detected type, empty allows all.
	AllowedContentTypes []string
	MaxRequestBytes     int64
	Concurrency         int
	Retry               RetryOptions
	// MaxDirectSize caps files sent in one direct call; the server refuses
	// direct bodies above its max chunk size. Zero means ChunkSize.
	MaxDirectSize int64
	// DiscardOnCancel sends finish(commit=false) when a file is cancelled.
	// It is on by default, so a cancelled file frees its server session at
	// once; with it off nothing is sent on cancel and the session waits for
	// the reaper.
	DiscardOnCancel bool
	OnProgress      func(Progress)
}

// DefaultOptions mirrors the server defaults.
func DefaultOptions() Options {
	return Options{
		ChunkSize:       4 << 20,
		MaxFileSize:     512 << 20,
		MaxDirectSize:   8 << 20,
		MaxRequestBytes: 12 << 20,
		Concurrency:     3,
		Retry: RetryOptions{
			MaxAttempts:     4,
			InitialInterval: 250 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		},
		DiscardOnCancel: true,
	}
}

// OptionsFromConfig собирает настройки клиента из секций upload и client.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	opts.ChunkSize = cfg.Upload.ChunkSize
	opts.MaxFileSize = cfg.Upload.MaxFileSize
	opts.MaxDirectSize = cfg.Upload.MaxChunkSize
	opts.MaxRequestBytes = cfg.Upload.MaxRequestBytes
	opts.AllowedContentTypes = cfg.Client.AllowedContentTypes
	if cfg.Client.Concurrency > 0 {
		opts.Concurrency = cfg.Client.Concurrency
	}
	if cfg.Client.DiscardOnCancel != nil {
		opts.DiscardOnCancel = *cfg.Client.DiscardOnCancel
	}
	return opts
}

// directLimit is the largest file sent without a session.
func (o Options) directLimit() int64 {
	if o.MaxDirectSize <= 0 {
		return o.ChunkSize
	}
	return min(o.ChunkSize, o.MaxDirectSize)
}

// Validate checks that a chunk fits into one request once base64 encoded.
func (o Options) Validate() error {
	if o.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be > 0")
	}
	if o.MaxFileSize <= 0 {
		return fmt.Errorf("max file size must be > 0")
	}
	if o.MaxRequestBytes > 0 {
		if need := uploadproto.EncodedSize(o.ChunkSize) + requestOverhead; need > o.MaxRequestBytes {
			return fmt.Errorf("chunk size %d needs %d request bytes, limit is %d", o.ChunkSize, need, o.MaxRequestBytes)
		}
	}
	return nil
}

// Canceler is a cancellation flag checked between chunks.
type Canceler struct {
	cancelled atomic.Bool
}

func (c *Canceler) Cancel() {
	if c != nil {
		c.cancelled.Store(true)
	}
}

func (c *Canceler) Cancelled() bool {
	return c != nil && c.cancelled.Load()
}
