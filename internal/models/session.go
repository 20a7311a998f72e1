package models

import "time"

// SessionStatus is the lifecycle state of an upload session.
type SessionStatus string

const (
	StatusPending   SessionStatus = "pending"
	StatusUploading SessionStatus = "uploading"
	StatusCommitted SessionStatus = "committed"
	StatusAbandoned SessionStatus = "abandoned"
	StatusFailed    SessionStatus = "failed"
)

// UploadSession tracks one in-flight chunked transfer.
type UploadSession struct {
	Key         string `json:"key"`
	RemoteToken string `json:"remote_token"`

	FileMeta

	FileSize       int64 `json:"file_size"`
	ChunkSize      int64 `json:"chunk_size"`
	TotalChunks    int   `json:"total_chunks"`
	UploadedBytes  int64 `json:"uploaded_bytes"`
	UploadedChunks int   `json:"uploaded_chunks"`
	LastChunkSize  int64 `json:"last_chunk_size"`

	DestinationPath string        `json:"destination_path"`
	Status          SessionStatus `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Plan returns the chunk plan the session was created with.
func (s UploadSession) Plan() ChunkPlan {
	return NewChunkPlan(s.FileSize, s.ChunkSize)
}

// Complete reports whether every chunk has been appended.
func (s UploadSession) Complete() bool {
	return s.UploadedChunks == s.TotalChunks
}

// Expired reports whether the session outlived its TTL at now.
func (s UploadSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
