// Package uploadproto describes the JSON wire format of the upload endpoint.
package uploadproto

import "time"

const (
	UploadPath = "/upload"
	DirectPath = "/upload/direct"
	HealthPath = "/health"

	ActionStart  = "start"
	ActionAppend = "append"
	ActionFinish = "finish"
)

// Metadata identifies the document a file belongs to.
type Metadata struct {
	Office      string    `json:"office,omitempty"`
	LogicalID   string    `json:"logicalId,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
	SubmittedAt time.Time `json:"submittedAt,omitzero"`
	FileName    string    `json:"fileName,omitempty"`
}

// Request is the action-discriminated body of POST /upload.
// ChunkData travels as base64.
type Request struct {
	Action string `json:"action"`

	Metadata
	FileSize  int64 `json:"fileSize,omitempty"`
	ChunkSize int64 `json:"chunkSize,omitempty"`

	SessionKey string `json:"sessionKey,omitempty"`
	ChunkIndex int    `json:"chunkIndex"`
	ChunkData  []byte `json:"chunkData,omitempty"`

	Commit bool `json:"commit"`
}

type StartResponse struct {
	SessionKey         string `json:"sessionKey"`
	RemoteSessionToken string `json:"remoteSessionToken"`
	TotalChunks        int    `json:"totalChunks"`
	ChunkSize          int64  `json:"chunkSize"`
}

type AppendResponse struct {
	UploadedChunks int   `json:"uploadedChunks"`
	TotalChunks    int   `json:"totalChunks"`
	UploadedBytes  int64 `json:"uploadedBytes"`
}

type FinishResponse struct {
	Committed bool   `json:"committed"`
	Path      string `json:"path,omitempty"`
	Size      int64  `json:"size,omitempty"`
}

// DirectRequest uploads a small file in one call.
type DirectRequest struct {
	Metadata
	Data []byte `json:"data"`
}

// ReplicationRequest replaces or extends the replication rules.
type ReplicationRequest struct {
	Rules   []ReplicationRule `json:"rules"`
	Replace bool              `json:"replace"`
}

type ReplicationRule struct {
	Office string `json:"office"`
	Root   string `json:"root"`
}

type Health struct {
	OK      bool   `json:"ok"`
	Backend string `json:"backend"`
	Error   string `json:"error,omitempty"`
}

// EncodedSize returns the JSON body size needed to carry n raw bytes as base64.
func EncodedSize(n int64) int64 {
	return (n + 2) / 3 * 4
}
