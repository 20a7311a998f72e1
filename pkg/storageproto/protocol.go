// Package storageproto описывает протокол HTTP-взаимодействия с нодой хранения.
package storageproto

import "time"

// Параметры REST-протокола взаимодействия с нодой.
const (
	SessionsPath        = "/sessions"
	SessionPathFormat   = "%s/sessions/%s"
	CommitPathFormat    = "%s/sessions/%s/commit"
	CopyPath            = "/objects/copy"
	ObjectsPath         = "objects"
	HealthPath          = "/health"
	GCPath              = "/admin/gc"
	HeaderChecksum      = "X-Checksum-Sha256"
	HeaderOffset        = "X-Upload-Offset"
	HeaderSize          = "X-Size"
	HeaderModifiedAt    = "X-Modified-At"
	QueryGCTTL          = "ttl"
	ContentTypeJSON     = "application/json"
	ContentTypeOctetStr = "application/octet-stream"
)

// OpenResponse is returned by POST /sessions.
type OpenResponse struct {
	Token string `json:"token"`
}

// CommitRequest is the body of POST /sessions/{token}/commit.
type CommitRequest struct {
	Path       string    `json:"path"`
	Autorename bool      `json:"autorename"`
	ModifiedAt time.Time `json:"modified_at"`
}

// CopyRequest is the body of POST /objects/copy.
type CopyRequest struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

// ObjectInfo describes a committed object.
type ObjectInfo struct {
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	Revision   string    `json:"revision"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Health — payload ответа /health.
type Health struct {
	OK         bool  `json:"ok"`
	Sessions   int   `json:"sessions"`
	TotalBytes int64 `json:"total_bytes"`
}

// GCResult — payload ответа /admin/gc.
type GCResult struct {
	Removed int `json:"removed"`
}
