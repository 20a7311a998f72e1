package models

import "time"

// ChunkPlan описывает, на сколько частей нужно разбить файл и какого они размера.
type ChunkPlan struct {
	FileSize  int64
	ChunkSize int64
	Total     int
}

// NewChunkPlan splits size bytes into consecutive chunkSize slices, the last one truncated.
func NewChunkPlan(size, chunkSize int64) ChunkPlan {
	if chunkSize <= 0 {
		chunkSize = 1
	}
	if size <= 0 {
		return ChunkPlan{FileSize: 0, ChunkSize: chunkSize, Total: 0}
	}

	return ChunkPlan{
		FileSize:  size,
		ChunkSize: chunkSize,
		Total:     int((size + chunkSize - 1) / chunkSize),
	}
}

// Bounds returns the byte offset and length of chunk idx.
func (p ChunkPlan) Bounds(idx int) (offset, length int64) {
	if idx < 0 || idx >= p.Total {
		return 0, 0
	}
	offset = int64(idx) * p.ChunkSize
	length = min(p.ChunkSize, p.FileSize-offset)
	return offset, length
}

// Size returns the length of chunk idx, 0 when out of range.
func (p ChunkPlan) Size(idx int) int64 {
	_, n := p.Bounds(idx)
	return n
}

// FileMeta is the caller-supplied metadata that identifies the document being uploaded.
type FileMeta struct {
	Office      string    `json:"office"`
	LogicalID   string    `json:"logical_id"`
	DisplayName string    `json:"display_name"`
	SubmittedAt time.Time `json:"submitted_at"`
	FileName    string    `json:"file_name"`
}

// CommittedObject is returned after a successful commit.
type CommittedObject struct {
	Path       string
	Size       int64
	Revision   string
	ModifiedAt time.Time
}
