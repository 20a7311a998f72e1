package transport

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Object stores without append keep each chunk as a staging object named by
// its zero padded offset under a per-session prefix, next to a marker object.
const (
	StagingDir    = ".staging"
	StagingMarker = "session"
	// MinComposePart is the smallest non-final part S3 compatible stores stitch server side.
	MinComposePart = 5 << 20
)

// StagedPart is one appended chunk held as a staging object.
type StagedPart struct {
	Key    string
	Offset int64
	Size   int64
}

// StagingName returns the object name of a chunk starting at offset.
func StagingName(offset int64) string {
	return fmt.Sprintf("%020d", offset)
}

// Staging collects the listing of one session prefix.
type Staging struct {
	Parts  []StagedPart
	Marker bool
}

// Add records a listed key; keys that are neither marker nor part are ignored.
func (s *Staging) Add(prefix, key string, size int64) {
	name := strings.TrimPrefix(key, prefix)
	if name == StagingMarker {
		s.Marker = true
		return
	}
	off, err := strconv.ParseInt(name, 10, 64)
	if err != nil {
		return
	}
	s.Parts = append(s.Parts, StagedPart{Key: key, Offset: off, Size: size})
}

// Sorted orders parts by offset and fails with ErrNotFound without a marker.
func (s *Staging) Sorted(token string) ([]StagedPart, error) {
	if !s.Marker {
		return nil, fmt.Errorf("session %s: %w", token, ErrNotFound)
	}
	sort.Slice(s.Parts, func(i, j int) bool { return s.Parts[i].Offset < s.Parts[j].Offset })
	return s.Parts, nil
}

// PlanAppend checks that offset continues the last part before it and returns
// the parts at or after offset that the new chunk supersedes.
func PlanAppend(parts []StagedPart, offset int64) (stale []StagedPart, err error) {
	var end int64
	for _, p := range parts {
		switch {
		case p.Offset < offset:
			end = p.Offset + p.Size
		case p.Offset > offset:
			stale = append(stale, p)
		}
	}
	if end != offset {
		return nil, fmt.Errorf("%w: offset %d, staged up to %d", ErrConflict, offset, end)
	}
	return stale, nil
}

// CheckComplete verifies that parts cover [0, size) without gaps.
func CheckComplete(parts []StagedPart, size int64) error {
	var next int64
	for _, p := range parts {
		if p.Offset != next {
			return fmt.Errorf("%w: gap at %d", ErrConflict, next)
		}
		next += p.Size
	}
	if next != size {
		return fmt.Errorf("%w: commit at %d, staged %d", ErrConflict, size, next)
	}
	return nil
}

// Composable reports whether parts can be stitched server side.
func Composable(parts []StagedPart) bool {
	if len(parts) < 2 {
		return false
	}
	for _, p := range parts[:len(parts)-1] {
		if p.Size < MinComposePart {
			return false
		}
	}
	return true
}
