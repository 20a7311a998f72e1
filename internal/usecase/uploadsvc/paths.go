package uploadsvc

import (
	"fmt"
	"path"
	"strings"
	"unicode"

	"github.com/sir_venger/docupload/internal/models"
)

// sanitizeSegment makes s safe to use as a single path element.
func sanitizeSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	s = strings.Trim(s, ".")
	if s == "" {
		return "_"
	}
	return s
}

func entryFolder(meta models.FileMeta) string {
	return sanitizeSegment(fmt.Sprintf("%s (%s)", meta.DisplayName, meta.LogicalID))
}

// DestinationPath returns {root}/{office}/{displayName} ({logicalId})/{fileName}.
func DestinationPath(root string, meta models.FileMeta) string {
	if root == "" {
		root = "/"
	}
	return path.Join(root, sanitizeSegment(meta.Office), entryFolder(meta), sanitizeSegment(meta.FileName))
}

// SecondaryPath returns {root}/{YYYY}/{MM}/{displayName} ({logicalId})/{committedName}
// with year and month taken from the submission time in UTC.
func SecondaryPath(root string, meta models.FileMeta, committedPath string) string {
	at := meta.SubmittedAt.UTC()
	return path.Join(
		root,
		fmt.Sprintf("%04d", at.Year()),
		fmt.Sprintf("%02d", int(at.Month())),
		entryFolder(meta),
		sanitizeSegment(path.Base(committedPath)),
	)
}

func validateMeta(meta models.FileMeta) error {
	switch {
	case strings.TrimSpace(meta.Office) == "":
		return models.Validationf("office is required")
	case strings.TrimSpace(meta.LogicalID) == "":
		return models.Validationf("logicalId is required")
	case strings.TrimSpace(meta.DisplayName) == "":
		return models.Validationf("displayName is required")
	case strings.TrimSpace(meta.FileName) == "":
		return models.Validationf("fileName is required")
	case meta.SubmittedAt.IsZero():
		return models.Validationf("submittedAt is required")
	}
	return nil
}
