package uploadsvc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sir_venger/docupload/internal/config"
	"github.com/sir_venger/docupload/internal/models"
)

func TestDestinationPath_Sanitizes(t *testing.T) {
	meta := models.FileMeta{
		Office:      "../etc",
		LogicalID:   "7/8",
		DisplayName: "Evil\x00 Name",
		FileName:    "..",
	}
	assert.Equal(t, "/uploads/_etc/Evil Name (7_8)/_", DestinationPath("/uploads", meta))
}

func TestSecondaryPath(t *testing.T) {
	meta := testMeta()
	meta.SubmittedAt = time.Date(2023, 12, 31, 23, 30, 0, 0, time.FixedZone("x", -3*3600))

	got := SecondaryPath("/archive", meta, "/uploads/berlin/Jane Doe (A-17)/diploma (2).pdf")
	assert.Equal(t, "/archive/2024/01/Jane Doe (A-17)/diploma (2).pdf", got)
}

func TestReplicationRouter(t *testing.T) {
	r := NewReplicationRouter(
		config.ReplicationRule{Office: "Berlin", Root: "/a"},
		config.ReplicationRule{Office: "", Root: "/ignored"},
	)

	root, ok := r.Resolve(" berlin ")
	assert.True(t, ok)
	assert.Equal(t, "/a", root)

	r.Add(config.ReplicationRule{Office: "paris", Root: "/p"}, config.ReplicationRule{Office: "berlin", Root: "/b"})
	assert.Equal(t, []config.ReplicationRule{{Office: "berlin", Root: "/b"}, {Office: "paris", Root: "/p"}}, r.Rules())

	r.Set([]config.ReplicationRule{{Office: "rome", Root: "/r"}})
	_, ok = r.Resolve("berlin")
	assert.False(t, ok)
	assert.Len(t, r.Rules(), 1)
}
