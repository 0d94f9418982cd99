package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMakeDocID(t *testing.T) {
	assert.Equal(t, "ds_1:/data/a.txt", MakeDocID("ds_1", "/data/a.txt"))
	assert.Equal(t, "ds_1:bucket/key.pdf", MakeDocID("ds_1", "bucket/key.pdf"))
}

func TestSplitDocID(t *testing.T) {
	cfg, path := SplitDocID("ds_1:/data/a.txt")
	assert.Equal(t, "ds_1", cfg)
	assert.Equal(t, "/data/a.txt", path)

	cfg, path = SplitDocID("no-separator")
	assert.Empty(t, cfg)
	assert.Empty(t, path)
}

func TestIsStableDocID(t *testing.T) {
	assert.True(t, IsStableDocID("ds_1:/data/a.txt", "ds_1"))
	assert.False(t, IsStableDocID("node-abc-123", "ds_1"))
	assert.False(t, IsStableDocID("ds_10:/data/a.txt", "ds_1"))
}

func TestNormalizeLocalPathCaseFolding(t *testing.T) {
	// Case-insensitive platforms collapse case-only variants to one path
	assert.Equal(t,
		normalizeLocalPath(`/Data/Report.TXT`, true),
		normalizeLocalPath(`/data/report.txt`, true))

	// POSIX keeps them distinct
	assert.NotEqual(t,
		normalizeLocalPath(`/Data/Report.TXT`, false),
		normalizeLocalPath(`/data/report.txt`, false))
}

func TestNormalizeLocalPathCleans(t *testing.T) {
	assert.Equal(t, "/data/a.txt", normalizeLocalPath("/data//./a.txt", false))
}
