package detectors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNewlyCreated(t *testing.T) {
	assert.True(t, isNewlyCreated("2026-08-20T10:00:00Z", "2026-08-20T10:00:00Z"))
	assert.True(t, isNewlyCreated("2026-08-20T10:00:00Z", "2026-08-20T10:00:04Z"))
	assert.False(t, isNewlyCreated("2026-08-20T10:00:00Z", "2026-08-20T10:00:06Z"))
	assert.False(t, isNewlyCreated("2026-08-20T10:00:00Z", "2026-08-21T09:00:00Z"))

	// Unparseable timestamps fall back to update handling
	assert.False(t, isNewlyCreated("", "2026-08-20T10:00:00Z"))
	assert.False(t, isNewlyCreated("2026-08-20T10:00:00Z", "yesterday"))
}

func TestGoogleDriveSubtreeFilter(t *testing.T) {
	config := testSourceConfig()
	config.Type = "google_drive"
	config.ConnectionParams = map[string]interface{}{"folder_id": "root-folder"}

	d, err := NewGoogleDriveDetector(nil, config, nil)
	assert.NoError(t, err)

	d.folders = map[string]struct{}{"root-folder": {}, "sub-folder": {}}

	assert.True(t, d.inSubtree([]string{"sub-folder"}))
	assert.True(t, d.inSubtree([]string{"elsewhere", "root-folder"}))
	assert.False(t, d.inSubtree([]string{"elsewhere"}))
	assert.False(t, d.inSubtree(nil))
}
