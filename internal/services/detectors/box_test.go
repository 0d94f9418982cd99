package detectors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/concordia/internal/models"
)

func TestMapBoxEvent(t *testing.T) {
	creates := []string{"ITEM_UPLOAD", "ITEM_CREATE", "ITEM_COPY", "ITEM_UNDELETE_VIA_TRASH"}
	for _, eventType := range creates {
		changeType, ok := mapBoxEvent(eventType)
		assert.True(t, ok, eventType)
		assert.Equal(t, models.ChangeCreate, changeType, eventType)
	}

	updates := []string{"ITEM_MODIFY", "ITEM_RENAME", "ITEM_MOVE"}
	for _, eventType := range updates {
		changeType, ok := mapBoxEvent(eventType)
		assert.True(t, ok, eventType)
		assert.Equal(t, models.ChangeUpdate, changeType, eventType)
	}

	deletes := []string{"ITEM_TRASH", "ITEM_DELETE"}
	for _, eventType := range deletes {
		changeType, ok := mapBoxEvent(eventType)
		assert.True(t, ok, eventType)
		assert.Equal(t, models.ChangeDelete, changeType, eventType)
	}

	_, ok := mapBoxEvent("COLLABORATION_INVITE")
	assert.False(t, ok)
}

func TestBoxSubtreeFilter(t *testing.T) {
	config := testSourceConfig()
	config.Type = models.SourceTypeBox
	config.ConnectionParams = map[string]interface{}{
		"access_token": "tok",
		"folder_id":    "100",
	}

	d, err := NewBoxDetector(nil, config, nil)
	assert.NoError(t, err)

	d.folders = map[string]struct{}{"100": {}, "200": {}}

	inside := &boxItem{ID: "f1", Type: "file"}
	inside.PathCollection.Entries = []struct {
		ID string `json:"id"`
	}{{ID: "0"}, {ID: "200"}}
	assert.True(t, d.inSubtree(inside))

	outside := &boxItem{ID: "f2", Type: "file"}
	outside.PathCollection.Entries = []struct {
		ID string `json:"id"`
	}{{ID: "0"}, {ID: "999"}}
	assert.False(t, d.inSubtree(outside))
}
