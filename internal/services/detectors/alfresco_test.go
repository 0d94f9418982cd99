package detectors

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/concordia/internal/models"
)

const rawAlfrescoEvent = `{
	"type": "org.alfresco.event.node.Updated",
	"time": "2026-08-20T10:15:00Z",
	"data": {
		"resource": {
			"id": "node-123",
			"name": "report.pdf",
			"nodeType": "cm:content",
			"isFile": true,
			"modifiedAt": "2026-08-20T10:14:59Z",
			"primaryHierarchy": ["folder-a", "folder-b", "root-node"],
			"content": {"mimeType": "application/pdf", "sizeInBytes": 4096}
		}
	}
}`

func newTestAlfrescoDetector(t *testing.T, rootNodeID string) *AlfrescoDetector {
	t.Helper()

	config := testSourceConfig()
	config.Type = models.SourceTypeAlfresco
	config.ConnectionParams = map[string]interface{}{
		"base_url": "http://alfresco.local/alfresco",
		"username": "admin",
		"password": "admin",
	}
	if rootNodeID != "" {
		config.ConnectionParams["root_node_id"] = rootNodeID
	}

	d, err := NewAlfrescoDetector(nil, config, nil)
	require.NoError(t, err)
	return d
}

func TestAlfrescoEventDecoding(t *testing.T) {
	var event alfrescoEvent
	require.NoError(t, json.Unmarshal([]byte(rawAlfrescoEvent), &event))

	assert.Equal(t, eventNodeUpdated, event.Type)
	assert.Equal(t, "node-123", event.Data.Resource.ID)
	assert.True(t, event.Data.Resource.IsFile)
	assert.Equal(t, []string{"folder-a", "folder-b", "root-node"}, event.Data.Resource.PrimaryHierarchy)
	assert.Equal(t, int64(4096), event.Data.Resource.Content.SizeInBytes)
}

func TestAlfrescoUnderRoot(t *testing.T) {
	scoped := newTestAlfrescoDetector(t, "folder-b")
	assert.True(t, scoped.underRoot([]string{"folder-a", "folder-b", "root-node"}))
	assert.False(t, scoped.underRoot([]string{"folder-x", "root-node"}))
	assert.False(t, scoped.underRoot(nil))

	unscoped := newTestAlfrescoDetector(t, "")
	assert.True(t, unscoped.underRoot(nil))
	assert.True(t, unscoped.underRoot([]string{"anything"}))
}

func TestAlfrescoNodeMetadataUsesNodeID(t *testing.T) {
	d := newTestAlfrescoDetector(t, "")

	var event alfrescoEvent
	require.NoError(t, json.Unmarshal([]byte(rawAlfrescoEvent), &event))

	meta := d.nodeMetadata(event.Data.Resource.alfrescoNode)
	assert.Equal(t, "alfresco://node-123", meta.Path)
	assert.Equal(t, "node-123", meta.SourceID())
	assert.Equal(t, "application/pdf", meta.MimeType)
	require.NotNil(t, meta.ModifiedTimestamp)
	assert.Equal(t, models.OrdinalFromTime(*meta.ModifiedTimestamp), meta.Ordinal)
}

func TestAlfrescoChangeStreamRequiresBroker(t *testing.T) {
	d := newTestAlfrescoDetector(t, "")
	assert.False(t, d.HasChangeStream())

	config := testSourceConfig()
	config.Type = models.SourceTypeAlfresco
	config.ConnectionParams = map[string]interface{}{
		"base_url":   "http://alfresco.local/alfresco",
		"username":   "admin",
		"password":   "admin",
		"stomp_host": "alfresco.local",
	}
	withBroker, err := NewAlfrescoDetector(nil, config, nil)
	require.NoError(t, err)
	assert.True(t, withBroker.HasChangeStream())
	assert.Equal(t, defaultStompPort, withBroker.stompPort)
}
