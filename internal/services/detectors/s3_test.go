package detectors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/concordia/internal/models"
)

const rawS3Notification = `{
	"Records": [{
		"eventName": "ObjectCreated:Put",
		"eventTime": "2026-08-20T10:15:00.000Z",
		"s3": {
			"bucket": {"name": "docs-bucket"},
			"object": {"key": "reports/q2+summary.txt", "size": 2048}
		}
	}]
}`

func TestParseS3NotificationDecodesKeys(t *testing.T) {
	records, err := parseS3Notification([]byte(rawS3Notification))
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, "ObjectCreated:Put", records[0].EventName)
	assert.Equal(t, "reports/q2 summary.txt", records[0].Key)
	assert.Equal(t, int64(2048), records[0].Size)
	assert.Equal(t, 2026, records[0].EventTime.Year())
}

func TestParseS3NotificationUnwrapsSNSEnvelope(t *testing.T) {
	envelope := `{"Type": "Notification", "Message": "{\"Records\": [{\"eventName\": \"ObjectRemoved:Delete\", \"s3\": {\"bucket\": {\"name\": \"docs-bucket\"}, \"object\": {\"key\": \"old.txt\"}}}]}"}`

	records, err := parseS3Notification([]byte(envelope))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ObjectRemoved:Delete", records[0].EventName)
	assert.Equal(t, "old.txt", records[0].Key)
}

func TestParseS3NotificationRejectsGarbage(t *testing.T) {
	_, err := parseS3Notification([]byte("not json"))
	assert.Error(t, err)
}

func TestNewS3DetectorRequiresBucketAndRegion(t *testing.T) {
	config := testSourceConfig()
	config.Type = models.SourceTypeS3
	config.ConnectionParams = map[string]interface{}{"bucket": "docs-bucket"}

	_, err := NewS3Detector(nil, config, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "region")
}

func TestS3DetectorChangeStreamRequiresQueue(t *testing.T) {
	config := testSourceConfig()
	config.Type = models.SourceTypeS3
	config.ConnectionParams = map[string]interface{}{
		"bucket": "docs-bucket",
		"region": "us-east-1",
	}

	d, err := NewS3Detector(nil, config, nil)
	require.NoError(t, err)
	assert.False(t, d.HasChangeStream())

	config.ConnectionParams["sqs_queue_url"] = "https://sqs.us-east-1.amazonaws.com/1/q"
	d, err = NewS3Detector(nil, config, nil)
	require.NoError(t, err)
	assert.True(t, d.HasChangeStream())
}
