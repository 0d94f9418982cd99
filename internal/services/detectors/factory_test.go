package detectors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/concordia/internal/models"
)

func TestNewDetectorRejectsUnknownType(t *testing.T) {
	config := testSourceConfig()
	config.Type = "ftp"

	_, err := NewDetector(nil, config, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported source type")
}

func TestNewDetectorBuildsEachVariant(t *testing.T) {
	params := map[string]map[string]interface{}{
		models.SourceTypeFilesystem: {"path": t.TempDir()},
		models.SourceTypeS3:         {"bucket": "b", "region": "us-east-1"},
		models.SourceTypeGCS:        {"bucket": "b", "project_id": "p"},
		models.SourceTypeAzureBlob:  {"container": "c", "account_name": "acct"},
		models.SourceTypeAlfresco:   {"base_url": "http://a", "username": "u", "password": "p"},
		models.SourceTypeGoogleDrive: {
			"folder_id": "f",
		},
		models.SourceTypeOneDrive: {
			"tenant_id": "t", "client_id": "c", "client_secret": "s", "drive_id": "d",
		},
		models.SourceTypeSharePoint: {
			"tenant_id": "t", "client_id": "c", "client_secret": "s", "site_id": "site",
		},
		models.SourceTypeBox: {"access_token": "tok", "folder_id": "0"},
	}

	for sourceType, connectionParams := range params {
		config := testSourceConfig()
		config.Type = sourceType
		config.ConnectionParams = connectionParams

		d, err := NewDetector(nil, config, nil)
		require.NoError(t, err, sourceType)
		assert.Equal(t, sourceType, d.SourceType())
	}
}

func TestNewDetectorPropagatesMissingParams(t *testing.T) {
	config := testSourceConfig()
	config.Type = models.SourceTypeBox
	config.ConnectionParams = map[string]interface{}{"access_token": "tok"}

	_, err := NewDetector(nil, config, nil)
	assert.Error(t, err)
}
