package detectors

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/concordia/internal/interfaces"
	"github.com/ternarybob/concordia/internal/models"
)

// NewDetector builds the detector variant for a config's source type
func NewDetector(logger arbor.ILogger, config *models.DataSourceConfig, reingest interfaces.ReingestFunc) (interfaces.ChangeDetector, error) {
	switch config.Type {
	case models.SourceTypeFilesystem:
		return NewFilesystemDetector(logger, config, reingest)
	case models.SourceTypeS3:
		return NewS3Detector(logger, config, reingest)
	case models.SourceTypeGCS:
		return NewGCSDetector(logger, config, reingest)
	case models.SourceTypeAzureBlob:
		return NewAzureBlobDetector(logger, config, reingest)
	case models.SourceTypeAlfresco:
		return NewAlfrescoDetector(logger, config, reingest)
	case models.SourceTypeGoogleDrive:
		return NewGoogleDriveDetector(logger, config, reingest)
	case models.SourceTypeOneDrive:
		return NewOneDriveDetector(logger, config, reingest)
	case models.SourceTypeSharePoint:
		return NewSharePointDetector(logger, config, reingest)
	case models.SourceTypeBox:
		return NewBoxDetector(logger, config, reingest)
	default:
		return nil, fmt.Errorf("unsupported source type: %s", config.Type)
	}
}
