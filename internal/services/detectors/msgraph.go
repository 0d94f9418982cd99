package detectors

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/concordia/internal/common"
	"github.com/ternarybob/concordia/internal/interfaces"
	"github.com/ternarybob/concordia/internal/models"
)

const (
	graphDebounceWindow = 30 * time.Second
	graphPollInterval   = 30 * time.Second
)

// GraphDriveDetector serves both OneDrive and SharePoint through the
// Microsoft Graph drive API. Both are delta-token sources: the initial
// delta walk doubles as the full listing, later delta polls are the
// change feed. Connection params: tenant_id, client_id, client_secret
// (required); drive_id (required for onedrive), site_id (required for
// sharepoint when drive_id is absent). Change polling is off unless the
// config enables its change stream.
type GraphDriveDetector struct {
	*base
	sourceType string
	scheme     string
	siteID     string

	client  *graphClient
	driveID string

	deltaMu   sync.Mutex
	deltaLink string

	cancelStream context.CancelFunc
	wg           sync.WaitGroup
}

// NewOneDriveDetector creates a OneDrive detector for one config
func NewOneDriveDetector(logger arbor.ILogger, config *models.DataSourceConfig, reingest interfaces.ReingestFunc) (*GraphDriveDetector, error) {
	if err := config.RequireParams("tenant_id", "client_id", "client_secret", "drive_id"); err != nil {
		return nil, err
	}
	return &GraphDriveDetector{
		base:       newBase(logger, config, reingest, graphDebounceWindow),
		sourceType: models.SourceTypeOneDrive,
		scheme:     common.SchemeOneDrive,
		driveID:    config.StringParam("drive_id"),
	}, nil
}

// NewSharePointDetector creates a SharePoint detector for one config. The
// site's default document library is resolved at Start when no drive_id
// is given.
func NewSharePointDetector(logger arbor.ILogger, config *models.DataSourceConfig, reingest interfaces.ReingestFunc) (*GraphDriveDetector, error) {
	if err := config.RequireParams("tenant_id", "client_id", "client_secret"); err != nil {
		return nil, err
	}
	if config.StringParam("drive_id") == "" && config.StringParam("site_id") == "" {
		return nil, fmt.Errorf("sharepoint config requires drive_id or site_id")
	}
	return &GraphDriveDetector{
		base:       newBase(logger, config, reingest, graphDebounceWindow),
		sourceType: models.SourceTypeSharePoint,
		scheme:     common.SchemeSharePoint,
		siteID:     config.StringParam("site_id"),
		driveID:    config.StringParam("drive_id"),
	}, nil
}

// SourceType returns the source type this detector serves
func (d *GraphDriveDetector) SourceType() string {
	return d.sourceType
}

// HasChangeStream reports whether delta polling is enabled for this config
func (d *GraphDriveDetector) HasChangeStream() bool {
	return d.config.EnableChangeStream
}

// Start authenticates, resolves the drive, seeds known ids from the
// initial delta walk, and begins delta polling when enabled
func (d *GraphDriveDetector) Start(ctx context.Context) error {
	d.client = newGraphClient(ctx, d.logger,
		d.config.StringParam("tenant_id"),
		d.config.StringParam("client_id"),
		d.config.StringParam("client_secret"))

	if d.driveID == "" {
		driveID, err := d.resolveSiteDrive(ctx)
		if err != nil {
			return err
		}
		d.driveID = driveID
	}

	if err := d.client.getJSON(ctx, fmt.Sprintf("/drives/%s", url.PathEscape(d.driveID)), &struct{}{}); err != nil {
		return fmt.Errorf("drive %s is not accessible: %w", d.driveID, err)
	}

	listing, err := d.ListAllFiles(ctx)
	if err != nil {
		return err
	}
	d.seedKnown(listing)
	d.markStarted()

	if d.HasChangeStream() {
		streamCtx, cancel := context.WithCancel(context.Background())
		d.cancelStream = cancel
		d.wg.Add(1)
		common.SafeGoWithContext(streamCtx, d.logger, "graphDeltaLoop", d.deltaLoop)
	}

	d.logger.Info().
		Str("config_id", d.config.ID).
		Str("source_type", d.sourceType).
		Str("drive_id", d.driveID).
		Bool("change_stream", d.HasChangeStream()).
		Int("known", d.knownCount()).
		Msg("Graph drive detector started")

	return nil
}

// Stop cancels the delta loop
func (d *GraphDriveDetector) Stop() error {
	if d.cancelStream != nil {
		d.cancelStream()
	}
	d.wg.Wait()
	d.closeSignals()
	return nil
}

type graphDriveItem struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	Size                 int64      `json:"size"`
	CreatedDateTime      *time.Time `json:"createdDateTime"`
	LastModifiedDateTime *time.Time `json:"lastModifiedDateTime"`
	File                 *struct {
		MimeType string `json:"mimeType"`
	} `json:"file"`
	Folder  *struct{} `json:"folder"`
	Deleted *struct {
		State string `json:"state"`
	} `json:"deleted"`
}

type graphDeltaPage struct {
	Value     []graphDriveItem `json:"value"`
	NextLink  string           `json:"@odata.nextLink"`
	DeltaLink string           `json:"@odata.deltaLink"`
}

// ListAllFiles walks the drive's full delta feed from scratch, capturing
// the resulting delta link as the change cursor
func (d *GraphDriveDetector) ListAllFiles(ctx context.Context) ([]models.FileMetadata, error) {
	var metas []models.FileMetadata

	link := fmt.Sprintf("/drives/%s/root/delta", url.PathEscape(d.driveID))
	for link != "" {
		var page graphDeltaPage
		if err := d.client.getJSON(ctx, link, &page); err != nil {
			return nil, fmt.Errorf("failed to walk drive delta: %w", err)
		}
		for i := range page.Value {
			item := &page.Value[i]
			if item.File == nil || item.Deleted != nil {
				continue
			}
			metas = append(metas, d.itemMetadata(item))
		}
		if page.DeltaLink != "" {
			d.deltaMu.Lock()
			d.deltaLink = page.DeltaLink
			d.deltaMu.Unlock()
		}
		link = page.NextLink
	}

	return metas, nil
}

// LoadFile downloads one drive item's content
func (d *GraphDriveDetector) LoadFile(ctx context.Context, meta models.FileMetadata) ([]byte, error) {
	itemID := meta.SourceID()
	body, err := d.client.get(ctx, fmt.Sprintf("/drives/%s/items/%s/content", url.PathEscape(d.driveID), url.PathEscape(itemID)))
	if err != nil {
		return nil, fmt.Errorf("failed to download item %s: %w", itemID, err)
	}
	return body, nil
}

func (d *GraphDriveDetector) resolveSiteDrive(ctx context.Context) (string, error) {
	var drive struct {
		ID string `json:"id"`
	}
	if err := d.client.getJSON(ctx, fmt.Sprintf("/sites/%s/drive", url.PathEscape(d.siteID)), &drive); err != nil {
		return "", fmt.Errorf("failed to resolve default drive for site %s: %w", d.siteID, err)
	}
	return drive.ID, nil
}

// itemMetadata keys a drive item on its Graph id, which survives renames
// and moves
func (d *GraphDriveDetector) itemMetadata(item *graphDriveItem) models.FileMetadata {
	meta := models.FileMetadata{
		SourceType: d.sourceType,
		Path:       d.scheme + item.ID,
		SizeBytes:  item.Size,
	}
	meta.SetSourceID(item.ID)
	if item.File != nil {
		meta.MimeType = item.File.MimeType
	}
	if item.LastModifiedDateTime != nil {
		meta.ModifiedTimestamp = item.LastModifiedDateTime
		meta.Ordinal = models.OrdinalFromTime(*item.LastModifiedDateTime)
	} else {
		meta.Ordinal = models.OrdinalNow()
	}
	return meta
}

func (d *GraphDriveDetector) deltaLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(graphPollInterval)
	defer ticker.Stop()

	retry := newStreamBackoff()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case <-ticker.C:
			if err := d.drainDelta(ctx); err != nil {
				d.logger.Warn().
					Err(err).
					Str("config_id", d.config.ID).
					Msg("Drive delta poll failed")
				if !retry.failure(ctx) {
					return
				}
				continue
			}
			retry.success()
		}
	}
}

// drainDelta polls the delta feed from the saved cursor, advancing it
// only after each page is handled
func (d *GraphDriveDetector) drainDelta(ctx context.Context) error {
	d.deltaMu.Lock()
	link := d.deltaLink
	d.deltaMu.Unlock()
	if link == "" {
		return nil
	}

	sawChange := false
	for link != "" {
		var page graphDeltaPage
		if err := d.client.getJSON(ctx, link, &page); err != nil {
			return err
		}

		for i := range page.Value {
			item := &page.Value[i]
			if item.Folder != nil && item.Deleted == nil {
				continue
			}
			sawChange = true
			if item.Deleted != nil {
				meta := models.FileMetadata{
					SourceType: d.sourceType,
					Path:       d.scheme + item.ID,
					Ordinal:    models.OrdinalNow(),
				}
				meta.SetSourceID(item.ID)
				d.dispatch(ctx, models.ChangeDelete, meta)
				continue
			}
			// Delta entries do not distinguish create from edit; the
			// known-ids set decides
			d.dispatch(ctx, models.ChangeUpdate, d.itemMetadata(item))
		}

		if page.DeltaLink != "" {
			d.deltaMu.Lock()
			d.deltaLink = page.DeltaLink
			d.deltaMu.Unlock()
		}
		link = page.NextLink
	}

	if !sawChange {
		d.publishIdle()
	}
	return nil
}
