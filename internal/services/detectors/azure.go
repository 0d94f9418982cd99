package detectors

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/concordia/internal/common"
	"github.com/ternarybob/concordia/internal/interfaces"
	"github.com/ternarybob/concordia/internal/models"
)

const (
	azureDebounceWindow = 30 * time.Second
	azurePollInterval   = 60 * time.Second

	// Storage accounts with the change feed enabled expose it through a
	// reserved container. Its presence is the only signal we need.
	azureChangeFeedContainer = "$blobchangefeed"
)

// AzureBlobDetector monitors an Azure Blob Storage container. When the
// account has the change feed enabled the detector polls the container
// listing on an interval and diffs it against the previous pass; without
// the change feed it is periodic-refresh only. Connection params:
// container (required); account_name or connection_string (one required);
// prefix (optional).
type AzureBlobDetector struct {
	*base
	container string
	prefix    string

	client *azblob.Client

	streamEnabled bool
	lastPoll      time.Time

	cancelStream context.CancelFunc
	wg           sync.WaitGroup
}

// NewAzureBlobDetector creates an Azure Blob detector for one config
func NewAzureBlobDetector(logger arbor.ILogger, config *models.DataSourceConfig, reingest interfaces.ReingestFunc) (*AzureBlobDetector, error) {
	if err := config.RequireParams("container"); err != nil {
		return nil, err
	}
	if config.StringParam("account_name") == "" && config.StringParam("connection_string") == "" {
		return nil, fmt.Errorf("azure_blob config requires account_name or connection_string")
	}

	return &AzureBlobDetector{
		base:      newBase(logger, config, reingest, azureDebounceWindow),
		container: config.StringParam("container"),
		prefix:    config.StringParam("prefix"),
	}, nil
}

// SourceType returns the source type this detector serves
func (d *AzureBlobDetector) SourceType() string {
	return models.SourceTypeAzureBlob
}

// HasChangeStream reports whether the detector is polling for changes.
// Only meaningful after Start, when the change feed probe has run.
func (d *AzureBlobDetector) HasChangeStream() bool {
	return d.streamEnabled
}

// Start connects, verifies container access, seeds known ids, probes the
// change feed, and begins the polling loop if the feed is available
func (d *AzureBlobDetector) Start(ctx context.Context) error {
	client, err := d.newClient()
	if err != nil {
		return err
	}
	d.client = client

	listing, err := d.ListAllFiles(ctx)
	if err != nil {
		return err
	}
	d.seedKnown(listing)
	d.markStarted()
	d.lastPoll = time.Now()

	d.streamEnabled = d.probeChangeFeed(ctx)
	if d.streamEnabled {
		streamCtx, cancel := context.WithCancel(context.Background())
		d.cancelStream = cancel
		d.wg.Add(1)
		common.SafeGoWithContext(streamCtx, d.logger, "azurePollLoop", d.pollLoop)
	} else {
		d.logger.Info().
			Str("config_id", d.config.ID).
			Msg("Change feed not enabled on storage account, falling back to periodic refresh only")
	}

	d.logger.Info().
		Str("config_id", d.config.ID).
		Str("container", d.container).
		Bool("change_stream", d.streamEnabled).
		Int("known", d.knownCount()).
		Msg("Azure Blob detector started")

	return nil
}

// Stop cancels the polling loop
func (d *AzureBlobDetector) Stop() error {
	if d.cancelStream != nil {
		d.cancelStream()
	}
	d.wg.Wait()
	d.closeSignals()
	return nil
}

// ListAllFiles pages through the container under the configured prefix
func (d *AzureBlobDetector) ListAllFiles(ctx context.Context) ([]models.FileMetadata, error) {
	var metas []models.FileMetadata

	opts := &azblob.ListBlobsFlatOptions{}
	if d.prefix != "" {
		opts.Prefix = &d.prefix
	}

	pager := d.client.NewListBlobsFlatPager(d.container, opts)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list container %s: %w", d.container, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			metas = append(metas, d.blobMetadata(*item.Name, item.Properties.ContentLength, item.Properties.LastModified))
		}
	}

	return metas, nil
}

// LoadFile downloads one blob's bytes
func (d *AzureBlobDetector) LoadFile(ctx context.Context, meta models.FileMetadata) ([]byte, error) {
	name := meta.SourceID()
	resp, err := d.client.DownloadStream(ctx, d.container, name, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download blob %s: %w", name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", name, err)
	}
	return data, nil
}

func (d *AzureBlobDetector) newClient() (*azblob.Client, error) {
	if connStr := d.config.StringParam("connection_string"); connStr != "" {
		client, err := azblob.NewClientFromConnectionString(connStr, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure Blob client: %w", err)
		}
		return client, nil
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire Azure credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", d.config.StringParam("account_name"))
	client, err := azblob.NewClient(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Blob client: %w", err)
	}
	return client, nil
}

// probeChangeFeed checks for the reserved change feed container. Any error
// is treated as "not enabled"; the detector then stays periodic-only for
// its lifetime.
func (d *AzureBlobDetector) probeChangeFeed(ctx context.Context) bool {
	max := int32(1)
	pager := d.client.NewListBlobsFlatPager(azureChangeFeedContainer, &azblob.ListBlobsFlatOptions{
		MaxResults: &max,
	})
	if !pager.More() {
		return false
	}
	if _, err := pager.NextPage(ctx); err != nil {
		return false
	}
	return true
}

func (d *AzureBlobDetector) blobMetadata(name string, size *int64, lastModified *time.Time) models.FileMetadata {
	meta := models.FileMetadata{
		SourceType: models.SourceTypeAzureBlob,
		Path:       common.ObjectStorePath(d.container, name),
	}
	meta.SetSourceID(name)
	if size != nil {
		meta.SizeBytes = *size
	}
	if lastModified != nil {
		u := *lastModified
		meta.ModifiedTimestamp = &u
		meta.Ordinal = models.OrdinalFromTime(u)
	} else {
		meta.Ordinal = models.OrdinalNow()
	}
	return meta
}

func (d *AzureBlobDetector) pollLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(azurePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case <-ticker.C:
			if err := d.pollOnce(ctx); err != nil {
				d.logger.Warn().
					Err(err).
					Str("config_id", d.config.ID).
					Msg("Azure Blob change poll failed")
			}
		}
	}
}

// pollOnce lists the container and diffs it against the previous pass:
// blobs modified since the last poll become UPDATE events, blobs missing
// from the listing become DELETE events.
func (d *AzureBlobDetector) pollOnce(ctx context.Context) error {
	since := d.lastPoll
	d.lastPoll = time.Now()

	listing, err := d.ListAllFiles(ctx)
	if err != nil {
		return err
	}

	present := make(map[string]struct{}, len(listing))
	for _, meta := range listing {
		present[meta.SourceID()] = struct{}{}
		if meta.ModifiedTimestamp != nil && meta.ModifiedTimestamp.After(since) {
			d.dispatch(ctx, models.ChangeUpdate, meta)
		}
	}

	for _, id := range d.knownIDs() {
		if _, ok := present[id]; ok {
			continue
		}
		meta := models.FileMetadata{
			SourceType: models.SourceTypeAzureBlob,
			Path:       common.ObjectStorePath(d.container, id),
			Ordinal:    models.OrdinalNow(),
		}
		meta.SetSourceID(id)
		d.dispatch(ctx, models.ChangeDelete, meta)
	}

	d.publishIdle()
	return nil
}
