package detectors

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"cloud.google.com/go/pubsub/v2"
	gcs "cloud.google.com/go/storage"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/concordia/internal/common"
	"github.com/ternarybob/concordia/internal/interfaces"
	"github.com/ternarybob/concordia/internal/models"
	"google.golang.org/api/iterator"
)

const gcsDebounceWindow = 30 * time.Second

// GCSDetector monitors a Google Cloud Storage bucket. Change notifications
// arrive through a Pub/Sub subscription bound to the bucket's notification
// config. Connection params: bucket, project_id (required); prefix,
// pubsub_subscription (optional).
type GCSDetector struct {
	*base
	bucket       string
	prefix       string
	subscription string

	client       *gcs.Client
	pubsubClient *pubsub.Client

	cancelStream context.CancelFunc
	wg           sync.WaitGroup
}

// NewGCSDetector creates a GCS detector for one config
func NewGCSDetector(logger arbor.ILogger, config *models.DataSourceConfig, reingest interfaces.ReingestFunc) (*GCSDetector, error) {
	if err := config.RequireParams("bucket", "project_id"); err != nil {
		return nil, err
	}

	return &GCSDetector{
		base:         newBase(logger, config, reingest, gcsDebounceWindow),
		bucket:       config.StringParam("bucket"),
		prefix:       config.StringParam("prefix"),
		subscription: config.StringParam("pubsub_subscription"),
	}, nil
}

// SourceType returns the source type this detector serves
func (d *GCSDetector) SourceType() string {
	return models.SourceTypeGCS
}

// HasChangeStream reports whether a Pub/Sub subscription is configured
func (d *GCSDetector) HasChangeStream() bool {
	return d.subscription != ""
}

// Start connects, verifies bucket access, seeds known ids, and begins the
// Pub/Sub streaming pull when a subscription is configured
func (d *GCSDetector) Start(ctx context.Context) error {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create GCS client: %w", err)
	}
	d.client = client

	if _, err := client.Bucket(d.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("bucket %s is not accessible: %w", d.bucket, err)
	}

	listing, err := d.ListAllFiles(ctx)
	if err != nil {
		return err
	}
	d.seedKnown(listing)
	d.markStarted()

	if d.HasChangeStream() {
		pubsubClient, err := pubsub.NewClient(ctx, d.config.StringParam("project_id"))
		if err != nil {
			return fmt.Errorf("failed to create Pub/Sub client: %w", err)
		}
		d.pubsubClient = pubsubClient

		streamCtx, cancel := context.WithCancel(context.Background())
		d.cancelStream = cancel
		d.wg.Add(1)
		common.SafeGoWithContext(streamCtx, d.logger, "gcsPubsubReceive", d.receiveLoop)
	}

	d.logger.Info().
		Str("config_id", d.config.ID).
		Str("bucket", d.bucket).
		Bool("change_stream", d.HasChangeStream()).
		Int("known", d.knownCount()).
		Msg("GCS detector started")

	return nil
}

// Stop cancels the streaming pull and releases clients
func (d *GCSDetector) Stop() error {
	if d.cancelStream != nil {
		d.cancelStream()
	}
	d.wg.Wait()
	d.closeSignals()

	if d.pubsubClient != nil {
		d.pubsubClient.Close()
	}
	if d.client != nil {
		d.client.Close()
	}
	return nil
}

// ListAllFiles iterates the bucket under the configured prefix
func (d *GCSDetector) ListAllFiles(ctx context.Context) ([]models.FileMetadata, error) {
	var metas []models.FileMetadata

	it := d.client.Bucket(d.bucket).Objects(ctx, &gcs.Query{Prefix: d.prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list bucket %s: %w", d.bucket, err)
		}
		metas = append(metas, d.objectMetadata(attrs.Name, attrs.Size, attrs.Updated))
	}

	return metas, nil
}

// LoadFile fetches one object's bytes
func (d *GCSDetector) LoadFile(ctx context.Context, meta models.FileMetadata) ([]byte, error) {
	name := meta.SourceID()
	reader, err := d.client.Bucket(d.bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open object %s: %w", name, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", name, err)
	}
	return data, nil
}

func (d *GCSDetector) objectMetadata(name string, size int64, updated time.Time) models.FileMetadata {
	meta := models.FileMetadata{
		SourceType: models.SourceTypeGCS,
		Path:       common.ObjectStorePath(d.bucket, name),
		SizeBytes:  size,
	}
	meta.SetSourceID(name)
	if !updated.IsZero() {
		u := updated
		meta.ModifiedTimestamp = &u
		meta.Ordinal = models.OrdinalFromTime(u)
	} else {
		meta.Ordinal = models.OrdinalNow()
	}
	return meta
}

func (d *GCSDetector) receiveLoop(ctx context.Context) {
	defer d.wg.Done()

	subscriber := d.pubsubClient.Subscriber(d.subscription)

	retry := newStreamBackoff()
	for ctx.Err() == nil {
		err := subscriber.Receive(ctx, func(ctx context.Context, message *pubsub.Message) {
			d.handleMessage(ctx, message.Attributes)
			message.Ack()
		})
		if err != nil && ctx.Err() == nil {
			d.logger.Warn().
				Err(err).
				Str("config_id", d.config.ID).
				Msg("Pub/Sub receive failed")
			if !retry.failure(ctx) {
				return
			}
			continue
		}
		retry.success()
	}
}

func (d *GCSDetector) handleMessage(ctx context.Context, attrs map[string]string) {
	if attrs["bucketId"] != d.bucket {
		return
	}

	name := attrs["objectId"]
	if name == "" {
		return
	}
	if d.prefix != "" && len(name) >= len(d.prefix) && name[:len(d.prefix)] != d.prefix {
		return
	}

	changeType, ok := mapGCSEvent(attrs)
	if !ok {
		return
	}

	now := time.Now()
	meta := d.objectMetadata(name, 0, now)

	d.dispatch(ctx, changeType, meta)
}

// mapGCSEvent classifies a Pub/Sub notification. The event type lives in
// the message attributes, not the payload. OBJECT_FINALIZE with the first
// generation is a CREATE; later generations are UPDATEs.
func mapGCSEvent(attrs map[string]string) (models.ChangeType, bool) {
	switch attrs["eventType"] {
	case "OBJECT_FINALIZE":
		if attrs["objectGeneration"] == "1" {
			return models.ChangeCreate, true
		}
		return models.ChangeUpdate, true
	case "OBJECT_DELETE", "OBJECT_ARCHIVE":
		return models.ChangeDelete, true
	default:
		return "", false
	}
}
