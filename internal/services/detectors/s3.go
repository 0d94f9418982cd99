package detectors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/concordia/internal/common"
	"github.com/ternarybob/concordia/internal/interfaces"
	"github.com/ternarybob/concordia/internal/models"
)

const (
	s3DebounceWindow = 30 * time.Second
	// sqsWaitSeconds is the long-poll wait; the surrounding context timeout
	// is slightly larger so a hung call still gets cancelled
	sqsWaitSeconds = 20
)

// S3Detector monitors an S3 bucket. Change notifications arrive through an
// SQS queue bound to the bucket; without a queue the detector degrades to
// periodic-only. Connection params: bucket, region (required); prefix,
// sqs_queue_url (optional).
type S3Detector struct {
	*base
	bucket   string
	prefix   string
	queueURL string

	s3Client  *s3.Client
	sqsClient *sqs.Client

	cancelStream context.CancelFunc
	wg           sync.WaitGroup
}

// NewS3Detector creates an S3 detector for one config
func NewS3Detector(logger arbor.ILogger, config *models.DataSourceConfig, reingest interfaces.ReingestFunc) (*S3Detector, error) {
	if err := config.RequireParams("bucket", "region"); err != nil {
		return nil, err
	}

	return &S3Detector{
		base:     newBase(logger, config, reingest, s3DebounceWindow),
		bucket:   config.StringParam("bucket"),
		prefix:   config.StringParam("prefix"),
		queueURL: config.StringParam("sqs_queue_url"),
	}, nil
}

// SourceType returns the source type this detector serves
func (d *S3Detector) SourceType() string {
	return models.SourceTypeS3
}

// HasChangeStream reports whether an SQS queue is configured
func (d *S3Detector) HasChangeStream() bool {
	return d.queueURL != ""
}

// Start connects to AWS, verifies bucket access, seeds known ids, and
// begins the SQS receive loop when a queue is configured
func (d *S3Detector) Start(ctx context.Context) error {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(d.config.StringParam("region")))
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}
	d.s3Client = s3.NewFromConfig(awsCfg)
	d.sqsClient = sqs.NewFromConfig(awsCfg)

	if _, err := d.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(d.bucket)}); err != nil {
		return fmt.Errorf("bucket %s is not accessible: %w", d.bucket, err)
	}

	listing, err := d.ListAllFiles(ctx)
	if err != nil {
		return err
	}
	d.seedKnown(listing)
	d.markStarted()

	if d.HasChangeStream() {
		// The SDK receive call blocks for the long-poll duration, so it
		// runs in its own worker
		streamCtx, cancel := context.WithCancel(context.Background())
		d.cancelStream = cancel
		d.wg.Add(1)
		common.SafeGoWithContext(streamCtx, d.logger, "s3SqsReceive", d.receiveLoop)
	}

	d.logger.Info().
		Str("config_id", d.config.ID).
		Str("bucket", d.bucket).
		Bool("change_stream", d.HasChangeStream()).
		Int("known", d.knownCount()).
		Msg("S3 detector started")

	return nil
}

// Stop cancels the receive loop and closes the signal channel
func (d *S3Detector) Stop() error {
	if d.cancelStream != nil {
		d.cancelStream()
	}
	d.wg.Wait()
	d.closeSignals()
	return nil
}

// ListAllFiles pages through the bucket under the configured prefix
func (d *S3Detector) ListAllFiles(ctx context.Context) ([]models.FileMetadata, error) {
	var metas []models.FileMetadata

	paginator := s3.NewListObjectsV2Paginator(d.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.bucket),
		Prefix: aws.String(d.prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list bucket %s: %w", d.bucket, err)
		}
		for _, object := range page.Contents {
			key := aws.ToString(object.Key)
			if strings.HasSuffix(key, "/") {
				continue // folder marker
			}
			metas = append(metas, d.objectMetadata(key, aws.ToInt64(object.Size), object.LastModified))
		}
	}

	return metas, nil
}

// LoadFile fetches one object's bytes
func (d *S3Detector) LoadFile(ctx context.Context, meta models.FileMetadata) ([]byte, error) {
	key := meta.SourceID()
	if key == "" {
		key = strings.TrimPrefix(meta.Path, d.bucket+"/")
	}

	out, err := d.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

func (d *S3Detector) objectMetadata(key string, size int64, modified *time.Time) models.FileMetadata {
	meta := models.FileMetadata{
		SourceType: models.SourceTypeS3,
		Path:       common.ObjectStorePath(d.bucket, key),
		SizeBytes:  size,
	}
	meta.SetSourceID(key)
	if modified != nil {
		m := *modified
		meta.ModifiedTimestamp = &m
		meta.Ordinal = models.OrdinalFromTime(m)
	} else {
		meta.Ordinal = models.OrdinalNow()
	}
	return meta
}

func (d *S3Detector) receiveLoop(ctx context.Context) {
	defer d.wg.Done()

	retry := newStreamBackoff()
	for {
		if ctx.Err() != nil {
			return
		}

		// Timeout slightly larger than the long-poll wait
		callCtx, cancel := context.WithTimeout(ctx, (sqsWaitSeconds+5)*time.Second)
		out, err := d.sqsClient.ReceiveMessage(callCtx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(d.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     sqsWaitSeconds,
		})
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Warn().
				Err(err).
				Str("config_id", d.config.ID).
				Msg("SQS receive failed")
			if !retry.failure(ctx) {
				return
			}
			continue
		}
		retry.success()

		if len(out.Messages) == 0 {
			d.publishIdle()
			continue
		}

		for _, message := range out.Messages {
			d.handleMessage(ctx, message)
			if _, err := d.sqsClient.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(d.queueURL),
				ReceiptHandle: message.ReceiptHandle,
			}); err != nil {
				d.logger.Warn().Err(err).Msg("Failed to delete SQS message")
			}
		}
	}
}

func (d *S3Detector) handleMessage(ctx context.Context, message sqstypes.Message) {
	records, err := parseS3Notification([]byte(aws.ToString(message.Body)))
	if err != nil {
		d.logger.Warn().
			Err(err).
			Str("config_id", d.config.ID).
			Msg("Unparseable S3 notification")
		return
	}

	for _, record := range records {
		if d.prefix != "" && !strings.HasPrefix(record.Key, d.prefix) {
			continue
		}

		meta := d.objectMetadata(record.Key, record.Size, &record.EventTime)

		switch {
		case strings.HasPrefix(record.EventName, "ObjectRemoved"):
			d.dispatch(ctx, models.ChangeDelete, meta)
		case strings.HasPrefix(record.EventName, "ObjectCreated"):
			d.dispatch(ctx, models.ChangeUpdate, meta) // known-ids decides create vs modify
		}
	}
}

// s3Record is one change extracted from a bucket notification
type s3Record struct {
	EventName string
	Key       string
	Size      int64
	EventTime time.Time
}

// snsEnvelope is the optional SNS wrapper around S3 notifications
type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

type s3Notification struct {
	Records []struct {
		EventName string    `json:"eventName"`
		EventTime time.Time `json:"eventTime"`
		S3        struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key  string `json:"key"`
				Size int64  `json:"size"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// parseS3Notification decodes a bucket notification, unwrapping an SNS
// envelope when present. Object keys arrive URL-encoded.
func parseS3Notification(body []byte) ([]s3Record, error) {
	var envelope snsEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Type == "Notification" && envelope.Message != "" {
		body = []byte(envelope.Message)
	}

	var notification s3Notification
	if err := json.Unmarshal(body, &notification); err != nil {
		return nil, fmt.Errorf("failed to decode S3 notification: %w", err)
	}

	records := make([]s3Record, 0, len(notification.Records))
	for _, r := range notification.Records {
		key := r.S3.Object.Key
		if decoded, err := url.QueryUnescape(key); err == nil {
			key = decoded
		}
		records = append(records, s3Record{
			EventName: r.EventName,
			Key:       key,
			Size:      r.S3.Object.Size,
			EventTime: r.EventTime,
		})
	}
	return records, nil
}
