package detectors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/concordia/internal/common"
	"github.com/ternarybob/concordia/internal/interfaces"
	"github.com/ternarybob/concordia/internal/models"
	"golang.org/x/time/rate"
)

const (
	boxDebounceWindow = 30 * time.Second
	boxPollInterval   = 30 * time.Second
	boxBaseURL        = "https://api.box.com/2.0"
	boxPageSize       = 1000
	boxItemFields     = "id,name,type,size,created_at,modified_at,parent,path_collection"

	// Box throttles per-user; stay comfortably under the documented limit
	boxRequestsPerSecond = 8
	boxRequestBurst      = 16
)

// BoxDetector monitors a Box folder tree through the REST API, polling
// the enterprise events stream for changes. Connection params:
// access_token, folder_id (required).
type BoxDetector struct {
	*base
	accessToken string
	folderID    string

	httpClient *http.Client
	limiter    *rate.Limiter

	streamPosition string

	// folder ids in the watched subtree, rebuilt by every full listing
	folderMu sync.Mutex
	folders  map[string]struct{}

	cancelStream context.CancelFunc
	wg           sync.WaitGroup
}

// NewBoxDetector creates a Box detector for one config
func NewBoxDetector(logger arbor.ILogger, config *models.DataSourceConfig, reingest interfaces.ReingestFunc) (*BoxDetector, error) {
	if err := config.RequireParams("access_token", "folder_id"); err != nil {
		return nil, err
	}

	return &BoxDetector{
		base:        newBase(logger, config, reingest, boxDebounceWindow),
		accessToken: config.StringParam("access_token"),
		folderID:    config.StringParam("folder_id"),
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		limiter:     rate.NewLimiter(rate.Limit(boxRequestsPerSecond), boxRequestBurst),
		folders:     make(map[string]struct{}),
	}, nil
}

// SourceType returns the source type this detector serves
func (d *BoxDetector) SourceType() string {
	return models.SourceTypeBox
}

// HasChangeStream is always true; the events stream needs no extra config
func (d *BoxDetector) HasChangeStream() bool {
	return true
}

// Start verifies folder access, captures the events stream position,
// seeds known ids, and begins polling
func (d *BoxDetector) Start(ctx context.Context) error {
	if _, err := d.get(ctx, fmt.Sprintf("/folders/%s?fields=id", url.PathEscape(d.folderID))); err != nil {
		return fmt.Errorf("folder %s is not accessible: %w", d.folderID, err)
	}

	// Capture the position before listing so changes during the listing
	// are not lost
	position, err := d.currentStreamPosition(ctx)
	if err != nil {
		return err
	}
	d.streamPosition = position

	listing, err := d.ListAllFiles(ctx)
	if err != nil {
		return err
	}
	d.seedKnown(listing)
	d.markStarted()

	streamCtx, cancel := context.WithCancel(context.Background())
	d.cancelStream = cancel
	d.wg.Add(1)
	common.SafeGoWithContext(streamCtx, d.logger, "boxEventsLoop", d.eventsLoop)

	d.logger.Info().
		Str("config_id", d.config.ID).
		Str("folder_id", d.folderID).
		Int("known", d.knownCount()).
		Msg("Box detector started")

	return nil
}

// Stop cancels the events loop
func (d *BoxDetector) Stop() error {
	if d.cancelStream != nil {
		d.cancelStream()
	}
	d.wg.Wait()
	d.closeSignals()
	return nil
}

type boxItem struct {
	ID             string     `json:"id"`
	Type           string     `json:"type"`
	Name           string     `json:"name"`
	Size           int64      `json:"size"`
	CreatedAt      *time.Time `json:"created_at"`
	ModifiedAt     *time.Time `json:"modified_at"`
	PathCollection struct {
		Entries []struct {
			ID string `json:"id"`
		} `json:"entries"`
	} `json:"path_collection"`
}

// ListAllFiles walks the folder tree breadth-first, rebuilding the
// subtree folder set as a side effect
func (d *BoxDetector) ListAllFiles(ctx context.Context) ([]models.FileMetadata, error) {
	var metas []models.FileMetadata

	subtree := map[string]struct{}{d.folderID: {}}
	queue := []string{d.folderID}

	for len(queue) > 0 {
		folderID := queue[0]
		queue = queue[1:]

		offset := 0
		for {
			path := fmt.Sprintf("/folders/%s/items?fields=%s&limit=%d&offset=%d",
				url.PathEscape(folderID), boxItemFields, boxPageSize, offset)
			body, err := d.get(ctx, path)
			if err != nil {
				return nil, fmt.Errorf("failed to list folder %s: %w", folderID, err)
			}

			var page struct {
				TotalCount int       `json:"total_count"`
				Entries    []boxItem `json:"entries"`
			}
			if err := json.Unmarshal(body, &page); err != nil {
				return nil, fmt.Errorf("failed to decode folder %s listing: %w", folderID, err)
			}

			for i := range page.Entries {
				item := &page.Entries[i]
				switch item.Type {
				case "folder":
					subtree[item.ID] = struct{}{}
					queue = append(queue, item.ID)
				case "file":
					metas = append(metas, d.itemMetadata(item))
				}
			}

			offset += len(page.Entries)
			if offset >= page.TotalCount || len(page.Entries) == 0 {
				break
			}
		}
	}

	d.folderMu.Lock()
	d.folders = subtree
	d.folderMu.Unlock()

	return metas, nil
}

// LoadFile downloads one file's bytes
func (d *BoxDetector) LoadFile(ctx context.Context, meta models.FileMetadata) ([]byte, error) {
	fileID := meta.SourceID()
	body, err := d.get(ctx, fmt.Sprintf("/files/%s/content", url.PathEscape(fileID)))
	if err != nil {
		return nil, fmt.Errorf("failed to download file %s: %w", fileID, err)
	}
	return body, nil
}

func (d *BoxDetector) itemMetadata(item *boxItem) models.FileMetadata {
	meta := models.FileMetadata{
		SourceType: models.SourceTypeBox,
		Path:       common.SchemeBox + item.ID,
		SizeBytes:  item.Size,
	}
	meta.SetSourceID(item.ID)
	if item.ModifiedAt != nil {
		meta.ModifiedTimestamp = item.ModifiedAt
		meta.Ordinal = models.OrdinalFromTime(*item.ModifiedAt)
	} else {
		meta.Ordinal = models.OrdinalNow()
	}
	return meta
}

func (d *BoxDetector) get(ctx context.Context, path string) ([]byte, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, boxBaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+d.accessToken)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("box returned status %d for %s", resp.StatusCode, path)
	}
	return io.ReadAll(resp.Body)
}

func (d *BoxDetector) currentStreamPosition(ctx context.Context) (string, error) {
	body, err := d.get(ctx, "/events?stream_position=now")
	if err != nil {
		return "", fmt.Errorf("failed to get events stream position: %w", err)
	}

	var page struct {
		NextStreamPosition json.Number `json:"next_stream_position"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return "", fmt.Errorf("failed to decode events stream position: %w", err)
	}
	return page.NextStreamPosition.String(), nil
}

func (d *BoxDetector) eventsLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(boxPollInterval)
	defer ticker.Stop()

	retry := newStreamBackoff()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case <-ticker.C:
			if err := d.pollEvents(ctx); err != nil {
				d.logger.Warn().
					Err(err).
					Str("config_id", d.config.ID).
					Msg("Box events poll failed")
				if !retry.failure(ctx) {
					return
				}
				continue
			}
			retry.success()
		}
	}
}

func (d *BoxDetector) pollEvents(ctx context.Context) error {
	body, err := d.get(ctx, "/events?stream_position="+url.QueryEscape(d.streamPosition)+"&limit=100")
	if err != nil {
		return err
	}

	var page struct {
		Entries []struct {
			EventType string    `json:"event_type"`
			CreatedAt time.Time `json:"created_at"`
			Source    boxItem   `json:"source"`
		} `json:"entries"`
		NextStreamPosition json.Number `json:"next_stream_position"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return fmt.Errorf("failed to decode events page: %w", err)
	}

	if len(page.Entries) == 0 {
		d.publishIdle()
	}

	for i := range page.Entries {
		entry := &page.Entries[i]
		if entry.Source.Type != "file" {
			continue
		}

		changeType, ok := mapBoxEvent(entry.EventType)
		if !ok {
			continue
		}
		// Deletes must pass the subtree filter by id: a trashed item's
		// path collection no longer includes the watched folder
		if changeType != models.ChangeDelete && !d.inSubtree(&entry.Source) {
			continue
		}
		if changeType == models.ChangeDelete && !d.isKnown(entry.Source.ID) {
			continue
		}

		d.dispatch(ctx, changeType, d.itemMetadata(&entry.Source))
	}

	d.streamPosition = page.NextStreamPosition.String()
	return nil
}

func (d *BoxDetector) inSubtree(item *boxItem) bool {
	d.folderMu.Lock()
	defer d.folderMu.Unlock()

	for _, entry := range item.PathCollection.Entries {
		if _, ok := d.folders[entry.ID]; ok {
			return true
		}
	}
	return false
}

// mapBoxEvent classifies an enterprise events entry. Uploads, creates and
// copies are candidate CREATEs; the known-ids set downgrades re-uploads
// to MODIFY handling.
func mapBoxEvent(eventType string) (models.ChangeType, bool) {
	switch eventType {
	case "ITEM_UPLOAD", "ITEM_CREATE", "ITEM_COPY", "ITEM_UNDELETE_VIA_TRASH":
		return models.ChangeCreate, true
	case "ITEM_MODIFY", "ITEM_RENAME", "ITEM_MOVE":
		return models.ChangeUpdate, true
	case "ITEM_TRASH", "ITEM_DELETE":
		return models.ChangeDelete, true
	default:
		return "", false
	}
}
