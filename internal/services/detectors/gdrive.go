package detectors

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/concordia/internal/common"
	"github.com/ternarybob/concordia/internal/interfaces"
	"github.com/ternarybob/concordia/internal/models"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const (
	gdriveDebounceWindow = 30 * time.Second
	gdrivePollInterval   = 30 * time.Second
	gdrivePageSize       = 100
	gdriveFileFields     = "id, name, mimeType, size, createdTime, modifiedTime, trashed, parents"
	gdriveFolderMime     = "application/vnd.google-apps.folder"

	// Drive's change feed does not say whether a change is a create or an
	// edit; a file whose modified time is within this window of its created
	// time is treated as newly created
	gdriveCreateWindow = 5 * time.Second
)

// GoogleDriveDetector monitors a Drive folder tree using the changes API
// with a start page token captured at startup. Connection params:
// folder_id (required); credentials_json (optional, falls back to
// application default credentials).
type GoogleDriveDetector struct {
	*base
	folderID string

	service   *drive.Service
	pageToken string

	// folder ids in the watched subtree, maintained as folder changes arrive
	folderMu sync.Mutex
	folders  map[string]struct{}

	cancelStream context.CancelFunc
	wg           sync.WaitGroup
}

// NewGoogleDriveDetector creates a Google Drive detector for one config
func NewGoogleDriveDetector(logger arbor.ILogger, config *models.DataSourceConfig, reingest interfaces.ReingestFunc) (*GoogleDriveDetector, error) {
	if err := config.RequireParams("folder_id"); err != nil {
		return nil, err
	}

	return &GoogleDriveDetector{
		base:     newBase(logger, config, reingest, gdriveDebounceWindow),
		folderID: config.StringParam("folder_id"),
		folders:  make(map[string]struct{}),
	}, nil
}

// SourceType returns the source type this detector serves
func (d *GoogleDriveDetector) SourceType() string {
	return models.SourceTypeGoogleDrive
}

// HasChangeStream is always true; the changes API needs no extra config
func (d *GoogleDriveDetector) HasChangeStream() bool {
	return true
}

// Start connects, seeds known ids, captures the change cursor, and begins
// polling the changes feed
func (d *GoogleDriveDetector) Start(ctx context.Context) error {
	var opts []option.ClientOption
	if creds := d.config.StringParam("credentials_json"); creds != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	}

	service, err := drive.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create Drive service: %w", err)
	}
	d.service = service

	if _, err := service.Files.Get(d.folderID).Fields("id").Context(ctx).Do(); err != nil {
		return fmt.Errorf("folder %s is not accessible: %w", d.folderID, err)
	}

	// Capture the cursor before listing so changes during the listing are
	// not lost
	token, err := service.Changes.GetStartPageToken().Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to get start page token: %w", err)
	}
	d.pageToken = token.StartPageToken

	listing, err := d.ListAllFiles(ctx)
	if err != nil {
		return err
	}
	d.seedKnown(listing)
	d.markStarted()

	streamCtx, cancel := context.WithCancel(context.Background())
	d.cancelStream = cancel
	d.wg.Add(1)
	common.SafeGoWithContext(streamCtx, d.logger, "gdriveChangesLoop", d.changesLoop)

	d.logger.Info().
		Str("config_id", d.config.ID).
		Str("folder_id", d.folderID).
		Int("known", d.knownCount()).
		Msg("Google Drive detector started")

	return nil
}

// Stop cancels the changes loop
func (d *GoogleDriveDetector) Stop() error {
	if d.cancelStream != nil {
		d.cancelStream()
	}
	d.wg.Wait()
	d.closeSignals()
	return nil
}

// ListAllFiles walks the folder tree breadth-first, rebuilding the
// subtree folder set as a side effect
func (d *GoogleDriveDetector) ListAllFiles(ctx context.Context) ([]models.FileMetadata, error) {
	var metas []models.FileMetadata

	subtree := map[string]struct{}{d.folderID: {}}
	queue := []string{d.folderID}

	for len(queue) > 0 {
		folderID := queue[0]
		queue = queue[1:]

		query := fmt.Sprintf("'%s' in parents and trashed = false", folderID)
		pageToken := ""
		for {
			call := d.service.Files.List().
				Q(query).
				Fields("nextPageToken", "files("+gdriveFileFields+")").
				PageSize(gdrivePageSize).
				Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}

			page, err := call.Do()
			if err != nil {
				return nil, fmt.Errorf("failed to list folder %s: %w", folderID, err)
			}
			for _, file := range page.Files {
				if file.MimeType == gdriveFolderMime {
					subtree[file.Id] = struct{}{}
					queue = append(queue, file.Id)
					continue
				}
				metas = append(metas, d.fileMetadata(file))
			}
			pageToken = page.NextPageToken
			if pageToken == "" {
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
func (d *GoogleDriveDetector) LoadFile(ctx context.Context, meta models.FileMetadata) ([]byte, error) {
	fileID := meta.SourceID()
	resp, err := d.service.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("failed to download file %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", fileID, err)
	}
	return data, nil
}

// fileMetadata builds metadata keyed on the file id. Drive paths are not
// stable (files move and have multiple parents), so the id is the stable
// path too.
func (d *GoogleDriveDetector) fileMetadata(file *drive.File) models.FileMetadata {
	meta := models.FileMetadata{
		SourceType: models.SourceTypeGoogleDrive,
		Path:       common.SchemeGoogleDrive + file.Id,
		SizeBytes:  file.Size,
		MimeType:   file.MimeType,
	}
	meta.SetSourceID(file.Id)
	if modified, err := time.Parse(time.RFC3339, file.ModifiedTime); err == nil {
		meta.ModifiedTimestamp = &modified
		meta.Ordinal = models.OrdinalFromTime(modified)
	} else {
		meta.Ordinal = models.OrdinalNow()
	}
	return meta
}

func (d *GoogleDriveDetector) inSubtree(parents []string) bool {
	d.folderMu.Lock()
	defer d.folderMu.Unlock()

	for _, parent := range parents {
		if _, ok := d.folders[parent]; ok {
			return true
		}
	}
	return false
}

func (d *GoogleDriveDetector) changesLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(gdrivePollInterval)
	defer ticker.Stop()

	retry := newStreamBackoff()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case <-ticker.C:
			if err := d.drainChanges(ctx); err != nil {
				d.logger.Warn().
					Err(err).
					Str("config_id", d.config.ID).
					Msg("Drive changes poll failed")
				if !retry.failure(ctx) {
					return
				}
				continue
			}
			retry.success()
		}
	}
}

// drainChanges pages through the changes feed from the saved cursor and
// advances it only after each page is handled
func (d *GoogleDriveDetector) drainChanges(ctx context.Context) error {
	token := d.pageToken
	sawChange := false

	for token != "" {
		page, err := d.service.Changes.List(token).
			IncludeRemoved(true).
			Fields("nextPageToken", "newStartPageToken", "changes(fileId, removed, file("+gdriveFileFields+"))").
			Context(ctx).
			Do()
		if err != nil {
			return fmt.Errorf("failed to list changes: %w", err)
		}

		for _, change := range page.Changes {
			if d.handleChange(ctx, change) {
				sawChange = true
			}
		}

		if page.NewStartPageToken != "" {
			d.pageToken = page.NewStartPageToken
			token = ""
		} else {
			d.pageToken = page.NextPageToken
			token = page.NextPageToken
		}
	}

	if !sawChange {
		d.publishIdle()
	}
	return nil
}

func (d *GoogleDriveDetector) handleChange(ctx context.Context, change *drive.Change) bool {
	if change.Removed || change.File == nil || change.File.Trashed {
		// Removal events carry no file details; only ids we are tracking
		// matter
		if !d.isKnown(change.FileId) {
			return false
		}
		meta := models.FileMetadata{
			SourceType: models.SourceTypeGoogleDrive,
			Path:       common.SchemeGoogleDrive + change.FileId,
			Ordinal:    models.OrdinalNow(),
		}
		meta.SetSourceID(change.FileId)
		d.dispatch(ctx, models.ChangeDelete, meta)
		return true
	}

	file := change.File
	if file.MimeType == gdriveFolderMime {
		if d.inSubtree(file.Parents) {
			d.folderMu.Lock()
			d.folders[file.Id] = struct{}{}
			d.folderMu.Unlock()
		}
		return false
	}
	if !d.inSubtree(file.Parents) && !d.isKnown(file.Id) {
		return false
	}

	changeType := models.ChangeUpdate
	if isNewlyCreated(file.CreatedTime, file.ModifiedTime) {
		changeType = models.ChangeCreate
	}

	d.dispatch(ctx, changeType, d.fileMetadata(file))
	return true
}

// isNewlyCreated applies the created-vs-edited heuristic on the feed's
// RFC 3339 timestamps
func isNewlyCreated(createdTime, modifiedTime string) bool {
	created, err := time.Parse(time.RFC3339, createdTime)
	if err != nil {
		return false
	}
	modified, err := time.Parse(time.RFC3339, modifiedTime)
	if err != nil {
		return false
	}
	return modified.Sub(created) <= gdriveCreateWindow
}
