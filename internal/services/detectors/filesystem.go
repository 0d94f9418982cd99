package detectors

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/concordia/internal/common"
	"github.com/ternarybob/concordia/internal/interfaces"
	"github.com/ternarybob/concordia/internal/models"
)

// filesystemDebounceWindow collapses the CREATE+MODIFY burst most editors
// and copy tools produce for a single save
const filesystemDebounceWindow = 1 * time.Second

// FilesystemDetector watches a local directory tree via the OS watcher.
// Connection params: path (required).
type FilesystemDetector struct {
	*base
	root    string
	watcher *fsnotify.Watcher

	quietMu    sync.Mutex
	quietUntil time.Time

	wg sync.WaitGroup
}

// NewFilesystemDetector creates a filesystem detector for one config
func NewFilesystemDetector(logger arbor.ILogger, config *models.DataSourceConfig, reingest interfaces.ReingestFunc) (*FilesystemDetector, error) {
	if err := config.RequireParams("path"); err != nil {
		return nil, err
	}

	root, err := filepath.Abs(config.StringParam("path"))
	if err != nil {
		return nil, fmt.Errorf("invalid filesystem path: %w", err)
	}

	return &FilesystemDetector{
		base: newBase(logger, config, reingest, filesystemDebounceWindow),
		root: root,
	}, nil
}

// SourceType returns the source type this detector serves
func (d *FilesystemDetector) SourceType() string {
	return models.SourceTypeFilesystem
}

// HasChangeStream reports that this detector runs an OS watcher
func (d *FilesystemDetector) HasChangeStream() bool {
	return true
}

// SetQuietPeriod suppresses events until the given duration elapses, used
// by callers whose own writes would otherwise echo back as changes
func (d *FilesystemDetector) SetQuietPeriod(duration time.Duration) {
	d.quietMu.Lock()
	defer d.quietMu.Unlock()
	d.quietUntil = time.Now().Add(duration)
}

func (d *FilesystemDetector) inQuietPeriod() bool {
	d.quietMu.Lock()
	defer d.quietMu.Unlock()
	return time.Now().Before(d.quietUntil)
}

// Start verifies the root, seeds known ids from one full listing, then
// begins the recursive watch
func (d *FilesystemDetector) Start(ctx context.Context) error {
	info, err := os.Stat(d.root)
	if err != nil {
		return fmt.Errorf("filesystem root %s is not accessible: %w", d.root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("filesystem root %s is not a directory", d.root)
	}

	listing, err := d.ListAllFiles(ctx)
	if err != nil {
		return err
	}
	d.seedKnown(listing)
	d.markStarted()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	d.watcher = watcher

	// fsnotify is not recursive; every directory is watched individually
	if err := d.watchTree(d.root); err != nil {
		watcher.Close()
		return err
	}

	d.wg.Add(2)
	common.SafeGoWithContext(ctx, d.logger, "filesystemWatch", d.watchLoop)
	common.SafeGoWithContext(ctx, d.logger, "filesystemWatchdog", d.watchdogLoop)

	d.logger.Info().
		Str("config_id", d.config.ID).
		Str("root", d.root).
		Int("known", d.knownCount()).
		Msg("Filesystem detector started")

	return nil
}

// Stop closes the watcher and the signal channel
func (d *FilesystemDetector) Stop() error {
	d.closeSignals()
	if d.watcher != nil {
		d.watcher.Close()
	}
	d.wg.Wait()
	return nil
}

// ListAllFiles walks the tree and returns every regular file
func (d *FilesystemDetector) ListAllFiles(ctx context.Context) ([]models.FileMetadata, error) {
	var metas []models.FileMetadata

	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return nil // deleted mid-walk
		}

		metas = append(metas, d.fileMetadata(path, info.Size(), info.ModTime()))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", d.root, err)
	}

	return metas, nil
}

// LoadFile reads a single file's bytes
func (d *FilesystemDetector) LoadFile(ctx context.Context, meta models.FileMetadata) ([]byte, error) {
	data, err := os.ReadFile(meta.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", meta.Path, err)
	}
	return data, nil
}

func (d *FilesystemDetector) fileMetadata(path string, size int64, modified time.Time) models.FileMetadata {
	return models.FileMetadata{
		SourceType:        models.SourceTypeFilesystem,
		Path:              common.NormalizeLocalPath(path),
		Ordinal:           models.OrdinalFromTime(modified),
		SizeBytes:         size,
		ModifiedTimestamp: &modified,
	}
}

func (d *FilesystemDetector) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if err := d.watcher.Add(path); err != nil {
				return fmt.Errorf("failed to watch %s: %w", path, err)
			}
		}
		return nil
	})
}

// watchdogLoop periodically re-walks the tree and arms watches on any
// directory fsnotify missed, such as nested directories created during an
// event burst. Files found under newly armed directories surface through
// the next periodic refresh.
func (d *FilesystemDetector) watchdogLoop(ctx context.Context) {
	defer d.wg.Done()

	secs := d.config.WatchdogFilesystemSeconds
	if secs <= 0 {
		secs = 60
	}
	ticker := time.NewTicker(time.Duration(secs) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case <-ticker.C:
			d.rearmWatches()
		}
	}
}

func (d *FilesystemDetector) rearmWatches() {
	watched := make(map[string]struct{})
	for _, path := range d.watcher.WatchList() {
		watched[path] = struct{}{}
	}

	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil // tree may be mutating under us
		}
		if !entry.IsDir() {
			return nil
		}
		if _, ok := watched[path]; ok {
			return nil
		}
		if err := d.watcher.Add(path); err != nil {
			d.logger.Warn().
				Err(err).
				Str("path", path).
				Msg("Watchdog failed to arm directory watch")
			return nil
		}
		d.logger.Debug().
			Str("config_id", d.config.ID).
			Str("path", path).
			Msg("Watchdog armed missed directory")
		return nil
	})
	if err != nil {
		d.logger.Warn().Err(err).Msg("Watchdog rescan failed")
	}
}

func (d *FilesystemDetector) watchLoop(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			d.handleEvent(ctx, event)
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Warn().
				Err(err).
				Str("config_id", d.config.ID).
				Msg("Filesystem watcher error")
		}
	}
}

func (d *FilesystemDetector) handleEvent(ctx context.Context, event fsnotify.Event) {
	if d.inQuietPeriod() {
		return
	}

	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Stat(event.Name)
		if err != nil {
			return // vanished before we could stat
		}
		if info.IsDir() {
			if err := d.watchTree(event.Name); err != nil {
				d.logger.Warn().Err(err).Str("dir", event.Name).Msg("Failed to watch new directory")
			}
			return
		}
		d.dispatch(ctx, models.ChangeCreate, d.fileMetadata(event.Name, info.Size(), info.ModTime()))

	case event.Has(fsnotify.Write):
		info, err := os.Stat(event.Name)
		if err != nil || info.IsDir() {
			return
		}
		d.dispatch(ctx, models.ChangeUpdate, d.fileMetadata(event.Name, info.Size(), info.ModTime()))

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		now := time.Now()
		d.dispatch(ctx, models.ChangeDelete, models.FileMetadata{
			SourceType:        models.SourceTypeFilesystem,
			Path:              common.NormalizeLocalPath(event.Name),
			Ordinal:           models.OrdinalFromTime(now),
			ModifiedTimestamp: &now,
		})
	}
}
