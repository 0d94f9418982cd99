package interfaces

import (
	"context"

	"github.com/ternarybob/concordia/internal/models"
)

// ReingestFunc re-ingests a single document through the full
// parse-and-index pipeline. The orchestrator injects one per detector so
// detectors never hold a reference back into the engine.
type ReingestFunc func(ctx context.Context, meta models.FileMetadata) error

// ChangeDetector watches one source for document changes. Every variant
// produces an initial full listing; sources with a native change feed
// additionally publish to the Changes channel.
type ChangeDetector interface {
	// Start connects, verifies access, seeds the known-ids set from one
	// full listing, and subscribes to the source's event feed when it has
	// one. Seeding happens before subscription so the detector can tell
	// true CREATEs from MODIFYs masquerading as CREATEs.
	Start(ctx context.Context) error

	// Stop releases all OS and network handles deterministically
	Stop() error

	// ListAllFiles returns the complete current inventory, used for
	// periodic refresh and initial baselining
	ListAllFiles(ctx context.Context) ([]models.FileMetadata, error)

	// LoadFile fetches the raw bytes of a single document
	LoadFile(ctx context.Context, meta models.FileMetadata) ([]byte, error)

	// HasChangeStream reports whether this detector runs its own event feed
	HasChangeStream() bool

	// Changes returns the detector's signal channel; nil when
	// HasChangeStream is false. The channel closes after Stop.
	Changes() <-chan models.DetectorSignal

	// SourceType returns the models.SourceType* constant this detector serves
	SourceType() string
}
