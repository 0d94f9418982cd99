package models

import (
	"context"
	"time"
)

// ChangeType classifies a detected change
type ChangeType string

const (
	ChangeCreate ChangeType = "CREATE"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ExtraSourceID is the FileMetadata.Extra key carrying the source-native id
const ExtraSourceID = "source_id"

// FileMetadata describes one document as observed at the source
type FileMetadata struct {
	SourceType string `json:"source_type"`

	// Path is the stable-path form: absolute local path, <bucket>/<key>,
	// or <scheme>://<native-id>.
	Path string `json:"path"`

	// Ordinal is microseconds-since-epoch derived from the best available
	// modification timestamp.
	Ordinal int64 `json:"ordinal"`

	SizeBytes         int64      `json:"size_bytes,omitempty"`
	MimeType          string     `json:"mime_type,omitempty"`
	ModifiedTimestamp *time.Time `json:"modified_timestamp,omitempty"`

	// Extra carries open source-specific fields; cloud sources set at
	// minimum the source-native id under ExtraSourceID.
	Extra map[string]string `json:"extra,omitempty"`
}

// SourceID returns the source-native id carried in Extra, if any
func (m *FileMetadata) SourceID() string {
	if m.Extra == nil {
		return ""
	}
	return m.Extra[ExtraSourceID]
}

// SetSourceID records the source-native id in Extra
func (m *FileMetadata) SetSourceID(id string) {
	if m.Extra == nil {
		m.Extra = make(map[string]string)
	}
	m.Extra[ExtraSourceID] = id
}

// ChangeEvent is the transient unit of work produced by detectors and
// consumed by the update engine. It lives only in memory from detector
// output until the engine returns.
type ChangeEvent struct {
	Type      ChangeType   `json:"type"`
	Metadata  FileMetadata `json:"metadata"`
	Timestamp time.Time    `json:"timestamp"`

	// IsModifyDelete marks the DELETE half of a MODIFY pair.
	IsModifyDelete bool `json:"is_modify_delete,omitempty"`

	// Reingest is the ADD half of a MODIFY pair, run after the DELETE half
	// completes. Nil for plain events.
	Reingest func(ctx context.Context) error `json:"-"`
}

// SignalKind discriminates detector channel signals
type SignalKind int

const (
	// SignalChange carries a ChangeEvent
	SignalChange SignalKind = iota
	// SignalIdle is the no-event-this-tick sentinel that lets the consumer
	// check cancellation between source polls
	SignalIdle
	// SignalEnd means the detector's change sequence is exhausted
	SignalEnd
)

// DetectorSignal is the element type of a detector's change channel
type DetectorSignal struct {
	Kind  SignalKind
	Event *ChangeEvent
}

// OrdinalFromTime converts a timestamp to the monotonic ordinal scale
func OrdinalFromTime(t time.Time) int64 {
	return t.UnixMicro()
}

// OrdinalNow returns the current time on the ordinal scale
func OrdinalNow() int64 {
	return time.Now().UnixMicro()
}
