package common

import (
	"path/filepath"
	"runtime"
	"strings"
)

// Scheme prefixes for sources whose stable path is a source-native id
const (
	SchemeAlfresco    = "alfresco://"
	SchemeGoogleDrive = "gdrive://"
	SchemeOneDrive    = "onedrive://"
	SchemeSharePoint  = "sharepoint://"
	SchemeBox         = "box://"
)

// caseInsensitivePaths is true on platforms with case-insensitive filesystems
var caseInsensitivePaths = runtime.GOOS == "windows"

// NormalizeLocalPath canonicalizes a local filesystem path for use as a
// stable path. On Windows the result is case-folded so that C:\X and c:\x
// collide on a single doc id.
func NormalizeLocalPath(path string) string {
	return normalizeLocalPath(path, caseInsensitivePaths)
}

func normalizeLocalPath(path string, caseInsensitive bool) string {
	cleaned := filepath.Clean(path)
	if caseInsensitive {
		cleaned = strings.ToLower(cleaned)
	}
	return cleaned
}

// ObjectStorePath returns the stable path for an object-store document
// in the form <bucket>/<object_key>.
func ObjectStorePath(bucket, key string) string {
	return bucket + "/" + key
}

// MakeDocID builds the shared document key <config_id>:<stable_path>
func MakeDocID(configID, stablePath string) string {
	return configID + ":" + stablePath
}

// SplitDocID splits a doc id into its config id and stable path parts.
// Returns empty strings when the id is not in stable form.
func SplitDocID(docID string) (configID, stablePath string) {
	idx := strings.Index(docID, ":")
	if idx <= 0 {
		return "", ""
	}
	return docID[:idx], docID[idx+1:]
}

// IsStableDocID reports whether docID carries the given config id prefix
func IsStableDocID(docID, configID string) bool {
	return strings.HasPrefix(docID, configID+":")
}
