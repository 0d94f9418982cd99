package common

import (
	"github.com/google/uuid"
)

// NewConfigID generates a unique datasource config ID with the "ds_" prefix
// Format: ds_<uuid>
func NewConfigID() string {
	return "ds_" + uuid.New().String()
}
