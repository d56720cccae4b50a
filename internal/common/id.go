package common

import (
	"github.com/google/uuid"
)

// NewSessionID generates a unique auth session ID with the "sess_" prefix.
// Format: sess_<uuid>
func NewSessionID() string {
	return "sess_" + uuid.New().String()
}

// NewBatchID generates a unique batch job ID with the "batch_" prefix.
// Format: batch_<uuid>
func NewBatchID() string {
	return "batch_" + uuid.New().String()
}
