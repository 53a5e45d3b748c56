package protocol

import "github.com/google/uuid"

// NewID returns a random UUID string for task, context, message and artifact ids.
func NewID() string {
	return uuid.NewString()
}
