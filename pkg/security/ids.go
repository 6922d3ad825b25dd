package security

import "github.com/google/uuid"

// NewEntryID generates a unique audit entry ID.
func NewEntryID() string {
	return uuid.New().String()
}

// NewCheckpointID generates a unique checkpoint ID.
func NewCheckpointID() string {
	return uuid.New().String()
}

// NewEventID generates a unique event ID.
func NewEventID() string {
	return uuid.New().String()
}

// NewBatchID generates a unique batch invocation ID.
func NewBatchID() string {
	return uuid.New().String()
}

// NewExecutionID generates a unique job execution ID.
func NewExecutionID() string {
	return uuid.New().String()
}
