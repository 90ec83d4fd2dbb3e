package common

import (
	"github.com/google/uuid"
)

// NewPromptID generates a unique prompt ID
func NewPromptID() string {
	return uuid.New().String()
}

// NewClientID generates a session identifier for clients that connect
// without supplying one.
func NewClientID() string {
	return uuid.New().String()
}
