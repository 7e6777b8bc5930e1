package idutil

import "github.com/google/uuid"

// NewID returns a fresh random identifier, used for Job, Request,
// Contribution and Transaction ids.
func NewID() string {
	return uuid.New().String()
}
