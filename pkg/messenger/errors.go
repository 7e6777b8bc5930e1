package messenger

import "fmt"

// ErrCancelled is delivered to an item's Callback when Cancel removed
// it from the queue before it was sent, or when the in-flight send it
// belonged to was cancelled and the worker's eventual response was
// suppressed in favor of this outcome.
type ErrCancelled struct {
	RequestID string
}

func (e *ErrCancelled) Error() string {
	return fmt.Sprintf("messenger: request %s cancelled", e.RequestID)
}

func errCancelled(id string) error {
	return &ErrCancelled{RequestID: id}
}
