package redact

import "fmt"

// InputTooLargeError is returned when a document exceeds the engine's
// configured input ceiling. No partial processing is performed.
type InputTooLargeError struct {
	Size  int
	Limit int
}

func (e *InputTooLargeError) Error() string {
	return fmt.Sprintf("input of %d bytes exceeds limit of %d bytes", e.Size, e.Limit)
}
