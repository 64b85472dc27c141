package models

import (
	"errors"
	"fmt"
)

// ErrSourceNotFound is returned when a source id does not resolve.
var ErrSourceNotFound = errors.New("source not found")

// ProviderError reports a failed embedding call: transport, auth, timeout
// or a malformed response.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider: %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IndexError reports a failed vector index call.
type IndexError struct {
	Op  string
	Err error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("vector index: %s: %v", e.Op, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

// ProcessingError reports a source that cannot be turned into passages, or a
// broken pipeline invariant.
type ProcessingError struct {
	SourceID string
	Reason   string
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing source %s: %s", e.SourceID, e.Reason)
}

// IsProviderError reports whether err wraps a ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// IsIndexError reports whether err wraps an IndexError.
func IsIndexError(err error) bool {
	var ie *IndexError
	return errors.As(err, &ie)
}
