package models

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput is returned when merge or consolidation gets no patterns.
	ErrEmptyInput = errors.New("patterns: empty input")
	// ErrNoValidPatterns is returned when no candidate has usable reliability data.
	ErrNoValidPatterns = errors.New("patterns: no pattern with defined reliability")
)

// ValidationError reports a malformed pattern.
type ValidationError struct {
	PatternID string
	Field     string
	Reason    string
	Err       error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid pattern %q: %s %s", e.PatternID, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid pattern %q: %s", e.PatternID, e.Reason)
}

// Unwrap returns the underlying validator error.
func (e *ValidationError) Unwrap() error { return e.Err }
