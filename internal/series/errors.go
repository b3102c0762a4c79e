package series

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a lookup (location mapping, stored rows) has no match.
var ErrNotFound = errors.New("not found")

// ConfigurationError reports a setup problem: an unmapped source/series/interval
// combination, an unknown validator or override label, bad adapter options.
// It is always fatal for the request and never retried.
type ConfigurationError struct {
	Op  string
	Msg string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error in %s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("configuration error in %s: %s", e.Op, e.Msg)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// NewConfigurationError builds a ConfigurationError with a formatted message.
func NewConfigurationError(op, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// IngestionFailure is what an adapter returns when the upstream was unreachable,
// answered with an error, or simply had no data. The engine treats it as an
// empty result and moves to the next location mapping.
type IngestionFailure struct {
	Adapter  string
	Location string
	Err      error
}

func (e *IngestionFailure) Error() string {
	return fmt.Sprintf("ingestion via %s for %s failed: %v", e.Adapter, e.Location, e.Err)
}

func (e *IngestionFailure) Unwrap() error { return e.Err }

// ProgrammingError marks a defect inside an adapter or validator. It is
// propagated to the caller unchanged.
type ProgrammingError struct {
	Op  string
	Err error
}

func (e *ProgrammingError) Error() string {
	return fmt.Sprintf("programming error in %s: %v", e.Op, e.Err)
}

func (e *ProgrammingError) Unwrap() error { return e.Err }

// IsConfigurationError reports whether err wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsIngestionFailure reports whether err wraps an IngestionFailure.
func IsIngestionFailure(err error) bool {
	var ie *IngestionFailure
	return errors.As(err, &ie)
}
