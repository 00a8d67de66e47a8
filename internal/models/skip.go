package models

import (
	"errors"
	"fmt"
)

// Skip reasons attached to per-record validation failures. Every dropped
// record must be attributable to one of these.
const (
	SkipVoided        = "voided"
	SkipZeroQty       = "zero_qty"
	SkipMissingSKU    = "missing_sku"
	SkipMissingTimes  = "missing_times"
	SkipOutsideWindow = "outside_window"
	SkipMalformed     = "malformed"
	SkipNotFound      = "not_found"
)

// SkipError is a recoverable per-record validation failure. Callers absorb it
// with a diagnostic and continue; only transport/auth failures propagate as
// hard errors.
type SkipError struct {
	Reason string
	Detail string
}

func (e *SkipError) Error() string {
	if e.Detail == "" {
		return "skip: " + e.Reason
	}
	return fmt.Sprintf("skip (%s): %s", e.Reason, e.Detail)
}

// Skipf builds a SkipError with a formatted detail message.
func Skipf(reason, format string, args ...any) *SkipError {
	return &SkipError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// AsSkip extracts a SkipError from err, if any.
func AsSkip(err error) (*SkipError, bool) {
	var se *SkipError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
