package converter

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrFormatMismatch      = errors.New("format mismatch")
	ErrHardwareUnavailable = errors.New("hardware unavailable")
	ErrOperationFailed     = errors.New("operation failed")
	ErrOutOfRange          = errors.New("out of range")
	ErrNotConfigured       = errors.New("not configured")
)

// wrap tags err with marker and a scope: operation: message detail so callers
// can classify failures with errors.Is.
func wrap(marker error, scope, operation, message string, err error) error {
	detail := buildDetail(scope, operation, message)
	if marker == nil {
		marker = ErrOperationFailed
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(scope, operation, message string) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{scope, operation, message} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return "converter failure"
	}
	return strings.Join(parts, ": ")
}

// Kind returns a short label for the error class of err, used for metrics
// and journal records.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrFormatMismatch):
		return "format_mismatch"
	case errors.Is(err, ErrHardwareUnavailable):
		return "hardware_unavailable"
	case errors.Is(err, ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, ErrOperationFailed):
		return "operation_failed"
	default:
		return "unknown"
	}
}
