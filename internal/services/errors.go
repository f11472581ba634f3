package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEnqueue         = errors.New("enqueue failed")
	ErrEncodingFailed  = errors.New("encoding failed")
	ErrFrameExtraction = errors.New("frame extraction failed")
	ErrCleanup         = errors.New("cleanup failed")
	ErrExternalTool    = errors.New("external tool error")
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("not found")
	ErrTimeout         = errors.New("timeout")
	ErrTransient       = errors.New("transient failure")
)

// markers lists the sentinels in classification priority order.
var markers = []error{
	ErrEnqueue,
	ErrEncodingFailed,
	ErrFrameExtraction,
	ErrCleanup,
	ErrTimeout,
	ErrTransient,
	ErrValidation,
	ErrNotFound,
	ErrExternalTool,
}

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether a failure is worth another attempt. Spawn
// failures and timeouts are transient; everything else is permanent.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrTimeout)
}

// ErrorDetails summarises an error for structured logs.
type ErrorDetails struct {
	Kind    string
	Message string
	Cause   error
}

// Details extracts the marker kind and the human readable message from err.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{Kind: "unknown", Message: strings.TrimSpace(err.Error()), Cause: err}
	for _, marker := range markers {
		if errors.Is(err, marker) {
			details.Kind = strings.ReplaceAll(marker.Error(), " ", "_")
			break
		}
	}
	return details
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
