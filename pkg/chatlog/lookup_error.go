package chatlog

import (
	"errors"
	"fmt"
	"strings"
)

// LookupErrorKind describes coarse-grained remote lookup failure classes.
type LookupErrorKind string

const (
	// LookupErrorKindTransient indicates a retryable failure such as a
	// dropped connection or a timed out call.
	LookupErrorKindTransient LookupErrorKind = "transient"
	// LookupErrorKindPermanent indicates a failure retrying cannot fix.
	LookupErrorKindPermanent LookupErrorKind = "permanent"
	// LookupErrorKindNotFound indicates the platform reported the target
	// as missing.
	LookupErrorKindNotFound LookupErrorKind = "not_found"
)

// LookupError carries structured metadata for one failed remote call.
type LookupError struct {
	// Action identifies the platform action that failed.
	Action string
	// Kind classifies whether callers should retry.
	Kind LookupErrorKind
	// Code carries the optional platform return code.
	Code int
	// Message carries the optional platform error message.
	Message string
	// Cause is the wrapped transport error.
	Cause error
}

// Error returns one operator-readable failure summary.
func (e *LookupError) Error() string {
	if e == nil {
		return "<nil>"
	}

	fields := make([]string, 0, 4)
	if action := strings.TrimSpace(e.Action); action != "" {
		fields = append(fields, "action="+action)
	}
	if kind := strings.TrimSpace(string(e.Kind)); kind != "" {
		fields = append(fields, "kind="+kind)
	}
	if e.Code != 0 {
		fields = append(fields, fmt.Sprintf("code=%d", e.Code))
	}
	if message := strings.TrimSpace(e.Message); message != "" {
		fields = append(fields, "message="+message)
	}

	summary := "lookup error"
	if len(fields) > 0 {
		summary += ": " + strings.Join(fields, " ")
	}
	if e.Cause == nil {
		return summary
	}

	return summary + ": " + e.Cause.Error()
}

// Unwrap exposes the cause and the sentinel matching Kind to errors.Is.
func (e *LookupError) Unwrap() []error {
	if e == nil {
		return nil
	}

	unwrapped := make([]error, 0, 2)
	switch e.Kind {
	case LookupErrorKindTransient:
		unwrapped = append(unwrapped, ErrTransient)
	case LookupErrorKindNotFound:
		unwrapped = append(unwrapped, ErrNotFound)
	case LookupErrorKindPermanent:
	}
	if e.Cause != nil {
		unwrapped = append(unwrapped, e.Cause)
	}

	return unwrapped
}

// AsLookupError extracts one LookupError from wrapped error chains.
func AsLookupError(err error) (*LookupError, bool) {
	if err == nil {
		return nil, false
	}

	var lookupErr *LookupError
	if errors.As(err, &lookupErr) {
		return lookupErr, true
	}

	return nil, false
}

// IsTransient reports whether err is eligible for a bounded retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
