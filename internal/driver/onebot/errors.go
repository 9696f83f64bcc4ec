package onebot

import (
	"errors"
	"strings"

	"grouplog/pkg/chatlog"
)

// retCodeNotFound is the return code go-cqhttp compatible implementations
// use when the requested message or member does not exist.
const retCodeNotFound = 1404

var (
	errNotConnected = errors.New("onebot: not connected")
	errDisconnected = errors.New("onebot: connection closed while awaiting response")
	errCallTimeout  = errors.New("onebot: call timed out")
)

// mapResponseError maps one non-ok action response to a LookupError.
// It returns nil for successful responses.
func mapResponseError(action string, response actionResponse) error {
	if response.ok() {
		return nil
	}

	kind := chatlog.LookupErrorKindPermanent
	if response.RetCode == retCodeNotFound || strings.Contains(strings.ToLower(response.Message), "not found") {
		kind = chatlog.LookupErrorKindNotFound
	}

	return &chatlog.LookupError{
		Action:  action,
		Kind:    kind,
		Code:    int(response.RetCode),
		Message: response.Message,
	}
}

// mapTransportError wraps one connection level failure as transient.
func mapTransportError(action string, cause error) error {
	return &chatlog.LookupError{
		Action: action,
		Kind:   chatlog.LookupErrorKindTransient,
		Cause:  cause,
	}
}
