package onebot

import (
	"errors"
	"testing"

	"grouplog/pkg/chatlog"
)

func TestMapResponseError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		response actionResponse
		wantKind chatlog.LookupErrorKind
	}{
		{name: "ok status", response: actionResponse{Status: "ok"}},
		{name: "zero retcode without status", response: actionResponse{}},
		{
			name:     "not found retcode",
			response: actionResponse{Status: "failed", RetCode: 1404},
			wantKind: chatlog.LookupErrorKindNotFound,
		},
		{
			name:     "not found wording",
			response: actionResponse{Status: "failed", RetCode: 200, Message: "Message Not Found"},
			wantKind: chatlog.LookupErrorKindNotFound,
		},
		{
			name:     "failed status",
			response: actionResponse{Status: "failed", RetCode: 100, Message: "bad params"},
			wantKind: chatlog.LookupErrorKindPermanent,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := mapResponseError("get_msg", testCase.response)
			if testCase.wantKind == "" {
				if err != nil {
					t.Fatalf("mapResponseError() = %v, want nil", err)
				}
				return
			}

			lookupErr, ok := chatlog.AsLookupError(err)
			if !ok {
				t.Fatalf("mapResponseError() = %v, want LookupError", err)
			}
			if lookupErr.Kind != testCase.wantKind {
				t.Fatalf("kind = %s, want %s", lookupErr.Kind, testCase.wantKind)
			}
			if chatlog.IsTransient(err) {
				t.Fatal("response errors must not be transient")
			}
		})
	}
}

func TestMapTransportErrorIsTransient(t *testing.T) {
	t.Parallel()

	err := mapTransportError("get_msg", errCallTimeout)
	if !chatlog.IsTransient(err) {
		t.Fatalf("mapTransportError() = %v, want transient", err)
	}
	if !errors.Is(err, errCallTimeout) {
		t.Fatal("cause not reachable through errors.Is")
	}
}
