package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorString(t *testing.T) {
	err := New(CodeInvalidFrame, "zero dimensions")
	want := "[INVALID_FRAME] zero dimensions"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("read /dev/ttyUSB0: input/output error")
	err := Wrap(cause, CodeLinkIO, "serial read failed")

	if !errors.Is(err, cause) {
		t.Error("wrapped error should match cause via errors.Is")
	}
}

func TestCodeOfWalksChain(t *testing.T) {
	inner := New(CodeLinkTimeout, "no ack within 250ms")
	outer := fmt.Errorf("dispatch: %w", inner)

	if got := CodeOf(outer); got != CodeLinkTimeout {
		t.Errorf("CodeOf() = %v, want %v", got, CodeLinkTimeout)
	}
}

func TestCodeOfUnknown(t *testing.T) {
	if got := CodeOf(errors.New("plain")); got != CodeUnknown {
		t.Errorf("CodeOf(plain) = %v, want %v", got, CodeUnknown)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeInvalidFrame, http.StatusUnprocessableEntity},
		{CodeLinkTimeout, http.StatusGatewayTimeout},
		{CodeDispatchFailed, http.StatusBadGateway},
		{CodeConfigInvalid, http.StatusBadRequest},
		{CodeNoMatch, http.StatusOK},
		{Code("BOGUS"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := New(tt.code, "x").HTTPStatus(); got != tt.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(New(CodeLinkTimeout, "timeout")) {
		t.Error("LinkTimeout should be retryable")
	}
	if IsRetryable(New(CodeLinkIO, "broken pipe")) {
		t.Error("LinkIO must not be retryable")
	}
	if IsRetryable(New(CodeInvalidFrame, "bad frame")) {
		t.Error("InvalidFrame must not be retryable")
	}
}

func TestWithMetadata(t *testing.T) {
	err := New(CodeDispatchFailed, "gave up").WithMetadata("attempts", "3")
	if err.Metadata["attempts"] != "3" {
		t.Errorf("Metadata[attempts] = %q, want %q", err.Metadata["attempts"], "3")
	}
}
