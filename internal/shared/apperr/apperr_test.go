package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("hostId is required: %w", ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("trip ABC123: %w", ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("only the host can relay locations: %w", ErrForbidden), http.StatusForbidden},
		{fmt.Errorf("mqtt: %w", ErrTransport), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := Status(tc.err); got != tc.want {
			t.Fatalf("status(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestMessage(t *testing.T) {
	err := fmt.Errorf("hostId is required: %w", ErrValidation)
	if got := Message(err); got != "hostId is required" {
		t.Fatalf("unexpected message %q", got)
	}
	if Message(nil) != "" {
		t.Fatalf("expected empty message")
	}
}

func TestFromStatus(t *testing.T) {
	if !errors.Is(FromStatus(http.StatusNotFound), ErrNotFound) {
		t.Fatalf("expected not found")
	}
	if !errors.Is(FromStatus(http.StatusForbidden), ErrForbidden) {
		t.Fatalf("expected forbidden")
	}
	if !errors.Is(FromStatus(http.StatusBadGateway), ErrTransport) {
		t.Fatalf("expected transport")
	}
	if FromStatus(http.StatusOK) != nil {
		t.Fatalf("expected nil for success")
	}
}
