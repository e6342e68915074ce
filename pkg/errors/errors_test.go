package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppErrorWrapsSentinel(t *testing.T) {
	err := New(ErrInvalidInput, http.StatusBadRequest, "q is required")
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("AppError must unwrap to its sentinel")
	}
	if err.Error() != "invalid input: q is required" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{New(ErrInvalidInput, http.StatusBadRequest, "bad"), http.StatusBadRequest},
		{ErrInvalidInput, http.StatusBadRequest},
		{fmt.Errorf("fetching: %w", ErrUpstream), http.StatusServiceUnavailable},
		{ErrTimeout, http.StatusServiceUnavailable},
		{errors.New("mystery"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatusCode(tt.err); got != tt.want {
			t.Errorf("HTTPStatusCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
