package encoder

import (
	"errors"
	"testing"
)

func TestClassifyError(t *testing.T) {
	cases := map[string]ErrorType{
		"429 rate":                          ErrorRate,
		"encoder error 503: unavailable":    ErrorTransient,
		"dial tcp: connection refused":      ErrorTransient,
		"encoder vector 3 has dimension 12": ErrorShape,
		"bad request":                       ErrorPermanent,
	}
	for msg, want := range cases {
		if got := ClassifyError(errors.New(msg)); got != want {
			t.Fatalf("classify %q: got %s want %s", msg, got, want)
		}
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(errors.New("timeout")) {
		t.Fatal("timeout should be retryable")
	}
	if Retryable(errors.New("encoder vector 0 has dimension 7, want 768")) {
		t.Fatal("shape mismatch should not be retryable")
	}
}
