package transport

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorClassificationThroughWrapping(t *testing.T) {
	rl := fmt.Errorf("copy: %w", &RateLimitError{Wait: 5 * time.Second})
	got, ok := AsRateLimit(rl)
	if !ok || got.Wait != 5*time.Second {
		t.Fatalf("AsRateLimit = %v, %v", got, ok)
	}
	if IsRejected(rl) {
		t.Fatalf("rate limit must not be rejected")
	}

	rej := fmt.Errorf("copy: %w", &RejectedError{Code: 403, Description: "bot was blocked by the user"})
	if !IsRejected(rej) {
		t.Fatalf("expected rejected")
	}
	if _, ok := AsRateLimit(rej); ok {
		t.Fatalf("rejected must not be rate limit")
	}

	other := errors.New("connection reset")
	if IsRejected(other) {
		t.Fatalf("unclassified error classified as rejected")
	}
	if _, ok := AsRateLimit(other); ok {
		t.Fatalf("unclassified error classified as rate limit")
	}
}
