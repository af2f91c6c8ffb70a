package transport

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotMember reports that a user is not (or no longer) a chat member.
var ErrNotMember = errors.New("transport: not a member")

// RateLimitError asks the caller to wait before sending again.
type RateLimitError struct {
	Wait time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.Wait)
}

// RejectedError is a permanent per-recipient refusal (bot blocked, user
// deactivated, chat not found, ...).
type RejectedError struct {
	Code        int
	Description string
}

func (e *RejectedError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("rejected (%d): %s", e.Code, e.Description)
	}
	return "rejected: " + e.Description
}

// AsRateLimit unwraps a *RateLimitError from err.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// IsRejected reports whether err carries a *RejectedError.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
