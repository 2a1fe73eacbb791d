package kvmd

import (
	"errors"
	"fmt"
)

// Sentinel errors for the auth failure classes the device reports.
var (
	// ErrAuthRequired means no valid credential or session was presented (HTTP 401)
	ErrAuthRequired = errors.New("authentication required")

	// ErrAuthRejected means the credentials were refused and no second
	// factor is in play (HTTP 403 without a configured secret)
	ErrAuthRejected = errors.New("authentication rejected: incorrect credentials")
)

// SecondFactorExpiredError means the device refused a request in a way
// consistent with the one-time code crossing into the next window
// before the server processed it (HTTP 403 with a secret configured).
// This is the only auth failure the retry helper acts on.
type SecondFactorExpiredError struct {
	Host string
}

func (e *SecondFactorExpiredError) Error() string {
	return fmt.Sprintf("authentication rejected by %s: one-time code may have expired", e.Host)
}

// IsSecondFactorExpired reports whether err is a code-window expiry rejection
func IsSecondFactorExpired(err error) bool {
	var e *SecondFactorExpiredError
	return errors.As(err, &e)
}

// APIError is a non-auth failure reported by the device API
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API request failed: %s", e.Message)
	}
	return fmt.Sprintf("API request failed: HTTP %d", e.Status)
}
