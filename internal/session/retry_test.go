package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hfi/kvmd-client/internal/audit"
	"github.com/hfi/kvmd-client/internal/kvmd"
	"github.com/hfi/kvmd-client/internal/totp"
)

// countingEngine counts code generations so tests can assert exactly
// how many credential refreshes happened
type countingEngine struct {
	mu     sync.Mutex
	period time.Duration
	n      int
}

func (e *countingEngine) Code(_ string, _ time.Time) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.n++
	return fmt.Sprintf("%06d", e.n), nil
}

func (e *countingEngine) Period() time.Duration {
	return e.period
}

func (e *countingEngine) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.n
}

// retryConn builds a client with a counting engine; construction
// itself generates the first code
func retryConn(t *testing.T) (*kvmd.Client, *countingEngine) {
	t.Helper()

	engine := &countingEngine{period: 24 * time.Hour}
	conn, err := kvmd.New(kvmd.Options{
		Hostname: "device.example.com",
		Username: "admin",
		Password: "pw",
		Secret:   "JBSWY3DPEHPK3PXP",
		Codes:    totp.NewCache(engine, totp.NewMemoryStore()),
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("kvmd.New() error: %v", err)
	}
	return conn, engine
}

func TestRetrySucceedsAfterOneRefresh(t *testing.T) {
	conn, engine := retryConn(t)

	attempts := 0
	err := WithSecondFactorRetry(conn, audit.Nop(), 1, func() error {
		attempts++
		if attempts == 1 {
			return &kvmd.SecondFactorExpiredError{Host: "device.example.com"}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("WithSecondFactorRetry() error: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	// One generation at construction plus exactly one forced refresh
	if engine.calls() != 2 {
		t.Errorf("code generations = %d, want 2", engine.calls())
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	conn, engine := retryConn(t)

	attempts := 0
	err := WithSecondFactorRetry(conn, audit.Nop(), 1, func() error {
		attempts++
		return &kvmd.SecondFactorExpiredError{Host: "device.example.com"}
	})

	if !kvmd.IsSecondFactorExpired(err) {
		t.Errorf("error = %v, want the expiry surfaced unchanged", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want exactly one retry", attempts)
	}
	if engine.calls() != 2 {
		t.Errorf("code generations = %d, want 2", engine.calls())
	}
}

func TestNoRetryOnPlainCredentialFailure(t *testing.T) {
	conn, engine := retryConn(t)

	attempts := 0
	err := WithSecondFactorRetry(conn, audit.Nop(), 1, func() error {
		attempts++
		return kvmd.ErrAuthRejected
	})

	if !errors.Is(err, kvmd.ErrAuthRejected) {
		t.Errorf("error = %v, want ErrAuthRejected", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (credential failures are never retried)", attempts)
	}
	if engine.calls() != 1 {
		t.Errorf("code generations = %d, want 1 (no refresh)", engine.calls())
	}
}

func TestNoRetryOnAuthRequired(t *testing.T) {
	conn, _ := retryConn(t)

	attempts := 0
	err := WithSecondFactorRetry(conn, audit.Nop(), 1, func() error {
		attempts++
		return kvmd.ErrAuthRequired
	})

	if !errors.Is(err, kvmd.ErrAuthRequired) {
		t.Errorf("error = %v, want ErrAuthRequired", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestZeroBudgetNeverRetries(t *testing.T) {
	conn, _ := retryConn(t)

	attempts := 0
	err := WithSecondFactorRetry(conn, audit.Nop(), 0, func() error {
		attempts++
		return &kvmd.SecondFactorExpiredError{Host: "device.example.com"}
	})

	if !kvmd.IsSecondFactorExpired(err) {
		t.Errorf("error = %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetrySuccessFirstTry(t *testing.T) {
	conn, engine := retryConn(t)

	err := WithSecondFactorRetry(conn, audit.Nop(), 1, func() error { return nil })
	if err != nil {
		t.Fatalf("WithSecondFactorRetry() error: %v", err)
	}
	if engine.calls() != 1 {
		t.Errorf("code generations = %d, want 1", engine.calls())
	}
}

func TestRetryWrappedExpiryError(t *testing.T) {
	conn, _ := retryConn(t)

	attempts := 0
	err := WithSecondFactorRetry(conn, audit.Nop(), 1, func() error {
		attempts++
		if attempts == 1 {
			return fmt.Errorf("atx power failed: %w",
				&kvmd.SecondFactorExpiredError{Host: "device.example.com"})
		}
		return nil
	})

	if err != nil {
		t.Fatalf("wrapped expiry was not retried: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}
