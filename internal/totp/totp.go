// Package totp provides time-based one-time code generation with a
// window-aware cache. A generated code is reused until shortly before
// its window closes, so repeated logins inside one window do not burn
// fresh codes.
package totp

import (
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	otpgen "github.com/pquerna/otp/totp"

	"github.com/hfi/kvmd-client/internal/metrics"
)

// ErrUnavailable is returned when a second-factor secret is configured
// but no code engine is available
var ErrUnavailable = errors.New("second factor unavailable: no TOTP engine configured")

// safetyBuffer keeps cached codes from being handed out so close to the
// window boundary that a round-trip could cross into the next window
const safetyBuffer = 5 * time.Second

// Engine generates one-time codes for a shared secret
type Engine interface {
	// Code computes the code for the window containing the given instant
	Code(secret string, at time.Time) (string, error)

	// Period returns the window length
	Period() time.Duration
}

// Entry is a cached code with its window's absolute expiry
type Entry struct {
	Code   string
	Expiry time.Time
}

// CodeStore defines the backing store for cached codes, keyed by secret
type CodeStore interface {
	// Get retrieves the cached entry for a secret
	Get(secret string) (Entry, bool)

	// Put stores or overwrites the entry for a secret
	Put(secret string, e Entry) error

	// Close releases any resources
	Close() error
}

// rfc6238Engine generates standard 30-second, 6-digit, SHA-1 codes
type rfc6238Engine struct {
	period time.Duration
}

// NewEngine creates the default RFC 6238 code engine
func NewEngine() Engine {
	return &rfc6238Engine{period: 30 * time.Second}
}

func (e *rfc6238Engine) Code(secret string, at time.Time) (string, error) {
	code, err := otpgen.GenerateCodeCustom(secret, at, otpgen.ValidateOpts{
		Period:    uint(e.period.Seconds()),
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate one-time code: %w", err)
	}
	return code, nil
}

func (e *rfc6238Engine) Period() time.Duration {
	return e.period
}

// Cache hands out one-time codes, reusing a previously generated code
// until it is within the safety buffer of its window boundary
type Cache struct {
	engine Engine
	store  CodeStore
	now    func() time.Time
}

// NewCache creates a code cache. A nil engine makes every Code call
// fail with ErrUnavailable, for runtimes without second-factor support.
func NewCache(engine Engine, store CodeStore) *Cache {
	return &Cache{
		engine: engine,
		store:  store,
		now:    time.Now,
	}
}

// Code returns a one-time code for the secret. With refresh false a
// cached, still-safe code is returned; otherwise a fresh code for the
// current window is generated, cached and returned.
func (c *Cache) Code(secret string, refresh bool) (string, error) {
	if c.engine == nil {
		return "", ErrUnavailable
	}

	now := c.now()

	if !refresh {
		if e, ok := c.store.Get(secret); ok && now.Before(e.Expiry.Add(-safetyBuffer)) {
			metrics.TOTPCacheHitsTotal.Inc()
			return e.Code, nil
		}
	}

	code, err := c.engine.Code(secret, now)
	if err != nil {
		return "", err
	}

	// Window-aligned expiry: the code is valid until the end of the
	// period containing now, not period seconds from now.
	expiry := now.Truncate(c.engine.Period()).Add(c.engine.Period())

	if err := c.store.Put(secret, Entry{Code: code, Expiry: expiry}); err != nil {
		return "", fmt.Errorf("failed to cache one-time code: %w", err)
	}
	metrics.TOTPCodesGeneratedTotal.Inc()

	return code, nil
}

// TimeRemaining returns the time until the cached code for the secret
// expires. It never returns a negative value and returns zero when
// nothing is cached.
func (c *Cache) TimeRemaining(secret string) time.Duration {
	e, ok := c.store.Get(secret)
	if !ok {
		return 0
	}

	remaining := e.Expiry.Sub(c.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Close releases the backing store
func (c *Cache) Close() error {
	return c.store.Close()
}
