package totp

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

// fakeEngine returns a code derived from the window number so tests can
// tell windows apart, and counts generations
type fakeEngine struct {
	period    time.Duration
	generated int
	fail      error
}

func (f *fakeEngine) Code(secret string, at time.Time) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	f.generated++
	return fmt.Sprintf("%06d", at.Unix()/int64(f.period.Seconds())%1000000), nil
}

func (f *fakeEngine) Period() time.Duration {
	return f.period
}

func newTestCache(engine Engine, start time.Time) (*Cache, *time.Time) {
	now := start
	cache := NewCache(engine, NewMemoryStore())
	cache.now = func() time.Time { return now }
	return cache, &now
}

func TestCacheReusesCodeWithinWindow(t *testing.T) {
	engine := &fakeEngine{period: 30 * time.Second}
	start := time.Unix(1700000000, 0).Truncate(30 * time.Second).Add(2 * time.Second)
	cache, _ := newTestCache(engine, start)

	first, err := cache.Code("SECRET", false)
	if err != nil {
		t.Fatalf("Code() error: %v", err)
	}

	second, err := cache.Code("SECRET", false)
	if err != nil {
		t.Fatalf("Code() error: %v", err)
	}

	if first != second {
		t.Errorf("codes differ within one window: %q vs %q", first, second)
	}
	if engine.generated != 1 {
		t.Errorf("generated = %d, want 1", engine.generated)
	}
}

func TestCacheRegeneratesInsideSafetyBuffer(t *testing.T) {
	engine := &fakeEngine{period: 30 * time.Second}
	start := time.Unix(1700000000, 0).Truncate(30 * time.Second)
	cache, now := newTestCache(engine, start)

	if _, err := cache.Code("SECRET", false); err != nil {
		t.Fatalf("Code() error: %v", err)
	}

	// 6 seconds before expiry: still outside the buffer, reuse
	*now = start.Add(30*time.Second - 6*time.Second)
	if _, err := cache.Code("SECRET", false); err != nil {
		t.Fatalf("Code() error: %v", err)
	}
	if engine.generated != 1 {
		t.Errorf("generated = %d after reuse, want 1", engine.generated)
	}

	// 3 seconds before expiry: inside the buffer, regenerate
	*now = start.Add(30*time.Second - 3*time.Second)
	if _, err := cache.Code("SECRET", false); err != nil {
		t.Fatalf("Code() error: %v", err)
	}
	if engine.generated != 2 {
		t.Errorf("generated = %d after buffer crossing, want 2", engine.generated)
	}
}

func TestCacheForcedRefresh(t *testing.T) {
	engine := &fakeEngine{period: 30 * time.Second}
	cache, _ := newTestCache(engine, time.Unix(1700000000, 0))

	if _, err := cache.Code("SECRET", false); err != nil {
		t.Fatalf("Code() error: %v", err)
	}
	if _, err := cache.Code("SECRET", true); err != nil {
		t.Fatalf("Code(refresh) error: %v", err)
	}

	if engine.generated != 2 {
		t.Errorf("generated = %d, want 2 (refresh must bypass the cache)", engine.generated)
	}
}

func TestCacheNoEngine(t *testing.T) {
	cache := NewCache(nil, NewMemoryStore())

	_, err := cache.Code("SECRET", false)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Code() error = %v, want ErrUnavailable", err)
	}
}

func TestCacheEngineFailureSurfaces(t *testing.T) {
	boom := errors.New("bad secret")
	engine := &fakeEngine{period: 30 * time.Second, fail: boom}
	cache, _ := newTestCache(engine, time.Unix(1700000000, 0))

	_, err := cache.Code("not-base32", false)
	if !errors.Is(err, boom) {
		t.Errorf("Code() error = %v, want %v", err, boom)
	}
}

func TestTimeRemaining(t *testing.T) {
	engine := &fakeEngine{period: 30 * time.Second}
	start := time.Unix(1700000000, 0).Truncate(30 * time.Second)
	cache, now := newTestCache(engine, start)

	// No cached entry
	if got := cache.TimeRemaining("SECRET"); got != 0 {
		t.Errorf("TimeRemaining() = %v for empty cache, want 0", got)
	}

	if _, err := cache.Code("SECRET", false); err != nil {
		t.Fatalf("Code() error: %v", err)
	}

	if got := cache.TimeRemaining("SECRET"); got != 30*time.Second {
		t.Errorf("TimeRemaining() = %v, want 30s", got)
	}

	// Past expiry the value clamps at zero
	*now = start.Add(45 * time.Second)
	if got := cache.TimeRemaining("SECRET"); got != 0 {
		t.Errorf("TimeRemaining() = %v past expiry, want 0", got)
	}
}

func TestCacheIndependentSecrets(t *testing.T) {
	engine := &fakeEngine{period: 30 * time.Second}
	cache, _ := newTestCache(engine, time.Unix(1700000000, 0))

	if _, err := cache.Code("ALPHA", false); err != nil {
		t.Fatalf("Code() error: %v", err)
	}
	if _, err := cache.Code("BRAVO", false); err != nil {
		t.Fatalf("Code() error: %v", err)
	}

	if engine.generated != 2 {
		t.Errorf("generated = %d, want one per secret", engine.generated)
	}
}

func TestRFC6238EngineDeterministic(t *testing.T) {
	engine := NewEngine()
	at := time.Unix(1700000010, 0)

	a, err := engine.Code("JBSWY3DPEHPK3PXP", at)
	if err != nil {
		t.Fatalf("Code() error: %v", err)
	}
	b, err := engine.Code("JBSWY3DPEHPK3PXP", at.Add(5*time.Second))
	if err != nil {
		t.Fatalf("Code() error: %v", err)
	}

	if a != b {
		t.Errorf("codes differ within one window: %q vs %q", a, b)
	}
	if len(a) != 6 {
		t.Errorf("code length = %d, want 6", len(a))
	}
}

func TestRFC6238EngineBadSecret(t *testing.T) {
	engine := NewEngine()
	if _, err := engine.Code("not base32 at all!!", time.Now()); err == nil {
		t.Error("Code() with malformed secret should fail")
	}
}
