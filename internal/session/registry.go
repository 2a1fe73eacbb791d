// Package session pools authenticated device connections so that many
// short-lived operations share login round-trips instead of each
// paying for one.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hfi/kvmd-client/internal/audit"
	"github.com/hfi/kvmd-client/internal/kvmd"
	"github.com/hfi/kvmd-client/internal/metrics"
	"github.com/hfi/kvmd-client/internal/totp"
)

// Key identifies one pooled connection. Two logically different
// devices or users never share a pooled handle.
type Key struct {
	Username string
	Hostname string
	Scheme   string
}

// Options describes the connection a caller wants
type Options struct {
	Hostname  string
	Username  string
	Password  string
	Secret    string
	Scheme    string // "https" (default) or "http"
	VerifyTLS bool

	// ForceNew bypasses the pool and replaces any existing entry
	ForceNew bool
}

func (o Options) key() Key {
	scheme := o.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return Key{Username: o.Username, Hostname: o.Hostname, Scheme: scheme}
}

type pooledConn struct {
	client   *kvmd.Client
	lastUsed time.Time
}

// Config holds registry construction parameters
type Config struct {
	// Codes supplies one-time codes for devices with a second factor
	Codes *totp.Cache

	// RequestTimeout applies to every device call made by pooled handles
	RequestTimeout time.Duration

	Logger zerolog.Logger
	Audit  *audit.Trail
}

// Registry is a pool of authenticated device connections keyed by
// identity. It is safe for concurrent use: a single mutex guards the
// pool map, and all network I/O (login, logout, probes) happens
// outside the lock so one slow device never blocks the others.
type Registry struct {
	mu   sync.Mutex
	pool map[Key]*pooledConn

	codes   *totp.Cache
	timeout time.Duration
	log     zerolog.Logger
	trail   *audit.Trail
	now     func() time.Time
}

// NewRegistry creates an empty connection registry
func NewRegistry(cfg Config) *Registry {
	trail := cfg.Audit
	if trail == nil {
		trail = audit.Nop()
	}

	return &Registry{
		pool:    make(map[Key]*pooledConn),
		codes:   cfg.Codes,
		timeout: cfg.RequestTimeout,
		log:     cfg.Logger,
		trail:   trail,
		now:     time.Now,
	}
}

// GetConnection returns a pooled connection for the identity in opts,
// reusing a live one when its session still validates, re-logging-in a
// stale one, and otherwise creating and authenticating a fresh handle.
//
// A refused login is not fatal here: the handle is returned anyway and
// the failure surfaces on the caller's first operation. An unavailable
// second factor is fatal, as no credential can ever be computed.
func (r *Registry) GetConnection(ctx context.Context, opts Options) (*kvmd.Client, error) {
	key := opts.key()

	if !opts.ForceNew {
		r.mu.Lock()
		entry, ok := r.pool[key]
		r.mu.Unlock()

		if ok {
			// Probe and re-login outside the lock
			if entry.client.CheckAuth(ctx) {
				r.touch(key)
				r.trail.Record(audit.Event{
					Type: audit.EventConnectionReused,
					Host: key.Hostname, User: key.Username,
					ConnectionID: entry.client.ID(),
				})
				return entry.client, nil
			}

			if ok, err := entry.client.Login(ctx); err == nil && ok {
				r.touch(key)
				return entry.client, nil
			}
			// Stale beyond repair, fall through to fresh creation.
			// The re-login's own failure is deliberately not surfaced;
			// the creation path below reports anything fatal.
			r.log.Debug().
				Str("host", key.Hostname).
				Str("user", key.Username).
				Msg("pooled connection failed revalidation, replacing")
		}
	}

	client, err := kvmd.New(kvmd.Options{
		Hostname:  opts.Hostname,
		Username:  opts.Username,
		Password:  opts.Password,
		Secret:    opts.Secret,
		Scheme:    opts.Scheme,
		VerifyTLS: opts.VerifyTLS,
		Timeout:   r.timeout,
		Codes:     r.codes,
		Logger:    r.log,
	})
	if err != nil {
		return nil, err
	}

	if !client.CheckAuth(ctx) {
		ok, err := client.Login(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Unauthenticated handle; first operation will surface it
			r.trail.Record(audit.Event{
				Type: audit.EventLoginFailed,
				Host: key.Hostname, User: key.Username,
				ConnectionID: client.ID(),
			})
		} else {
			r.trail.Record(audit.Event{
				Type: audit.EventLogin,
				Host: key.Hostname, User: key.Username,
				ConnectionID: client.ID(),
			})
		}
	}

	r.mu.Lock()
	r.pool[key] = &pooledConn{client: client, lastUsed: r.now()}
	metrics.PoolSize.Set(float64(len(r.pool)))
	r.mu.Unlock()

	r.trail.Record(audit.Event{
		Type: audit.EventConnectionCreated,
		Host: key.Hostname, User: key.Username,
		ConnectionID: client.ID(),
	})

	return client, nil
}

// touch updates the last-used timestamp of a pooled entry
func (r *Registry) touch(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.pool[key]; ok {
		entry.lastUsed = r.now()
	}
}

// CloseConnection removes the pooled entry for an identity, attempting
// a best-effort logout first. It reports whether an entry existed.
func (r *Registry) CloseConnection(ctx context.Context, hostname, username, scheme string) bool {
	key := Options{Hostname: hostname, Username: username, Scheme: scheme}.key()

	r.mu.Lock()
	entry, ok := r.pool[key]
	if ok {
		delete(r.pool, key)
		metrics.PoolSize.Set(float64(len(r.pool)))
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	r.logout(ctx, key, entry, audit.EventConnectionClosed)
	return true
}

// CloseAll removes every pooled entry with best-effort logout and
// returns the number removed
func (r *Registry) CloseAll(ctx context.Context) int {
	r.mu.Lock()
	removed := make(map[Key]*pooledConn, len(r.pool))
	for key, entry := range r.pool {
		removed[key] = entry
		delete(r.pool, key)
	}
	metrics.PoolSize.Set(0)
	r.mu.Unlock()

	for key, entry := range removed {
		r.logout(ctx, key, entry, audit.EventConnectionClosed)
	}

	return len(removed)
}

// CleanIdle removes every entry whose last use is strictly older than
// maxIdle and returns the number evicted. The registry never schedules
// this itself; callers own the timer.
func (r *Registry) CleanIdle(ctx context.Context, maxIdle time.Duration) int {
	now := r.now()

	r.mu.Lock()
	stale := make(map[Key]*pooledConn)
	for key, entry := range r.pool {
		if now.Sub(entry.lastUsed) > maxIdle {
			stale[key] = entry
			delete(r.pool, key)
		}
	}
	metrics.PoolSize.Set(float64(len(r.pool)))
	r.mu.Unlock()

	for key, entry := range stale {
		r.logout(ctx, key, entry, audit.EventConnectionEvicted)
		metrics.ConnectionsEvictedTotal.Inc()
	}

	return len(stale)
}

// Len returns the current pool size
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pool)
}

// logout is the best-effort teardown shared by close and eviction:
// a failed logout is logged and audited, removal has already happened
func (r *Registry) logout(ctx context.Context, key Key, entry *pooledConn, event audit.EventType) {
	if err := entry.client.Logout(ctx); err != nil {
		r.log.Debug().
			Err(err).
			Str("host", key.Hostname).
			Str("user", key.Username).
			Msg("logout failed during teardown")
		r.trail.Record(audit.Event{
			Type: audit.EventLogoutFailed,
			Host: key.Hostname, User: key.Username,
			ConnectionID: entry.client.ID(),
			Error:        err.Error(),
		})
	} else {
		r.trail.Record(audit.Event{
			Type: audit.EventLogout,
			Host: key.Hostname, User: key.Username,
			ConnectionID: entry.client.ID(),
		})
	}

	r.trail.Record(audit.Event{
		Type: event,
		Host: key.Hostname, User: key.Username,
		ConnectionID: entry.client.ID(),
	})
}
