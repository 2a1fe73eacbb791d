// Package audit records the authentication lifecycle of device
// sessions as a structured event trail.
package audit

import (
	"github.com/rs/zerolog"
)

// EventType represents the type of audit event
type EventType string

const (
	EventLogin             EventType = "login"
	EventLoginFailed       EventType = "login_failed"
	EventLogout            EventType = "logout"
	EventLogoutFailed      EventType = "logout_failed"
	EventConnectionCreated EventType = "connection_created"
	EventConnectionReused  EventType = "connection_reused"
	EventConnectionClosed  EventType = "connection_closed"
	EventConnectionEvicted EventType = "connection_evicted"
	EventSecondFactorRetry EventType = "second_factor_retry"
)

// Event represents an audit trail entry
type Event struct {
	Type         EventType
	Host         string
	User         string
	ConnectionID string
	Error        string
}

// Config holds audit trail configuration
type Config struct {
	// Enabled enables/disables the audit trail
	Enabled bool `yaml:"enabled"`

	// Level controls what events are recorded
	// "minimal" - only auth failures and retries
	// "standard" - auth failures, retries, logins and logouts
	// "verbose" - all events including pool bookkeeping
	Level string `yaml:"level"`
}

// DefaultConfig returns the default audit configuration
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Level:   "standard",
	}
}

// Trail records audit events through a structured logger
type Trail struct {
	config Config
	log    zerolog.Logger
}

// New creates an audit trail writing to the given logger
func New(cfg Config, logger zerolog.Logger) *Trail {
	return &Trail{
		config: cfg,
		log:    logger,
	}
}

// Nop returns a disabled trail for tests and embedded use
func Nop() *Trail {
	return New(Config{Enabled: false}, zerolog.Nop())
}

// Record writes an audit event
func (t *Trail) Record(e Event) {
	if t == nil || !t.config.Enabled {
		return
	}

	if !t.shouldRecord(e.Type) {
		return
	}

	entry := t.log.Info().
		Str("audit", string(e.Type)).
		Str("host", e.Host).
		Str("user", e.User)

	if e.ConnectionID != "" {
		entry = entry.Str("connection_id", e.ConnectionID)
	}
	if e.Error != "" {
		entry = entry.Str("error", e.Error)
	}

	entry.Send()
}

func (t *Trail) shouldRecord(eventType EventType) bool {
	switch t.config.Level {
	case "minimal":
		return eventType == EventLoginFailed ||
			eventType == EventLogoutFailed ||
			eventType == EventSecondFactorRetry
	case "standard":
		return eventType != EventConnectionReused &&
			eventType != EventConnectionCreated
	case "verbose":
		return true
	default:
		return true
	}
}
