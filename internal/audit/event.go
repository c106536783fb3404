// Package audit defines the events recorded for registrations, secret
// rotations and authentication failures, and the sinks they are forwarded to.
package audit

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type EventType string

const (
	EventInitialRegistration    EventType = "initial_registration"
	EventRegistrationNoChange   EventType = "registration_no_change"
	EventRegistrationWithChange EventType = "registration_with_change"
	EventSecretMismatch         EventType = "secret_mismatch"
	EventSecretRotated          EventType = "secret_rotated"
	EventRotationRejected       EventType = "secret_rotation_rejected"
	EventPreviousSecretExpired  EventType = "previous_secret_expired"
	EventValuesUpdated          EventType = "values_updated"
	EventLiveReloadChanged      EventType = "live_reload_changed"
	EventClientDeleted          EventType = "client_deleted"
)

// Event is one audit record. Details carries event-specific data such as the
// added, removed and changed setting names of a registration.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	ClientName string         `json:"client_name,omitempty"`
	Instance   string         `json:"instance,omitempty"`
	RemoteIP   string         `json:"remote_ip,omitempty"`
	Host       string         `json:"host,omitempty"`
	Message    string         `json:"message,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewEvent stamps a new event with a sortable id.
func NewEvent(typ EventType, clientName, instance string, at time.Time) Event {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(at), entropy)
	entropyMu.Unlock()

	return Event{
		ID:         id.String(),
		Type:       typ,
		ClientName: clientName,
		Instance:   instance,
		OccurredAt: at,
		Details:    map[string]any{},
	}
}

// WithCaller attaches the caller's network identity.
func (e Event) WithCaller(remoteIP, host string) Event {
	e.RemoteIP = remoteIP
	e.Host = host
	return e
}

func (e Event) With(key string, value any) Event {
	details := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	e.Details = details
	return e
}
