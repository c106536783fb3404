// Package registration authenticates clients, reconciles the schemas they
// register against stored state, and serves their values.
package registration

import (
	"time"

	"github.com/EternisAI/silo-config/internal/registry"
	"github.com/EternisAI/silo-config/internal/secrets"
)

// Status classifies a call against existing registration state.
type Status int

const (
	NoExistingRegistration Status = iota
	MatchesCurrentSecret
	MatchesPreviousSecretWithinWindow
	SecretMismatch
)

var statusNames = map[Status]string{
	NoExistingRegistration:            "no_existing_registration",
	MatchesCurrentSecret:              "matches_current_secret",
	MatchesPreviousSecretWithinWindow: "matches_previous_secret_within_window",
	SecretMismatch:                    "secret_mismatch",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ResolveStatus checks presented against the current secret of existing and,
// while the rotation window is open, against the previous one. A nil existing
// registration accepts any secret.
func ResolveStatus(existing *registry.Registration, presented string, now time.Time) Status {
	return resolveStatus(existing, presented, now, secrets.Matches)
}

func resolveStatus(existing *registry.Registration, presented string, now time.Time, matches func(presented, storedHash string) bool) Status {
	if existing == nil {
		return NoExistingRegistration
	}
	if matches(presented, existing.SecretHash) {
		return MatchesCurrentSecret
	}
	if existing.RotationPending(now) && matches(presented, existing.PreviousSecretHash) {
		return MatchesPreviousSecretWithinWindow
	}
	return SecretMismatch
}
