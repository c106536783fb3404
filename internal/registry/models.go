// Package registry stores client registrations, their setting value history
// and the audit trail written alongside them.
package registry

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/EternisAI/silo-config/pkg/settings"
)

var ErrNotFound = errors.New("registration not found")

// Identity names a registration. An empty Instance is the base registration
// of the client.
type Identity struct {
	ClientName string `json:"client_name"`
	Instance   string `json:"instance,omitempty"`
}

func (id Identity) IsBase() bool { return id.Instance == "" }

func (id Identity) Base() Identity { return Identity{ClientName: id.ClientName} }

func (id Identity) String() string {
	if id.IsBase() {
		return id.ClientName
	}
	return id.ClientName + "/" + id.Instance
}

func (id Identity) Validate() error {
	if id.ClientName == "" {
		return errors.New("client name is required")
	}
	if len(id.ClientName) > 200 || len(id.Instance) > 200 {
		return fmt.Errorf("identity %q is too long", id.String())
	}
	return nil
}

// Registration is the stored state of one client or client instance.
type Registration struct {
	Identity

	SecretHash           string
	PreviousSecretHash   string
	PreviousSecretExpiry *time.Time

	Schema    settings.Schema
	Values    settings.Values
	Overrides map[string]bool

	LiveReload    bool
	SchemaVersion int
	Fingerprint   string

	RegisteredAt     time.Time
	LastRegisteredAt time.Time
	ValuesChangedAt  time.Time
}

func (r *Registration) Clone() *Registration {
	if r == nil {
		return nil
	}
	out := *r
	if r.PreviousSecretExpiry != nil {
		expiry := *r.PreviousSecretExpiry
		out.PreviousSecretExpiry = &expiry
	}
	out.Schema = r.Schema.Clone()
	out.Values = r.Values.Clone()
	out.Overrides = maps.Clone(r.Overrides)
	if out.Overrides == nil {
		out.Overrides = map[string]bool{}
	}
	return &out
}

// HasPreviousSecret reports whether a rotation left an old secret behind,
// expired or not.
func (r *Registration) HasPreviousSecret() bool {
	return r.PreviousSecretHash != "" && r.PreviousSecretExpiry != nil
}

// RotationPending reports whether the previous secret is still accepted.
func (r *Registration) RotationPending(now time.Time) bool {
	return r.HasPreviousSecret() && now.Before(*r.PreviousSecretExpiry)
}

func (r *Registration) ClearPreviousSecret() {
	r.PreviousSecretHash = ""
	r.PreviousSecretExpiry = nil
}

type HistorySource string

const (
	SourceDefault      HistorySource = "default"
	SourceRegistration HistorySource = "registration"
	SourceAdmin        HistorySource = "admin"
	SourcePropagation  HistorySource = "propagation"
	SourceRestore      HistorySource = "restore"
)

// HistoryEntry records one value a setting held.
type HistoryEntry struct {
	Identity
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	Kind      settings.Kind  `json:"kind"`
	Value     settings.Value `json:"value"`
	Source    HistorySource  `json:"source"`
	ChangedAt time.Time      `json:"changed_at"`
}

// AuditFilter narrows an audit query. Zero fields match everything.
type AuditFilter struct {
	ClientName string
	Type       string
	Limit      int
}

const defaultAuditLimit = 100

func (f AuditFilter) limit() int {
	if f.Limit <= 0 || f.Limit > 1000 {
		return defaultAuditLimit
	}
	return f.Limit
}
