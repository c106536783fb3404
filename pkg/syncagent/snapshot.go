package syncagent

import (
	"time"

	"github.com/EternisAI/silo-config/pkg/settings"
)

type Provenance string

const (
	ProvenanceServer  Provenance = "server"
	ProvenanceOffline Provenance = "offline"
)

// Snapshot is one complete, immutable set of values. Readers never see a
// partially applied update: the agent swaps whole snapshots.
type Snapshot struct {
	ClientName string          `json:"client_name"`
	Instance   string          `json:"instance,omitempty"`
	Values     settings.Values `json:"values"`
	// ChangedAt is the server's timestamp for these values.
	ChangedAt  time.Time  `json:"changed_at"`
	ObtainedAt time.Time  `json:"obtained_at"`
	Provenance Provenance `json:"provenance"`
}

func (s *Snapshot) Get(name string) (settings.Value, bool) {
	if s == nil {
		return settings.Value{}, false
	}
	v, ok := s.Values[name]
	return v, ok
}

func (s *Snapshot) String(name string) string {
	v, _ := s.Get(name)
	return v.String()
}

func (s *Snapshot) Int(name string) (int64, bool) {
	v, _ := s.Get(name)
	return v.AsInt()
}

func (s *Snapshot) Bool(name string) (bool, bool) {
	v, _ := s.Get(name)
	return v.AsBool()
}

func (s *Snapshot) Duration(name string) (time.Duration, bool) {
	v, _ := s.Get(name)
	return v.AsDuration()
}

func (s *Snapshot) values() settings.Values {
	if s == nil {
		return nil
	}
	return s.Values
}
