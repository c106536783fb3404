package settings

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Schema is the ordered list of settings a client declares.
type Schema []Definition

func (s Schema) Lookup(name string) (Definition, bool) {
	for _, d := range s {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}

func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, d := range s {
		names[i] = d.Name
	}
	return names
}

// Validate rejects duplicate names and invalid definitions.
func (s Schema) Validate() error {
	seen := make(map[string]struct{}, len(s))
	for _, d := range s {
		if _, dup := seen[d.Name]; dup {
			return fmt.Errorf("%w: duplicate setting %q", ErrValidation, d.Name)
		}
		seen[d.Name] = struct{}{}
		if err := d.Check(); err != nil {
			return err
		}
	}
	return nil
}

// Defaults returns the declared default of every setting.
func (s Schema) Defaults() Values {
	out := make(Values, len(s))
	for _, d := range s {
		out[d.Name] = d.Default
	}
	return out
}

// Clone returns a copy that shares no slices with s.
func (s Schema) Clone() Schema {
	out := make(Schema, len(s))
	for i, d := range s {
		d.Validation.Allowed = append([]string(nil), d.Validation.Allowed...)
		out[i] = d
	}
	return out
}

// Fingerprint hashes the schema independently of declaration order.
func (s Schema) Fingerprint() string {
	sorted := s.Clone()
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	data, _ := json.Marshal(sorted)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
