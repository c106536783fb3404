package registration

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/EternisAI/silo-config/internal/registry"
	"github.com/EternisAI/silo-config/pkg/settings"
)

type Outcome int

const (
	InitialRegistration Outcome = iota
	RegistrationNoChange
	RegistrationWithChange
)

var outcomeNames = map[Outcome]string{
	InitialRegistration:    "initial_registration",
	RegistrationNoChange:   "registration_no_change",
	RegistrationWithChange: "registration_with_change",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "unknown"
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Diff lists, by name, how an incoming schema differs from the stored one.
// Changed covers kind, default, validation, secrecy and grouping; Metadata
// covers description and display order only.
type Diff struct {
	Added    []string `json:"added,omitempty"`
	Removed  []string `json:"removed,omitempty"`
	Changed  []string `json:"changed,omitempty"`
	Metadata []string `json:"metadata,omitempty"`
}

func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0 && len(d.Metadata) == 0
}

func (d Diff) touches(name string) bool {
	return slices.Contains(d.Added, name) || slices.Contains(d.Changed, name) || slices.Contains(d.Metadata, name)
}

// DiffSchemas compares two schemas by setting name, ignoring declaration
// order.
func DiffSchemas(stored, incoming settings.Schema) Diff {
	var d Diff
	for _, def := range incoming {
		old, ok := stored.Lookup(def.Name)
		switch {
		case !ok:
			d.Added = append(d.Added, def.Name)
		case !old.StructurallyEqual(def):
			d.Changed = append(d.Changed, def.Name)
		case !old.MetadataEqual(def):
			d.Metadata = append(d.Metadata, def.Name)
		}
	}
	for _, def := range stored {
		if _, ok := incoming.Lookup(def.Name); !ok {
			d.Removed = append(d.Removed, def.Name)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Changed)
	sort.Strings(d.Metadata)
	return d
}

// Reconcile classifies an incoming schema against the stored registration.
func Reconcile(stored *registry.Registration, incoming settings.Schema) (Outcome, Diff) {
	if stored == nil {
		return InitialRegistration, Diff{Added: sortedNames(incoming)}
	}
	d := DiffSchemas(stored.Schema, incoming)
	if d.Empty() {
		return RegistrationNoChange, d
	}
	return RegistrationWithChange, d
}

func sortedNames(s settings.Schema) []string {
	names := s.Names()
	sort.Strings(names)
	return names
}

// valueLookup finds the most recent historical value of a setting.
type valueLookup func(name string, kind settings.Kind) (settings.Value, bool, error)

// applySchema moves reg onto incoming. Surviving settings keep their value,
// re-added settings get their last historical value back, new ones start at
// their default, and a setting whose kind changed keeps its value only if it
// converts and still validates. It returns the history entries for every
// value that was set.
func applySchema(reg *registry.Registration, incoming settings.Schema, lookup valueLookup, now time.Time) ([]registry.HistoryEntry, error) {
	values := make(settings.Values, len(incoming))
	var history []registry.HistoryEntry
	record := func(def settings.Definition, v settings.Value, src registry.HistorySource) {
		history = append(history, registry.HistoryEntry{
			Identity:  reg.Identity,
			Name:      def.Name,
			Kind:      def.Kind,
			Value:     v,
			Source:    src,
			ChangedAt: now,
		})
	}

	for _, def := range incoming {
		old, existed := reg.Schema.Lookup(def.Name)
		current := reg.Values[def.Name]

		switch {
		case !existed:
			v, src := def.Default, registry.SourceDefault
			last, ok, err := lookup(def.Name, def.Kind)
			if err != nil {
				return nil, err
			}
			if ok && def.Validate(last) == nil {
				v, src = last, registry.SourceRestore
			}
			values[def.Name] = v
			record(def, v, src)

		case old.Kind != def.Kind:
			v := def.Default
			if converted, err := current.Convert(def.Kind); err == nil && !converted.IsZero() && def.Validate(converted) == nil {
				v = converted
			}
			values[def.Name] = v
			record(def, v, registry.SourceRegistration)

		case def.Validate(current) != nil:
			values[def.Name] = def.Default
			record(def, def.Default, registry.SourceRegistration)

		default:
			values[def.Name] = current
		}
	}

	for name := range reg.Overrides {
		if _, ok := incoming.Lookup(name); !ok {
			delete(reg.Overrides, name)
		}
	}

	reg.Schema = incoming.Clone()
	reg.Values = values
	reg.Fingerprint = incoming.Fingerprint()
	return history, nil
}

// propagate carries a base schema change into one instance. Definitions the
// base added or changed replace the instance's, removed ones are dropped, and
// every setting the instance has not overridden takes the base value.
func propagate(inst, base *registry.Registration, d Diff, now time.Time) []registry.HistoryEntry {
	var schema settings.Schema
	for _, def := range inst.Schema {
		if slices.Contains(d.Removed, def.Name) {
			delete(inst.Overrides, def.Name)
			continue
		}
		if d.touches(def.Name) {
			if baseDef, ok := base.Schema.Lookup(def.Name); ok {
				def = baseDef
			}
		}
		schema = append(schema, def)
	}
	for _, name := range d.Added {
		if _, ok := schema.Lookup(name); ok {
			continue
		}
		if baseDef, ok := base.Schema.Lookup(name); ok {
			schema = append(schema, baseDef)
		}
	}

	before := inst.Values
	values := make(settings.Values, len(schema))
	for _, def := range schema {
		current, has := before[def.Name]
		if inst.Overrides[def.Name] && has && def.Validate(current) == nil {
			values[def.Name] = current
			continue
		}
		delete(inst.Overrides, def.Name)
		if baseDef, ok := base.Schema.Lookup(def.Name); ok && baseDef.Kind == def.Kind {
			values[def.Name] = base.Values[def.Name]
			continue
		}
		if has && def.Validate(current) == nil {
			values[def.Name] = current
		} else {
			values[def.Name] = def.Default
		}
	}

	var history []registry.HistoryEntry
	for _, name := range settings.ChangedNames(before, values) {
		v, ok := values[name]
		if !ok {
			continue
		}
		def, _ := schema.Lookup(name)
		history = append(history, registry.HistoryEntry{
			Identity:  inst.Identity,
			Name:      name,
			Kind:      def.Kind,
			Value:     v,
			Source:    registry.SourcePropagation,
			ChangedAt: now,
		})
	}

	inst.Schema = schema
	inst.Values = values
	inst.Fingerprint = schema.Fingerprint()
	return history
}

// lookupFor adapts a transaction to a valueLookup for one identity.
func lookupFor(ctx context.Context, tx registry.Tx, id registry.Identity) valueLookup {
	return func(name string, kind settings.Kind) (settings.Value, bool, error) {
		return tx.LastValue(ctx, id, name, kind)
	}
}
