package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/EternisAI/silo-config/internal/audit"
	"github.com/EternisAI/silo-config/internal/registry"
	"github.com/EternisAI/silo-config/pkg/settings"
)

// authenticate loads the caller's own registration and checks its secret.
// Mismatches are audited before ErrAuthenticationFailure is returned.
func (s *Service) authenticate(ctx context.Context, id registry.Identity, secret string, caller Caller, operation string) (*registry.Registration, Status, error) {
	if err := id.Validate(); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	reg, err := s.store.Get(ctx, id)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, 0, ErrUnknownClient
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load %s: %w", id, err)
	}

	now := s.now()
	status := resolveStatus(reg, secret, now, s.verified.Matches)
	if status != SecretMismatch {
		return reg, status, nil
	}

	ev := mismatchEvent(id, caller, operation, now)
	if err := s.store.WithTx(ctx, id.ClientName, func(tx registry.Tx) error {
		return tx.RecordAudit(ctx, ev)
	}); err != nil {
		slog.Error("Failed to record secret mismatch", "client", id.ClientName, "error", err)
	}
	s.emit(ctx, []audit.Event{ev})
	s.metrics.RecordSecretMismatch(operation)
	return nil, status, ErrAuthenticationFailure
}

type ValuesResult struct {
	Values        settings.Values
	ChangedAt     time.Time
	LiveReload    bool
	SchemaVersion int
}

// GetValues returns the current values of an authenticated client.
func (s *Service) GetValues(ctx context.Context, id registry.Identity, secret string, caller Caller) (*ValuesResult, error) {
	reg, _, err := s.authenticate(ctx, id, secret, caller, "get_values")
	if err != nil {
		return nil, err
	}
	return &ValuesResult{
		Values:        reg.Values,
		ChangedAt:     reg.ValuesChangedAt,
		LiveReload:    reg.LiveReload,
		SchemaVersion: reg.SchemaVersion,
	}, nil
}

type SetValuesRequest struct {
	Identity registry.Identity
	// Values maps setting names to their canonical string form.
	Values map[string]string
	// ClearOverrides reverts instance settings to the base value.
	ClearOverrides []string
	Actor          string
}

type SetValuesResult struct {
	Changed   []string
	ChangedAt time.Time
}

// SetValues validates and writes values on behalf of an administrator. On a
// base registration the new values flow to every instance that has not
// overridden them; on an instance they become overrides.
func (s *Service) SetValues(ctx context.Context, req SetValuesRequest) (*SetValuesResult, error) {
	id := req.Identity
	if err := id.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if len(req.Values) == 0 && len(req.ClearOverrides) == 0 {
		return nil, fmt.Errorf("%w: no values given", ErrInvalidRequest)
	}
	if id.IsBase() && len(req.ClearOverrides) > 0 {
		return nil, fmt.Errorf("%w: overrides exist only on instances", ErrInvalidRequest)
	}

	now := s.now()
	var (
		result SetValuesResult
		events []audit.Event
	)
	err := s.store.WithTx(ctx, id.ClientName, func(tx registry.Tx) error {
		events = nil
		reg, err := tx.Get(ctx, id)
		if errors.Is(err, registry.ErrNotFound) {
			return ErrUnknownClient
		}
		if err != nil {
			return err
		}

		updates, err := parseUpdates(reg.Schema, req.Values)
		if err != nil {
			return err
		}

		var base *registry.Registration
		if len(req.ClearOverrides) > 0 {
			if base, err = getOptional(ctx, tx, id.Base()); err != nil {
				return err
			}
		}

		before := reg.Values.Clone()
		for name, v := range updates {
			reg.Values[name] = v
			if !id.IsBase() {
				reg.Overrides[name] = true
			}
		}
		for _, name := range req.ClearOverrides {
			def, ok := reg.Schema.Lookup(name)
			if !ok {
				return fmt.Errorf("%w: %w: unknown setting %q", ErrInvalidRequest, settings.ErrValidation, name)
			}
			delete(reg.Overrides, name)
			if base == nil {
				continue
			}
			if baseDef, ok := base.Schema.Lookup(name); ok && baseDef.Kind == def.Kind {
				reg.Values[name] = base.Values[name]
			}
		}

		changed := settings.ChangedNames(before, reg.Values)
		history := historyFor(reg, changed, registry.SourceAdmin, now)
		if len(changed) > 0 {
			reg.ValuesChangedAt = now
		}
		if err := tx.Put(ctx, reg); err != nil {
			return err
		}

		if id.IsBase() && len(changed) > 0 {
			instances, err := tx.Instances(ctx)
			if err != nil {
				return err
			}
			for _, inst := range instances {
				instBefore := inst.Values.Clone()
				for _, name := range changed {
					def, ok := inst.Schema.Lookup(name)
					baseDef, _ := reg.Schema.Lookup(name)
					if !ok || inst.Overrides[name] || def.Kind != baseDef.Kind {
						continue
					}
					inst.Values[name] = reg.Values[name]
				}
				instChanged := settings.ChangedNames(instBefore, inst.Values)
				if len(instChanged) == 0 {
					continue
				}
				inst.ValuesChangedAt = now
				if err := tx.Put(ctx, inst); err != nil {
					return err
				}
				history = append(history, historyFor(inst, instChanged, registry.SourcePropagation, now)...)
			}
		}

		if err := tx.AppendHistory(ctx, history...); err != nil {
			return err
		}

		ev := audit.NewEvent(audit.EventValuesUpdated, id.ClientName, id.Instance, now).
			With("changed", nonNil(changed)).
			With("actor", req.Actor)
		ev.Message = fmt.Sprintf("%d value(s) updated for %s", len(changed), id)
		events = append(events, ev)
		if err := tx.RecordAudit(ctx, ev); err != nil {
			return err
		}

		result = SetValuesResult{Changed: changed, ChangedAt: reg.ValuesChangedAt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events)
	return &result, nil
}

func parseUpdates(schema settings.Schema, raw map[string]string) (settings.Values, error) {
	updates := make(settings.Values, len(raw))
	for name, text := range raw {
		def, ok := schema.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: %w: unknown setting %q", ErrInvalidRequest, settings.ErrValidation, name)
		}
		v, err := settings.Parse(def.Kind, text)
		if err != nil {
			return nil, fmt.Errorf("%w: %w: %v", ErrInvalidRequest, settings.ErrValidation, err)
		}
		if err := def.Validate(v); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		updates[name] = v
	}
	return updates, nil
}

func historyFor(reg *registry.Registration, names []string, src registry.HistorySource, now time.Time) []registry.HistoryEntry {
	out := make([]registry.HistoryEntry, 0, len(names))
	for _, name := range names {
		def, ok := reg.Schema.Lookup(name)
		if !ok {
			continue
		}
		out = append(out, registry.HistoryEntry{
			Identity:  reg.Identity,
			Name:      name,
			Kind:      def.Kind,
			Value:     reg.Values[name],
			Source:    src,
			ChangedAt: now,
		})
	}
	return out
}

// SetLiveReload toggles whether clients may apply new values without a restart.
func (s *Service) SetLiveReload(ctx context.Context, id registry.Identity, enabled bool, actor string) error {
	now := s.now()
	var events []audit.Event
	err := s.store.WithTx(ctx, id.ClientName, func(tx registry.Tx) error {
		events = nil
		reg, err := tx.Get(ctx, id)
		if errors.Is(err, registry.ErrNotFound) {
			return ErrUnknownClient
		}
		if err != nil {
			return err
		}
		if reg.LiveReload == enabled {
			return nil
		}
		reg.LiveReload = enabled
		if err := tx.Put(ctx, reg); err != nil {
			return err
		}
		ev := audit.NewEvent(audit.EventLiveReloadChanged, id.ClientName, id.Instance, now).
			With("live_reload", enabled).
			With("actor", actor)
		events = append(events, ev)
		return tx.RecordAudit(ctx, ev)
	})
	if err != nil {
		return err
	}
	s.emit(ctx, events)
	return nil
}

// DeleteClient removes a registration. Removing a base removes its instances.
func (s *Service) DeleteClient(ctx context.Context, id registry.Identity, actor string) error {
	now := s.now()
	var events []audit.Event
	err := s.store.WithTx(ctx, id.ClientName, func(tx registry.Tx) error {
		events = nil
		var removed []string
		if id.IsBase() {
			instances, err := tx.Instances(ctx)
			if err != nil {
				return err
			}
			for _, inst := range instances {
				removed = append(removed, inst.Instance)
			}
		}
		if err := tx.Delete(ctx, id); err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				return ErrUnknownClient
			}
			return err
		}
		ev := audit.NewEvent(audit.EventClientDeleted, id.ClientName, id.Instance, now).
			With("instances", nonNil(removed)).
			With("actor", actor)
		events = append(events, ev)
		return tx.RecordAudit(ctx, ev)
	})
	if err != nil {
		return err
	}
	s.emit(ctx, events)
	slog.Info("Client registration deleted", "client", id.ClientName, "instance", id.Instance, "actor", actor)
	return nil
}

// ClientSummary is the administrative view of a registration. Secret
// settings are masked.
type ClientSummary struct {
	registry.Identity
	SchemaVersion        int               `json:"schema_version"`
	Fingerprint          string            `json:"fingerprint"`
	LiveReload           bool              `json:"live_reload"`
	Values               map[string]string `json:"values"`
	Overrides            []string          `json:"overrides,omitempty"`
	RotationPending      bool              `json:"rotation_pending"`
	PreviousSecretExpiry *time.Time        `json:"previous_secret_expiry,omitempty"`
	RegisteredAt         time.Time         `json:"registered_at"`
	LastRegisteredAt     time.Time         `json:"last_registered_at"`
	ValuesChangedAt      time.Time         `json:"values_changed_at"`
}

const maskedValue = "********"

func (s *Service) ListClients(ctx context.Context) ([]ClientSummary, error) {
	regs, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]ClientSummary, 0, len(regs))
	for _, reg := range regs {
		values := make(map[string]string, len(reg.Values))
		for _, def := range reg.Schema {
			if def.Secret {
				values[def.Name] = maskedValue
				continue
			}
			values[def.Name] = reg.Values[def.Name].String()
		}
		overrides := slices.Collect(maps.Keys(reg.Overrides))
		sort.Strings(overrides)
		out = append(out, ClientSummary{
			Identity:             reg.Identity,
			SchemaVersion:        reg.SchemaVersion,
			Fingerprint:          reg.Fingerprint,
			LiveReload:           reg.LiveReload,
			Values:               values,
			Overrides:            overrides,
			RotationPending:      reg.RotationPending(now),
			PreviousSecretExpiry: reg.PreviousSecretExpiry,
			RegisteredAt:         reg.RegisteredAt,
			LastRegisteredAt:     reg.LastRegisteredAt,
			ValuesChangedAt:      reg.ValuesChangedAt,
		})
	}
	return out, nil
}

// History returns a registration's value history, newest first, with secret
// values masked.
func (s *Service) History(ctx context.Context, id registry.Identity, name string, limit int) ([]registry.HistoryEntry, error) {
	reg, err := s.store.Get(ctx, id)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, ErrUnknownClient
	}
	if err != nil {
		return nil, err
	}
	entries, err := s.store.History(ctx, id, name, limit)
	if err != nil {
		return nil, err
	}
	for i, e := range entries {
		if def, ok := reg.Schema.Lookup(e.Name); ok && def.Secret && !e.Value.IsZero() {
			entries[i].Value = settings.StringValue(maskedValue)
		}
	}
	return entries, nil
}

func (s *Service) AuditEvents(ctx context.Context, filter registry.AuditFilter) ([]audit.Event, error) {
	return s.store.AuditEvents(ctx, filter)
}
