package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/EternisAI/silo-config/internal/audit"
	"github.com/EternisAI/silo-config/internal/liveness"
	"github.com/EternisAI/silo-config/internal/metrics"
	"github.com/EternisAI/silo-config/internal/registry"
	"github.com/EternisAI/silo-config/internal/secrets"
	"github.com/EternisAI/silo-config/pkg/settings"
)

var (
	ErrAuthenticationFailure = errors.New("client secret does not match")
	ErrUnknownClient         = errors.New("client is not registered")
	ErrInvalidRequest        = errors.New("invalid request")
)

// Caller identifies who is on the other end of a request, for auditing.
type Caller struct {
	IP   string
	Host string
}

type Service struct {
	store    registry.Store
	sink     audit.Sink
	metrics  *metrics.Metrics
	clock    func() time.Time
	tracker  *liveness.Tracker
	policy   liveness.PollPolicy
	// verified short-circuits repeat secret checks on heartbeats and reads.
	verified *secrets.VerifiedCache
}

type Option func(*Service)

func WithAuditSink(sink audit.Sink) Option {
	return func(s *Service) { s.sink = sink }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

func WithVerifiedCache(cache *secrets.VerifiedCache) Option {
	return func(s *Service) { s.verified = cache }
}

func NewService(store registry.Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		sink:  audit.NewLogSink(nil),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// now is truncated to what every store can represent.
func (s *Service) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

func (s *Service) emit(ctx context.Context, events []audit.Event) {
	for _, ev := range events {
		s.sink.Emit(ctx, ev)
	}
}

type RegisterRequest struct {
	Identity registry.Identity
	Secret   string
	Schema   settings.Schema
	Caller   Caller
}

type RegisterResult struct {
	Status          Status
	Outcome         Outcome
	Diff            Diff
	SchemaVersion   int
	ValuesChangedAt time.Time
}

// RegisterClient authenticates the caller and reconciles its schema with the
// stored registration. Everything it writes, including the audit event,
// commits together. A SecretMismatch is audited and returned as
// ErrAuthenticationFailure.
func (s *Service) RegisterClient(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	id := req.Identity
	if err := id.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.Secret == "" {
		return nil, fmt.Errorf("%w: secret is required", ErrInvalidRequest)
	}
	if err := req.Schema.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	now := s.now()
	var (
		result *RegisterResult
		events []audit.Event
	)
	err := s.store.WithTx(ctx, id.ClientName, func(tx registry.Tx) error {
		result, events = nil, nil

		existing, err := getOptional(ctx, tx, id)
		if err != nil {
			return err
		}
		var base *registry.Registration
		if !id.IsBase() {
			if base, err = getOptional(ctx, tx, id.Base()); err != nil {
				return err
			}
		}

		// An instance without its own record authenticates against the base.
		authRecord := existing
		if authRecord == nil && !id.IsBase() {
			authRecord = base
		}
		status := ResolveStatus(authRecord, req.Secret, now)
		if status == SecretMismatch {
			ev := mismatchEvent(id, req.Caller, "register", now)
			events = append(events, ev)
			result = &RegisterResult{Status: status}
			return tx.RecordAudit(ctx, ev)
		}

		var reg *registry.Registration
		var outcome Outcome
		var diff Diff
		var history []registry.HistoryEntry

		if existing == nil {
			outcome, diff = Reconcile(nil, req.Schema)
			if !id.IsBase() && base == nil {
				base, history, err = newBaseRegistration(id.Base(), req.Secret, req.Schema, now)
				if err != nil {
					return err
				}
				if err := tx.Put(ctx, base); err != nil {
					return err
				}
				events = append(events, registrationEvent(base.Identity, InitialRegistration, diff, req.Caller, now))
			}
			if id.IsBase() {
				reg, history, err = newBaseRegistration(id, req.Secret, req.Schema, now)
				if err != nil {
					return err
				}
			} else {
				reg = cloneForInstance(base, id, now)
				instHistory, err := applySchema(reg, req.Schema, lookupFor(ctx, tx, id), now)
				if err != nil {
					return err
				}
				history = append(history, seedHistory(reg, instHistory, now)...)
			}
		} else {
			reg = existing.Clone()
			outcome, diff = Reconcile(existing, req.Schema)
			reg.LastRegisteredAt = now
			if !reg.RotationPending(now) && reg.HasPreviousSecret() {
				reg.ClearPreviousSecret()
			}
			if outcome == RegistrationWithChange {
				before := reg.Values.Clone()
				history, err = applySchema(reg, req.Schema, lookupFor(ctx, tx, id), now)
				if err != nil {
					return err
				}
				reg.SchemaVersion++
				if len(settings.ChangedNames(before, reg.Values)) > 0 {
					reg.ValuesChangedAt = now
				}
				if id.IsBase() {
					propagated, err := s.propagateToInstances(ctx, tx, reg, diff, now)
					if err != nil {
						return err
					}
					history = append(history, propagated...)
				}
			}
		}

		if err := tx.Put(ctx, reg); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, history...); err != nil {
			return err
		}
		ev := registrationEvent(id, outcome, diff, req.Caller, now).With("status", status.String())
		events = append(events, ev)
		for _, ev := range events {
			if err := tx.RecordAudit(ctx, ev); err != nil {
				return err
			}
		}

		result = &RegisterResult{
			Status:          status,
			Outcome:         outcome,
			Diff:            diff,
			SchemaVersion:   reg.SchemaVersion,
			ValuesChangedAt: reg.ValuesChangedAt,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", id, err)
	}

	s.emit(ctx, events)
	if result.Status == SecretMismatch {
		s.metrics.RecordSecretMismatch("register")
		return nil, ErrAuthenticationFailure
	}
	s.metrics.RecordRegistration(result.Outcome.String())

	slog.Info("Client registered",
		"client", id.ClientName,
		"instance", id.Instance,
		"status", result.Status.String(),
		"outcome", result.Outcome.String(),
		"schema_version", result.SchemaVersion)
	return result, nil
}

func (s *Service) propagateToInstances(ctx context.Context, tx registry.Tx, base *registry.Registration, diff Diff, now time.Time) ([]registry.HistoryEntry, error) {
	instances, err := tx.Instances(ctx)
	if err != nil {
		return nil, err
	}
	var history []registry.HistoryEntry
	for _, inst := range instances {
		before := inst.Values.Clone()
		entries := propagate(inst, base, diff, now)
		inst.SchemaVersion++
		if len(settings.ChangedNames(before, inst.Values)) > 0 {
			inst.ValuesChangedAt = now
		}
		if err := tx.Put(ctx, inst); err != nil {
			return nil, err
		}
		history = append(history, entries...)
		slog.Debug("Propagated base schema change to instance",
			"client", inst.ClientName,
			"instance", inst.Instance,
			"values_changed", len(entries))
	}
	return history, nil
}

func newBaseRegistration(id registry.Identity, secret string, schema settings.Schema, now time.Time) (*registry.Registration, []registry.HistoryEntry, error) {
	hash, err := secrets.Hash(secret)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	reg := &registry.Registration{
		Identity:         id,
		SecretHash:       hash,
		Schema:           schema.Clone(),
		Values:           schema.Defaults(),
		Overrides:        map[string]bool{},
		LiveReload:       true,
		SchemaVersion:    1,
		Fingerprint:      schema.Fingerprint(),
		RegisteredAt:     now,
		LastRegisteredAt: now,
		ValuesChangedAt:  now,
	}
	history := make([]registry.HistoryEntry, 0, len(schema))
	for _, def := range schema {
		history = append(history, registry.HistoryEntry{
			Identity:  id,
			Name:      def.Name,
			Kind:      def.Kind,
			Value:     def.Default,
			Source:    registry.SourceDefault,
			ChangedAt: now,
		})
	}
	return reg, history, nil
}

// cloneForInstance starts an instance record from its base, sharing the base
// secret state and values but none of its identity or timestamps.
func cloneForInstance(base *registry.Registration, id registry.Identity, now time.Time) *registry.Registration {
	reg := base.Clone()
	reg.Identity = id
	reg.Overrides = map[string]bool{}
	reg.SchemaVersion = 1
	reg.RegisteredAt = now
	reg.LastRegisteredAt = now
	reg.ValuesChangedAt = now
	return reg
}

// seedHistory records every value of a newly cloned instance, keeping the
// more specific entries applySchema produced.
func seedHistory(reg *registry.Registration, applied []registry.HistoryEntry, now time.Time) []registry.HistoryEntry {
	seen := make(map[string]bool, len(applied))
	for _, e := range applied {
		seen[e.Name] = true
	}
	out := applied
	for _, def := range reg.Schema {
		if seen[def.Name] {
			continue
		}
		out = append(out, registry.HistoryEntry{
			Identity:  reg.Identity,
			Name:      def.Name,
			Kind:      def.Kind,
			Value:     reg.Values[def.Name],
			Source:    registry.SourcePropagation,
			ChangedAt: now,
		})
	}
	return out
}

func getOptional(ctx context.Context, tx registry.Tx, id registry.Identity) (*registry.Registration, error) {
	reg, err := tx.Get(ctx, id)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, nil
	}
	return reg, err
}

func registrationEvent(id registry.Identity, outcome Outcome, diff Diff, caller Caller, now time.Time) audit.Event {
	typ := audit.EventRegistrationWithChange
	switch outcome {
	case InitialRegistration:
		typ = audit.EventInitialRegistration
	case RegistrationNoChange:
		typ = audit.EventRegistrationNoChange
	}
	ev := audit.NewEvent(typ, id.ClientName, id.Instance, now).WithCaller(caller.IP, caller.Host)
	ev.Message = fmt.Sprintf("%s for %s", outcome, id)
	if outcome == InitialRegistration {
		return ev.With("settings", diff.Added)
	}
	if outcome == RegistrationWithChange {
		ev = ev.With("added", nonNil(diff.Added)).
			With("removed", nonNil(diff.Removed)).
			With("changed", nonNil(diff.Changed)).
			With("metadata", nonNil(diff.Metadata))
	}
	return ev
}

func mismatchEvent(id registry.Identity, caller Caller, operation string, now time.Time) audit.Event {
	ev := audit.NewEvent(audit.EventSecretMismatch, id.ClientName, id.Instance, now).
		WithCaller(caller.IP, caller.Host).
		With("operation", operation)
	ev.Message = fmt.Sprintf("secret mismatch for %s from %s", id, caller.IP)
	return ev
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
