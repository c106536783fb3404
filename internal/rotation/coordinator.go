// Package rotation rotates client secrets while keeping the old secret valid
// for a grace window.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/EternisAI/silo-config/internal/audit"
	"github.com/EternisAI/silo-config/internal/metrics"
	"github.com/EternisAI/silo-config/internal/registration"
	"github.com/EternisAI/silo-config/internal/registry"
	"github.com/EternisAI/silo-config/internal/secrets"
)

var (
	ErrStaleRotation = errors.New("stale secret rotation")
	// ErrExpiryInPast rejects a rotation that would leave no grace window.
	ErrExpiryInPast = fmt.Errorf("%w: previous secret expiry must be in the future", ErrStaleRotation)
	// ErrRotationPending rejects a rotation while the previous one's window
	// is still open.
	ErrRotationPending = fmt.Errorf("%w: a rotation is already pending", ErrStaleRotation)
	ErrSameSecret      = errors.New("new secret matches the current secret")
)

type Request struct {
	Identity        registry.Identity
	NewSecret       string
	OldSecretExpiry time.Time
	Actor           string
}

type Result struct {
	RotatedAt            time.Time `json:"rotated_at"`
	PreviousSecretExpiry time.Time `json:"previous_secret_expiry"`
	// Instances lists instances that shared the rotated base secret and were
	// rotated with it.
	Instances []string `json:"instances,omitempty"`
}

type Coordinator struct {
	store   registry.Store
	sink    audit.Sink
	metrics *metrics.Metrics
	clock   func() time.Time
}

type Option func(*Coordinator)

func WithAuditSink(sink audit.Sink) Option {
	return func(c *Coordinator) { c.sink = sink }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) { c.clock = clock }
}

func NewCoordinator(store registry.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store: store,
		sink:  audit.NewLogSink(nil),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) now() time.Time {
	return c.clock().UTC().Truncate(time.Microsecond)
}

// RotateSecret makes NewSecret current and keeps the old secret valid until
// OldSecretExpiry. Rotating a base also rotates instances still sharing its
// secret. Rejections are audited and wrap ErrStaleRotation.
func (c *Coordinator) RotateSecret(ctx context.Context, req Request) (*Result, error) {
	id := req.Identity
	if err := id.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", registration.ErrInvalidRequest, err)
	}
	newHash, err := secrets.Hash(req.NewSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", registration.ErrInvalidRequest, err)
	}
	expiry := req.OldSecretExpiry.UTC().Truncate(time.Microsecond)

	now := c.now()
	var (
		result    *Result
		rejection error
		events    []audit.Event
	)
	err = c.store.WithTx(ctx, id.ClientName, func(tx registry.Tx) error {
		result, rejection, events = nil, nil, nil

		reg, err := tx.Get(ctx, id)
		if errors.Is(err, registry.ErrNotFound) {
			return registration.ErrUnknownClient
		}
		if err != nil {
			return err
		}

		switch {
		case !expiry.After(now):
			rejection = ErrExpiryInPast
		case reg.RotationPending(now):
			rejection = ErrRotationPending
		case secrets.Matches(req.NewSecret, reg.SecretHash):
			rejection = ErrSameSecret
		}
		if rejection != nil {
			ev := audit.NewEvent(audit.EventRotationRejected, id.ClientName, id.Instance, now).
				With("reason", rejection.Error()).
				With("actor", req.Actor)
			if reg.PreviousSecretExpiry != nil {
				ev = ev.With("pending_expiry", reg.PreviousSecretExpiry.Format(time.RFC3339))
			}
			events = append(events, ev)
			return tx.RecordAudit(ctx, ev)
		}

		oldHash := reg.SecretHash
		rotate(reg, newHash, expiry)
		if err := tx.Put(ctx, reg); err != nil {
			return err
		}

		var rotated []string
		if id.IsBase() {
			instances, err := tx.Instances(ctx)
			if err != nil {
				return err
			}
			for _, inst := range instances {
				if inst.SecretHash != oldHash || inst.RotationPending(now) {
					continue
				}
				rotate(inst, newHash, expiry)
				if err := tx.Put(ctx, inst); err != nil {
					return err
				}
				rotated = append(rotated, inst.Instance)
			}
		}

		ev := audit.NewEvent(audit.EventSecretRotated, id.ClientName, id.Instance, now).
			With("previous_secret_expiry", expiry.Format(time.RFC3339)).
			With("instances", rotated).
			With("actor", req.Actor)
		events = append(events, ev)
		result = &Result{RotatedAt: now, PreviousSecretExpiry: expiry, Instances: rotated}
		return tx.RecordAudit(ctx, ev)
	})
	if err != nil {
		return nil, err
	}

	for _, ev := range events {
		c.sink.Emit(ctx, ev)
	}
	if rejection != nil {
		c.metrics.RecordRotation("rejected")
		slog.Warn("Secret rotation rejected", "client", id.ClientName, "instance", id.Instance, "reason", rejection)
		return nil, rejection
	}
	c.metrics.RecordRotation("rotated")
	slog.Info("Client secret rotated",
		"client", id.ClientName,
		"instance", id.Instance,
		"previous_secret_expiry", expiry,
		"instances", len(result.Instances))
	return result, nil
}

func rotate(reg *registry.Registration, newHash string, expiry time.Time) {
	reg.PreviousSecretHash = reg.SecretHash
	reg.PreviousSecretExpiry = &expiry
	reg.SecretHash = newHash
}
