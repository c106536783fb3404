package rotation

import (
	"context"
	"log/slog"
	"time"

	"github.com/EternisAI/silo-config/internal/audit"
	"github.com/EternisAI/silo-config/internal/registry"
)

// Sweeper clears previous-secret fields once their window has closed.
// Authentication already ignores an expired previous secret, so this only
// tidies stored state.
type Sweeper struct {
	store    registry.Store
	sink     audit.Sink
	clock    func() time.Time
	interval time.Duration
}

func NewSweeper(store registry.Store, sink audit.Sink, interval time.Duration) *Sweeper {
	if sink == nil {
		sink = audit.NewLogSink(nil)
	}
	return &Sweeper{store: store, sink: sink, clock: time.Now, interval: interval}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				slog.Error("Previous secret sweep failed", "error", err)
			}
		}
	}
}

// Sweep clears every expired previous secret and returns how many were
// cleared. Each registration is re-read under its client's lock so a rotation
// that landed since the listing is left alone.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	regs, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}
	now := s.clock().UTC()

	cleared := 0
	for _, listed := range regs {
		if !listed.HasPreviousSecret() || listed.RotationPending(now) {
			continue
		}
		var ev *audit.Event
		err := s.store.WithTx(ctx, listed.ClientName, func(tx registry.Tx) error {
			ev = nil
			reg, err := tx.Get(ctx, listed.Identity)
			if err != nil {
				return err
			}
			if !reg.HasPreviousSecret() || reg.RotationPending(now) {
				return nil
			}
			expired := *reg.PreviousSecretExpiry
			reg.ClearPreviousSecret()
			if err := tx.Put(ctx, reg); err != nil {
				return err
			}
			e := audit.NewEvent(audit.EventPreviousSecretExpired, reg.ClientName, reg.Instance, now).
				With("expired_at", expired.Format(time.RFC3339))
			ev = &e
			return tx.RecordAudit(ctx, e)
		})
		if err != nil {
			slog.Warn("Failed to clear expired previous secret", "client", listed.ClientName, "instance", listed.Instance, "error", err)
			continue
		}
		if ev != nil {
			s.sink.Emit(ctx, *ev)
			cleared++
		}
	}
	if cleared > 0 {
		slog.Debug("Cleared expired previous secrets", "cleared", cleared)
	}
	return cleared, nil
}
