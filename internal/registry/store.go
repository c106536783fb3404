package registry

import (
	"context"

	"github.com/EternisAI/silo-config/internal/audit"
	"github.com/EternisAI/silo-config/pkg/settings"
)

// Store persists registrations. All mutations happen inside WithTx, which
// serialises work per client name: a base registration and its instances are
// updated as one unit while different clients never wait on each other.
type Store interface {
	Get(ctx context.Context, id Identity) (*Registration, error)
	List(ctx context.Context) ([]*Registration, error)
	History(ctx context.Context, id Identity, name string, limit int) ([]HistoryEntry, error)
	AuditEvents(ctx context.Context, filter AuditFilter) ([]audit.Event, error)

	// WithTx runs fn in a transaction scoped to clientName. Either every write
	// made through tx becomes visible or none does.
	WithTx(ctx context.Context, clientName string, fn func(tx Tx) error) error

	Close() error
}

// Tx is the write side of a Store, valid only inside WithTx.
type Tx interface {
	Get(ctx context.Context, id Identity) (*Registration, error)
	// Instances returns the non-base registrations of the transaction's client.
	Instances(ctx context.Context) ([]*Registration, error)
	Put(ctx context.Context, reg *Registration) error
	// Delete removes a registration. Deleting a base removes its instances.
	Delete(ctx context.Context, id Identity) error

	AppendHistory(ctx context.Context, entries ...HistoryEntry) error
	// LastValue returns the most recent history value of a setting with the
	// given name and kind.
	LastValue(ctx context.Context, id Identity, name string, kind settings.Kind) (settings.Value, bool, error)

	RecordAudit(ctx context.Context, ev audit.Event) error
}
