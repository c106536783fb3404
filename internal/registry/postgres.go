package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/EternisAI/silo-config/internal/audit"
	"github.com/EternisAI/silo-config/pkg/settings"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists registrations in PostgreSQL. Transactions for one
// client name are serialised with a transaction-scoped advisory lock, which
// also covers the first registration when no row exists yet to lock.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, id Identity) (*Registration, error) {
	return getRegistration(ctx, s.pool, id)
}

func (s *PostgresStore) List(ctx context.Context) ([]*Registration, error) {
	return queryRegistrations(ctx, s.pool, selectRegistration+` ORDER BY client_name, instance`)
}

func (s *PostgresStore) History(ctx context.Context, id Identity, name string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, client_name, instance, name, kind, value, source, changed_at
		FROM setting_history
		WHERE client_name = $1 AND instance = $2 AND ($3 = '' OR name = $3)
		ORDER BY changed_at DESC, id DESC
		LIMIT $4`, id.ClientName, id.Instance, name, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			e        HistoryEntry
			kind     string
			source   string
			rawValue []byte
		)
		if err := rows.Scan(&e.ID, &e.ClientName, &e.Instance, &e.Name, &kind, &rawValue, &source, &e.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Kind = settings.Kind(kind)
		e.Source = HistorySource(source)
		if err := decodeValue(rawValue, &e.Value); err != nil {
			return nil, err
		}
		e.ChangedAt = e.ChangedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AuditEvents(ctx context.Context, filter AuditFilter) ([]audit.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, type, client_name, instance, remote_ip, host, message, details, occurred_at
		FROM audit_events
		WHERE ($1 = '' OR client_name = $1) AND ($2 = '' OR type = $2)
		ORDER BY occurred_at DESC, id DESC
		LIMIT $3`, filter.ClientName, filter.Type, filter.limit())
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var (
			ev      audit.Event
			typ     string
			details []byte
		)
		if err := rows.Scan(&ev.ID, &typ, &ev.ClientName, &ev.Instance, &ev.RemoteIP, &ev.Host, &ev.Message, &details, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.Type = audit.EventType(typ)
		ev.OccurredAt = ev.OccurredAt.UTC()
		if len(details) > 0 {
			if err := json.Unmarshal(details, &ev.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *PostgresStore) WithTx(ctx context.Context, clientName string, fn func(tx Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, clientName); err != nil {
			return fmt.Errorf("lock client %q: %w", clientName, err)
		}
		return fn(&postgresTx{tx: tx, client: clientName})
	})
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type postgresTx struct {
	tx     pgx.Tx
	client string
}

func (t *postgresTx) checkScope(id Identity) error {
	if id.ClientName != t.client {
		return fmt.Errorf("identity %s is outside the transaction for %q", id, t.client)
	}
	return nil
}

func (t *postgresTx) Get(ctx context.Context, id Identity) (*Registration, error) {
	if err := t.checkScope(id); err != nil {
		return nil, err
	}
	return getRegistration(ctx, t.tx, id)
}

func (t *postgresTx) Instances(ctx context.Context) ([]*Registration, error) {
	return queryRegistrations(ctx, t.tx,
		selectRegistration+` WHERE client_name = $1 AND instance <> '' ORDER BY instance`, t.client)
}

func (t *postgresTx) Put(ctx context.Context, reg *Registration) error {
	if err := t.checkScope(reg.Identity); err != nil {
		return err
	}
	schemaJSON, err := json.Marshal(reg.Schema)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	valuesJSON, err := json.Marshal(reg.Values)
	if err != nil {
		return fmt.Errorf("encode values: %w", err)
	}
	overrides := reg.Overrides
	if overrides == nil {
		overrides = map[string]bool{}
	}
	overridesJSON, err := json.Marshal(overrides)
	if err != nil {
		return fmt.Errorf("encode overrides: %w", err)
	}

	var previousHash *string
	if reg.PreviousSecretHash != "" {
		previousHash = &reg.PreviousSecretHash
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO client_registrations (
			client_name, instance, secret_hash, previous_secret_hash, previous_secret_expiry,
			schema_json, values_json, overrides_json, live_reload, schema_version, fingerprint,
			registered_at, last_registered_at, values_changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (client_name, instance) DO UPDATE SET
			secret_hash = EXCLUDED.secret_hash,
			previous_secret_hash = EXCLUDED.previous_secret_hash,
			previous_secret_expiry = EXCLUDED.previous_secret_expiry,
			schema_json = EXCLUDED.schema_json,
			values_json = EXCLUDED.values_json,
			overrides_json = EXCLUDED.overrides_json,
			live_reload = EXCLUDED.live_reload,
			schema_version = EXCLUDED.schema_version,
			fingerprint = EXCLUDED.fingerprint,
			registered_at = EXCLUDED.registered_at,
			last_registered_at = EXCLUDED.last_registered_at,
			values_changed_at = EXCLUDED.values_changed_at`,
		reg.ClientName, reg.Instance, reg.SecretHash, previousHash, reg.PreviousSecretExpiry,
		schemaJSON, valuesJSON, overridesJSON, reg.LiveReload, reg.SchemaVersion, reg.Fingerprint,
		reg.RegisteredAt, reg.LastRegisteredAt, reg.ValuesChangedAt)
	if err != nil {
		return fmt.Errorf("upsert registration %s: %w", reg.Identity, err)
	}
	return nil
}

func (t *postgresTx) Delete(ctx context.Context, id Identity) error {
	if err := t.checkScope(id); err != nil {
		return err
	}
	var (
		tag pgconn.CommandTag
		err error
	)
	if id.IsBase() {
		tag, err = t.tx.Exec(ctx, `DELETE FROM client_registrations WHERE client_name = $1`, id.ClientName)
	} else {
		tag, err = t.tx.Exec(ctx, `DELETE FROM client_registrations WHERE client_name = $1 AND instance = $2`,
			id.ClientName, id.Instance)
	}
	if err != nil {
		return fmt.Errorf("delete registration %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *postgresTx) AppendHistory(ctx context.Context, entries ...HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		if err := t.checkScope(e.Identity); err != nil {
			return err
		}
		raw, err := json.Marshal(e.Value)
		if err != nil {
			return fmt.Errorf("encode history value: %w", err)
		}
		batch.Queue(`
			INSERT INTO setting_history (client_name, instance, name, kind, value, source, changed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.ClientName, e.Instance, e.Name, string(e.Kind), raw, string(e.Source), e.ChangedAt)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (t *postgresTx) LastValue(ctx context.Context, id Identity, name string, kind settings.Kind) (settings.Value, bool, error) {
	var raw []byte
	err := t.tx.QueryRow(ctx, `
		SELECT value FROM setting_history
		WHERE client_name = $1 AND instance = $2 AND name = $3 AND kind = $4
		ORDER BY changed_at DESC, id DESC
		LIMIT 1`, id.ClientName, id.Instance, name, string(kind)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return settings.Value{}, false, nil
	}
	if err != nil {
		return settings.Value{}, false, fmt.Errorf("query last value: %w", err)
	}
	var v settings.Value
	if err := decodeValue(raw, &v); err != nil {
		return settings.Value{}, false, err
	}
	return v, true, nil
}

func (t *postgresTx) RecordAudit(ctx context.Context, ev audit.Event) error {
	details := ev.Details
	if details == nil {
		details = map[string]any{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO audit_events (id, type, client_name, instance, remote_ip, host, message, details, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ev.ID, string(ev.Type), ev.ClientName, ev.Instance, ev.RemoteIP, ev.Host, ev.Message, raw, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}
	return nil
}

const selectRegistration = `
	SELECT client_name, instance, secret_hash, previous_secret_hash, previous_secret_expiry,
		schema_json, values_json, overrides_json, live_reload, schema_version, fingerprint,
		registered_at, last_registered_at, values_changed_at
	FROM client_registrations`

func getRegistration(ctx context.Context, q querier, id Identity) (*Registration, error) {
	regs, err := queryRegistrations(ctx, q,
		selectRegistration+` WHERE client_name = $1 AND instance = $2`, id.ClientName, id.Instance)
	if err != nil {
		return nil, err
	}
	if len(regs) == 0 {
		return nil, ErrNotFound
	}
	return regs[0], nil
}

func queryRegistrations(ctx context.Context, q querier, sql string, args ...any) ([]*Registration, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query registrations: %w", err)
	}
	defer rows.Close()

	var out []*Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, reg)
	}
	return out, rows.Err()
}

func scanRegistration(row pgx.Row) (*Registration, error) {
	var (
		reg                                  Registration
		previousHash                         *string
		previousExpiry                       *time.Time
		schemaJSON, valuesJSON, overridesRaw []byte
	)
	err := row.Scan(&reg.ClientName, &reg.Instance, &reg.SecretHash, &previousHash, &previousExpiry,
		&schemaJSON, &valuesJSON, &overridesRaw, &reg.LiveReload, &reg.SchemaVersion, &reg.Fingerprint,
		&reg.RegisteredAt, &reg.LastRegisteredAt, &reg.ValuesChangedAt)
	if err != nil {
		return nil, fmt.Errorf("scan registration: %w", err)
	}
	if previousHash != nil {
		reg.PreviousSecretHash = *previousHash
	}
	if previousExpiry != nil {
		expiry := previousExpiry.UTC()
		reg.PreviousSecretExpiry = &expiry
	}
	if err := json.Unmarshal(schemaJSON, &reg.Schema); err != nil {
		return nil, fmt.Errorf("decode schema of %s: %w", reg.Identity, err)
	}
	if err := json.Unmarshal(valuesJSON, &reg.Values); err != nil {
		return nil, fmt.Errorf("decode values of %s: %w", reg.Identity, err)
	}
	if err := json.Unmarshal(overridesRaw, &reg.Overrides); err != nil {
		return nil, fmt.Errorf("decode overrides of %s: %w", reg.Identity, err)
	}
	if reg.Values == nil {
		reg.Values = settings.Values{}
	}
	if reg.Overrides == nil {
		reg.Overrides = map[string]bool{}
	}
	reg.RegisteredAt = reg.RegisteredAt.UTC()
	reg.LastRegisteredAt = reg.LastRegisteredAt.UTC()
	reg.ValuesChangedAt = reg.ValuesChangedAt.UTC()
	return &reg, nil
}

func decodeValue(raw []byte, v *settings.Value) error {
	if len(raw) == 0 {
		*v = settings.Value{}
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode setting value: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
