package registry

import (
	"context"
	"fmt"

	"github.com/EternisAI/silo-config/internal/liveness"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LivenessStore persists run-sessions and API instance statuses. Writes may
// arrive out of order, so an upsert only lands when it is newer than the row
// or demotes it at the same last-seen time.
type LivenessStore struct {
	pool *pgxpool.Pool
}

func NewLivenessStore(pool *pgxpool.Pool) *LivenessStore {
	return &LivenessStore{pool: pool}
}

func (s *LivenessStore) SaveSession(ctx context.Context, rec liveness.ClientRunSession) error {
	var lastUpdate any
	if !rec.LastSettingUpdate.IsZero() {
		lastUpdate = rec.LastSettingUpdate
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO client_run_sessions (
			id, generation, client_name, instance, started_at, last_seen, poll_interval_ms,
			live_reload, last_setting_update, hostname, ip_address, memory_bytes, version, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id, generation) DO UPDATE SET
			last_seen = EXCLUDED.last_seen,
			poll_interval_ms = EXCLUDED.poll_interval_ms,
			live_reload = EXCLUDED.live_reload,
			last_setting_update = EXCLUDED.last_setting_update,
			hostname = EXCLUDED.hostname,
			ip_address = EXCLUDED.ip_address,
			memory_bytes = EXCLUDED.memory_bytes,
			version = EXCLUDED.version,
			active = EXCLUDED.active
		WHERE EXCLUDED.last_seen > client_run_sessions.last_seen
			OR (EXCLUDED.last_seen = client_run_sessions.last_seen AND NOT EXCLUDED.active)`,
		rec.ID, rec.Generation, rec.ClientName, rec.Instance, rec.StartedAt, rec.LastSeen,
		rec.PollInterval.Milliseconds(), rec.LiveReload, lastUpdate, rec.Host.Hostname, rec.Host.IP,
		rec.Host.MemoryBytes, rec.Host.Version, rec.State == liveness.StateActive)
	if err != nil {
		return fmt.Errorf("save run-session %s: %w", rec.ID, err)
	}
	return nil
}

func (s *LivenessStore) SaveInstance(ctx context.Context, rec liveness.ApiInstanceStatus) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO api_instances (
			runtime_id, generation, started_at, last_seen, hostname, ip_address, memory_bytes, version, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (runtime_id, generation) DO UPDATE SET
			last_seen = EXCLUDED.last_seen,
			hostname = EXCLUDED.hostname,
			ip_address = EXCLUDED.ip_address,
			memory_bytes = EXCLUDED.memory_bytes,
			version = EXCLUDED.version,
			active = EXCLUDED.active
		WHERE EXCLUDED.last_seen > api_instances.last_seen
			OR (EXCLUDED.last_seen = api_instances.last_seen AND NOT EXCLUDED.active)`,
		rec.RuntimeID, rec.Generation, rec.StartedAt, rec.LastSeen, rec.Host.Hostname, rec.Host.IP,
		rec.Host.MemoryBytes, rec.Host.Version, rec.State == liveness.StateActive)
	if err != nil {
		return fmt.Errorf("save api instance %s: %w", rec.RuntimeID, err)
	}
	return nil
}

var _ liveness.Store = (*LivenessStore)(nil)
