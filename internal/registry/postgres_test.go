package registry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/EternisAI/silo-config/internal/db"
	"github.com/EternisAI/silo-config/internal/liveness"
	"github.com/EternisAI/silo-config/systemtest/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()
	url := postgres.Start(t, "silo_config")

	schemaN := 0
	openSchema := func(t *testing.T) *pgxpool.Pool {
		schemaN++
		schema := fmt.Sprintf("registry_%d", schemaN)
		require.NoError(t, db.RunMigrations(url, schema))
		pool, err := db.InitDB(ctx, db.Config{Url: url, Schema: schema})
		require.NoError(t, err)
		t.Cleanup(pool.Close)
		return pool
	}

	runStoreContract(t, func(t *testing.T) Store {
		return NewPostgresStore(openSchema(t))
	})

	t.Run("liveness store ignores stale writes", func(t *testing.T) {
		pool := openSchema(t)
		s := NewLivenessStore(pool)

		rec := liveness.ClientRunSession{
			ID: "run-1", Generation: 1, ClientName: "billing",
			StartedAt: testNow, LastSeen: testNow.Add(time.Minute),
			PollInterval: 30 * time.Second, State: liveness.StateActive,
		}
		require.NoError(t, s.SaveSession(ctx, rec))

		demoted := rec
		demoted.State = liveness.StateInactive
		require.NoError(t, s.SaveSession(ctx, demoted))

		older := rec
		older.LastSeen = testNow
		require.NoError(t, s.SaveSession(ctx, older))

		var (
			active   bool
			lastSeen time.Time
		)
		require.NoError(t, pool.QueryRow(ctx,
			`SELECT active, last_seen FROM client_run_sessions WHERE id = $1 AND generation = 1`, "run-1").
			Scan(&active, &lastSeen))
		assert.False(t, active)
		assert.True(t, lastSeen.Equal(testNow.Add(time.Minute)))

		require.NoError(t, s.SaveInstance(ctx, liveness.ApiInstanceStatus{
			RuntimeID: "api-1", Generation: 1, StartedAt: testNow, LastSeen: testNow, State: liveness.StateActive,
		}))
	})
}
