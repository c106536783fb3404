package tests

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/silo-config/internal/api/http/dto"
	"github.com/EternisAI/silo-config/internal/registration"
	"github.com/EternisAI/silo-config/internal/registry"
	"github.com/EternisAI/silo-config/pkg/configapi"
	"github.com/EternisAI/silo-config/pkg/syncagent"
)

type changeLog struct {
	mu      sync.Mutex
	changes [][]string
}

func (c *changeLog) observe(changed []string, _ *syncagent.Snapshot) {
	c.mu.Lock()
	c.changes = append(c.changes, changed)
	c.mu.Unlock()
}

func (c *changeLog) last() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.changes) == 0 {
		return nil
	}
	return c.changes[len(c.changes)-1]
}

func intSetting(s *syncagent.Snapshot, name string) int64 {
	v, _ := s.Int(name)
	return v
}

func boolSetting(s *syncagent.Snapshot, name string) bool {
	v, _ := s.Bool(name)
	return v
}

func newAgent(t *testing.T, url, name, instance, secret, cacheDir string, opts ...syncagent.Option) *syncagent.Agent {
	t.Helper()
	opts = append(opts, syncagent.WithCache(syncagent.NewFileCache(cacheDir)))
	agent, err := syncagent.New(syncagent.Config{
		ClientName:      name,
		Instance:        instance,
		Secret:          secret,
		Schema:          appSchema(t),
		PollInterval:    time.Hour,
		AllowOffline:    true,
		StartupAttempts: 2,
		StartupBackoff:  10 * time.Millisecond,
		RequestTimeout:  2 * time.Second,
	}, syncagent.NewHTTPTransport(url, nil), opts...)
	require.NoError(t, err)
	return agent
}

func TestAgentSync(t *testing.T, env *Env) {
	ctx := context.Background()
	changes := &changeLog{}
	agent := newAgent(t, env.URL, "orders", "", "orders-secret", t.TempDir(), syncagent.WithObserver(changes.observe))

	require.NoError(t, agent.Start(ctx))
	defer agent.Stop()

	snap := agent.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, syncagent.ProvenanceServer, snap.Provenance)
	assert.Equal(t, int64(5432), intSetting(snap, "db.port"))

	t.Run("no change means no pull", func(t *testing.T) {
		before := agent.Snapshot()
		require.NoError(t, agent.SyncOnce(ctx))
		assert.Same(t, before, agent.Snapshot())
	})

	t.Run("admin change reaches the agent", func(t *testing.T) {
		rr := env.admin(http.MethodPut, "/api/v1/admin/clients/values", dto.SetValuesRequest{
			ClientName: "orders",
			Values:     map[string]string{"db.port": "6543", "feature.beta": "true"},
		})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		require.NoError(t, agent.SyncOnce(ctx))
		snap := agent.Snapshot()
		assert.Equal(t, int64(6543), intSetting(snap, "db.port"))
		assert.True(t, boolSetting(snap, "feature.beta"))
		assert.Equal(t, []string{"db.port", "feature.beta"}, changes.last())
	})

	t.Run("live reload off defers the pull", func(t *testing.T) {
		disabled := false
		rr := env.admin(http.MethodPut, "/api/v1/admin/clients/live-reload", dto.LiveReloadRequest{ClientName: "orders", Enabled: &disabled})
		require.Equal(t, http.StatusNoContent, rr.Code)
		rr = env.admin(http.MethodPut, "/api/v1/admin/clients/values", dto.SetValuesRequest{
			ClientName: "orders",
			Values:     map[string]string{"db.port": "7000"},
		})
		require.Equal(t, http.StatusOK, rr.Code)

		require.NoError(t, agent.SyncOnce(ctx))
		assert.False(t, agent.LiveReload())
		assert.Equal(t, int64(6543), intSetting(agent.Snapshot(), "db.port"))
	})

	t.Run("values survive a restart", func(t *testing.T) {
		restarted := registration.NewService(registry.NewPostgresStore(env.Pool))
		res, err := restarted.GetValues(ctx, registry.Identity{ClientName: "orders"}, "orders-secret", registration.Caller{})
		require.NoError(t, err)
		assert.Equal(t, "7000", res.Values["db.port"].String())
		assert.False(t, res.LiveReload)
	})

	t.Run("session is listed", func(t *testing.T) {
		rr := env.admin(http.MethodGet, "/api/v1/admin/sessions?client=orders", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		sessions := decode[dto.SessionsResponse](t, rr)
		require.Equal(t, 1, sessions.Count)
		assert.Equal(t, agent.SessionID(), sessions.Sessions[0].ID)
	})
}

func TestSecretRotation(t *testing.T, env *Env) {
	ctx := context.Background()
	old := newAgent(t, env.URL, "payments", "", "first-secret", t.TempDir())
	require.NoError(t, old.Start(ctx))
	defer old.Stop()

	rr := env.admin(http.MethodPost, "/api/v1/admin/clients/rotate-secret", dto.RotateSecretRequest{
		ClientName:      "payments",
		NewSecret:       "second-secret",
		OldSecretExpiry: time.Now().Add(10 * time.Minute),
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	t.Run("old secret works inside the window", func(t *testing.T) {
		assert.NoError(t, old.SyncOnce(ctx))
	})

	t.Run("new secret works", func(t *testing.T) {
		fresh := newAgent(t, env.URL, "payments", "", "second-secret", t.TempDir())
		require.NoError(t, fresh.Start(ctx))
		fresh.Stop()
	})

	t.Run("wrong secret is rejected without offline fallback", func(t *testing.T) {
		bad := newAgent(t, env.URL, "payments", "", "guess", t.TempDir())
		err := bad.Start(ctx)
		assert.ErrorIs(t, err, syncagent.ErrAuthentication)
	})

	t.Run("second rotation inside the window is stale", func(t *testing.T) {
		rr := env.admin(http.MethodPost, "/api/v1/admin/clients/rotate-secret", dto.RotateSecretRequest{
			ClientName:      "payments",
			NewSecret:       "third-secret",
			OldSecretExpiry: time.Now().Add(10 * time.Minute),
		})
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("mismatch is audited", func(t *testing.T) {
		rr := env.admin(http.MethodGet, "/api/v1/admin/audit?client=payments&type=secret_mismatch", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.GreaterOrEqual(t, decode[dto.AuditResponse](t, rr).Count, 1)
	})
}

func TestOfflineFallback(t *testing.T, env *Env) {
	ctx := context.Background()
	cacheDir := t.TempDir()

	online := newAgent(t, env.URL, "inventory", "", "inv-secret", cacheDir)
	require.NoError(t, online.Start(ctx))
	want := online.Snapshot()
	online.Stop()

	down := httptest.NewServer(http.NotFoundHandler())
	deadURL := down.URL
	down.Close()

	offline := newAgent(t, deadURL, "inventory", "", "inv-secret", cacheDir)
	require.NoError(t, offline.Start(ctx))
	defer offline.Stop()

	snap := offline.Snapshot()
	assert.Equal(t, syncagent.ProvenanceOffline, snap.Provenance)
	assert.True(t, want.ChangedAt.Equal(snap.ChangedAt))
	assert.Equal(t, want.String("db.host"), snap.String("db.host"))

	err := offline.SyncOnce(ctx)
	assert.ErrorIs(t, err, syncagent.ErrTransport, "still unreachable")
	assert.Equal(t, syncagent.ProvenanceOffline, offline.Snapshot().Provenance)

	empty := newAgent(t, deadURL, "inventory", "", "inv-secret", t.TempDir())
	assert.ErrorIs(t, empty.Start(ctx), syncagent.ErrNoConfiguration)
}

func TestInstanceOverrides(t *testing.T, env *Env) {
	ctx := context.Background()
	base := newAgent(t, env.URL, "checkout", "", "co-secret", t.TempDir())
	require.NoError(t, base.Start(ctx))
	defer base.Stop()

	eu := newAgent(t, env.URL, "checkout", "eu", "co-secret", t.TempDir())
	require.NoError(t, eu.Start(ctx))
	defer eu.Stop()

	rr := env.admin(http.MethodPut, "/api/v1/admin/clients/values", dto.SetValuesRequest{
		ClientName: "checkout",
		Instance:   "eu",
		Values:     map[string]string{"db.host": "eu-db.internal"},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = env.admin(http.MethodPut, "/api/v1/admin/clients/values", dto.SetValuesRequest{
		ClientName: "checkout",
		Values:     map[string]string{"db.port": "7001", "db.host": "base-db.internal"},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	require.NoError(t, eu.SyncOnce(ctx))
	snap := eu.Snapshot()
	assert.Equal(t, "eu-db.internal", snap.String("db.host"), "override survives base change")
	assert.Equal(t, int64(7001), intSetting(snap, "db.port"), "base change propagates")

	rr = env.do(http.MethodPost, configapi.ValuesPath, configapi.ValuesRequest{ClientName: "checkout", Secret: "co-secret"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "base-db.internal", decode[configapi.ValuesResponse](t, rr).Values["db.host"].String())
}
