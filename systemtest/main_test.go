package systemtest

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	internalhttp "github.com/EternisAI/silo-config/internal/api/http"
	"github.com/EternisAI/silo-config/internal/auth"
	"github.com/EternisAI/silo-config/internal/db"
	"github.com/EternisAI/silo-config/internal/liveness"
	"github.com/EternisAI/silo-config/internal/registration"
	"github.com/EternisAI/silo-config/internal/registry"
	"github.com/EternisAI/silo-config/internal/rotation"
	"github.com/EternisAI/silo-config/internal/secrets"
	"github.com/EternisAI/silo-config/systemtest/postgres"
	"github.com/EternisAI/silo-config/systemtest/tests"
)

const (
	apiKey    = "system-test-admin-key"
	jwtSecret = "system-test-jwt-secret"
)

func TestSystemIntegration(t *testing.T) {
	ctx := context.Background()
	url := postgres.Start(t, "silo_config")
	require.NoError(t, db.RunMigrations(url, "silo_config"))
	pool, err := db.InitDB(ctx, db.Config{Url: url, Schema: "silo_config"})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	hash, err := secrets.Hash("changeme")
	require.NoError(t, err)

	store := registry.NewPostgresStore(pool)
	tracker := liveness.NewTracker(liveness.Config{SweepInterval: time.Second},
		liveness.WithStore(registry.NewLivenessStore(pool)))

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	internalhttp.SetupRoute(engine, &internalhttp.Services{
		Registration: registration.NewService(store,
			registration.WithLiveness(tracker, liveness.DefaultPollPolicy())),
		Rotation: rotation.NewCoordinator(store),
		Tracker:  tracker,
		Auth: auth.NewService(
			[]auth.Operator{{Username: "root", PasswordHash: hash}},
			auth.JWTConfig{Secret: jwtSecret}),
		AdminAPIKey: apiKey,
		Version:     "systemtest",
		RuntimeID:   "systemtest-runtime",
	})

	server := httptest.NewServer(engine)
	t.Cleanup(server.Close)

	env := &tests.Env{
		Router:    engine,
		URL:       server.URL,
		APIKey:    apiKey,
		JWTSecret: jwtSecret,
		Pool:      pool,
	}

	t.Run("Health", func(t *testing.T) { tests.TestHealthCheck(t, env) })
	t.Run("OperatorLogin", func(t *testing.T) { tests.TestOperatorLogin(t, env) })
	t.Run("AgentSync", func(t *testing.T) { tests.TestAgentSync(t, env) })
	t.Run("SecretRotation", func(t *testing.T) { tests.TestSecretRotation(t, env) })
	t.Run("OfflineFallback", func(t *testing.T) { tests.TestOfflineFallback(t, env) })
	t.Run("InstanceOverrides", func(t *testing.T) { tests.TestInstanceOverrides(t, env) })
}
