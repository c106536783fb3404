package rotation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/EternisAI/silo-config/internal/audit"
	"github.com/EternisAI/silo-config/internal/registration"
	"github.com/EternisAI/silo-config/internal/registry"
	"github.com/EternisAI/silo-config/pkg/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store    *registry.MemoryStore
	recorder *audit.Recorder
	clock    *testClock
	svc      *registration.Service
	coord    *Coordinator
	schema   settings.Schema
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := settings.NewSchemaBuilder()
	b.String("endpoint", "https://api.local")
	schema, err := b.Build()
	require.NoError(t, err)

	f := &fixture{
		store:    registry.NewMemoryStore(),
		recorder: &audit.Recorder{},
		clock:    &testClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)},
		schema:   schema,
	}
	f.svc = registration.NewService(f.store,
		registration.WithAuditSink(f.recorder),
		registration.WithClock(f.clock.Now))
	f.coord = NewCoordinator(f.store, WithAuditSink(f.recorder), WithClock(f.clock.Now))
	return f
}

func (f *fixture) register(id registry.Identity, secret string) (*registration.RegisterResult, error) {
	return f.svc.RegisterClient(context.Background(), registration.RegisterRequest{
		Identity: id,
		Secret:   secret,
		Schema:   f.schema,
		Caller:   registration.Caller{IP: "10.1.1.1"},
	})
}

var billing = registry.Identity{ClientName: "billing"}

func TestRotationGraceWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.register(billing, "s1")
	require.NoError(t, err)

	res, err := f.coord.RotateSecret(ctx, Request{
		Identity:        billing,
		NewSecret:       "s2",
		OldSecretExpiry: f.clock.Now().Add(10 * time.Minute),
		Actor:           "ops",
	})
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(10*time.Minute), res.PreviousSecretExpiry)

	old, err := f.register(billing, "s1")
	require.NoError(t, err)
	assert.Equal(t, registration.MatchesPreviousSecretWithinWindow, old.Status)

	current, err := f.register(billing, "s2")
	require.NoError(t, err)
	assert.Equal(t, registration.MatchesCurrentSecret, current.Status)

	f.clock.Advance(11 * time.Minute)
	_, err = f.register(billing, "s1")
	assert.ErrorIs(t, err, registration.ErrAuthenticationFailure)

	current, err = f.register(billing, "s2")
	require.NoError(t, err)
	assert.Equal(t, registration.MatchesCurrentSecret, current.Status)

	reg, err := f.store.Get(ctx, billing)
	require.NoError(t, err)
	assert.False(t, reg.HasPreviousSecret(), "re-registration after the window clears the previous secret")

	rotated := f.recorder.OfType(audit.EventSecretRotated)
	require.Len(t, rotated, 1)
	assert.Equal(t, "ops", rotated[0].Details["actor"])
}

func TestRotationRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.register(billing, "s1")
	require.NoError(t, err)

	_, err = f.coord.RotateSecret(ctx, Request{Identity: billing, NewSecret: "s2", OldSecretExpiry: f.clock.Now()})
	assert.ErrorIs(t, err, ErrExpiryInPast)
	assert.ErrorIs(t, err, ErrStaleRotation)

	_, err = f.coord.RotateSecret(ctx, Request{Identity: billing, NewSecret: "s1", OldSecretExpiry: f.clock.Now().Add(time.Hour)})
	assert.ErrorIs(t, err, ErrSameSecret)

	_, err = f.coord.RotateSecret(ctx, Request{Identity: billing, NewSecret: "s2", OldSecretExpiry: f.clock.Now().Add(time.Hour)})
	require.NoError(t, err)

	_, err = f.coord.RotateSecret(ctx, Request{Identity: billing, NewSecret: "s3", OldSecretExpiry: f.clock.Now().Add(2 * time.Hour)})
	assert.ErrorIs(t, err, ErrRotationPending)
	assert.ErrorIs(t, err, ErrStaleRotation)

	rejected := f.recorder.OfType(audit.EventRotationRejected)
	require.Len(t, rejected, 3)
	assert.Contains(t, rejected[2].Details, "pending_expiry")

	stored, err := f.store.AuditEvents(ctx, registry.AuditFilter{Type: string(audit.EventRotationRejected)})
	require.NoError(t, err)
	assert.Len(t, stored, 3)

	reg, err := f.store.Get(ctx, billing)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(time.Hour), *reg.PreviousSecretExpiry, "rejected rotation leaves state alone")

	f.clock.Advance(time.Hour + time.Second)
	_, err = f.coord.RotateSecret(ctx, Request{Identity: billing, NewSecret: "s3", OldSecretExpiry: f.clock.Now().Add(time.Hour)})
	assert.NoError(t, err, "a new rotation is allowed once the window has closed")
}

func TestRotationUnknownClient(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.RotateSecret(context.Background(), Request{
		Identity: registry.Identity{ClientName: "ghost"}, NewSecret: "x", OldSecretExpiry: f.clock.Now().Add(time.Hour),
	})
	assert.ErrorIs(t, err, registration.ErrUnknownClient)

	_, err = f.coord.RotateSecret(context.Background(), Request{Identity: billing, OldSecretExpiry: f.clock.Now().Add(time.Hour)})
	assert.ErrorIs(t, err, registration.ErrInvalidRequest)
}

func TestBaseRotationCascadesToSharingInstances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eu := registry.Identity{ClientName: "billing", Instance: "eu"}
	us := registry.Identity{ClientName: "billing", Instance: "us"}
	_, err := f.register(billing, "s1")
	require.NoError(t, err)
	_, err = f.register(eu, "s1")
	require.NoError(t, err)
	_, err = f.register(us, "s1")
	require.NoError(t, err)

	_, err = f.coord.RotateSecret(ctx, Request{Identity: us, NewSecret: "us-secret", OldSecretExpiry: f.clock.Now().Add(time.Minute)})
	require.NoError(t, err)

	res, err := f.coord.RotateSecret(ctx, Request{Identity: billing, NewSecret: "s2", OldSecretExpiry: f.clock.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, []string{"eu"}, res.Instances)

	status, err := f.register(eu, "s2")
	require.NoError(t, err)
	assert.Equal(t, registration.MatchesCurrentSecret, status.Status)

	status, err = f.register(eu, "s1")
	require.NoError(t, err)
	assert.Equal(t, registration.MatchesPreviousSecretWithinWindow, status.Status)

	status, err = f.register(us, "us-secret")
	require.NoError(t, err)
	assert.Equal(t, registration.MatchesCurrentSecret, status.Status)
	_, err = f.register(us, "s2")
	assert.ErrorIs(t, err, registration.ErrAuthenticationFailure)
}
