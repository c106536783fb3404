package rotation

import (
	"context"
	"testing"
	"time"

	"github.com/EternisAI/silo-config/internal/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeperClearsExpiredPreviousSecrets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.register(billing, "s1")
	require.NoError(t, err)
	_, err = f.coord.RotateSecret(ctx, Request{Identity: billing, NewSecret: "s2", OldSecretExpiry: f.clock.Now().Add(time.Minute)})
	require.NoError(t, err)

	sweeper := NewSweeper(f.store, f.recorder, time.Minute)
	sweeper.clock = f.clock.Now

	cleared, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, cleared, "window still open")

	f.clock.Advance(2 * time.Minute)
	cleared, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)

	reg, err := f.store.Get(ctx, billing)
	require.NoError(t, err)
	assert.False(t, reg.HasPreviousSecret())
	assert.Nil(t, reg.PreviousSecretExpiry)
	assert.Len(t, f.recorder.OfType(audit.EventPreviousSecretExpired), 1)

	cleared, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, cleared)
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	sweeper := NewSweeper(f.store, nil, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
