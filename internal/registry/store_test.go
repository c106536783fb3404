package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/EternisAI/silo-config/internal/audit"
	"github.com/EternisAI/silo-config/pkg/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func newRegistration(t *testing.T, id Identity) *Registration {
	t.Helper()
	b := settings.NewSchemaBuilder()
	b.String("db.host", "localhost").Group("database")
	b.Int("db.port", 5432).Range(1, 65535)
	schema, err := b.Build()
	require.NoError(t, err)

	return &Registration{
		Identity:         id,
		SecretHash:       "hash",
		Schema:           schema,
		Values:           schema.Defaults(),
		Overrides:        map[string]bool{},
		LiveReload:       true,
		SchemaVersion:    1,
		Fingerprint:      schema.Fingerprint(),
		RegisteredAt:     testNow,
		LastRegisteredAt: testNow,
		ValuesChangedAt:  testNow,
	}
}

func put(t *testing.T, s Store, reg *Registration) {
	t.Helper()
	require.NoError(t, s.WithTx(context.Background(), reg.ClientName, func(tx Tx) error {
		return tx.Put(context.Background(), reg)
	}))
}

// runStoreContract exercises behaviour every Store implementation shares.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("put and get", func(t *testing.T) {
		s := newStore(t)
		reg := newRegistration(t, Identity{ClientName: "billing"})
		expiry := testNow.Add(10 * time.Minute)
		reg.PreviousSecretHash = "old"
		reg.PreviousSecretExpiry = &expiry
		put(t, s, reg)

		got, err := s.Get(ctx, reg.Identity)
		require.NoError(t, err)
		assert.Equal(t, reg, got)

		_, err = s.Get(ctx, Identity{ClientName: "missing"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("failed transaction leaves no trace", func(t *testing.T) {
		s := newStore(t)
		id := Identity{ClientName: "orders"}
		boom := errors.New("boom")

		err := s.WithTx(ctx, id.ClientName, func(tx Tx) error {
			require.NoError(t, tx.Put(ctx, newRegistration(t, id)))
			require.NoError(t, tx.AppendHistory(ctx, HistoryEntry{
				Identity: id, Name: "db.host", Kind: settings.KindString,
				Value: settings.StringValue("x"), Source: SourceDefault, ChangedAt: testNow,
			}))
			require.NoError(t, tx.RecordAudit(ctx, audit.NewEvent(audit.EventInitialRegistration, id.ClientName, "", testNow)))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		_, err = s.Get(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)
		history, err := s.History(ctx, id, "", 0)
		require.NoError(t, err)
		assert.Empty(t, history)
		events, err := s.AuditEvents(ctx, AuditFilter{ClientName: id.ClientName})
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("writes are visible inside the transaction", func(t *testing.T) {
		s := newStore(t)
		id := Identity{ClientName: "search"}
		require.NoError(t, s.WithTx(ctx, id.ClientName, func(tx Tx) error {
			require.NoError(t, tx.Put(ctx, newRegistration(t, id)))
			got, err := tx.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "hash", got.SecretHash)
			return nil
		}))
	})

	t.Run("deleting a base cascades to instances", func(t *testing.T) {
		s := newStore(t)
		base := Identity{ClientName: "api"}
		put(t, s, newRegistration(t, base))
		put(t, s, newRegistration(t, Identity{ClientName: "api", Instance: "eu"}))
		put(t, s, newRegistration(t, Identity{ClientName: "api", Instance: "us"}))
		put(t, s, newRegistration(t, Identity{ClientName: "other"}))

		require.NoError(t, s.WithTx(ctx, "api", func(tx Tx) error {
			instances, err := tx.Instances(ctx)
			require.NoError(t, err)
			require.Len(t, instances, 2)
			assert.Equal(t, "eu", instances[0].Instance)
			return tx.Delete(ctx, base)
		}))

		all, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "other", all[0].ClientName)

		err = s.WithTx(ctx, "api", func(tx Tx) error { return tx.Delete(ctx, base) })
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("last value matches name and kind", func(t *testing.T) {
		s := newStore(t)
		id := Identity{ClientName: "cache"}
		put(t, s, newRegistration(t, id))

		require.NoError(t, s.WithTx(ctx, id.ClientName, func(tx Tx) error {
			return tx.AppendHistory(ctx,
				HistoryEntry{Identity: id, Name: "ttl", Kind: settings.KindInt, Value: settings.IntValue(5), Source: SourceDefault, ChangedAt: testNow},
				HistoryEntry{Identity: id, Name: "ttl", Kind: settings.KindInt, Value: settings.IntValue(30), Source: SourceAdmin, ChangedAt: testNow.Add(time.Minute)},
				HistoryEntry{Identity: id, Name: "ttl", Kind: settings.KindString, Value: settings.StringValue("long"), Source: SourceAdmin, ChangedAt: testNow.Add(2 * time.Minute)},
			)
		}))

		require.NoError(t, s.WithTx(ctx, id.ClientName, func(tx Tx) error {
			v, ok, err := tx.LastValue(ctx, id, "ttl", settings.KindInt)
			require.NoError(t, err)
			require.True(t, ok)
			assert.True(t, v.Equal(settings.IntValue(30)))

			_, ok, err = tx.LastValue(ctx, id, "ttl", settings.KindBool)
			require.NoError(t, err)
			assert.False(t, ok)
			return nil
		}))

		history, err := s.History(ctx, id, "ttl", 2)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, settings.KindString, history[0].Kind)
		assert.Equal(t, SourceAdmin, history[1].Source)
	})

	t.Run("audit filter", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.WithTx(ctx, "a", func(tx Tx) error {
			require.NoError(t, tx.RecordAudit(ctx, audit.NewEvent(audit.EventInitialRegistration, "a", "", testNow)))
			return tx.RecordAudit(ctx, audit.NewEvent(audit.EventSecretMismatch, "a", "", testNow.Add(time.Second)).
				WithCaller("10.1.1.1", "box").With("reason", "bad secret"))
		}))
		require.NoError(t, s.WithTx(ctx, "b", func(tx Tx) error {
			return tx.RecordAudit(ctx, audit.NewEvent(audit.EventInitialRegistration, "b", "", testNow))
		}))

		events, err := s.AuditEvents(ctx, AuditFilter{ClientName: "a"})
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, audit.EventSecretMismatch, events[0].Type)
		assert.Equal(t, "10.1.1.1", events[0].RemoteIP)
		assert.Equal(t, "bad secret", events[0].Details["reason"])

		events, err = s.AuditEvents(ctx, AuditFilter{Type: string(audit.EventInitialRegistration)})
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("transactions on one client are serialised", func(t *testing.T) {
		s := newStore(t)
		id := Identity{ClientName: "counter"}
		put(t, s, newRegistration(t, id))

		const workers = 10
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, s.WithTx(ctx, id.ClientName, func(tx Tx) error {
					reg, err := tx.Get(ctx, id)
					if err != nil {
						return err
					}
					reg.SchemaVersion++
					return tx.Put(ctx, reg)
				}))
			}()
		}
		wg.Wait()

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1+workers, got.SchemaVersion)
	})

	t.Run("different clients do not block each other", func(t *testing.T) {
		s := newStore(t)
		held := make(chan struct{})
		release := make(chan struct{})
		done := make(chan error, 1)

		go func() {
			done <- s.WithTx(ctx, "slow", func(tx Tx) error {
				close(held)
				<-release
				return nil
			})
		}()
		<-held

		finished := make(chan error, 1)
		go func() {
			finished <- s.WithTx(ctx, "fast", func(tx Tx) error {
				return tx.Put(ctx, newRegistration(t, Identity{ClientName: "fast"}))
			})
		}()

		select {
		case err := <-finished:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("transaction for an unrelated client was blocked")
		}
		close(release)
		assert.NoError(t, <-done)
	})

	t.Run("transaction is scoped to its client", func(t *testing.T) {
		s := newStore(t)
		err := s.WithTx(ctx, "a", func(tx Tx) error {
			return tx.Put(ctx, newRegistration(t, Identity{ClientName: "b"}))
		})
		assert.Error(t, err)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStoreReleasesKeyLocks(t *testing.T) {
	s := NewMemoryStore()
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, s.WithTx(context.Background(), name, func(tx Tx) error { return nil }))
	}
	assert.Equal(t, 0, s.locks.size())
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	id := Identity{ClientName: "billing"}
	put(t, s, newRegistration(t, id))

	got, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	got.Values["db.host"] = settings.StringValue("mutated")
	got.Overrides["db.host"] = true

	again, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "localhost", again.Values["db.host"].String())
	assert.Empty(t, again.Overrides)
}

func TestIdentity(t *testing.T) {
	base := Identity{ClientName: "billing"}
	inst := Identity{ClientName: "billing", Instance: "eu-1"}

	assert.True(t, base.IsBase())
	assert.False(t, inst.IsBase())
	assert.Equal(t, base, inst.Base())
	assert.Equal(t, "billing/eu-1", inst.String())
	assert.Error(t, Identity{}.Validate())
}

func TestRotationPending(t *testing.T) {
	reg := &Registration{}
	assert.False(t, reg.RotationPending(testNow))

	expiry := testNow.Add(time.Minute)
	reg.PreviousSecretHash = "old"
	reg.PreviousSecretExpiry = &expiry
	assert.True(t, reg.RotationPending(testNow))
	assert.False(t, reg.RotationPending(expiry))
	assert.True(t, reg.HasPreviousSecret())

	reg.ClearPreviousSecret()
	assert.False(t, reg.HasPreviousSecret())
}
