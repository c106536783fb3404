package syncagent

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/silo-config/pkg/settings"
)

func TestFileCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cache := NewFileCache(dir)
	ctx := context.Background()

	snap := &Snapshot{
		ClientName: "billing",
		Instance:   "eu",
		Values: settings.Values{
			"timeout": settings.MustParse(settings.KindDuration, "5s"),
			"regions": settings.StringListValue([]string{"eu", "us"}),
		},
		ChangedAt:  t0,
		ObtainedAt: t1,
		Provenance: ProvenanceServer,
	}
	require.NoError(t, cache.Save(ctx, snap))

	_, err := os.Stat(filepath.Join(dir, "billing@eu.json.tmp"))
	assert.True(t, os.IsNotExist(err), "temporary file is renamed away")

	loaded, err := cache.Load(ctx, "billing", "eu")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, ProvenanceOffline, loaded.Provenance)
	assert.Equal(t, t0, loaded.ChangedAt)
	assert.Empty(t, settings.ChangedNames(snap.Values, loaded.Values))

	missing, err := cache.Load(ctx, "billing", "")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFileCacheMissingDirectory(t *testing.T) {
	cache := NewFileCache(filepath.Join(t.TempDir(), "never-created"))
	snap, err := cache.Load(context.Background(), "billing", "")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestFileCacheRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "billing.json"), []byte("{"), 0600))
	_, err := NewFileCache(dir).Load(context.Background(), "billing", "")
	assert.Error(t, err)
}

func TestFileCacheKeepsLookalikeIdentitiesApart(t *testing.T) {
	cache := NewFileCache(t.TempDir())
	ctx := context.Background()

	require.NoError(t, cache.Save(ctx, &Snapshot{
		ClientName: "a@b",
		Values:     settings.Values{"mode": settings.StringValue("base")},
		Provenance: ProvenanceServer,
	}))
	require.NoError(t, cache.Save(ctx, &Snapshot{
		ClientName: "a",
		Instance:   "b",
		Values:     settings.Values{"mode": settings.StringValue("instance")},
		Provenance: ProvenanceServer,
	}))

	base, err := cache.Load(ctx, "a@b", "")
	require.NoError(t, err)
	require.NotNil(t, base)
	assert.Equal(t, "base", base.String("mode"))

	inst, err := cache.Load(ctx, "a", "b")
	require.NoError(t, err)
	require.NotNil(t, inst)
	assert.Equal(t, "instance", inst.String("mode"))

	nested, err := cache.Load(ctx, "team/a", "")
	require.NoError(t, err)
	assert.Nil(t, nested)
}
