package store_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"nexqa/config"
	"nexqa/internal/adapter/store"
	"nexqa/internal/adapter/store/storetest"
	"nexqa/internal/port"
)

func TestBoltStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) port.CollectionStore {
		s, err := store.NewBoltStore(filepath.Join(t.TempDir(), "nexqa.db"), zaptest.NewLogger(t))
		require.NoError(t, err)
		return s
	})
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) port.CollectionStore {
		s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "nexqa.sqlite"), zaptest.NewLogger(t))
		require.NoError(t, err)
		return s
	})
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexqa.sqlite")
	s, err := store.NewSQLiteStore(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = store.NewSQLiteStore(path, nil)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, path, s.Path())
}

func TestRank(t *testing.T) {
	got := store.Rank([]store.Candidate{
		{ID: "c", Seq: 3, Score: 0.5},
		{ID: "a", Seq: 1, Score: 0.5},
		{ID: "b", Seq: 2, Score: 0.9},
	}, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "a", got[1].ID)

	assert.Empty(t, store.Rank(nil, 3))
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, store.CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, store.CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, store.CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
	assert.Zero(t, store.CosineSimilarity([]float32{1}, []float32{1, 1}))
}

func TestMigrations(t *testing.T) {
	cfg := config.DefaultConfig()

	for name, open := range map[string]func(t *testing.T) store.Migrator{
		"bolt": func(t *testing.T) store.Migrator {
			s, err := store.NewBoltStore(filepath.Join(t.TempDir(), "nexqa.db"), nil)
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
		"sqlite": func(t *testing.T) store.Migrator {
			s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "nexqa.sqlite"), nil)
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	} {
		t.Run(name, func(t *testing.T) {
			m := open(t)

			result, err := store.CheckMigration(m, cfg)
			require.NoError(t, err)
			assert.True(t, result.NeedsMigration)
			assert.False(t, result.NeedsRebuild)

			require.NoError(t, store.Migrate(m, cfg))
			result, err = store.CheckMigration(m, cfg)
			require.NoError(t, err)
			assert.False(t, result.NeedsMigration)
			assert.False(t, result.NeedsRebuild)

			changed := config.DefaultConfig()
			changed.Chunking.Size = 400
			result, err = store.CheckMigration(m, changed)
			require.NoError(t, err)
			assert.True(t, result.NeedsRebuild)

			require.NoError(t, store.Rebuild(m, changed))
			result, err = store.CheckMigration(m, changed)
			require.NoError(t, err)
			assert.False(t, result.NeedsRebuild)
		})
	}
}

func TestComputeConfigHash(t *testing.T) {
	a := config.DefaultConfig()
	b := config.DefaultConfig()
	assert.Equal(t, store.ComputeConfigHash(a), store.ComputeConfigHash(b))

	b.Provider = config.ProviderAzure
	assert.NotEqual(t, store.ComputeConfigHash(a), store.ComputeConfigHash(b))

	c := config.DefaultConfig()
	c.Retrieve.TopK = 9
	assert.Equal(t, store.ComputeConfigHash(a), store.ComputeConfigHash(c))
}
