package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"energy_prices/internal/model"
	"energy_prices/internal/store"
)

func TestArtifactName(t *testing.T) {
	tests := []struct {
		key      store.Key
		expected string
	}{
		{store.Key{Kind: model.KindDayAhead, Country: "NL", Year: 2023}, "DA_prices_NL_2023.csv"},
		{store.Key{Kind: model.KindImbalance, Country: "NL", Year: 2024}, "imb_prices_NL_2024.csv"},
		{store.Key{Kind: "other", Country: "BE", Year: 2020}, "other_prices_BE_2020.csv"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, ArtifactName(tt.key))
		})
	}
}

func TestFileStore_SaveLoadDelete(t *testing.T) {
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "nested", "cache"))
	require.NoError(t, err)
	ctx := context.Background()
	key := store.Key{Kind: model.KindDayAhead, Country: "NL", Year: 2023}

	_, err = fs.Load(ctx, key)
	assert.ErrorIs(t, err, ErrArtifactNotFound)

	require.NoError(t, fs.Save(ctx, key, []byte("time,price\n")))
	require.NoError(t, fs.Save(ctx, key, []byte("time,price\n2023-01-01T00:00:00Z,1\n")))

	data, err := fs.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "time,price\n2023-01-01T00:00:00Z,1\n", string(data))

	// No temp files left behind.
	matches, err := filepath.Glob(filepath.Join(fs.Dir, "*.tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)

	require.NoError(t, fs.Delete(ctx, key))
	require.NoError(t, fs.Delete(ctx, key))
	_, err = fs.Load(ctx, key)
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestRedisStore_Key(t *testing.T) {
	rs := NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "prices:", time.Hour)
	defer rs.Close()

	key := store.Key{Kind: model.KindImbalance, Country: "NL", Year: 2024}
	assert.Equal(t, "prices:imbalance:NL:2024", rs.Key(key))
}

func TestRedisStore_UnreachableIsNotAMiss(t *testing.T) {
	rs := NewRedisStoreFromClient(redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	}), "prices:", 0)
	defer rs.Close()

	_, err := rs.Load(context.Background(), store.Key{Kind: model.KindDayAhead, Country: "NL", Year: 2023})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrArtifactNotFound)
}

func TestManifest_RoundTrip(t *testing.T) {
	m, err := OpenManifest(filepath.Join(t.TempDir(), "manifest.db"))
	require.NoError(t, err)
	defer m.Close()
	ctx := context.Background()

	fetched := time.Date(2024, 2, 1, 8, 30, 0, 0, time.UTC)
	failed := model.FetchWindow{
		Start: time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC),
	}
	entry := model.CacheEntry{
		Kind:          model.KindImbalance,
		Country:       "NL",
		Year:          2023,
		FetchedAt:     fetched,
		Complete:      false,
		Rows:          26000,
		FailedWindows: []model.FetchWindow{failed},
		RunID:         "run-1",
	}
	require.NoError(t, m.Put(ctx, entry))

	key := store.Key{Kind: model.KindImbalance, Country: "NL", Year: 2023}
	got, ok, err := m.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, fetched, got.FetchedAt)
	assert.False(t, got.Complete)
	assert.Equal(t, 26000, got.Rows)
	assert.Equal(t, "run-1", got.RunID)
	require.Len(t, got.FailedWindows, 1)
	assert.True(t, got.FailedWindows[0].Start.Equal(failed.Start))
	assert.True(t, got.FailedWindows[0].End.Equal(failed.End))

	// Upsert replaces the row.
	entry.Complete = true
	entry.FailedWindows = nil
	entry.RunID = "run-2"
	require.NoError(t, m.Put(ctx, entry))
	got, _, err = m.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, got.Complete)
	assert.Empty(t, got.FailedWindows)
	assert.Equal(t, "run-2", got.RunID)

	require.NoError(t, m.Put(ctx, model.CacheEntry{Kind: model.KindDayAhead, Country: "NL", Year: 2022, FetchedAt: fetched}))
	all, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, model.KindDayAhead, all[0].Kind)

	require.NoError(t, m.Delete(ctx, key))
	_, ok, err = m.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}
