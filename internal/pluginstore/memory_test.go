package pluginstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horizon-engine/horizon/internal/pluginstore"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := pluginstore.NewMemoryStore()

	_, ok, err := s.Get(ctx, "chat", "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "chat", "greeting", []byte(`"hi"`)))
	v, ok, err := s.Get(ctx, "chat", "greeting")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `"hi"`, string(v))
}

func TestMemoryStoreIsolatesPluginNamespaces(t *testing.T) {
	ctx := context.Background()
	s := pluginstore.NewMemoryStore()

	require.NoError(t, s.Set(ctx, "chat", "count", []byte("1")))
	require.NoError(t, s.Set(ctx, "combat", "count", []byte("2")))

	v, _, err := s.Get(ctx, "chat", "count")
	require.NoError(t, err)
	assert.Equal(t, "1", string(v))

	v, _, err = s.Get(ctx, "combat", "count")
	require.NoError(t, err)
	assert.Equal(t, "2", string(v))
}

func TestMemoryStoreKeysFiltersByPrefix(t *testing.T) {
	ctx := context.Background()
	s := pluginstore.NewMemoryStore()
	require.NoError(t, s.Set(ctx, "chat", "cache_a", []byte("1")))
	require.NoError(t, s.Set(ctx, "chat", "cache_b", []byte("1")))
	require.NoError(t, s.Set(ctx, "chat", "config", []byte("1")))

	keys, err := s.Keys(ctx, "chat", "cache_")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"cache_a", "cache_b"}, keys)
}

func TestMemoryStoreClearRemovesOnlyThatPlugin(t *testing.T) {
	ctx := context.Background()
	s := pluginstore.NewMemoryStore()
	require.NoError(t, s.Set(ctx, "chat", "k", []byte("1")))
	require.NoError(t, s.Set(ctx, "combat", "k", []byte("1")))

	require.NoError(t, s.Clear(ctx, "chat"))

	_, ok, _ := s.Get(ctx, "chat", "k")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, "combat", "k")
	assert.True(t, ok)
}

func TestMemoryStoreDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := pluginstore.NewMemoryStore()
	assert.NoError(t, s.Delete(ctx, "chat", "never-set"))
}
