package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMemoryBackend_Expiry(t *testing.T) {
	b := NewMemoryBackend(WithMemoryLogger(zaptest.NewLogger(t)))
	defer b.Close()
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	require.NoError(t, b.Set(ctx, "k", []byte("v"), time.Minute))
	got, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	now = now.Add(2 * time.Minute)
	_, ok, err = b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, b.Len())
}

func TestMemoryBackend_Cleanup(t *testing.T) {
	b := NewMemoryBackend()
	defer b.Close()
	ctx := context.Background()

	now := time.Now()
	b.now = func() time.Time { return now }
	require.NoError(t, b.Set(ctx, "short", []byte("1"), time.Second))
	require.NoError(t, b.Set(ctx, "long", []byte("2"), time.Hour))

	now = now.Add(time.Minute)
	b.doCleanup()
	assert.Equal(t, 1, b.Len())
}

func TestMemoryBackend_Generations(t *testing.T) {
	b := NewMemoryBackend()
	defer b.Close()
	ctx := context.Background()

	gens, err := b.Generations(ctx, []Tag{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 0}, gens)

	require.NoError(t, b.Bump(ctx, []Tag{"a"}))
	require.NoError(t, b.Bump(ctx, []Tag{"a", "b"}))
	gens, err = b.Generations(ctx, []Tag{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 1, 0}, gens)

	assert.NoError(t, b.Close())
	assert.NoError(t, b.Close())
}
