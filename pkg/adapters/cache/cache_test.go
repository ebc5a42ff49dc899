package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleEntry() *Entry {
	return &Entry{
		Response:      map[string]any{"verdict": "sound"},
		Raw:           `{"verdict": "sound"}`,
		Agent:         "technical_verification",
		ExecutionTime: 1.25,
		InputHash:     Key("technical_verification", "model", "prompt"),
		OutputHash:    Hash(`{"verdict": "sound"}`),
	}
}

func storeContract(t *testing.T, store Store) {
	ctx := context.Background()
	key := Key("step", "model", "system", "input")

	_, err := store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrMiss)

	entry := sampleEntry()
	require.NoError(t, store.Put(ctx, key, entry))

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, entry.Raw, got.Raw)
	assert.Equal(t, entry.Agent, got.Agent)
	assert.Equal(t, entry.InputHash, got.InputHash)
	assert.Equal(t, entry.OutputHash, got.OutputHash)
	assert.Equal(t, "sound", got.Response["verdict"])

	// A different input produces a different key, so no false hit.
	other := Key("step", "model", "system", "different input")
	_, err = store.Get(ctx, other)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryStoreContract(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestRedisStoreContract(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	storeContract(t, NewRedisStore(client, zap.NewNop()))
}

func TestRedisEntriesHaveNoExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisStore(client, zap.NewNop())
	key := Key("step", "model", "input")
	require.NoError(t, store.Put(context.Background(), key, sampleEntry()))

	mr.FastForward(1 << 40)

	_, err := store.Get(context.Background(), key)
	assert.NoError(t, err, "cache entries persist until invalidated manually")
}

func TestKeyIsOrderSensitive(t *testing.T) {
	assert.NotEqual(t,
		Key("a", "b", "c"),
		Key("c", "b", "a"))
	assert.Equal(t,
		Key("a", "b", "c"),
		Key("a", "b", "c"))
}

func TestKeyPartBoundariesAreUnambiguous(t *testing.T) {
	// Models ids contain ":"; shifting content across part boundaries
	// must never produce the same key.
	assert.NotEqual(t,
		Key("step", "phi3:mini", "input"),
		Key("step", "phi3", "mini:input"))
	assert.NotEqual(t,
		Key("ab", "c"),
		Key("a", "bc"))
	assert.NotEqual(t,
		Key("a:b"),
		Key("a", "b"))
}

func TestHashIsHexSHA256(t *testing.T) {
	sum := Hash("content")
	assert.Len(t, sum, 64)
	assert.Equal(t, sum, Hash("content"))
	assert.NotEqual(t, sum, Hash("Content"))
}
