package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAcquireRelease(t *testing.T) {
	dl := New(zap.NewNop())
	ctx := context.Background()

	require.True(t, dl.Acquire(ctx, "doc-1", "writer", time.Second))
	assert.True(t, dl.IsLocked("doc-1"))

	info, held := dl.GetInfo("doc-1")
	require.True(t, held)
	assert.Equal(t, "writer", info.Owner)

	assert.True(t, dl.Release("doc-1", "writer"))
	assert.False(t, dl.IsLocked("doc-1"))
}

func TestAcquireIsReentrant(t *testing.T) {
	dl := New(zap.NewNop())
	ctx := context.Background()

	require.True(t, dl.Acquire(ctx, "doc-1", "writer", time.Second))
	assert.True(t, dl.Acquire(ctx, "doc-1", "writer", 50*time.Millisecond),
		"same owner must re-acquire immediately")
}

func TestAcquireTimesOutWhileHeld(t *testing.T) {
	dl := New(zap.NewNop())
	ctx := context.Background()

	require.True(t, dl.Acquire(ctx, "doc-1", "writer", time.Second))
	assert.False(t, dl.Acquire(ctx, "doc-1", "other", 150*time.Millisecond))
}

func TestAcquireBlocksUntilReleased(t *testing.T) {
	dl := New(zap.NewNop())
	ctx := context.Background()

	require.True(t, dl.Acquire(ctx, "doc-1", "writer", time.Second))

	var wg sync.WaitGroup
	wg.Add(1)
	acquired := false
	go func() {
		defer wg.Done()
		acquired = dl.Acquire(ctx, "doc-1", "other", 2*time.Second)
	}()

	time.Sleep(50 * time.Millisecond)
	dl.Release("doc-1", "writer")
	wg.Wait()

	assert.True(t, acquired)
	info, held := dl.GetInfo("doc-1")
	require.True(t, held)
	assert.Equal(t, "other", info.Owner)
}

func TestReleaseOwnership(t *testing.T) {
	dl := New(zap.NewNop())
	ctx := context.Background()

	require.True(t, dl.Acquire(ctx, "doc-1", "writer", time.Second))

	assert.False(t, dl.Release("doc-1", "imposter"), "non-owner cannot release")
	assert.True(t, dl.IsLocked("doc-1"))

	assert.True(t, dl.Release("doc-1", ForceOwner), "force owner releases any lock")
	assert.False(t, dl.IsLocked("doc-1"))

	assert.True(t, dl.Release("doc-1", "anyone"), "releasing an unheld lock succeeds")
}

func TestVersionSurvivesRelease(t *testing.T) {
	dl := New(zap.NewNop())
	ctx := context.Background()

	require.True(t, dl.Acquire(ctx, "doc-1", "writer", time.Second))
	assert.Equal(t, 1, dl.IncrementVersion("doc-1"))
	dl.Release("doc-1", "writer")

	require.True(t, dl.Acquire(ctx, "doc-1", "writer", time.Second))
	assert.Equal(t, 2, dl.IncrementVersion("doc-1"))

	info, _ := dl.GetInfo("doc-1")
	assert.Equal(t, 2, info.Version)
	assert.Equal(t, 2, dl.Version("doc-1"))
}

func TestMutualExclusionUnderContention(t *testing.T) {
	dl := New(zap.NewNop())
	ctx := context.Background()

	var active, max int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		owner := string(rune('a' + i))
		go func() {
			defer wg.Done()
			assert.True(t, dl.Acquire(ctx, "doc-1", owner, 5*time.Second))
			mu.Lock()
			active++
			if active > max {
				max = active
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			dl.Release("doc-1", owner)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, max, "at most one owner may hold the lock at a time")
}
