package verify

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryConsumedStore_FirstClaimWins(t *testing.T) {
	store := NewMemoryConsumedStore()

	ok, err := store.Consume(context.Background(), "grant-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Consume(context.Background(), "grant-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryConsumedStore_ConcurrentClaims(t *testing.T) {
	store := NewMemoryConsumedStore()

	var wins int64
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Consume(context.Background(), "grant-1", time.Minute)
			assert.NoError(t, err)
			if ok {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), wins)
}

func TestMemoryConsumedStore_ExpiredMarkerFreesID(t *testing.T) {
	store := NewMemoryConsumedStore()

	ok, err := store.Consume(context.Background(), "grant-1", -time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Consume(context.Background(), "grant-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
