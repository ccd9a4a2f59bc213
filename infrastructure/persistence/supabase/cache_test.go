package supabase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCacheHitWithinTTL(t *testing.T) {
	cache := newTTLCache[int](time.Minute, nil)

	_, ok := cache.get()
	assert.False(t, ok)

	cache.put(42)
	v, ok := cache.get()
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestTTLCacheExpires(t *testing.T) {
	cache := newTTLCache[int](10*time.Millisecond, nil)
	cache.put(1)

	time.Sleep(25 * time.Millisecond)
	_, ok := cache.get()
	assert.False(t, ok)
}

func TestTTLCacheInvalidate(t *testing.T) {
	cache := newTTLCache[string](time.Minute, nil)
	cache.put("cached")

	cache.invalidate()
	_, ok := cache.get()
	assert.False(t, ok)
}
