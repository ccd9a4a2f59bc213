package supabase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRealtimeClientEndpoint(t *testing.T) {
	rt, err := newRealtimeClient("https://abc.supabase.co", "anon-key", "proj-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "wss://abc.supabase.co/realtime/v1/websocket?apikey=anon-key&vsn=1.0.0", rt.endpoint)
}

func TestNewRealtimeClientPlainHTTP(t *testing.T) {
	rt, err := newRealtimeClient("http://localhost:54321", "key", "proj-1", nil)
	require.NoError(t, err)
	assert.Contains(t, rt.endpoint, "ws://localhost:54321/realtime/v1/websocket")
}

func TestNewRealtimeClientRejectsBadScheme(t *testing.T) {
	_, err := newRealtimeClient("ftp://example.com", "key", "proj-1", nil)
	assert.Error(t, err)
}
