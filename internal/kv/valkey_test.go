package kv

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs only against a live server: TRYDO_TEST_VALKEY_ADDR=127.0.0.1:6379.
func TestValkeyStore(t *testing.T) {
	addr := os.Getenv("TRYDO_TEST_VALKEY_ADDR")
	if addr == "" {
		t.Skip("TRYDO_TEST_VALKEY_ADDR not set")
	}
	backend, err := DialValkey(addr, "trydo-test", time.Minute)
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	s := backend.Namespace("local:" + ksuid.New().String())

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "token", "abc"))
	v, ok, err := s.Get(ctx, "token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", v)

	require.NoError(t, s.Set(ctx, "other", "x"))
	require.NoError(t, s.Delete(ctx, "other"))
	_, ok, _ = s.Get(ctx, "other")
	assert.False(t, ok)

	require.NoError(t, s.Clear(ctx))
	_, ok, err = s.Get(ctx, "token")
	require.NoError(t, err)
	assert.False(t, ok)
}
