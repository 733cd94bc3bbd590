//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRedis requires a Redis server on localhost.
func TestRedis(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, "redis://localhost:6379/0")
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "sentrysol:test", []byte("v"), time.Second))
	v, err := c.Get(ctx, "sentrysol:test")
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))

	_, err = c.Get(ctx, "sentrysol:missing")
	assert.ErrorIs(t, err, ErrMiss)
}
