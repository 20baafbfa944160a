package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServiceWithoutAddress(t *testing.T) {
	assert.Nil(t, NewServiceWithAddr("", ""))
}

func TestServiceRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_URL")
	if addr == "" {
		t.Skip("TEST_REDIS_URL not set")
	}

	svc := NewServiceWithAddr(addr, os.Getenv("TEST_REDIS_PASSWORD"))
	require.NotNil(t, svc)
	defer svc.Close()

	ctx := context.Background()
	key := "colloquy:test:" + uuid.NewString()

	_, ok, err := svc.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, svc.Set(ctx, key, []byte("value"), time.Minute))
	val, ok, err := svc.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("value"), val)

	require.NoError(t, svc.Delete(ctx, key))
	_, ok, err = svc.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}
