package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRegisterAndDiscover(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()

	require.NoError(t, reg.Register(ctx, "alpha", Instance{Addr: "127.0.0.1:8002", Weight: 5}, 10))
	require.NoError(t, reg.Register(ctx, "alpha", Instance{Addr: "127.0.0.1:8001", Weight: 10}, 10))
	require.NoError(t, reg.Register(ctx, "", Instance{Addr: "127.0.0.1:9000"}, 10))

	instances, err := reg.Discover(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, "127.0.0.1:8001", instances[0].Addr)

	// Unscoped instances are a separate partition
	unscoped, err := reg.Discover(ctx, "")
	require.NoError(t, err)
	require.Len(t, unscoped, 1)

	require.NoError(t, reg.Deregister(ctx, "alpha", "127.0.0.1:8001"))
	instances, err = reg.Discover(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "127.0.0.1:8002", instances[0].Addr)
}

func TestMemoryRegisterRefreshesMethods(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()
	require.NoError(t, reg.Register(ctx, "s", Instance{Addr: "a", Methods: []string{"add"}}, 10))
	require.NoError(t, reg.Register(ctx, "s", Instance{Addr: "a", Methods: []string{"add", "mul"}}, 10))

	instances, err := reg.Discover(ctx, "s")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, []string{"add", "mul"}, instances[0].Methods)
}

func TestMemoryWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reg := NewMemory()
	updates := reg.Watch(ctx, "s")

	require.NoError(t, reg.Register(ctx, "s", Instance{Addr: "a"}, 10))
	select {
	case list := <-updates:
		require.Len(t, list, 1)
	case <-time.After(time.Second):
		t.Fatal("no watch update")
	}

	cancel()
	select {
	case _, open := <-updates:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed")
	}
}

func TestInstanceKeys(t *testing.T) {
	assert.Equal(t, "/portal/_/h:1", instanceKey("", "h:1"))
	assert.Equal(t, "/portal/alpha/h:1", instanceKey("alpha", "h:1"))
	assert.Equal(t, "/portal/alpha/", scopePrefix("alpha"))
}
