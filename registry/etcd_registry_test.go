package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Needs a running etcd: PORTAL_ETCD_ENDPOINTS=127.0.0.1:2379 go test ./registry
func etcdEndpoints(t *testing.T) []string {
	raw := os.Getenv("PORTAL_ETCD_ENDPOINTS")
	if raw == "" {
		t.Skip("PORTAL_ETCD_ENDPOINTS not set")
	}
	return strings.Split(raw, ",")
}

func TestEtcdRegisterAndDiscover(t *testing.T) {
	reg, err := NewEtcd(etcdEndpoints(t))
	require.NoError(t, err)
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	inst1 := Instance{Addr: "127.0.0.1:8001", Weight: 10, Methods: []string{"add"}}
	inst2 := Instance{Addr: "127.0.0.1:8002", Weight: 5}
	require.NoError(t, reg.Register(ctx, "etcd-test", inst1, 10))
	require.NoError(t, reg.Register(ctx, "etcd-test", inst2, 10))

	// Refresh reuses the lease
	inst1.Methods = []string{"add", "mul"}
	require.NoError(t, reg.Register(ctx, "etcd-test", inst1, 10))

	instances, err := reg.Discover(ctx, "etcd-test")
	require.NoError(t, err)
	require.Len(t, instances, 2)

	require.NoError(t, reg.Deregister(ctx, "etcd-test", inst1.Addr))
	instances, err = reg.Discover(ctx, "etcd-test")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, inst2.Addr, instances[0].Addr)

	require.NoError(t, reg.Deregister(ctx, "etcd-test", inst2.Addr))
}
