package client

import (
	"context"
	"testing"
	"time"

	"portal-rpc/codec"
	"portal-rpc/host"
	"portal-rpc/loadbalance"
	"portal-rpc/registry"
	"portal-rpc/transport"
)

func setupHostAndClient(b *testing.B, c codec.Codec) *Client {
	srv := transport.NewServer(c)
	if err := srv.Listen("tcp", "127.0.0.1:0"); err != nil {
		b.Fatal(err)
	}
	go srv.Serve()

	h := host.New(srv, host.WithScope("bench"))
	h.RegisterMethod("add", func(_ context.Context, args []any) (any, error) {
		return len(args), nil
	})
	b.Cleanup(func() {
		h.Shutdown(3 * time.Second)
		srv.Shutdown(3 * time.Second)
	})

	reg := registry.NewMemory()
	reg.Register(context.Background(), "bench", registry.Instance{Addr: srv.Addr().String()}, 10)

	cli := NewClient(reg, &loadbalance.RoundRobinBalancer{}, c)
	b.Cleanup(func() { cli.Close() })
	return cli
}

// Single goroutine, one call at a time
func BenchmarkSerialCall(b *testing.B) {
	cli := setupHostAndClient(b, &codec.JSONCodec{})
	ctx := context.Background()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := cli.Call(ctx, "bench", "add", 1, 2); err != nil {
			b.Fatal(err)
		}
	}
}

// Many goroutines sharing one connection
func BenchmarkConcurrentCall(b *testing.B) {
	for _, name := range []string{"json", "cbor"} {
		b.Run(name, func(b *testing.B) {
			c, err := codec.ByName(name)
			if err != nil {
				b.Fatal(err)
			}
			cli := setupHostAndClient(b, c)
			ctx := context.Background()
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					if _, err := cli.Call(ctx, "bench", "add", 1, 2); err != nil {
						b.Error(err)
						return
					}
				}
			})
		})
	}
}
