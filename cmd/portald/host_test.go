package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portal-rpc/codec"
	"portal-rpc/guest"
	"portal-rpc/host"
	"portal-rpc/middleware"
	"portal-rpc/protocol"
	"portal-rpc/transport"
)

func TestDemoMethods(t *testing.T) {
	bus := transport.NewBus(transport.WithClone(&codec.CBORCodec{}))
	hostPort, guestPort := bus.Attach("host"), bus.Attach("guest")
	defer hostPort.Close()
	defer guestPort.Close()

	h := host.New(hostPort, host.WithDebounce(5*time.Millisecond), host.WithLogger(zerolog.Nop()))
	defer h.Shutdown(time.Second)
	require.NoError(t, registerDemo(h))
	assert.Equal(t, []string{"add", "echo", "now"}, h.Methods())

	s := guest.New(guestPort, hostPort, guest.WithLogger(zerolog.Nop()))
	defer s.Close()
	names := awaitCapabilities(context.Background(), s, time.Second)
	assert.Equal(t, []string{"add", "echo", "now"}, names)

	ctx := context.Background()
	add, _ := s.Method("add")
	result, err := add.Call(ctx, 1, 2.5, -4)
	require.NoError(t, err)
	assert.InDelta(t, -0.5, result, 1e-9)

	_, err = add.Call(ctx, "x")
	assert.ErrorIs(t, err, protocol.ErrCallMethodFailed)

	echo, _ := s.Method("echo")
	result, err = echo.Call(ctx, "hi")
	require.NoError(t, err)
	assert.Equal(t, []any{"hi"}, result)
}

func TestTickLoopEmitsUntilCancelled(t *testing.T) {
	bus := transport.NewBus()
	hostPort, guestPort := bus.Attach("host"), bus.Attach("guest")
	defer hostPort.Close()
	defer guestPort.Close()

	h := host.New(hostPort, host.WithLogger(zerolog.Nop()))
	defer h.Shutdown(time.Second)
	s := guest.New(guestPort, hostPort, guest.WithLogger(zerolog.Nop()))
	defer s.Close()
	require.Eventually(t, func() bool { return h.Peers() == 1 }, time.Second, 5*time.Millisecond)

	ticks := make(chan []any, 16)
	s.Event("tick").On(func(args []any) { ticks <- args }, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tickLoop(ctx, h, 5*time.Millisecond) }()

	assert.Equal(t, []any{1}, <-ticks)
	assert.Equal(t, []any{2}, <-ticks)
	cancel()
	assert.NoError(t, <-done)
}

func TestToFloat(t *testing.T) {
	for _, v := range []any{3, int64(3), uint64(3), float32(3), 3.0} {
		n, ok := toFloat(v)
		assert.True(t, ok)
		assert.Equal(t, 3.0, n)
	}
	_, ok := toFloat("3")
	assert.False(t, ok)
}

func TestDaemonChainRetriesTransientFailures(t *testing.T) {
	bus := transport.NewBus()
	hostPort, guestPort := bus.Attach("host"), bus.Attach("guest")
	defer hostPort.Close()
	defer guestPort.Close()

	h := host.New(hostPort, host.WithDebounce(5*time.Millisecond), host.WithLogger(zerolog.Nop()))
	defer h.Shutdown(time.Second)
	installMiddleware(h, time.Second, zerolog.Nop())

	var attempts atomic.Int32
	require.NoError(t, h.RegisterMethod("flaky", func(context.Context, []any) (any, error) {
		if attempts.Add(1) < 3 {
			return nil, middleware.Retryable(errors.New("warming up"))
		}
		return "ok", nil
	}))
	require.NoError(t, h.RegisterMethod("broken", func(context.Context, []any) (any, error) {
		return nil, errors.New("permanent")
	}))

	s := guest.New(guestPort, hostPort, guest.WithLogger(zerolog.Nop()))
	defer s.Close()
	ctx := context.Background()
	require.Equal(t, []string{"broken", "flaky"}, awaitCapabilities(ctx, s, time.Second))

	flaky, _ := s.Method("flaky")
	result, err := flaky.Call(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, int32(3), attempts.Load())

	broken, _ := s.Method("broken")
	_, err = broken.Call(ctx)
	assert.ErrorIs(t, err, protocol.ErrCallMethodFailed)
}
