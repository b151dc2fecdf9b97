package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"portal-rpc/codec"
	"portal-rpc/config"
	"portal-rpc/host"
	"portal-rpc/middleware"
	"portal-rpc/registry"
	"portal-rpc/transport"
)

const version = "0.1.0"

func runHost(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	c, err := codec.ByName(cfg.Transport.Codec)
	if err != nil {
		return err
	}
	opts := []host.Option{
		host.WithScope(cfg.Scope),
		host.WithDebounce(cfg.BroadcastDebounce.Duration),
		host.WithLogger(logger),
	}

	g, ctx := errgroup.WithContext(ctx)
	var (
		tr       transport.Transport
		shutdown func(time.Duration) error
	)
	switch cfg.Transport.Kind {
	case config.TransportTCP:
		srv := transport.NewServer(c)
		if err := srv.Listen("tcp", cfg.Transport.Addr); err != nil {
			return err
		}
		if len(cfg.Registry.Endpoints) > 0 {
			reg, err := registry.NewEtcd(cfg.Registry.Endpoints)
			if err != nil {
				return err
			}
			defer reg.Close()
			instance := registry.Instance{Addr: srv.Addr().String(), Weight: 1, Version: version}
			opts = append(opts, host.WithRegistry(reg, instance, cfg.Registry.TTL))
		}
		g.Go(srv.Serve)
		tr, shutdown = srv, srv.Shutdown
		logger.Info().Str("addr", srv.Addr().String()).Str("codec", cfg.Transport.Codec).Msg("host listening")
	case config.TransportNSQ:
		n, err := transport.NewNSQ(transport.NSQConfig{
			Name:        cfg.Name,
			TopicPrefix: cfg.Transport.TopicPrefix,
			NSQDAddr:    cfg.Transport.NSQD,
			Codec:       c,
		})
		if err != nil {
			return err
		}
		tr = n
		shutdown = func(time.Duration) error { return n.Close() }
		logger.Info().Str("nsqd", cfg.Transport.NSQD).Msg("host consuming")
	default:
		return fmt.Errorf("unsupported transport %q", cfg.Transport.Kind)
	}

	h := host.New(tr, opts...)
	installMiddleware(h, cfg.CallTimeout.Duration, logger)
	if err := registerDemo(h); err != nil {
		return err
	}

	if cfg.TickInterval.Duration > 0 {
		g.Go(func() error {
			return tickLoop(ctx, h, cfg.TickInterval.Duration)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		if err := h.Shutdown(5 * time.Second); err != nil {
			logger.Warn().Err(err).Msg("host shutdown")
		}
		return shutdown(5 * time.Second)
	})
	return g.Wait()
}

// installMiddleware builds the daemon's handler chain. The timeout is the
// innermost layer so each retry attempt gets its own deadline, and only
// handler errors marked middleware.Retryable are retried.
func installMiddleware(h *host.Host, timeout time.Duration, logger zerolog.Logger) {
	h.Use(middleware.LoggingMiddleware(logger))
	h.Use(middleware.RateLimitMiddleware(1000, 200))
	h.Use(middleware.PerOriginRateLimit(100, 20))
	h.Use(middleware.RetryMiddleware(2, 10*time.Millisecond))
	h.Use(middleware.TimeOutMiddleware(timeout))
}

// registerDemo installs the methods portald serves.
func registerDemo(h *host.Host) error {
	methods := map[string]host.Handler{
		"echo": func(_ context.Context, args []any) (any, error) {
			return args, nil
		},
		"add": func(_ context.Context, args []any) (any, error) {
			var sum float64
			for i, arg := range args {
				n, ok := toFloat(arg)
				if !ok {
					return nil, fmt.Errorf("argument %d is not a number: %v", i, arg)
				}
				sum += n
			}
			return sum, nil
		},
		"now": func(context.Context, []any) (any, error) {
			return time.Now().UTC().Format(time.RFC3339Nano), nil
		},
	}
	for name, handler := range methods {
		if err := h.RegisterMethod(name, handler); err != nil {
			return err
		}
	}
	return nil
}

func tickLoop(ctx context.Context, h *host.Host, interval time.Duration) error {
	tick := h.RegisterEvent("tick")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tick(n)
		}
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
