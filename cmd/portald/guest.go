package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"portal-rpc/client"
	"portal-rpc/codec"
	"portal-rpc/config"
	"portal-rpc/guest"
	"portal-rpc/loadbalance"
	"portal-rpc/registry"
	"portal-rpc/transport"
)

func runGuest(ctx context.Context, cfg config.Config, logger zerolog.Logger, method string, args []any) error {
	surface, cleanup, err := connectGuest(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	surface.Event("tick").On(func(args []any) {
		logger.Info().Interface("args", args).Msg("tick")
	}, 0)

	names := awaitCapabilities(ctx, surface, cfg.CallTimeout.Duration)
	logger.Info().Strs("methods", names).Msg("host capabilities")

	if method == "" {
		<-ctx.Done()
		return nil
	}
	m, ok := surface.Method(method)
	if !ok {
		return fmt.Errorf("host does not offer %q", method)
	}
	result, err := m.Call(ctx, args...)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	logger.Info().Str("method", method).Interface("result", result).Msg("call returned")
	return nil
}

// connectGuest builds the surface for cfg. The cleanup func releases whatever
// transport or registry it opened.
func connectGuest(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*guest.Surface, func(), error) {
	c, err := codec.ByName(cfg.Transport.Codec)
	if err != nil {
		return nil, nil, err
	}
	opts := []guest.Option{
		guest.WithScope(cfg.Scope),
		guest.WithCallTimeout(cfg.CallTimeout.Duration),
		guest.WithLogger(logger),
	}

	switch cfg.Transport.Kind {
	case config.TransportTCP:
		if len(cfg.Registry.Endpoints) > 0 {
			return connectViaRegistry(ctx, cfg, c, opts, logger)
		}
		dialCtx, cancel := context.WithTimeout(ctx, cfg.Registry.DialTimeout.Duration)
		defer cancel()
		conn, err := transport.Dial(dialCtx, "tcp", cfg.Transport.Addr, c)
		if err != nil {
			return nil, nil, err
		}
		s := guest.New(conn, conn.Remote(), opts...)
		return s, func() {
			s.Close()
			conn.Close()
		}, nil
	case config.TransportNSQ:
		n, err := transport.NewNSQ(transport.NSQConfig{
			Name:        cfg.Name,
			TopicPrefix: cfg.Transport.TopicPrefix,
			NSQDAddr:    cfg.Transport.NSQD,
			Codec:       c,
		})
		if err != nil {
			return nil, nil, err
		}
		s := guest.New(n, n.Peer(cfg.Transport.Host), opts...)
		return s, func() {
			s.Close()
			n.Close()
		}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported transport %q", cfg.Transport.Kind)
	}
}

func connectViaRegistry(ctx context.Context, cfg config.Config, c codec.Codec, opts []guest.Option, logger zerolog.Logger) (*guest.Surface, func(), error) {
	bal, err := loadbalance.ByName(cfg.Registry.Balancer)
	if err != nil {
		return nil, nil, err
	}
	reg, err := registry.NewEtcd(cfg.Registry.Endpoints)
	if err != nil {
		return nil, nil, err
	}
	cl := client.NewClient(reg, bal, c,
		client.WithKey(cfg.Name),
		client.WithGuestOptions(opts...),
		client.WithLogger(logger),
	)
	sess, err := cl.Connect(ctx, cfg.Scope)
	if err != nil {
		reg.Close()
		return nil, nil, err
	}
	logger.Info().Str("addr", sess.Instance.Addr).Str("version", sess.Instance.Version).Msg("host discovered")
	return sess.Surface, func() {
		cl.Close()
		reg.Close()
	}, nil
}

// awaitCapabilities polls until the host's method list is known or wait
// elapses, and returns whatever is known by then.
func awaitCapabilities(ctx context.Context, s *guest.Surface, wait time.Duration) []string {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	poll := time.NewTicker(20 * time.Millisecond)
	defer poll.Stop()
	for {
		if names, ok := s.Capabilities(); ok {
			return names
		}
		select {
		case <-ctx.Done():
			return nil
		case <-deadline.C:
			return nil
		case <-poll.C:
		}
	}
}
