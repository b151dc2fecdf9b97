// Command portald runs one portal endpoint described by a TOML file: a host
// serving a small demo method set, or a guest that follows a host's events and
// can make a single call.
//
//	portald -config host.toml
//	portald -config guest.toml -call add -args '[2, 3]'
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"portal-rpc/config"
	"portal-rpc/logging"
	"portal-rpc/metrics"
)

func main() {
	configPath := flag.String("config", "cmd/portald/config.toml", "endpoint config file")
	callMethod := flag.String("call", "", "guest only: call this method once and exit")
	callArgs := flag.String("args", "[]", "JSON array of arguments for -call")
	flag.Parse()

	logging.ConfigureRuntime()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load portald config")
	}
	logging.ApplyLevel(cfg.Log.Level)
	logger := log.Logger.With().Str("app", "portald").Str("name", cfg.Name).Logger()
	logger.Info().Str("path", *configPath).Str("role", cfg.Role).Str("scope", cfg.Scope).Msg("loaded portald config")

	var args []any
	if err := json.Unmarshal([]byte(*callArgs), &args); err != nil {
		log.Fatal().Err(err).Msg("-args must be a JSON array")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Addr != "" {
		metrics.Register()
		g.Go(func() error {
			return serveMetrics(ctx, cfg.Metrics.Addr)
		})
	}

	switch cfg.Role {
	case config.RoleHost:
		g.Go(func() error {
			return runHost(ctx, cfg, logger)
		})
	case config.RoleGuest:
		g.Go(func() error {
			err := runGuest(ctx, cfg, logger, *callMethod, args)
			if *callMethod != "" {
				// One-shot call done: stop the metrics listener too
				stop()
			}
			return err
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("portald stopped")
	}
	logger.Info().Msg("portald stopped")
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("metrics listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
