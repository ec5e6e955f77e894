// Command jsonrpc-server serves a few demonstration methods over JSON-RPC 2.0.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"mini-jsonrpc/config"
	"mini-jsonrpc/middleware"
	"mini-jsonrpc/registry"
	"mini-jsonrpc/server"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	addr := flag.String("addr", "", "listen address, overrides the config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	opts := []server.Option{
		server.WithLogger(logger),
		server.WithMaxBodySize(cfg.Server.MaxBodySize),
		server.WithReadTimeout(cfg.Server.ReadTimeout),
		server.WithPersistent(cfg.Server.Persistent),
		server.WithIdleTimeout(cfg.Server.IdleTimeout),
		server.WithWeight(cfg.Server.Weight),
	}
	if len(cfg.Registry.Endpoints) > 0 {
		reg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, cfg.Registry.DialTimeout, logger)
		if err != nil {
			return err
		}
		defer reg.Close()
		opts = append(opts, server.WithRegistry(reg, cfg.Server.ServiceName, cfg.Server.AdvertiseAddr, cfg.Registry.TTL))
	}

	svr := server.New(opts...)
	svr.Use(middleware.Logging(logger))
	if cfg.Middleware.Tracing {
		svr.Use(middleware.Tracing(middleware.WithServiceName(cfg.Server.ServiceName)))
	}
	if cfg.Middleware.RateLimit > 0 {
		svr.Use(middleware.RateLimit(cfg.Middleware.RateLimit, cfg.Middleware.RateBurst))
	}
	if cfg.Middleware.Timeout > 0 {
		svr.Use(middleware.Timeout(cfg.Middleware.Timeout))
	}
	if err := registerBuiltins(svr); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- svr.ListenAndServe("tcp", cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("grace", cfg.Server.ShutdownGrace))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()
	if err := svr.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, server.ErrServerClosed) {
		return err
	}
	return nil
}

func registerBuiltins(svr *server.Server) error {
	return errors.Join(
		svr.Register(math.Pow, "pow"),
		svr.Register(func(a, b float64) float64 { return a + b }, "add"),
		svr.Register(func(v any) any { return v }, "echo"),
	)
}
