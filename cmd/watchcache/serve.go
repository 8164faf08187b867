package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"watchcache/internal/api"
	"watchcache/internal/config"
	"watchcache/internal/logging"
	"watchcache/internal/metrics"
	"watchcache/internal/version"
)

const httpServerShutdownTimeout = 5 * time.Second

func runServe(args []string, out, errOut io.Writer) int {
	flags := flag.NewFlagSet("watchcache serve", flag.ContinueOnError)
	flags.SetOutput(errOut)
	configValues := addConfigFlags(flags)
	addr := flags.String("addr", "", "Listen address (overrides server.addr)")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	extra := map[string]any{}
	if *addr != "" {
		extra["server.addr"] = *addr
	}
	cfg, err := configValues.load(extra)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	logger := newLogger(cfg, out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopSignals := make(chan os.Signal, 1)
	signal.Notify(stopSignals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stopSignals)
	stopWatching := watchShutdownSignals(logger, cancel, stopSignals)
	defer stopWatching()

	listener, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		logger.Error("listen failed", map[string]string{
			"addr":  cfg.Server.Addr,
			"error": err.Error(),
		})
		return 1
	}
	if err := serve(ctx, cfg, logger, listener); err != nil {
		logger.Error("watchcache stopped", map[string]string{
			"error": err.Error(),
		})
		return 1
	}
	return 0
}

// serve runs the HTTP surface on listener until ctx is done, then shuts the
// server and the cache down.
func serve(ctx context.Context, cfg config.Config, logger *logging.Logger, listener net.Listener) error {
	cache, err := openCache(cfg, logger, metrics.Default, nil)
	if err != nil {
		_ = listener.Close()
		return err
	}

	rateLimit := cfg.Server.RateLimit
	if rateLimit == 0 {
		rateLimit = -1
	}
	server := &http.Server{
		Handler: api.NewHandler(api.Options{
			Cache:          cache,
			Logger:         logger,
			Metrics:        metrics.Default,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			RateLimit:      rateLimit,
			RateBurst:      int(cfg.Server.RateBurst),
			IndexSoftTTL:   cfg.SoftTTL(),
			IndexHardTTL:   cfg.HardTTL(),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	coordinator := newShutdownCoordinator(logger)
	coordinator.Add("http", server.Shutdown)
	coordinator.Add("cache", func(context.Context) error {
		return cache.Close()
	})

	logger.Info("watchcache listening", map[string]string{
		"addr":    listener.Addr().String(),
		"root":    cache.Root(),
		"entries": strconv.Itoa(len(cfg.Entries)),
		"version": version.Current().Version,
	})

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()

	var runErr error
	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpServerShutdownTimeout)
	defer cancel()
	return errors.Join(runErr, coordinator.Run(shutdownCtx))
}
