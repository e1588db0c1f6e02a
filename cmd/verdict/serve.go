package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cmwaters/verdict"
	"github.com/cmwaters/verdict/internal/api"
	"github.com/cmwaters/verdict/internal/config"
	"github.com/cmwaters/verdict/p2p"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the voting engine and its HTTP API",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				os.Exit(1)
			}
			serveRun(cmd, args, cfg)
		},
	}
	return cmd
}

func serveRun(_ *cobra.Command, _ []string, cfg *config.Config) {
	logger := commonRun()
	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("node stopped")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	logger.Debug().Interface("config", cfg).Msg("loaded config")

	// Wait for interrupt/termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []verdict.Option{verdict.WithPromRegistry(prometheus.DefaultRegisterer)}
	if len(cfg.P2PListen) > 0 {
		host, err := p2p.NewNode(ctx, cfg.P2PListen, cfg.P2PBootstrap, logger.With().Str("component", "p2p").Logger())
		if err != nil {
			return err
		}
		defer host.Close()
		opts = append(opts, verdict.WithNetwork(host))
	}

	node, err := verdict.New(ctx, cfg, logger, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := node.Close(); err != nil {
			logger.Error().Err(err).Msg("shutdown errors occurred")
		}
	}()

	// Metrics listener
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("serving prometheus metrics")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("failed to start metrics listener")
			stop()
		}
	}()

	server := api.New(node.Engine, logger.With().Str("component", "api").Logger(), cfg.BindAddr)
	err = server.ListenAndServe(ctx)
	logger.Info().Msg("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown error")
	}
	return err
}
