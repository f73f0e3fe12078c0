package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/goodtune/kblock/internal/config"
	"github.com/goodtune/kblock/internal/engine"
	"github.com/goodtune/kblock/internal/messaging"
	"github.com/goodtune/kblock/internal/metrics"
	"github.com/goodtune/kblock/internal/systemd"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine for the browser extension",
	Long: `Run the accounting engine and answer the browser extension over native
messaging on stdin/stdout. Logs go to stderr. The command exits when the
browser closes the channel or on SIGINT/SIGTERM; SIGHUP reloads options.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// stdout carries native-messaging frames
	logger := setupLogger(cfg.Logging, os.Stderr)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Str("storage", cfg.Storage.Type).
		Msg("Starting kblock")

	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := openSession(ctx, nil, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()
	eng := sess.engine

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled || sdListeners.Metrics != nil {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Metrics.BindAddress, cfg.Metrics.Port)
		metricsServer = metrics.NewServer(metricsAddr, eng.Ready, logger)
		if sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		logger.Info().Str("addr", metricsServer.Addr()).Msg("Metrics server started")
	}

	engineDone := make(chan error, 1)
	go func() { engineDone <- eng.Run(ctx) }()
	go systemd.RunWatchdog(ctx, eng.Ready, logger)

	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- messaging.Serve(ctx, eng, messaging.NewConn(os.Stdin, os.Stdout), logger)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	var serveErr error
loop:
	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				logger.Info().Msg("SIGHUP received, reloading options")
				if resp, err := eng.Submit(ctx, engine.Command{Type: engine.CmdReload}); err != nil || !resp.OK {
					logger.Error().Err(err).Str("error", resp.Error).Msg("Failed to reload options")
				}
				continue
			}
			logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
			break loop
		case serveErr = <-serveDone:
			break loop
		case err := <-engineDone:
			return fmt.Errorf("engine stopped unexpectedly: %w", err)
		}
	}

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	cancel()
	if err := <-engineDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("Failed to save state on shutdown")
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping metrics server")
		}
	}

	logger.Info().Msg("kblock stopped")
	return serveErr
}
