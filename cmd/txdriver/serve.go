package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/gateway-fm/txdriver/internal/chain"
	"github.com/gateway-fm/txdriver/internal/config"
	"github.com/gateway-fm/txdriver/internal/metrics"
	"github.com/gateway-fm/txdriver/internal/service"
	"github.com/gateway-fm/txdriver/internal/storage"
	"github.com/gateway-fm/txdriver/internal/transport"
)

const shutdownTimeout = 15 * time.Second

var (
	listenAddr   string
	databasePath string
	pprofAddr    string
)

func init() {
	f := serveCmd.Flags()
	f.StringVar(&listenAddr, "listen", "", "HTTP API listen address")
	f.StringVar(&databasePath, "database", "", "SQLite database path")
	f.StringVar(&pprofAddr, "pprof", "", "Serve pprof on this address, e.g. localhost:6061")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the run API, live metrics stream and Prometheus metrics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("listen") {
			cfg.ListenAddr = listenAddr
		}
		if cmd.Flags().Changed("database") {
			cfg.DatabasePath = databasePath
		}

		logger, err := config.NewLogger(cfg.LogLevel)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		if pprofAddr != "" {
			go func() {
				logger.Info("pprof listening", slog.String("addr", pprofAddr))
				if err := http.ListenAndServe(pprofAddr, nil); err != nil {
					logger.Error("pprof server failed", slog.String("error", err.Error()))
				}
			}()
		}

		dir, err := loadDirectory(cfg, logger)
		if err != nil {
			return err
		}
		dialer, err := chain.NewDialer(cfg.ChainConfig(logger))
		if err != nil {
			return err
		}

		store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer store.Close()
		logger.Info("initialized storage", slog.String("path", cfg.DatabasePath))

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		m := service.NewManager(cfg, dir, dialer, service.Options{
			Store:      store,
			Prometheus: metrics.NewPrometheusMetrics(reg),
			Logger:     logger,
		})

		api := transport.NewServer(m, m, reg, logger, cfg.CORSAllowedOrigins)
		defer api.Close()

		srv := &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			logger.Info("starting HTTP server", slog.String("addr", cfg.ListenAddr))
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server failed: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		logger.Info("shutting down")
		m.StopRun()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	},
}
