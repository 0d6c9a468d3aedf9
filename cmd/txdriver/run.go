package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gateway-fm/txdriver/internal/chain"
	"github.com/gateway-fm/txdriver/internal/config"
	"github.com/gateway-fm/txdriver/internal/service"
	"github.com/gateway-fm/txdriver/internal/storage"
	"github.com/gateway-fm/txdriver/pkg/types"
)

var persist bool

func init() {
	runCmd.Flags().BoolVar(&persist, "persist", false, "Record the run in the database at database_path")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one run and print its summary as JSON",
	Long: "Execute one run with the configured workers and pacing, then print the final result to stdout. " +
		"SIGINT or SIGTERM cancels the workers; the partial result is still printed.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, err := config.NewLogger(cfg.LogLevel)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		dir, err := loadDirectory(cfg, logger)
		if err != nil {
			return err
		}
		dialer, err := chain.NewDialer(cfg.ChainConfig(logger))
		if err != nil {
			return err
		}

		opts := service.Options{Logger: logger}
		if persist {
			store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer store.Close()
			opts.Store = store
		}
		m := service.NewManager(cfg, dir, dialer, opts)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if _, err := m.StartRun(types.StartRunRequest{}); err != nil {
			return err
		}
		go func() {
			<-ctx.Done()
			if m.Status() == types.StatusRunning {
				logger.Info("interrupt received, stopping run")
				m.StopRun()
			}
		}()

		result, err := m.Wait(context.Background())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
		if result.Status == types.StatusError {
			return fmt.Errorf("run %s failed: %s", result.ID, result.Error)
		}
		return nil
	},
}
