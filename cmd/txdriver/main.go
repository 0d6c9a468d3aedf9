// Command txdriver submits signed transactions to an EVM chain from a set of
// funded accounts, either as a one-shot run or behind an HTTP API.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gateway-fm/txdriver/internal/account"
	"github.com/gateway-fm/txdriver/internal/config"
	"github.com/gateway-fm/txdriver/internal/pacing"
	"github.com/gateway-fm/txdriver/pkg/types"
)

var (
	configFile   string
	rpcURL       string
	rpcTransport string
	accounts     string
	devAccounts  bool
	scenario     string
	workers      int
	duration     time.Duration
	iterations   int64
	maxAttempts  int
	targetTPS    float64
	workerRate   float64
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:           "txdriver",
	Short:         "Drive signed transaction load against an EVM JSON-RPC endpoint",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&configFile, "config", "c", "", "YAML configuration file")
	f.StringVar(&rpcURL, "rpc-url", "", "JSON-RPC endpoint (http, https, ws or wss)")
	f.StringVar(&rpcTransport, "transport", "", "RPC transport: auto, http or ethclient")
	f.StringVar(&accounts, "accounts", "", "JSON file of funded accounts")
	f.BoolVar(&devAccounts, "dev-accounts", false, "Use the well-known development chain accounts instead of an accounts file")
	f.StringVar(&scenario, "scenario", "", "Transaction type: native-transfer, erc20-mint, erc20-burn, erc1155-safe-transfer")
	f.IntVarP(&workers, "workers", "w", 0, "Number of workers (0 = one per account)")
	f.DurationVarP(&duration, "duration", "d", 0, "Run duration")
	f.Int64Var(&iterations, "iterations", 0, "Per-worker iteration cap (0 = unbounded)")
	f.IntVar(&maxAttempts, "max-attempts", 0, "Attempts per iteration including the first")
	f.Float64Var(&targetTPS, "tps", 0, "Aggregate constant rate in transactions per second (0 = unpaced)")
	f.Float64Var(&workerRate, "per-worker-rate", 0, "Per-worker iteration cap in iterations per second")
	f.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "txdriver: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig layers defaults, the config file, the environment and then the
// flags the user actually set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("rpc-url") {
		cfg.RPCURL = rpcURL
	}
	if flags.Changed("transport") {
		cfg.Transport = rpcTransport
	}
	if flags.Changed("accounts") {
		cfg.AccountsFile = accounts
	}
	if flags.Changed("scenario") {
		cfg.Scenario = types.TransactionType(scenario)
	}
	if flags.Changed("workers") {
		cfg.Workers = workers
	}
	if flags.Changed("duration") {
		cfg.Duration = duration
	}
	if flags.Changed("iterations") {
		cfg.MaxIterations = iterations
	}
	if flags.Changed("max-attempts") {
		cfg.MaxAttempts = maxAttempts
	}
	if flags.Changed("tps") {
		cfg.Pacing = pacing.ProfileConfig{Kind: pacing.ProfileConstant, Rate: targetTPS}
		if targetTPS == 0 {
			cfg.Pacing = pacing.ProfileConfig{}
		}
	}
	if flags.Changed("per-worker-rate") {
		cfg.PerWorkerRate = workerRate
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadDirectory(cfg *config.Config, logger *slog.Logger) (*account.Directory, error) {
	if devAccounts {
		accs, err := account.LoadTestAccounts()
		if err != nil {
			return nil, err
		}
		logger.Warn("using development accounts; never point these at a public network",
			slog.Int("accounts", len(accs)))
		return account.NewDirectory(accs), nil
	}
	dir, err := account.LoadDirectory(cfg.AccountsFile)
	if err != nil {
		return nil, err
	}
	logger.Info("loaded accounts", slog.String("file", cfg.AccountsFile), slog.Int("accounts", dir.Len()))
	return dir, nil
}
