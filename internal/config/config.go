// Package config handles configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/gateway-fm/txdriver/internal/chain"
	"github.com/gateway-fm/txdriver/internal/nonce"
	"github.com/gateway-fm/txdriver/internal/pacing"
	"github.com/gateway-fm/txdriver/internal/retry"
	"github.com/gateway-fm/txdriver/internal/txbuilder"
	"github.com/gateway-fm/txdriver/pkg/types"
)

// Config holds transaction driver configuration.
type Config struct {
	// RPCURL may reference environment variables, e.g. https://host/v1/${API_KEY}.
	RPCURL      string        `yaml:"rpc_url"`
	Transport   string        `yaml:"transport"` // auto, http or ethclient
	ChainID     int64         `yaml:"chain_id"`  // 0 = ask the node
	RPCTimeout  time.Duration `yaml:"rpc_timeout"`
	DialTimeout time.Duration `yaml:"dial_timeout"`

	AccountsFile string `yaml:"accounts_file"`

	Scenario      types.TransactionType `yaml:"scenario"`
	Workers       int                   `yaml:"workers"` // 0 = one per account
	Duration      time.Duration         `yaml:"duration"`
	MaxIterations int64                 `yaml:"max_iterations"`
	MaxAttempts   int                   `yaml:"max_attempts"`
	StartTokenID  int64                 `yaml:"start_token_id"`
	PerWorkerRate float64               `yaml:"per_worker_rate"`
	FailurePause  time.Duration         `yaml:"failure_pause"`

	Pacing    pacing.ProfileConfig  `yaml:"pacing"`
	Reconcile nonce.ReconcilePolicy `yaml:"reconcile"`

	Contracts Contracts                     `yaml:"contracts"`
	Amounts   Amounts                       `yaml:"amounts"`
	Fees      map[types.TransactionType]Fee `yaml:"fees"`
	UseLegacy bool                          `yaml:"use_legacy"`

	ListenAddr         string `yaml:"listen_addr"`
	DatabasePath       string `yaml:"database_path"`
	LogLevel           string `yaml:"log_level"`
	CORSAllowedOrigins string `yaml:"cors_allowed_origins"`
}

// Contracts holds target contract addresses and optional ABI file overrides.
type Contracts struct {
	ERC20      string `yaml:"erc20"`
	ERC1155    string `yaml:"erc1155"`
	ERC20ABI   string `yaml:"erc20_abi"`
	ERC1155ABI string `yaml:"erc1155_abi"`
}

// Amounts are per-scenario amounts as base-10 integers. Empty keeps the builder default.
type Amounts struct {
	Native   string `yaml:"native"`
	Mint     string `yaml:"mint"`
	Burn     string `yaml:"burn"`
	Transfer string `yaml:"transfer"`
}

// Fee overrides one scenario's fee settings. Wei values are base-10 integers.
type Fee struct {
	GasLimit  uint64 `yaml:"gas_limit"`
	GasFeeCap string `yaml:"gas_fee_cap"`
	GasTipCap string `yaml:"gas_tip_cap"`
	GasPrice  string `yaml:"gas_price"`
}

// Defaults
const (
	DefaultRPCURL       = "http://localhost:8545"
	DefaultScenario     = types.TxTypeNativeTransfer
	DefaultDuration     = 60 * time.Second
	DefaultMaxAttempts  = 3
	DefaultStartTokenID = 1
	DefaultRPCTimeout   = 10 * time.Second
	DefaultDialTimeout  = 60 * time.Second
	DefaultAccountsFile = "./accounts.json"
	DefaultListenAddr   = ":3001"
	DefaultDatabasePath = "./data/txdriver.db"
	DefaultLogLevel     = "info"
	DefaultCORSOrigins  = "*"

	maxWorkers = 10000
)

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		RPCURL:             DefaultRPCURL,
		Transport:          chain.TransportAuto,
		RPCTimeout:         DefaultRPCTimeout,
		DialTimeout:        DefaultDialTimeout,
		AccountsFile:       DefaultAccountsFile,
		Scenario:           DefaultScenario,
		Duration:           DefaultDuration,
		MaxAttempts:        DefaultMaxAttempts,
		StartTokenID:       DefaultStartTokenID,
		ListenAddr:         DefaultListenAddr,
		DatabasePath:       DefaultDatabasePath,
		LogLevel:           DefaultLogLevel,
		CORSAllowedOrigins: DefaultCORSOrigins,
	}
}

// Load builds a configuration from defaults, the optional YAML file at path,
// then environment variables. Flags are applied by the caller, which must
// call Validate afterwards.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides fields from environment variables. Malformed numeric
// values are reported rather than ignored.
func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("TXDRIVER_RPC_URL", &c.RPCURL)
	str("TXDRIVER_TRANSPORT", &c.Transport)
	str("TXDRIVER_ACCOUNTS", &c.AccountsFile)
	str("TXDRIVER_ERC20_CONTRACT", &c.Contracts.ERC20)
	str("TXDRIVER_ERC1155_CONTRACT", &c.Contracts.ERC1155)
	str("DATABASE_PATH", &c.DatabasePath)
	str("LISTEN_ADDR", &c.ListenAddr)
	str("LOG_LEVEL", &c.LogLevel)
	str("CORS_ALLOWED_ORIGINS", &c.CORSAllowedOrigins)
	if v := getenv("TXDRIVER_SCENARIO"); v != "" {
		c.Scenario = types.TransactionType(v)
	}

	if v := getenv("TXDRIVER_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TXDRIVER_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := getenv("TXDRIVER_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TXDRIVER_MAX_ATTEMPTS: %w", err)
		}
		c.MaxAttempts = n
	}
	if v := getenv("TXDRIVER_CHAIN_ID"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("TXDRIVER_CHAIN_ID: %w", err)
		}
		c.ChainID = n
	}
	if v := getenv("TXDRIVER_DURATION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TXDRIVER_DURATION: %w", err)
		}
		c.Duration = d
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return errors.New("RPC URL is required")
	}
	if !c.Scenario.IsValid() {
		return fmt.Errorf("invalid scenario: %s", c.Scenario)
	}
	if c.Workers < 0 || c.Workers > maxWorkers {
		return fmt.Errorf("workers must be between 0 and %d", maxWorkers)
	}
	if c.Duration < 0 {
		return errors.New("duration cannot be negative")
	}
	if c.MaxIterations < 0 {
		return errors.New("max iterations cannot be negative")
	}
	if c.Duration == 0 && c.MaxIterations == 0 {
		return errors.New("either duration or max iterations must be set")
	}
	if c.MaxAttempts < 1 {
		return errors.New("max attempts must be at least 1")
	}
	if c.StartTokenID < 0 {
		return errors.New("start token id cannot be negative")
	}
	if c.PerWorkerRate < 0 {
		return errors.New("per-worker rate cannot be negative")
	}
	if c.ChainID < 0 {
		return errors.New("chain ID cannot be negative")
	}
	switch c.Transport {
	case "", chain.TransportAuto, chain.TransportHTTP, chain.TransportEthclient:
	default:
		return fmt.Errorf("invalid transport: %s", c.Transport)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := pacing.NewProfile(c.Pacing, c.Duration); err != nil {
		return err
	}
	for name, addr := range map[string]string{"erc20": c.Contracts.ERC20, "erc1155": c.Contracts.ERC1155} {
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("contracts.%s: invalid address %q", name, addr)
		}
	}
	if _, err := c.BuilderSettings(); err != nil {
		return err
	}
	return nil
}

// Endpoint returns the RPC URL with environment variables expanded.
func (c *Config) Endpoint() string {
	return os.ExpandEnv(c.RPCURL)
}

// RetryPolicy returns the retry policy shared by every network call site.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: c.MaxAttempts}
}

// StartToken returns the first multi-token id as a big integer.
func (c *Config) StartToken() *big.Int {
	return big.NewInt(c.StartTokenID)
}

// ChainConfig returns the network settings for chain.NewDialer.
func (c *Config) ChainConfig(logger *slog.Logger) chain.Config {
	cc := chain.Config{
		Endpoint:  c.Endpoint(),
		Transport: c.Transport,
		Timeout:   c.RPCTimeout,
		Logger:    logger,
	}
	if c.ChainID > 0 {
		cc.ChainID = big.NewInt(c.ChainID)
	}
	return cc
}

// BuilderSettings converts contract, amount and fee settings into
// txbuilder.Settings. ABI override files are read here.
func (c *Config) BuilderSettings() (txbuilder.Settings, error) {
	s := txbuilder.Settings{UseLegacy: c.UseLegacy}
	if c.Contracts.ERC20 != "" {
		s.ERC20Contract = common.HexToAddress(c.Contracts.ERC20)
	}
	if c.Contracts.ERC1155 != "" {
		s.ERC1155Contract = common.HexToAddress(c.Contracts.ERC1155)
	}
	if c.Contracts.ERC20ABI != "" {
		parsed, err := txbuilder.LoadABI(c.Contracts.ERC20ABI)
		if err != nil {
			return s, err
		}
		s.ERC20ABI = parsed
	}
	if c.Contracts.ERC1155ABI != "" {
		parsed, err := txbuilder.LoadABI(c.Contracts.ERC1155ABI)
		if err != nil {
			return s, err
		}
		s.ERC1155ABI = parsed
	}

	amounts := []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"amounts.native", c.Amounts.Native, &s.NativeAmount},
		{"amounts.mint", c.Amounts.Mint, &s.MintAmount},
		{"amounts.burn", c.Amounts.Burn, &s.BurnAmount},
		{"amounts.transfer", c.Amounts.Transfer, &s.TransferAmount},
	}
	for _, a := range amounts {
		v, err := parseWei(a.name, a.raw)
		if err != nil {
			return s, err
		}
		*a.dst = v
	}

	if len(c.Fees) > 0 {
		s.Fees = make(map[types.TransactionType]txbuilder.FeeParams, len(c.Fees))
		for txType, f := range c.Fees {
			if !txType.IsValid() {
				return s, fmt.Errorf("fees: unknown scenario %s", txType)
			}
			fp, err := f.params(string(txType))
			if err != nil {
				return s, err
			}
			s.Fees[txType] = fp
		}
	}
	return s, nil
}

// Builder returns the builder for the configured scenario.
func (c *Config) Builder() (txbuilder.Builder, error) {
	s, err := c.BuilderSettings()
	if err != nil {
		return nil, err
	}
	reg, err := txbuilder.NewDefaultRegistry(s)
	if err != nil {
		return nil, err
	}
	return reg.Get(c.Scenario)
}

func (f Fee) params(scope string) (txbuilder.FeeParams, error) {
	fp := txbuilder.FeeParams{GasLimit: f.GasLimit}
	var err error
	if fp.GasFeeCap, err = parseWei("fees."+scope+".gas_fee_cap", f.GasFeeCap); err != nil {
		return fp, err
	}
	if fp.GasTipCap, err = parseWei("fees."+scope+".gas_tip_cap", f.GasTipCap); err != nil {
		return fp, err
	}
	if fp.GasPrice, err = parseWei("fees."+scope+".gas_price", f.GasPrice); err != nil {
		return fp, err
	}
	return fp, nil
}

// parseWei parses a non-negative base-10 integer. Empty input yields nil.
func parseWei(field, raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%s: invalid integer %q", field, raw)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%s: cannot be negative", field)
	}
	return v, nil
}

// ParseLogLevel maps a level name to a slog.Level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", s)
	}
}

// NewLogger returns the JSON logger every command writes to stderr.
func NewLogger(level string) (*slog.Logger, error) {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}
