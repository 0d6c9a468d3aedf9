// Package chain provides the signing network client each worker submits through.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/gateway-fm/txdriver/internal/rpc"
	"github.com/gateway-fm/txdriver/internal/txbuilder"
)

// Transport names accepted in Config.Transport.
const (
	TransportAuto      = "auto"
	TransportHTTP      = "http"
	TransportEthclient = "ethclient"
)

// ErrUnsupportedEndpoint is returned for endpoint URLs with an unknown scheme.
var ErrUnsupportedEndpoint = errors.New("unsupported endpoint")

// Client is a network client bound to one account.
type Client interface {
	// Address returns the account the client signs for.
	Address() common.Address

	// PendingNonce returns the account's next nonce as seen by the node.
	PendingNonce(ctx context.Context) (uint64, error)

	// GasPrice returns the node's current gas price.
	GasPrice(ctx context.Context) (*big.Int, error)

	// Send signs the intent and submits it, returning the transaction hash.
	Send(ctx context.Context, intent *txbuilder.Intent) (common.Hash, error)

	// Close releases the underlying connection.
	Close()
}

// Backend is the subset of node RPC a Signer needs. Both *rpc.HTTPClient and
// *ethclient.Client satisfy it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

var (
	_ Backend = (*rpc.HTTPClient)(nil)
	_ Backend = (*ethclient.Client)(nil)
	_ Client  = (*Signer)(nil)
)

// Signer signs intents with one account key and submits them through a Backend.
type Signer struct {
	backend Backend
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	signer  types.Signer
	closeFn func()
}

// NewSigner binds key to backend. A nil or zero chainID is fetched from the backend.
func NewSigner(ctx context.Context, backend Backend, key *ecdsa.PrivateKey, chainID *big.Int) (*Signer, error) {
	if key == nil {
		return nil, errors.New("private key is nil")
	}
	if chainID == nil || chainID.Sign() == 0 {
		id, err := backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch chain id: %w", err)
		}
		if id == nil || id.Sign() == 0 {
			return nil, errors.New("node reported a zero chain id")
		}
		chainID = id
	}
	return &Signer{
		backend: backend,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: new(big.Int).Set(chainID),
		signer:  types.LatestSignerForChainID(chainID),
	}, nil
}

// Address returns the signing account.
func (s *Signer) Address() common.Address {
	return s.address
}

// ChainID returns the chain id transactions are signed for.
func (s *Signer) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// PendingNonce returns the pending nonce of the signing account.
func (s *Signer) PendingNonce(ctx context.Context) (uint64, error) {
	return s.backend.PendingNonceAt(ctx, s.address)
}

// GasPrice returns the node's suggested gas price.
func (s *Signer) GasPrice(ctx context.Context) (*big.Int, error) {
	return s.backend.SuggestGasPrice(ctx)
}

// Sign converts the intent into a signed transaction without sending it.
func (s *Signer) Sign(intent *txbuilder.Intent) (*types.Transaction, error) {
	tx, err := intent.Transaction(s.chainID)
	if err != nil {
		return nil, err
	}
	signed, err := types.SignTx(tx, s.signer, s.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signed, nil
}

// Send signs and submits the intent.
func (s *Signer) Send(ctx context.Context, intent *txbuilder.Intent) (common.Hash, error) {
	signed, err := s.Sign(intent)
	if err != nil {
		return common.Hash{}, err
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, err
	}
	return signed.Hash(), nil
}

// Close releases the backend connection.
func (s *Signer) Close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}

// Config describes how workers reach the network.
type Config struct {
	Endpoint  string
	Transport string // auto, http or ethclient
	Timeout   time.Duration
	Headers   map[string]string
	ChainID   *big.Int // Optional; fetched on dial when unset
	Logger    *slog.Logger
}

// Dialer constructs a client bound to one account key and a fixed endpoint.
type Dialer func(ctx context.Context, key *ecdsa.PrivateKey) (Client, error)

// NewDialer returns a Dialer for cfg. The endpoint scheme is checked here so a
// misconfigured endpoint fails before any worker starts.
func NewDialer(cfg Config) (Dialer, error) {
	useEthclient, err := resolveTransport(cfg.Endpoint, cfg.Transport)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(ctx context.Context, key *ecdsa.PrivateKey) (Client, error) {
		if useEthclient {
			return dialEthclient(ctx, cfg, key)
		}
		rcfg := rpc.DefaultClientConfig(cfg.Endpoint)
		if cfg.Timeout > 0 {
			rcfg.Timeout = cfg.Timeout
		}
		rcfg.Headers = cfg.Headers
		rcfg.Logger = logger
		backend := rpc.NewHTTPClient(rcfg)

		s, err := NewSigner(ctx, backend, key, cfg.ChainID)
		if err != nil {
			backend.Close()
			return nil, err
		}
		s.closeFn = backend.Close
		return s, nil
	}, nil
}

func dialEthclient(ctx context.Context, cfg Config, key *ecdsa.PrivateKey) (Client, error) {
	var opts []gethrpc.ClientOption
	if len(cfg.Headers) > 0 {
		h := make(http.Header, len(cfg.Headers))
		for k, v := range cfg.Headers {
			h.Set(k, v)
		}
		opts = append(opts, gethrpc.WithHeaders(h))
	}
	if cfg.Timeout > 0 && isHTTP(cfg.Endpoint) {
		opts = append(opts, gethrpc.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}

	rc, err := gethrpc.DialOptions(ctx, cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", redact(cfg.Endpoint), err)
	}
	ec := ethclient.NewClient(rc)

	s, err := NewSigner(ctx, ec, key, cfg.ChainID)
	if err != nil {
		ec.Close()
		return nil, err
	}
	s.closeFn = ec.Close
	return s, nil
}

// resolveTransport reports whether the endpoint should be served by ethclient.
func resolveTransport(endpoint, transport string) (bool, error) {
	lower := strings.ToLower(endpoint)
	ws := strings.HasPrefix(lower, "ws://") || strings.HasPrefix(lower, "wss://")
	if !ws && !isHTTP(endpoint) {
		return false, fmt.Errorf("%w: %q", ErrUnsupportedEndpoint, redact(endpoint))
	}

	switch transport {
	case "", TransportAuto:
		return ws, nil
	case TransportHTTP:
		if ws {
			return false, fmt.Errorf("%w: http transport cannot serve %q", ErrUnsupportedEndpoint, redact(endpoint))
		}
		return false, nil
	case TransportEthclient:
		return true, nil
	default:
		return false, fmt.Errorf("unknown transport %q", transport)
	}
}

func isHTTP(endpoint string) bool {
	lower := strings.ToLower(endpoint)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// redact trims the endpoint path, which often embeds an API key.
func redact(endpoint string) string {
	schemeEnd := strings.Index(endpoint, "://")
	if schemeEnd < 0 {
		return endpoint
	}
	rest := endpoint[schemeEnd+3:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		return endpoint[:schemeEnd+3+slash] + "/..."
	}
	return endpoint
}
