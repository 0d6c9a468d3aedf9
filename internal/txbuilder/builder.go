// Package txbuilder assembles transaction intents for each supported transaction type.
// Builders are pure: they perform no I/O and never sign.
package txbuilder

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	ptypes "github.com/gateway-fm/txdriver/pkg/types"
)

// Validation errors returned by Build. All of them indicate malformed input
// and are never worth retrying.
var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrMissingTokenID = errors.New("missing token id")
	ErrInvalidFees    = errors.New("invalid fee parameters")
)

// Params holds the per-iteration inputs for building an intent.
type Params struct {
	From      common.Address // Sender, used by calls that name the owner explicitly
	Recipient common.Address // Target chosen for this iteration
	Nonce     uint64
	TokenID   *big.Int // Multi-token id; only read by the safe-transfer builder
	GasPrice  *big.Int // Live network gas price; only set when NeedsGasPrice is true
}

// Builder builds intents for a specific transaction type.
type Builder interface {
	// Type returns the transaction type identifier.
	Type() ptypes.TransactionType

	// GasLimit returns the gas limit for this tx type.
	GasLimit() uint64

	// NeedsGasPrice reports whether Build expects Params.GasPrice to be set.
	NeedsGasPrice() bool

	// Build creates an intent. It returns a validation error for malformed input.
	Build(params Params) (*Intent, error)
}

// Registry manages builder lookup by type.
type Registry struct {
	builders map[ptypes.TransactionType]Builder
}

// NewRegistry creates a new builder registry.
func NewRegistry() *Registry {
	return &Registry{
		builders: make(map[ptypes.TransactionType]Builder),
	}
}

// Register adds a builder to the registry.
func (r *Registry) Register(builder Builder) {
	r.builders[builder.Type()] = builder
}

// Get returns a builder for the given type.
func (r *Registry) Get(txType ptypes.TransactionType) (Builder, error) {
	builder, ok := r.builders[txType]
	if !ok {
		return nil, fmt.Errorf("unknown transaction type: %s", txType)
	}
	return builder, nil
}

// GetAll returns all registered builders ordered by type.
func (r *Registry) GetAll() []Builder {
	builders := make([]Builder, 0, len(r.builders))
	for _, b := range r.builders {
		builders = append(builders, b)
	}
	sort.Slice(builders, func(i, j int) bool { return builders[i].Type() < builders[j].Type() })
	return builders
}

// Settings configures the default registry. Nil or zero fields fall back to
// the defaults of each builder.
type Settings struct {
	ERC20Contract   common.Address
	ERC1155Contract common.Address

	// Optional ABI overrides, e.g. loaded with LoadABI.
	ERC20ABI   *abi.ABI
	ERC1155ABI *abi.ABI

	NativeAmount   *big.Int
	MintAmount     *big.Int
	BurnAmount     *big.Int
	TransferAmount *big.Int

	// Per-type fee overrides. Zero-valued fields keep the type's defaults.
	Fees map[ptypes.TransactionType]FeeParams

	UseLegacy bool
}

// NewDefaultRegistry creates a registry with all standard builders.
// Contract-call builders are registered even when their contract address is
// unset; Build then fails with ErrInvalidAddress.
func NewDefaultRegistry(s Settings) (*Registry, error) {
	fees := func(t ptypes.TransactionType) FeeParams {
		f := DefaultFees(t).Merge(s.Fees[t])
		if s.UseLegacy {
			f.UseLegacy = true
		}
		return f
	}

	mint := NewERC20MintBuilder(s.ERC20Contract, s.MintAmount, fees(ptypes.TxTypeERC20Mint))
	burn := NewERC20BurnBuilder(s.ERC20Contract, s.BurnAmount, fees(ptypes.TxTypeERC20Burn))
	transfer := NewERC1155SafeTransferBuilder(s.ERC1155Contract, s.TransferAmount, fees(ptypes.TxTypeERC1155SafeTransfer))

	if s.ERC20ABI != nil {
		if err := mint.SetABI(*s.ERC20ABI); err != nil {
			return nil, err
		}
		if err := burn.SetABI(*s.ERC20ABI); err != nil {
			return nil, err
		}
	}
	if s.ERC1155ABI != nil {
		if err := transfer.SetABI(*s.ERC1155ABI); err != nil {
			return nil, err
		}
	}

	r := NewRegistry()
	r.Register(NewNativeTransferBuilder(s.NativeAmount, fees(ptypes.TxTypeNativeTransfer)))
	r.Register(mint)
	r.Register(burn)
	r.Register(transfer)
	return r, nil
}

// validateAmount rejects nil and negative amounts.
func validateAmount(amount *big.Int) error {
	if amount == nil {
		return fmt.Errorf("%w: amount is nil", ErrInvalidAmount)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: amount %s is negative", ErrInvalidAmount, amount)
	}
	return nil
}

// validateAddress rejects the zero address.
func validateAddress(field string, addr common.Address) error {
	if addr == (common.Address{}) {
		return fmt.Errorf("%w: %s is the zero address", ErrInvalidAddress, field)
	}
	return nil
}

// amountOr returns a copy of amount, or def when amount is nil.
func amountOr(amount *big.Int, def *big.Int) *big.Int {
	if amount == nil {
		return new(big.Int).Set(def)
	}
	return new(big.Int).Set(amount)
}
