package txbuilder

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"

	ptypes "github.com/gateway-fm/txdriver/pkg/types"
)

// DefaultGasTipCap is the priority fee used when none is configured (1 gwei).
var DefaultGasTipCap = big.NewInt(params.GWei)

// FeeParams carries the caller-supplied fee settings of an intent.
type FeeParams struct {
	GasLimit  uint64   `yaml:"gas_limit" json:"gasLimit,omitempty"`
	GasFeeCap *big.Int `yaml:"-" json:"gasFeeCap,omitempty"`
	GasTipCap *big.Int `yaml:"-" json:"gasTipCap,omitempty"`
	// GasPrice is only used for legacy transactions. When nil, GasFeeCap is used.
	GasPrice  *big.Int `yaml:"-" json:"gasPrice,omitempty"`
	UseLegacy bool     `yaml:"use_legacy" json:"useLegacy,omitempty"`
}

// DefaultFees returns the fee settings each transaction type ships with.
func DefaultFees(t ptypes.TransactionType) FeeParams {
	switch t {
	case ptypes.TxTypeNativeTransfer:
		return FeeParams{GasLimit: 21000, GasFeeCap: big.NewInt(1e16), GasTipCap: new(big.Int).Set(DefaultGasTipCap)}
	case ptypes.TxTypeERC20Mint:
		return FeeParams{GasLimit: 100000, GasFeeCap: big.NewInt(1e12), GasTipCap: new(big.Int).Set(DefaultGasTipCap)}
	case ptypes.TxTypeERC20Burn:
		return FeeParams{GasLimit: 60578, GasFeeCap: big.NewInt(1e12), GasTipCap: new(big.Int).Set(DefaultGasTipCap)}
	case ptypes.TxTypeERC1155SafeTransfer:
		return FeeParams{GasLimit: 900578, GasFeeCap: big.NewInt(1e12), GasTipCap: new(big.Int).Set(DefaultGasTipCap)}
	default:
		return FeeParams{GasLimit: 21000, GasFeeCap: big.NewInt(params.GWei * 100), GasTipCap: new(big.Int).Set(DefaultGasTipCap)}
	}
}

// Merge returns f with every non-zero field of o applied on top.
func (f FeeParams) Merge(o FeeParams) FeeParams {
	if o.GasLimit != 0 {
		f.GasLimit = o.GasLimit
	}
	if o.GasFeeCap != nil {
		f.GasFeeCap = new(big.Int).Set(o.GasFeeCap)
	}
	if o.GasTipCap != nil {
		f.GasTipCap = new(big.Int).Set(o.GasTipCap)
	}
	if o.GasPrice != nil {
		f.GasPrice = new(big.Int).Set(o.GasPrice)
	}
	if o.UseLegacy {
		f.UseLegacy = true
	}
	return f
}

// Validate checks that the fees can produce a well-formed transaction.
func (f FeeParams) Validate() error {
	if f.GasLimit == 0 {
		return fmt.Errorf("%w: gas limit is zero", ErrInvalidFees)
	}
	if f.GasFeeCap == nil || f.GasFeeCap.Sign() <= 0 {
		if !f.UseLegacy || f.GasPrice == nil || f.GasPrice.Sign() <= 0 {
			return fmt.Errorf("%w: fee cap must be positive", ErrInvalidFees)
		}
	}
	if f.GasTipCap != nil && f.GasTipCap.Sign() < 0 {
		return fmt.Errorf("%w: tip cap is negative", ErrInvalidFees)
	}
	if !f.UseLegacy && f.GasTipCap != nil && f.GasFeeCap != nil && f.GasTipCap.Cmp(f.GasFeeCap) > 0 {
		return fmt.Errorf("%w: tip cap %s exceeds fee cap %s", ErrInvalidFees, f.GasTipCap, f.GasFeeCap)
	}
	return nil
}

// withLivePrice applies a network gas price: as the legacy gas price, or as
// the priority fee clamped to the fee cap.
func (f FeeParams) withLivePrice(price *big.Int) FeeParams {
	if price == nil || price.Sign() <= 0 {
		return f
	}
	if f.UseLegacy {
		f.GasPrice = new(big.Int).Set(price)
		return f
	}
	tip := new(big.Int).Set(price)
	if f.GasFeeCap != nil && tip.Cmp(f.GasFeeCap) > 0 {
		tip.Set(f.GasFeeCap)
	}
	f.GasTipCap = tip
	return f
}

// clampTip lowers the tip cap to the fee cap when it would exceed it.
func (f FeeParams) clampTip() FeeParams {
	if f.GasTipCap != nil && f.GasFeeCap != nil && f.GasTipCap.Cmp(f.GasFeeCap) > 0 {
		f.GasTipCap = new(big.Int).Set(f.GasFeeCap)
	}
	return f
}

// Intent is a fully specified, unsigned transaction. Intents are never
// mutated after Build; a retried submission re-sends the same intent.
type Intent struct {
	Type  ptypes.TransactionType
	To    common.Address
	Value *big.Int
	Data  []byte
	Nonce uint64
	Fees  FeeParams
}

// Transaction converts the intent into an unsigned go-ethereum transaction.
func (i *Intent) Transaction(chainID *big.Int) (*types.Transaction, error) {
	if chainID == nil || chainID.Sign() == 0 {
		return nil, errors.New("ChainID must be non-nil and non-zero")
	}
	value := i.Value
	if value == nil {
		value = new(big.Int)
	}
	tip := i.Fees.GasTipCap
	if tip == nil {
		tip = new(big.Int)
	}
	feeCap := i.Fees.GasFeeCap
	if i.Fees.UseLegacy && i.Fees.GasPrice != nil {
		feeCap = i.Fees.GasPrice
	}
	return NewTransferTx(chainID, i.Nonce, i.To, value, i.Fees.GasLimit, tip, feeCap, i.Data, i.Fees.UseLegacy), nil
}

// NewTransferTx creates either a DynamicFeeTx or LegacyTx depending on useLegacy.
// For legacy transactions, gasFeeCap is used as the gas price.
func NewTransferTx(chainID *big.Int, nonce uint64, to common.Address, value *big.Int, gasLimit uint64, gasTipCap *big.Int, gasFeeCap *big.Int, data []byte, useLegacy bool) *types.Transaction {
	if useLegacy {
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasFeeCap,
			Gas:      gasLimit,
			To:       &to,
			Value:    value,
			Data:     data,
		})
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      data,
	})
}
