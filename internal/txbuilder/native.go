package txbuilder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/params"

	ptypes "github.com/gateway-fm/txdriver/pkg/types"
)

// DefaultNativeAmount is the value moved by each native transfer (0.01 ether).
var DefaultNativeAmount = big.NewInt(params.Ether / 100)

// NativeTransferBuilder builds plain value transfers to the iteration's recipient.
type NativeTransferBuilder struct {
	amount *big.Int
	fees   FeeParams
}

// NewNativeTransferBuilder creates a native transfer builder.
// A nil amount uses DefaultNativeAmount.
func NewNativeTransferBuilder(amount *big.Int, fees FeeParams) *NativeTransferBuilder {
	return &NativeTransferBuilder{
		amount: amountOr(amount, DefaultNativeAmount),
		fees:   fees,
	}
}

// Type returns the transaction type identifier.
func (b *NativeTransferBuilder) Type() ptypes.TransactionType {
	return ptypes.TxTypeNativeTransfer
}

// GasLimit returns the configured gas limit (21000 by default).
func (b *NativeTransferBuilder) GasLimit() uint64 {
	return b.fees.GasLimit
}

// NeedsGasPrice returns false; transfers use the configured fee cap only.
func (b *NativeTransferBuilder) NeedsGasPrice() bool {
	return false
}

// Build creates a native transfer intent.
func (b *NativeTransferBuilder) Build(p Params) (*Intent, error) {
	if err := validateAddress("recipient", p.Recipient); err != nil {
		return nil, err
	}
	if err := validateAmount(b.amount); err != nil {
		return nil, err
	}
	fees := b.fees.clampTip()
	if err := fees.Validate(); err != nil {
		return nil, err
	}
	return &Intent{
		Type:  b.Type(),
		To:    p.Recipient,
		Value: new(big.Int).Set(b.amount),
		Nonce: p.Nonce,
		Fees:  fees,
	}, nil
}
