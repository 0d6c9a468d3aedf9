package txbuilder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	ptypes "github.com/gateway-fm/txdriver/pkg/types"
)

// DefaultTransferAmount is the number of units moved per safe transfer.
var DefaultTransferAmount = big.NewInt(1)

// ERC1155SafeTransferBuilder builds safeTransferFrom(from, to, id, amount, "") calls.
// The token id comes from the worker's session and advances independently of the nonce.
type ERC1155SafeTransferBuilder struct {
	contract    common.Address
	contractABI abi.ABI
	amount      *big.Int
	fees        FeeParams
}

// NewERC1155SafeTransferBuilder creates a safe-transfer builder.
// A nil amount uses DefaultTransferAmount.
func NewERC1155SafeTransferBuilder(contract common.Address, amount *big.Int, fees FeeParams) *ERC1155SafeTransferBuilder {
	return &ERC1155SafeTransferBuilder{
		contract:    contract,
		contractABI: erc1155ABI,
		amount:      amountOr(amount, DefaultTransferAmount),
		fees:        fees,
	}
}

// SetABI replaces the embedded ABI. The ABI must expose safeTransferFrom.
func (b *ERC1155SafeTransferBuilder) SetABI(contractABI abi.ABI) error {
	if err := requireMethod(contractABI, "safeTransferFrom"); err != nil {
		return err
	}
	b.contractABI = contractABI
	return nil
}

// Type returns the transaction type identifier.
func (b *ERC1155SafeTransferBuilder) Type() ptypes.TransactionType {
	return ptypes.TxTypeERC1155SafeTransfer
}

// GasLimit returns the configured gas limit (900578 by default).
func (b *ERC1155SafeTransferBuilder) GasLimit() uint64 {
	return b.fees.GasLimit
}

// NeedsGasPrice returns true; transfers are priced from the node's current gas price.
func (b *ERC1155SafeTransferBuilder) NeedsGasPrice() bool {
	return true
}

// Build creates a safe-transfer intent moving p.TokenID from p.From to p.Recipient.
func (b *ERC1155SafeTransferBuilder) Build(p Params) (*Intent, error) {
	if err := validateAddress("contract", b.contract); err != nil {
		return nil, err
	}
	if err := validateAddress("from", p.From); err != nil {
		return nil, err
	}
	if err := validateAddress("recipient", p.Recipient); err != nil {
		return nil, err
	}
	if p.TokenID == nil {
		return nil, ErrMissingTokenID
	}
	if p.TokenID.Sign() < 0 {
		return nil, fmt.Errorf("%w: token id %s is negative", ErrInvalidAmount, p.TokenID)
	}
	if err := validateAmount(b.amount); err != nil {
		return nil, err
	}
	data, err := b.contractABI.Pack("safeTransferFrom", p.From, p.Recipient, p.TokenID, b.amount, []byte{})
	if err != nil {
		return nil, fmt.Errorf("encode safeTransferFrom: %w", err)
	}
	fees := b.fees.withLivePrice(p.GasPrice).clampTip()
	if err := fees.Validate(); err != nil {
		return nil, err
	}
	return &Intent{
		Type:  b.Type(),
		To:    b.contract,
		Value: new(big.Int),
		Data:  data,
		Nonce: p.Nonce,
		Fees:  fees,
	}, nil
}
