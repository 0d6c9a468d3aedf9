package txbuilder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"

	ptypes "github.com/gateway-fm/txdriver/pkg/types"
)

// Default token amounts for ERC20 calls.
var (
	DefaultMintAmount = new(big.Int).Mul(big.NewInt(1000), big.NewInt(params.Ether))
	DefaultBurnAmount = big.NewInt(1)
)

// ERC20MintBuilder builds mint(recipient, amount) calls against an ERC20 contract.
type ERC20MintBuilder struct {
	contract    common.Address
	contractABI abi.ABI
	amount      *big.Int
	fees        FeeParams
}

// NewERC20MintBuilder creates a mint builder. A nil amount uses DefaultMintAmount.
func NewERC20MintBuilder(contract common.Address, amount *big.Int, fees FeeParams) *ERC20MintBuilder {
	return &ERC20MintBuilder{
		contract:    contract,
		contractABI: erc20ABI,
		amount:      amountOr(amount, DefaultMintAmount),
		fees:        fees,
	}
}

// SetABI replaces the embedded ABI. The ABI must expose a mint method.
func (b *ERC20MintBuilder) SetABI(contractABI abi.ABI) error {
	if err := requireMethod(contractABI, "mint"); err != nil {
		return err
	}
	b.contractABI = contractABI
	return nil
}

// Type returns the transaction type identifier.
func (b *ERC20MintBuilder) Type() ptypes.TransactionType {
	return ptypes.TxTypeERC20Mint
}

// GasLimit returns the configured gas limit (100000 by default).
func (b *ERC20MintBuilder) GasLimit() uint64 {
	return b.fees.GasLimit
}

// NeedsGasPrice returns false; mint uses explicit gas limit and fee cap.
func (b *ERC20MintBuilder) NeedsGasPrice() bool {
	return false
}

// Build creates a mint intent minting to the iteration's recipient.
func (b *ERC20MintBuilder) Build(p Params) (*Intent, error) {
	if err := validateAddress("contract", b.contract); err != nil {
		return nil, err
	}
	if err := validateAddress("recipient", p.Recipient); err != nil {
		return nil, err
	}
	if err := validateAmount(b.amount); err != nil {
		return nil, err
	}
	data, err := b.contractABI.Pack("mint", p.Recipient, b.amount)
	if err != nil {
		return nil, fmt.Errorf("encode mint: %w", err)
	}
	fees := b.fees.clampTip()
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

// ERC20BurnBuilder builds burn(amount) calls against an ERC20 contract.
type ERC20BurnBuilder struct {
	contract    common.Address
	contractABI abi.ABI
	amount      *big.Int
	fees        FeeParams
}

// NewERC20BurnBuilder creates a burn builder. A nil amount uses DefaultBurnAmount.
func NewERC20BurnBuilder(contract common.Address, amount *big.Int, fees FeeParams) *ERC20BurnBuilder {
	return &ERC20BurnBuilder{
		contract:    contract,
		contractABI: erc20ABI,
		amount:      amountOr(amount, DefaultBurnAmount),
		fees:        fees,
	}
}

// SetABI replaces the embedded ABI. The ABI must expose a burn method.
func (b *ERC20BurnBuilder) SetABI(contractABI abi.ABI) error {
	if err := requireMethod(contractABI, "burn"); err != nil {
		return err
	}
	b.contractABI = contractABI
	return nil
}

// Type returns the transaction type identifier.
func (b *ERC20BurnBuilder) Type() ptypes.TransactionType {
	return ptypes.TxTypeERC20Burn
}

// GasLimit returns the configured gas limit (60578 by default).
func (b *ERC20BurnBuilder) GasLimit() uint64 {
	return b.fees.GasLimit
}

// NeedsGasPrice returns true; burn is priced from the node's current gas price.
func (b *ERC20BurnBuilder) NeedsGasPrice() bool {
	return true
}

// Build creates a burn intent. The recipient is not used.
func (b *ERC20BurnBuilder) Build(p Params) (*Intent, error) {
	if err := validateAddress("contract", b.contract); err != nil {
		return nil, err
	}
	if err := validateAmount(b.amount); err != nil {
		return nil, err
	}
	data, err := b.contractABI.Pack("burn", b.amount)
	if err != nil {
		return nil, fmt.Errorf("encode burn: %w", err)
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
