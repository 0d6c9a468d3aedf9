package txbuilder

import (
	"bytes"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	ptypes "github.com/gateway-fm/txdriver/pkg/types"
)

var (
	testFrom      = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	testRecipient = common.HexToAddress("0x1234567890123456789012345678901234567890")
	testERC20     = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testERC1155   = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
)

func selectorOf(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

// word returns the i-th 32-byte ABI word after the selector.
func word(data []byte, i int) []byte {
	return data[4+32*i : 4+32*(i+1)]
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil {
		t.Fatal("expected non-nil registry")
	}
	if r.builders == nil {
		t.Fatal("expected builders map to be initialized")
	}
}

func TestRegistry_Get_NotFound(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get(ptypes.TxTypeNativeTransfer)
	if err == nil {
		t.Error("expected error for unregistered type")
	}
}

func TestNewDefaultRegistry(t *testing.T) {
	r, err := NewDefaultRegistry(Settings{ERC20Contract: testERC20, ERC1155Contract: testERC1155})
	if err != nil {
		t.Fatalf("NewDefaultRegistry() error = %v", err)
	}

	for _, txType := range ptypes.AllTransactionTypes {
		builder, err := r.Get(txType)
		if err != nil {
			t.Errorf("Get(%s) error = %v", txType, err)
			continue
		}
		if builder.Type() != txType {
			t.Errorf("Get(%s).Type() = %s", txType, builder.Type())
		}
	}

	builders := r.GetAll()
	if len(builders) != len(ptypes.AllTransactionTypes) {
		t.Errorf("GetAll() returned %d builders, want %d", len(builders), len(ptypes.AllTransactionTypes))
	}
	for i := 1; i < len(builders); i++ {
		if builders[i-1].Type() >= builders[i].Type() {
			t.Errorf("GetAll() not sorted: %s before %s", builders[i-1].Type(), builders[i].Type())
		}
	}
}

func TestNewDefaultRegistryOverrides(t *testing.T) {
	r, err := NewDefaultRegistry(Settings{
		ERC20Contract: testERC20,
		NativeAmount:  big.NewInt(5),
		Fees: map[ptypes.TransactionType]FeeParams{
			ptypes.TxTypeNativeTransfer: {GasLimit: 30000},
		},
		UseLegacy: true,
	})
	if err != nil {
		t.Fatalf("NewDefaultRegistry() error = %v", err)
	}

	b, _ := r.Get(ptypes.TxTypeNativeTransfer)
	if b.GasLimit() != 30000 {
		t.Errorf("GasLimit() = %d, want 30000", b.GasLimit())
	}
	intent, err := b.Build(Params{Recipient: testRecipient, Nonce: 1})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if intent.Value.Cmp(big.NewInt(5)) != 0 {
		t.Errorf("Value = %s, want 5", intent.Value)
	}
	if !intent.Fees.UseLegacy {
		t.Error("expected legacy fees")
	}
	if intent.Fees.GasFeeCap.Cmp(big.NewInt(1e16)) != 0 {
		t.Errorf("GasFeeCap = %s, want default 1e16", intent.Fees.GasFeeCap)
	}
}

func TestNewDefaultRegistryRejectsIncompatibleABI(t *testing.T) {
	wrong := mustParseABI(ERC1155ABI)
	if _, err := NewDefaultRegistry(Settings{ERC20ABI: &wrong}); err == nil {
		t.Error("expected error for ERC20 ABI without mint")
	}
}

func TestNativeTransferBuilder(t *testing.T) {
	builder := NewNativeTransferBuilder(nil, DefaultFees(ptypes.TxTypeNativeTransfer))

	t.Run("Type", func(t *testing.T) {
		if got := builder.Type(); got != ptypes.TxTypeNativeTransfer {
			t.Errorf("Type() = %s, want %s", got, ptypes.TxTypeNativeTransfer)
		}
	})

	t.Run("GasLimit", func(t *testing.T) {
		if got := builder.GasLimit(); got != 21000 {
			t.Errorf("GasLimit() = %d, want 21000", got)
		}
	})

	t.Run("Build", func(t *testing.T) {
		intent, err := builder.Build(Params{From: testFrom, Recipient: testRecipient, Nonce: 5})
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		if intent.To != testRecipient {
			t.Errorf("To = %s, want %s", intent.To.Hex(), testRecipient.Hex())
		}
		if intent.Value.Cmp(big.NewInt(1e16)) != 0 {
			t.Errorf("Value = %s, want 1e16", intent.Value)
		}
		if len(intent.Data) != 0 {
			t.Errorf("Data length = %d, want 0", len(intent.Data))
		}
		if intent.Nonce != 5 {
			t.Errorf("Nonce = %d, want 5", intent.Nonce)
		}
		if intent.Fees.GasFeeCap.Cmp(big.NewInt(1e16)) != 0 {
			t.Errorf("GasFeeCap = %s, want 1e16", intent.Fees.GasFeeCap)
		}
	})

	t.Run("self transfer allowed", func(t *testing.T) {
		if _, err := builder.Build(Params{From: testFrom, Recipient: testFrom}); err != nil {
			t.Errorf("Build() to self error = %v", err)
		}
	})

	t.Run("zero recipient", func(t *testing.T) {
		_, err := builder.Build(Params{From: testFrom})
		if !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("error = %v, want ErrInvalidAddress", err)
		}
	})

	t.Run("negative amount", func(t *testing.T) {
		b := NewNativeTransferBuilder(big.NewInt(-1), DefaultFees(ptypes.TxTypeNativeTransfer))
		_, err := b.Build(Params{Recipient: testRecipient})
		if !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("error = %v, want ErrInvalidAmount", err)
		}
	})
}

func TestERC20MintBuilder(t *testing.T) {
	builder := NewERC20MintBuilder(testERC20, nil, DefaultFees(ptypes.TxTypeERC20Mint))

	intent, err := builder.Build(Params{From: testFrom, Recipient: testRecipient, Nonce: 9})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if intent.To != testERC20 {
		t.Errorf("To = %s, want contract %s", intent.To.Hex(), testERC20.Hex())
	}
	if intent.Value.Sign() != 0 {
		t.Errorf("Value = %s, want 0", intent.Value)
	}
	if intent.Fees.GasLimit != 100000 {
		t.Errorf("GasLimit = %d, want 100000", intent.Fees.GasLimit)
	}
	if intent.Fees.GasFeeCap.Cmp(big.NewInt(1e12)) != 0 {
		t.Errorf("GasFeeCap = %s, want 1e12", intent.Fees.GasFeeCap)
	}
	if len(intent.Data) != 4+64 {
		t.Fatalf("Data length = %d, want 68", len(intent.Data))
	}
	if !bytes.Equal(intent.Data[:4], selectorOf("mint(address,uint256)")) {
		t.Errorf("selector = %x, want mint(address,uint256)", intent.Data[:4])
	}
	if got := common.BytesToAddress(word(intent.Data, 0)); got != testRecipient {
		t.Errorf("mint recipient = %s, want %s", got.Hex(), testRecipient.Hex())
	}
	if got := new(big.Int).SetBytes(word(intent.Data, 1)); got.Cmp(DefaultMintAmount) != 0 {
		t.Errorf("mint amount = %s, want %s", got, DefaultMintAmount)
	}

	t.Run("zero contract", func(t *testing.T) {
		b := NewERC20MintBuilder(common.Address{}, nil, DefaultFees(ptypes.TxTypeERC20Mint))
		_, err := b.Build(Params{Recipient: testRecipient})
		if !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("error = %v, want ErrInvalidAddress", err)
		}
	})

	t.Run("negative amount", func(t *testing.T) {
		b := NewERC20MintBuilder(testERC20, big.NewInt(-10), DefaultFees(ptypes.TxTypeERC20Mint))
		_, err := b.Build(Params{Recipient: testRecipient})
		if !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("error = %v, want ErrInvalidAmount", err)
		}
	})
}

func TestERC20BurnBuilder(t *testing.T) {
	builder := NewERC20BurnBuilder(testERC20, nil, DefaultFees(ptypes.TxTypeERC20Burn))

	if !builder.NeedsGasPrice() {
		t.Error("NeedsGasPrice() = false, want true")
	}

	t.Run("live price becomes tip", func(t *testing.T) {
		intent, err := builder.Build(Params{Nonce: 3, GasPrice: big.NewInt(7e9)})
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		if intent.Fees.GasLimit != 60578 {
			t.Errorf("GasLimit = %d, want 60578", intent.Fees.GasLimit)
		}
		if intent.Fees.GasTipCap.Cmp(big.NewInt(7e9)) != 0 {
			t.Errorf("GasTipCap = %s, want 7e9", intent.Fees.GasTipCap)
		}
		if len(intent.Data) != 4+32 {
			t.Fatalf("Data length = %d, want 36", len(intent.Data))
		}
		if !bytes.Equal(intent.Data[:4], selectorOf("burn(uint256)")) {
			t.Errorf("selector = %x, want burn(uint256)", intent.Data[:4])
		}
		if got := new(big.Int).SetBytes(word(intent.Data, 0)); got.Int64() != 1 {
			t.Errorf("burn amount = %s, want 1", got)
		}
	})

	t.Run("live price clamped to fee cap", func(t *testing.T) {
		intent, err := builder.Build(Params{GasPrice: big.NewInt(5e12)})
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		if intent.Fees.GasTipCap.Cmp(intent.Fees.GasFeeCap) != 0 {
			t.Errorf("GasTipCap = %s, want clamped to %s", intent.Fees.GasTipCap, intent.Fees.GasFeeCap)
		}
	})

	t.Run("legacy uses live price", func(t *testing.T) {
		fees := DefaultFees(ptypes.TxTypeERC20Burn)
		fees.UseLegacy = true
		b := NewERC20BurnBuilder(testERC20, nil, fees)
		intent, err := b.Build(Params{GasPrice: big.NewInt(3e9)})
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		tx, err := intent.Transaction(big.NewInt(1))
		if err != nil {
			t.Fatalf("Transaction() error = %v", err)
		}
		if tx.Type() != types.LegacyTxType {
			t.Errorf("tx type = %d, want legacy", tx.Type())
		}
		if tx.GasPrice().Cmp(big.NewInt(3e9)) != 0 {
			t.Errorf("GasPrice = %s, want 3e9", tx.GasPrice())
		}
	})
}

func TestERC1155SafeTransferBuilder(t *testing.T) {
	builder := NewERC1155SafeTransferBuilder(testERC1155, nil, DefaultFees(ptypes.TxTypeERC1155SafeTransfer))

	intent, err := builder.Build(Params{
		From:      testFrom,
		Recipient: testRecipient,
		Nonce:     11,
		TokenID:   big.NewInt(42),
		GasPrice:  big.NewInt(1e9),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if intent.To != testERC1155 {
		t.Errorf("To = %s, want %s", intent.To.Hex(), testERC1155.Hex())
	}
	if intent.Fees.GasLimit != 900578 {
		t.Errorf("GasLimit = %d, want 900578", intent.Fees.GasLimit)
	}
	// 5 head words plus the length word of the empty bytes argument.
	if len(intent.Data) != 4+32*6 {
		t.Fatalf("Data length = %d, want %d", len(intent.Data), 4+32*6)
	}
	if !bytes.Equal(intent.Data[:4], selectorOf("safeTransferFrom(address,address,uint256,uint256,bytes)")) {
		t.Errorf("selector = %x, want safeTransferFrom", intent.Data[:4])
	}
	if got := common.BytesToAddress(word(intent.Data, 0)); got != testFrom {
		t.Errorf("from = %s, want %s", got.Hex(), testFrom.Hex())
	}
	if got := common.BytesToAddress(word(intent.Data, 1)); got != testRecipient {
		t.Errorf("to = %s, want %s", got.Hex(), testRecipient.Hex())
	}
	if got := new(big.Int).SetBytes(word(intent.Data, 2)); got.Int64() != 42 {
		t.Errorf("id = %s, want 42", got)
	}
	if got := new(big.Int).SetBytes(word(intent.Data, 3)); got.Int64() != 1 {
		t.Errorf("amount = %s, want 1", got)
	}
	if got := new(big.Int).SetBytes(word(intent.Data, 5)); got.Sign() != 0 {
		t.Errorf("bytes length = %s, want 0", got)
	}

	tests := []struct {
		name    string
		params  Params
		wantErr error
	}{
		{name: "missing token id", params: Params{From: testFrom, Recipient: testRecipient}, wantErr: ErrMissingTokenID},
		{name: "negative token id", params: Params{From: testFrom, Recipient: testRecipient, TokenID: big.NewInt(-1)}, wantErr: ErrInvalidAmount},
		{name: "zero from", params: Params{Recipient: testRecipient, TokenID: big.NewInt(1)}, wantErr: ErrInvalidAddress},
		{name: "zero recipient", params: Params{From: testFrom, TokenID: big.NewInt(1)}, wantErr: ErrInvalidAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := builder.Build(tt.params)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestIntentTransaction(t *testing.T) {
	intent := &Intent{
		Type:  ptypes.TxTypeNativeTransfer,
		To:    testRecipient,
		Value: big.NewInt(100),
		Nonce: 7,
		Fees:  FeeParams{GasLimit: 21000, GasFeeCap: big.NewInt(2e9), GasTipCap: big.NewInt(1e9)},
	}

	t.Run("dynamic fee", func(t *testing.T) {
		tx, err := intent.Transaction(big.NewInt(42069))
		if err != nil {
			t.Fatalf("Transaction() error = %v", err)
		}
		if tx.Type() != types.DynamicFeeTxType {
			t.Errorf("type = %d, want dynamic fee", tx.Type())
		}
		if tx.ChainId().Int64() != 42069 {
			t.Errorf("ChainId = %s, want 42069", tx.ChainId())
		}
		if tx.Nonce() != 7 || tx.Gas() != 21000 {
			t.Errorf("Nonce/Gas = %d/%d, want 7/21000", tx.Nonce(), tx.Gas())
		}
		if *tx.To() != testRecipient {
			t.Errorf("To = %s, want %s", tx.To().Hex(), testRecipient.Hex())
		}
		if tx.GasTipCap().Cmp(big.NewInt(1e9)) != 0 || tx.GasFeeCap().Cmp(big.NewInt(2e9)) != 0 {
			t.Errorf("tip/feeCap = %s/%s", tx.GasTipCap(), tx.GasFeeCap())
		}
	})

	t.Run("nil chain id", func(t *testing.T) {
		if _, err := intent.Transaction(nil); err == nil {
			t.Error("expected error for nil ChainID")
		}
	})

	t.Run("zero chain id", func(t *testing.T) {
		if _, err := intent.Transaction(big.NewInt(0)); err == nil {
			t.Error("expected error for zero ChainID")
		}
	})
}

func TestFeeParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		fees    FeeParams
		wantErr bool
	}{
		{name: "defaults", fees: DefaultFees(ptypes.TxTypeERC20Mint)},
		{name: "zero gas", fees: FeeParams{GasFeeCap: big.NewInt(1)}, wantErr: true},
		{name: "nil fee cap", fees: FeeParams{GasLimit: 21000}, wantErr: true},
		{name: "legacy with gas price", fees: FeeParams{GasLimit: 21000, GasPrice: big.NewInt(1), UseLegacy: true}},
		{name: "tip above cap", fees: FeeParams{GasLimit: 21000, GasFeeCap: big.NewInt(1), GasTipCap: big.NewInt(2)}, wantErr: true},
		{name: "negative tip", fees: FeeParams{GasLimit: 21000, GasFeeCap: big.NewInt(1), GasTipCap: big.NewInt(-1)}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fees.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidFees) {
				t.Errorf("error = %v, want ErrInvalidFees", err)
			}
		})
	}
}

func TestLoadABI(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "erc20.abi")
	if err := os.WriteFile(good, []byte(ERC20ABI), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	parsed, err := LoadABI(good)
	if err != nil {
		t.Fatalf("LoadABI() error = %v", err)
	}
	b := NewERC20MintBuilder(testERC20, nil, DefaultFees(ptypes.TxTypeERC20Mint))
	if err := b.SetABI(*parsed); err != nil {
		t.Errorf("SetABI() error = %v", err)
	}

	bad := filepath.Join(dir, "bad.abi")
	if err := os.WriteFile(bad, []byte("not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadABI(bad); err == nil {
		t.Error("expected error for malformed ABI")
	}
	if _, err := LoadABI(filepath.Join(dir, "missing.abi")); err == nil {
		t.Error("expected error for missing file")
	}
}
