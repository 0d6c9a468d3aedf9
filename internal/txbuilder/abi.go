package txbuilder

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Minimal ABIs covering the methods the contract-call builders invoke.
const (
	ERC20ABI = `[
	{"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"burn","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]}
]`

	ERC1155ABI = `[
	{"type":"function","name":"safeTransferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"id","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"data","type":"bytes"}],"outputs":[]}
]`
)

var (
	erc20ABI   = mustParseABI(ERC20ABI)
	erc1155ABI = mustParseABI(ERC1155ABI)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parse embedded ABI: %v", err))
	}
	return parsed
}

// LoadABI reads a contract ABI from a JSON file.
func LoadABI(path string) (*abi.ABI, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ABI file: %w", err)
	}
	defer f.Close()

	parsed, err := abi.JSON(f)
	if err != nil {
		return nil, fmt.Errorf("parse ABI file %s: %w", path, err)
	}
	return &parsed, nil
}

// requireMethod checks that contractABI exposes method.
func requireMethod(contractABI abi.ABI, method string) error {
	if _, ok := contractABI.Methods[method]; !ok {
		return fmt.Errorf("ABI has no method %q", method)
	}
	return nil
}
