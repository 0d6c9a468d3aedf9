package account

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
)

// ErrAccountNotFound is returned when a worker index has no account assigned.
var ErrAccountNotFound = errors.New("account not found")

// KeyPair is the on-disk form of an account: {"address": "0x..", "privateKey": "0x.."}.
type KeyPair struct {
	Address    string `json:"address"`
	PrivateKey string `json:"privateKey"`
}

// Directory is the ordered, read-only set of accounts for a run.
// Worker index i is bound to the account at position i.
type Directory struct {
	accounts []*Account
}

// NewDirectory creates a directory over the given accounts.
// The slice is copied; later changes to it are not observed.
func NewDirectory(accounts []*Account) *Directory {
	cp := make([]*Account, len(accounts))
	copy(cp, accounts)
	return &Directory{accounts: cp}
}

// LoadDirectory reads a JSON array of key pairs from path.
func LoadDirectory(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}
	return ParseDirectory(data)
}

// ParseDirectory decodes a JSON array of key pairs.
// A listed address that does not match its private key is rejected; an empty
// address is derived from the key.
func ParseDirectory(data []byte) (*Directory, error) {
	var pairs []KeyPair
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("decode accounts file: %w", err)
	}
	if len(pairs) == 0 {
		return nil, errors.New("accounts file contains no accounts")
	}

	accounts := make([]*Account, 0, len(pairs))
	for i, p := range pairs {
		acc, err := NewAccountFromHex(p.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", i, err)
		}
		if p.Address != "" {
			if !common.IsHexAddress(p.Address) {
				return nil, fmt.Errorf("account %d: invalid address %q", i, p.Address)
			}
			if common.HexToAddress(p.Address) != acc.Address {
				return nil, fmt.Errorf("account %d: address %s does not match private key (derived %s)",
					i, p.Address, acc.Address.Hex())
			}
		}
		accounts = append(accounts, acc)
	}
	return &Directory{accounts: accounts}, nil
}

// AccountAt returns the account bound to workerIndex (0-based).
func (d *Directory) AccountAt(workerIndex int) (*Account, error) {
	if workerIndex < 0 || workerIndex >= len(d.accounts) {
		return nil, fmt.Errorf("%w: worker index %d, %d accounts loaded",
			ErrAccountNotFound, workerIndex, len(d.accounts))
	}
	return d.accounts[workerIndex], nil
}

// Len returns the number of loaded accounts.
func (d *Directory) Len() int {
	return len(d.accounts)
}

// Addresses returns the addresses of all accounts in directory order.
func (d *Directory) Addresses() []common.Address {
	addrs := make([]common.Address, len(d.accounts))
	for i, acc := range d.accounts {
		addrs[i] = acc.Address
	}
	return addrs
}

// Export returns the key pairs for all accounts, suitable for writing an accounts file.
func (d *Directory) Export() []KeyPair {
	pairs := make([]KeyPair, len(d.accounts))
	for i, acc := range d.accounts {
		pairs[i] = KeyPair{
			Address:    acc.Address.Hex(),
			PrivateKey: "0x" + acc.PrivateKeyHex(),
		}
	}
	return pairs
}
