package account

import (
	"math/rand/v2"

	"github.com/ethereum/go-ethereum/common"
)

// IntSource draws integers in [0, n).
type IntSource interface {
	IntN(n int) int
}

// Rand provides thread-safe random number generation using math/rand/v2.
// Go 1.22's math/rand/v2 is automatically seeded and goroutine-safe.
type Rand struct{}

// IntN returns a random int in [0, n).
func (r *Rand) IntN(n int) int {
	return rand.IntN(n)
}

// NewRand returns a thread-safe random number generator.
func NewRand() *Rand {
	return &Rand{}
}

// PickTarget draws a recipient uniformly from the whole directory.
// The caller's own address may be returned; workers are allowed to send to themselves.
// An empty directory yields the zero address.
func PickTarget(dir *Directory, rnd IntSource) common.Address {
	n := dir.Len()
	if n == 0 {
		return common.Address{}
	}
	if rnd == nil {
		rnd = NewRand()
	}
	return dir.accounts[rnd.IntN(n)].Address
}
