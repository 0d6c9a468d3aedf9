package session

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/txdriver/internal/account"
	"github.com/gateway-fm/txdriver/internal/chain"
	"github.com/gateway-fm/txdriver/internal/txbuilder"
)

type stubClient struct {
	address common.Address
	closed  bool
}

func (c *stubClient) Address() common.Address                          { return c.address }
func (c *stubClient) PendingNonce(ctx context.Context) (uint64, error) { return 0, nil }
func (c *stubClient) GasPrice(ctx context.Context) (*big.Int, error)   { return big.NewInt(1), nil }
func (c *stubClient) Send(ctx context.Context, intent *txbuilder.Intent) (common.Hash, error) {
	return common.Hash{}, nil
}
func (c *stubClient) Close() { c.closed = true }

func testAccount(t *testing.T) *account.Account {
	t.Helper()
	acc, err := account.NewAccountFromHex(account.TestPrivateKeys[1])
	if err != nil {
		t.Fatalf("NewAccountFromHex() error = %v", err)
	}
	return acc
}

func TestClient_DialsOnce(t *testing.T) {
	acc := testAccount(t)
	dials := 0
	dial := func(ctx context.Context, key *ecdsa.PrivateKey) (chain.Client, error) {
		dials++
		if key != acc.PrivateKey {
			t.Error("dialer received a different key")
		}
		return &stubClient{address: acc.Address}, nil
	}

	s := New(1, acc, dial, Options{})
	if s.HasClient() {
		t.Fatal("client constructed before first use")
	}

	first, err := s.Client(context.Background())
	if err != nil {
		t.Fatalf("Client() error = %v", err)
	}
	second, err := s.Client(context.Background())
	if err != nil {
		t.Fatalf("Client() error = %v", err)
	}
	if first != second {
		t.Error("Client() returned a different client on second call")
	}
	if dials != 1 {
		t.Errorf("dials = %d, want 1", dials)
	}
}

func TestClient_DialFailureIsNotCached(t *testing.T) {
	acc := testAccount(t)
	errDial := errors.New("connection refused")
	fail := true
	dial := func(ctx context.Context, key *ecdsa.PrivateKey) (chain.Client, error) {
		if fail {
			return nil, errDial
		}
		return &stubClient{address: acc.Address}, nil
	}

	s := New(0, acc, dial, Options{})
	if _, err := s.Client(context.Background()); !errors.Is(err, errDial) {
		t.Fatalf("Client() error = %v, want %v", err, errDial)
	}
	if s.HasClient() {
		t.Fatal("failed dial left a client behind")
	}
	if s.Dials() != 1 {
		t.Errorf("Dials() = %d, want 1", s.Dials())
	}

	fail = false
	if _, err := s.Client(context.Background()); err != nil {
		t.Fatalf("Client() after recovery error = %v", err)
	}
	if s.Dials() != 2 {
		t.Errorf("Dials() = %d, want 2", s.Dials())
	}
}

func TestClient_DialTimeout(t *testing.T) {
	acc := testAccount(t)
	dial := func(ctx context.Context, key *ecdsa.PrivateKey) (chain.Client, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	s := New(0, acc, dial, Options{DialTimeout: 10 * time.Millisecond})
	_, err := s.Client(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Client() error = %v, want deadline exceeded", err)
	}
}

func TestClient_NoDialer(t *testing.T) {
	s := New(0, testAccount(t), nil, Options{})
	if _, err := s.Client(context.Background()); err == nil {
		t.Error("Client() without dialer returned no error")
	}
}

func TestNonce(t *testing.T) {
	s := New(0, testAccount(t), nil, Options{})

	if _, ok := s.Nonce(); ok {
		t.Fatal("new session has a nonce")
	}
	if _, ok := s.IncrementNonce(); ok {
		t.Fatal("IncrementNonce() succeeded on unset nonce")
	}

	s.SetNonce(5)
	s.MarkResync()
	if !s.ResyncDue() {
		t.Fatal("MarkResync() had no effect")
	}
	if n, ok := s.IncrementNonce(); !ok || n != 6 {
		t.Errorf("IncrementNonce() = %d, %v, want 6, true", n, ok)
	}
	if s.SinceSync() != 1 {
		t.Errorf("SinceSync() = %d, want 1", s.SinceSync())
	}

	s.SetNonce(9)
	if s.ResyncDue() || s.SinceSync() != 0 {
		t.Error("SetNonce() did not reset resync state")
	}
	if n, _ := s.Nonce(); n != 9 {
		t.Errorf("Nonce() = %d, want 9", n)
	}
}

func TestTokenID(t *testing.T) {
	tests := []struct {
		name  string
		start *big.Int
		want  int64
	}{
		{"default", nil, 1},
		{"configured", big.NewInt(100), 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(0, testAccount(t), nil, Options{StartTokenID: tt.start})
			id := s.TokenID()
			if id.Int64() != tt.want {
				t.Fatalf("TokenID() = %s, want %d", id, tt.want)
			}

			id.SetInt64(-1)
			if s.TokenID().Int64() != tt.want {
				t.Error("mutating returned token id changed the session")
			}

			s.AdvanceTokenID()
			if s.TokenID().Int64() != tt.want+1 {
				t.Errorf("TokenID() after advance = %s, want %d", s.TokenID(), tt.want+1)
			}
			if tt.start != nil && tt.start.Int64() != tt.want {
				t.Error("advancing changed the caller's start id")
			}
		})
	}
	if DefaultStartTokenID.Int64() != 1 {
		t.Error("DefaultStartTokenID was mutated")
	}
}

func TestClose(t *testing.T) {
	acc := testAccount(t)
	c := &stubClient{}
	dial := func(ctx context.Context, key *ecdsa.PrivateKey) (chain.Client, error) {
		return c, nil
	}
	s := New(0, acc, dial, Options{})
	s.Close()

	if _, err := s.Client(context.Background()); err != nil {
		t.Fatalf("Client() error = %v", err)
	}
	s.Close()
	if !c.closed {
		t.Error("Close() did not close the client")
	}
	if s.HasClient() {
		t.Error("client kept after Close()")
	}
}
