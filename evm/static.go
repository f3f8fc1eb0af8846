package evm

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
)

type staticKey struct {
	chain  Chain
	token  common.Address
	id     string
	holder common.Address
}

// Static is an in-memory BalanceClient. Unknown balances are zero. It is
// used by tests and by dry runs of the oracle.
type Static struct {
	sync.Mutex
	balances map[staticKey]*big.Int
	// Err, when set, is returned by every lookup.
	Err   error
	calls int64
}

// NewStatic returns an empty client.
func NewStatic() *Static {
	return &Static{balances: make(map[staticKey]*big.Int)}
}

// SetBalance sets the native balance of holder.
func (s *Static) SetBalance(chain Chain, holder common.Address, v *big.Int) {
	s.set(staticKey{chain: chain, holder: holder}, v)
}

// SetTokenBalance sets the ERC-20 balance of holder.
func (s *Static) SetTokenBalance(chain Chain, token, holder common.Address, v *big.Int) {
	s.set(staticKey{chain: chain, token: token, holder: holder}, v)
}

// SetNFTBalance sets the ERC-1155 balance of holder for the token id.
func (s *Static) SetNFTBalance(chain Chain, token common.Address, id *big.Int, holder common.Address,
	v *big.Int) {
	s.set(staticKey{chain: chain, token: token, id: id.String(), holder: holder}, v)
}

// Calls returns the number of lookups done so far.
func (s *Static) Calls() int {
	return int(atomic.LoadInt64(&s.calls))
}

func (s *Static) set(k staticKey, v *big.Int) {
	s.Lock()
	defer s.Unlock()
	s.balances[k] = new(big.Int).Set(v)
}

func (s *Static) get(ctx context.Context, k staticKey) (*big.Int, error) {
	atomic.AddInt64(&s.calls, 1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.Lock()
	defer s.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if v, ok := s.balances[k]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

// Balance implements BalanceClient.
func (s *Static) Balance(ctx context.Context, chain Chain, holder common.Address) (*big.Int, error) {
	return s.get(ctx, staticKey{chain: chain, holder: holder})
}

// TokenBalance implements BalanceClient.
func (s *Static) TokenBalance(ctx context.Context, chain Chain, token, holder common.Address) (*big.Int, error) {
	return s.get(ctx, staticKey{chain: chain, token: token, holder: holder})
}

// NFTOwnerBalance implements BalanceClient.
func (s *Static) NFTOwnerBalance(ctx context.Context, chain Chain, token common.Address, id *big.Int,
	holder common.Address) (*big.Int, error) {
	return s.get(ctx, staticKey{chain: chain, token: token, id: id.String(), holder: holder})
}
