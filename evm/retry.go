package evm

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// RetryConfig bounds the time spent on a single lookup.
type RetryConfig struct {
	// Attempts is the total number of tries, at least one.
	Attempts int
	// Timeout applies to each attempt, zero means no timeout.
	Timeout time.Duration
	// Backoff is the pause between attempts, doubled after each failure.
	Backoff time.Duration
}

// DefaultRetry is used by the oracle when nothing is configured.
var DefaultRetry = RetryConfig{
	Attempts: 3,
	Timeout:  10 * time.Second,
	Backoff:  200 * time.Millisecond,
}

type retryClient struct {
	BalanceClient
	cfg RetryConfig
}

// WithRetry wraps a client so that failed lookups are retried. When every
// attempt fails the last error is returned, there is no fallback value.
func WithRetry(c BalanceClient, cfg RetryConfig) BalanceClient {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	return &retryClient{BalanceClient: c, cfg: cfg}
}

func (r *retryClient) do(ctx context.Context, what string,
	fn func(context.Context) (*big.Int, error)) (*big.Int, error) {
	backoff := r.cfg.Backoff
	var err error
	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		var bal *big.Int
		bal, err = r.attempt(ctx, fn)
		if err == nil {
			return bal, nil
		}
		if xerrors.Is(err, ErrUnsupportedChain) || xerrors.Is(err, ErrOutOfRange) || ctx.Err() != nil {
			break
		}
		if attempt == r.cfg.Attempts {
			break
		}
		log.Lvlf2("%s failed (attempt %d/%d): %v", what, attempt, r.cfg.Attempts, err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, xerrors.Errorf("%s: %w", what, ctx.Err())
		}
		backoff *= 2
	}
	return nil, xerrors.Errorf("%s: %w", what, err)
}

func (r *retryClient) attempt(ctx context.Context,
	fn func(context.Context) (*big.Int, error)) (*big.Int, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	return fn(ctx)
}

func (r *retryClient) Balance(ctx context.Context, chain Chain, holder common.Address) (*big.Int, error) {
	return r.do(ctx, "native balance", func(ctx context.Context) (*big.Int, error) {
		return r.BalanceClient.Balance(ctx, chain, holder)
	})
}

func (r *retryClient) TokenBalance(ctx context.Context, chain Chain, token, holder common.Address) (*big.Int, error) {
	return r.do(ctx, "token balance", func(ctx context.Context) (*big.Int, error) {
		return r.BalanceClient.TokenBalance(ctx, chain, token, holder)
	})
}

func (r *retryClient) NFTOwnerBalance(ctx context.Context, chain Chain, token common.Address, id *big.Int,
	holder common.Address) (*big.Int, error) {
	return r.do(ctx, "nft balance", func(ctx context.Context) (*big.Int, error) {
		return r.BalanceClient.NFTOwnerBalance(ctx, chain, token, id, holder)
	})
}
