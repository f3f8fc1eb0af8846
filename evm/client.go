package evm

import (
	"context"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// BalanceClient looks up balances of an address. Implementations must be
// safe for concurrent use.
type BalanceClient interface {
	// Balance returns the native coin balance of holder.
	Balance(ctx context.Context, chain Chain, holder common.Address) (*big.Int, error)
	// TokenBalance returns the ERC-20 balance of holder.
	TokenBalance(ctx context.Context, chain Chain, token, holder common.Address) (*big.Int, error)
	// NFTOwnerBalance returns how many tokens of the ERC-1155 id holder owns.
	NFTOwnerBalance(ctx context.Context, chain Chain, token common.Address, id *big.Int,
		holder common.Address) (*big.Int, error)
}

// Backend is the part of an RPC endpoint the client needs.
// *ethclient.Client implements it.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

const erc20ABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],
"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],
"stateMutability":"view","type":"function"}]`

const erc1155ABI = `[{"inputs":[{"name":"account","type":"address"},{"name":"id","type":"uint256"}],
"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],
"stateMutability":"view","type":"function"}]`

var (
	erc20   = mustABI(erc20ABI)
	erc1155 = mustABI(erc1155ABI)
)

func mustABI(def string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return a
}

// Client queries one backend per chain at the latest block.
type Client struct {
	backends map[Chain]Backend
}

// NewClient returns a client over the given backends.
func NewClient(backends map[Chain]Backend) *Client {
	c := &Client{backends: make(map[Chain]Backend)}
	for chain, b := range backends {
		c.backends[chain] = b
	}
	return c
}

// Dial connects to the JSON-RPC endpoint of every chain.
func Dial(ctx context.Context, endpoints map[Chain]string) (*Client, error) {
	backends := make(map[Chain]Backend)
	for chain, url := range endpoints {
		ec, err := ethclient.DialContext(ctx, url)
		if err != nil {
			closeAll(backends)
			return nil, xerrors.Errorf("dialing %v: %w", chain, err)
		}
		log.Lvl2("Connected to", chain, "at", url)
		backends[chain] = ec
	}
	return NewClient(backends), nil
}

func closeAll(backends map[Chain]Backend) {
	for _, b := range backends {
		if c, ok := b.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

// Close releases the connections of the backends that hold one.
func (c *Client) Close() {
	closeAll(c.backends)
}

func (c *Client) backend(chain Chain) (Backend, error) {
	b, ok := c.backends[chain]
	if !ok {
		return nil, xerrors.Errorf("%v: %w", chain, ErrUnsupportedChain)
	}
	return b, nil
}

// Balance implements BalanceClient.
func (c *Client) Balance(ctx context.Context, chain Chain, holder common.Address) (*big.Int, error) {
	b, err := c.backend(chain)
	if err != nil {
		return nil, err
	}
	bal, err := b.BalanceAt(ctx, holder, nil)
	if err != nil {
		return nil, xerrors.Errorf("balance of %s on %v: %w", holder.Hex(), chain, err)
	}
	return bal, nil
}

// TokenBalance implements BalanceClient.
func (c *Client) TokenBalance(ctx context.Context, chain Chain, token, holder common.Address) (*big.Int, error) {
	return c.call(ctx, chain, token, erc20, holder)
}

// NFTOwnerBalance implements BalanceClient.
func (c *Client) NFTOwnerBalance(ctx context.Context, chain Chain, token common.Address, id *big.Int,
	holder common.Address) (*big.Int, error) {
	if id == nil {
		return nil, xerrors.Errorf("missing token id: %w", ErrOutOfRange)
	}
	return c.call(ctx, chain, token, erc1155, holder, id)
}

// call runs balanceOf of the contract and unpacks the uint256 it returns.
func (c *Client) call(ctx context.Context, chain Chain, token common.Address, contract abi.ABI,
	args ...interface{}) (*big.Int, error) {
	b, err := c.backend(chain)
	if err != nil {
		return nil, err
	}
	input, err := contract.Pack("balanceOf", args...)
	if err != nil {
		return nil, xerrors.Errorf("packing balanceOf: %w", err)
	}
	output, err := b.CallContract(ctx, ethereum.CallMsg{To: &token, Data: input}, nil)
	if err != nil {
		return nil, xerrors.Errorf("balanceOf on %s at %v: %w", token.Hex(), chain, err)
	}
	res, err := contract.Unpack("balanceOf", output)
	if err != nil {
		return nil, xerrors.Errorf("unpacking balanceOf from %s: %w", token.Hex(), err)
	}
	if len(res) != 1 {
		return nil, xerrors.Errorf("balanceOf returned %d values", len(res))
	}
	bal, ok := res[0].(*big.Int)
	if !ok {
		return nil, xerrors.Errorf("balanceOf returned %T", res[0])
	}
	return bal, nil
}
