// Package evm looks up balances on EVM compatible chains for the requirement
// checks: native coin balances, ERC-20 token balances and ERC-1155 token
// ownership.
package evm

import (
	"fmt"
	"strings"

	"golang.org/x/xerrors"
)

// Chain is an EVM chain the oracle can query.
type Chain uint8

// The supported chains.
const (
	Ethereum Chain = iota
	Bsc
	Gnosis
	Polygon
	Arbitrum
)

var chainNames = []string{"ethereum", "bsc", "gnosis", "polygon", "arbitrum"}

// ErrUnsupportedChain is returned for chains without a configured backend.
var ErrUnsupportedChain = xerrors.New("unsupported chain")

func (c Chain) String() string {
	if int(c) < len(chainNames) {
		return chainNames[c]
	}
	return fmt.Sprintf("chain(%d)", uint8(c))
}

// ParseChain returns the chain with the given name, case insensitive.
func ParseChain(name string) (Chain, error) {
	for i, n := range chainNames {
		if strings.EqualFold(n, name) {
			return Chain(i), nil
		}
	}
	return 0, xerrors.Errorf("%q: %w", name, ErrUnsupportedChain)
}

// MarshalText returns the chain name.
func (c Chain) MarshalText() ([]byte, error) {
	if int(c) >= len(chainNames) {
		return nil, xerrors.Errorf("%v: %w", c, ErrUnsupportedChain)
	}
	return []byte(c.String()), nil
}

// UnmarshalText parses a chain name.
func (c *Chain) UnmarshalText(text []byte) error {
	parsed, err := ParseChain(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
