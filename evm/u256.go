package evm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"
	"golang.org/x/xerrors"
)

// U256 is an unsigned 256-bit amount as the ledger stores it, 32 bytes in
// little endian order.
type U256 [32]byte

// ErrOutOfRange is returned for values that do not fit in a U256.
var ErrOutOfRange = xerrors.New("value out of range")

// NewU256 returns the U256 of a small value.
func NewU256(v uint64) U256 {
	u, _ := U256FromBig(new(big.Int).SetUint64(v))
	return u
}

// U256FromBig converts a non-negative big integer of at most 256 bits.
func U256FromBig(b *big.Int) (U256, error) {
	var u U256
	if b == nil || b.Sign() < 0 || b.BitLen() > 256 {
		return u, xerrors.Errorf("%v: %w", b, ErrOutOfRange)
	}
	be := math.U256Bytes(new(big.Int).Set(b))
	for i := range be {
		u[len(u)-1-i] = be[i]
	}
	return u, nil
}

// Big returns the value as a big integer.
func (u U256) Big() *big.Int {
	var be [32]byte
	for i := range u {
		be[len(be)-1-i] = u[i]
	}
	return new(big.Int).SetBytes(be[:])
}

func (u U256) String() string {
	return u.Big().String()
}

// MarshalText returns the decimal representation.
func (u U256) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText accepts decimal and 0x-prefixed hexadecimal numbers.
func (u *U256) UnmarshalText(text []byte) error {
	b, ok := math.ParseBig256(string(text))
	if !ok {
		return xerrors.Errorf("%q: %w", text, ErrOutOfRange)
	}
	parsed, err := U256FromBig(b)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
