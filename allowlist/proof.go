package allowlist

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/guildnet/gnoracle/identity"
	"golang.org/x/xerrors"
)

// MarshalBinary encodes the proof as the path length (u32 little endian),
// the path hashes, the leaf index (u64 little endian) and the id index.
func (p *Proof) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 4, 4+len(p.Path)*common.HashLength+9)
	binary.LittleEndian.PutUint32(buf, uint32(len(p.Path)))
	for _, h := range p.Path {
		buf = append(buf, h[:]...)
	}
	buf = binary.LittleEndian.AppendUint64(buf, p.LeafIndex)
	return append(buf, p.IDIndex), nil
}

// UnmarshalBinary decodes exactly one proof.
func (p *Proof) UnmarshalBinary(buf []byte) error {
	if len(buf) < 4 {
		return xerrors.Errorf("proof path length: %w", identity.ErrInvalidEncoding)
	}
	n := uint64(binary.LittleEndian.Uint32(buf))
	buf = buf[4:]
	if uint64(len(buf)) != n*common.HashLength+9 {
		return xerrors.Errorf("proof of %d hashes in %d bytes: %w", n, len(buf),
			identity.ErrInvalidEncoding)
	}
	path := make([]common.Hash, n)
	for i := range path {
		copy(path[i][:], buf[:common.HashLength])
		buf = buf[common.HashLength:]
	}
	p.Path = path
	p.LeafIndex = binary.LittleEndian.Uint64(buf)
	p.IDIndex = buf[8]
	return nil
}

// MarshalText returns the 0x-prefixed hex of the binary encoding.
func (p *Proof) MarshalText() ([]byte, error) {
	buf, err := p.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return []byte(hexutil.Encode(buf)), nil
}

// UnmarshalText parses the output of MarshalText.
func (p *Proof) UnmarshalText(text []byte) error {
	buf, err := hexutil.Decode(string(text))
	if err != nil {
		return xerrors.Errorf("hex: %w", err)
	}
	return p.UnmarshalBinary(buf)
}
