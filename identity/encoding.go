package identity

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/xerrors"
)

// ErrInvalidEncoding is returned for unknown discriminants, short buffers
// and trailing bytes.
var ErrInvalidEncoding = xerrors.New("invalid encoding")

// The ledger hashes and compares these encodings, so they are fixed:
//
//	Identity:         kind byte || payload (20, 32 or 64 bytes)
//	IdentityWithAuth: scheme byte || Identity || signature (65 or 64 bytes)
//	list:             uint32 little endian count || items

// MarshalBinary returns the wire encoding of the identity.
func (id Identity) MarshalBinary() ([]byte, error) {
	if id.kind.Len() < 0 {
		return nil, xerrors.Errorf("%v: %w", id.kind, ErrInvalidEncoding)
	}
	return id.AppendBinary(nil), nil
}

// AppendBinary appends the wire encoding of the identity to buf.
func (id Identity) AppendBinary(buf []byte) []byte {
	buf = append(buf, byte(id.kind))
	return append(buf, id.payload[:id.kind.Len()]...)
}

// UnmarshalBinary decodes exactly one identity.
func (id *Identity) UnmarshalBinary(buf []byte) error {
	dec, rest, err := DecodeIdentity(buf)
	if err != nil {
		return err
	}
	if len(rest) != 0 {
		return xerrors.Errorf("%d trailing bytes: %w", len(rest), ErrInvalidEncoding)
	}
	*id = dec
	return nil
}

// MarshalText returns the 0x-prefixed hex of the wire encoding.
func (id Identity) MarshalText() ([]byte, error) {
	buf, err := id.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return []byte(hexutil.Encode(buf)), nil
}

// UnmarshalText parses the output of MarshalText.
func (id *Identity) UnmarshalText(text []byte) error {
	buf, err := hexutil.Decode(string(text))
	if err != nil {
		return xerrors.Errorf("hex: %w", err)
	}
	return id.UnmarshalBinary(buf)
}

// DecodeIdentity decodes one identity from the start of buf and returns the
// remaining bytes.
func DecodeIdentity(buf []byte) (Identity, []byte, error) {
	if len(buf) < 1 {
		return Identity{}, nil, xerrors.Errorf("empty identity: %w", ErrInvalidEncoding)
	}
	kind := Kind(buf[0])
	n := kind.Len()
	if n < 0 {
		return Identity{}, nil, xerrors.Errorf("unknown identity %v: %w", kind, ErrInvalidEncoding)
	}
	if len(buf) < 1+n {
		return Identity{}, nil, xerrors.Errorf("%v needs %d bytes, got %d: %w",
			kind, n, len(buf)-1, ErrInvalidEncoding)
	}
	id := Identity{kind: kind}
	copy(id.payload[:], buf[1:1+n])
	return id, buf[1+n:], nil
}

// MarshalBinary returns the wire encoding of the pair.
func (a IdentityWithAuth) MarshalBinary() ([]byte, error) {
	if len(a.Signature) != a.Scheme.SignatureLen() {
		return nil, xerrors.Errorf("%v: %w", a.Scheme, ErrSignatureLength)
	}
	if a.Identity.kind.Len() < 0 {
		return nil, xerrors.Errorf("%v: %w", a.Identity.kind, ErrInvalidEncoding)
	}
	buf := []byte{byte(a.Scheme)}
	buf = a.Identity.AppendBinary(buf)
	return append(buf, a.Signature...), nil
}

// UnmarshalBinary decodes exactly one pair.
func (a *IdentityWithAuth) UnmarshalBinary(buf []byte) error {
	dec, rest, err := DecodeIdentityWithAuth(buf)
	if err != nil {
		return err
	}
	if len(rest) != 0 {
		return xerrors.Errorf("%d trailing bytes: %w", len(rest), ErrInvalidEncoding)
	}
	*a = dec
	return nil
}

// DecodeIdentityWithAuth decodes one pair from the start of buf and returns
// the remaining bytes.
func DecodeIdentityWithAuth(buf []byte) (IdentityWithAuth, []byte, error) {
	if len(buf) < 1 {
		return IdentityWithAuth{}, nil, xerrors.Errorf("empty identity with auth: %w", ErrInvalidEncoding)
	}
	scheme := Scheme(buf[0])
	n := scheme.SignatureLen()
	if n < 0 {
		return IdentityWithAuth{}, nil, xerrors.Errorf("unknown %v: %w", scheme, ErrInvalidEncoding)
	}
	id, rest, err := DecodeIdentity(buf[1:])
	if err != nil {
		return IdentityWithAuth{}, nil, err
	}
	if len(rest) < n {
		return IdentityWithAuth{}, nil, xerrors.Errorf("%v signature needs %d bytes, got %d: %w",
			scheme, n, len(rest), ErrInvalidEncoding)
	}
	return IdentityWithAuth{
		Scheme:    scheme,
		Identity:  id,
		Signature: append([]byte{}, rest[:n]...),
	}, rest[n:], nil
}

// EncodeIdentities returns the list encoding of ids.
func EncodeIdentities(ids []Identity) ([]byte, error) {
	buf := make([]byte, 4, 4+len(ids)*(1+OtherLen))
	binary.LittleEndian.PutUint32(buf, uint32(len(ids)))
	for _, id := range ids {
		if id.kind.Len() < 0 {
			return nil, xerrors.Errorf("%v: %w", id.kind, ErrInvalidEncoding)
		}
		buf = id.AppendBinary(buf)
	}
	return buf, nil
}

// DecodeIdentities decodes a list of identities and returns the remaining
// bytes.
func DecodeIdentities(buf []byte) ([]Identity, []byte, error) {
	count, rest, err := decodeCount(buf, 1+Address20Len)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]Identity, 0, count)
	for i := 0; i < count; i++ {
		var id Identity
		id, rest, err = DecodeIdentity(rest)
		if err != nil {
			return nil, nil, xerrors.Errorf("identity %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	return ids, rest, nil
}

// EncodeIdentitiesWithAuth returns the list encoding of the pairs.
func EncodeIdentitiesWithAuth(list []IdentityWithAuth) ([]byte, error) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(len(list)))
	for i, a := range list {
		enc, err := a.MarshalBinary()
		if err != nil {
			return nil, xerrors.Errorf("identity %d: %w", i, err)
		}
		buf = append(buf, enc...)
	}
	return buf, nil
}

// DecodeIdentitiesWithAuth decodes a list of pairs and returns the
// remaining bytes.
func DecodeIdentitiesWithAuth(buf []byte) ([]IdentityWithAuth, []byte, error) {
	count, rest, err := decodeCount(buf, 2+Address20Len+SignatureLen)
	if err != nil {
		return nil, nil, err
	}
	list := make([]IdentityWithAuth, 0, count)
	for i := 0; i < count; i++ {
		var a IdentityWithAuth
		a, rest, err = DecodeIdentityWithAuth(rest)
		if err != nil {
			return nil, nil, xerrors.Errorf("identity %d: %w", i, err)
		}
		list = append(list, a)
	}
	return list, rest, nil
}

// decodeCount reads the list length and refuses counts that cannot fit in
// the buffer given the minimal item size.
func decodeCount(buf []byte, minItem int) (int, []byte, error) {
	if len(buf) < 4 {
		return 0, nil, xerrors.Errorf("list length: %w", ErrInvalidEncoding)
	}
	count := binary.LittleEndian.Uint32(buf)
	rest := buf[4:]
	if uint64(count)*uint64(minItem) > uint64(len(rest)) {
		return 0, nil, xerrors.Errorf("list of %d items in %d bytes: %w",
			count, len(rest), ErrInvalidEncoding)
	}
	return int(count), rest, nil
}
