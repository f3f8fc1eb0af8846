package ledger

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/guildnet/gnoracle/identity"
	"golang.org/x/xerrors"
)

// Request data tags of the wire encoding.
const (
	tagRegister byte = iota
	tagReqCheck
)

// Domain separation of the signed payloads.
const (
	activationDomain = "gnoracle/activate"
	batchDomain      = "gnoracle/answers"
)

// MarshalBinary encodes the request as requester || tag || data.
func (r *Request) MarshalBinary() ([]byte, error) {
	buf := append([]byte{}, r.Requester[:]...)
	switch d := r.Data.(type) {
	case *Register:
		ids, err := identity.EncodeIdentitiesWithAuth(d.Identities)
		if err != nil {
			return nil, xerrors.Errorf("register: %w", err)
		}
		buf = append(buf, tagRegister)
		return append(buf, ids...), nil
	case *ReqCheck:
		buf = append(buf, tagReqCheck)
		buf = append(buf, d.Account[:]...)
		buf = append(buf, d.Guild[:]...)
		return append(buf, d.Role[:]...), nil
	}
	return nil, xerrors.Errorf("request data %T: %w", r.Data, identity.ErrInvalidEncoding)
}

// UnmarshalBinary decodes exactly one request.
func (r *Request) UnmarshalBinary(buf []byte) error {
	if len(buf) < len(r.Requester)+1 {
		return xerrors.Errorf("short request: %w", identity.ErrInvalidEncoding)
	}
	var dec Request
	copy(dec.Requester[:], buf)
	buf = buf[len(dec.Requester):]
	tag, buf := buf[0], buf[1:]
	switch tag {
	case tagRegister:
		ids, rest, err := identity.DecodeIdentitiesWithAuth(buf)
		if err != nil {
			return xerrors.Errorf("register: %w", err)
		}
		if len(rest) != 0 {
			return xerrors.Errorf("%d trailing bytes: %w", len(rest), identity.ErrInvalidEncoding)
		}
		dec.Data = &Register{Identities: ids}
	case tagReqCheck:
		if len(buf) != 3*32 {
			return xerrors.Errorf("req check of %d bytes: %w", len(buf), identity.ErrInvalidEncoding)
		}
		d := &ReqCheck{}
		copy(d.Account[:], buf[0:32])
		copy(d.Guild[:], buf[32:64])
		copy(d.Role[:], buf[64:96])
		dec.Data = d
	default:
		return xerrors.Errorf("request tag %d: %w", tag, identity.ErrInvalidEncoding)
	}
	*r = dec
	return nil
}

// MarshalText returns the hex of the binary encoding.
func (r *Request) MarshalText() ([]byte, error) {
	buf, err := r.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return []byte(hexutil.Encode(buf)), nil
}

// UnmarshalText parses the output of MarshalText.
func (r *Request) UnmarshalText(text []byte) error {
	buf, err := hexutil.Decode(string(text))
	if err != nil {
		return xerrors.Errorf("request: %w", err)
	}
	return r.UnmarshalBinary(buf)
}

// Payload returns the bytes the operator signs to activate.
func (a *Activation) Payload() []byte {
	buf := append([]byte(activationDomain), a.Operator[:]...)
	return binary.LittleEndian.AppendUint64(buf, a.Nonce)
}

// Payload returns the bytes the operator signs to submit the batch.
func (b *Batch) Payload() []byte {
	buf := append([]byte(batchDomain), b.Operator[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, b.Nonce)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b.Answers)))
	for _, a := range b.Answers {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(a.RequestID))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(a.Result)))
		buf = append(buf, a.Result...)
	}
	return buf
}
