package ledger

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/guildnet/gnoracle/identity"
	"golang.org/x/xerrors"
)

// NameLen is the size of guild and role names.
const NameLen = 32

// AccountID is the public key of a ledger account.
type AccountID [32]byte

func (a AccountID) String() string {
	return hexutil.Encode(a[:])
}

// MarshalText returns the 0x-prefixed hex of the account.
func (a AccountID) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses the output of MarshalText.
func (a *AccountID) UnmarshalText(text []byte) error {
	return unmarshalFixed("account", text, a[:])
}

// RequestID identifies an oracle request.
type RequestID uint64

// GuildName is a zero padded guild name.
type GuildName [NameLen]byte

// RoleName is a zero padded role name.
type RoleName [NameLen]byte

// ErrName is returned for empty names and names longer than NameLen.
var ErrName = xerrors.New("invalid name length")

// PadName pads name with zeroes to NameLen bytes.
func PadName(name string) ([NameLen]byte, error) {
	var buf [NameLen]byte
	if len(name) == 0 || len(name) > NameLen {
		return buf, xerrors.Errorf("%q: %w", name, ErrName)
	}
	copy(buf[:], name)
	return buf, nil
}

func trimName(b []byte) string {
	n := len(b)
	for n > 0 && b[n-1] == 0 {
		n--
	}
	return string(b[:n])
}

func (g GuildName) String() string { return trimName(g[:]) }

func (r RoleName) String() string { return trimName(r[:]) }

// MarshalText returns the hex of the padded name.
func (g GuildName) MarshalText() ([]byte, error) { return []byte(hexutil.Encode(g[:])), nil }

// UnmarshalText parses the output of MarshalText.
func (g *GuildName) UnmarshalText(text []byte) error { return unmarshalFixed("guild", text, g[:]) }

// MarshalText returns the hex of the padded name.
func (r RoleName) MarshalText() ([]byte, error) { return []byte(hexutil.Encode(r[:])), nil }

// UnmarshalText parses the output of MarshalText.
func (r *RoleName) UnmarshalText(text []byte) error { return unmarshalFixed("role", text, r[:]) }

func unmarshalFixed(what string, text []byte, out []byte) error {
	buf, err := hexutil.Decode(string(text))
	if err != nil {
		return xerrors.Errorf("%s: %w", what, err)
	}
	if len(buf) != len(out) {
		return xerrors.Errorf("%s of %d bytes: %w", what, len(buf), identity.ErrInvalidEncoding)
	}
	copy(out, buf)
	return nil
}

// Callback is the ledger call the answer of a request is delivered to.
type Callback struct {
	Module string
	Call   string
}

// GuildCallback is the only callback the oracle answers.
var GuildCallback = Callback{Module: "Guild", Call: "callback"}

// OracleRequest is the event the ledger emits when a request is assigned
// to an operator.
type OracleRequest struct {
	RequestID RequestID
	Operator  AccountID
	Callback  Callback
	Fee       uint64
}

// Block holds the oracle events of a finalized block.
type Block struct {
	Height uint64
	Events []OracleRequest
}

// Request is the payload of an oracle request.
type Request struct {
	Requester AccountID
	Data      RequestData
}

// RequestData is either *Register or *ReqCheck.
type RequestData interface {
	requestData()
}

// Register asks to link the identities to the requester once every
// signature is valid.
type Register struct {
	Identities []identity.IdentityWithAuth
}

// ReqCheck asks whether Account satisfies the requirements of the role.
type ReqCheck struct {
	Account AccountID
	Guild   GuildName
	Role    RoleName
}

func (*Register) requestData() {}

func (*ReqCheck) requestData() {}

// Answer is the result for one request, a single byte 0 or 1.
type Answer struct {
	RequestID RequestID
	Result    []byte
}

// Result encodes a boolean verdict.
func Result(ok bool) []byte {
	if ok {
		return []byte{1}
	}
	return []byte{0}
}

// OperatorStatus is the registry entry of an operator.
type OperatorStatus struct {
	Registered bool
	Active     bool
}

// Activation turns a registered operator active.
type Activation struct {
	Operator  AccountID
	Nonce     uint64
	Signature []byte
}

// Batch is a signed group of answers submitted in one transaction.
type Batch struct {
	Operator  AccountID
	Nonce     uint64
	Answers   []Answer
	Signature []byte
}
