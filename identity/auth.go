package identity

import (
	"bytes"
	"fmt"
	"strconv"

	schnorrkel "github.com/ChainSafe/go-schnorrkel"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/guildnet/gnoracle"
	"go.dedis.ch/kyber/v3/sign/eddsa"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/xerrors"
)

// EthereumHashPrefix is prepended to messages signed by Ethereum wallets.
const EthereumHashPrefix = "\x19Ethereum Signed Message:\n"

// SigningContext is the sr25519 domain separation label.
const SigningContext = "substrate"

// Scheme is the signature scheme of an IdentityWithAuth. The values are the
// discriminant bytes of the wire encoding.
type Scheme uint8

const (
	// Ecdsa is a 65-byte recoverable secp256k1 signature, 64 bytes of
	// compact signature followed by the recovery id.
	Ecdsa Scheme = iota
	// Ed25519 is a 64-byte RFC 8032 signature.
	Ed25519
	// Sr25519 is a 64-byte schnorrkel signature.
	Sr25519
	// Unauthenticated carries 64 opaque bytes and proves nothing.
	Unauthenticated
)

// Signature lengths of the schemes.
const (
	EcdsaSignatureLen = 65
	SignatureLen      = 64
)

func (s Scheme) String() string {
	switch s {
	case Ecdsa:
		return "ecdsa"
	case Ed25519:
		return "ed25519"
	case Sr25519:
		return "sr25519"
	case Unauthenticated:
		return "other"
	}
	return fmt.Sprintf("scheme(%d)", uint8(s))
}

// SignatureLen returns the length of the signature payload of the scheme,
// or -1 for unknown schemes.
func (s Scheme) SignatureLen() int {
	switch s {
	case Ecdsa:
		return EcdsaSignatureLen
	case Ed25519, Sr25519, Unauthenticated:
		return SignatureLen
	}
	return -1
}

// IdentityWithAuth is an identity together with the proof that the user
// controls it.
type IdentityWithAuth struct {
	Scheme    Scheme
	Identity  Identity
	Signature []byte
}

// ErrSignatureLength is returned when a signature does not have the length
// its scheme requires.
var ErrSignatureLength = xerrors.New("wrong signature length")

// NewIdentityWithAuth returns the pair after checking the signature length.
// Signatures are never truncated nor padded.
func NewIdentityWithAuth(s Scheme, id Identity, sig []byte) (IdentityWithAuth, error) {
	if s.SignatureLen() < 0 {
		return IdentityWithAuth{}, xerrors.Errorf("%v: %w", s, ErrInvalidEncoding)
	}
	if len(sig) != s.SignatureLen() {
		return IdentityWithAuth{}, xerrors.Errorf("%v expects %d bytes, got %d: %w",
			s, s.SignatureLen(), len(sig), ErrSignatureLength)
	}
	return IdentityWithAuth{
		Scheme:    s,
		Identity:  id,
		Signature: append([]byte{}, sig...),
	}, nil
}

// Verify returns true iff the signature proves control of the identity over
// msg. Combinations of scheme and identity kind that are not listed below
// are false:
//
//	Ecdsa           + Address20: Ethereum personal message signature
//	Ecdsa           + Address32: recovery over the blake2b-256 hash of msg
//	Ed25519         + Address32
//	Sr25519         + Address32: signed under SigningContext
//	Unauthenticated + Other: always true
func (a IdentityWithAuth) Verify(msg []byte) bool {
	if len(a.Signature) != a.Scheme.SignatureLen() {
		return false
	}
	switch a.Scheme {
	case Ecdsa:
		switch a.Identity.Kind() {
		case Address20:
			addr, _ := a.Identity.Address20()
			return verifyEthereum(addr, msg, a.Signature)
		case Address32:
			pub, _ := a.Identity.Address32()
			return verifyEcdsa(pub, msg, a.Signature)
		case Other:
			return false
		}
	case Ed25519:
		switch a.Identity.Kind() {
		case Address32:
			pub, _ := a.Identity.Address32()
			return verifyEd25519(pub, msg, a.Signature)
		case Address20, Other:
			return false
		}
	case Sr25519:
		switch a.Identity.Kind() {
		case Address32:
			pub, _ := a.Identity.Address32()
			return verifySr25519(pub, msg, a.Signature)
		case Address20, Other:
			return false
		}
	case Unauthenticated:
		switch a.Identity.Kind() {
		case Other:
			return true
		case Address20, Address32:
			return false
		}
	}
	return false
}

// EthHashMessage returns the keccak-256 hash of msg with the Ethereum
// personal message prefix and the decimal length of msg.
func EthHashMessage(msg []byte) []byte {
	prefix := EthereumHashPrefix + strconv.Itoa(len(msg))
	return crypto.Keccak256([]byte(prefix), msg)
}

// recoveryID accepts the four secp256k1 recovery ids. Wallets that add 27
// to the id have to normalise the signature first.
func recoveryID(sig []byte) bool {
	return sig[EcdsaSignatureLen-1] < 4
}

func verifyEthereum(addr [Address20Len]byte, msg, sig []byte) bool {
	if !recoveryID(sig) {
		return false
	}
	pub, err := crypto.SigToPub(EthHashMessage(msg), sig)
	if err != nil {
		return false
	}
	// FromECDSAPub starts with the 0x04 uncompressed marker.
	uncompressed := crypto.FromECDSAPub(pub)
	hash := crypto.Keccak256(uncompressed[1:])
	return bytes.Equal(hash[12:], addr[:])
}

func verifyEcdsa(pub [Address32Len]byte, msg, sig []byte) bool {
	if !recoveryID(sig) {
		return false
	}
	hash := blake2b.Sum256(msg)
	recovered, err := crypto.SigToPub(hash[:], sig)
	if err != nil {
		return false
	}
	compressed := crypto.CompressPubkey(recovered)
	return bytes.Equal(compressed[1:], pub[:])
}

func verifyEd25519(pub [Address32Len]byte, msg, sig []byte) bool {
	point := gnoracle.Suite.Point()
	if err := point.UnmarshalBinary(pub[:]); err != nil {
		return false
	}
	return eddsa.Verify(point, msg, sig) == nil
}

func verifySr25519(pub [Address32Len]byte, msg, sig []byte) bool {
	key := &schnorrkel.PublicKey{}
	if err := key.Decode(pub); err != nil {
		return false
	}
	var buf [SignatureLen]byte
	copy(buf[:], sig)
	s := &schnorrkel.Signature{}
	if err := s.Decode(buf); err != nil {
		return false
	}
	ok, err := key.Verify(s, schnorrkel.NewSigningContext([]byte(SigningContext), msg))
	return err == nil && ok
}

// VerificationMsg returns the message a user signs with each identity to
// link it to the account.
func VerificationMsg(account string) string {
	return "Guild Network registration id: " + account
}
