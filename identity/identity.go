// Package identity holds the identities a user can link to a ledger account
// and the verification of the signatures that prove control over them.
//
// An Identity is one of three fixed-size variants: a 20-byte EVM address, a
// 32-byte public key or a 64-byte opaque handle for platforms that have no
// cryptographic proof at this layer. An IdentityWithAuth pairs an identity
// with a signature of one of four schemes. Verification never fails with an
// error: a malformed signature verifies to false just like a wrong one.
package identity

import (
	"encoding/hex"
	"fmt"
)

// Kind tells which variant an Identity holds. The values are the
// discriminant bytes of the wire encoding.
type Kind uint8

const (
	// Address20 is an EVM style account address.
	Address20 Kind = iota
	// Address32 is a 32-byte public key.
	Address32
	// Other is an opaque 64-byte handle, e.g. a padded messaging platform id.
	Other
)

// Payload sizes of the identity variants.
const (
	Address20Len = 20
	Address32Len = 32
	OtherLen     = 64
)

func (k Kind) String() string {
	switch k {
	case Address20:
		return "address20"
	case Address32:
		return "address32"
	case Other:
		return "other"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Len returns the payload length of the kind, or -1 for unknown kinds.
func (k Kind) Len() int {
	switch k {
	case Address20:
		return Address20Len
	case Address32:
		return Address32Len
	case Other:
		return OtherLen
	}
	return -1
}

// Identity is an immutable value. Two identities are equal, using ==, iff
// they have the same kind and the same bytes.
type Identity struct {
	kind    Kind
	payload [OtherLen]byte
}

// NewAddress20 returns the identity of an EVM address.
func NewAddress20(addr [Address20Len]byte) Identity {
	id := Identity{kind: Address20}
	copy(id.payload[:], addr[:])
	return id
}

// NewAddress32 returns the identity of a 32-byte public key.
func NewAddress32(pub [Address32Len]byte) Identity {
	id := Identity{kind: Address32}
	copy(id.payload[:], pub[:])
	return id
}

// NewOther returns an opaque identity.
func NewOther(handle [OtherLen]byte) Identity {
	return Identity{kind: Other, payload: handle}
}

// Kind returns the variant of the identity.
func (id Identity) Kind() Kind {
	return id.kind
}

// Bytes returns a copy of the payload, 20, 32 or 64 bytes long depending on
// the kind.
func (id Identity) Bytes() []byte {
	n := id.kind.Len()
	if n < 0 {
		return nil
	}
	return append([]byte{}, id.payload[:n]...)
}

// Address20 returns the address if the identity is an Address20.
func (id Identity) Address20() (addr [Address20Len]byte, ok bool) {
	if id.kind != Address20 {
		return addr, false
	}
	copy(addr[:], id.payload[:Address20Len])
	return addr, true
}

// Address32 returns the public key if the identity is an Address32.
func (id Identity) Address32() (pub [Address32Len]byte, ok bool) {
	if id.kind != Address32 {
		return pub, false
	}
	copy(pub[:], id.payload[:Address32Len])
	return pub, true
}

func (id Identity) String() string {
	return fmt.Sprintf("%s:%s", id.kind, hex.EncodeToString(id.Bytes()))
}

// Platform is the external platform an identity belongs to.
type Platform int

const (
	// EvmChain identities are EVM addresses.
	EvmChain Platform = iota
	// Substrate identities are 32-byte keys.
	Substrate
	// Discord handles are padded into Other identities.
	Discord
	// Telegram handles are padded into Other identities.
	Telegram
)

// PlatformOf returns the platform the identity is used on. Other identities
// are assumed to be Discord handles unless their first byte says otherwise,
// see NewHandle.
func PlatformOf(id Identity) Platform {
	switch id.kind {
	case Address20:
		return EvmChain
	case Address32:
		return Substrate
	case Other:
		if id.payload[0] == handleTelegram {
			return Telegram
		}
		return Discord
	}
	return Discord
}

const (
	handleDiscord  = 'd'
	handleTelegram = 't'
)

// NewHandle pads a messaging platform handle into an Other identity. The
// first byte tags the platform, the handle is truncated to 63 bytes.
func NewHandle(p Platform, handle string) Identity {
	var buf [OtherLen]byte
	switch p {
	case Telegram:
		buf[0] = handleTelegram
	default:
		buf[0] = handleDiscord
	}
	copy(buf[1:], handle)
	return NewOther(buf)
}

// Find returns the first identity of the list that is used on the given
// platform.
func Find(ids []Identity, p Platform) (Identity, bool) {
	for _, id := range ids {
		if PlatformOf(id) == p {
			return id, true
		}
	}
	return Identity{}, false
}
