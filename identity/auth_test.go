package identity

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	schnorrkel "github.com/ChainSafe/go-schnorrkel"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/kyber/v3/sign/eddsa"
	"go.dedis.ch/kyber/v3/util/random"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/crypto/blake2b"
)

const testAccount = "test-account-0xabcde"

func TestMain(m *testing.M) {
	log.MainTest(m)
}

func testMsg() []byte {
	return []byte(VerificationMsg(testAccount))
}

func flipped(sig []byte, i int) []byte {
	out := append([]byte{}, sig...)
	out[i] ^= 0x01
	return out
}

func TestEthHashMessage(t *testing.T) {
	for _, msg := range [][]byte{testMsg(), {}, bytes.Repeat([]byte{0xaa}, 1000)} {
		require.Equal(t, accounts.TextHash(msg), EthHashMessage(msg))
	}
}

func TestVerify_Ethereum(t *testing.T) {
	key, err := crypto.HexToECDSA("0202020202020202020202020202020202020202020202020202020202020202")
	require.NoError(t, err)
	msg := testMsg()

	sig, err := crypto.Sign(EthHashMessage(msg), key)
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	a, err := NewIdentityWithAuth(Ecdsa, NewAddress20(addr), sig)
	require.NoError(t, err)
	require.True(t, a.Verify(msg))
	require.False(t, a.Verify([]byte("wrong msg")))

	a.Signature = flipped(sig, 10)
	require.False(t, a.Verify(msg))
	a.Signature = flipped(sig, 64)
	require.False(t, a.Verify(msg))

	// Wallets that return v = 27/28 must be normalised first.
	a.Signature = append([]byte{}, sig...)
	a.Signature[64] += 27
	require.False(t, a.Verify(msg))
}

func TestVerify_EcdsaGeneric(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	msg := testMsg()

	hash := blake2b.Sum256(msg)
	sig, err := crypto.Sign(hash[:], key)
	require.NoError(t, err)
	var pub [Address32Len]byte
	copy(pub[:], crypto.CompressPubkey(&key.PublicKey)[1:])

	a, err := NewIdentityWithAuth(Ecdsa, NewAddress32(pub), sig)
	require.NoError(t, err)
	require.True(t, a.Verify(msg))
	require.False(t, a.Verify([]byte("wrong msg")))
	a.Signature = flipped(sig, 3)
	require.False(t, a.Verify(msg))

	// The Ethereum prefix is not applied to Address32 identities.
	ethSig, err := crypto.Sign(EthHashMessage(msg), key)
	require.NoError(t, err)
	a.Signature = ethSig
	require.False(t, a.Verify(msg))
}

func TestVerify_Ed25519(t *testing.T) {
	ed := eddsa.NewEdDSA(random.New())
	msg := testMsg()
	sig, err := ed.Sign(msg)
	require.NoError(t, err)
	buf, err := ed.Public.MarshalBinary()
	require.NoError(t, err)
	var pub [Address32Len]byte
	copy(pub[:], buf)

	a, err := NewIdentityWithAuth(Ed25519, NewAddress32(pub), sig)
	require.NoError(t, err)
	require.True(t, a.Verify(msg))
	require.False(t, a.Verify([]byte("wrong msg")))
	a.Signature = flipped(sig, 40)
	require.False(t, a.Verify(msg))

	// Signatures made by other RFC 8032 implementations verify as well.
	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{2}, ed25519.SeedSize))
	copy(pub[:], priv.Public().(ed25519.PublicKey))
	a, err = NewIdentityWithAuth(Ed25519, NewAddress32(pub), ed25519.Sign(priv, msg))
	require.NoError(t, err)
	require.True(t, a.Verify(msg))
}

func TestVerify_Sr25519(t *testing.T) {
	sk, pk, err := schnorrkel.GenerateKeypair()
	require.NoError(t, err)
	msg := testMsg()
	sig, err := sk.Sign(schnorrkel.NewSigningContext([]byte(SigningContext), msg))
	require.NoError(t, err)
	enc := sig.Encode()

	a, err := NewIdentityWithAuth(Sr25519, NewAddress32(pk.Encode()), enc[:])
	require.NoError(t, err)
	require.True(t, a.Verify(msg))
	require.False(t, a.Verify([]byte("wrong msg")))
	a.Signature = flipped(enc[:], 5)
	require.False(t, a.Verify(msg))

	// Another signing context does not verify.
	sig, err = sk.Sign(schnorrkel.NewSigningContext([]byte("other"), msg))
	require.NoError(t, err)
	enc = sig.Encode()
	a.Signature = enc[:]
	require.False(t, a.Verify(msg))
}

func TestVerify_Mismatch(t *testing.T) {
	msg := testMsg()
	sk, pk, err := schnorrkel.GenerateKeypair()
	require.NoError(t, err)
	sig, err := sk.Sign(schnorrkel.NewSigningContext([]byte(SigningContext), msg))
	require.NoError(t, err)
	enc := sig.Encode()
	pub := pk.Encode()

	// A valid sr25519 signature paired with an Address20 is refused.
	var addr [Address20Len]byte
	copy(addr[:], pub[:])
	a := IdentityWithAuth{Scheme: Sr25519, Identity: NewAddress20(addr), Signature: enc[:]}
	require.False(t, a.Verify(msg))

	// Same for ed25519 and Other identities.
	ed := eddsa.NewEdDSA(random.New())
	edSig, err := ed.Sign(msg)
	require.NoError(t, err)
	var handle [OtherLen]byte
	a = IdentityWithAuth{Scheme: Ed25519, Identity: NewOther(handle), Signature: edSig}
	require.False(t, a.Verify(msg))
	a = IdentityWithAuth{Scheme: Ed25519, Identity: NewAddress20(addr), Signature: edSig}
	require.False(t, a.Verify(msg))

	// Ecdsa never verifies an Other identity.
	a = IdentityWithAuth{Scheme: Ecdsa, Identity: NewOther(handle), Signature: make([]byte, EcdsaSignatureLen)}
	require.False(t, a.Verify(msg))
}

func TestVerify_Unauthenticated(t *testing.T) {
	var handle [OtherLen]byte
	copy(handle[:], "discord-handle")
	sig := make([]byte, SignatureLen)

	a := IdentityWithAuth{Scheme: Unauthenticated, Identity: NewOther(handle), Signature: sig}
	require.True(t, a.Verify(nil))
	require.True(t, a.Verify([]byte("any message")))

	a.Identity = NewAddress20([Address20Len]byte{})
	require.False(t, a.Verify(nil))
	a.Identity = NewAddress32([Address32Len]byte{})
	require.False(t, a.Verify(nil))
}

func TestVerify_Malformed(t *testing.T) {
	msg := testMsg()
	ed := eddsa.NewEdDSA(random.New())
	buf, err := ed.Public.MarshalBinary()
	require.NoError(t, err)
	var pub [Address32Len]byte
	copy(pub[:], buf)
	a := IdentityWithAuth{Scheme: Ed25519, Identity: NewAddress32(pub),
		Signature: make([]byte, SignatureLen)}
	require.False(t, a.Verify(msg))

	a = IdentityWithAuth{Scheme: Sr25519, Identity: NewAddress32([Address32Len]byte{}),
		Signature: make([]byte, SignatureLen)}
	require.False(t, a.Verify(msg))

	a = IdentityWithAuth{Scheme: Ecdsa, Identity: NewAddress32([Address32Len]byte{}),
		Signature: make([]byte, EcdsaSignatureLen)}
	require.False(t, a.Verify(msg))

	a = IdentityWithAuth{Scheme: Ecdsa, Identity: NewAddress20([Address20Len]byte{}),
		Signature: make([]byte, EcdsaSignatureLen)}
	require.False(t, a.Verify(msg))

	// Wrong lengths are refused before any cryptography.
	var handle [OtherLen]byte
	a = IdentityWithAuth{Scheme: Unauthenticated, Identity: NewOther(handle), Signature: make([]byte, 10)}
	require.False(t, a.Verify(msg))
	a = IdentityWithAuth{Scheme: Scheme(9), Identity: NewOther(handle)}
	require.False(t, a.Verify(msg))

	_, err = NewIdentityWithAuth(Ecdsa, NewAddress20([Address20Len]byte{}), make([]byte, SignatureLen))
	require.Error(t, err)
	_, err = NewIdentityWithAuth(Scheme(9), NewOther(handle), nil)
	require.Error(t, err)
}
