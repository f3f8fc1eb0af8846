package ledger

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/guildnet/gnoracle"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/kyber/v3/util/key"
	"golang.org/x/xerrors"
)

// Signer holds the operator key pair. The account of the operator is its
// marshalled public key.
type Signer struct {
	account AccountID
	pair    *key.Pair
}

// NewSigner returns the signer of the key pair.
func NewSigner(pair *key.Pair) (*Signer, error) {
	buf, err := pair.Public.MarshalBinary()
	if err != nil {
		return nil, xerrors.Errorf("public key: %w", err)
	}
	s := &Signer{pair: pair}
	if len(buf) != len(s.account) {
		return nil, xerrors.Errorf("public key of %d bytes", len(buf))
	}
	copy(s.account[:], buf)
	return s, nil
}

// GenerateSigner returns a signer with a fresh key pair.
func GenerateSigner() *Signer {
	s, err := NewSigner(key.NewKeyPair(gnoracle.Suite))
	if err != nil {
		panic(err)
	}
	return s
}

// LoadSigner returns the signer of a private key as written by
// PrivateHex.
func LoadSigner(private string) (*Signer, error) {
	buf, err := hexutil.Decode(private)
	if err != nil {
		return nil, xerrors.Errorf("private key: %w", err)
	}
	secret := gnoracle.Suite.Scalar()
	if err := secret.UnmarshalBinary(buf); err != nil {
		return nil, xerrors.Errorf("private key: %w", err)
	}
	return NewSigner(&key.Pair{
		Private: secret,
		Public:  gnoracle.Suite.Point().Mul(secret, nil),
	})
}

// PrivateHex returns the hex of the private key.
func (s *Signer) PrivateHex() (string, error) {
	buf, err := s.pair.Private.MarshalBinary()
	if err != nil {
		return "", err
	}
	return hexutil.Encode(buf), nil
}

// Account returns the operator account.
func (s *Signer) Account() AccountID {
	return s.account
}

// SignActivation returns the signed activation for the nonce.
func (s *Signer) SignActivation(nonce uint64) (*Activation, error) {
	a := &Activation{Operator: s.account, Nonce: nonce}
	sig, err := schnorr.Sign(gnoracle.Suite, s.pair.Private, a.Payload())
	if err != nil {
		return nil, xerrors.Errorf("signing activation: %w", err)
	}
	a.Signature = sig
	return a, nil
}

// SignBatch returns the signed batch of answers for the nonce.
func (s *Signer) SignBatch(nonce uint64, answers []Answer) (*Batch, error) {
	b := &Batch{Operator: s.account, Nonce: nonce, Answers: answers}
	sig, err := schnorr.Sign(gnoracle.Suite, s.pair.Private, b.Payload())
	if err != nil {
		return nil, xerrors.Errorf("signing batch: %w", err)
	}
	b.Signature = sig
	return b, nil
}

func accountPoint(a AccountID) (kyber.Point, error) {
	p := gnoracle.Suite.Point()
	if err := p.UnmarshalBinary(a[:]); err != nil {
		return nil, err
	}
	return p, nil
}

// VerifyActivation checks the signature of the activation.
func VerifyActivation(a *Activation) error {
	return verify(a.Operator, a.Payload(), a.Signature)
}

// VerifyBatch checks the signature of the batch.
func VerifyBatch(b *Batch) error {
	return verify(b.Operator, b.Payload(), b.Signature)
}

func verify(op AccountID, msg, sig []byte) error {
	pub, err := accountPoint(op)
	if err != nil {
		return xerrors.Errorf("operator key %v: %v: %w", op, err, ErrBadSignature)
	}
	if err := schnorr.Verify(gnoracle.Suite, pub, msg, sig); err != nil {
		return xerrors.Errorf("%v: %w", err, ErrBadSignature)
	}
	return nil
}
