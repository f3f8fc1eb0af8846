package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/guildnet/gnoracle/identity"
	"github.com/guildnet/gnoracle/requirement"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func activeOperator(t *testing.T, l *Local) *Signer {
	s := GenerateSigner()
	l.RegisterOperator(s.Account())
	a, err := s.SignActivation(0)
	require.NoError(t, err)
	require.NoError(t, l.ActivateOperator(context.Background(), a))
	return s
}

func TestSigner(t *testing.T) {
	s := GenerateSigner()
	b, err := s.SignBatch(4, []Answer{{RequestID: 1, Result: Result(true)}})
	require.NoError(t, err)
	require.NoError(t, VerifyBatch(b))

	b.Answers[0].Result = Result(false)
	require.True(t, xerrors.Is(VerifyBatch(b), ErrBadSignature))

	priv, err := s.PrivateHex()
	require.NoError(t, err)
	loaded, err := LoadSigner(priv)
	require.NoError(t, err)
	require.Equal(t, s.Account(), loaded.Account())

	a, err := loaded.SignActivation(1)
	require.NoError(t, err)
	require.NoError(t, VerifyActivation(a))
	a.Operator = GenerateSigner().Account()
	require.Error(t, VerifyActivation(a))

	_, err = LoadSigner("0xzz")
	require.Error(t, err)
}

func TestLocal_Activate(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()
	s := GenerateSigner()

	st, err := l.OperatorStatus(ctx, s.Account())
	require.NoError(t, err)
	require.False(t, st.Registered)

	a, err := s.SignActivation(0)
	require.NoError(t, err)
	require.True(t, xerrors.Is(l.ActivateOperator(ctx, a), ErrNotRegistered))

	l.RegisterOperator(s.Account())
	a.Nonce = 1
	require.True(t, xerrors.Is(l.ActivateOperator(ctx, a), ErrBadNonce))
	a.Nonce = 0
	a.Signature[0] ^= 1
	require.True(t, xerrors.Is(l.ActivateOperator(ctx, a), ErrBadSignature))
	// Signed by another key.
	other, err := GenerateSigner().SignActivation(0)
	require.NoError(t, err)
	other.Operator = s.Account()
	require.True(t, xerrors.Is(l.ActivateOperator(ctx, other), ErrBadSignature))
	// Refused transactions do not consume the nonce.
	n, err := l.Nonce(ctx, s.Account())
	require.NoError(t, err)
	require.Equal(t, uint64(0), n)

	a, err = s.SignActivation(0)
	require.NoError(t, err)
	require.NoError(t, l.ActivateOperator(ctx, a))
	st, err = l.OperatorStatus(ctx, s.Account())
	require.NoError(t, err)
	require.Equal(t, OperatorStatus{Registered: true, Active: true}, st)
	n, err = l.Nonce(ctx, s.Account())
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)
}

func TestLocal_Answers(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()
	s := activeOperator(t, l)
	other := activeOperator(t, l)

	var handle [identity.OtherLen]byte
	reg := &Register{Identities: []identity.IdentityWithAuth{{
		Scheme: identity.Unauthenticated, Identity: identity.NewOther(handle),
		Signature: make([]byte, identity.SignatureLen)}}}
	user := AccountID{42}
	mine := l.SubmitTo(user, reg, s.Account(), GuildCallback)
	theirs := l.SubmitTo(user, reg, other.Account(), GuildCallback)

	req, err := l.Request(ctx, mine)
	require.NoError(t, err)
	require.Equal(t, user, req.Requester)

	b, err := s.SignBatch(1, []Answer{
		{RequestID: mine, Result: Result(true)},
		{RequestID: theirs, Result: Result(true)},
		{RequestID: 99, Result: Result(true)},
	})
	require.NoError(t, err)
	err = l.SubmitAnswers(ctx, b)
	var be *BatchError
	require.True(t, xerrors.As(err, &be))
	require.Equal(t, []Rejection{
		{RequestID: theirs, Code: Code(ErrWrongOperator)},
		{RequestID: 99, Code: Code(ErrUnknownRequest)},
	}, be.Rejected)
	require.True(t, xerrors.Is(be.Rejected[0].Err(), ErrWrongOperator))

	// The accepted answer linked the identity and closed the request.
	ids, err := l.Identities(ctx, user)
	require.NoError(t, err)
	require.Equal(t, []identity.Identity{identity.NewOther(handle)}, ids)
	res, ok := l.Answer(mine)
	require.True(t, ok)
	require.Equal(t, Result(true), res)

	// At most once.
	b, err = s.SignBatch(2, []Answer{{RequestID: mine, Result: Result(false)}})
	require.NoError(t, err)
	require.True(t, xerrors.As(l.SubmitAnswers(ctx, b), &be))
	require.Equal(t, Code(ErrUnknownRequest), be.Rejected[0].Code)

	// Replayed nonce.
	require.True(t, xerrors.Is(l.SubmitAnswers(ctx, b), ErrBadNonce))
}

func TestLocal_Expiry(t *testing.T) {
	l := NewLocal()
	l.ValidityPeriod = 2
	ctx := context.Background()
	s := activeOperator(t, l)

	id, err := l.Submit(AccountID{1}, &ReqCheck{Account: AccountID{1}})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		l.Finalize()
	}
	_, err = l.Request(ctx, id)
	require.NoError(t, err)
	l.Finalize()
	_, err = l.Request(ctx, id)
	require.True(t, xerrors.Is(err, ErrRequestExpired))

	b, err := s.SignBatch(1, []Answer{{RequestID: id, Result: Result(true)}})
	require.NoError(t, err)
	var be *BatchError
	require.True(t, xerrors.As(l.SubmitAnswers(ctx, b), &be))
	require.True(t, xerrors.Is(be.Rejected[0].Err(), ErrRequestExpired))
}

func TestLocal_Feed(t *testing.T) {
	l := NewLocal()
	s := activeOperator(t, l)
	blocks := make(chan *Block, 1)
	sub, err := l.SubscribeFinalized(context.Background(), blocks)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	id, err := l.Submit(AccountID{1}, &ReqCheck{Account: AccountID{1}})
	require.NoError(t, err)
	l.Finalize()
	select {
	case b := <-blocks:
		require.Equal(t, uint64(1), b.Height)
		require.Equal(t, []OracleRequest{{RequestID: id, Operator: s.Account(),
			Callback: GuildCallback, Fee: 1}}, b.Events)
	case <-time.After(time.Second):
		t.Fatal("no block")
	}
}

func TestLocal_Submit(t *testing.T) {
	l := NewLocal()
	_, err := l.Submit(AccountID{1}, &ReqCheck{})
	require.True(t, xerrors.Is(err, ErrOperatorInactive))

	a := activeOperator(t, l)
	b := activeOperator(t, l)
	seen := make(map[AccountID]int)
	for i := 0; i < 4; i++ {
		_, err := l.Submit(AccountID{1}, &ReqCheck{})
		require.NoError(t, err)
	}
	for _, ev := range l.Finalize().Events {
		seen[ev.Operator]++
	}
	require.Equal(t, 2, seen[a.Account()])
	require.Equal(t, 2, seen[b.Account()])
}

func TestLocal_Requirements(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()
	g, r := testNames(t)
	_, err := l.Requirements(ctx, g, r)
	require.True(t, xerrors.Is(err, ErrNotFound))
	_, err = l.Allowlist(ctx, g, r)
	require.True(t, xerrors.Is(err, ErrNotFound))

	l.SetRequirements(g, r, &requirement.Set{Logic: "0",
		Requirements: []requirement.Requirement{{Kind: requirement.Native}}})
	set, err := l.Requirements(ctx, g, r)
	require.NoError(t, err)
	require.Equal(t, "0", set.Logic)
	require.Len(t, set.Requirements, 1)
}
