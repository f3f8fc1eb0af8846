package requirement

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/guildnet/gnoracle/allowlist"
	"github.com/guildnet/gnoracle/evm"
	"github.com/guildnet/gnoracle/identity"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

func TestMain(m *testing.M) {
	log.MainTest(m)
}

var (
	user  = common.HexToAddress("0xE43878Ce78934fe8007748FF481f03B8Ee3b97DE")
	token = common.HexToAddress("0xde4e179cc1d3b298216b96893767b9b01a6bc413")
	nft   = common.HexToAddress("0x535053a1cc874c9be92180e599c2529adfbd49f0")
)

func candidate() Candidate {
	return NewCandidate([]identity.Identity{
		identity.NewHandle(identity.Discord, "user"),
		identity.NewAddress20(user),
	})
}

func native(rel Relation, threshold uint64) Requirement {
	return Requirement{Kind: Native, Chain: evm.Ethereum, Relation: rel, Threshold: evm.NewU256(threshold)}
}

func newStatic() *evm.Static {
	s := evm.NewStatic()
	s.SetBalance(evm.Ethereum, user, big.NewInt(1000))
	s.SetTokenBalance(evm.Bsc, token, user, big.NewInt(1_000_000))
	s.SetNFTBalance(evm.Polygon, nft, big.NewInt(7), user, big.NewInt(1))
	return s
}

func TestRelation_Holds(t *testing.T) {
	ten := evm.NewU256(10)
	twenty := evm.NewU256(20)
	for _, c := range []struct {
		rel  Relation
		bal  int64
		want bool
	}{
		{EqualTo, 10, true}, {EqualTo, 11, false},
		{GreaterThan, 10, false}, {GreaterThan, 11, true},
		{GreaterOrEqualTo, 10, true}, {GreaterOrEqualTo, 9, false},
		{LessThan, 10, false}, {LessThan, 9, true},
		{LessOrEqualTo, 10, true}, {LessOrEqualTo, 11, false},
		{Between, 9, false}, {Between, 10, true}, {Between, 20, true}, {Between, 21, false},
		{Relation(99), 10, false},
	} {
		require.Equal(t, c.want, c.rel.Holds(big.NewInt(c.bal), ten, twenty), "%v %d", c.rel, c.bal)
	}
}

func TestEvaluate_Balances(t *testing.T) {
	e := NewEvaluator(newStatic())
	set := &Set{
		Logic: "0 AND (1 OR 2)",
		Requirements: []Requirement{
			native(GreaterOrEqualTo, 1000),
			{Kind: Fungible, Chain: evm.Bsc, Token: token, Relation: GreaterThan, Threshold: evm.NewU256(2_000_000)},
			{Kind: NonFungible, Chain: evm.Polygon, Token: nft, TokenID: evm.NewU256(7),
				Relation: EqualTo, Threshold: evm.NewU256(1)},
		},
	}
	ok, err := e.Evaluate(context.Background(), set, candidate())
	require.NoError(t, err)
	require.True(t, ok)

	set.Logic = "0 AND 1"
	ok, err = e.Evaluate(context.Background(), set, candidate())
	require.NoError(t, err)
	require.False(t, ok)

	set.Logic = "0 OR 1"
	ok, err = e.Evaluate(context.Background(), set, candidate())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEvaluate_OnlyReferencedLeaves(t *testing.T) {
	s := newStatic()
	e := NewEvaluator(s)
	set := &Set{
		Logic:        "1",
		Requirements: []Requirement{native(EqualTo, 1), native(EqualTo, 1000), native(EqualTo, 3)},
	}
	ok, err := e.Evaluate(context.Background(), set, candidate())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, s.Calls())
}

func TestEvaluate_Errors(t *testing.T) {
	s := newStatic()
	e := NewEvaluator(s)
	set := &Set{Logic: "0 AND", Requirements: []Requirement{native(EqualTo, 1000)}}
	_, err := e.Evaluate(context.Background(), set, candidate())
	require.True(t, xerrors.Is(err, ErrMalformedLogic))
	require.Equal(t, 0, s.Calls())

	// A leaf without requirement is an evaluation failure, not false.
	set.Logic = "0 OR 2"
	_, err = e.Evaluate(context.Background(), set, candidate())
	require.True(t, xerrors.Is(err, ErrEvaluation))

	// A failed lookup fails the evaluation even if the other branch holds.
	set.Logic = "0 OR 1"
	set.Requirements = append(set.Requirements, native(EqualTo, 1))
	s.Err = xerrors.New("rpc down")
	_, err = e.Evaluate(context.Background(), set, candidate())
	require.True(t, xerrors.Is(err, ErrCheckFailed))

	// No evm address.
	s.Err = nil
	_, err = e.Evaluate(context.Background(), set, NewCandidate(nil))
	require.True(t, xerrors.Is(err, ErrCheckFailed))
	require.True(t, set.NeedsAddress())
	require.False(t, set.NeedsAllowlist())
}

func allowlistSet(t *testing.T, members []allowlist.Leaf) *Set {
	c, err := allowlist.NewCommitment(members)
	require.NoError(t, err)
	return &Set{
		Logic:        "0",
		Requirements: []Requirement{{Kind: Allowlist, Commitment: c}},
		Allowlist:    members,
	}
}

func TestEvaluate_Allowlist(t *testing.T) {
	var members []allowlist.Leaf
	for i := 0; i < 5; i++ {
		var a [identity.Address20Len]byte
		a[0] = byte(i + 1)
		members = append(members, allowlist.Leaf{identity.NewAddress20(a)})
	}
	members = append(members, allowlist.Leaf{
		identity.NewHandle(identity.Telegram, "other"),
		identity.NewHandle(identity.Discord, "user"),
	})
	set := allowlistSet(t, members)
	s := newStatic()
	e := NewEvaluator(s)

	// Matched through the discord handle, no balance lookup and no address
	// needed.
	require.True(t, set.NeedsAllowlist())
	require.False(t, set.NeedsAddress())
	ok, err := e.Evaluate(context.Background(), set, candidate())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0, s.Calls())

	ok, err = e.Evaluate(context.Background(), set, NewCandidate([]identity.Identity{
		identity.NewHandle(identity.Discord, "stranger"),
	}))
	require.NoError(t, err)
	require.False(t, ok)

	// A list that does not match the commitment cannot be used.
	set.Allowlist = members[:4]
	_, err = e.Evaluate(context.Background(), set, candidate())
	require.True(t, xerrors.Is(err, ErrCheckFailed))
	set.Allowlist = nil
	_, err = e.Evaluate(context.Background(), set, candidate())
	require.True(t, xerrors.Is(err, ErrCheckFailed))
}

func TestNewCandidate(t *testing.T) {
	c := candidate()
	require.NotNil(t, c.Address)
	require.Equal(t, user, *c.Address)
	require.Len(t, c.Identities, 2)
	require.Nil(t, NewCandidate([]identity.Identity{identity.NewHandle(identity.Discord, "x")}).Address)
}
