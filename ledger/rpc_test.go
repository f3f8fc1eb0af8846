package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/guildnet/gnoracle/allowlist"
	"github.com/guildnet/gnoracle/evm"
	"github.com/guildnet/gnoracle/identity"
	"github.com/guildnet/gnoracle/requirement"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func newRPC(t *testing.T, l *Local) *RPCClient {
	srv, err := NewRPCServer(l)
	require.NoError(t, err)
	c := NewRPCClient(rpc.DialInProc(srv))
	t.Cleanup(func() {
		c.Close()
		srv.Stop()
	})
	return c
}

func TestRPC_Queries(t *testing.T) {
	l := NewLocal()
	c := newRPC(t, l)
	ctx := context.Background()
	s := GenerateSigner()
	l.RegisterOperator(s.Account())

	st, err := c.OperatorStatus(ctx, s.Account())
	require.NoError(t, err)
	require.Equal(t, OperatorStatus{Registered: true}, st)

	g, r := testNames(t)
	members := []allowlist.Leaf{
		{identity.NewHandle(identity.Discord, "a")},
		{identity.NewHandle(identity.Telegram, "b"), identity.NewAddress20(common.Address{7})},
	}
	commitment, err := allowlist.NewCommitment(members)
	require.NoError(t, err)
	set := &requirement.Set{
		Logic: "0 AND NOT 1",
		Requirements: []requirement.Requirement{
			{Kind: requirement.Fungible, Chain: evm.Polygon, Token: common.Address{1},
				Relation: requirement.Between, Threshold: evm.NewU256(5), Upper: evm.NewU256(500)},
			{Kind: requirement.Allowlist, Commitment: commitment},
		},
		Allowlist: members,
	}
	l.SetRequirements(g, r, set)

	got, err := c.Requirements(ctx, g, r)
	require.NoError(t, err)
	require.Equal(t, set.Logic, got.Logic)
	require.Equal(t, set.Requirements, got.Requirements)
	list, err := c.Allowlist(ctx, g, r)
	require.NoError(t, err)
	require.Equal(t, members, list)

	_, err = c.Requirements(ctx, g, RoleName{})
	require.True(t, xerrors.Is(err, ErrNotFound))

	l.LinkIdentities(AccountID{3}, identity.NewAddress20(common.Address{9}))
	ids, err := c.Identities(ctx, AccountID{3})
	require.NoError(t, err)
	require.Equal(t, []identity.Identity{identity.NewAddress20(common.Address{9})}, ids)

	id := l.SubmitTo(AccountID{3}, &ReqCheck{Account: AccountID{3}, Guild: g, Role: r}, s.Account(), GuildCallback)
	req, err := c.Request(ctx, id)
	require.NoError(t, err)
	require.Equal(t, &ReqCheck{Account: AccountID{3}, Guild: g, Role: r}, req.Data)
	_, err = c.Request(ctx, id+1)
	require.True(t, xerrors.Is(err, ErrUnknownRequest))
}

func TestRPC_Transactions(t *testing.T) {
	l := NewLocal()
	c := newRPC(t, l)
	ctx := context.Background()
	s := GenerateSigner()
	l.RegisterOperator(s.Account())

	a, err := s.SignActivation(0)
	require.NoError(t, err)
	require.NoError(t, c.ActivateOperator(ctx, a))
	require.True(t, xerrors.Is(c.ActivateOperator(ctx, a), ErrBadNonce))

	n, err := c.Nonce(ctx, s.Account())
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)

	id := l.SubmitTo(AccountID{3}, &ReqCheck{Account: AccountID{3}}, s.Account(), GuildCallback)
	b, err := s.SignBatch(n, []Answer{{RequestID: id, Result: Result(true)}, {RequestID: 77, Result: Result(true)}})
	require.NoError(t, err)
	err = c.SubmitAnswers(ctx, b)
	var be *BatchError
	require.True(t, xerrors.As(err, &be))
	require.Equal(t, []Rejection{{RequestID: 77, Code: Code(ErrUnknownRequest)}}, be.Rejected)
	require.True(t, l.HasRole(AccountID{3}, GuildName{}, RoleName{}))

	b, err = s.SignBatch(n+1, nil)
	require.NoError(t, err)
	require.NoError(t, c.SubmitAnswers(ctx, b))
}

func TestRPC_Subscription(t *testing.T) {
	l := NewLocal()
	c := newRPC(t, l)
	s := activeOperator(t, l)

	blocks := make(chan *Block)
	sub, err := c.SubscribeFinalized(context.Background(), blocks)
	require.NoError(t, err)

	id, err := l.Submit(AccountID{1}, &ReqCheck{})
	require.NoError(t, err)
	go l.Finalize()
	select {
	case b := <-blocks:
		require.Equal(t, uint64(1), b.Height)
		require.Len(t, b.Events, 1)
		require.Equal(t, id, b.Events[0].RequestID)
		require.Equal(t, s.Account(), b.Events[0].Operator)
	case <-time.After(5 * time.Second):
		t.Fatal("no block")
	}

	sub.Unsubscribe()
	select {
	case <-sub.Err():
	case <-time.After(5 * time.Second):
		t.Fatal("subscription not closed")
	}
}
