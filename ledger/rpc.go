package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/guildnet/gnoracle/allowlist"
	"github.com/guildnet/gnoracle/identity"
	"github.com/guildnet/gnoracle/requirement"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// Namespace is the JSON-RPC namespace of the ledger methods.
const Namespace = "guild"

// codedError carries the ledger error code over JSON-RPC.
type codedError struct {
	err  error
	code int
}

func (e codedError) Error() string  { return e.err.Error() }
func (e codedError) ErrorCode() int { return e.code }

func toRPC(err error) error {
	if err == nil {
		return nil
	}
	if code := Code(err); code != 0 {
		return codedError{err: err, code: code}
	}
	return err
}

func fromRPC(err error) error {
	if err == nil {
		return nil
	}
	var re rpc.Error
	if xerrors.As(err, &re) {
		if known := errorOf(re.ErrorCode()); known != nil {
			return xerrors.Errorf("%v: %w", err, known)
		}
	}
	return err
}

// RPCService serves a Ledger over JSON-RPC. Register it under Namespace.
type RPCService struct {
	l Ledger
}

// NewRPCService returns the service of the ledger.
func NewRPCService(l Ledger) *RPCService {
	return &RPCService{l: l}
}

// NewRPCServer returns a server with the service registered.
func NewRPCServer(l Ledger) (*rpc.Server, error) {
	srv := rpc.NewServer()
	if err := srv.RegisterName(Namespace, NewRPCService(l)); err != nil {
		return nil, xerrors.Errorf("registering ledger service: %w", err)
	}
	return srv, nil
}

// OperatorStatus serves Reader.OperatorStatus over JSON-RPC.
func (s *RPCService) OperatorStatus(ctx context.Context, op AccountID) (OperatorStatus, error) {
	st, err := s.l.OperatorStatus(ctx, op)
	return st, toRPC(err)
}

// Request serves Reader.Request over JSON-RPC.
func (s *RPCService) Request(ctx context.Context, id RequestID) (*Request, error) {
	r, err := s.l.Request(ctx, id)
	return r, toRPC(err)
}

// Requirements serves Reader.Requirements over JSON-RPC.
func (s *RPCService) Requirements(ctx context.Context, guild GuildName, role RoleName) (*requirement.Set, error) {
	set, err := s.l.Requirements(ctx, guild, role)
	return set, toRPC(err)
}

// Identities serves Reader.Identities over JSON-RPC.
func (s *RPCService) Identities(ctx context.Context, account AccountID) ([]identity.Identity, error) {
	ids, err := s.l.Identities(ctx, account)
	return ids, toRPC(err)
}

// Allowlist serves Reader.Allowlist over JSON-RPC.
func (s *RPCService) Allowlist(ctx context.Context, guild GuildName, role RoleName) ([]allowlist.Leaf, error) {
	list, err := s.l.Allowlist(ctx, guild, role)
	return list, toRPC(err)
}

// Nonce serves Reader.Nonce over JSON-RPC.
func (s *RPCService) Nonce(ctx context.Context, account AccountID) (uint64, error) {
	n, err := s.l.Nonce(ctx, account)
	return n, toRPC(err)
}

// ActivateOperator serves Writer.ActivateOperator over JSON-RPC.
func (s *RPCService) ActivateOperator(ctx context.Context, a *Activation) error {
	return toRPC(s.l.ActivateOperator(ctx, a))
}

// SubmitAnswers returns the rejected answers as result, the other errors
// concern the whole batch.
func (s *RPCService) SubmitAnswers(ctx context.Context, b *Batch) ([]Rejection, error) {
	err := s.l.SubmitAnswers(ctx, b)
	var be *BatchError
	if xerrors.As(err, &be) {
		return be.Rejected, nil
	}
	return []Rejection{}, toRPC(err)
}

// FinalizedRequests streams the finalized blocks to the subscriber.
func (s *RPCService) FinalizedRequests(ctx context.Context) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return nil, rpc.ErrNotificationsUnsupported
	}
	blocks := make(chan *Block, 16)
	sub, err := s.l.SubscribeFinalized(context.Background(), blocks)
	if err != nil {
		return nil, toRPC(err)
	}
	rpcSub := notifier.CreateSubscription()

	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case b := <-blocks:
				if err := notifier.Notify(rpcSub.ID, b); err != nil {
					log.Lvl2("Dropping block subscriber:", err)
					return
				}
			case err := <-sub.Err():
				if err != nil {
					log.Warn("Ledger subscription failed:", err)
				}
				return
			case <-rpcSub.Err():
				return
			}
		}
	}()
	return rpcSub, nil
}

// RPCClient is a Ledger talking to a node over JSON-RPC.
type RPCClient struct {
	c *rpc.Client
}

// NewRPCClient wraps a connected client.
func NewRPCClient(c *rpc.Client) *RPCClient {
	return &RPCClient{c: c}
}

// DialRPC connects to a node. Subscriptions need a websocket or IPC
// endpoint.
func DialRPC(ctx context.Context, url string) (*RPCClient, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, xerrors.Errorf("dialing ledger at %s: %w", url, err)
	}
	return NewRPCClient(c), nil
}

// Close closes the connection.
func (c *RPCClient) Close() {
	c.c.Close()
}

func (c *RPCClient) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	return fromRPC(c.c.CallContext(ctx, result, Namespace+"_"+method, args...))
}

// OperatorStatus implements Reader.
func (c *RPCClient) OperatorStatus(ctx context.Context, op AccountID) (OperatorStatus, error) {
	var st OperatorStatus
	err := c.call(ctx, &st, "operatorStatus", op)
	return st, err
}

// Request implements Reader.
func (c *RPCClient) Request(ctx context.Context, id RequestID) (*Request, error) {
	var r Request
	if err := c.call(ctx, &r, "request", id); err != nil {
		return nil, err
	}
	return &r, nil
}

// Requirements implements Reader.
func (c *RPCClient) Requirements(ctx context.Context, guild GuildName, role RoleName) (*requirement.Set, error) {
	var set requirement.Set
	if err := c.call(ctx, &set, "requirements", guild, role); err != nil {
		return nil, err
	}
	return &set, nil
}

// Identities implements Reader.
func (c *RPCClient) Identities(ctx context.Context, account AccountID) ([]identity.Identity, error) {
	var ids []identity.Identity
	err := c.call(ctx, &ids, "identities", account)
	return ids, err
}

// Allowlist implements Reader.
func (c *RPCClient) Allowlist(ctx context.Context, guild GuildName, role RoleName) ([]allowlist.Leaf, error) {
	var list []allowlist.Leaf
	err := c.call(ctx, &list, "allowlist", guild, role)
	return list, err
}

// Nonce implements Reader.
func (c *RPCClient) Nonce(ctx context.Context, account AccountID) (uint64, error) {
	var n uint64
	err := c.call(ctx, &n, "nonce", account)
	return n, err
}

// SubscribeFinalized implements Reader.
func (c *RPCClient) SubscribeFinalized(ctx context.Context, ch chan<- *Block) (event.Subscription, error) {
	sub, err := c.c.Subscribe(ctx, Namespace, ch, "finalizedRequests")
	if err != nil {
		return nil, xerrors.Errorf("subscribing to finalized blocks: %w", err)
	}
	return sub, nil
}

// ActivateOperator implements Writer.
func (c *RPCClient) ActivateOperator(ctx context.Context, a *Activation) error {
	return c.call(ctx, nil, "activateOperator", a)
}

// SubmitAnswers implements Writer.
func (c *RPCClient) SubmitAnswers(ctx context.Context, b *Batch) error {
	var rejected []Rejection
	if err := c.call(ctx, &rejected, "submitAnswers", b); err != nil {
		return err
	}
	return NewBatchError(rejected)
}
