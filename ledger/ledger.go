// Package ledger is the oracle's view of the guild network ledger: the
// queries it reads from, the finalized block stream it follows and the
// signed transactions it submits.
//
// Values the ledger hashes or signs have a fixed binary encoding. Two
// implementations of Ledger are provided: Local keeps the state in memory
// for tests and development nodes, RPCClient talks JSON-RPC to a node that
// serves any Ledger through RPCService.
package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/event"
	"github.com/guildnet/gnoracle/allowlist"
	"github.com/guildnet/gnoracle/identity"
	"github.com/guildnet/gnoracle/requirement"
	"golang.org/x/xerrors"
)

// Reader holds the queries of the ledger.
type Reader interface {
	OperatorStatus(ctx context.Context, op AccountID) (OperatorStatus, error)
	// Request returns the payload of an open request.
	Request(ctx context.Context, id RequestID) (*Request, error)
	// Requirements returns the requirement set of the role, without its
	// allowlist.
	Requirements(ctx context.Context, guild GuildName, role RoleName) (*requirement.Set, error)
	// Identities returns the identities linked to the account.
	Identities(ctx context.Context, account AccountID) ([]identity.Identity, error)
	// Allowlist returns the committed allowlist of the role.
	Allowlist(ctx context.Context, guild GuildName, role RoleName) ([]allowlist.Leaf, error)
	// Nonce returns the next transaction nonce of the account.
	Nonce(ctx context.Context, account AccountID) (uint64, error)
	// SubscribeFinalized sends every finalized block to ch until the
	// subscription is unsubscribed or fails.
	SubscribeFinalized(ctx context.Context, ch chan<- *Block) (event.Subscription, error)
}

// Writer holds the transactions of the oracle.
type Writer interface {
	ActivateOperator(ctx context.Context, a *Activation) error
	// SubmitAnswers returns a *BatchError if some answers were rejected,
	// the others are applied.
	SubmitAnswers(ctx context.Context, b *Batch) error
}

// Ledger is the full interface.
type Ledger interface {
	Reader
	Writer
}

var (
	// ErrNotFound is returned for queries without result.
	ErrNotFound = xerrors.New("not found")
	// ErrUnknownRequest is returned for requests that are not open.
	ErrUnknownRequest = xerrors.New("unknown request")
	// ErrRequestExpired is returned for requests past their validity
	// period.
	ErrRequestExpired = xerrors.New("request expired")
	// ErrWrongOperator is returned for answers from an operator the
	// request was not assigned to.
	ErrWrongOperator = xerrors.New("wrong operator")
	// ErrBadNonce is returned for transactions with a stale nonce.
	ErrBadNonce = xerrors.New("bad nonce")
	// ErrBadSignature is returned for transactions that do not verify.
	ErrBadSignature = xerrors.New("bad signature")
	// ErrOperatorInactive is returned for operators that are not active.
	ErrOperatorInactive = xerrors.New("operator inactive")
	// ErrNotRegistered is returned for operators that are not registered.
	ErrNotRegistered = xerrors.New("operator not registered")
)

// errorCodes are also the JSON-RPC error codes.
var errorCodes = []struct {
	code int
	err  error
}{
	{-32001, ErrNotFound},
	{-32002, ErrUnknownRequest},
	{-32003, ErrRequestExpired},
	{-32004, ErrWrongOperator},
	{-32005, ErrBadNonce},
	{-32006, ErrBadSignature},
	{-32007, ErrOperatorInactive},
	{-32008, ErrNotRegistered},
}

// Code returns the code of the ledger error err wraps, or 0.
func Code(err error) int {
	for _, c := range errorCodes {
		if xerrors.Is(err, c.err) {
			return c.code
		}
	}
	return 0
}

func errorOf(code int) error {
	for _, c := range errorCodes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}

// Rejection tells why one answer of a batch was refused.
type Rejection struct {
	RequestID RequestID
	Code      int
}

// Err returns the ledger error of the rejection.
func (r Rejection) Err() error {
	if err := errorOf(r.Code); err != nil {
		return err
	}
	return xerrors.Errorf("error code %d", r.Code)
}

// BatchError lists the answers of a batch that were not applied.
type BatchError struct {
	Rejected []Rejection
}

// NewBatchError returns nil when nothing is rejected.
func NewBatchError(rejected []Rejection) error {
	if len(rejected) == 0 {
		return nil
	}
	return &BatchError{Rejected: rejected}
}

func (e *BatchError) Error() string {
	parts := make([]string, len(e.Rejected))
	for i, r := range e.Rejected {
		parts[i] = fmt.Sprintf("%d: %v", r.RequestID, r.Err())
	}
	return "rejected answers: " + strings.Join(parts, ", ")
}
