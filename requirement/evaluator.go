package requirement

import (
	"context"
	"math/big"
	"sync"

	"github.com/guildnet/gnoracle/allowlist"
	"github.com/guildnet/gnoracle/evm"
	"github.com/guildnet/gnoracle/requirement/expression"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

var (
	// ErrMalformedLogic is returned when the logic of a set does not parse.
	ErrMalformedLogic = xerrors.New("malformed logic")
	// ErrCheckFailed is returned when a requirement could not be checked.
	ErrCheckFailed = xerrors.New("requirement check failed")
	// ErrEvaluation is returned when the logic cannot be evaluated over the
	// check results.
	ErrEvaluation = xerrors.New("logic evaluation failed")
	// ErrNoAddress is returned by balance checks of candidates without an
	// EVM address.
	ErrNoAddress = xerrors.New("no evm address")
)

// Evaluator checks candidates against requirement sets.
type Evaluator struct {
	Client evm.BalanceClient
}

// NewEvaluator returns an evaluator looking balances up with client.
func NewEvaluator(client evm.BalanceClient) *Evaluator {
	return &Evaluator{Client: client}
}

type checkResult struct {
	index uint32
	ok    bool
	err   error
}

// Evaluate returns whether the candidate satisfies the set. The result is
// only valid if the error is nil. The first failed check cancels the
// others.
func (e *Evaluator) Evaluate(ctx context.Context, set *Set, c Candidate) (bool, error) {
	tree, err := expression.Parse(set.Logic)
	if err != nil {
		return false, xerrors.Errorf("%v: %w", err, ErrMalformedLogic)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	results := make(chan checkResult, len(set.Requirements))
	for _, idx := range tree.Leaves() {
		if uint64(idx) >= uint64(len(set.Requirements)) {
			// Left out of the results, Evaluate reports it as missing.
			continue
		}
		wg.Add(1)
		go func(idx uint32) {
			defer wg.Done()
			ok, err := e.check(ctx, set, set.Requirements[idx], c)
			if err != nil {
				cancel()
			}
			results <- checkResult{index: idx, ok: ok, err: err}
		}(idx)
	}
	wg.Wait()
	close(results)

	values := make(map[uint32]bool)
	var first error
	for r := range results {
		if r.err != nil {
			log.Lvlf3("requirement %d: %v", r.index, r.err)
			if first == nil || !xerrors.Is(r.err, context.Canceled) {
				first = xerrors.Errorf("requirement %d: %v: %w", r.index, r.err, ErrCheckFailed)
			}
			continue
		}
		values[r.index] = r.ok
	}
	if first != nil {
		return false, first
	}

	ok, err := tree.Evaluate(values)
	if err != nil {
		return false, xerrors.Errorf("%v: %w", err, ErrEvaluation)
	}
	return ok, nil
}

func (e *Evaluator) check(ctx context.Context, set *Set, r Requirement, c Candidate) (bool, error) {
	if r.Kind == Allowlist {
		return checkAllowlist(set.Allowlist, r.Commitment, c)
	}
	if c.Address == nil {
		return false, ErrNoAddress
	}
	var bal *big.Int
	var err error
	switch r.Kind {
	case Native:
		bal, err = e.Client.Balance(ctx, r.Chain, *c.Address)
	case Fungible:
		bal, err = e.Client.TokenBalance(ctx, r.Chain, r.Token, *c.Address)
	case NonFungible:
		bal, err = e.Client.NFTOwnerBalance(ctx, r.Chain, r.Token, r.TokenID.Big(), *c.Address)
	default:
		return false, xerrors.Errorf("unknown %v", r.Kind)
	}
	if err != nil {
		return false, err
	}
	return r.Relation.Holds(bal, r.Threshold, r.Upper), nil
}

// checkAllowlist proves membership of any of the candidate identities. The
// list itself must hash to the committed root, otherwise nothing can be
// proven.
func checkAllowlist(list []allowlist.Leaf, c allowlist.Commitment, cand Candidate) (bool, error) {
	actual, err := allowlist.NewCommitment(list)
	if err != nil {
		return false, xerrors.Errorf("allowlist: %w", err)
	}
	if actual != c {
		return false, xerrors.Errorf("allowlist root %x does not match the commitment %x",
			actual.Root, c.Root)
	}
	for _, id := range cand.Identities {
		li, ii, ok := allowlist.Find(list, id)
		if !ok {
			continue
		}
		proof, err := allowlist.NewProof(list, li, ii)
		if err != nil {
			return false, xerrors.Errorf("allowlist proof: %w", err)
		}
		if proof.Verify(c, id, list[li]) {
			return true, nil
		}
	}
	return false, nil
}
