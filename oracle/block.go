package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/guildnet/gnoracle"
	"github.com/guildnet/gnoracle/identity"
	"github.com/guildnet/gnoracle/ledger"
	"github.com/guildnet/gnoracle/requirement"
	"github.com/pborman/uuid"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// batch is the set of answers compiled for one block.
type batch struct {
	id      string
	height  uint64
	answers []ledger.Answer
}

type compiled struct {
	id     ledger.RequestID
	result []byte
	err    error
}

// filter keeps the requests delegated to this operator with the guild
// callback.
func (s *Service) filter(events []ledger.OracleRequest) []ledger.OracleRequest {
	var mine []ledger.OracleRequest
	for _, ev := range events {
		if ev.Operator != s.Account() {
			log.Lvl4("Request", ev.RequestID, "not delegated to us")
			continue
		}
		if ev.Callback != ledger.GuildCallback {
			log.Lvl3("Request", ev.RequestID, "has foreign callback", ev.Callback)
			continue
		}
		if s.answers != nil {
			closed, err := s.answers.Closed(ev.RequestID)
			if err != nil {
				log.Error("Answer log:", err)
			} else if closed {
				log.Lvl2("Request", ev.RequestID, "already handled")
				continue
			}
		}
		log.Lvlf1("OracleRequest: %d, %v, %v, %d", ev.RequestID, ev.Operator, ev.Callback, ev.Fee)
		mine = append(mine, ev)
	}
	return mine
}

// handleBlock compiles the requests of the block and queues the batch.
func (s *Service) handleBlock(ctx context.Context, b *ledger.Block, batches chan<- *batch) {
	requests := s.filter(b.Events)
	if len(requests) == 0 {
		return
	}
	if s.answers != nil {
		recs := make([]Record, len(requests))
		for i, r := range requests {
			recs[i] = Record{RequestID: uint64(r.RequestID), State: Open, Height: b.Height}
		}
		if err := s.answers.Put(recs...); err != nil {
			log.Error("Answer log:", err)
		}
	}

	results := make([]compiled, len(requests))
	var wg sync.WaitGroup
	for i, r := range requests {
		wg.Add(1)
		go func(i int, id ledger.RequestID) {
			defer wg.Done()
			res, err := s.compileTimeout(ctx, id)
			results[i] = compiled{id: id, result: res, err: err}
		}(i, r.RequestID)
	}
	wg.Wait()

	bt := &batch{id: uuid.New(), height: b.Height}
	failed := 0
	for _, c := range results {
		if c.err != nil {
			failed++
			if xerrors.Is(c.err, ledger.ErrRequestExpired) || xerrors.Is(c.err, ledger.ErrUnknownRequest) {
				log.Warnf("Request is gone: %v", c.err)
				s.record(Record{RequestID: uint64(c.id), State: Expired, Height: b.Height})
			} else {
				log.Warnf("Failed to compile answer: %v", c.err)
			}
			continue
		}
		log.Lvlf1("Oracle answer (%d): %v", c.id, c.result)
		bt.answers = append(bt.answers, ledger.Answer{RequestID: c.id, Result: c.result})
	}
	if failed > 0 && s.policy == AllOrNothing {
		log.Warnf("Dropping batch of block %d: %d of %d requests failed", b.Height, failed, len(results))
		return
	}
	if len(bt.answers) == 0 {
		return
	}
	select {
	case batches <- bt:
	case <-ctx.Done():
	}
}

func (s *Service) record(recs ...Record) {
	if s.answers == nil {
		return
	}
	if err := s.answers.Put(recs...); err != nil {
		log.Error("Answer log:", err)
	}
}

func (s *Service) compileTimeout(ctx context.Context, id ledger.RequestID) ([]byte, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	res, err := s.compile(ctx, id)
	return res, requestError(id, err)
}

// requestError tags a failed request with its id and the frame of the
// caller, or returns nil.
func requestError(id ledger.RequestID, err error) error {
	return gnoracle.ErrorOrNilSkip(err, fmt.Sprintf("request %d", id), 2)
}

// compile fetches the request and computes its answer.
func (s *Service) compile(ctx context.Context, id ledger.RequestID) ([]byte, error) {
	req, err := s.ledger.Request(ctx, id)
	if err != nil {
		return nil, xerrors.Errorf("fetching request: %w", err)
	}
	switch d := req.Data.(type) {
	case *ledger.Register:
		log.Lvl1("[registration request] acc:", req.Requester)
		return ledger.Result(verifyAll(d.Identities, req.Requester)), nil
	case *ledger.ReqCheck:
		log.Lvlf1("[requirement check request] acc: %v, guild: %v, role: %v", d.Account, d.Guild, d.Role)
		ok, err := s.checkRole(ctx, d)
		if err != nil {
			return nil, err
		}
		return ledger.Result(ok), nil
	}
	return nil, xerrors.Errorf("unknown request data %T", req.Data)
}

// verifyAll returns true if every identity proves control with a signature
// over the verification message of the requester. An empty list proves
// nothing.
func verifyAll(ids []identity.IdentityWithAuth, requester ledger.AccountID) bool {
	if len(ids) == 0 {
		return false
	}
	msg := []byte(identity.VerificationMsg(requester.String()))
	for i, id := range ids {
		if !id.Verify(msg) {
			log.Lvl2("Identity", i, id.Identity, "failed to verify")
			return false
		}
	}
	return true
}

func (s *Service) checkRole(ctx context.Context, d *ledger.ReqCheck) (bool, error) {
	set, err := s.ledger.Requirements(ctx, d.Guild, d.Role)
	if err != nil {
		return false, xerrors.Errorf("requirements of %v/%v: %w", d.Guild, d.Role, err)
	}
	ids, err := s.ledger.Identities(ctx, d.Account)
	if err != nil {
		return false, xerrors.Errorf("identities of %v: %w", d.Account, err)
	}
	cand := requirement.NewCandidate(ids)
	if set.NeedsAddress() && cand.Address == nil {
		log.Warn("Requirement check failed: no registered evm identity for", d.Account)
		return false, nil
	}
	if set.NeedsAllowlist() {
		set.Allowlist, err = s.ledger.Allowlist(ctx, d.Guild, d.Role)
		if err != nil {
			return false, xerrors.Errorf("allowlist of %v/%v: %w", d.Guild, d.Role, err)
		}
	}
	return s.eval.Evaluate(ctx, set, cand)
}
