// Package oracle is the operator side of the guild network oracle. It
// follows the finalized blocks of the ledger, answers the requests that are
// delegated to it and submits the answers in signed batches.
//
// Each block is handled on its own: the requests are filtered, compiled
// concurrently and gathered into one batch. A single submitter goroutine
// sends the batches in order so that the operator nonce is never used
// twice. A request that cannot be answered is logged and left out. Only
// the loss of the block subscription stops the service.
package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/guildnet/gnoracle"
	"github.com/guildnet/gnoracle/ledger"
	"github.com/guildnet/gnoracle/requirement"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

var (
	// ErrNotRegistered is returned when the operator is unknown to the
	// ledger.
	ErrNotRegistered = xerrors.New("operator not registered")
	// ErrNotActive is returned by Run for operators that did not activate.
	ErrNotActive = xerrors.New("operator not active")
	// ErrSubscriptionLost ends Run when the block stream fails.
	ErrSubscriptionLost = xerrors.New("block subscription lost")
)

// BatchPolicy decides what happens to a block's batch when some of its
// requests could not be compiled.
type BatchPolicy int

const (
	// AllOrNothing drops the whole batch when one request fails.
	AllOrNothing BatchPolicy = iota
	// PartialSuccess submits the answers that could be compiled.
	PartialSuccess
)

func (p BatchPolicy) String() string {
	if p == PartialSuccess {
		return "partial-success"
	}
	return "all-or-nothing"
}

// Option configures a Service.
type Option func(*Service)

// WithBatchPolicy sets the batch policy, AllOrNothing by default.
func WithBatchPolicy(p BatchPolicy) Option {
	return func(s *Service) { s.policy = p }
}

// WithAnswerLog records handled requests in the log and skips the ones it
// already closed.
func WithAnswerLog(l *AnswerLog) Option {
	return func(s *Service) { s.answers = l }
}

// WithRequestTimeout bounds the time spent compiling one request.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithQueueSize sets how many batches may wait for the submitter.
func WithQueueSize(n int) Option {
	return func(s *Service) { s.queue = n }
}

// Service is an oracle operator.
type Service struct {
	ledger  ledger.Ledger
	signer  *ledger.Signer
	eval    *requirement.Evaluator
	policy  BatchPolicy
	answers *AnswerLog
	timeout time.Duration
	queue   int

	// Submitted is called after each submission, for tests and metrics.
	submitted func(*batch, error)
	running   sync.Mutex
}

// NewService returns an operator using the ledger and signing with signer.
func NewService(l ledger.Ledger, signer *ledger.Signer, eval *requirement.Evaluator,
	opts ...Option) *Service {
	s := &Service{
		ledger:  l,
		signer:  signer,
		eval:    eval,
		policy:  AllOrNothing,
		timeout: 30 * time.Second,
		queue:   16,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Account returns the operator account.
func (s *Service) Account() ledger.AccountID {
	return s.signer.Account()
}

// Activate sends the activation of the operator if it is not active yet.
func (s *Service) Activate(ctx context.Context) error {
	st, err := s.ledger.OperatorStatus(ctx, s.Account())
	if err != nil {
		return xerrors.Errorf("operator status: %w", err)
	}
	if !st.Registered {
		return xerrors.Errorf("%v: %w", s.Account(), ErrNotRegistered)
	}
	if st.Active {
		log.Lvl1("Operator", s.Account(), "is already active")
		return nil
	}
	nonce, err := s.ledger.Nonce(ctx, s.Account())
	if err != nil {
		return xerrors.Errorf("nonce: %w", err)
	}
	a, err := s.signer.SignActivation(nonce)
	if err != nil {
		return err
	}
	if err := s.ledger.ActivateOperator(ctx, a); err != nil {
		return xerrors.Errorf("activating: %w", err)
	}
	log.Info("Operator", s.Account(), "activated")
	return nil
}

// Run handles the finalized blocks until ctx is done, which returns nil,
// or until the subscription is lost, which returns a fatal error wrapping
// ErrSubscriptionLost.
func (s *Service) Run(ctx context.Context) error {
	s.running.Lock()
	defer s.running.Unlock()

	st, err := s.ledger.OperatorStatus(ctx, s.Account())
	if err != nil {
		return xerrors.Errorf("operator status: %w", err)
	}
	if !st.Registered {
		return xerrors.Errorf("%v: %w", s.Account(), ErrNotRegistered)
	}
	if !st.Active {
		return xerrors.Errorf("%v: %w", s.Account(), ErrNotActive)
	}

	blocks := make(chan *ledger.Block, s.queue)
	sub, err := s.ledger.SubscribeFinalized(ctx, blocks)
	if err != nil {
		return gnoracle.Fatal(xerrors.Errorf("%v: %w", err, ErrSubscriptionLost), "subscribing")
	}
	defer sub.Unsubscribe()

	batches := make(chan *batch, s.queue)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.submitter(ctx, batches)
	}()
	defer func() {
		close(batches)
		wg.Wait()
	}()

	log.Lvl1("Operator", s.Account(), "listening to finalized blocks")
	for {
		select {
		case b := <-blocks:
			s.handleBlock(ctx, b, batches)
		case err := <-sub.Err():
			if err == nil {
				err = xerrors.New("stream closed")
			}
			log.Error("Block subscription aborted:", err)
			return gnoracle.Fatal(xerrors.Errorf("%v: %w", err, ErrSubscriptionLost), "running")
		case <-ctx.Done():
			log.Lvl2("Stopping operator", s.Account())
			return nil
		}
	}
}
