package ledger

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"github.com/guildnet/gnoracle/allowlist"
	"github.com/guildnet/gnoracle/identity"
	"github.com/guildnet/gnoracle/requirement"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// DefaultValidityPeriod is the number of blocks a request stays open.
const DefaultValidityPeriod = 10

type operator struct {
	active bool
}

type pending struct {
	request  Request
	operator AccountID
	callback Callback
	height   uint64
}

type roleKey struct {
	guild GuildName
	role  RoleName
}

type memberKey struct {
	roleKey
	account AccountID
}

// Local is an in-memory Ledger. Requests are assigned to the active
// operators in turn and announced in the next finalized block. Requests
// that are not answered within ValidityPeriod blocks expire.
type Local struct {
	sync.Mutex
	ValidityPeriod uint64

	height     uint64
	nextID     RequestID
	turn       int
	operators  map[AccountID]*operator
	nonces     map[AccountID]uint64
	requests   map[RequestID]*pending
	expired    map[RequestID]bool
	answers    map[RequestID][]byte
	sets       map[roleKey]*requirement.Set
	allowlists map[roleKey][]allowlist.Leaf
	identities map[AccountID][]identity.Identity
	members    map[memberKey]bool
	events     []OracleRequest
	feed       event.Feed
}

// NewLocal returns an empty ledger at height 0.
func NewLocal() *Local {
	return &Local{
		ValidityPeriod: DefaultValidityPeriod,
		operators:      make(map[AccountID]*operator),
		nonces:         make(map[AccountID]uint64),
		requests:       make(map[RequestID]*pending),
		expired:        make(map[RequestID]bool),
		answers:        make(map[RequestID][]byte),
		sets:           make(map[roleKey]*requirement.Set),
		allowlists:     make(map[roleKey][]allowlist.Leaf),
		identities:     make(map[AccountID][]identity.Identity),
		members:        make(map[memberKey]bool),
	}
}

// RegisterOperator adds an inactive operator.
func (l *Local) RegisterOperator(op AccountID) {
	l.Lock()
	defer l.Unlock()
	if _, ok := l.operators[op]; !ok {
		l.operators[op] = &operator{}
	}
}

// SetRequirements stores the requirement set of a role. The allowlist of
// the set is stored apart and served by Allowlist.
func (l *Local) SetRequirements(guild GuildName, role RoleName, set *requirement.Set) {
	l.Lock()
	defer l.Unlock()
	k := roleKey{guild, role}
	stored := &requirement.Set{
		Logic:        set.Logic,
		Requirements: append([]requirement.Requirement{}, set.Requirements...),
	}
	l.sets[k] = stored
	if len(set.Allowlist) > 0 {
		l.allowlists[k] = append([]allowlist.Leaf{}, set.Allowlist...)
	} else {
		delete(l.allowlists, k)
	}
}

// LinkIdentities links identities to the account without verification.
func (l *Local) LinkIdentities(account AccountID, ids ...identity.Identity) {
	l.Lock()
	defer l.Unlock()
	l.link(account, ids)
}

func (l *Local) link(account AccountID, ids []identity.Identity) {
	for _, id := range ids {
		found := false
		for _, have := range l.identities[account] {
			if have == id {
				found = true
				break
			}
		}
		if !found {
			l.identities[account] = append(l.identities[account], id)
		}
	}
}

// Submit creates a guild request and assigns it to the next active
// operator.
func (l *Local) Submit(requester AccountID, data RequestData) (RequestID, error) {
	l.Lock()
	defer l.Unlock()
	var active []AccountID
	for op, o := range l.operators {
		if o.active {
			active = append(active, op)
		}
	}
	if len(active) == 0 {
		return 0, xerrors.Errorf("no active operator: %w", ErrOperatorInactive)
	}
	sort.Slice(active, func(i, j int) bool { return bytes.Compare(active[i][:], active[j][:]) < 0 })
	op := active[l.turn%len(active)]
	l.turn++
	return l.submit(requester, data, op, GuildCallback), nil
}

// SubmitTo creates a request for a given operator and callback.
func (l *Local) SubmitTo(requester AccountID, data RequestData, op AccountID, cb Callback) RequestID {
	l.Lock()
	defer l.Unlock()
	return l.submit(requester, data, op, cb)
}

func (l *Local) submit(requester AccountID, data RequestData, op AccountID, cb Callback) RequestID {
	id := l.nextID
	l.nextID++
	l.requests[id] = &pending{
		request:  Request{Requester: requester, Data: data},
		operator: op,
		callback: cb,
		height:   l.height + 1,
	}
	l.events = append(l.events, OracleRequest{RequestID: id, Operator: op, Callback: cb, Fee: 1})
	return id
}

// Finalize closes the current block: requests older than the validity
// period expire and the events of the block are sent to the subscribers.
// It blocks until every subscriber received the block.
func (l *Local) Finalize() *Block {
	l.Lock()
	l.height++
	for id, p := range l.requests {
		if l.height-p.height > l.ValidityPeriod {
			log.Lvl3("Request", id, "expired at height", l.height)
			delete(l.requests, id)
			l.expired[id] = true
		}
	}
	b := &Block{Height: l.height, Events: l.events}
	l.events = nil
	l.Unlock()

	l.feed.Send(b)
	return b
}

// Height returns the height of the last finalized block.
func (l *Local) Height() uint64 {
	l.Lock()
	defer l.Unlock()
	return l.height
}

// Answer returns the result a request was answered with.
func (l *Local) Answer(id RequestID) ([]byte, bool) {
	l.Lock()
	defer l.Unlock()
	res, ok := l.answers[id]
	return res, ok
}

// HasRole returns whether the last check of the account for the role was
// successful.
func (l *Local) HasRole(account AccountID, guild GuildName, role RoleName) bool {
	l.Lock()
	defer l.Unlock()
	return l.members[memberKey{roleKey{guild, role}, account}]
}

// OperatorStatus implements Reader.
func (l *Local) OperatorStatus(ctx context.Context, op AccountID) (OperatorStatus, error) {
	l.Lock()
	defer l.Unlock()
	o, ok := l.operators[op]
	if !ok {
		return OperatorStatus{}, nil
	}
	return OperatorStatus{Registered: true, Active: o.active}, nil
}

// Request implements Reader.
func (l *Local) Request(ctx context.Context, id RequestID) (*Request, error) {
	l.Lock()
	defer l.Unlock()
	p, ok := l.requests[id]
	if !ok {
		if l.expired[id] {
			return nil, xerrors.Errorf("request %d: %w", id, ErrRequestExpired)
		}
		return nil, xerrors.Errorf("request %d: %w", id, ErrUnknownRequest)
	}
	r := p.request
	return &r, nil
}

// Requirements implements Reader.
func (l *Local) Requirements(ctx context.Context, guild GuildName, role RoleName) (*requirement.Set, error) {
	l.Lock()
	defer l.Unlock()
	s, ok := l.sets[roleKey{guild, role}]
	if !ok {
		return nil, xerrors.Errorf("requirements of %v/%v: %w", guild, role, ErrNotFound)
	}
	return &requirement.Set{
		Logic:        s.Logic,
		Requirements: append([]requirement.Requirement{}, s.Requirements...),
	}, nil
}

// Identities implements Reader. Accounts without identities have an empty
// list.
func (l *Local) Identities(ctx context.Context, account AccountID) ([]identity.Identity, error) {
	l.Lock()
	defer l.Unlock()
	return append([]identity.Identity{}, l.identities[account]...), nil
}

// Allowlist implements Reader.
func (l *Local) Allowlist(ctx context.Context, guild GuildName, role RoleName) ([]allowlist.Leaf, error) {
	l.Lock()
	defer l.Unlock()
	list, ok := l.allowlists[roleKey{guild, role}]
	if !ok {
		return nil, xerrors.Errorf("allowlist of %v/%v: %w", guild, role, ErrNotFound)
	}
	return append([]allowlist.Leaf{}, list...), nil
}

// Nonce implements Reader.
func (l *Local) Nonce(ctx context.Context, account AccountID) (uint64, error) {
	l.Lock()
	defer l.Unlock()
	return l.nonces[account], nil
}

// SubscribeFinalized implements Reader.
func (l *Local) SubscribeFinalized(ctx context.Context, ch chan<- *Block) (event.Subscription, error) {
	return l.feed.Subscribe(ch), nil
}

// checkTx verifies the operator, nonce and signature of a transaction and
// consumes the nonce.
func (l *Local) checkTx(op AccountID, nonce uint64, verify func() error, needActive bool) error {
	o, ok := l.operators[op]
	if !ok {
		return xerrors.Errorf("%v: %w", op, ErrNotRegistered)
	}
	if needActive && !o.active {
		return xerrors.Errorf("%v: %w", op, ErrOperatorInactive)
	}
	if nonce != l.nonces[op] {
		return xerrors.Errorf("got %d, expected %d: %w", nonce, l.nonces[op], ErrBadNonce)
	}
	if err := verify(); err != nil {
		return err
	}
	l.nonces[op]++
	return nil
}

// ActivateOperator implements Writer.
func (l *Local) ActivateOperator(ctx context.Context, a *Activation) error {
	l.Lock()
	defer l.Unlock()
	err := l.checkTx(a.Operator, a.Nonce, func() error { return VerifyActivation(a) }, false)
	if err != nil {
		return err
	}
	l.operators[a.Operator].active = true
	return nil
}

// SubmitAnswers implements Writer.
func (l *Local) SubmitAnswers(ctx context.Context, b *Batch) error {
	l.Lock()
	defer l.Unlock()
	err := l.checkTx(b.Operator, b.Nonce, func() error { return VerifyBatch(b) }, true)
	if err != nil {
		return err
	}
	var rejected []Rejection
	for _, a := range b.Answers {
		if err := l.apply(b.Operator, a); err != nil {
			log.Lvl2("Rejected answer", a.RequestID, ":", err)
			rejected = append(rejected, Rejection{RequestID: a.RequestID, Code: Code(err)})
		}
	}
	return NewBatchError(rejected)
}

func (l *Local) apply(op AccountID, a Answer) error {
	p, ok := l.requests[a.RequestID]
	if !ok {
		if l.expired[a.RequestID] {
			return ErrRequestExpired
		}
		return ErrUnknownRequest
	}
	if p.operator != op {
		return ErrWrongOperator
	}
	delete(l.requests, a.RequestID)
	l.answers[a.RequestID] = append([]byte{}, a.Result...)
	ok = len(a.Result) == 1 && a.Result[0] == 1
	switch d := p.request.Data.(type) {
	case *Register:
		if ok {
			ids := make([]identity.Identity, len(d.Identities))
			for i, id := range d.Identities {
				ids[i] = id.Identity
			}
			l.link(p.request.Requester, ids)
		}
	case *ReqCheck:
		k := memberKey{roleKey{d.Guild, d.Role}, d.Account}
		if ok {
			l.members[k] = true
		} else {
			delete(l.members, k)
		}
	}
	return nil
}
