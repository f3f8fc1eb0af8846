// Package requirement evaluates whether an account satisfies the
// requirements of a guild role.
//
// A Set holds an ordered list of requirements and a logic expression whose
// leaves are the positions of the requirements in that list. Every
// referenced requirement is checked concurrently, then the expression is
// evaluated over the results. A check that cannot be completed fails the
// whole evaluation.
package requirement

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/guildnet/gnoracle/allowlist"
	"github.com/guildnet/gnoracle/evm"
	"github.com/guildnet/gnoracle/identity"
)

// Kind is what a requirement checks.
type Kind uint8

const (
	// Native compares the native coin balance of the address.
	Native Kind = iota
	// Fungible compares an ERC-20 token balance.
	Fungible
	// NonFungible compares the balance of one ERC-1155 token id.
	NonFungible
	// Allowlist checks membership in a committed list of identities.
	Allowlist
)

func (k Kind) String() string {
	switch k {
	case Native:
		return "native"
	case Fungible:
		return "fungible"
	case NonFungible:
		return "non-fungible"
	case Allowlist:
		return "allowlist"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Relation compares a balance with the thresholds of a requirement.
type Relation uint8

const (
	// EqualTo is balance == Threshold.
	EqualTo Relation = iota
	// GreaterThan is balance > Threshold.
	GreaterThan
	// GreaterOrEqualTo is balance >= Threshold.
	GreaterOrEqualTo
	// LessThan is balance < Threshold.
	LessThan
	// LessOrEqualTo is balance <= Threshold.
	LessOrEqualTo
	// Between is Threshold <= balance <= Upper.
	Between
)

func (r Relation) String() string {
	switch r {
	case EqualTo:
		return "=="
	case GreaterThan:
		return ">"
	case GreaterOrEqualTo:
		return ">="
	case LessThan:
		return "<"
	case LessOrEqualTo:
		return "<="
	case Between:
		return "between"
	}
	return fmt.Sprintf("relation(%d)", uint8(r))
}

// Holds returns whether the balance satisfies the relation. Unknown
// relations never hold.
func (r Relation) Holds(balance *big.Int, threshold, upper evm.U256) bool {
	c := balance.Cmp(threshold.Big())
	switch r {
	case EqualTo:
		return c == 0
	case GreaterThan:
		return c > 0
	case GreaterOrEqualTo:
		return c >= 0
	case LessThan:
		return c < 0
	case LessOrEqualTo:
		return c <= 0
	case Between:
		return c >= 0 && balance.Cmp(upper.Big()) <= 0
	}
	return false
}

// Requirement is a single check. Which fields are used depends on Kind:
// balance kinds use Chain, Relation and the thresholds, token kinds add
// Token and NonFungible adds TokenID, Allowlist only uses Commitment.
type Requirement struct {
	Kind       Kind
	Chain      evm.Chain
	Token      common.Address
	TokenID    evm.U256
	Relation   Relation
	Threshold  evm.U256
	Upper      evm.U256
	Commitment allowlist.Commitment
}

// NeedsAddress is true for the kinds that are checked against an EVM
// address.
func (r Requirement) NeedsAddress() bool {
	return r.Kind != Allowlist
}

// Set is the requirement set of one guild role.
type Set struct {
	Logic        string
	Requirements []Requirement
	// Allowlist is the full list committed by the Allowlist requirements.
	Allowlist []allowlist.Leaf
}

// NeedsAddress is true if any requirement is a balance check.
func (s *Set) NeedsAddress() bool {
	for _, r := range s.Requirements {
		if r.NeedsAddress() {
			return true
		}
	}
	return false
}

// NeedsAllowlist is true if any requirement is an allowlist check.
func (s *Set) NeedsAllowlist() bool {
	for _, r := range s.Requirements {
		if r.Kind == Allowlist {
			return true
		}
	}
	return false
}

// Candidate is the account under evaluation.
type Candidate struct {
	// Address is the EVM address balances are looked up for, nil when the
	// account has no linked EVM identity.
	Address *common.Address
	// Identities are all the identities linked to the account.
	Identities []identity.Identity
}

// NewCandidate picks the EVM address among the linked identities.
func NewCandidate(ids []identity.Identity) Candidate {
	c := Candidate{Identities: ids}
	if id, ok := identity.Find(ids, identity.EvmChain); ok {
		raw, _ := id.Address20()
		addr := common.Address(raw)
		c.Address = &addr
	}
	return c
}
