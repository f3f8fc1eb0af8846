// Package allowlist commits to a list of identities with a binary Merkle
// tree and proves membership of a single identity against the commitment.
//
// Each leaf is a short list of identities belonging to the same member. The
// leaf hash is keccak256 over the identity count followed by the encoded
// identities, inner nodes hash the concatenation of their children. A level
// with an odd number of nodes pairs its last node with itself.
package allowlist

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/guildnet/gnoracle/identity"
	"golang.org/x/xerrors"
)

// MaxLeafSize is the number of identities a leaf can hold, the count is
// hashed as a single byte.
const MaxLeafSize = 255

var (
	// ErrEmpty is returned when a tree is built over no leaves.
	ErrEmpty = xerrors.New("empty allowlist")
	// ErrIndex is returned for leaf or identity indices out of range.
	ErrIndex = xerrors.New("index out of range")
	// ErrLeafSize is returned for leaves with no or too many identities.
	ErrLeafSize = xerrors.New("invalid leaf size")
)

// Leaf is the group of identities of one allowlisted member.
type Leaf []identity.Identity

// Hash returns the leaf hash.
func (l Leaf) Hash() (common.Hash, error) {
	if len(l) == 0 || len(l) > MaxLeafSize {
		return common.Hash{}, xerrors.Errorf("%d identities: %w", len(l), ErrLeafSize)
	}
	buf := []byte{byte(len(l))}
	for i, id := range l {
		if id.Kind().Len() < 0 {
			return common.Hash{}, xerrors.Errorf("identity %d: %w", i, identity.ErrInvalidEncoding)
		}
		buf = id.AppendBinary(buf)
	}
	return crypto.Keccak256Hash(buf), nil
}

// Commitment is what the ledger stores for an allowlist requirement.
type Commitment struct {
	Root   common.Hash
	Length uint64
}

func hashNodes(left, right common.Hash) common.Hash {
	return crypto.Keccak256Hash(left[:], right[:])
}

// Depth returns the number of levels above the leaves of a tree with
// length leaves, which is also the length of every proof path.
func Depth(length uint64) int {
	d := 0
	for n := length; n > 1; n = (n + 1) / 2 {
		d++
	}
	return d
}

// layers returns every level of the tree, leaves first and root last.
func layers(leaves []Leaf) ([][]common.Hash, error) {
	if len(leaves) == 0 {
		return nil, ErrEmpty
	}
	level := make([]common.Hash, len(leaves))
	for i, l := range leaves {
		h, err := l.Hash()
		if err != nil {
			return nil, xerrors.Errorf("leaf %d: %w", i, err)
		}
		level[i] = h
	}
	tree := [][]common.Hash{level}
	for len(level) > 1 {
		next := make([]common.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashNodes(level[i], right))
		}
		tree = append(tree, next)
		level = next
	}
	return tree, nil
}

// Root returns the Merkle root of the leaves.
func Root(leaves []Leaf) (common.Hash, error) {
	tree, err := layers(leaves)
	if err != nil {
		return common.Hash{}, err
	}
	return tree[len(tree)-1][0], nil
}

// NewCommitment returns the root and the length of the leaves.
func NewCommitment(leaves []Leaf) (Commitment, error) {
	root, err := Root(leaves)
	if err != nil {
		return Commitment{}, err
	}
	return Commitment{Root: root, Length: uint64(len(leaves))}, nil
}

// Proof shows that the identity at IDIndex of leaf LeafIndex is part of a
// committed allowlist.
type Proof struct {
	Path      []common.Hash
	LeafIndex uint64
	IDIndex   uint8
}

// NewProof returns the proof for identity idIndex of leaf leafIndex.
func NewProof(leaves []Leaf, leafIndex uint64, idIndex uint8) (*Proof, error) {
	if leafIndex >= uint64(len(leaves)) {
		return nil, xerrors.Errorf("leaf %d of %d: %w", leafIndex, len(leaves), ErrIndex)
	}
	if int(idIndex) >= len(leaves[leafIndex]) {
		return nil, xerrors.Errorf("identity %d of %d: %w", idIndex,
			len(leaves[leafIndex]), ErrIndex)
	}
	tree, err := layers(leaves)
	if err != nil {
		return nil, err
	}
	p := &Proof{LeafIndex: leafIndex, IDIndex: idIndex}
	idx := leafIndex
	for _, level := range tree[:len(tree)-1] {
		sibling := idx ^ 1
		if sibling >= uint64(len(level)) {
			sibling = idx
		}
		p.Path = append(p.Path, level[sibling])
		idx /= 2
	}
	return p, nil
}

// Verify returns true if candidate, put at IDIndex of member, hashes up to
// the committed root. member is the leaf as it was committed; a candidate
// that differs from member[IDIndex] changes the leaf hash and fails.
func (p *Proof) Verify(c Commitment, candidate identity.Identity, member Leaf) bool {
	if p == nil || p.LeafIndex >= c.Length || len(p.Path) != Depth(c.Length) {
		return false
	}
	if int(p.IDIndex) >= len(member) {
		return false
	}
	leaf := append(Leaf{}, member...)
	leaf[p.IDIndex] = candidate
	h, err := leaf.Hash()
	if err != nil {
		return false
	}
	idx := p.LeafIndex
	for _, sibling := range p.Path {
		if idx%2 == 0 {
			h = hashNodes(h, sibling)
		} else {
			h = hashNodes(sibling, h)
		}
		idx /= 2
	}
	return h == c.Root
}

// Find returns the position of the first occurrence of id in the leaves.
func Find(leaves []Leaf, id identity.Identity) (leafIndex uint64, idIndex uint8, ok bool) {
	for i, l := range leaves {
		for j, member := range l {
			if j > MaxLeafSize-1 {
				break
			}
			if member == id {
				return uint64(i), uint8(j), true
			}
		}
	}
	return 0, 0, false
}
