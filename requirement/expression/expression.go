/*
Package expression parses the logic that combines the requirements of a role.
We define the language in extended-BNF notation, the syntax we use is from:
https://en.wikipedia.org/wiki/Extended_Backus%E2%80%93Naur_form

	expr   = term, [ or, term ]*
	term   = factor, [ and, factor ]*
	factor = not, factor | '(', expr, ')' | index
	index  = [0-9]+
	and    = 'AND' | 'and' | '&'
	or     = 'OR' | 'or' | '|'
	not    = 'NOT' | 'not' | '!'

AND binds tighter than OR. Every index refers to the requirement with the same
position in the requirement list and evaluates to the boolean result of its
check.

Examples:

	0
	0 AND 1
	(0 | 1) & !2
*/
package expression

import (
	"sort"
	"strconv"

	parsec "github.com/prataprc/goparsec"
	"golang.org/x/xerrors"
)

var (
	// ErrMalformed is returned when the logic cannot be parsed.
	ErrMalformed = xerrors.New("malformed logic")
	// ErrMissingLeaf is returned when the tree references a leaf that has
	// no value.
	ErrMissingLeaf = xerrors.New("missing leaf")
)

// Op is the operation of a tree node.
type Op int

// The node operations.
const (
	Leaf Op = iota
	And
	Or
	Not
)

func (o Op) String() string {
	switch o {
	case Leaf:
		return "leaf"
	case And:
		return "AND"
	case Or:
		return "OR"
	case Not:
		return "NOT"
	}
	return "op(" + strconv.Itoa(int(o)) + ")"
}

// Tree is a node of a parsed expression. And and Or nodes have two or more
// children, Not exactly one, and a Leaf none.
type Tree struct {
	Op       Op
	Index    uint32
	Children []*Tree
}

// Parse returns the tree of the logic expression.
func Parse(logic string) (*Tree, error) {
	v, s := newParser()(parsec.NewScanner([]byte(logic)))
	_, s = s.SkipWS()
	if !s.Endof() {
		return nil, xerrors.Errorf("%q: trailing input at %d: %w", logic, s.GetCursor(), ErrMalformed)
	}
	tree, ok := v.(*Tree)
	if !ok {
		return nil, xerrors.Errorf("%q: %w", logic, ErrMalformed)
	}
	return tree, nil
}

// MustParse is like Parse but panics on error. It is meant for constant
// expressions.
func MustParse(logic string) *Tree {
	t, err := Parse(logic)
	if err != nil {
		panic(err)
	}
	return t
}

// Evaluate returns the value of the tree given the value of every leaf.
// All referenced leaves must be present, even the ones that short-circuit
// evaluation skips.
func (t *Tree) Evaluate(values map[uint32]bool) (bool, error) {
	for _, idx := range t.Leaves() {
		if _, ok := values[idx]; !ok {
			return false, xerrors.Errorf("leaf %d: %w", idx, ErrMissingLeaf)
		}
	}
	return t.eval(values), nil
}

func (t *Tree) eval(values map[uint32]bool) bool {
	switch t.Op {
	case Leaf:
		return values[t.Index]
	case Not:
		return !t.Children[0].eval(values)
	case And:
		for _, c := range t.Children {
			if !c.eval(values) {
				return false
			}
		}
		return true
	case Or:
		for _, c := range t.Children {
			if c.eval(values) {
				return true
			}
		}
		return false
	}
	return false
}

// Leaves returns the sorted set of indices the tree references.
func (t *Tree) Leaves() []uint32 {
	seen := make(map[uint32]bool)
	t.walk(func(n *Tree) {
		if n.Op == Leaf {
			seen[n.Index] = true
		}
	})
	leaves := make([]uint32, 0, len(seen))
	for idx := range seen {
		leaves = append(leaves, idx)
	}
	sort.Slice(leaves, func(i, j int) bool { return leaves[i] < leaves[j] })
	return leaves
}

func (t *Tree) walk(fn func(*Tree)) {
	fn(t)
	for _, c := range t.Children {
		c.walk(fn)
	}
}

// String returns the expression in canonical form, fully parenthesized.
// Negations are parenthesized too: "!0 & 1" reads "((NOT 0) AND 1)".
func (t *Tree) String() string {
	switch t.Op {
	case Leaf:
		return strconv.FormatUint(uint64(t.Index), 10)
	case Not:
		return "(NOT " + t.Children[0].String() + ")"
	}
	s := "("
	for i, c := range t.Children {
		if i > 0 {
			s += " " + t.Op.String() + " "
		}
		s += c.String()
	}
	return s + ")"
}

func newParser() parsec.Parser {
	var expr, factor parsec.Parser // circular rats

	// Terminal rats
	var openparan = parsec.Token(`\(`, "OPENPARAN")
	var closeparan = parsec.Token(`\)`, "CLOSEPARAN")
	var andop = parsec.Token(`(?:AND|and|&)`, "AND")
	var orop = parsec.Token(`(?:OR|or|\|)`, "OR")
	var notop = parsec.Token(`(?:NOT|not|!)`, "NOT")

	// factor -> not factor
	var notFactor = parsec.And(notNode, notop, &factor)
	// factor -> "(" expr ")"
	var groupExpr = parsec.And(groupNode, openparan, &expr, closeparan)

	// (and factor)*
	var termK = parsec.Kleene(nil, parsec.And(many2many, andop, &factor), nil)
	// term -> factor (and factor)*
	var term = parsec.And(foldNode(And), &factor, termK)
	// (or term)*
	var exprK = parsec.Kleene(nil, parsec.And(many2many, orop, term), nil)

	// Circular rats come to life
	expr = parsec.And(foldNode(Or), term, exprK)
	factor = parsec.OrdChoice(factorNode, notFactor, groupExpr, index())
	return expr
}

func index() parsec.Parser {
	return func(s parsec.Scanner) (parsec.ParsecNode, parsec.Scanner) {
		_, s = s.SkipAny(`^[ \n\t]+`)
		p := parsec.Token(`[0-9]+`, "INDEX")
		return p(s)
	}
}

func factorNode(ns []parsec.ParsecNode) parsec.ParsecNode {
	if len(ns) == 0 {
		return nil
	}
	term, ok := ns[0].(*parsec.Terminal)
	if !ok {
		return ns[0]
	}
	idx, err := strconv.ParseUint(term.Value, 10, 32)
	if err != nil {
		return nil
	}
	return &Tree{Op: Leaf, Index: uint32(idx)}
}

func notNode(ns []parsec.ParsecNode) parsec.ParsecNode {
	if len(ns) < 2 {
		return nil
	}
	child, ok := ns[1].(*Tree)
	if !ok {
		return nil
	}
	return &Tree{Op: Not, Children: []*Tree{child}}
}

func groupNode(ns []parsec.ParsecNode) parsec.ParsecNode {
	if len(ns) < 3 {
		return nil
	}
	return ns[1]
}

// foldNode collects "first (op next)*" into a single node of the given
// operation, or returns first alone when nothing follows.
func foldNode(op Op) parsec.Nodify {
	return func(ns []parsec.ParsecNode) parsec.ParsecNode {
		if len(ns) < 2 {
			return nil
		}
		first, ok := ns[0].(*Tree)
		if !ok {
			return nil
		}
		rest, _ := ns[1].([]parsec.ParsecNode)
		if len(rest) == 0 {
			return first
		}
		node := &Tree{Op: op, Children: []*Tree{first}}
		for _, x := range rest {
			pair, ok := x.([]parsec.ParsecNode)
			if !ok || len(pair) != 2 {
				return nil
			}
			child, ok := pair[1].(*Tree)
			if !ok {
				return nil
			}
			node.Children = append(node.Children, child)
		}
		return node
	}
}

func many2many(ns []parsec.ParsecNode) parsec.ParsecNode {
	if len(ns) == 0 {
		return nil
	}
	return ns
}
