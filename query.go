package mongoset

import (
	"sort"

	"gopkg.in/mgo.v2/bson"

	"github.com/influx6/mongoset/parser"
	"github.com/influx6/mongoset/utils"
)

//==============================================================================

// Lookup provides keyword-style field lookups for building query expressions,
// keyed by lookup token.
// eg
/*

  mongoset.Lookup{"name": "LOTR", "volume__gte": 2}

*/
type Lookup map[string]interface{}

//==============================================================================

// nodeKind identifies the shape of a Q node.
type nodeKind int

const (
	kindLeaf nodeKind = iota
	kindRaw
	kindAnd
	kindOr
	kindXor
	kindNot
)

// Q is an immutable node of a boolean query expression tree. A leaf compares
// one field against a value, a combinator joins two subtrees. Combining nodes
// always produces a new node and never mutates the operands, so any node can
// be shared and reused across queries.
type Q struct {
	kind nodeKind

	// leaf state, clause already translated by the parser package.
	path   string
	clause bson.M

	// raw filter document supplied by the caller.
	raw bson.M

	// combinator children, right is nil for NOT.
	left  *Q
	right *Q
}

//==============================================================================

// Where builds a conjunction expression from keyword-style lookups. Tokens
// address wire field names directly; a trailing segment naming a recognized
// operator selects that comparison and any other segment extends the field
// path. Model-bound builders resolve tokens against declared fields instead.
func Where(lookups Lookup) (*Q, error) {
	return convertLookups(lookups, false, wireResolver)
}

// WhereNot builds a conjunction expression whose comparisons are negated at
// the clause level, the way an exclusion inverts each lookup. Operators with
// no negated form fail with parser.ErrCannotInvert.
func WhereNot(lookups Lookup) (*Q, error) {
	return convertLookups(lookups, true, wireResolver)
}

// wireResolver translates a token without field declarations to check
// against.
func wireResolver(token string) (string, parser.Op, error) {
	path, op := parser.ParseLookup(token)
	return path, op, nil
}

// convertLookups translates and conjoins the giving lookups through the
// giving token resolver. Tokens are walked in sorted order so the resulting
// tree is deterministic.
func convertLookups(lookups Lookup, invert bool, resolve func(string) (string, parser.Op, error)) (*Q, error) {
	tokens := make([]string, 0, len(lookups))
	for token := range lookups {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)

	var node *Q

	for _, token := range tokens {
		path, op, err := resolve(token)
		if err != nil {
			return nil, err
		}

		clause, err := parser.Clause(token, op, lookups[token], invert)
		if err != nil {
			return nil, err
		}

		leaf := &Q{kind: kindLeaf, path: path, clause: clause}

		if node == nil {
			node = leaf
			continue
		}

		node = And(node, leaf)
	}

	if node == nil {
		node = &Q{kind: kindRaw, raw: bson.M{}}
	}

	return node, nil
}

// RawQ wraps an already-built filter document into an expression node. The
// document is copied so later mutations of the argument never leak into the
// tree.
func RawQ(filter bson.M) *Q {
	return &Q{kind: kindRaw, raw: utils.CopyM(filter)}
}

//==============================================================================

// And returns a node matching documents that satisfy both operands.
func And(left, right *Q) *Q {
	return &Q{kind: kindAnd, left: left, right: right}
}

// Or returns a node matching documents that satisfy either operand.
func Or(left, right *Q) *Q {
	return &Q{kind: kindOr, left: left, right: right}
}

// Xor returns a node matching documents that satisfy exactly one operand.
func Xor(left, right *Q) *Q {
	return &Q{kind: kindXor, left: left, right: right}
}

// Not returns a node matching documents that fail the operand.
func Not(child *Q) *Q {
	return &Q{kind: kindNot, left: child}
}

