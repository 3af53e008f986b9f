package mongoset

import (
	"gopkg.in/mgo.v2/bson"

	"github.com/influx6/mongoset/utils"
)

//==============================================================================

// Compile walks the expression tree and produces the wire filter document.
// Compilation is a pure function of the tree: calling it any number of times
// yields equal documents and leaves the nodes untouched. An empty node
// compiles to an empty document, matching everything.
func (q *Q) Compile() bson.M {
	if q == nil {
		return bson.M{}
	}

	switch q.kind {
	case kindLeaf:
		return bson.M{q.path: utils.CopyM(q.clause)}

	case kindRaw:
		return utils.CopyM(q.raw)

	case kindAnd:
		out := q.left.Compile()
		return utils.MergeFilters(out, q.right.Compile())

	case kindOr:
		return bson.M{"$or": q.disjuncts()}

	case kindXor:
		left, right := q.left.Compile(), q.right.Compile()
		return bson.M{"$or": []bson.M{
			{"$and": []bson.M{left, {"$nor": []bson.M{right}}}},
			{"$and": []bson.M{right, {"$nor": []bson.M{left}}}},
		}}

	case kindNot:
		return bson.M{"$nor": []bson.M{q.left.Compile()}}
	}

	return bson.M{}
}

// disjuncts flattens nested OR combinators into one multi-clause group.
func (q *Q) disjuncts() []bson.M {
	if q.kind == kindOr {
		return append(q.left.disjuncts(), q.right.disjuncts()...)
	}

	return []bson.M{q.Compile()}
}

// String returns the compiled filter as json for logging.
func (q *Q) String() string {
	return utils.Query.Query(q.Compile())
}
