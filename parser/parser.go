// Package parser implements the lookup-token translator for mongoset.
// A lookup token addresses a document field, possibly nested, and an optional
// trailing comparison operator, all separated by double underscores.
// eg
/*

  "age__gte"          => path "age", operator gte
  "author__name"      => path "author.name", operator exact
  "meta__tags__in"    => path "meta.tags", operator in

*/
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/mgo.v2/bson"
)

//==============================================================================

// Separator splits the segments of a lookup token.
const Separator = "__"

// Op identifies a comparison operator recognized in a lookup token. The set
// is closed: tokens carrying any other trailing segment resolve that segment
// as part of the field path, and Clause rejects operators outside the set.
type Op string

// The recognized lookup operators.
const (
	OpExact    Op = "exact"
	OpNe       Op = "ne"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpIn       Op = "in"
	OpNin      Op = "nin"
	OpContains Op = "contains"
	OpIsNull   Op = "isnull"
	OpExists   Op = "exists"
	OpRegex    Op = "regex"
)

// operators maps every recognized operator to its wire command.
var operators = map[Op]string{
	OpExact:    "$eq",
	OpNe:       "$ne",
	OpGt:       "$gt",
	OpGte:      "$gte",
	OpLt:       "$lt",
	OpLte:      "$lte",
	OpIn:       "$in",
	OpNin:      "$nin",
	OpContains: "$regex",
	OpIsNull:   "$exists",
	OpExists:   "$exists",
	OpRegex:    "$regex",
}

// inverted maps each operator to the wire command applied when the clause is
// negated during an exclusion.
var inverted = map[Op]string{
	OpExact:  "$ne",
	OpNe:     "$eq",
	OpGt:     "$lte",
	OpGte:    "$lt",
	OpLt:     "$gte",
	OpLte:    "$gt",
	OpIn:     "$nin",
	OpNin:    "$in",
	OpIsNull: "$exists",
	OpExists: "$exists",
}

// Known returns true/false if the giving segment names a recognized operator.
func Known(segment string) bool {
	_, ok := operators[Op(segment)]
	return ok
}

//==============================================================================

// UnknownLookupError is returned when a lookup token carries an operator
// outside the recognized set. It always reports a programming error in the
// query under construction, never a runtime condition.
type UnknownLookupError struct {
	Token string
	Op    string
}

// Error returns the error message for the offending token.
func (e UnknownLookupError) Error() string {
	return fmt.Sprintf("Unknown lookup operator %q in token %q", e.Op, e.Token)
}

// ErrCannotInvert is returned when an operator has no negated form.
var ErrCannotInvert = errors.New("Lookup operator has no inverted form")

//==============================================================================

// ParseLookup splits a lookup token into its dotted field path and operator.
// The trailing segment selects the operator when it is a member of the
// recognized set, else the whole token is a field path compared with exact.
func ParseLookup(token string) (path string, op Op) {
	segments := strings.Split(token, Separator)

	last := segments[len(segments)-1]
	if len(segments) > 1 && Known(last) {
		return strings.Join(segments[:len(segments)-1], "."), Op(last)
	}

	return strings.Join(segments, "."), OpExact
}

//==============================================================================

// Clause translates an operator and value into its wire clause. Passing
// invert flips the comparison the way an exclusion requires.
//
//	Clause("age__gte", OpGte, 18, false) => {"$gte": 18}
func Clause(token string, op Op, value interface{}, invert bool) (bson.M, error) {
	cmd, ok := operators[op]
	if !ok {
		return nil, UnknownLookupError{Token: token, Op: string(op)}
	}

	if invert {
		icmd, ok := inverted[op]
		if !ok {
			return nil, ErrCannotInvert
		}
		cmd = icmd
	}

	return bson.M{cmd: clauseValue(op, value, invert)}, nil
}

// clauseValue resolves the wire value for the giving operator, handling the
// operators whose negation flips the value rather than the command.
func clauseValue(op Op, value interface{}, invert bool) interface{} {
	switch op {
	case OpContains:
		return ".*" + regexp.QuoteMeta(toString(value)) + ".*"

	case OpIsNull:
		set, _ := value.(bool)
		if invert {
			return set
		}
		return !set

	case OpExists:
		set, _ := value.(bool)
		if invert {
			return !set
		}
		return set
	}

	return value
}

// toString renders the giving value for embedding into a regex clause.
func toString(value interface{}) string {
	if s, ok := value.(string); ok {
		return s
	}
	return ""
}
