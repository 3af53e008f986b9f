package storage

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/mgo.v2/bson"
)

//==============================================================================

// Matches reports whether a record satisfies the giving filter document.
// Filter keys are either logical containers ($and/$or/$nor), or dotted field
// paths compared through an operator clause, a plain value meaning equality.
func Matches(record bson.M, filter bson.M) bool {
	for key, expected := range filter {
		switch key {
		case "$and":
			for _, sub := range subFilters(expected) {
				if !Matches(record, sub) {
					return false
				}
			}

		case "$or":
			var hit bool
			for _, sub := range subFilters(expected) {
				if Matches(record, sub) {
					hit = true
					break
				}
			}
			if !hit {
				return false
			}

		case "$nor":
			for _, sub := range subFilters(expected) {
				if Matches(record, sub) {
					return false
				}
			}

		default:
			if !matchField(record, key, expected) {
				return false
			}
		}
	}

	return true
}

// subFilters unwraps the list forms a logical container can arrive in.
func subFilters(value interface{}) []bson.M {
	switch list := value.(type) {
	case []bson.M:
		return list

	case []interface{}:
		out := make([]bson.M, 0, len(list))
		for _, item := range list {
			if sub, ok := asRecord(item); ok {
				out = append(out, sub)
			}
		}
		return out
	}

	return nil
}

// matchField compares one field of the record against its expected clause.
func matchField(record bson.M, path string, expected interface{}) bool {
	actual, exists := valueAt(record, path)

	clause, ok := asRecord(expected)
	if !ok || !isClause(clause) {
		// Plain value: equality against the stored value, or membership when
		// the stored value is a list.
		return exists && equalOrMember(actual, expected)
	}

	for op, operand := range clause {
		if !matchOp(op, actual, exists, operand) {
			return false
		}
	}

	return true
}

// isClause reports whether every key of the map is an operator key.
func isClause(m bson.M) bool {
	if len(m) == 0 {
		return false
	}

	for key := range m {
		if !strings.HasPrefix(key, "$") {
			return false
		}
	}

	return true
}

// matchOp evaluates one comparison operator.
func matchOp(op string, actual interface{}, exists bool, operand interface{}) bool {
	switch op {
	case "$eq":
		return exists && equalOrMember(actual, operand)

	case "$ne":
		return !exists || !equalOrMember(actual, operand)

	case "$gt":
		return exists && compareValues(actual, operand) > 0

	case "$gte":
		return exists && compareValues(actual, operand) >= 0

	case "$lt":
		return exists && compareValues(actual, operand) < 0

	case "$lte":
		return exists && compareValues(actual, operand) <= 0

	case "$in":
		if !exists {
			return false
		}
		for _, candidate := range asList(operand) {
			if equalOrMember(actual, candidate) {
				return true
			}
		}
		return false

	case "$nin":
		if !exists {
			return true
		}
		for _, candidate := range asList(operand) {
			if equalOrMember(actual, candidate) {
				return false
			}
		}
		return true

	case "$exists":
		want, _ := operand.(bool)
		return exists == want

	case "$regex":
		pattern, ok := operand.(string)
		if !ok || !exists {
			return false
		}
		text, ok := actual.(string)
		if !ok {
			return false
		}
		matched, err := regexp.MatchString(pattern, text)
		return err == nil && matched
	}

	return false
}

//==============================================================================

// equalOrMember reports plain equality, treating a stored list as matching
// when any of its elements equals the expected value.
func equalOrMember(actual, expected interface{}) bool {
	if equalValues(actual, expected) {
		return true
	}

	for _, element := range asList(actual) {
		if equalValues(element, expected) {
			return true
		}
	}

	return false
}

// equalValues compares two values, normalizing numeric types first so an int
// stored as int64 still equals its literal.
func equalValues(a, b interface{}) bool {
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	if aok && bok {
		return fa == fb
	}

	return reflect.DeepEqual(a, b)
}

// compareValues returns -1/0/1 ordering two values, numbers numerically and
// everything else through its string form.
func compareValues(a, b interface{}) int {
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	if aok && bok {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}

	sa := fmt.Sprintf("%v", a)
	sb := fmt.Sprintf("%v", b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	}
	return 0
}

// toFloat normalizes the numeric types a record value can arrive in.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}

	return 0, false
}

// asList unwraps the slice forms a stored or expected value can arrive in.
func asList(v interface{}) []interface{} {
	switch list := v.(type) {
	case []interface{}:
		return list
	case []string:
		out := make([]interface{}, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out
	}

	return nil
}

// asRecord unwraps the map forms a nested document can arrive in.
func asRecord(v interface{}) (bson.M, bool) {
	switch m := v.(type) {
	case bson.M:
		return m, true
	case map[string]interface{}:
		return bson.M(m), true
	}

	return nil, false
}

//==============================================================================

// valueAt resolves a dotted field path inside a record.
func valueAt(record bson.M, path string) (interface{}, bool) {
	segments := strings.Split(path, ".")
	var current interface{} = record

	for _, segment := range segments {
		node, ok := asRecord(current)
		if !ok {
			return nil, false
		}

		current, ok = node[segment]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// setPath stores a value under a dotted field path, creating intermediate
// documents along the way.
func setPath(record bson.M, path string, value interface{}) {
	segments := strings.Split(path, ".")

	node := record
	for _, segment := range segments[:len(segments)-1] {
		next, ok := asRecord(node[segment])
		if !ok {
			next = bson.M{}
			node[segment] = next
		}
		node = next
	}

	node[segments[len(segments)-1]] = value
}

// dropPath removes a dotted field path from a record.
func dropPath(record bson.M, path string) {
	segments := strings.Split(path, ".")

	node := record
	for _, segment := range segments[:len(segments)-1] {
		next, ok := asRecord(node[segment])
		if !ok {
			return
		}
		node = next
	}

	delete(node, segments[len(segments)-1])
}

//==============================================================================

// sortRecords orders records by the giving sort fields, "-name" meaning
// descending, using a stable sort so equal keys keep insertion order.
func sortRecords(records []bson.M, fields []string) {
	if len(fields) == 0 {
		return
	}

	sort.SliceStable(records, func(i, j int) bool {
		for _, field := range fields {
			name, desc := field, false
			if strings.HasPrefix(field, "-") {
				name, desc = field[1:], true
			}

			av, _ := valueAt(records[i], name)
			bv, _ := valueAt(records[j], name)

			cmp := compareValues(av, bv)
			if cmp == 0 {
				continue
			}

			if desc {
				return cmp > 0
			}
			return cmp < 0
		}

		return false
	})
}

//==============================================================================

// applyUpdate applies an update document ($set/$unset/$rename) to a record
// in place.
func applyUpdate(record bson.M, update bson.M) error {
	for op, operand := range update {
		change, ok := asRecord(operand)
		if !ok {
			return fmt.Errorf("Update operator %q needs a document operand", op)
		}

		switch op {
		case "$set":
			for path, value := range change {
				setPath(record, path, value)
			}

		case "$unset":
			for path := range change {
				dropPath(record, path)
			}

		case "$rename":
			for from, to := range change {
				target, ok := to.(string)
				if !ok {
					return fmt.Errorf("Rename target for %q must be a string", from)
				}

				if value, exists := valueAt(record, from); exists {
					dropPath(record, from)
					setPath(record, target, value)
				}
			}

		default:
			return fmt.Errorf("Unsupported update operator %q", op)
		}
	}

	return nil
}
