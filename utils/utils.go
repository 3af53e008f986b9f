// Package utils provides small helpers shared by the mongoset packages:
// a json stringifier for logging query payloads and the deep-merge used to
// combine filter documents.
package utils

import (
	"encoding/json"

	"gopkg.in/mgo.v2/bson"
)

//==========================================================================================

// Query provides a json stringifier.
var Query query

type query struct{}

// QueryIndent returns the stringified version of the giving data and indents
// its result. Uses json.Marshal underneath.
func (q query) QueryIndent(ms interface{}) string {
	data, err := json.MarshalIndent(ms, "", "  ")
	if err != nil {
		return ""
	}

	return string(data)
}

// Query returns a stringified version of the provided argument
// using json.Marshal.
func (q query) Query(ms interface{}) string {
	data, err := json.Marshal(ms)
	if err != nil {
		return ""
	}

	return string(data)
}

//==========================================================================================

// logicalKeys lists the container keys whose collision during a merge must
// keep both sides instead of overwriting one with the other.
var logicalKeys = map[string]bool{
	"$and": true,
	"$or":  true,
	"$nor": true,
}

// MergeFilters merges the src filter document into dst, returning dst.
// Field clauses that collide merge their operator maps, a plain equality value
// being promoted into a {"$eq": value} clause first. The same field with the
// same operator on both sides takes the src value. Colliding logical
// containers ($and/$or/$nor) are preserved under a single $and wrapper.
func MergeFilters(dst, src bson.M) bson.M {
	for key, sval := range src {
		dval, exists := dst[key]
		if !exists {
			dst[key] = sval
			continue
		}

		if logicalKeys[key] {
			delete(dst, key)
			appendAnd(dst, bson.M{key: dval}, bson.M{key: sval})
			continue
		}

		dst[key] = mergeClause(key, dval, sval)
	}

	return dst
}

// appendAnd folds the giving documents into the dst's $and list.
func appendAnd(dst bson.M, docs ...bson.M) {
	list, _ := dst["$and"].([]bson.M)
	list = append(list, docs...)
	dst["$and"] = list
}

// mergeClause merges two values stored under the same field key.
func mergeClause(key string, dval, sval interface{}) interface{} {
	dm := promote(key, dval)
	sm := promote(key, sval)

	if dm == nil || sm == nil {
		return sval
	}

	for op, v := range sm {
		dm[op] = v
	}

	return dm
}

// promote lifts a plain equality value into an operator clause so it can
// merge with other operators on the same field. Operator keys themselves
// (beginning with "$") are never promoted.
func promote(key string, val interface{}) bson.M {
	if m, ok := val.(bson.M); ok {
		return cloneM(m)
	}

	if m, ok := val.(map[string]interface{}); ok {
		return cloneM(bson.M(m))
	}

	if len(key) > 0 && key[0] == '$' {
		return nil
	}

	return bson.M{"$eq": val}
}

// cloneM copies the top level of a filter document.
func cloneM(src bson.M) bson.M {
	dst := make(bson.M, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// CopyM returns a top-level copy of the giving document, leaving the source
// untouched by later merges.
func CopyM(src bson.M) bson.M {
	return cloneM(src)
}
