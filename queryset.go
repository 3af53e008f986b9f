package mongoset

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pborman/uuid"
	"gopkg.in/mgo.v2/bson"

	"github.com/influx6/mongoset/utils"
)

//==============================================================================

// unset marks an absent skip/limit bound.
const unset = -1

// QuerySet is a lazy builder accumulating filter expressions, ordering,
// pagination and projection state for one record shape. Chaining operations
// return a new snapshot sharing the accumulated state, so an intermediate
// builder stays reusable as the base for several queries. Nothing touches the
// network until a terminal operation runs.
type QuerySet struct {
	model      *Model
	queries    []*Q
	sort       []string
	skip       int
	limit      int
	projection bson.M
	err        error
}

// NewQuerySet returns a fresh QuerySet scoped to the giving model. The
// model's discriminator filter, when declared, rides along transparently on
// every terminal operation.
func NewQuerySet(m *Model) *QuerySet {
	return &QuerySet{model: m, skip: unset, limit: unset}
}

// copy clones the builder state so chained calls never alias the receiver.
func (qs *QuerySet) copy() *QuerySet {
	next := *qs
	next.queries = append([]*Q(nil), qs.queries...)
	next.sort = append([]string(nil), qs.sort...)
	return &next
}

//==============================================================================

// Filter appends the expression to the conjunction list.
func (qs *QuerySet) Filter(q *Q) *QuerySet {
	next := qs.copy()
	next.queries = append(next.queries, q)
	return next
}

// FilterBy appends a keyword-style lookup conjunction, with every token
// resolved against the model's declared fields. A malformed or unresolvable
// lookup token is held and surfaced by the next terminal operation.
func (qs *QuerySet) FilterBy(lookups Lookup) *QuerySet {
	next := qs.copy()

	q, err := qs.model.Where(lookups)
	if err != nil {
		next.holdErr(err)
		return next
	}

	next.queries = append(next.queries, q)
	return next
}

// Exclude appends the negation of the expression to the conjunction list.
func (qs *QuerySet) Exclude(q *Q) *QuerySet {
	return qs.Filter(Not(q))
}

// ExcludeBy appends lookups negated at the clause level, flipping each
// comparison the way the lookup table defines.
func (qs *QuerySet) ExcludeBy(lookups Lookup) *QuerySet {
	next := qs.copy()

	q, err := qs.model.WhereNot(lookups)
	if err != nil {
		next.holdErr(err)
		return next
	}

	next.queries = append(next.queries, q)
	return next
}

// OrderBy replaces the ordering with the giving field sequence, each name
// optionally prefixed with "-" for descending.
func (qs *QuerySet) OrderBy(fields ...string) *QuerySet {
	next := qs.copy()
	next.sort = append([]string(nil), fields...)
	return next
}

// Skip sets the number of matching documents left out before results start.
func (qs *QuerySet) Skip(n int) *QuerySet {
	next := qs.copy()
	if n < 0 {
		next.holdErr(fmt.Errorf("Skip requires a non-negative bound, got %d", n))
		return next
	}
	next.skip = n
	return next
}

// Limit bounds the result size. A limit of zero yields no results without a
// network round trip.
func (qs *QuerySet) Limit(n int) *QuerySet {
	next := qs.copy()
	if n < 0 {
		next.holdErr(fmt.Errorf("Limit requires a non-negative bound, got %d", n))
		return next
	}
	next.limit = n
	return next
}

// Only projects the fetch to the giving wire field names.
func (qs *QuerySet) Only(fields ...string) *QuerySet {
	next := qs.copy()

	projection := bson.M{}
	for _, field := range fields {
		projection[field] = true
	}

	next.projection = projection
	return next
}

// holdErr keeps the first builder error for the next terminal operation.
func (qs *QuerySet) holdErr(err error) {
	if qs.err == nil {
		qs.err = err
	}
}

//==============================================================================

// Query returns the compiled filter document: every accumulated expression
// plus the model's discriminator, ANDed together. An empty builder compiles
// to an empty document.
func (qs *QuerySet) Query() bson.M {
	out := bson.M{}

	if qs.model != nil && qs.model.filters != nil {
		out = utils.MergeFilters(out, qs.model.filters.Compile())
	}

	for _, q := range qs.queries {
		out = utils.MergeFilters(out, q.Compile())
	}

	return out
}

// String renders the builder for logging.
func (qs *QuerySet) String() string {
	return fmt.Sprintf("<QuerySet: %s: %s>", qs.model.name, utils.Query.Query(qs.Query()))
}

// Collection exposes the raw driver handle, bypassing discriminator filtering
// and ordering entirely. What happens on it is the caller's responsibility.
func (qs *QuerySet) Collection() (Collection, error) {
	return qs.model.C()
}

// collection guards a terminal operation: held builder errors first, then the
// database bind.
func (qs *QuerySet) collection() (Collection, error) {
	if qs.err != nil {
		return nil, qs.err
	}

	return qs.model.C()
}

// options assembles the driver find options from the builder state.
func (qs *QuerySet) options() FindOptions {
	opts := FindOptions{Sort: qs.sort, Projection: qs.projection}
	if qs.skip > 0 {
		opts.Skip = qs.skip
	}
	if qs.limit > 0 {
		opts.Limit = qs.limit
	}
	return opts
}

//==============================================================================

// DocumentIter walks the validated documents produced by a materialized
// query. The sequence is finite and cannot be restarted.
type DocumentIter struct {
	model  *Model
	cursor Cursor
	err    error
}

// Next returns the next document, reporting false once the sequence ends or
// fails. Check Err after exhaustion.
func (it *DocumentIter) Next() (*Document, bool) {
	if it.cursor == nil || it.err != nil {
		return nil, false
	}

	var raw bson.M
	if !it.cursor.Next(&raw) {
		it.err = it.cursor.Err()
		return nil, false
	}

	doc, err := it.model.fromRaw(raw)
	if err != nil {
		it.err = err
		return nil, false
	}

	return doc, true
}

// Err returns the first failure hit while iterating.
func (it *DocumentIter) Err() error {
	return it.err
}

// Close releases the underlying cursor.
func (it *DocumentIter) Close() error {
	if it.cursor == nil {
		return nil
	}
	return it.cursor.Close()
}

//==============================================================================

// Iter materializes the query and returns a lazy document sequence. A zero
// limit short-circuits to an empty sequence without touching the driver.
func (qs *QuerySet) Iter() (*DocumentIter, error) {
	if qs.err != nil {
		return nil, qs.err
	}

	if qs.limit == 0 {
		return &DocumentIter{model: qs.model}, nil
	}

	col, err := qs.collection()
	if err != nil {
		return nil, err
	}

	rid := uuid.New()
	filter := qs.Query()
	qs.model.events.Log(rid, "QuerySet.Iter", "Started : db.%s.find(%s)", qs.model.collection, utils.Query.Query(filter))

	cursor, err := col.Find(filter, qs.options())
	if err != nil {
		qs.model.events.Error(rid, "QuerySet.Iter", err, "Completed")
		return nil, err
	}

	qs.model.events.Log(rid, "QuerySet.Iter", "Completed")
	return &DocumentIter{model: qs.model, cursor: cursor}, nil
}

// All materializes the query into validated documents.
func (qs *QuerySet) All() ([]*Document, error) {
	iter, err := qs.Iter()
	if err != nil {
		return nil, err
	}

	defer iter.Close()

	var out []*Document
	for {
		doc, ok := iter.Next()
		if !ok {
			break
		}
		out = append(out, doc)
	}

	return out, iter.Err()
}

// First returns the first matching document, or nil without error when
// nothing matches.
func (qs *QuerySet) First() (*Document, error) {
	if qs.limit == 0 {
		return nil, qs.err
	}

	docs, err := qs.Limit(1).All()
	if err != nil {
		return nil, err
	}

	if len(docs) == 0 {
		return nil, nil
	}

	return docs[0], nil
}

// Get returns the single document matching the builder plus any giving
// expressions. Zero matches fail with DoesNotExistError, more than one with
// MultipleObjectsReturnedError; the fetch is bounded at two documents to
// avoid over-fetching.
func (qs *QuerySet) Get(queries ...*Q) (*Document, error) {
	next := qs
	for _, q := range queries {
		next = next.Filter(q)
	}

	docs, err := next.Limit(2).All()
	if err != nil {
		return nil, err
	}

	switch len(docs) {
	case 0:
		return nil, DoesNotExistError{Model: qs.model.name, Filter: utils.Query.Query(next.Query())}
	case 1:
		return docs[0], nil
	}

	return nil, MultipleObjectsReturnedError{Model: qs.model.name, Filter: utils.Query.Query(next.Query())}
}

// Map applies fn to every matching document, stopping at the first failure.
func (qs *QuerySet) Map(fn func(*Document) error) error {
	iter, err := qs.Iter()
	if err != nil {
		return err
	}

	defer iter.Close()

	for {
		doc, ok := iter.Next()
		if !ok {
			break
		}

		if err := fn(doc); err != nil {
			return err
		}
	}

	return iter.Err()
}

//==============================================================================

// Count delegates to the store's count primitive with the compiled filter.
func (qs *QuerySet) Count() (int, error) {
	col, err := qs.collection()
	if err != nil {
		return 0, err
	}

	return col.Count(qs.Query())
}

// Exists reports whether at least one document matches.
func (qs *QuerySet) Exists() (bool, error) {
	n, err := qs.Count()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

// Distinct delegates to the store's distinct primitive. Passing flat unwraps
// composite values into their elements.
func (qs *QuerySet) Distinct(field string, flat bool) ([]interface{}, error) {
	col, err := qs.collection()
	if err != nil {
		return nil, err
	}

	values, err := col.Distinct(field, qs.Query())
	if err != nil {
		return nil, err
	}

	if !flat {
		return values, nil
	}

	var out []interface{}
	for _, value := range values {
		if list, ok := value.([]interface{}); ok {
			out = append(out, list...)
			continue
		}
		out = append(out, value)
	}

	return out, nil
}

//==============================================================================

// Create constructs, validates and persists a new document in one step.
func (qs *QuerySet) Create(fields bson.M) (*Document, error) {
	if qs.err != nil {
		return nil, qs.err
	}

	doc, err := qs.model.New(fields)
	if err != nil {
		return nil, err
	}

	return doc.Commit()
}

// Delete removes every document matching the compiled filter without loading
// them into memory, reporting only the aggregate count.
func (qs *QuerySet) Delete() (int, error) {
	col, err := qs.collection()
	if err != nil {
		return 0, err
	}

	rid := uuid.New()
	filter := qs.Query()
	qs.model.events.Log(rid, "QuerySet.Delete", "Started : db.%s.remove(%s)", qs.model.collection, utils.Query.Query(filter))

	removed, err := col.DeleteMany(filter)
	if err != nil {
		qs.model.events.Error(rid, "QuerySet.Delete", err, "Completed")
		return 0, err
	}

	qs.model.events.Log(rid, "QuerySet.Delete", "Completed : Removed[%d]", removed)
	return removed, nil
}

// DeleteOne removes a single document matching the compiled filter.
func (qs *QuerySet) DeleteOne() (int, error) {
	col, err := qs.collection()
	if err != nil {
		return 0, err
	}

	return col.DeleteOne(qs.Query())
}

// Update applies a bulk $set to every matching document. The change document
// goes to the wire as giving, with no validation; validate it first.
func (qs *QuerySet) Update(change bson.M) (*ChangeInfo, error) {
	col, err := qs.collection()
	if err != nil {
		return nil, err
	}

	return col.UpdateMany(qs.Query(), bson.M{"$set": change})
}

// Unset removes the giving fields from every matching document. Lookup-style
// tokens are accepted and joined into dotted paths. This can break later
// validation of the stored records; use carefully.
func (qs *QuerySet) Unset(fields []string) (*ChangeInfo, error) {
	col, err := qs.collection()
	if err != nil {
		return nil, err
	}

	change := bson.M{}
	for _, field := range fields {
		change[strings.Join(strings.Split(field, "__"), ".")] = ""
	}

	return col.UpdateMany(qs.Query(), bson.M{"$unset": change})
}

// Rename renames stored fields from key to value on every matching document.
func (qs *QuerySet) Rename(fields map[string]string) (int, error) {
	col, err := qs.collection()
	if err != nil {
		return 0, err
	}

	change := bson.M{}
	for from, to := range fields {
		change[from] = to
	}

	info, err := col.UpdateMany(qs.Query(), bson.M{"$rename": change})
	if err != nil {
		return 0, err
	}

	return info.Updated, nil
}

// Pop retrieves one matching document and removes it from the store in a
// single driver call.
func (qs *QuerySet) Pop(queries ...*Q) (*Document, error) {
	next := qs
	for _, q := range queries {
		next = next.Filter(q)
	}

	col, err := next.collection()
	if err != nil {
		return nil, err
	}

	raw, err := col.PopOne(next.Query(), next.sort)
	if err != nil {
		return nil, err
	}

	if raw == nil {
		return nil, DoesNotExistError{Model: qs.model.name, Filter: utils.Query.Query(next.Query())}
	}

	return qs.model.fromRaw(raw)
}

//==============================================================================

// ValuesList fetches only the giving wire fields from every match. With flat
// set, which requires exactly one field, the bare values are returned instead
// of one record per match.
func (qs *QuerySet) ValuesList(fields []string, flat bool) ([]interface{}, error) {
	if flat && len(fields) != 1 {
		return nil, errors.New("Flat values need exactly one field")
	}

	next := qs.Only(fields...)

	col, err := next.collection()
	if err != nil {
		return nil, err
	}

	cursor, err := col.Find(next.Query(), next.options())
	if err != nil {
		return nil, err
	}

	defer cursor.Close()

	var out []interface{}
	var raw bson.M

	for cursor.Next(&raw) {
		if flat {
			out = append(out, raw[fields[0]])
		} else {
			out = append(out, utils.CopyM(raw))
		}
		raw = nil
	}

	return out, cursor.Err()
}

//==============================================================================

// aggregateFields runs the store's aggregation primitive grouping every match
// into one result, applying the giving accumulator to each field. The
// builder's ordering and bounds ride along ahead of the match stage.
func (qs *QuerySet) aggregateFields(operator string, fields []string) (bson.M, error) {
	col, err := qs.collection()
	if err != nil {
		return nil, err
	}

	group := bson.M{"_id": "total"}
	for _, field := range fields {
		group[field] = bson.M{operator: "$" + field}
	}

	pipeline := qs.pipelineBasis()
	pipeline = append(pipeline, bson.M{"$match": qs.Query()}, bson.M{"$group": group})

	rid := uuid.New()
	qs.model.events.Log(rid, "QuerySet.aggregate", "Started : db.%s.aggregate(%s)", qs.model.collection, utils.Query.Query(pipeline))

	cursor, err := col.Aggregate(pipeline)
	if err != nil {
		qs.model.events.Error(rid, "QuerySet.aggregate", err, "Completed")
		return nil, err
	}

	defer cursor.Close()

	var result bson.M
	if !cursor.Next(&result) {
		if err := cursor.Err(); err != nil {
			qs.model.events.Error(rid, "QuerySet.aggregate", err, "Completed")
			return nil, err
		}
		result = bson.M{}
	}

	delete(result, "_id")
	qs.model.events.Log(rid, "QuerySet.aggregate", "Completed")
	return result, nil
}

// pipelineBasis builds the pagination stages of an aggregation pipeline from
// the builder's ordering, limit and skip. An unbounded builder yields none.
func (qs *QuerySet) pipelineBasis() []bson.M {
	var pipeline []bson.M

	if len(qs.sort) > 0 {
		stage := bson.M{}
		for _, field := range qs.sort {
			if strings.HasPrefix(field, "-") {
				stage[field[1:]] = -1
				continue
			}
			stage[field] = 1
		}
		pipeline = append(pipeline, bson.M{"$sort": stage})
	}

	if qs.limit > 0 {
		bound := qs.limit
		if qs.skip > 0 {
			bound += qs.skip
		}
		pipeline = append(pipeline, bson.M{"$limit": bound})
	}

	if qs.skip > 0 {
		pipeline = append(pipeline, bson.M{"$skip": qs.skip})
	}

	return pipeline
}

// Sum totals the giving fields across every match, keyed by field name.
func (qs *QuerySet) Sum(fields ...string) (bson.M, error) {
	return qs.aggregateFields("$sum", fields)
}

// Avg averages the giving fields across every match, keyed by field name.
func (qs *QuerySet) Avg(fields ...string) (bson.M, error) {
	return qs.aggregateFields("$avg", fields)
}
