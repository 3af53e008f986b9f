// Package storage provides an in-memory document store implementing the
// mongoset driver contract. It backs tests and embedded use with the same
// find/insert/update/delete/aggregate primitives a live store exposes,
// without any network round trip.
package storage

import (
	"fmt"
	"sync"

	"gopkg.in/mgo.v2/bson"

	"github.com/influx6/mongoset"
)

//==============================================================================

// Store provides an in-memory database handing out collection handles by
// name. It is safe for concurrent use.
type Store struct {
	cl          sync.Mutex
	collections map[string]*Collection
}

// New returns a new empty Store.
func New() *Store {
	return &Store{collections: make(map[string]*Collection)}
}

// C returns the collection handle for the giving name, creating it on first
// use.
func (s *Store) C(name string) mongoset.Collection {
	s.cl.Lock()
	defer s.cl.Unlock()

	col, ok := s.collections[name]
	if !ok {
		col = newCollection(name)
		s.collections[name] = col
	}

	return col
}

//==============================================================================

// Collection holds the records of one in-memory collection, keyed by their
// identity and kept in insertion order for deterministic unsorted reads.
type Collection struct {
	name    string
	rl      sync.RWMutex
	records map[string]bson.M
	order   []string
}

func newCollection(name string) *Collection {
	return &Collection{
		name:    name,
		records: make(map[string]bson.M),
	}
}

// recordKey renders an identity value into the map key form.
func recordKey(id interface{}) string {
	return fmt.Sprintf("%v", id)
}

// matching returns copies of the records matching the filter, in insertion
// order. Callers own the copies.
func (c *Collection) matching(filter bson.M) []bson.M {
	var out []bson.M

	for _, key := range c.order {
		record := c.records[key]
		if record == nil {
			continue
		}

		if Matches(record, filter) {
			out = append(out, copyRecord(record))
		}
	}

	return out
}

// copyRecord deep-copies a record so cursor consumers never alias the store.
func copyRecord(src bson.M) bson.M {
	dst := make(bson.M, len(src))
	for k, v := range src {
		if sub, ok := asRecord(v); ok {
			dst[k] = copyRecord(sub)
			continue
		}
		dst[k] = v
	}
	return dst
}

//==============================================================================

// Find returns a cursor over copies of the matching records, honoring sort,
// skip, limit and projection.
func (c *Collection) Find(filter bson.M, opts mongoset.FindOptions) (mongoset.Cursor, error) {
	c.rl.RLock()
	records := c.matching(filter)
	c.rl.RUnlock()

	sortRecords(records, opts.Sort)

	if opts.Skip > 0 {
		if opts.Skip >= len(records) {
			records = nil
		} else {
			records = records[opts.Skip:]
		}
	}

	if opts.Limit > 0 && opts.Limit < len(records) {
		records = records[:opts.Limit]
	}

	if len(opts.Projection) > 0 {
		for i, record := range records {
			records[i] = project(record, opts.Projection)
		}
	}

	return &sliceCursor{records: records}, nil
}

// InsertOne stores the document, assigning a fresh identity when the record
// carries none, and returns the identity.
func (c *Collection) InsertOne(doc bson.M) (interface{}, error) {
	record := copyRecord(doc)

	id, ok := record[mongoset.IdentityField]
	if !ok || id == nil {
		id = bson.NewObjectId()
		record[mongoset.IdentityField] = id
	}

	key := recordKey(id)

	c.rl.Lock()
	defer c.rl.Unlock()

	if _, exists := c.records[key]; exists {
		return nil, fmt.Errorf("Duplicate identity %v in collection %q", id, c.name)
	}

	c.records[key] = record
	c.order = append(c.order, key)
	return id, nil
}

// UpdateOne applies the update document to the first matching record.
func (c *Collection) UpdateOne(filter bson.M, update bson.M) (*mongoset.ChangeInfo, error) {
	return c.update(filter, update, 1)
}

// UpdateMany applies the update document to every matching record.
func (c *Collection) UpdateMany(filter bson.M, update bson.M) (*mongoset.ChangeInfo, error) {
	return c.update(filter, update, -1)
}

func (c *Collection) update(filter bson.M, update bson.M, most int) (*mongoset.ChangeInfo, error) {
	c.rl.Lock()
	defer c.rl.Unlock()

	info := mongoset.ChangeInfo{}

	for _, key := range c.order {
		record := c.records[key]
		if record == nil || !Matches(record, filter) {
			continue
		}

		if err := applyUpdate(record, update); err != nil {
			return nil, err
		}

		info.Matched++
		info.Updated++

		if most > 0 && info.Matched >= most {
			break
		}
	}

	return &info, nil
}

// DeleteOne removes the first matching record, reporting the removed count.
func (c *Collection) DeleteOne(filter bson.M) (int, error) {
	return c.remove(filter, 1), nil
}

// DeleteMany removes every matching record, reporting the removed count.
func (c *Collection) DeleteMany(filter bson.M) (int, error) {
	return c.remove(filter, -1), nil
}

func (c *Collection) remove(filter bson.M, most int) int {
	c.rl.Lock()
	defer c.rl.Unlock()

	var removed int
	var kept []string

	for _, key := range c.order {
		record := c.records[key]
		if record == nil {
			continue
		}

		if (most < 0 || removed < most) && Matches(record, filter) {
			delete(c.records, key)
			removed++
			continue
		}

		kept = append(kept, key)
	}

	c.order = kept
	return removed
}

// Count reports how many records match the filter.
func (c *Collection) Count(filter bson.M) (int, error) {
	c.rl.RLock()
	defer c.rl.RUnlock()

	var n int
	for _, record := range c.records {
		if Matches(record, filter) {
			n++
		}
	}

	return n, nil
}

// Distinct collects the distinct values of the giving dotted field across
// every matching record.
func (c *Collection) Distinct(field string, filter bson.M) ([]interface{}, error) {
	c.rl.RLock()
	records := c.matching(filter)
	c.rl.RUnlock()

	seen := make(map[string]bool)
	var out []interface{}

	for _, record := range records {
		value, ok := valueAt(record, field)
		if !ok {
			continue
		}

		key := fmt.Sprintf("%T:%v", value, value)
		if seen[key] {
			continue
		}

		seen[key] = true
		out = append(out, value)
	}

	return out, nil
}

// PopOne removes and returns the first record matching the filter under the
// giving ordering, or nil when nothing matches.
func (c *Collection) PopOne(filter bson.M, sort []string) (bson.M, error) {
	c.rl.Lock()
	defer c.rl.Unlock()

	var candidates []bson.M
	for _, key := range c.order {
		record := c.records[key]
		if record != nil && Matches(record, filter) {
			candidates = append(candidates, record)
		}
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	sortRecords(candidates, sort)
	chosen := candidates[0]

	key := recordKey(chosen[mongoset.IdentityField])
	delete(c.records, key)

	kept := c.order[:0]
	for _, ok := range c.order {
		if ok != key {
			kept = append(kept, ok)
		}
	}
	c.order = kept

	return copyRecord(chosen), nil
}

//==============================================================================

// sliceCursor iterates a materialized record slice.
type sliceCursor struct {
	records []bson.M
	pos     int
}

// Next hands out the next record, reporting false at the end.
func (sc *sliceCursor) Next(result *bson.M) bool {
	if sc.pos >= len(sc.records) {
		return false
	}

	*result = sc.records[sc.pos]
	sc.pos++
	return true
}

// Err reports iteration failures; the in-memory cursor has none.
func (sc *sliceCursor) Err() error { return nil }

// Close releases the cursor.
func (sc *sliceCursor) Close() error { return nil }

//==============================================================================

// project keeps only the fields the projection selects. The identity rides
// along unless the projection switches it off.
func project(record bson.M, projection bson.M) bson.M {
	out := bson.M{}

	if keep, declared := projection[mongoset.IdentityField]; !declared || keep != false {
		if id, ok := record[mongoset.IdentityField]; ok {
			out[mongoset.IdentityField] = id
		}
	}

	for field, keep := range projection {
		if keep == false || field == mongoset.IdentityField {
			continue
		}

		if value, ok := valueAt(record, field); ok {
			setPath(out, field, value)
		}
	}

	return out
}
