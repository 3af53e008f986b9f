package mongoset

import "gopkg.in/mgo.v2/bson"

//==============================================================================

// Cursor iterates the raw records produced by a driver read. The sequence is
// finite and not restartable; re-issue the query for a fresh one.
type Cursor interface {
	Next(result *bson.M) bool
	Err() error
	Close() error
}

// ChangeInfo reports the aggregate outcome of a driver write.
type ChangeInfo struct {
	Matched int
	Updated int
	Removed int
}

// FindOptions carries the pagination, ordering and projection state of a read.
// A zero Skip or Limit means no bound, sort fields use the "-name" descending
// prefix convention.
type FindOptions struct {
	Sort       []string
	Skip       int
	Limit      int
	Projection bson.M
}

//==============================================================================

// Collection is the driver handle contract the mapper runs against. Every
// method is one network round trip; errors propagate to the caller verbatim
// with no retries.
type Collection interface {
	Find(filter bson.M, opts FindOptions) (Cursor, error)
	InsertOne(doc bson.M) (interface{}, error)
	UpdateOne(filter bson.M, update bson.M) (*ChangeInfo, error)
	UpdateMany(filter bson.M, update bson.M) (*ChangeInfo, error)
	DeleteOne(filter bson.M) (int, error)
	DeleteMany(filter bson.M) (int, error)
	Count(filter bson.M) (int, error)
	Distinct(field string, filter bson.M) ([]interface{}, error)
	Aggregate(pipeline []bson.M) (Cursor, error)
	PopOne(filter bson.M, sort []string) (bson.M, error)
}

// DB hands out collection handles by name. Implementations are shared
// process-wide state; the mapper holds references but never mutates them.
type DB interface {
	C(name string) Collection
}

//==============================================================================

// IdentityField is the reserved identity name at the wire layer.
const IdentityField = "_id"
