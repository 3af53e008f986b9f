// Package mongo provides the live MongoDB driver adapter for mongoset,
// exposing mgo collections through the mongoset driver contract.
package mongo

import (
	"sync"
	"time"

	"gopkg.in/mgo.v2"
	"gopkg.in/mgo.v2/bson"

	"github.com/influx6/mongoset"
	"github.com/influx6/mongoset/utils"
)

//==============================================================================

// masterListLock provides a mutex for controlling access to the masterList.
var masterListLock sync.Mutex

// masterList contains a set of session lists of connections that have been
// created.
var masterList = make(map[string]*mgo.Session)

//==============================================================================

// Config provides configuration for connecting to a db.
type Config struct {
	Host     string
	AuthDB   string
	DB       string
	User     string
	Password string
}

//==============================================================================

// Mongnod defines a mongo connection manager that builds off a mongo
// instance and hands out collection handles implementing the mongoset
// driver contract.
type Mongnod struct {
	*Config
	mongoset.Events
	m *mgo.Session
}

// Mongnod implements the database contract.
var _ mongoset.DB = (*Mongnod)(nil)

// New returns a new Mongnod instance, reusing the master session for the
// giving host and database when one was already established.
func New(l mongoset.Events, c Config) (*Mongnod, error) {
	m := Mongnod{
		Config: &c,
		Events: l,
	}

	key := c.Host + ":" + c.DB

	masterListLock.Lock()
	ms, ok := masterList[key]
	masterListLock.Unlock()

	if ok {
		m.m = ms.Copy()
		return &m, nil
	}

	if err := m.connectDB("mongnod.New"); err != nil {
		return nil, err
	}

	masterListLock.Lock()
	masterList[key] = m.m.Copy()
	masterListLock.Unlock()

	return &m, nil
}

// connectDB connects and initializes the master session for the mongo list.
func (m *Mongnod) connectDB(context interface{}) error {
	m.Log(context, "connectDB", "Started : Config : %s", utils.Query.Query(m.Config))

	info := mgo.DialInfo{
		Addrs:    []string{m.Host},
		Timeout:  60 * time.Second,
		Database: m.AuthDB,
		Username: m.User,
		Password: m.Password,
	}

	// Create a session which maintains a pool of socket connections
	// to our MongoDB.
	ses, err := mgo.DialWithInfo(&info)
	if err != nil {
		m.Events.Error(context, "connectDB", err, "Completed")
		return err
	}

	ses.SetMode(mgo.Monotonic, true)
	m.m = ses

	m.Log(context, "connectDB", "Completed")
	return nil
}

// Close shuts down the session held by this instance.
func (m *Mongnod) Close() {
	if m.m != nil {
		m.m.Close()
		m.m = nil
	}
}

// C returns the collection handle for the giving name.
func (m *Mongnod) C(name string) mongoset.Collection {
	return &Collection{node: m, name: name}
}

//==============================================================================

// Collection adapts one mgo collection to the mongoset driver contract.
// Every operation copies the session, giving each round trip its own socket
// from the pool.
type Collection struct {
	node *Mongnod
	name string
}

// with copies the session and resolves the mgo collection handle.
func (c *Collection) with() (*mgo.Session, *mgo.Collection) {
	ses := c.node.m.Copy()
	return ses, ses.DB(c.node.DB).C(c.name)
}

// Find executes the filter and returns a streaming cursor. The session copy
// stays open until the cursor is closed.
func (c *Collection) Find(filter bson.M, opts mongoset.FindOptions) (mongoset.Cursor, error) {
	c.node.Log("mongo", "Collection.Find", "Started : db.%s.find(%s)", c.name, utils.Query.Query(filter))

	ses, col := c.with()

	query := col.Find(filter)
	if len(opts.Sort) > 0 {
		query = query.Sort(opts.Sort...)
	}
	if opts.Skip > 0 {
		query = query.Skip(opts.Skip)
	}
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if len(opts.Projection) > 0 {
		query = query.Select(opts.Projection)
	}

	c.node.Log("mongo", "Collection.Find", "Completed")
	return &cursor{ses: ses, iter: query.Iter()}, nil
}

// InsertOne stores the document, assigning an identity when the document
// carries none, and returns the identity.
func (c *Collection) InsertOne(doc bson.M) (interface{}, error) {
	ses, col := c.with()
	defer ses.Close()

	id, ok := doc[mongoset.IdentityField]
	if !ok || id == nil {
		id = bson.NewObjectId()
	}

	record := utils.CopyM(doc)
	record[mongoset.IdentityField] = id

	c.node.Log("mongo", "Collection.InsertOne", "Started : db.%s.insert(%s)", c.name, utils.Query.Query(record))

	if err := col.Insert(record); err != nil {
		c.node.Events.Error("mongo", "Collection.InsertOne", err, "Completed")
		return nil, err
	}

	c.node.Log("mongo", "Collection.InsertOne", "Completed")
	return id, nil
}

// UpdateOne applies the update to the first document matching the filter. A
// filter matching nothing reports zero counts without failing.
func (c *Collection) UpdateOne(filter bson.M, update bson.M) (*mongoset.ChangeInfo, error) {
	ses, col := c.with()
	defer ses.Close()

	if err := col.Update(filter, update); err != nil {
		if err == mgo.ErrNotFound {
			return &mongoset.ChangeInfo{}, nil
		}
		c.node.Events.Error("mongo", "Collection.UpdateOne", err, "Completed")
		return nil, err
	}

	return &mongoset.ChangeInfo{Matched: 1, Updated: 1}, nil
}

// UpdateMany applies the update to every document matching the filter.
func (c *Collection) UpdateMany(filter bson.M, update bson.M) (*mongoset.ChangeInfo, error) {
	ses, col := c.with()
	defer ses.Close()

	info, err := col.UpdateAll(filter, update)
	if err != nil {
		c.node.Events.Error("mongo", "Collection.UpdateMany", err, "Completed")
		return nil, err
	}

	return &mongoset.ChangeInfo{Matched: info.Updated, Updated: info.Updated}, nil
}

// DeleteOne removes the first document matching the filter.
func (c *Collection) DeleteOne(filter bson.M) (int, error) {
	ses, col := c.with()
	defer ses.Close()

	if err := col.Remove(filter); err != nil {
		if err == mgo.ErrNotFound {
			return 0, nil
		}
		return 0, err
	}

	return 1, nil
}

// DeleteMany removes every document matching the filter.
func (c *Collection) DeleteMany(filter bson.M) (int, error) {
	ses, col := c.with()
	defer ses.Close()

	info, err := col.RemoveAll(filter)
	if err != nil {
		return 0, err
	}

	return info.Removed, nil
}

// Count reports how many documents match the filter.
func (c *Collection) Count(filter bson.M) (int, error) {
	ses, col := c.with()
	defer ses.Close()

	return col.Find(filter).Count()
}

// Distinct collects the distinct values of the giving field across every
// match.
func (c *Collection) Distinct(field string, filter bson.M) ([]interface{}, error) {
	ses, col := c.with()
	defer ses.Close()

	var values []interface{}
	if err := col.Find(filter).Distinct(field, &values); err != nil {
		return nil, err
	}

	return values, nil
}

// Aggregate runs the pipeline and returns a streaming cursor.
func (c *Collection) Aggregate(pipeline []bson.M) (mongoset.Cursor, error) {
	ses, col := c.with()
	return &cursor{ses: ses, iter: col.Pipe(pipeline).Iter()}, nil
}

// PopOne removes and returns the first document matching the filter under
// the giving ordering, or nil when nothing matches.
func (c *Collection) PopOne(filter bson.M, sort []string) (bson.M, error) {
	ses, col := c.with()
	defer ses.Close()

	query := col.Find(filter)
	if len(sort) > 0 {
		query = query.Sort(sort...)
	}

	var doc bson.M
	if _, err := query.Apply(mgo.Change{Remove: true}, &doc); err != nil {
		if err == mgo.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}

	return doc, nil
}

//==============================================================================

// cursor adapts an mgo iterator, keeping its session copy alive until Close.
type cursor struct {
	ses  *mgo.Session
	iter *mgo.Iter
}

// Next decodes the next record into a fresh document.
func (c *cursor) Next(result *bson.M) bool {
	var record bson.M
	if !c.iter.Next(&record) {
		return false
	}

	*result = record
	return true
}

// Err reports the iteration failure, if any.
func (c *cursor) Err() error {
	return c.iter.Err()
}

// Close releases the iterator and its session.
func (c *cursor) Close() error {
	err := c.iter.Close()
	c.ses.Close()
	return err
}
