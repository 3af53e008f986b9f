package mongoset

import (
	"fmt"

	"github.com/pborman/uuid"
	"gopkg.in/mgo.v2/bson"

	"github.com/influx6/mongoset/utils"
)

//==============================================================================

// Document is one validated instance of a record shape plus its identity
// value. An absent identity means the document has never been persisted;
// Save assigns one on first insert and switches to updates afterwards. No
// state transition ever happens implicitly: every reload, merge and write is
// caller-triggered.
//
// Identity equality is strict value equality on the identity field. No
// optimistic-concurrency token is maintained, so two instances of the same
// document updating concurrently silently overwrite each other.
type Document struct {
	model  *Model
	fields bson.M
	id     interface{}
}

//==============================================================================

// Model returns the record shape the document belongs to.
func (d *Document) Model() *Model {
	return d.model
}

// ID returns the identity value, nil when the document was never persisted.
func (d *Document) ID() interface{} {
	return d.id
}

// Get returns the in-memory value of the giving local field name.
func (d *Document) Get(name string) interface{} {
	if name == d.model.table.identity.Name {
		return d.id
	}
	return d.fields[name]
}

// Fields returns a copy of the in-memory field values.
func (d *Document) Fields() bson.M {
	return utils.CopyM(d.fields)
}

// String renders the document for logging.
func (d *Document) String() string {
	return fmt.Sprintf("%s(%s)", d.model.name, utils.Query.Query(d.fields))
}

//==============================================================================

// GetQuery returns an expression matching this document by its identity
// field. Save, Delete and Fetch target the store through it, and callers can
// AND it into compound queries.
func (d *Document) GetQuery() (*Q, error) {
	if d.id == nil {
		return nil, DocumentNotSavedError{Model: d.model.name}
	}

	return RawQ(bson.M{IdentityField: bson.M{"$eq": d.id}}), nil
}

// Wire serializes the document for storage: private and local-only fields
// dropped, local names rewritten to wire names, embedded shapes recursed
// into. The in-memory representation is left untouched.
func (d *Document) Wire() bson.M {
	return d.model.table.wire(d.fields)
}

//==============================================================================

// Save persists the document: one insert when the identity is absent,
// assigning the identity from the driver result, one update by
// identity-equality filter when present.
func (d *Document) Save() error {
	col, err := d.model.C()
	if err != nil {
		return err
	}

	rid := uuid.New()
	events := d.model.events
	data := d.Wire()

	if d.id == nil {
		events.Log(rid, "Document.Save", "Started : %s : insert : %s", d.model.name, utils.Query.Query(data))

		assigned, err := col.InsertOne(data)
		if err != nil {
			events.Error(rid, "Document.Save", err, "Completed")
			return err
		}

		d.id = assigned
		events.Log(rid, "Document.Save", "Completed : Identity[%v]", d.id)
		return nil
	}

	query, err := d.GetQuery()
	if err != nil {
		return err
	}

	events.Log(rid, "Document.Save", "Started : %s : update : %s", d.model.name, utils.Query.Query(data))

	if _, err := col.UpdateOne(query.Compile(), bson.M{"$set": data}); err != nil {
		events.Error(rid, "Document.Save", err, "Completed")
		return err
	}

	events.Log(rid, "Document.Save", "Completed : Identity[%v]", d.id)
	return nil
}

// Commit saves the document and returns it, allowing construction and
// persistence to chain.
func (d *Document) Commit() (*Document, error) {
	if err := d.Save(); err != nil {
		return nil, err
	}
	return d, nil
}

// Delete removes the document from the store by its identity filter and
// clears the identity, returning the instance to the unsaved state. Deleting
// a document that was never persisted only clears the identity.
func (d *Document) Delete() error {
	query, err := d.GetQuery()
	if err != nil {
		if _, ok := err.(DocumentNotSavedError); ok {
			d.id = nil
			return nil
		}
		return err
	}

	col, err := d.model.C()
	if err != nil {
		return err
	}

	rid := uuid.New()
	d.model.events.Log(rid, "Document.Delete", "Started : %s : %s", d.model.name, query)

	if _, err := col.DeleteOne(query.Compile()); err != nil {
		d.model.events.Error(rid, "Document.Delete", err, "Completed")
		return err
	}

	d.id = nil
	d.model.events.Log(rid, "Document.Delete", "Completed")
	return nil
}

// Fetch re-reads the document from the store by identity and overwrites the
// in-memory fields with the validated result. Local-only and private values
// survive the overwrite.
func (d *Document) Fetch() error {
	query, err := d.GetQuery()
	if err != nil {
		return err
	}

	col, err := d.model.C()
	if err != nil {
		return err
	}

	rid := uuid.New()
	d.model.events.Log(rid, "Document.Fetch", "Started : %s : %s", d.model.name, query)

	cursor, err := col.Find(query.Compile(), FindOptions{Limit: 1})
	if err != nil {
		d.model.events.Error(rid, "Document.Fetch", err, "Completed")
		return err
	}

	defer cursor.Close()

	var raw bson.M
	if !cursor.Next(&raw) {
		if err := cursor.Err(); err != nil {
			d.model.events.Error(rid, "Document.Fetch", err, "Completed")
			return err
		}

		err := DoesNotExistError{Model: d.model.name, Filter: query.String()}
		d.model.events.Error(rid, "Document.Fetch", err, "Completed")
		return err
	}

	fresh, err := d.model.fromRaw(raw)
	if err != nil {
		d.model.events.Error(rid, "Document.Fetch", err, "Completed")
		return err
	}

	// Carry unpersisted values across the overwrite.
	for name, value := range d.fields {
		if _, ok := fresh.fields[name]; ok {
			continue
		}
		fresh.fields[name] = value
	}

	d.fields = fresh.fields
	d.id = fresh.id

	d.model.events.Log(rid, "Document.Fetch", "Completed")
	return nil
}

//==============================================================================

// Update merges the partial record into the in-memory fields through
// validation without persisting anything; the document is stale until the
// next Save. A failed validation leaves the fields untouched.
func (d *Document) Update(partial bson.M) error {
	merged := mergeRecord(d.model.table.fields, d.Fields(), partial)

	if err := d.model.table.validate(d.model.name, merged); err != nil {
		return err
	}

	d.fields = merged
	return nil
}

// Set assigns one field through validation without persisting.
func (d *Document) Set(name string, value interface{}) error {
	return d.Update(bson.M{name: value})
}

// mergeRecord merges partial values into the record, recursing into embedded
// shapes so a partial nested update keeps the untouched siblings.
func mergeRecord(fields []Field, record, partial bson.M) bson.M {
	byName := make(map[string]Field, len(fields))
	for _, field := range fields {
		byName[field.Name] = field
	}

	for name, value := range partial {
		field, declared := byName[name]
		if !declared || field.Kind != Object || len(field.Fields) == 0 {
			record[name] = value
			continue
		}

		current, curOK := subRecord(record[name])
		incoming, inOK := subRecord(value)
		if !curOK || !inOK {
			record[name] = value
			continue
		}

		record[name] = mergeRecord(field.Fields, utils.CopyM(current), incoming)
	}

	return record
}
