package mongoset

import (
	"fmt"
	"strings"

	"gopkg.in/mgo.v2/bson"
)

//==============================================================================

// Config provides the static metadata attached to a record shape. It is
// resolved once when the model is registered, never re-derived per call.
type Config struct {
	// Name is the record shape name, used for error reports and to derive the
	// default collection name.
	Name string

	// Collection overrides the physical collection name. Empty means the
	// shape name lower-cased with an "s" appended.
	Collection string

	// Fields declares the field metadata table.
	Fields []Field

	// Filters is the discriminator expression for shapes sharing a physical
	// collection. It is ANDed transparently into every query against the
	// model, and its exact-match values are stamped onto new documents.
	Filters *Q

	// Transform runs on every raw record fetched from the store, before
	// validation. This is the sanctioned place to reconcile wire-schema drift
	// with the declared shape.
	Transform func(raw bson.M) bson.M

	// Manager overrides the QuerySet handed out by Objects.
	Manager func(*Model) *QuerySet

	// Events receives operation reports. Nil discards them.
	Events Events
}

//==============================================================================

// Model is a registered record shape: its field metadata table, collection
// naming, discriminator and database handle. Models are safe for concurrent
// use once registered.
type Model struct {
	name       string
	collection string
	table      *fieldTable
	filters    *Q
	constants  bson.M
	transform  func(bson.M) bson.M
	manager    func(*Model) *QuerySet
	events     Events
	db         DB
}

// NewModel registers a record shape from the giving configuration, deriving
// its field metadata table and compiling its validation schema.
func NewModel(c Config) (*Model, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("Model name is required")
	}

	table, err := newFieldTable(c.Name, c.Fields)
	if err != nil {
		return nil, err
	}

	m := Model{
		name:       c.Name,
		collection: c.Collection,
		table:      table,
		filters:    c.Filters,
		transform:  c.Transform,
		manager:    c.Manager,
		events:     c.Events,
	}

	if m.collection == "" {
		m.collection = strings.ToLower(c.Name) + "s"
	}

	if m.filters != nil {
		m.constants = m.filters.exactValues()
	}

	if m.manager == nil {
		m.manager = NewQuerySet
	}

	if m.events == nil {
		m.events = nopEvents{}
	}

	return &m, nil
}

//==============================================================================

// Name returns the record shape name.
func (m *Model) Name() string {
	return m.name
}

// CollectionName returns the physical collection name the model targets.
func (m *Model) CollectionName() string {
	return m.collection
}

// Use binds the model to a database handle. Call it once during startup;
// terminal operations before the bind fail with NotConnectedError.
func (m *Model) Use(db DB) {
	m.db = db
}

// C returns the raw collection handle for the model.
func (m *Model) C() (Collection, error) {
	if m.db == nil {
		return nil, NotConnectedError{Model: m.name}
	}

	return m.db.C(m.collection), nil
}

// Objects returns a fresh QuerySet scoped to the model, carrying only the
// discriminator filter.
func (m *Model) Objects() *QuerySet {
	return m.manager(m)
}

//==============================================================================

// Where builds a conjunction expression with every token resolved against the
// declared fields: local names rewrite to wire names and a token whose
// segments address neither a field nor a trailing operator fails with
// UnknownLookupError.
func (m *Model) Where(lookups Lookup) (*Q, error) {
	return convertLookups(lookups, false, m.table.resolveLookup)
}

// WhereNot builds a field-resolved conjunction negated at the clause level.
func (m *Model) WhereNot(lookups Lookup) (*Q, error) {
	return convertLookups(lookups, true, m.table.resolveLookup)
}

//==============================================================================

// New constructs and validates a document of this shape. Discriminator
// constants and declared defaults are stamped in before validation. An
// identity value present in the fields marks the document as already
// persisted.
func (m *Model) New(fields bson.M) (*Document, error) {
	record := bson.M{}
	for name, value := range fields {
		record[name] = value
	}

	for name, value := range m.constants {
		record[name] = value
	}

	m.table.applyDefaults(record)

	identity := record[m.table.identity.Name]
	delete(record, m.table.identity.Name)

	if err := m.table.validate(m.name, record); err != nil {
		return nil, err
	}

	return &Document{model: m, fields: record, id: identity}, nil
}

// fromRaw builds a validated document from a raw wire record, running the
// model's transform hook before alias resolution and validation.
func (m *Model) fromRaw(raw bson.M) (*Document, error) {
	if m.transform != nil {
		raw = m.transform(raw)
	}

	record, identity := m.table.local(raw)

	if err := m.table.validate(m.name, record); err != nil {
		return nil, err
	}

	return &Document{model: m, fields: record, id: identity}, nil
}

//==============================================================================

// exactValues collects the field/value pairs an expression pins with exact
// equality, walking AND combinators and raw documents. Used to stamp
// discriminator constants onto new documents.
func (q *Q) exactValues() bson.M {
	out := bson.M{}
	if q == nil {
		return out
	}

	switch q.kind {
	case kindLeaf:
		if value, ok := q.clause["$eq"]; ok && len(q.clause) == 1 {
			out[q.path] = value
		}

	case kindRaw:
		for key, value := range q.raw {
			if strings.HasPrefix(key, "$") {
				continue
			}

			sub, wrapped := subRecord(value)
			if !wrapped {
				out[key] = value
				continue
			}

			if eq, ok := sub["$eq"]; ok && len(sub) == 1 {
				out[key] = eq
			}
		}

	case kindAnd:
		for key, value := range q.left.exactValues() {
			out[key] = value
		}
		for key, value := range q.right.exactValues() {
			out[key] = value
		}
	}

	return out
}
