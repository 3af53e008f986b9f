package mongoset

import (
	"fmt"
	"strings"

	"github.com/influx6/mongoset/parser"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/mgo.v2/bson"
)

//==============================================================================

// Kind identifies the declared type of a field for validation.
type Kind string

// The recognized field kinds.
const (
	String Kind = "string"
	Int    Kind = "integer"
	Float  Kind = "number"
	Bool   Kind = "boolean"
	Array  Kind = "array"
	Object Kind = "object"
	Any    Kind = ""
)

// PrivateMarker prefixes the local name of fields excluded from both
// validation and persistence.
const PrivateMarker = "_"

//==============================================================================

// Field declares one field of a record shape: its local name, its wire name
// (defaulting to the local name), its kind and validation constraints, and
// its membership in the persisted, local-only or private sets.
type Field struct {
	// Name is the local field name. A leading underscore marks the field
	// private: retained on instances but excluded from validation and the
	// wire.
	Name string

	// DBName overrides the database field name. Empty means same as Name.
	DBName string

	Kind     Kind
	Required bool

	// Default is applied when the field is absent at construction time.
	Default interface{}

	// Enum restricts the accepted values when non-empty.
	Enum []interface{}

	// Local marks a field retained in memory but excluded from persistence.
	Local bool

	// Identity marks the field holding the document identity. At most one per
	// shape; when none is declared an "id" field aliased to the reserved wire
	// name is injected.
	Identity bool

	// Fields declares the embedded shape for Object kinds, allowing alias
	// resolution and wire serialization to recurse.
	Fields []Field
}

// private returns true/false if the field is excluded from validation and
// persistence.
func (f Field) private() bool {
	return strings.HasPrefix(f.Name, PrivateMarker)
}

// dbName returns the wire name of the field.
func (f Field) dbName() string {
	if f.DBName != "" {
		return f.DBName
	}
	return f.Name
}

//==============================================================================

// fieldTable is the immutable per-shape metadata registry, resolved once at
// model registration time.
type fieldTable struct {
	fields   []Field
	byName   map[string]int
	identity Field
	schema   *gojsonschema.Schema
}

// newFieldTable derives the metadata table for the giving declarations,
// injecting the default identity field when none is declared and compiling
// the validation schema.
func newFieldTable(model string, declared []Field) (*fieldTable, error) {
	table := fieldTable{byName: make(map[string]int)}

	var identityFound bool

	for _, field := range declared {
		if field.Identity {
			if identityFound {
				return nil, fmt.Errorf("%s : Only one identity field is allowed", model)
			}

			identityFound = true

			// The identity always travels under the reserved wire name.
			field.DBName = IdentityField
			table.identity = field
		}

		if _, ok := table.byName[field.Name]; ok {
			return nil, fmt.Errorf("%s : Duplicate field %q", model, field.Name)
		}

		table.byName[field.Name] = len(table.fields)
		table.fields = append(table.fields, field)
	}

	if !identityFound {
		id := Field{Name: "id", DBName: IdentityField, Kind: Any, Identity: true}
		table.identity = id
		table.byName[id.Name] = len(table.fields)
		table.fields = append(table.fields, id)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaDocument(table.fields)))
	if err != nil {
		return nil, fmt.Errorf("%s : Invalid field declarations : %s", model, err)
	}

	table.schema = schema
	return &table, nil
}

// schemaDocument builds the json schema the validation collaborator compiles.
// Private and identity fields stay out of the schema entirely.
func schemaDocument(fields []Field) map[string]interface{} {
	properties := make(map[string]interface{})
	var required []string

	for _, field := range fields {
		if field.private() || field.Identity {
			continue
		}

		properties[field.Name] = fieldSchema(field)

		if field.Required {
			required = append(required, field.Name)
		}
	}

	doc := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}

	if len(required) > 0 {
		doc["required"] = required
	}

	return doc
}

// fieldSchema builds the schema fragment for a single field.
func fieldSchema(field Field) map[string]interface{} {
	fs := make(map[string]interface{})

	if field.Kind == Object && len(field.Fields) > 0 {
		inner := schemaDocument(field.Fields)
		for k, v := range inner {
			fs[k] = v
		}
		return fs
	}

	if field.Kind != Any {
		fs["type"] = string(field.Kind)
	}

	if len(field.Enum) > 0 {
		fs["enum"] = field.Enum
	}

	return fs
}

//==============================================================================

// applyDefaults fills absent fields carrying a declared default, recursing
// into embedded shapes already present on the record.
func (t *fieldTable) applyDefaults(record bson.M) {
	applyFieldDefaults(t.fields, record)
}

func applyFieldDefaults(fields []Field, record bson.M) {
	for _, field := range fields {
		if field.Default != nil {
			if _, ok := record[field.Name]; !ok {
				record[field.Name] = field.Default
			}
		}

		if field.Kind == Object && len(field.Fields) > 0 {
			if sub, ok := subRecord(record[field.Name]); ok {
				applyFieldDefaults(field.Fields, sub)
				record[field.Name] = sub
			}
		}
	}
}

// validate checks the record against the compiled schema, reporting every
// offending field. Private entries never reach the validator.
func (t *fieldTable) validate(model string, record bson.M) error {
	visible := make(map[string]interface{}, len(record))
	for name, value := range record {
		if strings.HasPrefix(name, PrivateMarker) {
			continue
		}
		visible[name] = value
	}

	result, err := t.schema.Validate(gojsonschema.NewGoLoader(visible))
	if err != nil {
		return err
	}

	if result.Valid() {
		return nil
	}

	verr := ValidationError{Model: model}
	for _, fault := range result.Errors() {
		verr.Faults = append(verr.Faults, FieldFault{
			Field:  fault.Field(),
			Reason: fault.Description(),
		})
	}

	return verr
}

//==============================================================================

// wire serializes a record for storage: private and local-only fields are
// dropped, local names are rewritten to their wire names, embedded shapes are
// recursed into. The identity field is excluded; persistence targets it
// through filters instead.
func (t *fieldTable) wire(record bson.M) bson.M {
	return wireFields(t.fields, record)
}

func wireFields(fields []Field, record bson.M) bson.M {
	out := bson.M{}

	for _, field := range fields {
		if field.private() || field.Local || field.Identity {
			continue
		}

		value, ok := record[field.Name]
		if !ok {
			continue
		}

		if field.Kind == Object && len(field.Fields) > 0 {
			if sub, wrapped := subRecord(value); wrapped {
				out[field.dbName()] = wireFields(field.Fields, sub)
				continue
			}
		}

		out[field.dbName()] = value
	}

	return out
}

// local maps a raw wire record back into local names, reversing aliases and
// recursing into embedded shapes. The identity value is returned apart from
// the record. Wire keys outside the declared persisted set are dropped.
func (t *fieldTable) local(raw bson.M) (bson.M, interface{}) {
	record := localFields(t.fields, raw)
	identity := raw[IdentityField]
	return record, identity
}

func localFields(fields []Field, raw bson.M) bson.M {
	out := bson.M{}

	for _, field := range fields {
		if field.private() || field.Local || field.Identity {
			continue
		}

		value, ok := raw[field.dbName()]
		if !ok {
			continue
		}

		if field.Kind == Object && len(field.Fields) > 0 {
			if sub, wrapped := subRecord(value); wrapped {
				out[field.Name] = localFields(field.Fields, sub)
				continue
			}
		}

		out[field.Name] = value
	}

	return out
}

//==============================================================================

// resolveLookup resolves a lookup token against the metadata table: segments
// walk the declared fields by local or wire name, local names rewritten to
// their wire form, and the final segment may instead name a comparison
// operator. A segment resolving to neither fails with UnknownLookupError.
func (t *fieldTable) resolveLookup(token string) (string, parser.Op, error) {
	segments := strings.Split(token, parser.Separator)

	fields := t.fields
	wirePath := make([]string, 0, len(segments))

	for i, segment := range segments {
		field, ok := findField(fields, segment)
		if ok {
			wirePath = append(wirePath, field.dbName())
			fields = field.Fields
			continue
		}

		if i > 0 && i == len(segments)-1 && parser.Known(segment) {
			return strings.Join(wirePath, "."), parser.Op(segment), nil
		}

		return "", "", parser.UnknownLookupError{Token: token, Op: segment}
	}

	return strings.Join(wirePath, "."), parser.OpExact, nil
}

// findField looks a segment up among the giving declarations by local name
// first, wire name second.
func findField(fields []Field, segment string) (Field, bool) {
	for _, field := range fields {
		if field.Name == segment {
			return field, true
		}
	}

	for _, field := range fields {
		if field.dbName() == segment {
			return field, true
		}
	}

	return Field{}, false
}

//==============================================================================

// subRecord unwraps the map forms a nested document can arrive in.
func subRecord(value interface{}) (bson.M, bool) {
	switch sub := value.(type) {
	case bson.M:
		return sub, true
	case map[string]interface{}:
		return bson.M(sub), true
	}

	return nil, false
}
