package mongoset_test

import (
	"reflect"
	"testing"

	"github.com/ardanlabs/kit/tests"
	"github.com/influx6/mongoset"
	"gopkg.in/mgo.v2/bson"
)

//==============================================================================

// bookModel registers the record shape most tests exercise.
func bookModel(t *testing.T) *mongoset.Model {
	book, err := mongoset.NewModel(mongoset.Config{
		Name: "Book",
		Fields: []mongoset.Field{
			{Name: "name", Kind: mongoset.String, Required: true},
			{Name: "pages", DBName: "page_count", Kind: mongoset.Int},
			{Name: "status", Kind: mongoset.String, Default: "draft", Enum: []interface{}{"draft", "published"}},
			{Name: "saga", Kind: mongoset.Bool, Default: false},
			{Name: "checkout", Kind: mongoset.String, Local: true},
			{Name: "_vote", Kind: mongoset.Int},
			{Name: "author", Kind: mongoset.Object, Fields: []mongoset.Field{
				{Name: "name", Kind: mongoset.String},
				{Name: "born", DBName: "birth_year", Kind: mongoset.Int},
			}},
		},
	})
	if err != nil {
		t.Fatalf("\t%s\tShould have registered the Book model: %s", tests.Failed, err)
	}

	return book
}

//==============================================================================

// TestModelRegistration validates shape registration, collection naming and
// identity handling.
func TestModelRegistration(t *testing.T) {
	tests.ResetLog()
	defer tests.DisplayLog()

	t.Logf("Given the need to register record shapes")
	{

		t.Logf("\tWhen registering a shape without a collection name")
		{
			book := bookModel(t)

			if book.CollectionName() != "books" {
				t.Fatalf("\t%s\tShould have derived the collection name from the shape name: %q", tests.Failed, book.CollectionName())
			}
			t.Logf("\t%s\tShould have derived the collection name from the shape name", tests.Success)
		}

		t.Logf("\tWhen registering a shape with an explicit collection name")
		{
			archive, err := mongoset.NewModel(mongoset.Config{
				Name:       "Book",
				Collection: "archive",
				Fields:     []mongoset.Field{{Name: "name", Kind: mongoset.String}},
			})
			if err != nil {
				t.Fatalf("\t%s\tShould have registered the shape: %s", tests.Failed, err)
			}

			if archive.CollectionName() != "archive" {
				t.Fatalf("\t%s\tShould have kept the explicit collection name: %q", tests.Failed, archive.CollectionName())
			}
			t.Logf("\t%s\tShould have kept the explicit collection name", tests.Success)
		}

		t.Logf("\tWhen declaring an identity field explicitly")
		{
			user, err := mongoset.NewModel(mongoset.Config{
				Name: "User",
				Fields: []mongoset.Field{
					{Name: "email", Kind: mongoset.String, Identity: true},
					{Name: "name", Kind: mongoset.String},
				},
			})
			if err != nil {
				t.Fatalf("\t%s\tShould have registered the shape: %s", tests.Failed, err)
			}
			t.Logf("\t%s\tShould have registered the shape", tests.Success)

			doc, err := user.New(bson.M{"email": "sam@shire.me", "name": "sam"})
			if err != nil {
				t.Fatalf("\t%s\tShould have constructed a document: %s", tests.Failed, err)
			}

			if doc.ID() != "sam@shire.me" {
				t.Fatalf("\t%s\tShould have taken the identity from the declared field: %v", tests.Failed, doc.ID())
			}
			t.Logf("\t%s\tShould have taken the identity from the declared field", tests.Success)
		}

		t.Logf("\tWhen declaring two identity fields")
		{
			_, err := mongoset.NewModel(mongoset.Config{
				Name: "User",
				Fields: []mongoset.Field{
					{Name: "email", Kind: mongoset.String, Identity: true},
					{Name: "handle", Kind: mongoset.String, Identity: true},
				},
			})
			if err == nil {
				t.Fatalf("\t%s\tShould have refused the second identity declaration", tests.Failed)
			}
			t.Logf("\t%s\tShould have refused the second identity declaration", tests.Success)
		}
	}
}

// TestDocumentConstruction validates defaults, validation and serialization
// of freshly constructed documents.
func TestDocumentConstruction(t *testing.T) {
	tests.ResetLog()
	defer tests.DisplayLog()

	t.Logf("Given the need to construct validated documents")
	{
		book := bookModel(t)

		t.Logf("\tWhen constructing a document with absent defaulted fields")
		{
			doc, err := book.New(bson.M{"name": "Dune", "pages": 412})
			if err != nil {
				t.Fatalf("\t%s\tShould have constructed the document: %s", tests.Failed, err)
			}
			t.Logf("\t%s\tShould have constructed the document", tests.Success)

			if doc.Get("status") != "draft" || doc.Get("saga") != false {
				t.Fatalf("\t%s\tShould have applied the declared defaults: %+v", tests.Failed, doc.Fields())
			}
			t.Logf("\t%s\tShould have applied the declared defaults", tests.Success)

			if doc.ID() != nil {
				t.Fatalf("\t%s\tShould have left the document without an identity: %v", tests.Failed, doc.ID())
			}
			t.Logf("\t%s\tShould have left the document without an identity", tests.Success)
		}

		t.Logf("\tWhen constructing a document missing a required field")
		{
			_, err := book.New(bson.M{"pages": 412})
			verr, ok := err.(mongoset.ValidationError)
			if !ok {
				t.Fatalf("\t%s\tShould have failed validation: %v", tests.Failed, err)
			}
			t.Logf("\t%s\tShould have failed validation", tests.Success)

			if verr.Model != "Book" || len(verr.Faults) == 0 {
				t.Fatalf("\t%s\tShould have reported the offending shape and fields: %+v", tests.Failed, verr)
			}
			t.Logf("\t%s\tShould have reported the offending shape and fields", tests.Success)
		}

		t.Logf("\tWhen constructing a document with a value outside its enum")
		{
			if _, err := book.New(bson.M{"name": "Dune", "status": "banned"}); err == nil {
				t.Fatalf("\t%s\tShould have refused the out-of-enum value", tests.Failed)
			}
			t.Logf("\t%s\tShould have refused the out-of-enum value", tests.Success)
		}

		t.Logf("\tWhen serializing a document for storage")
		{
			doc, err := book.New(bson.M{
				"name":     "Dune",
				"pages":    412,
				"checkout": "branch-a",
				"_vote":    9,
				"author":   bson.M{"name": "herbert", "born": 1920},
			})
			if err != nil {
				t.Fatalf("\t%s\tShould have constructed the document: %s", tests.Failed, err)
			}

			wire := doc.Wire()

			expected := bson.M{
				"name":       "Dune",
				"page_count": 412,
				"status":     "draft",
				"saga":       false,
				"author":     bson.M{"name": "herbert", "birth_year": 1920},
			}
			if !reflect.DeepEqual(wire, expected) {
				t.Fatalf("\t%s\tShould have aliased wire names and dropped local and private fields: %+v", tests.Failed, wire)
			}
			t.Logf("\t%s\tShould have aliased wire names and dropped local and private fields", tests.Success)

			if doc.Get("checkout") != "branch-a" || doc.Get("_vote") != 9 {
				t.Fatalf("\t%s\tShould have kept local and private values on the instance: %+v", tests.Failed, doc.Fields())
			}
			t.Logf("\t%s\tShould have kept local and private values on the instance", tests.Success)
		}

		t.Logf("\tWhen mutating the copy returned by Fields")
		{
			doc, err := book.New(bson.M{"name": "Dune"})
			if err != nil {
				t.Fatalf("\t%s\tShould have constructed the document: %s", tests.Failed, err)
			}

			fields := doc.Fields()
			fields["name"] = "Leto"

			if doc.Get("name") != "Dune" {
				t.Fatalf("\t%s\tShould have kept the instance independent of the copy: %v", tests.Failed, doc.Get("name"))
			}
			t.Logf("\t%s\tShould have kept the instance independent of the copy", tests.Success)
		}
	}
}

// TestDiscriminatorConstants validates that a model's filter expression stamps
// its exact values onto fresh documents.
func TestDiscriminatorConstants(t *testing.T) {
	tests.ResetLog()
	defer tests.DisplayLog()

	t.Logf("Given the need to pin shapes sharing a collection to a discriminator")
	{

		planeFilter, err := mongoset.Where(mongoset.Lookup{"kind": "plane"})
		if err != nil {
			t.Fatalf("\t%s\tShould have built the discriminator filter: %s", tests.Failed, err)
		}

		plane, err := mongoset.NewModel(mongoset.Config{
			Name:       "Plane",
			Collection: "vehicules",
			Filters:    planeFilter,
			Fields: []mongoset.Field{
				{Name: "name", Kind: mongoset.String, Required: true},
				{Name: "kind", Kind: mongoset.String},
			},
		})
		if err != nil {
			t.Fatalf("\t%s\tShould have registered the Plane shape: %s", tests.Failed, err)
		}

		t.Logf("\tWhen constructing a document of the discriminated shape")
		{
			doc, err := plane.New(bson.M{"name": "spitfire"})
			if err != nil {
				t.Fatalf("\t%s\tShould have constructed the document: %s", tests.Failed, err)
			}
			t.Logf("\t%s\tShould have constructed the document", tests.Success)

			if doc.Get("kind") != "plane" {
				t.Fatalf("\t%s\tShould have stamped the discriminator value: %+v", tests.Failed, doc.Fields())
			}
			t.Logf("\t%s\tShould have stamped the discriminator value", tests.Success)
		}

		t.Logf("\tWhen compiling the shape's base query")
		{
			filter := plane.Objects().Query()

			expected := bson.M{"kind": bson.M{"$eq": "plane"}}
			if !reflect.DeepEqual(filter, expected) {
				t.Fatalf("\t%s\tShould have scoped the base query to the discriminator: %+v", tests.Failed, filter)
			}
			t.Logf("\t%s\tShould have scoped the base query to the discriminator", tests.Success)
		}
	}
}
