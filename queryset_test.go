package mongoset_test

import (
	"testing"

	"github.com/ardanlabs/kit/tests"
	"github.com/influx6/mongoset"
	"github.com/influx6/mongoset/storage"
	"gopkg.in/mgo.v2/bson"
)

//==============================================================================

// seedLibrary loads a known set of books into a fresh store.
func seedLibrary(t *testing.T) (*mongoset.Model, *countingDB) {
	book := bookModel(t)
	db := newCountingDB(storage.New())
	book.Use(db)

	seeds := []bson.M{
		{"name": "The Fellowship of the Ring", "pages": 423, "saga": true, "status": "published"},
		{"name": "The Two Towers", "pages": 352, "saga": true, "status": "published"},
		{"name": "The Return of the King", "pages": 416, "saga": true, "status": "published"},
		{"name": "The Hobbit", "pages": 310, "status": "published"},
		{"name": "Unfinished Tales", "pages": 500, "status": "draft"},
	}

	for _, seed := range seeds {
		if _, err := book.Objects().Create(seed); err != nil {
			t.Fatalf("\t%s\tShould have seeded the collection: %s", tests.Failed, err)
		}
	}

	return book, db
}

//==============================================================================

// TestQuerySetChaining validates the clone-on-chain builder semantics.
func TestQuerySetChaining(t *testing.T) {
	tests.ResetLog()
	defer tests.DisplayLog()

	t.Logf("Given the need to refine queries without disturbing their ancestors")
	{
		book, _ := seedLibrary(t)

		t.Logf("\tWhen branching two refinements off one builder")
		{
			base := book.Objects().FilterBy(mongoset.Lookup{"status": "published"})
			sagas := base.FilterBy(mongoset.Lookup{"saga": true})
			standalone := base.ExcludeBy(mongoset.Lookup{"saga": true})

			baseCount, err := base.Count()
			if err != nil {
				t.Fatalf("\t%s\tShould have counted the base builder: %s", tests.Failed, err)
			}
			if baseCount != 4 {
				t.Fatalf("\t%s\tShould have left the ancestor untouched by the branches: Count[%d]", tests.Failed, baseCount)
			}
			t.Logf("\t%s\tShould have left the ancestor untouched by the branches", tests.Success)

			sagaCount, _ := sagas.Count()
			aloneCount, _ := standalone.Count()
			if sagaCount != 3 || aloneCount != 1 {
				t.Fatalf("\t%s\tShould have refined each branch independently: Sagas[%d] Standalone[%d]", tests.Failed, sagaCount, aloneCount)
			}
			t.Logf("\t%s\tShould have refined each branch independently", tests.Success)
		}

		t.Logf("\tWhen chaining filters against combining them explicitly")
		{
			a, err := book.Where(mongoset.Lookup{"status": "published"})
			if err != nil {
				t.Fatalf("\t%s\tShould have built the first expression: %s", tests.Failed, err)
			}
			b, err := book.Where(mongoset.Lookup{"pages__gte": 400})
			if err != nil {
				t.Fatalf("\t%s\tShould have built the second expression: %s", tests.Failed, err)
			}

			chained, err := book.Objects().Filter(a).Filter(b).All()
			if err != nil {
				t.Fatalf("\t%s\tShould have materialized the chained builder: %s", tests.Failed, err)
			}
			combined, err := book.Objects().Filter(mongoset.And(a, b)).All()
			if err != nil {
				t.Fatalf("\t%s\tShould have materialized the combined builder: %s", tests.Failed, err)
			}

			if len(chained) != 2 || len(chained) != len(combined) {
				t.Fatalf("\t%s\tShould have matched the same documents either way: Chained[%d] Combined[%d]", tests.Failed, len(chained), len(combined))
			}
			t.Logf("\t%s\tShould have matched the same documents either way", tests.Success)
		}

		t.Logf("\tWhen holding a malformed lookup in the chain")
		{
			broken := book.Objects().FilterBy(mongoset.Lookup{"pages__bogus": 1}).OrderBy("-page_count")

			_, err := broken.All()
			if _, ok := err.(mongoset.UnknownLookupError); !ok {
				t.Fatalf("\t%s\tShould have surfaced the held error at the terminal: %v", tests.Failed, err)
			}
			t.Logf("\t%s\tShould have surfaced the held error at the terminal", tests.Success)
		}
	}
}

// TestQuerySetMaterialization validates ordering, bounds and projections on
// fetches.
func TestQuerySetMaterialization(t *testing.T) {
	tests.ResetLog()
	defer tests.DisplayLog()

	t.Logf("Given the need to page and shape fetched results")
	{
		book, db := seedLibrary(t)

		t.Logf("\tWhen ordering descending by page count")
		{
			docs, err := book.Objects().OrderBy("-page_count").All()
			if err != nil {
				t.Fatalf("\t%s\tShould have materialized the ordered query: %s", tests.Failed, err)
			}

			if len(docs) != 5 || docs[0].Get("name") != "Unfinished Tales" || docs[4].Get("name") != "The Hobbit" {
				t.Fatalf("\t%s\tShould have returned the documents largest first: Count[%d]", tests.Failed, len(docs))
			}
			t.Logf("\t%s\tShould have returned the documents largest first", tests.Success)
		}

		t.Logf("\tWhen skipping and limiting an ordered query")
		{
			docs, err := book.Objects().OrderBy("page_count").Skip(1).Limit(2).All()
			if err != nil {
				t.Fatalf("\t%s\tShould have materialized the bounded query: %s", tests.Failed, err)
			}

			if len(docs) != 2 || docs[0].Get("name") != "The Two Towers" {
				t.Fatalf("\t%s\tShould have windowed the ordered results: Count[%d]", tests.Failed, len(docs))
			}
			t.Logf("\t%s\tShould have windowed the ordered results", tests.Success)
		}

		t.Logf("\tWhen bounding a query to zero results")
		{
			finds := db.count("Find")

			docs, err := book.Objects().Limit(0).All()
			if err != nil {
				t.Fatalf("\t%s\tShould have materialized the empty query: %s", tests.Failed, err)
			}
			if len(docs) != 0 {
				t.Fatalf("\t%s\tShould have returned no documents: Count[%d]", tests.Failed, len(docs))
			}
			t.Logf("\t%s\tShould have returned no documents", tests.Success)

			if db.count("Find") != finds {
				t.Fatalf("\t%s\tShould not have touched the store at all: Finds[%d]", tests.Failed, db.count("Find"))
			}
			t.Logf("\t%s\tShould not have touched the store at all", tests.Success)
		}

		t.Logf("\tWhen giving a negative bound")
		{
			_, err := book.Objects().Limit(-1).All()
			if err == nil {
				t.Fatalf("\t%s\tShould have refused the negative bound", tests.Failed)
			}
			t.Logf("\t%s\tShould have refused the negative bound", tests.Success)
		}

		t.Logf("\tWhen asking only for the first match")
		{
			doc, err := book.Objects().OrderBy("-page_count").First()
			if err != nil {
				t.Fatalf("\t%s\tShould have fetched the first match: %s", tests.Failed, err)
			}
			if doc == nil || doc.Get("name") != "Unfinished Tales" {
				t.Fatalf("\t%s\tShould have returned the largest book: %v", tests.Failed, doc)
			}
			t.Logf("\t%s\tShould have returned the largest book", tests.Success)

			none, err := book.Objects().FilterBy(mongoset.Lookup{"name": "Missing"}).First()
			if err != nil || none != nil {
				t.Fatalf("\t%s\tShould have returned nothing without error on no match: %v %v", tests.Failed, none, err)
			}
			t.Logf("\t%s\tShould have returned nothing without error on no match", tests.Success)
		}
	}
}

// TestQuerySetGet validates the single-document fetch and its cardinality
// errors.
func TestQuerySetGet(t *testing.T) {
	tests.ResetLog()
	defer tests.DisplayLog()

	t.Logf("Given the need to fetch exactly one document")
	{
		book, _ := seedLibrary(t)

		t.Logf("\tWhen exactly one document matches")
		{
			doc, err := book.Objects().Get(mustWhere(t, book, mongoset.Lookup{"name": "The Hobbit"}))
			if err != nil {
				t.Fatalf("\t%s\tShould have fetched the single match: %s", tests.Failed, err)
			}
			if doc.Get("pages") != 310 {
				t.Fatalf("\t%s\tShould have returned the matching document: %+v", tests.Failed, doc.Fields())
			}
			t.Logf("\t%s\tShould have returned the matching document", tests.Success)
		}

		t.Logf("\tWhen nothing matches")
		{
			_, err := book.Objects().Get(mustWhere(t, book, mongoset.Lookup{"name": "Missing"}))
			if _, ok := err.(mongoset.DoesNotExistError); !ok {
				t.Fatalf("\t%s\tShould have failed with a does-not-exist error: %v", tests.Failed, err)
			}
			t.Logf("\t%s\tShould have failed with a does-not-exist error", tests.Success)
		}

		t.Logf("\tWhen more than one document matches")
		{
			_, err := book.Objects().Get(mustWhere(t, book, mongoset.Lookup{"saga": true}))
			if _, ok := err.(mongoset.MultipleObjectsReturnedError); !ok {
				t.Fatalf("\t%s\tShould have failed with a multiple-objects error: %v", tests.Failed, err)
			}
			t.Logf("\t%s\tShould have failed with a multiple-objects error", tests.Success)
		}
	}
}

// mustWhere builds a model-resolved expression, failing the test on a bad
// lookup.
func mustWhere(t *testing.T, m *mongoset.Model, lookups mongoset.Lookup) *mongoset.Q {
	q, err := m.Where(lookups)
	if err != nil {
		t.Fatalf("\t%s\tShould have built the lookup expression: %s", tests.Failed, err)
	}
	return q
}

// TestQuerySetBulk validates the bulk write and summary operations.
func TestQuerySetBulk(t *testing.T) {
	tests.ResetLog()
	defer tests.DisplayLog()

	t.Logf("Given the need to operate on matches without loading them")
	{
		book, _ := seedLibrary(t)

		t.Logf("\tWhen counting and probing for existence")
		{
			count, err := book.Objects().FilterBy(mongoset.Lookup{"saga": true}).Count()
			if err != nil || count != 3 {
				t.Fatalf("\t%s\tShould have counted the saga volumes: Count[%d] %v", tests.Failed, count, err)
			}
			t.Logf("\t%s\tShould have counted the saga volumes", tests.Success)

			exists, err := book.Objects().FilterBy(mongoset.Lookup{"name": "Missing"}).Exists()
			if err != nil || exists {
				t.Fatalf("\t%s\tShould have reported no match for a missing name: %v %v", tests.Failed, exists, err)
			}
			t.Logf("\t%s\tShould have reported no match for a missing name", tests.Success)
		}

		t.Logf("\tWhen collecting distinct values")
		{
			values, err := book.Objects().Distinct("status", false)
			if err != nil {
				t.Fatalf("\t%s\tShould have collected the distinct statuses: %s", tests.Failed, err)
			}
			if len(values) != 2 {
				t.Fatalf("\t%s\tShould have found two distinct statuses: %+v", tests.Failed, values)
			}
			t.Logf("\t%s\tShould have found two distinct statuses", tests.Success)
		}

		t.Logf("\tWhen bulk-updating every match")
		{
			info, err := book.Objects().FilterBy(mongoset.Lookup{"status": "draft"}).Update(bson.M{"status": "published"})
			if err != nil {
				t.Fatalf("\t%s\tShould have applied the bulk change: %s", tests.Failed, err)
			}
			if info.Updated != 1 {
				t.Fatalf("\t%s\tShould have touched exactly the drafts: Updated[%d]", tests.Failed, info.Updated)
			}
			t.Logf("\t%s\tShould have touched exactly the drafts", tests.Success)

			count, _ := book.Objects().FilterBy(mongoset.Lookup{"status": "published"}).Count()
			if count != 5 {
				t.Fatalf("\t%s\tShould have promoted every record: Count[%d]", tests.Failed, count)
			}
			t.Logf("\t%s\tShould have promoted every record", tests.Success)
		}

		t.Logf("\tWhen bulk-deleting matches")
		{
			removed, err := book.Objects().ExcludeBy(mongoset.Lookup{"saga": true}).Delete()
			if err != nil {
				t.Fatalf("\t%s\tShould have removed the matches: %s", tests.Failed, err)
			}
			if removed != 2 {
				t.Fatalf("\t%s\tShould have reported the removed count: Removed[%d]", tests.Failed, removed)
			}
			t.Logf("\t%s\tShould have reported the removed count", tests.Success)

			left, _ := book.Objects().Count()
			if left != 3 {
				t.Fatalf("\t%s\tShould have kept only the saga volumes: Count[%d]", tests.Failed, left)
			}
			t.Logf("\t%s\tShould have kept only the saga volumes", tests.Success)
		}

		t.Logf("\tWhen unsetting and renaming stored fields")
		{
			if _, err := book.Objects().Unset([]string{"saga"}); err != nil {
				t.Fatalf("\t%s\tShould have unset the field: %s", tests.Failed, err)
			}
			t.Logf("\t%s\tShould have unset the field", tests.Success)

			renamed, err := book.Objects().Rename(map[string]string{"page_count": "pages_total"})
			if err != nil {
				t.Fatalf("\t%s\tShould have renamed the field: %s", tests.Failed, err)
			}
			if renamed != 3 {
				t.Fatalf("\t%s\tShould have renamed on every record: Renamed[%d]", tests.Failed, renamed)
			}
			t.Logf("\t%s\tShould have renamed on every record", tests.Success)

			values, err := book.Objects().ValuesList([]string{"pages_total"}, true)
			if err != nil {
				t.Fatalf("\t%s\tShould have listed the renamed values: %s", tests.Failed, err)
			}
			if len(values) != 3 {
				t.Fatalf("\t%s\tShould have found the renamed field everywhere: %+v", tests.Failed, values)
			}
			t.Logf("\t%s\tShould have found the renamed field everywhere", tests.Success)
		}
	}
}

// TestQuerySetValuesAndAggregates validates projections, value lists and the
// summary aggregations.
func TestQuerySetValuesAndAggregates(t *testing.T) {
	tests.ResetLog()
	defer tests.DisplayLog()

	t.Logf("Given the need to fetch bare values and summaries")
	{
		book, _ := seedLibrary(t)

		t.Logf("\tWhen listing flat values of one field")
		{
			values, err := book.Objects().OrderBy("-page_count").Limit(2).ValuesList([]string{"page_count"}, true)
			if err != nil {
				t.Fatalf("\t%s\tShould have listed the values: %s", tests.Failed, err)
			}

			if len(values) != 2 || values[0] != 500 || values[1] != 423 {
				t.Fatalf("\t%s\tShould have returned the two largest counts in order: %+v", tests.Failed, values)
			}
			t.Logf("\t%s\tShould have returned the two largest counts in order", tests.Success)
		}

		t.Logf("\tWhen listing several fields per match")
		{
			values, err := book.Objects().FilterBy(mongoset.Lookup{"saga": true}).ValuesList([]string{"name", "page_count"}, false)
			if err != nil {
				t.Fatalf("\t%s\tShould have listed the records: %s", tests.Failed, err)
			}

			if len(values) != 3 {
				t.Fatalf("\t%s\tShould have returned one record per match: %+v", tests.Failed, values)
			}
			t.Logf("\t%s\tShould have returned one record per match", tests.Success)

			record, ok := values[0].(bson.M)
			if !ok {
				t.Fatalf("\t%s\tShould have projected each record to the giving fields: %+v", tests.Failed, values[0])
			}
			if _, found := record["status"]; found {
				t.Fatalf("\t%s\tShould have projected each record to the giving fields: %+v", tests.Failed, record)
			}
			t.Logf("\t%s\tShould have projected each record to the giving fields", tests.Success)
		}

		t.Logf("\tWhen asking for flat values of several fields")
		{
			if _, err := book.Objects().ValuesList([]string{"name", "page_count"}, true); err == nil {
				t.Fatalf("\t%s\tShould have refused flattening more than one field", tests.Failed)
			}
			t.Logf("\t%s\tShould have refused flattening more than one field", tests.Success)
		}

		t.Logf("\tWhen summing a field across matches")
		{
			totals, err := book.Objects().FilterBy(mongoset.Lookup{"saga": true}).Sum("page_count")
			if err != nil {
				t.Fatalf("\t%s\tShould have summed the matches: %s", tests.Failed, err)
			}

			if totals["page_count"] != float64(1191) {
				t.Fatalf("\t%s\tShould have totaled the saga pages: %+v", tests.Failed, totals)
			}
			t.Logf("\t%s\tShould have totaled the saga pages", tests.Success)
		}

		t.Logf("\tWhen averaging a field across matches")
		{
			averages, err := book.Objects().FilterBy(mongoset.Lookup{"saga": true}).Avg("page_count")
			if err != nil {
				t.Fatalf("\t%s\tShould have averaged the matches: %s", tests.Failed, err)
			}

			if averages["page_count"] != float64(397) {
				t.Fatalf("\t%s\tShould have averaged the saga pages: %+v", tests.Failed, averages)
			}
			t.Logf("\t%s\tShould have averaged the saga pages", tests.Success)
		}
	}
}

// TestQuerySetPop validates the fetch-and-remove operation.
func TestQuerySetPop(t *testing.T) {
	tests.ResetLog()
	defer tests.DisplayLog()

	t.Logf("Given the need to claim one document and remove it in one step")
	{
		book, _ := seedLibrary(t)

		t.Logf("\tWhen popping the largest book")
		{
			doc, err := book.Objects().OrderBy("-page_count").Pop()
			if err != nil {
				t.Fatalf("\t%s\tShould have popped a document: %s", tests.Failed, err)
			}

			if doc.Get("name") != "Unfinished Tales" {
				t.Fatalf("\t%s\tShould have claimed the largest book: %v", tests.Failed, doc.Get("name"))
			}
			t.Logf("\t%s\tShould have claimed the largest book", tests.Success)

			count, _ := book.Objects().Count()
			if count != 4 {
				t.Fatalf("\t%s\tShould have removed the claimed record: Count[%d]", tests.Failed, count)
			}
			t.Logf("\t%s\tShould have removed the claimed record", tests.Success)
		}

		t.Logf("\tWhen popping from an empty match")
		{
			_, err := book.Objects().FilterBy(mongoset.Lookup{"name": "Missing"}).Pop()
			if _, ok := err.(mongoset.DoesNotExistError); !ok {
				t.Fatalf("\t%s\tShould have failed with a does-not-exist error: %v", tests.Failed, err)
			}
			t.Logf("\t%s\tShould have failed with a does-not-exist error", tests.Success)
		}
	}
}

// TestPolymorphicShapes validates shapes sharing one collection behind
// discriminator filters.
func TestPolymorphicShapes(t *testing.T) {
	tests.ResetLog()
	defer tests.DisplayLog()

	t.Logf("Given the need to store several shapes in one collection")
	{
		db := newCountingDB(storage.New())

		vehicle := func(name, kind string) *mongoset.Model {
			filter, err := mongoset.Where(mongoset.Lookup{"kind": kind})
			if err != nil {
				t.Fatalf("\t%s\tShould have built the %s discriminator: %s", tests.Failed, kind, err)
			}

			m, err := mongoset.NewModel(mongoset.Config{
				Name:       name,
				Collection: "vehicules",
				Filters:    filter,
				Fields: []mongoset.Field{
					{Name: "name", Kind: mongoset.String, Required: true},
					{Name: "kind", Kind: mongoset.String},
				},
			})
			if err != nil {
				t.Fatalf("\t%s\tShould have registered the %s shape: %s", tests.Failed, name, err)
			}

			m.Use(db)
			return m
		}

		plane := vehicle("Plane", "plane")
		car := vehicle("Car", "car")

		t.Logf("\tWhen creating documents of both shapes")
		{
			if _, err := plane.Objects().Create(bson.M{"name": "spitfire"}); err != nil {
				t.Fatalf("\t%s\tShould have created the plane: %s", tests.Failed, err)
			}
			if _, err := car.Objects().Create(bson.M{"name": "beetle"}); err != nil {
				t.Fatalf("\t%s\tShould have created the car: %s", tests.Failed, err)
			}
			if _, err := car.Objects().Create(bson.M{"name": "mini"}); err != nil {
				t.Fatalf("\t%s\tShould have created the second car: %s", tests.Failed, err)
			}
			t.Logf("\t%s\tShould have created documents of both shapes", tests.Success)
		}

		t.Logf("\tWhen querying each shape")
		{
			planes, err := plane.Objects().Count()
			if err != nil || planes != 1 {
				t.Fatalf("\t%s\tShould have scoped the planes to their discriminator: Count[%d] %v", tests.Failed, planes, err)
			}
			t.Logf("\t%s\tShould have scoped the planes to their discriminator", tests.Success)

			cars, err := car.Objects().Count()
			if err != nil || cars != 2 {
				t.Fatalf("\t%s\tShould have scoped the cars to their discriminator: Count[%d] %v", tests.Failed, cars, err)
			}
			t.Logf("\t%s\tShould have scoped the cars to their discriminator", tests.Success)
		}

		t.Logf("\tWhen deleting through one shape")
		{
			removed, err := car.Objects().Delete()
			if err != nil || removed != 2 {
				t.Fatalf("\t%s\tShould have removed only the cars: Removed[%d] %v", tests.Failed, removed, err)
			}
			t.Logf("\t%s\tShould have removed only the cars", tests.Success)

			planes, _ := plane.Objects().Count()
			if planes != 1 {
				t.Fatalf("\t%s\tShould have left the planes untouched: Count[%d]", tests.Failed, planes)
			}
			t.Logf("\t%s\tShould have left the planes untouched", tests.Success)
		}
	}
}

// TestTransformHook validates the post-fetch transform of raw records.
func TestTransformHook(t *testing.T) {
	tests.ResetLog()
	defer tests.DisplayLog()

	t.Logf("Given the need to massage raw records before validation")
	{
		db := newCountingDB(storage.New())

		book, err := mongoset.NewModel(mongoset.Config{
			Name: "Book",
			Fields: []mongoset.Field{
				{Name: "name", Kind: mongoset.String, Required: true},
				{Name: "pages", Kind: mongoset.Int},
			},
			Transform: func(raw bson.M) bson.M {
				// Legacy records stored the count as "pagecount".
				if legacy, ok := raw["pagecount"]; ok {
					raw["pages"] = legacy
					delete(raw, "pagecount")
				}
				return raw
			},
		})
		if err != nil {
			t.Fatalf("\t%s\tShould have registered the shape: %s", tests.Failed, err)
		}

		book.Use(db)

		t.Logf("\tWhen fetching a legacy record")
		{
			if _, err := db.C("books").InsertOne(bson.M{"name": "Dune", "pagecount": 412}); err != nil {
				t.Fatalf("\t%s\tShould have stored the legacy record: %s", tests.Failed, err)
			}

			doc, err := book.Objects().Get()
			if err != nil {
				t.Fatalf("\t%s\tShould have fetched the record through the transform: %s", tests.Failed, err)
			}
			t.Logf("\t%s\tShould have fetched the record through the transform", tests.Success)

			if doc.Get("pages") != 412 {
				t.Fatalf("\t%s\tShould have migrated the legacy field in memory: %+v", tests.Failed, doc.Fields())
			}
			t.Logf("\t%s\tShould have migrated the legacy field in memory", tests.Success)
		}
	}
}
