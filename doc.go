// Package mongoset provides a document-mapping layer for MongoDB-style
// document stores. Record shapes are declared once with their field metadata,
// queried through a composable expression algebra and a lazy chainable
// QuerySet, and persisted through a document lifecycle that decides
// insert-vs-update from the identity field, without the caller ever writing
// wire-level filter documents by hand.
// eg
/*

  book, _ := mongoset.NewModel(mongoset.Config{
    Name: "Book",
    Fields: []mongoset.Field{
      {Name: "name", Kind: mongoset.String, Required: true},
      {Name: "volume", Kind: mongoset.Int, Required: true},
      {Name: "status", Kind: mongoset.String, Default: "NotRead",
        Enum: []interface{}{"NotRead", "Reading", "Read"}},
    },
  })

  q, _ := mongoset.Where(mongoset.Lookup{"volume__gte": 2})
  books, _ := book.Objects().Filter(q).OrderBy("-name").All()

*/
package mongoset
