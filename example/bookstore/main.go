package main

import (
	"fmt"
	"os"

	"github.com/ardanlabs/kit/log"
	"gopkg.in/mgo.v2/bson"

	"github.com/influx6/mongoset"
	"github.com/influx6/mongoset/db/mongo"
	"github.com/influx6/mongoset/utils"
)

func init() {
	log.Init(os.Stdout, func() int { return log.DEV }, log.Ldefault)
}

//==============================================================================

var events eventlog

// eventlog provides a concrete implementation of a logger.
type eventlog struct{}

// Log logs all standard log reports.
func (l eventlog) Log(context interface{}, name string, message string, data ...interface{}) {
	log.Dev(fmt.Sprintf("%v", context), name, message, data...)
}

// Error logs all error reports.
func (l eventlog) Error(context interface{}, name string, err error, message string, data ...interface{}) {
	log.Error(fmt.Sprintf("%v", context), name, err, message, data...)
}

//==============================================================================

var context = "bookstore"

//==============================================================================

func main() {

	db, err := mongo.New(events, mongo.Config{
		Host:   "127.0.0.1:27017",
		AuthDB: "bookstore",
		DB:     "bookstore",
	})
	if err != nil {
		events.Error(context, "main", err, "Connecting to the store")
		os.Exit(1)
	}

	defer db.Close()

	book, err := mongoset.NewModel(mongoset.Config{
		Name:   "Book",
		Events: events,
		Fields: []mongoset.Field{
			{Name: "name", Kind: mongoset.String, Required: true},
			{Name: "saga", Kind: mongoset.String},
			{Name: "pages", Kind: mongoset.Int},
			{Name: "volume", Kind: mongoset.Int, Required: true},
			{Name: "status", Kind: mongoset.String, Default: "NotRead",
				Enum: []interface{}{"NotRead", "Reading", "Read"}},
		},
	})
	if err != nil {
		events.Error(context, "main", err, "Registering the Book shape")
		os.Exit(1)
	}

	book.Use(db)

	if _, err := book.Objects().Create(bson.M{"name": "LOTR", "volume": 1, "pages": 423}); err != nil {
		events.Error(context, "main", err, "Creating a book")
		os.Exit(1)
	}

	unread, err := book.Objects().FilterBy(mongoset.Lookup{"status": "NotRead"}).OrderBy("-pages").All()
	if err != nil {
		events.Error(context, "main", err, "Listing unread books")
		os.Exit(1)
	}

	for _, b := range unread {
		fmt.Printf("Unread: %s\n", utils.Query.Query(b.Fields()))
	}

	pages, err := book.Objects().Sum("pages")
	if err != nil {
		events.Error(context, "main", err, "Summing pages")
		os.Exit(1)
	}

	fmt.Printf("Total pages: %v\n", pages["pages"])
}
