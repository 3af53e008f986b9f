// Package bulk runs document persistence over a bounded worker pool,
// fanning Save and Delete calls for many documents across concurrent workers
// and collecting every failure.
package bulk

import (
	"fmt"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/pborman/uuid"

	"github.com/influx6/mongoset"
)

//==============================================================================

// Config provides configuration for a bulk runner.
type Config struct {
	// Events receives operation reports. Nil discards them.
	Events mongoset.Events

	// Workers bounds the concurrent driver calls. Zero means 10.
	Workers int
}

//==============================================================================

// Errors aggregates the failures of one bulk run, in no particular order.
type Errors []error

// Error returns the combined error message.
func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, err := range e {
		parts = append(parts, err.Error())
	}

	return fmt.Sprintf("Bulk run failed for %d document(s) : %s", len(e), strings.Join(parts, "; "))
}

//==============================================================================

// Runner owns a worker pool applying document operations concurrently.
// Close it when done to release the workers.
type Runner struct {
	events  mongoset.Events
	workers int
	pool    *ants.Pool
}

// New returns a Runner with its worker pool started.
func New(c Config) (*Runner, error) {
	if c.Workers <= 0 {
		c.Workers = 10
	}

	if c.Events == nil {
		c.Events = mongoset.NopEvents
	}

	pool, err := ants.NewPool(c.Workers)
	if err != nil {
		return nil, err
	}

	return &Runner{events: c.Events, workers: c.Workers, pool: pool}, nil
}

// Close releases the worker pool.
func (r *Runner) Close() {
	r.pool.Release()
}

//==============================================================================

// Save persists every giving document concurrently, inserts and updates
// dispatched per document the same way Document.Save decides. It waits for
// every worker and returns the collected failures, nil when all succeeded.
func (r *Runner) Save(docs ...*mongoset.Document) error {
	return r.each("Runner.Save", docs, func(doc *mongoset.Document) error {
		return doc.Save()
	})
}

// Delete removes every giving document concurrently, clearing identities on
// success.
func (r *Runner) Delete(docs ...*mongoset.Document) error {
	return r.each("Runner.Delete", docs, func(doc *mongoset.Document) error {
		return doc.Delete()
	})
}

// Each applies fn to every giving document across the worker pool.
func (r *Runner) Each(docs []*mongoset.Document, fn func(*mongoset.Document) error) error {
	return r.each("Runner.Each", docs, fn)
}

// each fans the operation out and gathers failures.
func (r *Runner) each(name string, docs []*mongoset.Document, fn func(*mongoset.Document) error) error {
	rid := uuid.New()
	r.events.Log(rid, name, "Started : Documents[%d] : Workers[%d]", len(docs), r.workers)

	var wg sync.WaitGroup
	var fl sync.Mutex
	var failures Errors

	for _, doc := range docs {
		doc := doc
		wg.Add(1)

		submit := func() {
			defer wg.Done()

			if err := fn(doc); err != nil {
				fl.Lock()
				failures = append(failures, err)
				fl.Unlock()
			}
		}

		if err := r.pool.Submit(submit); err != nil {
			wg.Done()
			fl.Lock()
			failures = append(failures, err)
			fl.Unlock()
		}
	}

	wg.Wait()

	if len(failures) > 0 {
		r.events.Error(rid, name, failures, "Completed")
		return failures
	}

	r.events.Log(rid, name, "Completed")
	return nil
}
