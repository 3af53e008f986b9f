package storage

import (
	"fmt"
	"strings"

	"gopkg.in/mgo.v2/bson"

	"github.com/influx6/mongoset"
)

// Collection implements the full driver contract.
var _ mongoset.Collection = (*Collection)(nil)

//==============================================================================

// Aggregate runs the supported pipeline subset over the collection:
// $match, $sort, $skip, $limit and a single-bucket $group with $sum/$avg
// accumulators. Stages execute in the order giving.
func (c *Collection) Aggregate(pipeline []bson.M) (mongoset.Cursor, error) {
	c.rl.RLock()
	records := c.matching(bson.M{})
	c.rl.RUnlock()

	for _, stage := range pipeline {
		for op, operand := range stage {
			var err error

			switch op {
			case "$match":
				records, err = stageMatch(records, operand)

			case "$sort":
				err = stageSort(records, operand)

			case "$skip":
				records, err = stageSkip(records, operand)

			case "$limit":
				records, err = stageLimit(records, operand)

			case "$group":
				records, err = stageGroup(records, operand)

			default:
				err = fmt.Errorf("Unsupported pipeline stage %q", op)
			}

			if err != nil {
				return nil, err
			}
		}
	}

	return &sliceCursor{records: records}, nil
}

//==============================================================================

func stageMatch(records []bson.M, operand interface{}) ([]bson.M, error) {
	filter, ok := asRecord(operand)
	if !ok {
		return nil, fmt.Errorf("$match needs a filter document")
	}

	var out []bson.M
	for _, record := range records {
		if Matches(record, filter) {
			out = append(out, record)
		}
	}

	return out, nil
}

func stageSort(records []bson.M, operand interface{}) error {
	spec, ok := asRecord(operand)
	if !ok {
		return fmt.Errorf("$sort needs a document operand")
	}

	var fields []string
	for name, direction := range spec {
		if n, ok := toFloat(direction); ok && n < 0 {
			fields = append(fields, "-"+name)
			continue
		}
		fields = append(fields, name)
	}

	sortRecords(records, fields)
	return nil
}

func stageSkip(records []bson.M, operand interface{}) ([]bson.M, error) {
	n, ok := toFloat(operand)
	if !ok {
		return nil, fmt.Errorf("$skip needs a numeric operand")
	}

	bound := int(n)
	if bound >= len(records) {
		return nil, nil
	}

	return records[bound:], nil
}

func stageLimit(records []bson.M, operand interface{}) ([]bson.M, error) {
	n, ok := toFloat(operand)
	if !ok {
		return nil, fmt.Errorf("$limit needs a numeric operand")
	}

	bound := int(n)
	if bound < len(records) {
		records = records[:bound]
	}

	return records, nil
}

// stageGroup folds every record into one bucket, applying the accumulator
// declared for each output field.
func stageGroup(records []bson.M, operand interface{}) ([]bson.M, error) {
	spec, ok := asRecord(operand)
	if !ok {
		return nil, fmt.Errorf("$group needs a document operand")
	}

	result := bson.M{"_id": spec["_id"]}

	for field, accumulator := range spec {
		if field == "_id" {
			continue
		}

		acc, ok := asRecord(accumulator)
		if !ok || len(acc) != 1 {
			return nil, fmt.Errorf("Accumulator for %q must hold one operator", field)
		}

		for op, ref := range acc {
			values := fieldValues(records, ref)

			var total float64
			for _, value := range values {
				total += value
			}

			switch op {
			case "$sum":
				result[field] = total

			case "$avg":
				if len(values) == 0 {
					result[field] = float64(0)
					continue
				}
				result[field] = total / float64(len(values))

			default:
				return nil, fmt.Errorf("Unsupported accumulator %q", op)
			}
		}
	}

	return []bson.M{result}, nil
}

// fieldValues resolves a "$field" reference across the records, keeping only
// numeric values.
func fieldValues(records []bson.M, ref interface{}) []float64 {
	path, ok := ref.(string)
	if !ok || !strings.HasPrefix(path, "$") {
		return nil
	}

	path = path[1:]

	var out []float64
	for _, record := range records {
		if value, exists := valueAt(record, path); exists {
			if n, ok := toFloat(value); ok {
				out = append(out, n)
			}
		}
	}

	return out
}
