package mongoset

import (
	"fmt"
	"strings"

	"github.com/influx6/mongoset/parser"
)

//==============================================================================

// UnknownLookupError is returned when a lookup token carries an operator
// outside the recognized set.
type UnknownLookupError = parser.UnknownLookupError

//==============================================================================

// DoesNotExistError is returned by QuerySet.Get when no document matches the
// compiled filter.
type DoesNotExistError struct {
	Model  string
	Filter string
}

// Error returns the error message for the failed match.
func (e DoesNotExistError) Error() string {
	return fmt.Sprintf("%s : No document matches %s", e.Model, e.Filter)
}

//==============================================================================

// MultipleObjectsReturnedError is returned by QuerySet.Get when more than one
// document matches the compiled filter.
type MultipleObjectsReturnedError struct {
	Model  string
	Filter string
}

// Error returns the error message for the ambiguous match.
func (e MultipleObjectsReturnedError) Error() string {
	return fmt.Sprintf("%s : More than one document matches %s", e.Model, e.Filter)
}

//==============================================================================

// NotConnectedError is returned when a terminal operation runs before the
// model has been handed an active database handle.
type NotConnectedError struct {
	Model string
}

// Error returns the error message for the missing handle.
func (e NotConnectedError) Error() string {
	return fmt.Sprintf("%s : Use a database handle with Model.Use before querying", e.Model)
}

//==============================================================================

// DocumentNotSavedError is returned when an operation needs the identity of a
// document that has never been persisted.
type DocumentNotSavedError struct {
	Model string
}

// Error returns the error message for the unsaved document.
func (e DocumentNotSavedError) Error() string {
	return fmt.Sprintf("%s : Document has no identity value", e.Model)
}

//==============================================================================

// FieldFault reports a single offending field from a validation run.
type FieldFault struct {
	Field  string
	Reason string
}

// ValidationError is returned when a record fails validation against its
// model's declared fields. It carries every offending field.
type ValidationError struct {
	Model  string
	Faults []FieldFault
}

// Error returns the error message listing the offending fields.
func (e ValidationError) Error() string {
	parts := make([]string, 0, len(e.Faults))
	for _, fault := range e.Faults {
		parts = append(parts, fault.Field+": "+fault.Reason)
	}

	return fmt.Sprintf("%s : Validation failed : %s", e.Model, strings.Join(parts, ", "))
}
