package utils

import (
	"errors"
	"fmt"
)

var ErrorRecordNotFound = errors.New("record not found")

// ValidationError reports bad caller input (negative amount, missing id).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func NewValidationError(field string, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// InvalidStateError reports an operation attempted from a state that forbids
// it. Current and Expected carry enough context for a user-facing message.
type InvalidStateError struct {
	Entity   string
	Id       int
	Current  string
	Expected string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %d is %s, expected %s", e.Entity, e.Id, e.Current, e.Expected)
}

func NewInvalidStateError(entity string, id int, current string, expected string) error {
	return &InvalidStateError{Entity: entity, Id: id, Current: current, Expected: expected}
}

// NotFoundError reports a referenced entity that is absent.
type NotFoundError struct {
	Entity string
	Id     int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.Id)
}

func NewNotFoundError(entity string, id int) error {
	return &NotFoundError{Entity: entity, Id: id}
}

// PersistenceError wraps a store failure from a multi-step orchestration.
// Step names which step failed so callers never see a generic failure.
type PersistenceError struct {
	Step string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure at step %q: %v", e.Step, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func NewPersistenceError(step string, err error) error {
	return &PersistenceError{Step: step, Err: err}
}

// ConsistencyError reports a derived row found out of sync with its source
// of truth, or duplicate unsettled ledger rows. It must be surfaced to an
// operator, never silently merged.
type ConsistencyError struct {
	CheckName string
	Detail    string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency check %s failed: %s", e.CheckName, e.Detail)
}

func NewConsistencyError(checkName string, detail string) error {
	return &ConsistencyError{CheckName: checkName, Detail: detail}
}
