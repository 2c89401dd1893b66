// Package sentinel holds the infrastructure errors stores return. Services
// translate them into domain errors; callers match with errors.Is.
//
//   - ErrNotFound: no such record
//   - ErrConflict: a unique value is held by another record
//   - ErrAlreadyUsed: the key was already written, by this or another writer
//   - ErrInvalidState: the record is not in the state a transition expects
//
// Input validation failures belong in pkg/domain-errors instead.
package sentinel

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
)
