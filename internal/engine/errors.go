package engine

import (
	"errors"
	"fmt"

	"github.com/fieldsync/fieldsync/internal/entity"
	"github.com/fieldsync/fieldsync/internal/store"
)

// ErrNotFound is returned when the record was soft-deleted or never
// existed. Terminal for the request; clients drop their local reference.
var ErrNotFound = errors.New("record no longer exists")

// ErrUnknownType is returned for an entity type with no registered
// descriptor.
var ErrUnknownType = errors.New("unknown entity type")

// ConflictError rejects a whole mutation because at least one versioned
// field's client baseline no longer matches the server, or because CAS
// contention persisted past the bounded retry. ServerRecord carries the
// current canonical state so the client can re-fetch-free retry with a
// fresh baseline.
type ConflictError struct {
	Conflicts    entity.ConflictReport
	ServerRecord *entity.Record
}

func (e *ConflictError) Error() string {
	if len(e.Conflicts) == 0 {
		return "record contended, retry with fresh state"
	}
	return fmt.Sprintf("version conflict on %d field(s)", len(e.Conflicts))
}

// CollisionError rejects a create or rename whose identity label is
// already used within the collection, soft-deleted records included.
// Suggestion is the next available variant of the requested label.
type CollisionError struct {
	Label      string
	Suggestion string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("label %q already in use (try %q)", e.Label, e.Suggestion)
}

// AsConflict returns the ConflictError wrapped in err, or nil.
func AsConflict(err error) *ConflictError {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce
	}
	return nil
}

// AsCollision returns the CollisionError wrapped in err, or nil.
func AsCollision(err error) *CollisionError {
	var ce *CollisionError
	if errors.As(err, &ce) {
		return ce
	}
	return nil
}

// IsUnavailable reports whether err is a transient store failure that
// the boundary should surface as a temporary outage.
func IsUnavailable(err error) bool {
	return store.IsTransient(err)
}
