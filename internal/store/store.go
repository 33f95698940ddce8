// Package store defines the persistence contract for synchronized
// records and provides two implementations: an in-memory store used by
// tests and single-process deployments, and a PostgreSQL store built on
// pgx for production.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/fieldsync/fieldsync/internal/entity"
)

// ErrNotFound is returned when no record exists for the requested id.
var ErrNotFound = errors.New("record not found")

// ErrVersionMismatch is returned by Put when the record's version
// changed since the read that produced the update. The caller retries
// against fresh state; the store never blind-overwrites.
var ErrVersionMismatch = errors.New("record version changed")

// ErrLabelTaken is returned by Create or Put when the record's identity
// label is already used within the same collection, soft-deleted records
// included.
var ErrLabelTaken = errors.New("label already in use")

// TransientError wraps a store failure that is expected to clear on
// retry, such as a dropped connection. The Postgres store retries these
// internally with backoff; if one escapes, the caller should surface it
// as a temporary outage rather than a logic error.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient store failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// VersionStore is the persistence collaborator the sync engine depends
// on. Implementations must provide read-by-id, conditional
// update-if-version-matches, and create-with-uniqueness-check against
// the identity label.
type VersionStore interface {
	// Get returns the record with the given id, including soft-deleted
	// records. ErrNotFound if the id was never created.
	Get(ctx context.Context, typ, id string) (*entity.Record, error)

	// Create inserts a new record. ErrLabelTaken if rec.Label is already
	// used within rec.CollectionID for the type, scanning soft-deleted
	// rows too.
	Create(ctx context.Context, rec *entity.Record) error

	// Put replaces the stored record if and only if its current version
	// equals expectedVersion (compare-and-swap). ErrVersionMismatch on
	// contention; ErrLabelTaken if the write renames the record to a
	// label already in use.
	Put(ctx context.Context, rec *entity.Record, expectedVersion int64) error

	// List returns the live (not soft-deleted) records of a collection.
	List(ctx context.Context, typ, collectionID string) ([]*entity.Record, error)

	// Labels returns every identity label used in the collection,
	// soft-deleted records included. Used to compute rename suggestions.
	Labels(ctx context.Context, typ, collectionID string) ([]string, error)
}
