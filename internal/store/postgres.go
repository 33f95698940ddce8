package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fieldsync/fieldsync/internal/entity"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the records table DDL. Migration tooling is out of scope;
// EnsureSchema applies it idempotently at startup.
const Schema = `
CREATE TABLE IF NOT EXISTS records (
	id               UUID PRIMARY KEY,
	entity_type      TEXT NOT NULL,
	collection_id    TEXT NOT NULL,
	label            TEXT NOT NULL,
	version          BIGINT NOT NULL,
	field_versions   JSONB NOT NULL,
	fields           JSONB NOT NULL,
	last_modified_by TEXT NOT NULL DEFAULT '',
	updated_at       TIMESTAMPTZ NOT NULL,
	deleted          BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE UNIQUE INDEX IF NOT EXISTS records_collection_label
	ON records (entity_type, collection_id, LOWER(label));
CREATE INDEX IF NOT EXISTS records_collection
	ON records (entity_type, collection_id) WHERE NOT deleted;
`

// PostgresStore is the production VersionStore backed by a pgx pool.
//
// Transient failures (dropped connections, deadlocks, serialization
// aborts) are retried internally with capped backoff; anything that
// still fails after the retries is returned wrapped in TransientError
// so the boundary can report a temporary outage.
type PostgresStore struct {
	pool     *pgxpool.Pool
	attempts int
	backoff  time.Duration
}

var _ VersionStore = (*PostgresStore)(nil)

// NewPostgresStore creates a store on an existing pool. attempts is the
// total number of tries per operation (minimum 1); backoff is the base
// delay between tries, doubled each retry.
func NewPostgresStore(pool *pgxpool.Pool, attempts int, backoff time.Duration) *PostgresStore {
	if attempts < 1 {
		attempts = 1
	}
	return &PostgresStore{pool: pool, attempts: attempts, backoff: backoff}
}

// EnsureSchema creates the records table and indexes if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Get implements VersionStore.
func (s *PostgresStore) Get(ctx context.Context, typ, id string) (*entity.Record, error) {
	var rec *entity.Record
	err := s.withRetry(ctx, func() error {
		row := s.pool.QueryRow(ctx, `
SELECT id, entity_type, collection_id, label, version, field_versions, fields,
       last_modified_by, updated_at, deleted
FROM records WHERE entity_type = $1 AND id = $2`, typ, id)
		var err error
		rec, err = scanRecord(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Create implements VersionStore. The unique index on
// (entity_type, collection_id, LOWER(label)) has no deleted predicate,
// so a soft-deleted record's label stays reserved.
func (s *PostgresStore) Create(ctx context.Context, rec *entity.Record) error {
	fieldVersions, fields, err := marshalMaps(rec)
	if err != nil {
		return err
	}
	return s.withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, `
INSERT INTO records
	(id, entity_type, collection_id, label, version, field_versions, fields,
	 last_modified_by, updated_at, deleted)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			rec.ID, rec.Type, rec.CollectionID, rec.Label, rec.Version,
			fieldVersions, fields, rec.LastModifiedBy, rec.UpdatedAt, rec.Deleted)
		return err
	})
}

// Put implements VersionStore. The WHERE version = $n predicate is the
// compare-and-swap: zero rows affected means another mutation landed
// first and the caller must restart from a fresh read.
func (s *PostgresStore) Put(ctx context.Context, rec *entity.Record, expectedVersion int64) error {
	fieldVersions, fields, err := marshalMaps(rec)
	if err != nil {
		return err
	}
	return s.withRetry(ctx, func() error {
		tag, err := s.pool.Exec(ctx, `
UPDATE records SET
	label = $3, version = $4, field_versions = $5, fields = $6,
	last_modified_by = $7, updated_at = $8, deleted = $9
WHERE entity_type = $1 AND id = $2 AND version = $10`,
			rec.Type, rec.ID, rec.Label, rec.Version, fieldVersions, fields,
			rec.LastModifiedBy, rec.UpdatedAt, rec.Deleted, expectedVersion)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			// Distinguish a lost CAS race from a missing record.
			var exists bool
			if err := s.pool.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM records WHERE entity_type = $1 AND id = $2)`,
				rec.Type, rec.ID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return ErrNotFound
			}
			return ErrVersionMismatch
		}
		return nil
	})
}

// List implements VersionStore.
func (s *PostgresStore) List(ctx context.Context, typ, collectionID string) ([]*entity.Record, error) {
	var result []*entity.Record
	err := s.withRetry(ctx, func() error {
		rows, err := s.pool.Query(ctx, `
SELECT id, entity_type, collection_id, label, version, field_versions, fields,
       last_modified_by, updated_at, deleted
FROM records
WHERE entity_type = $1 AND collection_id = $2 AND NOT deleted
ORDER BY id`, typ, collectionID)
		if err != nil {
			return err
		}
		defer rows.Close()

		result = result[:0]
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				return err
			}
			result = append(result, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Labels implements VersionStore. Soft-deleted rows are included.
func (s *PostgresStore) Labels(ctx context.Context, typ, collectionID string) ([]string, error) {
	var labels []string
	err := s.withRetry(ctx, func() error {
		rows, err := s.pool.Query(ctx,
			`SELECT label FROM records WHERE entity_type = $1 AND collection_id = $2 ORDER BY label`,
			typ, collectionID)
		if err != nil {
			return err
		}
		defer rows.Close()

		labels = labels[:0]
		for rows.Next() {
			var l string
			if err := rows.Scan(&l); err != nil {
				return err
			}
			labels = append(labels, l)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return labels, nil
}

// withRetry runs op, retrying transient failures with doubling backoff.
// Logic errors (not found, CAS miss, label taken) pass through
// untouched so retries never mask a conflict.
func (s *PostgresStore) withRetry(ctx context.Context, op func() error) error {
	delay := s.backoff
	var err error
	for attempt := 0; attempt < s.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		err = op()
		if err == nil {
			return nil
		}
		if mapped := mapPgError(err); mapped != nil {
			return mapped
		}
		if !transient(err) {
			return err
		}
	}
	return &TransientError{Err: err}
}

// mapPgError converts well-known database errors to store sentinels.
// Returns nil when err is not a terminal logic error.
func mapPgError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrVersionMismatch) || errors.Is(err, ErrLabelTaken) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrLabelTaken
	}
	return nil
}

// transient reports whether the failure is worth retrying: connection
// loss, resource exhaustion, shutdown, deadlock, serialization abort.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"): // connection exception
			return true
		case strings.HasPrefix(pgErr.Code, "53"): // insufficient resources
			return true
		case strings.HasPrefix(pgErr.Code, "57"): // operator intervention
			return true
		case pgErr.Code == "40001" || pgErr.Code == "40P01":
			return true
		}
		return false
	}
	// Non-Postgres errors here are network-level failures from the pool.
	return true
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*entity.Record, error) {
	var (
		rec               entity.Record
		fieldVersionsJSON []byte
		fieldsJSON        []byte
	)
	err := row.Scan(&rec.ID, &rec.Type, &rec.CollectionID, &rec.Label, &rec.Version,
		&fieldVersionsJSON, &fieldsJSON, &rec.LastModifiedBy, &rec.UpdatedAt, &rec.Deleted)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fieldVersionsJSON, &rec.FieldVersions); err != nil {
		return nil, fmt.Errorf("decode field_versions: %w", err)
	}
	if err := json.Unmarshal(fieldsJSON, &rec.Fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return &rec, nil
}

func marshalMaps(rec *entity.Record) (fieldVersions, fields []byte, err error) {
	fieldVersions, err = json.Marshal(rec.FieldVersions)
	if err != nil {
		return nil, nil, fmt.Errorf("encode field_versions: %w", err)
	}
	fields, err = json.Marshal(rec.Fields)
	if err != nil {
		return nil, nil, fmt.Errorf("encode fields: %w", err)
	}
	return fieldVersions, fields, nil
}
