package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fieldsync/fieldsync/internal/entity"
	"github.com/fieldsync/fieldsync/internal/store"
	"github.com/google/uuid"
)

// ErrLabelRequired is returned by Create when the identity label field
// is missing or empty.
var ErrLabelRequired = errors.New("identity label is required")

// Broadcaster is the pub/sub dependency the engine publishes accepted
// changes through. Injected so the same engine runs against an
// in-memory hub in tests and a networked hub in production. Publish
// must not block the caller.
type Broadcaster interface {
	Publish(collectionID string, ev entity.Event)
}

// Engine is the generic field-level sync engine. One instance serves
// every registered entity type; all type-specific behavior comes from
// the entity.Descriptor registry.
//
// Mutations to different records proceed fully in parallel. Mutations
// to the same record are serialized only by the compare-and-swap on the
// record version: no lock is held across the read-detect-write cycle,
// and a lost race restarts once from fresh state before surfacing a
// conflict.
type Engine struct {
	store      store.VersionStore
	bcast      Broadcaster
	casRetries int
	now        func() time.Time
}

// New creates an engine on the given store and broadcaster. bcast may
// be nil, which disables broadcasting (useful in tests that only
// exercise the accept/reject protocol).
func New(st store.VersionStore, bcast Broadcaster) *Engine {
	return &Engine{
		store:      st,
		bcast:      bcast,
		casRetries: 1,
		now:        time.Now,
	}
}

// Get returns the canonical record, or ErrNotFound if it was deleted or
// never existed.
func (e *Engine) Get(ctx context.Context, typ, id string) (*entity.Record, error) {
	if _, ok := entity.Get(typ); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typ)
	}
	rec, err := e.store.Get(ctx, typ, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if rec.Deleted {
		return nil, ErrNotFound
	}
	return rec, nil
}

// List returns the live records of a collection.
func (e *Engine) List(ctx context.Context, typ, collectionID string) ([]*entity.Record, error) {
	if _, ok := entity.Get(typ); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typ)
	}
	return e.store.List(ctx, typ, collectionID)
}

// Create inserts a new record with version 1 and every versioned field
// counter at 1. The identity label must be unique within the collection,
// soft-deleted records included; a collision returns CollisionError with
// a suggested alternative.
func (e *Engine) Create(ctx context.Context, typ, collectionID string, fields map[string]any, actor, originSession string) (*entity.Record, error) {
	desc, ok := entity.Get(typ)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typ)
	}

	label, _ := fields[desc.LabelField].(string)
	if label == "" {
		return nil, ErrLabelRequired
	}

	now := e.now().UTC()
	rec := &entity.Record{
		ID:             uuid.NewString(),
		Type:           typ,
		CollectionID:   collectionID,
		Label:          label,
		Version:        1,
		FieldVersions:  make(map[string]int64, len(desc.VersionedFields)),
		Fields:         make(map[string]any, len(fields)),
		LastModifiedBy: actor,
		UpdatedAt:      now,
	}
	for _, f := range desc.VersionedFields {
		rec.FieldVersions[f] = 1
	}

	companions := make(map[string]bool, len(desc.CompletionPairs))
	for _, ts := range desc.CompletionPairs {
		companions[ts] = true
	}
	for f, v := range fields {
		if companions[f] {
			continue
		}
		rec.Fields[f] = v
		if ts, ok := desc.CompletionPairs[f]; ok && truthy(v) {
			rec.Fields[ts] = now.Format(time.RFC3339)
		}
	}

	if err := e.store.Create(ctx, rec); err != nil {
		if errors.Is(err, store.ErrLabelTaken) {
			return nil, e.collision(ctx, typ, collectionID, label)
		}
		return nil, err
	}

	slog.Debug("record created", "type", typ, "id", rec.ID, "collection", collectionID)
	e.publish(entity.CreatedEvent(rec, originSession))
	return rec, nil
}

// Update runs the accept/reject protocol for one mutation intent:
// read, detect conflicts against the client baseline, reject whole on
// any conflict, otherwise commit via compare-and-swap on the record
// version. A lost CAS race restarts once from freshly read state; if
// contention persists the caller gets a ConflictError carrying the
// fresh server record.
func (e *Engine) Update(ctx context.Context, typ, id string, intent entity.MutationIntent, actor, originSession string) (*entity.Record, error) {
	desc, ok := entity.Get(typ)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typ)
	}

	for attempt := 0; attempt <= e.casRetries; attempt++ {
		cur, err := e.store.Get(ctx, typ, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		if cur.Deleted {
			return nil, ErrNotFound
		}

		if report := DetectConflicts(desc, intent.FieldVersions, cur.FieldVersions, intent.Changes); len(report) > 0 {
			slog.Debug("mutation rejected", "type", typ, "id", id, "conflicts", len(report))
			return nil, &ConflictError{Conflicts: report, ServerRecord: cur}
		}

		next := merge(desc, cur, intent.Changes, actor, e.now())

		err = e.store.Put(ctx, next, cur.Version)
		switch {
		case err == nil:
			slog.Debug("mutation committed", "type", typ, "id", id, "version", next.Version)
			e.publish(entity.UpdatedEvent(next, originSession))
			return next, nil
		case errors.Is(err, store.ErrVersionMismatch):
			continue
		case errors.Is(err, store.ErrLabelTaken):
			return nil, e.collision(ctx, typ, cur.CollectionID, next.Label)
		default:
			return nil, err
		}
	}

	// Contention outlived the bounded retry. Hand back fresh state so
	// the client can rebase and resubmit.
	fresh, err := e.store.Get(ctx, typ, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return nil, &ConflictError{ServerRecord: fresh}
}

// Delete soft-deletes the record: deleted is set, the version
// increments, and a deleted event is broadcast. The row stays in the
// store so its identity label remains reserved against recreate races.
func (e *Engine) Delete(ctx context.Context, typ, id, actor, originSession string) error {
	if _, ok := entity.Get(typ); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, typ)
	}

	for attempt := 0; attempt <= e.casRetries; attempt++ {
		cur, err := e.store.Get(ctx, typ, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		if cur.Deleted {
			return ErrNotFound
		}

		next := cur.Clone()
		next.Deleted = true
		next.Version++
		next.UpdatedAt = e.now().UTC()
		next.LastModifiedBy = actor

		err = e.store.Put(ctx, next, cur.Version)
		switch {
		case err == nil:
			slog.Debug("record deleted", "type", typ, "id", id, "version", next.Version)
			e.publish(entity.DeletedEvent(next, originSession))
			return nil
		case errors.Is(err, store.ErrVersionMismatch):
			continue
		default:
			return err
		}
	}
	return &ConflictError{}
}

// collision builds the IdentityCollision result. The suggestion is
// best-effort: a store failure while listing labels still yields a
// usable suggestion against an empty set.
func (e *Engine) collision(ctx context.Context, typ, collectionID, label string) error {
	taken, err := e.store.Labels(ctx, typ, collectionID)
	if err != nil {
		slog.Warn("label listing failed, suggestion may collide", "type", typ, "error", err)
		taken = nil
	}
	return &CollisionError{Label: label, Suggestion: SuggestLabel(label, taken)}
}

// publish fans the event out through the injected broadcaster.
// Fire-and-forget relative to the mutation response.
func (e *Engine) publish(ev entity.Event) {
	if e.bcast != nil {
		e.bcast.Publish(ev.CollectionID, ev)
	}
}
