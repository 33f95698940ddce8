// Package client implements the client-side reconciliation cache: a
// monotonic view of canonical records plus an optimistic local-edit
// primitive with rollback on rejection.
//
// The optimistic edit is a two-phase local commit implemented once, not
// per call site: Stage applies the edit to the local view and returns
// the intent to submit; Commit finalizes on acceptance; Rollback is the
// compensating action on a conflict, restoring only the rejected
// record's last canonical state.
package client

import (
	"sync"

	"github.com/fieldsync/fieldsync/internal/entity"
)

// recordState holds one record's canonical copy, its local (possibly
// optimistic) view, and the fields staged but not yet confirmed.
type recordState struct {
	canonical *entity.Record
	local     *entity.Record
	pending   map[string]any
}

// Cache is a client's local copy of the records it has seen. Safe for
// concurrent use; a UI thread and a broadcast listener may touch it at
// once.
type Cache struct {
	mu      sync.Mutex
	records map[string]*recordState
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{records: make(map[string]*recordState)}
}

// ApplyCanonical reconciles an incoming canonical record from an
// initial load or a broadcast. The record is applied only when its
// version is strictly newer than the local canonical one; stale and
// duplicate deliveries are discarded, which makes apply idempotent and
// restores effective ordering under out-of-order delivery. Returns
// whether the record was applied.
//
// Pending optimistic edits to other fields survive the apply: they are
// re-laid over the new canonical state.
func (c *Cache) ApplyCanonical(rec *entity.Record) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.records[rec.ID]
	if !ok {
		st = &recordState{pending: make(map[string]any)}
		c.records[rec.ID] = st
	}
	if st.canonical != nil && rec.Version <= st.canonical.Version {
		return false
	}

	st.canonical = rec.Clone()
	st.local = overlay(st.canonical, st.pending)
	return true
}

// Stage applies a user edit optimistically to the local view and
// returns the MutationIntent to submit: the changes plus the believed
// baseline taken from the last canonical record. Returns false when the
// record is unknown to the cache.
func (c *Cache) Stage(id string, changes map[string]any) (entity.MutationIntent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.records[id]
	if !ok || st.canonical == nil {
		return entity.MutationIntent{}, false
	}

	baseline := make(map[string]int64, len(changes))
	for f := range changes {
		if v, ok := st.canonical.FieldVersions[f]; ok {
			baseline[f] = v
		}
	}
	for f, v := range changes {
		st.pending[f] = v
	}
	st.local = overlay(st.canonical, st.pending)

	return entity.MutationIntent{Changes: changes, FieldVersions: baseline}, true
}

// Commit finalizes an accepted mutation: the server's canonical result
// replaces the local state, and only the staged fields the accepted
// change set covered are cleared. changes is the Changes map of the
// intent that was submitted; edits to other fields of the same record
// may still be in flight and keep their pending status until their own
// response lands.
func (c *Cache) Commit(id string, canonical *entity.Record, changes map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.records[id]
	if !ok {
		st = &recordState{pending: make(map[string]any)}
		c.records[id] = st
	}
	for f := range changes {
		delete(st.pending, f)
	}
	if st.canonical == nil || canonical.Version > st.canonical.Version {
		st.canonical = canonical.Clone()
	}
	st.local = overlay(st.canonical, st.pending)
}

// Rollback is the compensating action for a rejected mutation: the
// record's local view reverts to its last known canonical state and its
// staged edits are dropped. Other records' pending edits are untouched;
// a conflict on one record never discards unrelated work.
func (c *Cache) Rollback(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.records[id]
	if !ok {
		return
	}
	st.pending = make(map[string]any)
	st.local = overlay(st.canonical, nil)
}

// Drop removes the record entirely, e.g. after a NotFound response or a
// deleted broadcast: the item no longer exists.
func (c *Cache) Drop(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, id)
}

// Local returns the record as the user currently sees it, optimistic
// edits included. Returns false for unknown records.
func (c *Cache) Local(id string) (*entity.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.records[id]
	if !ok || st.local == nil {
		return nil, false
	}
	return st.local.Clone(), true
}

// Canonical returns the last canonical record seen for id.
func (c *Cache) Canonical(id string) (*entity.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.records[id]
	if !ok || st.canonical == nil {
		return nil, false
	}
	return st.canonical.Clone(), true
}

// Pending reports whether the record has staged edits awaiting a server
// response.
func (c *Cache) Pending(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.records[id]
	return ok && len(st.pending) > 0
}

// overlay lays pending edits over a canonical record.
func overlay(canonical *entity.Record, pending map[string]any) *entity.Record {
	if canonical == nil {
		return nil
	}
	local := canonical.Clone()
	for f, v := range pending {
		local.Fields[f] = v
	}
	return local
}
