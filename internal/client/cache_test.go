package client

import (
	"testing"

	"github.com/fieldsync/fieldsync/internal/entity"
)

func canonical(id string, version int64, fields map[string]any) *entity.Record {
	fv := map[string]int64{"note": version, "status": 1}
	return &entity.Record{
		ID:            id,
		Type:          "item",
		CollectionID:  "col-1",
		Version:       version,
		FieldVersions: fv,
		Fields:        fields,
	}
}

func TestCache_MonotonicApply(t *testing.T) {
	c := NewCache()

	if !c.ApplyCanonical(canonical("r1", 1, map[string]any{"note": "v1"})) {
		t.Fatal("first apply rejected")
	}
	if !c.ApplyCanonical(canonical("r1", 3, map[string]any{"note": "v3"})) {
		t.Fatal("newer version rejected")
	}

	// An older broadcast arriving late is discarded: monotonic apply
	// restores effective ordering.
	if c.ApplyCanonical(canonical("r1", 2, map[string]any{"note": "v2"})) {
		t.Error("stale version applied")
	}

	got, ok := c.Local("r1")
	if !ok || got.Fields["note"] != "v3" {
		t.Errorf("local note = %v, want v3", got.Fields["note"])
	}
}

func TestCache_DuplicateApplyIsIdempotent(t *testing.T) {
	c := NewCache()
	rec := canonical("r1", 2, map[string]any{"note": "v2"})

	if !c.ApplyCanonical(rec) {
		t.Fatal("first apply rejected")
	}
	if c.ApplyCanonical(rec) {
		t.Error("duplicate apply not discarded")
	}

	got, _ := c.Canonical("r1")
	if got.Version != 2 || got.Fields["note"] != "v2" {
		t.Errorf("canonical = %+v, want unchanged v2", got)
	}
}

func TestCache_StageAppliesOptimistically(t *testing.T) {
	c := NewCache()
	c.ApplyCanonical(canonical("r1", 2, map[string]any{"note": "server"}))

	intent, ok := c.Stage("r1", map[string]any{"note": "mine"})
	if !ok {
		t.Fatal("Stage() rejected known record")
	}
	if intent.FieldVersions["note"] != 2 {
		t.Errorf("intent baseline = %d, want 2 from canonical", intent.FieldVersions["note"])
	}

	local, _ := c.Local("r1")
	if local.Fields["note"] != "mine" {
		t.Error("optimistic edit not visible locally")
	}
	can, _ := c.Canonical("r1")
	if can.Fields["note"] != "server" {
		t.Error("canonical state mutated by optimistic edit")
	}
	if !c.Pending("r1") {
		t.Error("Pending() = false, want true after Stage")
	}
}

func TestCache_StageUnknownRecord(t *testing.T) {
	c := NewCache()
	if _, ok := c.Stage("ghost", map[string]any{"note": "x"}); ok {
		t.Error("Stage() accepted unknown record")
	}
}

func TestCache_RollbackRestoresCanonical(t *testing.T) {
	c := NewCache()
	c.ApplyCanonical(canonical("r1", 2, map[string]any{"note": "server"}))
	c.ApplyCanonical(canonical("r2", 1, map[string]any{"note": "other"}))

	c.Stage("r1", map[string]any{"note": "rejected edit"})
	c.Stage("r2", map[string]any{"note": "unrelated edit"})

	c.Rollback("r1")

	r1, _ := c.Local("r1")
	if r1.Fields["note"] != "server" {
		t.Errorf("r1 note = %v, want canonical restored", r1.Fields["note"])
	}
	if c.Pending("r1") {
		t.Error("r1 still pending after rollback")
	}

	// The conflict on r1 must not discard r2's pending edit.
	r2, _ := c.Local("r2")
	if r2.Fields["note"] != "unrelated edit" {
		t.Errorf("r2 note = %v, want pending edit preserved", r2.Fields["note"])
	}
	if !c.Pending("r2") {
		t.Error("r2 lost its pending edit")
	}
}

func TestCache_CommitClearsPending(t *testing.T) {
	c := NewCache()
	c.ApplyCanonical(canonical("r1", 1, map[string]any{"note": "v1"}))
	intent, _ := c.Stage("r1", map[string]any{"note": "mine"})

	accepted := canonical("r1", 2, map[string]any{"note": "mine"})
	c.Commit("r1", accepted, intent.Changes)

	if c.Pending("r1") {
		t.Error("pending edit survived commit")
	}
	got, _ := c.Canonical("r1")
	if got.Version != 2 {
		t.Errorf("canonical version = %d, want 2", got.Version)
	}
}

// Two edits to the same record in flight at once: committing the first
// accepted result must clear only the fields that mutation covered,
// not the other edit still awaiting its reply.
func TestCache_CommitPreservesOtherStagedFields(t *testing.T) {
	c := NewCache()
	c.ApplyCanonical(canonical("r1", 1, map[string]any{"note": "v1", "status": "open"}))

	noteIntent, _ := c.Stage("r1", map[string]any{"note": "edited"})
	c.Stage("r1", map[string]any{"status": "closed"})

	accepted := canonical("r1", 2, map[string]any{"note": "edited", "status": "open"})
	c.Commit("r1", accepted, noteIntent.Changes)

	if !c.Pending("r1") {
		t.Error("Pending() = false, want true while the status edit is in flight")
	}
	local, _ := c.Local("r1")
	if local.Fields["status"] != "closed" {
		t.Errorf("status = %v, want in-flight staged edit preserved", local.Fields["status"])
	}
	if local.Fields["note"] != "edited" {
		t.Errorf("note = %v, want committed value", local.Fields["note"])
	}
}

func TestCache_PendingSurvivesUnrelatedBroadcast(t *testing.T) {
	c := NewCache()
	c.ApplyCanonical(canonical("r1", 1, map[string]any{"note": "v1", "status": "open"}))
	c.Stage("r1", map[string]any{"note": "editing"})

	// Another client's status change lands while our note edit is in
	// flight; the broadcast must not clobber the optimistic note.
	c.ApplyCanonical(canonical("r1", 2, map[string]any{"note": "v1", "status": "closed"}))

	local, _ := c.Local("r1")
	if local.Fields["status"] != "closed" {
		t.Errorf("status = %v, want broadcast applied", local.Fields["status"])
	}
	if local.Fields["note"] != "editing" {
		t.Errorf("note = %v, want pending edit re-laid over new canonical", local.Fields["note"])
	}
}

func TestCache_Drop(t *testing.T) {
	c := NewCache()
	c.ApplyCanonical(canonical("r1", 1, map[string]any{"note": "v1"}))

	c.Drop("r1")

	if _, ok := c.Local("r1"); ok {
		t.Error("record still present after Drop")
	}
	// Re-applying after a drop starts fresh.
	if !c.ApplyCanonical(canonical("r1", 1, map[string]any{"note": "v1"})) {
		t.Error("re-apply after drop rejected")
	}
}
