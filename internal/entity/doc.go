// Package entity defines the shared data model for synchronized records.
//
// A [Record] is the canonical server copy of one entity. Conflict
// detection is field-level: every versioned field carries its own
// counter in Record.FieldVersions, so two clients editing different
// fields of the same record never collide.
//
// # Descriptors
//
// The sync engine is generic; everything type-specific lives in a
// [Descriptor] registered at init time:
//
//	entity.Register(entity.Descriptor{
//	    Type:            "task",
//	    LabelField:      "name",
//	    VersionedFields: []string{"note", "status", "done"},
//	    CompletionPairs: map[string]string{"done": "doneAt"},
//	})
//
// The label field is excluded from versioning on purpose: renames are
// last-write-wins and are instead guarded by a per-collection uniqueness
// check that includes soft-deleted records.
package entity
