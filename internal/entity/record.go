package entity

import (
	"time"
)

// Record is the canonical server-side copy of a shared entity.
//
// Version increases by exactly one per accepted mutation. FieldVersions
// tracks a per-field counter for every versioned field of the type; the
// identity label field is deliberately absent from it so renames never
// conflict with unrelated edits (see Descriptor.LabelField).
type Record struct {
	ID             string           `json:"id"`
	Type           string           `json:"type"`
	CollectionID   string           `json:"collectionId"`
	Label          string           `json:"label"`
	Version        int64            `json:"version"`
	FieldVersions  map[string]int64 `json:"fieldVersions"`
	Fields         map[string]any   `json:"fields"`
	LastModifiedBy string           `json:"lastModifiedBy"`
	UpdatedAt      time.Time        `json:"updatedAt"`
	Deleted        bool             `json:"deleted"`
}

// Clone returns a deep copy of the record. Mutating the copy never
// affects the original; callers use it to build the next version of a
// record before a compare-and-swap write.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.FieldVersions = make(map[string]int64, len(r.FieldVersions))
	for k, v := range r.FieldVersions {
		cp.FieldVersions[k] = v
	}
	cp.Fields = make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		cp.Fields[k] = v
	}
	return &cp
}

// MutationIntent is a client's request to change a record: the desired
// field values plus the field versions the client believes are current.
// The believed versions are the baseline conflict detection runs against.
type MutationIntent struct {
	Changes       map[string]any   `json:"changes"`
	FieldVersions map[string]int64 `json:"fieldVersions"`
}

// FieldConflict describes one field whose client baseline no longer
// matches the server.
type FieldConflict struct {
	Field         string `json:"field"`
	ClientVersion int64  `json:"clientVersion"`
	ServerVersion int64  `json:"serverVersion"`
}

// ConflictReport is the full set of conflicting fields for a rejected
// mutation. A non-empty report always rejects the whole mutation; there
// is no partial apply.
type ConflictReport []FieldConflict
