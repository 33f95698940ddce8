package engine

import (
	"time"

	"github.com/fieldsync/fieldsync/internal/entity"
)

// merge builds the successor record for an approved change set: each
// approved value replaces the current one, each touched versioned
// field's counter increments by one, and the overall version increments
// by one. UpdatedAt and LastModifiedBy are set server-side; client
// timestamps are never trusted.
//
// Completion toggles are the one special case: when a boolean toggle in
// desc.CompletionPairs changes, the server alone sets or clears its
// timestamp companion. A client-supplied value for the companion field
// is discarded.
func merge(desc entity.Descriptor, current *entity.Record, changes map[string]any, actor string, now time.Time) *entity.Record {
	next := current.Clone()

	companions := make(map[string]bool, len(desc.CompletionPairs))
	for _, ts := range desc.CompletionPairs {
		companions[ts] = true
	}

	for field, value := range changes {
		if companions[field] {
			continue
		}
		next.Fields[field] = value
		if desc.Versioned(field) {
			next.FieldVersions[field]++
		}
		if field == desc.LabelField {
			next.Label, _ = value.(string)
		}
		if ts, ok := desc.CompletionPairs[field]; ok {
			if truthy(value) {
				next.Fields[ts] = now.UTC().Format(time.RFC3339)
			} else {
				delete(next.Fields, ts)
			}
		}
	}

	next.Version++
	next.UpdatedAt = now.UTC()
	next.LastModifiedBy = actor
	return next
}

// truthy interprets a completion-toggle value arriving as decoded JSON.
func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val == "true" || val == "1"
	case float64:
		return val != 0
	default:
		return false
	}
}
