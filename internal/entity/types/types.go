// Package types registers the built-in entity descriptors.
//
// Import for side effects from main:
//
//	_ "github.com/fieldsync/fieldsync/internal/entity/types"
package types

import "github.com/fieldsync/fieldsync/internal/entity"

func init() {
	entity.Register(entity.Descriptor{
		Type:            "item",
		LabelField:      "name",
		VersionedFields: []string{"note", "status", "quantity", "location"},
	})

	entity.Register(entity.Descriptor{
		Type:            "task",
		LabelField:      "name",
		VersionedFields: []string{"note", "assignee", "done"},
		CompletionPairs: map[string]string{"done": "doneAt"},
	})
}
