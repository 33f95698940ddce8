package engine

import (
	"sort"

	"github.com/fieldsync/fieldsync/internal/entity"
)

// DetectConflicts compares a client's believed field versions against
// the server's current ones for every requested change. It is a pure
// function: no I/O, no mutation of its inputs.
//
// A changed field conflicts when it is versioned for the type AND the
// client's baseline differs from the server's counter. Two deliberate
// exclusions:
//
//   - The identity label field is never versioned, so renames are
//     last-write-wins and never appear in the report.
//   - A field the client has no baseline for is treated as
//     non-conflicting: first write wins against absence.
//
// Any non-empty result rejects the whole mutation; there is no partial
// apply.
func DetectConflicts(desc entity.Descriptor, clientVersions, serverVersions map[string]int64, changes map[string]any) entity.ConflictReport {
	var report entity.ConflictReport
	for field := range changes {
		if !desc.Versioned(field) {
			continue
		}
		clientVer, ok := clientVersions[field]
		if !ok {
			continue
		}
		serverVer := serverVersions[field]
		if clientVer != serverVer {
			report = append(report, entity.FieldConflict{
				Field:         field,
				ClientVersion: clientVer,
				ServerVersion: serverVer,
			})
		}
	}
	sort.Slice(report, func(i, j int) bool { return report[i].Field < report[j].Field })
	return report
}
