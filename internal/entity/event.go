package entity

import "fmt"

// Event kinds carried in broadcast event names.
const (
	KindCreated  = "created"
	KindUpdated  = "updated"
	KindDeleted  = "deleted"
	KindPresence = "presence"
)

// Event is a broadcast to every session watching a collection. Events
// are named "{type}:{kind}" for record changes and "presence" for room
// membership. Delivery is at-least-once and unordered-safe: clients
// reconcile with a monotonic version check, so duplicates and reordering
// are harmless.
type Event struct {
	Name         string  `json:"event"`
	CollectionID string  `json:"collectionId"`
	RecordID     string  `json:"recordId,omitempty"`
	Record       *Record `json:"record,omitempty"`

	// Members is populated for presence events only.
	Members []string `json:"members,omitempty"`

	// OriginSession identifies the session whose mutation produced the
	// event. Transports may suppress the echo back to it; delivering it
	// anyway is safe because apply is idempotent.
	OriginSession string `json:"-"`
}

// EventName builds the canonical "{type}:{kind}" event name.
func EventName(typ, kind string) string {
	return fmt.Sprintf("%s:%s", typ, kind)
}

// CreatedEvent builds the broadcast for a newly created record.
func CreatedEvent(rec *Record, origin string) Event {
	return Event{
		Name:          EventName(rec.Type, KindCreated),
		CollectionID:  rec.CollectionID,
		RecordID:      rec.ID,
		Record:        rec,
		OriginSession: origin,
	}
}

// UpdatedEvent builds the broadcast for an accepted mutation.
func UpdatedEvent(rec *Record, origin string) Event {
	return Event{
		Name:          EventName(rec.Type, KindUpdated),
		CollectionID:  rec.CollectionID,
		RecordID:      rec.ID,
		Record:        rec,
		OriginSession: origin,
	}
}

// DeletedEvent builds the broadcast for a soft delete. The payload is
// the record id only; clients drop their local copy.
func DeletedEvent(rec *Record, origin string) Event {
	return Event{
		Name:          EventName(rec.Type, KindDeleted),
		CollectionID:  rec.CollectionID,
		RecordID:      rec.ID,
		OriginSession: origin,
	}
}

// PresenceEvent builds the room membership broadcast sent when a
// session joins a collection.
func PresenceEvent(collectionID string, members []string) Event {
	return Event{
		Name:         KindPresence,
		CollectionID: collectionID,
		Members:      members,
	}
}
