package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/fieldsync/fieldsync/internal/entity"
)

// MemoryStore is a mutex-guarded in-memory VersionStore. It backs tests
// and single-process deployments, and doubles as the reference
// implementation of the CAS and uniqueness semantics.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*entity.Record // key: typ + "/" + id
}

var _ VersionStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*entity.Record)}
}

func key(typ, id string) string { return typ + "/" + id }

// Get implements VersionStore.
func (s *MemoryStore) Get(_ context.Context, typ, id string) (*entity.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key(typ, id)]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// Create implements VersionStore.
func (s *MemoryStore) Create(_ context.Context, rec *entity.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.labelTakenLocked(rec.Type, rec.CollectionID, rec.Label, rec.ID) {
		return ErrLabelTaken
	}
	s.records[key(rec.Type, rec.ID)] = rec.Clone()
	return nil
}

// Put implements VersionStore.
func (s *MemoryStore) Put(_ context.Context, rec *entity.Record, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[key(rec.Type, rec.ID)]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrVersionMismatch
	}
	if rec.Label != cur.Label && s.labelTakenLocked(rec.Type, rec.CollectionID, rec.Label, rec.ID) {
		return ErrLabelTaken
	}
	s.records[key(rec.Type, rec.ID)] = rec.Clone()
	return nil
}

// List implements VersionStore.
func (s *MemoryStore) List(_ context.Context, typ, collectionID string) ([]*entity.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*entity.Record
	for _, rec := range s.records {
		if rec.Type == typ && rec.CollectionID == collectionID && !rec.Deleted {
			result = append(result, rec.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Labels implements VersionStore. Soft-deleted records are included so
// a deleted record's label stays reserved against recreate races.
func (s *MemoryStore) Labels(_ context.Context, typ, collectionID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var labels []string
	for _, rec := range s.records {
		if rec.Type == typ && rec.CollectionID == collectionID {
			labels = append(labels, rec.Label)
		}
	}
	sort.Strings(labels)
	return labels, nil
}

func (s *MemoryStore) labelTakenLocked(typ, collectionID, label, excludeID string) bool {
	for _, rec := range s.records {
		if rec.Type == typ && rec.CollectionID == collectionID && rec.ID != excludeID &&
			strings.EqualFold(rec.Label, label) {
			return true
		}
	}
	return false
}
