package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fieldsync/fieldsync/internal/config"
	"github.com/fieldsync/fieldsync/internal/engine"
	"github.com/fieldsync/fieldsync/internal/entity"
	_ "github.com/fieldsync/fieldsync/internal/entity/types"
	"github.com/fieldsync/fieldsync/internal/hub"
	"github.com/fieldsync/fieldsync/internal/store"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.RequestTimeout = 5 * time.Second
	cfg.Sync.SessionSendBuffer = 8

	rooms := hub.New()
	eng := engine.New(store.NewMemoryStore(), rooms)
	return NewServer(eng, rooms, cfg)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-ID", "test-session")
	req.Header.Set("X-Actor", "tester")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeRecord(t *testing.T, w *httptest.ResponseRecorder) *entity.Record {
	t.Helper()
	var rec entity.Record
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode record: %v (body %s)", err, w.Body.String())
	}
	return &rec
}

func createItem(t *testing.T, s *Server, name string) *entity.Record {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/api/collections/col-1/item", map[string]any{
		"fields": map[string]any{"name": name, "note": "initial"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}
	return decodeRecord(t, w)
}

func TestCreateAndGet(t *testing.T) {
	s := testServer(t)
	rec := createItem(t, s, "Projector")

	if rec.Version != 1 || rec.Label != "Projector" {
		t.Errorf("created record = %+v, want version 1 label Projector", rec)
	}
	if rec.LastModifiedBy != "tester" {
		t.Errorf("LastModifiedBy = %q, want header actor", rec.LastModifiedBy)
	}

	w := doJSON(t, s, http.MethodGet, "/api/item/"+rec.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	got := decodeRecord(t, w)
	if got.ID != rec.ID || got.Fields["note"] != "initial" {
		t.Errorf("get = %+v", got)
	}
}

func TestMutate_Success(t *testing.T) {
	s := testServer(t)
	rec := createItem(t, s, "Projector")

	w := doJSON(t, s, http.MethodPatch, "/api/item/"+rec.ID, entity.MutationIntent{
		Changes:       map[string]any{"note": "updated"},
		FieldVersions: map[string]int64{"note": 1},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("mutate status = %d, body %s", w.Code, w.Body.String())
	}
	got := decodeRecord(t, w)
	if got.Version != 2 || got.FieldVersions["note"] != 2 {
		t.Errorf("mutate result = version %d fieldVersions %v", got.Version, got.FieldVersions)
	}
}

func TestMutate_ConflictMapsTo409(t *testing.T) {
	s := testServer(t)
	rec := createItem(t, s, "Projector")

	// First writer moves note to version 2.
	w := doJSON(t, s, http.MethodPatch, "/api/item/"+rec.ID, entity.MutationIntent{
		Changes:       map[string]any{"note": "B-note"},
		FieldVersions: map[string]int64{"note": 1},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("setup mutate status = %d", w.Code)
	}

	// Second writer still holds baseline 1.
	w = doJSON(t, s, http.MethodPatch, "/api/item/"+rec.ID, entity.MutationIntent{
		Changes:       map[string]any{"note": "A-note"},
		FieldVersions: map[string]int64{"note": 1},
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("conflict status = %d, want 409 (body %s)", w.Code, w.Body.String())
	}

	var body struct {
		Code         string                `json:"code"`
		Conflicts    entity.ConflictReport `json:"conflicts"`
		ServerRecord *entity.Record        `json:"serverRecord"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Code != "version_conflict" {
		t.Errorf("code = %q, want version_conflict", body.Code)
	}
	if len(body.Conflicts) != 1 || body.Conflicts[0].Field != "note" ||
		body.Conflicts[0].ClientVersion != 1 || body.Conflicts[0].ServerVersion != 2 {
		t.Errorf("conflicts = %+v", body.Conflicts)
	}
	if body.ServerRecord == nil || body.ServerRecord.Fields["note"] != "B-note" {
		t.Errorf("serverRecord = %+v, want current canonical state", body.ServerRecord)
	}
}

func TestCreate_CollisionMapsTo409(t *testing.T) {
	s := testServer(t)
	createItem(t, s, "Projector")

	w := doJSON(t, s, http.MethodPost, "/api/collections/col-1/item", map[string]any{
		"fields": map[string]any{"name": "Projector"},
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("collision status = %d, want 409", w.Code)
	}

	var body struct {
		Code       string `json:"code"`
		Label      string `json:"label"`
		Suggestion string `json:"suggestion"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Code != "identity_collision" {
		t.Errorf("code = %q, want identity_collision", body.Code)
	}
	if body.Suggestion != "Projector (2)" {
		t.Errorf("suggestion = %q, want Projector (2)", body.Suggestion)
	}
}

func TestDelete_ThenGetIs404(t *testing.T) {
	s := testServer(t)
	rec := createItem(t, s, "Projector")

	w := doJSON(t, s, http.MethodDelete, "/api/item/"+rec.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/api/item/"+rec.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", w.Code)
	}
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Code != "not_found" {
		t.Errorf("code = %q, want not_found", body.Code)
	}

	// The freed-looking label is still reserved.
	w = doJSON(t, s, http.MethodPost, "/api/collections/col-1/item", map[string]any{
		"fields": map[string]any{"name": "Projector"},
	})
	if w.Code != http.StatusConflict {
		t.Errorf("recreate status = %d, want 409 against soft-deleted label", w.Code)
	}
}

func TestList_ReturnsLiveRecords(t *testing.T) {
	s := testServer(t)
	a := createItem(t, s, "A")
	createItem(t, s, "B")

	w := doJSON(t, s, http.MethodDelete, "/api/item/"+a.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatal("delete failed")
	}

	w = doJSON(t, s, http.MethodGet, "/api/collections/col-1/item", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var recs []*entity.Record
	if err := json.Unmarshal(w.Body.Bytes(), &recs); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Label != "B" {
		t.Errorf("list = %d records, want only B", len(recs))
	}
}

func TestUnknownType(t *testing.T) {
	s := testServer(t)
	w := doJSON(t, s, http.MethodGet, "/api/frobnicator/some-id", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown type status = %d, want 404", w.Code)
	}
}

func TestMutate_BadBody(t *testing.T) {
	s := testServer(t)
	rec := createItem(t, s, "Projector")

	req := httptest.NewRequest(http.MethodPatch, "/api/item/"+rec.ID, bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want 400", w.Code)
	}
}

func TestHealth(t *testing.T) {
	s := testServer(t)
	w := doJSON(t, s, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
}

// outageStore simulates a store whose backend stayed unreachable past
// the internal retries.
type outageStore struct {
	store.VersionStore
}

func (o *outageStore) Get(ctx context.Context, typ, id string) (*entity.Record, error) {
	return nil, &store.TransientError{Err: errors.New("connection refused")}
}

func TestGet_StoreOutageMapsTo503(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.RequestTimeout = 5 * time.Second
	rooms := hub.New()
	s := NewServer(engine.New(&outageStore{}, rooms), rooms, cfg)

	w := doJSON(t, s, http.MethodGet, "/api/item/some-id", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 (body %s)", w.Code, w.Body.String())
	}

	var body struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Code != "store_unavailable" {
		t.Errorf("code = %q, want store_unavailable", body.Code)
	}
}

func TestPresence_EmptyRoom(t *testing.T) {
	s := testServer(t)
	w := doJSON(t, s, http.MethodGet, "/api/collections/col-1/presence", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("presence status = %d", w.Code)
	}
	var body struct {
		Members []string `json:"members"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Members == nil || len(body.Members) != 0 {
		t.Errorf("members = %v, want empty array", body.Members)
	}
}

// Rename with a stale baseline on an unrelated field, driven through
// the full HTTP surface. B bumps note, then A renames while still
// holding note at version 1; the rename must land.
func TestRenameWithStaleUnrelatedBaseline(t *testing.T) {
	s := testServer(t)
	rec := createItem(t, s, "Projector")

	w := doJSON(t, s, http.MethodPatch, "/api/item/"+rec.ID, entity.MutationIntent{
		Changes:       map[string]any{"note": "B-note"},
		FieldVersions: map[string]int64{"note": 1},
	})
	if w.Code != http.StatusOK {
		t.Fatal("B's update failed")
	}

	w = doJSON(t, s, http.MethodPatch, "/api/item/"+rec.ID, entity.MutationIntent{
		Changes:       map[string]any{"name": "X"},
		FieldVersions: map[string]int64{"name": 1, "note": 1},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("A's rename status = %d, want accepted (body %s)", w.Code, w.Body.String())
	}
	got := decodeRecord(t, w)
	if got.Version != 3 || got.Fields["name"] != "X" || got.Fields["note"] != "B-note" {
		t.Errorf("result = %+v, want version 3 with rename and B's note", got)
	}
	if got.FieldVersions["note"] != 2 {
		t.Errorf("note version = %d, want 2 untouched by rename", got.FieldVersions["note"])
	}
	if _, ok := got.FieldVersions["name"]; ok {
		t.Error("label field gained a version counter")
	}
}
