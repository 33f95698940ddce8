package web

import (
	"encoding/json"
	"net/http"

	"github.com/fieldsync/fieldsync/internal/entity"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// sessionIdentity extracts the caller's session and actor identity.
// X-Session-ID lets a REST caller correlate with its websocket session
// so transports could suppress the echo; both default sensibly when
// absent.
func sessionIdentity(r *http.Request) (sessionID, actor string) {
	sessionID = r.Header.Get("X-Session-ID")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	actor = r.Header.Get("X-Actor")
	if actor == "" {
		actor = sessionID
	}
	return sessionID, actor
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"rooms":  s.rooms.Rooms(),
	})
}

// handleGet returns the canonical record.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	typ := chi.URLParam(r, "type")
	id := chi.URLParam(r, "id")

	rec, err := s.eng.Get(r.Context(), typ, id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// handleList returns the live records of a collection, the full fetch
// clients reconcile with after (re)connecting.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	typ := chi.URLParam(r, "type")
	collectionID := chi.URLParam(r, "collectionID")

	recs, err := s.eng.List(r.Context(), typ, collectionID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if recs == nil {
		recs = []*entity.Record{}
	}
	respondJSON(w, http.StatusOK, recs)
}

// handleCreate inserts a new record into the collection.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	typ := chi.URLParam(r, "type")
	collectionID := chi.URLParam(r, "collectionID")
	sessionID, actor := sessionIdentity(r)

	var body struct {
		Fields map[string]any `json:"fields"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Code: "bad_request", Message: "malformed JSON body"})
		return
	}

	rec, err := s.eng.Create(r.Context(), typ, collectionID, body.Fields, actor, sessionID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}

// handleMutate runs one mutation intent through the accept/reject
// protocol. Success returns the full canonical record; a field-level
// conflict returns 409 with the report and current server record.
func (s *Server) handleMutate(w http.ResponseWriter, r *http.Request) {
	typ := chi.URLParam(r, "type")
	id := chi.URLParam(r, "id")
	sessionID, actor := sessionIdentity(r)

	var intent entity.MutationIntent
	if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Code: "bad_request", Message: "malformed JSON body"})
		return
	}

	rec, err := s.eng.Update(r.Context(), typ, id, intent, actor, sessionID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// handleDelete soft-deletes the record.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	typ := chi.URLParam(r, "type")
	id := chi.URLParam(r, "id")
	sessionID, actor := sessionIdentity(r)

	if err := s.eng.Delete(r.Context(), typ, id, actor, sessionID); err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id})
}

// handlePresence returns the sessions currently in a collection's room.
func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "collectionID")
	members := s.rooms.Members(collectionID)
	if members == nil {
		members = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"collectionId": collectionID,
		"members":      members,
	})
}

// respondJSON writes v as a JSON response.
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
