package web

// errors.go maps the engine's error taxonomy to HTTP responses:
//
//   - version conflict  -> 409 with the field conflicts + server record
//   - identity collision -> 409 with the colliding label + suggestion
//   - not found          -> 404, "this item no longer exists"
//   - transient store    -> 503, retryable
//
// The technical error is logged with the request ID; the client gets a
// structured body with a stable machine-readable code.

import (
	"errors"
	"net/http"

	"github.com/fieldsync/fieldsync/internal/engine"
	"github.com/fieldsync/fieldsync/internal/entity"
	"github.com/fieldsync/fieldsync/internal/logging"
)

// errorBody is the JSON structure for API error responses.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	// Conflict responses carry the rejected fields and the canonical
	// server record so the client can rebase and retry.
	Conflicts    entity.ConflictReport `json:"conflicts,omitempty"`
	ServerRecord *entity.Record        `json:"serverRecord,omitempty"`

	// Collision responses carry the taken label and a free alternative.
	Label      string `json:"label,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// respondError classifies err against the engine taxonomy and writes
// the matching status code and body.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	logger := logging.FromContext(r.Context())

	if ce := engine.AsConflict(err); ce != nil {
		logger.Info("mutation conflict",
			"path", r.URL.Path,
			"conflicts", len(ce.Conflicts),
		)
		respondJSON(w, http.StatusConflict, errorBody{
			Code:         "version_conflict",
			Message:      "the record changed since you last saw it",
			Conflicts:    ce.Conflicts,
			ServerRecord: ce.ServerRecord,
		})
		return
	}

	if ce := engine.AsCollision(err); ce != nil {
		logger.Info("identity collision",
			"path", r.URL.Path,
			"label", ce.Label,
		)
		respondJSON(w, http.StatusConflict, errorBody{
			Code:       "identity_collision",
			Message:    "that name is already in use",
			Label:      ce.Label,
			Suggestion: ce.Suggestion,
		})
		return
	}

	switch {
	case errors.Is(err, engine.ErrNotFound):
		respondJSON(w, http.StatusNotFound, errorBody{
			Code:    "not_found",
			Message: "this item no longer exists",
		})
	case errors.Is(err, engine.ErrUnknownType):
		respondJSON(w, http.StatusNotFound, errorBody{
			Code:    "unknown_type",
			Message: "unknown entity type",
		})
	case errors.Is(err, engine.ErrLabelRequired):
		respondJSON(w, http.StatusBadRequest, errorBody{
			Code:    "label_required",
			Message: "a name is required",
		})
	case engine.IsUnavailable(err):
		logger.Error("store unavailable",
			"path", r.URL.Path,
			"method", r.Method,
			"error", err.Error(),
		)
		respondJSON(w, http.StatusServiceUnavailable, errorBody{
			Code:    "store_unavailable",
			Message: "temporarily unable to save changes, try again shortly",
		})
	default:
		logger.Error("request error",
			"path", r.URL.Path,
			"method", r.Method,
			"error", err.Error(),
		)
		respondJSON(w, http.StatusInternalServerError, errorBody{
			Code:    "internal",
			Message: "something went wrong",
		})
	}
}
