package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/fieldsync/fieldsync/internal/config"
	"github.com/fieldsync/fieldsync/internal/engine"
	"github.com/fieldsync/fieldsync/internal/hub"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Handler upgrades HTTP requests to websocket sessions and wires them
// into the collection's room. Mount at a route carrying a
// {collectionID} URL parameter.
type Handler struct {
	eng      *engine.Engine
	rooms    *hub.Hub
	cfg      config.SyncConfig
	upgrader websocket.Upgrader
}

// NewHandler creates the websocket handler.
func NewHandler(eng *engine.Engine, rooms *hub.Hub, cfg config.SyncConfig) *Handler {
	return &Handler{
		eng:   eng,
		rooms: rooms,
		cfg:   cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin checks belong to the deployment's proxy layer.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements http.Handler. The client may pass its own
// session identity as ?session=; otherwise one is assigned. ?actor=
// names the user for LastModifiedBy attribution.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "collectionID")
	if collectionID == "" {
		http.Error(w, "missing collection id", http.StatusBadRequest)
		return
	}

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	actor := r.URL.Query().Get("actor")
	if actor == "" {
		actor = sessionID
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "collection", collectionID, "error", err)
		return
	}

	s := &Session{
		id:           sessionID,
		collectionID: collectionID,
		actor:        actor,
		connectedAt:  time.Now(),
		conn:         conn,
		send:         make(chan []byte, h.cfg.SessionSendBuffer),
		eng:          h.eng,
		rooms:        h.rooms,
		cfg:          h.cfg,
		done:         make(chan struct{}),
	}

	slog.Debug("session connected", "session", sessionID, "collection", collectionID)

	// Join before the pumps start so the presence broadcast lands in
	// the session's own buffer too.
	h.rooms.Join(collectionID, s)

	go s.writePump()
	go s.readPump()
}
