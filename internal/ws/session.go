// Package ws is the websocket transport for live collection rooms.
//
// A connecting session joins the room of one collection and receives
// its broadcast events as JSON frames. Mutation intents may be
// submitted over the same connection and are answered inline with a
// result or conflict frame; the REST API accepts the same intents for
// clients that do not hold a socket open.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldsync/fieldsync/internal/config"
	"github.com/fieldsync/fieldsync/internal/engine"
	"github.com/fieldsync/fieldsync/internal/entity"
	"github.com/fieldsync/fieldsync/internal/hub"
	"github.com/gorilla/websocket"
)

// clientFrame is a message from the client. Only "mutate" is handled;
// unknown actions are ignored so older servers tolerate newer clients.
type clientFrame struct {
	Action        string           `json:"action"`
	Type          string           `json:"type"`
	ID            string           `json:"id"`
	Changes       map[string]any   `json:"changes"`
	FieldVersions map[string]int64 `json:"fieldVersions"`
}

// serverFrame is an inline reply to a client frame. Broadcast events
// are serialized from entity.Event directly and share the "event" key.
type serverFrame struct {
	Event      string                `json:"event"`
	RecordID   string                `json:"recordId,omitempty"`
	Record     *entity.Record        `json:"record,omitempty"`
	Conflicts  entity.ConflictReport `json:"conflicts,omitempty"`
	Code       string                `json:"code,omitempty"`
	Message    string                `json:"message,omitempty"`
	Label      string                `json:"label,omitempty"`
	Suggestion string                `json:"suggestion,omitempty"`
}

// Session is one connected websocket client. It implements
// hub.Subscriber; the hub hands it events, the write pump drains them
// to the wire. The session is owned by the transport and destroyed on
// disconnect.
type Session struct {
	id           string
	collectionID string
	actor        string
	connectedAt  time.Time

	conn   *websocket.Conn
	send   chan []byte
	eng    *engine.Engine
	rooms  *hub.Hub
	cfg    config.SyncConfig
	closed sync.Once
	done   chan struct{}
}

// SessionID implements hub.Subscriber.
func (s *Session) SessionID() string { return s.id }

// Deliver implements hub.Subscriber. Non-blocking: a session whose send
// buffer is full is disconnected rather than stalling the broadcast;
// it reconciles with a full fetch on reconnect. Echoes back to the
// originating session are delivered as-is, client apply is idempotent.
func (s *Session) Deliver(ev entity.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("encode event", "event", ev.Name, "error", err)
		return
	}
	select {
	case s.send <- payload:
	case <-s.done:
	default:
		slog.Warn("session too slow, dropping", "session", s.id, "collection", s.collectionID)
		s.close()
	}
}

// reply queues an inline response frame to the session's own client.
func (s *Session) reply(f serverFrame) {
	payload, err := json.Marshal(f)
	if err != nil {
		slog.Error("encode reply", "event", f.Event, "error", err)
		return
	}
	select {
	case s.send <- payload:
	case <-s.done:
	default:
		s.close()
	}
}

func (s *Session) close() {
	s.closed.Do(func() {
		close(s.done)
		s.rooms.Leave(s.collectionID, s)
		s.conn.Close()
		slog.Debug("session closed", "session", s.id, "collection", s.collectionID,
			"connected", time.Since(s.connectedAt).Round(time.Second))
	})
}

// readPump consumes client frames until the connection drops. Pong
// handling extends the read deadline; a silent peer is dropped after
// PongTimeout.
func (s *Session) readPump() {
	defer s.close()

	s.conn.SetReadLimit(s.cfg.MaxFrameSize)
	s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("session read error", "session", s.id, "error", err)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.reply(serverFrame{Event: "error", Code: "bad_frame", Message: "malformed frame"})
			continue
		}
		if frame.Action == "mutate" {
			s.handleMutate(frame)
		}
	}
}

// handleMutate runs one mutation intent through the engine and answers
// inline. A disconnect mid-request never rolls back a committed
// mutation; the commit and broadcast stand regardless of whether this
// reply reaches the client.
func (s *Session) handleMutate(frame clientFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.MutateTimeout)
	defer cancel()

	intent := entity.MutationIntent{Changes: frame.Changes, FieldVersions: frame.FieldVersions}
	rec, err := s.eng.Update(ctx, frame.Type, frame.ID, intent, s.actor, s.id)
	switch {
	case err == nil:
		s.reply(serverFrame{Event: "result", RecordID: rec.ID, Record: rec})
	case engine.AsConflict(err) != nil:
		ce := engine.AsConflict(err)
		s.reply(serverFrame{
			Event:     "conflict",
			RecordID:  frame.ID,
			Record:    ce.ServerRecord,
			Conflicts: ce.Conflicts,
		})
	case engine.AsCollision(err) != nil:
		ce := engine.AsCollision(err)
		s.reply(serverFrame{
			Event:      "collision",
			RecordID:   frame.ID,
			Label:      ce.Label,
			Suggestion: ce.Suggestion,
		})
	case errors.Is(err, engine.ErrNotFound):
		s.reply(serverFrame{Event: "error", RecordID: frame.ID, Code: "not_found", Message: "this item no longer exists"})
	default:
		slog.Error("ws mutation failed", "session", s.id, "type", frame.Type, "id", frame.ID, "error", err)
		s.reply(serverFrame{Event: "error", RecordID: frame.ID, Code: "internal", Message: "mutation failed"})
	}
}

// writePump drains the send buffer to the wire and keeps the
// connection alive with periodic pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}
