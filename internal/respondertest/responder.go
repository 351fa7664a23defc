// Package respondertest provides an in-process scripted implementation of
// the responder protocol. It exists to exercise the client engine in tests
// and local development runs; the production responder remains a black box
// reachable only through the same wire contract.
package respondertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mkells/chatsync/internal/channel"
	"github.com/mkells/chatsync/internal/model/chat"
	"github.com/mkells/chatsync/pkg/utils"
)

// AnswerFunc produces the canned answer for a submitted question.
type AnswerFunc func(question string) string

// Option configures a Responder.
type Option func(*Responder)

// WithAnswer overrides the default echo answer.
func WithAnswer(fn AnswerFunc) Option {
	return func(r *Responder) { r.answer = fn }
}

// WithLogger attaches a logger; the default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Responder) { r.log = log }
}

type sessionState struct {
	id        string
	createdAt time.Time
	endedAt   *time.Time
	messages  []chat.MessageRecord
}

func (s *sessionState) snapshot() chat.Snapshot {
	data, _ := json.Marshal(map[string]any{
		"session_id":    s.id,
		"created_at":    s.createdAt.Format(time.RFC3339),
		"message_count": len(s.messages),
	})
	return data
}

// Responder keeps sessions and their histories across connections, so a
// reconnecting client receives the canonical history on join.
type Responder struct {
	answer   AnswerFunc
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*sessionState
	conns    map[*websocket.Conn]struct{}
}

// New creates a scripted responder.
func New(opts ...Option) *Responder {
	r := &Responder{
		answer: func(question string) string {
			return fmt.Sprintf("You said: %s", question)
		},
		log: zerolog.Nop(),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		sessions: make(map[string]*sessionState),
		conns:    make(map[*websocket.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handler returns the HTTP surface: the websocket endpoint at /ws plus
// small inspection endpoints used by tests and local debugging.
func (r *Responder) Handler() http.Handler {
	router := chi.NewRouter()
	router.Get("/ws", r.handleWebSocket)
	router.Get("/health", r.handleHealth)
	router.Get("/sessions/{sessionID}", r.handleSessionInfo)
	return router
}

func (r *Responder) handleHealth(w http.ResponseWriter, _ *http.Request) {
	r.mu.Lock()
	sessions := len(r.sessions)
	conns := len(r.conns)
	r.mu.Unlock()

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"sessions":    sessions,
		"connections": conns,
	})
}

func (r *Responder) handleSessionInfo(w http.ResponseWriter, req *http.Request) {
	sessionID := chi.URLParam(req, "sessionID")

	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		utils.RespondError(w, http.StatusNotFound, "unknown session")
		return
	}
	info := map[string]any{
		"session_id":    sess.id,
		"created_at":    sess.createdAt.Format(time.RFC3339),
		"ended":         sess.endedAt != nil,
		"message_count": len(sess.messages),
	}
	r.mu.Unlock()

	utils.RespondJSON(w, http.StatusOK, info)
}

// History returns a copy of the server-side history for a session.
func (r *Responder) History(sessionID string) []chat.MessageRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	copied := make([]chat.MessageRecord, len(sess.messages))
	copy(copied, sess.messages)
	return copied
}

// Ended reports whether end_session was received for the session.
func (r *Responder) Ended(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	return ok && sess.endedAt != nil
}

// Seed installs a pre-existing session history, as if recorded by earlier
// exchanges on another device or before a local cache wipe.
func (r *Responder) Seed(sessionID string, messages []chat.MessageRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess := r.getOrCreateLocked(sessionID)
	sess.messages = append(sess.messages[:0], messages...)
}

// DropConnections closes every active connection, simulating transport
// loss. Session state is kept.
func (r *Responder) DropConnections() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for conn := range r.conns {
		_ = conn.Close()
		delete(r.conns, conn)
	}
}

func (r *Responder) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	r.mu.Lock()
	r.conns[conn] = struct{}{}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.conns, conn)
		r.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var env channel.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			r.sendError(conn, "malformed envelope")
			continue
		}

		switch env.Event {
		case channel.EventJoinSession:
			r.handleJoin(conn, env.Data)
		case channel.EventUserMessage:
			r.handleUserMessage(conn, env.Data)
		case channel.EventEndSession:
			r.handleEndSession(conn, env.Data)
		default:
			r.sendError(conn, fmt.Sprintf("unknown event %q", env.Event))
		}
	}
}

func (r *Responder) handleJoin(conn *websocket.Conn, data json.RawMessage) {
	var payload channel.JoinSessionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		r.sendError(conn, "failed to initialise session")
		return
	}

	sessionID := payload.SessionID
	if sessionID == "" {
		sessionID = fmt.Sprintf("session_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
	}

	r.mu.Lock()
	sess := r.getOrCreateLocked(sessionID)
	reply := channel.SessionInitialisedPayload{
		SessionID:   sess.id,
		SessionData: sess.snapshot(),
		Messages:    append([]chat.MessageRecord(nil), sess.messages...),
	}
	r.mu.Unlock()

	r.send(conn, channel.EventSessionInitialised, reply)
}

func (r *Responder) handleUserMessage(conn *websocket.Conn, data json.RawMessage) {
	var payload channel.UserMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.SessionID == "" || payload.Message == "" {
		r.sendError(conn, "invalid session or message")
		return
	}

	started := time.Now().UTC()
	answer := r.answer(payload.Message)
	duration := time.Since(started).Seconds()

	rec := chat.MessageRecord{
		Question:  payload.Message,
		Answer:    answer,
		Timestamp: started,
		Duration:  &duration,
	}

	r.mu.Lock()
	sess := r.getOrCreateLocked(payload.SessionID)
	sess.messages = append(sess.messages, rec)
	reply := channel.AIResponsePayload{
		MessageData: rec,
		SessionData: sess.snapshot(),
	}
	r.mu.Unlock()

	r.send(conn, channel.EventAIResponse, reply)
}

func (r *Responder) handleEndSession(conn *websocket.Conn, data json.RawMessage) {
	var payload channel.EndSessionPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.SessionID == "" {
		return
	}

	r.mu.Lock()
	if sess, ok := r.sessions[payload.SessionID]; ok {
		now := time.Now().UTC()
		sess.endedAt = &now
	}
	r.mu.Unlock()

	r.send(conn, channel.EventSessionEnded, channel.SessionEndedPayload{SessionID: payload.SessionID})
}

func (r *Responder) getOrCreateLocked(sessionID string) *sessionState {
	sess, ok := r.sessions[sessionID]
	if !ok {
		sess = &sessionState{id: sessionID, createdAt: time.Now().UTC()}
		r.sessions[sessionID] = sess
	}
	return sess
}

func (r *Responder) send(conn *websocket.Conn, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		r.log.Warn().Err(err).Str("event", event).Msg("failed to encode payload")
		return
	}
	if err := conn.WriteJSON(channel.Envelope{Event: event, Data: data}); err != nil {
		r.log.Debug().Err(err).Str("event", event).Msg("write failed")
	}
}

func (r *Responder) sendError(conn *websocket.Conn, message string) {
	r.send(conn, channel.EventError, channel.ErrorPayload{Message: message})
}
