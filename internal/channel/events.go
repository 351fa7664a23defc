package channel

import (
	"encoding/json"

	"github.com/mkells/chatsync/internal/model/chat"
)

// Wire event names. One JSON envelope per websocket text message.
const (
	EventJoinSession        = "join_session"
	EventSessionInitialised = "session_initialised"
	EventUserMessage        = "user_message"
	EventAIResponse         = "ai_response"
	EventError              = "error"
	EventEndSession         = "end_session"
	EventSessionEnded       = "session_ended"
)

// Envelope frames every message on the channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinSessionPayload requests attachment to (or resumption of) a session.
type JoinSessionPayload struct {
	SessionID string `json:"session_id"`
}

// SessionInitialisedPayload acknowledges a join and carries the server's
// canonical record of past exchanges for the session.
type SessionInitialisedPayload struct {
	SessionID   string               `json:"session_id"`
	SessionData chat.Snapshot        `json:"session_data,omitempty"`
	Messages    []chat.MessageRecord `json:"messages"`
}

// UserMessagePayload submits one user turn.
type UserMessagePayload struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// AIResponsePayload resolves a pending turn.
type AIResponsePayload struct {
	MessageData chat.MessageRecord `json:"message_data"`
	SessionData chat.Snapshot      `json:"session_data,omitempty"`
}

// ErrorPayload is a non-fatal failure notice from the responder.
type ErrorPayload struct {
	Message string `json:"message"`
}

// EndSessionPayload is the best-effort teardown notice sent before restart.
type EndSessionPayload struct {
	SessionID string `json:"session_id"`
}

// SessionEndedPayload acknowledges an end_session notice. The client logs
// and otherwise ignores it.
type SessionEndedPayload struct {
	SessionID string `json:"session_id"`
}
