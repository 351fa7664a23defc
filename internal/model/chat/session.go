package chat

import "encoding/json"

// Snapshot is the server-furnished summary of session state. Its shape is
// owned by the server; the client persists it verbatim without
// interpreting it.
type Snapshot = json.RawMessage

// ConversationState is the derived view of one resumable conversation.
// The lifecycle service owns it exclusively; other components report events
// upward and the lifecycle applies them.
type ConversationState struct {
	SessionID  string          `json:"session_id"`
	HasStarted bool            `json:"has_started"`
	Messages   []MessageRecord `json:"messages"`
	Snapshot   Snapshot        `json:"snapshot,omitempty"`
}
