package store

import "errors"

// ErrNotFound is returned by implementations when a key has no value.
// Callers that only need presence should use the boolean returned by Get.
var ErrNotFound = errors.New("key not found")

// Well-known keys for the conversation engine. All of them are cleared
// together on restart.
const (
	KeySessionID      = "chat_session_id"
	KeyMessageHistory = "chat_message_history"
	KeySessionData    = "chat_session_data"
	KeyStarted        = "chat_started"
)

// Store is durable key-value storage scoped to one client profile. Values
// survive process restarts. Implementations must make each Set observable
// as a whole by a subsequent Get; partial writes must never be visible.
type Store interface {
	// Get returns the value for key. The boolean reports whether the key
	// was present.
	Get(key string) ([]byte, bool, error)
	// Set writes the value for key, replacing any previous value.
	Set(key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
	// Clear removes every key.
	Clear() error
	// Close releases underlying resources.
	Close() error
}
