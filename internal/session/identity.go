package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mkells/chatsync/internal/store"
)

// Manager produces and retrieves the stable session identifier for this
// client profile. The identifier is generated once and reused across
// restarts of the process until an explicit conversation restart rotates it.
type Manager struct {
	store store.Store
	log   zerolog.Logger
}

// NewManager creates an identity manager backed by the given store.
func NewManager(st store.Store, log zerolog.Logger) *Manager {
	return &Manager{store: st, log: log}
}

// GetOrCreate returns the persisted session identifier, minting and
// persisting a new one if none exists. It never fails: when the store is
// unavailable the identifier is generated volatile and the caller proceeds.
func (m *Manager) GetOrCreate() string {
	value, ok, err := m.store.Get(store.KeySessionID)
	if err != nil {
		m.log.Warn().Err(err).Msg("session id unreadable, generating volatile identifier")
		return newSessionID()
	}
	if ok && len(value) > 0 {
		return string(value)
	}

	id := newSessionID()
	if err := m.store.Set(store.KeySessionID, []byte(id)); err != nil {
		m.log.Warn().Err(err).Msg("session id not persisted, continuing volatile")
	}
	return id
}

// Adopt persists a server-assigned identifier as the current one.
func (m *Manager) Adopt(id string) {
	if id == "" {
		return
	}
	if err := m.store.Set(store.KeySessionID, []byte(id)); err != nil {
		m.log.Warn().Err(err).Str("session_id", id).Msg("adopted session id not persisted")
	}
}

// Rotate mints a fresh identifier and persists it, discarding the previous
// one. Used on conversation restart; the returned identifier is never equal
// to a previously issued one.
func (m *Manager) Rotate() string {
	id := newSessionID()
	if err := m.store.Set(store.KeySessionID, []byte(id)); err != nil {
		m.log.Warn().Err(err).Msg("rotated session id not persisted, continuing volatile")
	}
	return id
}

// newSessionID combines a millisecond timestamp with a random suffix, the
// same shape the responder mints when a client joins without an identifier.
func newSessionID() string {
	return fmt.Sprintf("session_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}
