package session

import (
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mkells/chatsync/internal/store"
)

// brokenStore fails every operation, standing in for unavailable storage.
type brokenStore struct{}

func (brokenStore) Get(string) ([]byte, bool, error) { return nil, false, errors.New("broken") }
func (brokenStore) Set(string, []byte) error         { return errors.New("broken") }
func (brokenStore) Delete(string) error              { return errors.New("broken") }
func (brokenStore) Clear() error                     { return errors.New("broken") }
func (brokenStore) Close() error                     { return nil }

func TestGetOrCreateIsStable(t *testing.T) {
	m := NewManager(store.NewMemoryStore(), zerolog.Nop())

	first := m.GetOrCreate()
	require.NotEmpty(t, first)
	require.True(t, strings.HasPrefix(first, "session_"))

	second := m.GetOrCreate()
	require.Equal(t, first, second)
}

func TestRotateMintsFreshIdentifier(t *testing.T) {
	m := NewManager(store.NewMemoryStore(), zerolog.Nop())

	first := m.GetOrCreate()
	rotated := m.Rotate()
	require.NotEmpty(t, rotated)
	require.NotEqual(t, first, rotated)

	// The rotated identifier is now the persisted one.
	require.Equal(t, rotated, m.GetOrCreate())
}

func TestAdoptPersistsServerAssignedIdentifier(t *testing.T) {
	st := store.NewMemoryStore()
	m := NewManager(st, zerolog.Nop())

	m.Adopt("session_777_assigned")
	require.Equal(t, "session_777_assigned", m.GetOrCreate())

	// Empty identifiers are never adopted.
	m.Adopt("")
	require.Equal(t, "session_777_assigned", m.GetOrCreate())
}

func TestGetOrCreateNeverFails(t *testing.T) {
	m := NewManager(brokenStore{}, zerolog.Nop())

	id := m.GetOrCreate()
	require.NotEmpty(t, id)
	require.True(t, strings.HasPrefix(id, "session_"))

	// Volatile generation: without storage each call mints a new one, but
	// none of them is ever empty.
	require.NotEmpty(t, m.Rotate())
}
