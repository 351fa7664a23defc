package store

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"sqlite": sqlite,
		"memory": NewMemoryStore(),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, st := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := st.Get("missing")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, st.Set("key", []byte("value")))
			value, ok, err := st.Get("key")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, []byte("value"), value)

			require.NoError(t, st.Set("key", []byte("replaced")))
			value, _, err = st.Get("key")
			require.NoError(t, err)
			require.Equal(t, []byte("replaced"), value)
		})
	}
}

func TestStoreDelete(t *testing.T) {
	for name, st := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.Set("key", []byte("value")))
			require.NoError(t, st.Delete("key"))

			_, ok, err := st.Get("key")
			require.NoError(t, err)
			require.False(t, ok)

			// Deleting an absent key is not an error.
			require.NoError(t, st.Delete("key"))
		})
	}
}

func TestStoreClear(t *testing.T) {
	for name, st := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.Set(KeySessionID, []byte("session_1")))
			require.NoError(t, st.Set(KeyStarted, []byte("true")))
			require.NoError(t, st.Clear())

			for _, key := range []string{KeySessionID, KeyStarted} {
				_, ok, err := st.Get(key)
				require.NoError(t, err)
				require.False(t, ok)
			}
		})
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	st, err := NewSQLiteStore(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Set(KeySessionID, []byte("session_42")))
	require.NoError(t, st.Close())

	reopened, err := NewSQLiteStore(path, zerolog.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	value, ok, err := reopened.Get(KeySessionID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "session_42", string(value))
}

func TestSQLiteStoreCreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "state.db")

	st, err := NewSQLiteStore(path, zerolog.Nop())
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.Set("key", []byte("value")))
}
