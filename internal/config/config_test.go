package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, "ws://localhost:8080/ws", cfg.Client.ServerURL)
	require.NotEmpty(t, cfg.Client.StatePath)
	require.Equal(t, 25*time.Second, cfg.Channel.PingInterval)
}

func TestLoadServerAddr(t *testing.T) {
	t.Setenv("PORT", "9000")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Server.Addr)

	t.Setenv("PORT", "127.0.0.1:9000")
	cfg, err = Load()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)

	t.Setenv("PORT", "bad port")
	_, err = Load()
	require.Error(t, err)
}

func TestLoadServerURLValidation(t *testing.T) {
	t.Setenv("CHAT_SERVER_URL", "wss://chat.example.com/ws")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "wss://chat.example.com/ws", cfg.Client.ServerURL)

	t.Setenv("CHAT_SERVER_URL", "https://chat.example.com/ws")
	_, err = Load()
	require.Error(t, err, "only ws and wss schemes are accepted")
}

func TestLoadChannelOverrides(t *testing.T) {
	t.Setenv("CHAT_PING_INTERVAL_SECONDS", "5")
	t.Setenv("CHAT_BACKOFF_MIN_MS", "100")
	t.Setenv("CHAT_BACKOFF_MAX_MS", "2000")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, cfg.Channel.PingInterval)
	require.Equal(t, 100*time.Millisecond, cfg.Channel.BackoffMin)
	require.Equal(t, 2*time.Second, cfg.Channel.BackoffMax)
}

func TestLoadChannelRejectsBadValues(t *testing.T) {
	t.Setenv("CHAT_READ_TIMEOUT_SECONDS", "zero")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("CHAT_READ_TIMEOUT_SECONDS", "0")
	_, err = Load()
	require.Error(t, err)

	t.Setenv("CHAT_READ_TIMEOUT_SECONDS", "30")
	t.Setenv("CHAT_BACKOFF_MIN_MS", "5000")
	t.Setenv("CHAT_BACKOFF_MAX_MS", "100")
	_, err = Load()
	require.Error(t, err, "backoff max below min is rejected")
}
