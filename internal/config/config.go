package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config aggregates every setting of the client engine.
type Config struct {
	Server  ServerConfig
	Client  ClientConfig
	Channel ChannelConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	client, err := loadClientConfig()
	if err != nil {
		return nil, err
	}

	channel, err := loadChannelConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Client: client, Channel: channel}, nil
}

// ServerConfig describes the listen address of the local dev responder.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Allow passing ":8080" or "127.0.0.1:8080" directly.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// ClientConfig describes where the client connects and where it keeps its
// durable local state.
type ClientConfig struct {
	ServerURL string
	StatePath string
}

func loadClientConfig() (ClientConfig, error) {
	serverURL := getEnvOrDefault("CHAT_SERVER_URL", "ws://localhost:8080/ws")
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("invalid CHAT_SERVER_URL %q: %w", serverURL, err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return ClientConfig{}, fmt.Errorf("CHAT_SERVER_URL must use ws or wss scheme, got %q", serverURL)
	}

	statePath := strings.TrimSpace(os.Getenv("CHAT_STATE_PATH"))
	if statePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			// No home directory: keep state next to the working directory.
			home = "."
		}
		statePath = filepath.Join(home, ".chatsync", "state.db")
	}

	return ClientConfig{ServerURL: serverURL, StatePath: statePath}, nil
}

// ChannelConfig tunes websocket timeouts and the reconnect backoff.
type ChannelConfig struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	BackoffMin       time.Duration
	BackoffMax       time.Duration
}

func loadChannelConfig() (ChannelConfig, error) {
	cfg := ChannelConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     25 * time.Second,
		BackoffMin:       500 * time.Millisecond,
		BackoffMax:       15 * time.Second,
	}

	overrides := []struct {
		key    string
		unit   time.Duration
		target *time.Duration
	}{
		{"CHAT_HANDSHAKE_TIMEOUT_SECONDS", time.Second, &cfg.HandshakeTimeout},
		{"CHAT_WRITE_TIMEOUT_SECONDS", time.Second, &cfg.WriteTimeout},
		{"CHAT_READ_TIMEOUT_SECONDS", time.Second, &cfg.ReadTimeout},
		{"CHAT_PING_INTERVAL_SECONDS", time.Second, &cfg.PingInterval},
		{"CHAT_BACKOFF_MIN_MS", time.Millisecond, &cfg.BackoffMin},
		{"CHAT_BACKOFF_MAX_MS", time.Millisecond, &cfg.BackoffMax},
	}

	for _, o := range overrides {
		value, err := parseOptionalIntEnv(o.key)
		if err != nil {
			return ChannelConfig{}, err
		}
		if value != nil {
			if *value < 1 {
				return ChannelConfig{}, fmt.Errorf("%s must be positive, got %d", o.key, *value)
			}
			*o.target = time.Duration(*value) * o.unit
		}
	}

	if cfg.BackoffMax < cfg.BackoffMin {
		return ChannelConfig{}, fmt.Errorf("backoff max %s is below backoff min %s", cfg.BackoffMax, cfg.BackoffMin)
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
