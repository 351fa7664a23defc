package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mkells/chatsync/internal/model/chat"
)

// ErrNotReady signals a local precondition violation: a send was attempted
// before the session join was acknowledged. The message is rejected without
// any network effect.
var ErrNotReady = errors.New("channel not joined")

// State describes the connection lifecycle. A lost connection returns to
// Connecting under the client's own retry loop; there is no terminal state
// during normal operation.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	default:
		return "disconnected"
	}
}

// Handler receives inbound channel events. The lifecycle service implements
// it; the client never mutates conversation state itself.
type Handler interface {
	Joined(sessionID string, snapshot chat.Snapshot, history []chat.MessageRecord)
	Response(record chat.MessageRecord, snapshot chat.Snapshot)
	ServerError(message string)
	Disconnected()
}

// SessionProvider supplies the current session identifier for the join sent
// on every (re)connect. The identity manager satisfies it.
type SessionProvider interface {
	GetOrCreate() string
}

// Options tunes the websocket connection and retry behaviour.
type Options struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	BackoffMin       time.Duration
	BackoffMax       time.Duration
}

// DefaultOptions returns conservative defaults for the given endpoint.
func DefaultOptions(url string) Options {
	return Options{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     25 * time.Second,
		BackoffMin:       500 * time.Millisecond,
		BackoffMax:       15 * time.Second,
	}
}

// Client owns one logical connection to the responder service. Run keeps
// the connection alive across transport losses; outbound operations are
// fire-and-forget and inbound events are dispatched to the Handler from a
// single goroutine.
type Client struct {
	opts     Options
	sessions SessionProvider
	handler  Handler
	log      zerolog.Logger

	mu    sync.Mutex
	conn  *websocket.Conn
	state State

	writeMu sync.Mutex
}

// NewClient creates a client. Run must be called to establish the channel.
func NewClient(opts Options, sessions SessionProvider, handler Handler, log zerolog.Logger) *Client {
	return &Client{
		opts:     opts,
		sessions: sessions,
		handler:  handler,
		log:      log,
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether a transport connection is established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected || c.state == StateJoined
}

// Run dials the responder and services the connection until ctx is
// cancelled. On transport loss it notifies the handler, backs off and
// redials; the join is re-sent automatically on every connect.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.opts.BackoffMin
	for {
		c.setState(StateConnecting)
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.setState(StateDisconnected)
				return ctx.Err()
			}
			c.log.Warn().Err(err).Dur("retry_in", backoff).Msg("dial failed")
			if !sleep(ctx, backoff) {
				c.setState(StateDisconnected)
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, c.opts.BackoffMax)
			continue
		}
		backoff = c.opts.BackoffMin

		c.mu.Lock()
		c.conn = conn
		c.state = StateConnected
		c.mu.Unlock()
		c.log.Info().Str("url", c.opts.URL).Msg("channel connected")

		// Join immediately upon reaching Connected. Joined is only entered
		// once the acknowledgment event arrives.
		if err := c.JoinSession(c.sessions.GetOrCreate()); err != nil {
			c.log.Warn().Err(err).Msg("join not sent")
		}

		pingDone := make(chan struct{})
		go c.pingLoop(conn, pingDone)

		// Unblock the read loop when the context is cancelled.
		stopClose := context.AfterFunc(ctx, func() { _ = conn.Close() })

		c.readLoop(ctx, conn)
		close(pingDone)
		stopClose()

		c.mu.Lock()
		c.conn = nil
		c.state = StateDisconnected
		c.mu.Unlock()
		_ = conn.Close()

		c.handler.Disconnected()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn().Dur("retry_in", backoff).Msg("channel disconnected")
		if !sleep(ctx, backoff) {
			return ctx.Err()
		}
		backoff = nextBackoff(backoff, c.opts.BackoffMax)
	}
}

// JoinSession requests attachment to the given session. It drops the state
// back to Connected until the acknowledgment arrives, so sends issued for a
// superseded session are rejected locally.
func (c *Client) JoinSession(sessionID string) error {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return fmt.Errorf("join_session: %w", ErrNotReady)
	}
	conn := c.conn
	c.state = StateConnected
	c.mu.Unlock()

	return c.send(conn, EventJoinSession, JoinSessionPayload{SessionID: sessionID})
}

// SendMessage submits one user turn. Valid only once Joined; otherwise the
// call is rejected locally with ErrNotReady and nothing goes on the wire.
func (c *Client) SendMessage(sessionID, text string) error {
	c.mu.Lock()
	if c.state != StateJoined || c.conn == nil {
		c.mu.Unlock()
		return ErrNotReady
	}
	conn := c.conn
	c.mu.Unlock()

	return c.send(conn, EventUserMessage, UserMessagePayload{SessionID: sessionID, Message: text})
}

// EndSession notifies the responder that the session is being torn down.
// Best effort: when the channel is not connected this is a silent no-op, so
// a restart never blocks on network state.
func (c *Client) EndSession(sessionID string) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	if err := c.send(conn, EventEndSession, EndSessionPayload{SessionID: sessionID}); err != nil {
		c.log.Debug().Err(err).Msg("end_session not delivered")
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	})
	return conn, nil
}

// readLoop reads envelopes until the connection fails. Events for a session
// arrive in the order the server produced them; dispatch preserves it.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.log.Debug().Err(err).Msg("read loop ended")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn().Err(err).Msg("discarding malformed envelope")
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env Envelope) {
	switch env.Event {
	case EventSessionInitialised:
		var payload SessionInitialisedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			c.log.Warn().Err(err).Msg("discarding malformed session_initialised")
			return
		}
		c.mu.Lock()
		c.state = StateJoined
		c.mu.Unlock()
		c.log.Info().Str("session_id", payload.SessionID).Int("history", len(payload.Messages)).Msg("session joined")
		c.handler.Joined(payload.SessionID, payload.SessionData, payload.Messages)

	case EventAIResponse:
		var payload AIResponsePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			c.log.Warn().Err(err).Msg("discarding malformed ai_response")
			return
		}
		c.handler.Response(payload.MessageData, payload.SessionData)

	case EventError:
		var payload ErrorPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			c.log.Warn().Err(err).Msg("discarding malformed error event")
			return
		}
		c.handler.ServerError(payload.Message)

	case EventSessionEnded:
		c.log.Debug().Msg("session end acknowledged")

	default:
		c.log.Debug().Str("event", env.Event).Msg("ignoring unknown event")
	}
}

func (c *Client) send(conn *websocket.Conn, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", event, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := conn.WriteJSON(Envelope{Event: event, Data: data}); err != nil {
		return fmt.Errorf("sending %s: %w", event, err)
	}
	return nil
}

func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
