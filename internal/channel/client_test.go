package channel_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mkells/chatsync/internal/channel"
	"github.com/mkells/chatsync/internal/model/chat"
	"github.com/mkells/chatsync/internal/respondertest"
)

const eventTimeout = 5 * time.Second

type joinEvent struct {
	sessionID string
	snapshot  chat.Snapshot
	history   []chat.MessageRecord
}

type responseEvent struct {
	record   chat.MessageRecord
	snapshot chat.Snapshot
}

// recordingHandler captures inbound events on channels so tests can wait
// for them without polling.
type recordingHandler struct {
	joins       chan joinEvent
	responses   chan responseEvent
	errors      chan string
	disconnects chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		joins:       make(chan joinEvent, 8),
		responses:   make(chan responseEvent, 8),
		errors:      make(chan string, 8),
		disconnects: make(chan struct{}, 8),
	}
}

func (h *recordingHandler) Joined(sessionID string, snapshot chat.Snapshot, history []chat.MessageRecord) {
	h.joins <- joinEvent{sessionID: sessionID, snapshot: snapshot, history: history}
}

func (h *recordingHandler) Response(record chat.MessageRecord, snapshot chat.Snapshot) {
	h.responses <- responseEvent{record: record, snapshot: snapshot}
}

func (h *recordingHandler) ServerError(message string) {
	h.errors <- message
}

func (h *recordingHandler) Disconnected() {
	h.disconnects <- struct{}{}
}

type staticSession string

func (s staticSession) GetOrCreate() string { return string(s) }

func startResponder(t *testing.T, r *respondertest.Responder) string {
	t.Helper()
	srv := httptest.NewServer(r.Handler())
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func fastOptions(url string) channel.Options {
	opts := channel.DefaultOptions(url)
	opts.BackoffMin = 10 * time.Millisecond
	opts.BackoffMax = 100 * time.Millisecond
	return opts
}

func startClient(t *testing.T, url, sessionID string) (*channel.Client, *recordingHandler) {
	t.Helper()

	handler := newRecordingHandler()
	client := channel.NewClient(fastOptions(url), staticSession(sessionID), handler, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = client.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(eventTimeout):
			t.Error("client did not stop")
		}
	})

	return client, handler
}

func waitJoin(t *testing.T, h *recordingHandler) joinEvent {
	t.Helper()
	select {
	case ev := <-h.joins:
		return ev
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for join acknowledgment")
		return joinEvent{}
	}
}

func TestClientJoinsOnConnect(t *testing.T) {
	url := startResponder(t, respondertest.New())
	client, handler := startClient(t, url, "session_1_abc")

	ev := waitJoin(t, handler)
	require.Equal(t, "session_1_abc", ev.sessionID)
	require.Empty(t, ev.history)
	require.NotEmpty(t, ev.snapshot, "join carries the server snapshot")
	require.Equal(t, channel.StateJoined, client.State())
}

func TestSendMessageBeforeJoinIsRejectedLocally(t *testing.T) {
	handler := newRecordingHandler()
	client := channel.NewClient(fastOptions("ws://127.0.0.1:1/ws"), staticSession("session_1_abc"), handler, zerolog.Nop())

	err := client.SendMessage("session_1_abc", "hello")
	require.ErrorIs(t, err, channel.ErrNotReady)
}

func TestSendMessageRoundTrip(t *testing.T) {
	responder := respondertest.New(respondertest.WithAnswer(func(string) string { return "Hi!" }))
	url := startResponder(t, responder)
	client, handler := startClient(t, url, "session_2_def")
	waitJoin(t, handler)

	require.NoError(t, client.SendMessage("session_2_def", "Hello"))

	select {
	case ev := <-handler.responses:
		require.Equal(t, "Hello", ev.record.Question)
		require.Equal(t, "Hi!", ev.record.Answer)
		require.NotNil(t, ev.record.Duration)
		require.NotEmpty(t, ev.snapshot)
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for response")
	}

	history := responder.History("session_2_def")
	require.Len(t, history, 1)
}

func TestJoinDeliversCanonicalHistory(t *testing.T) {
	responder := respondertest.New()
	seeded := []chat.MessageRecord{
		{Question: "a", Answer: "1", Timestamp: time.Now().UTC()},
		{Question: "b", Answer: "2", Timestamp: time.Now().UTC()},
	}
	responder.Seed("session_3_ghi", seeded)

	url := startResponder(t, responder)
	_, handler := startClient(t, url, "session_3_ghi")

	ev := waitJoin(t, handler)
	require.Len(t, ev.history, 2)
	require.Equal(t, "a", ev.history[0].Question)
	require.Equal(t, "b", ev.history[1].Question)
}

func TestReconnectAfterTransportLoss(t *testing.T) {
	responder := respondertest.New()
	url := startResponder(t, responder)
	client, handler := startClient(t, url, "session_4_jkl")
	waitJoin(t, handler)

	responder.DropConnections()

	select {
	case <-handler.disconnects:
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for disconnect")
	}

	// The client redials on its own and re-sends the join.
	ev := waitJoin(t, handler)
	require.Equal(t, "session_4_jkl", ev.sessionID)

	require.Eventually(t, func() bool {
		return client.State() == channel.StateJoined
	}, eventTimeout, 10*time.Millisecond)
}

func TestEndSessionBestEffort(t *testing.T) {
	responder := respondertest.New()
	url := startResponder(t, responder)
	client, handler := startClient(t, url, "session_5_mno")
	waitJoin(t, handler)

	client.EndSession("session_5_mno")

	require.Eventually(t, func() bool {
		return responder.Ended("session_5_mno")
	}, eventTimeout, 10*time.Millisecond)
}

func TestEndSessionWhileDisconnectedIsNoOp(t *testing.T) {
	handler := newRecordingHandler()
	client := channel.NewClient(fastOptions("ws://127.0.0.1:1/ws"), staticSession("session_6_pqr"), handler, zerolog.Nop())

	// Must not block or panic without a connection.
	client.EndSession("session_6_pqr")
}

func TestServerErrorSurfacedAsEvent(t *testing.T) {
	url := startResponder(t, respondertest.New())
	client, handler := startClient(t, url, "session_7_stu")
	waitJoin(t, handler)

	// An empty message is invalid on the responder side.
	require.NoError(t, client.SendMessage("session_7_stu", ""))

	select {
	case msg := <-handler.errors:
		require.Contains(t, msg, "invalid")
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for error event")
	}

	// The error does not terminate the connection.
	require.Equal(t, channel.StateJoined, client.State())
}
