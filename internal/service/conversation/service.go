package conversation

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mkells/chatsync/internal/model/chat"
	"github.com/mkells/chatsync/internal/session"
	"github.com/mkells/chatsync/internal/store"
)

var (
	// ErrTurnPending rejects a submission while the previous turn is still
	// awaiting its response.
	ErrTurnPending = errors.New("a turn is already awaiting its response")
	// ErrEmptyMessage rejects blank submissions before they reach the wire.
	ErrEmptyMessage = errors.New("message is empty")
)

// phase is the turn state, orthogonal to the connection state: a
// conversation can be awaiting a response while the channel is down.
type phase int

const (
	phaseIdle phase = iota
	phaseAwaitingResponse
)

// Transport is the outbound side of the channel, implemented by
// channel.Client. Kept narrow so the lifecycle is testable without a live
// connection.
type Transport interface {
	JoinSession(sessionID string) error
	SendMessage(sessionID, text string) error
	EndSession(sessionID string)
	Connected() bool
}

// Presenter is the display collaborator. Rendering concerns live entirely
// behind it; the lifecycle only decides what to show and when.
type Presenter interface {
	UserMessage(rec chat.MessageRecord)
	AssistantMessage(rec chat.MessageRecord)
	Notice(text string)
}

// Service is the top-level orchestrator of one resumable conversation. It
// exclusively owns the conversation state; the channel reports inbound
// events through the Handler methods and the service applies them.
type Service struct {
	store     store.Store
	ids       *session.Manager
	cache     *session.Cache
	presenter Presenter
	log       zerolog.Logger

	mu         sync.Mutex
	transport  Transport
	sessionID  string
	hasStarted bool
	snapshot   chat.Snapshot
	phase      phase
}

// NewService wires the lifecycle over its collaborators. The transport is
// attached separately because the channel client in turn needs the service
// as its event handler.
func NewService(st store.Store, ids *session.Manager, cache *session.Cache, presenter Presenter, log zerolog.Logger) *Service {
	return &Service{
		store:     st,
		ids:       ids,
		cache:     cache,
		presenter: presenter,
		log:       log,
	}
}

// AttachTransport binds the outbound channel. Must be called before Submit.
func (s *Service) AttachTransport(t Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transport = t
}

// Start loads persisted state, replays any cached history through the
// presenter (display only, no network calls) and acquires the session
// identity. Running it twice without user action yields identical state.
func (s *Service) Start() chat.ConversationState {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok, err := s.store.Get(store.KeyStarted)
	if err != nil {
		s.log.Warn().Err(err).Msg("started flag unreadable")
	}
	s.hasStarted = ok && string(value) == "true"

	history := s.cache.LoadHistory()
	s.replayLocked(history)

	if raw, ok, err := s.store.Get(store.KeySessionData); err == nil && ok {
		s.snapshot = chat.Snapshot(raw)
	}

	s.sessionID = s.ids.GetOrCreate()
	s.phase = phaseIdle

	s.log.Info().
		Str("session_id", s.sessionID).
		Bool("has_started", s.hasStarted).
		Int("history", len(history)).
		Msg("conversation started")
	return s.stateLocked()
}

// Submit handles one user submission: optimistic local echo, persistence,
// then the outbound send. Exactly one turn may be in flight; submissions
// while pending are rejected without any side effect.
func (s *Service) Submit(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	if s.phase == phaseAwaitingResponse {
		s.mu.Unlock()
		return ErrTurnPending
	}

	rec := chat.MessageRecord{Question: text, Timestamp: time.Now().UTC()}
	s.cache.Append(rec)
	if !s.hasStarted {
		s.hasStarted = true
		if err := s.store.Set(store.KeyStarted, []byte("true")); err != nil {
			s.log.Warn().Err(err).Msg("started flag not persisted")
		}
	}
	s.phase = phaseAwaitingResponse
	sessionID := s.sessionID
	transport := s.transport
	s.mu.Unlock()

	s.presenter.UserMessage(rec)

	if err := transport.SendMessage(sessionID, text); err != nil {
		// The echoed record stays, unanswered; the pending lock is released
		// so the user may retry.
		s.mu.Lock()
		s.phase = phaseIdle
		s.mu.Unlock()
		return err
	}
	return nil
}

// Restart tears the conversation down and begins a fresh session: the
// responder is notified best-effort, every persisted key is cleared and a
// new identity is minted. Never blocks on network state; any pending turn
// is implicitly cancelled.
func (s *Service) Restart() chat.ConversationState {
	s.mu.Lock()
	old := s.sessionID
	transport := s.transport
	connected := transport != nil && transport.Connected()
	if connected {
		transport.EndSession(old)
	}

	if err := s.store.Clear(); err != nil {
		s.log.Warn().Err(err).Msg("persisted state not cleared")
	}
	s.cache.Clear()
	s.sessionID = s.ids.Rotate()
	s.hasStarted = false
	s.snapshot = nil
	s.phase = phaseIdle
	newID := s.sessionID
	state := s.stateLocked()
	s.mu.Unlock()

	s.log.Info().Str("old_session_id", old).Str("session_id", newID).Msg("conversation restarted")
	if connected {
		if err := transport.JoinSession(newID); err != nil {
			s.log.Warn().Err(err).Msg("rejoin not sent")
		}
	}
	return state
}

// State returns a copy of the current conversation state.
func (s *Service) State() chat.ConversationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Joined applies the join acknowledgment. Reconciliation is asymmetric:
// server history is adopted only when the local cache is empty; a non-empty
// local cache is authoritative and the server history is ignored. The
// snapshot is stored wholesale either way.
func (s *Service) Joined(sessionID string, snapshot chat.Snapshot, history []chat.MessageRecord) {
	s.mu.Lock()
	if sessionID != "" && sessionID != s.sessionID {
		s.sessionID = sessionID
		s.ids.Adopt(sessionID)
	}
	s.storeSnapshotLocked(snapshot)

	if s.cache.Len() == 0 && len(history) > 0 {
		s.cache.ReplaceAll(history)
		s.replayLocked(history)
	}
	s.mu.Unlock()
}

// Response resolves the pending turn with the responder's answer. A
// response arriving with no pending turn (a late reply racing a reload) is
// treated as a fresh incoming exchange and simply appended.
func (s *Service) Response(record chat.MessageRecord, snapshot chat.Snapshot) {
	s.mu.Lock()
	s.storeSnapshotLocked(snapshot)

	shown := record
	if s.phase == phaseAwaitingResponse {
		s.phase = phaseIdle
		if resolved, ok := s.cache.Resolve(record.Answer, record.Duration); ok {
			shown = resolved
		} else {
			s.cache.Append(record)
		}
	} else {
		s.cache.Append(record)
	}
	s.mu.Unlock()

	s.presenter.AssistantMessage(shown)
}

// ServerError surfaces a server-reported failure. Terminal for the current
// turn only: the pending lock is released and the session remains usable.
func (s *Service) ServerError(message string) {
	s.mu.Lock()
	s.phase = phaseIdle
	s.mu.Unlock()

	if message == "" {
		message = "the assistant reported an error"
	}
	s.presenter.Notice(message)
}

// Disconnected reacts to transport loss. Any in-flight exchange is left
// unresolved with its answer absent; the user may resend once the channel
// reconnects.
func (s *Service) Disconnected() {
	s.mu.Lock()
	wasPending := s.phase == phaseAwaitingResponse
	s.phase = phaseIdle
	s.mu.Unlock()

	if wasPending {
		s.presenter.Notice("connection lost before the answer arrived; please resend")
	} else {
		s.presenter.Notice("connection lost, reconnecting")
	}
}

func (s *Service) storeSnapshotLocked(snapshot chat.Snapshot) {
	if snapshot == nil {
		return
	}
	s.snapshot = snapshot
	if err := s.store.Set(store.KeySessionData, []byte(snapshot)); err != nil {
		s.log.Warn().Err(err).Msg("session snapshot not persisted")
	}
}

func (s *Service) replayLocked(history []chat.MessageRecord) {
	for _, rec := range history {
		s.presenter.UserMessage(rec)
		if rec.Resolved() {
			s.presenter.AssistantMessage(rec)
		}
	}
}

func (s *Service) stateLocked() chat.ConversationState {
	return chat.ConversationState{
		SessionID:  s.sessionID,
		HasStarted: s.hasStarted,
		Messages:   s.cache.Records(),
		Snapshot:   s.snapshot,
	}
}
