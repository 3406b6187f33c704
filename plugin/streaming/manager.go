// Package streaming owns the lifecycle of in-flight AI responses: one
// StreamSession per response, batched chunk delivery through the realtime
// transport, watchdog timeouts and admission control. The manager is an
// explicit instance constructed at startup and injected into request
// handlers; it exposes no global state.
package streaming

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/useparley/parley/plugin/realtime"
)

// Phase is the forward-only state of a stream session.
type Phase string

const (
	PhaseReasoning Phase = "reasoning"
	PhaseAnswering Phase = "answering"
	PhaseComplete  Phase = "complete"
	PhaseError     Phase = "error"
)

// Admission refusals, surfaced synchronously before any provider call.
var (
	ErrTooManySessions = errors.New("streaming concurrency ceiling reached")
	ErrSessionExists   = errors.New("an active session already exists for this thread")
	ErrDraining        = errors.New("streaming manager is shutting down")
)

// Config tunes the manager. Zero values fall back to defaults.
type Config struct {
	MaxConcurrentSessions int
	MaxChunkSize          int           // characters buffered before a forced flush
	DebounceInterval      time.Duration // max added latency before a flush
	IdleTimeout           time.Duration // watchdog: no activity fails the session
	DisposalGrace         time.Duration // completed sessions linger for late duplicates
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentSessions: 100,
		MaxChunkSize:          100,
		DebounceInterval:      50 * time.Millisecond,
		IdleTimeout:           2 * time.Minute,
		DisposalGrace:         5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConcurrentSessions <= 0 {
		c.MaxConcurrentSessions = d.MaxConcurrentSessions
	}
	if c.MaxChunkSize <= 0 {
		c.MaxChunkSize = d.MaxChunkSize
	}
	if c.DebounceInterval <= 0 {
		c.DebounceInterval = d.DebounceInterval
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.DisposalGrace < 0 {
		c.DisposalGrace = 0
	}
	return c
}

// CompleteMeta is the optional metadata attached to a completion.
type CompleteMeta struct {
	Reasoning string
	Sources   []Source
}

type scopeKey struct {
	channel string
	thread  string
}

type session struct {
	id      string
	channel string
	thread  string

	mu             sync.Mutex
	phase          Phase
	active         bool
	reasoning      strings.Builder
	answer         strings.Builder
	chunkIndex     int
	startedAt      time.Time
	lastActivityAt time.Time
	watchdog       *time.Timer
	disposal       *time.Timer
	buffer         *ChunkBuffer
}

// Manager is the stream-session orchestrator.
type Manager struct {
	cfg Config
	pub realtime.Publisher
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*session  // all sessions, including those in disposal grace
	byScope  map[scopeKey]string  // active session per (channel, thread)
	draining bool
}

// NewManager creates a manager publishing through pub.
func NewManager(cfg Config, pub realtime.Publisher) *Manager {
	return &Manager{
		cfg:      cfg.withDefaults(),
		pub:      pub,
		now:      time.Now,
		sessions: map[string]*session{},
		byScope:  map[scopeKey]string{},
	}
}

// ActiveCount returns the number of currently active sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byScope)
}

// Start admits a new stream session for (channel, thread) and emits
// stream-start. It refuses when the concurrency ceiling is reached, when the
// scope already has an active session, or during drain. Sessions for models
// without a reasoning phase start directly in answering.
func (m *Manager) Start(channelID, threadID string, reasoning bool) (string, error) {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return "", ErrDraining
	}
	if len(m.byScope) >= m.cfg.MaxConcurrentSessions {
		m.mu.Unlock()
		return "", ErrTooManySessions
	}
	key := scopeKey{channel: channelID, thread: threadID}
	if _, ok := m.byScope[key]; ok {
		m.mu.Unlock()
		return "", ErrSessionExists
	}

	now := m.now()
	s := &session{
		id:             uuid.New().String(),
		channel:        channelID,
		thread:         threadID,
		phase:          PhaseReasoning,
		active:         true,
		startedAt:      now,
		lastActivityAt: now,
	}
	if !reasoning {
		s.phase = PhaseAnswering
	}
	s.buffer = NewChunkBuffer(m.cfg.MaxChunkSize, m.cfg.DebounceInterval, func(batch string) {
		m.emitChunk(s, batch)
	})
	s.watchdog = time.AfterFunc(m.cfg.IdleTimeout, func() {
		m.Fail(s.id, "timeout")
	})
	m.sessions[s.id] = s
	m.byScope[key] = s.id
	m.mu.Unlock()

	slog.Info("stream session started", "session", s.id, "channel", channelID, "thread", threadID, "phase", s.phase)
	m.pub.Publish(channelID, EventStreamStart, StreamStartPayload{SessionID: s.id, ThreadID: threadID})
	return s.id, nil
}

// emitChunk publishes one batched flush under the phase that is current at
// flush time. Runs serialized per session (buffer lock held), so a panic is
// recovered here and the failure handled on a fresh goroutine once the
// buffer lock is released.
func (m *Manager) emitChunk(s *session, batch string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while emitting stream chunk", "session", s.id, "panic", r)
			go m.Fail(s.id, "internal error")
		}
	}()

	s.mu.Lock()
	phase := s.phase
	if phase == PhaseComplete || phase == PhaseError {
		// Late timer flush racing disposal; the terminal event already
		// carries the full text.
		s.mu.Unlock()
		return
	}
	var payload any
	var event string
	switch phase {
	case PhaseReasoning:
		event = EventReasoningChunk
		payload = ReasoningChunkPayload{
			SessionID:            s.id,
			Chunk:                batch,
			AccumulatedReasoning: s.reasoning.String(),
		}
	default:
		s.chunkIndex++
		event = EventStreamChunk
		payload = StreamChunkPayload{
			SessionID:       s.id,
			Chunk:           batch,
			AccumulatedText: s.answer.String(),
			ChunkIndex:      s.chunkIndex,
		}
	}
	channel := s.channel
	s.mu.Unlock()

	m.pub.Publish(channel, event, payload)
}

func (m *Manager) get(id string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// AppendReasoning forwards a reasoning fragment to the session's buffer.
// Late, unknown or phase-mismatched fragments are ignored, never errors.
func (m *Manager) AppendReasoning(id, text string) {
	defer m.recoverChunkFault(id)

	s := m.get(id)
	if s == nil || text == "" {
		return
	}
	s.mu.Lock()
	if !s.active || s.phase != PhaseReasoning {
		s.mu.Unlock()
		return
	}
	s.reasoning.WriteString(text)
	s.touchLocked(m.now(), m.cfg.IdleTimeout)
	s.mu.Unlock()

	s.buffer.Append(text)
}

// AppendAnswer forwards an answer fragment to the session's buffer. Late,
// unknown or phase-mismatched fragments are ignored, never errors.
func (m *Manager) AppendAnswer(id, text string) {
	defer m.recoverChunkFault(id)

	s := m.get(id)
	if s == nil || text == "" {
		return
	}
	s.mu.Lock()
	if !s.active || s.phase != PhaseAnswering {
		s.mu.Unlock()
		return
	}
	s.answer.WriteString(text)
	s.touchLocked(m.now(), m.cfg.IdleTimeout)
	s.mu.Unlock()

	s.buffer.Append(text)
}

// TransitionToAnswering moves a reasoning session to the answering phase,
// emitting the accumulated reasoning followed by answer-start. A no-op once
// the session is already past reasoning.
func (m *Manager) TransitionToAnswering(id string) {
	s := m.get(id)
	if s == nil {
		return
	}
	s.mu.Lock()
	if !s.active || s.phase != PhaseReasoning {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	// Emit any buffered reasoning before the phase flips.
	s.buffer.Flush()

	s.mu.Lock()
	if !s.active || s.phase != PhaseReasoning {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseAnswering
	s.touchLocked(m.now(), m.cfg.IdleTimeout)
	finalReasoning := s.reasoning.String()
	channel := s.channel
	s.mu.Unlock()

	m.pub.Publish(channel, EventReasoningComplete, ReasoningCompletePayload{SessionID: id, FinalReasoning: finalReasoning})
	m.pub.Publish(channel, EventAnswerStart, AnswerStartPayload{SessionID: id})
}

// Complete flushes buffered text, marks the session complete and emits
// ai-stream-complete with duration and chunk-count telemetry. The session
// record lingers for the disposal grace so late duplicate events stay no-ops.
// Returns false when the session is gone or already terminal, so callers can
// skip completion side effects for aborted or timed-out sessions.
func (m *Manager) Complete(id, finalText string, meta CompleteMeta) bool {
	s := m.get(id)
	if s == nil {
		return false
	}

	s.buffer.Flush()

	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return false
	}
	s.phase = PhaseComplete
	s.active = false
	s.watchdog.Stop()
	if finalText == "" {
		finalText = s.answer.String()
	}
	if meta.Reasoning == "" {
		meta.Reasoning = s.reasoning.String()
	}
	payload := StreamCompletePayload{
		SessionID:  id,
		FinalText:  finalText,
		Reasoning:  meta.Reasoning,
		Sources:    meta.Sources,
		DurationMs: m.now().Sub(s.startedAt).Milliseconds(),
		ChunkCount: s.chunkIndex,
	}
	channel := s.channel
	s.disposal = time.AfterFunc(m.cfg.DisposalGrace, func() {
		m.remove(id)
	})
	s.mu.Unlock()

	// Outside s.mu: the buffer callback locks s.mu, so closing under it
	// would invert the lock order against a concurrent timer flush.
	s.buffer.Close()
	m.releaseScope(s)
	slog.Info("stream session complete", "session", id, "duration_ms", payload.DurationMs, "chunks", payload.ChunkCount)
	m.pub.Publish(channel, EventStreamComplete, payload)
	return true
}

// Fail marks the session errored, emits ai-stream-error and disposes the
// record immediately. Buffered partial text is discarded; use Abort to
// preserve it.
func (m *Manager) Fail(id, reason string) {
	m.fail(id, reason, false)
}

// Abort behaves like Fail with reason "aborted", but flushes already
// buffered partial text to the channel first so clients keep what was
// generated.
func (m *Manager) Abort(id string) {
	m.fail(id, "aborted", true)
}

func (m *Manager) fail(id, reason string, flushPartial bool) {
	s := m.get(id)
	if s == nil {
		return
	}

	if flushPartial {
		s.buffer.Flush()
	}

	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseError
	s.active = false
	s.watchdog.Stop()
	channel := s.channel
	s.mu.Unlock()

	s.buffer.Close()
	m.releaseScope(s)
	m.remove(id)
	slog.Warn("stream session failed", "session", id, "reason", reason)
	m.pub.Publish(channel, EventStreamError, StreamErrorPayload{SessionID: id, Error: reason})
}

// Drain refuses new sessions and fails every still-active one. Called once
// at shutdown.
func (m *Manager) Drain(reason string) {
	m.mu.Lock()
	m.draining = true
	ids := make([]string, 0, len(m.byScope))
	for _, id := range m.byScope {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Fail(id, reason)
	}
}

// releaseScope frees the (channel, thread) slot so a new session may start
// while the finished record sits out its grace period.
func (m *Manager) releaseScope(s *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := scopeKey{channel: s.channel, thread: s.thread}
	if m.byScope[key] == s.id {
		delete(m.byScope, key)
	}
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	delete(m.sessions, id)
	key := scopeKey{channel: s.channel, thread: s.thread}
	if m.byScope[key] == id {
		delete(m.byScope, key)
	}
}

// recoverChunkFault converts a panic while processing a chunk into a session
// failure; one session's fault must never take the manager down.
func (m *Manager) recoverChunkFault(id string) {
	if r := recover(); r != nil {
		slog.Error("panic while processing stream chunk", "session", id, "panic", r)
		m.Fail(id, "internal error")
	}
}

// touchLocked records activity and re-arms the watchdog. Caller holds s.mu.
func (s *session) touchLocked(now time.Time, idle time.Duration) {
	s.lastActivityAt = now
	if s.watchdog != nil {
		s.watchdog.Reset(idle)
	}
}
