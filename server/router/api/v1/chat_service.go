package v1

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/useparley/parley/plugin/aiprovider"
	"github.com/useparley/parley/plugin/modelrouter"
	"github.com/useparley/parley/plugin/quota"
	"github.com/useparley/parley/plugin/resilience"
	"github.com/useparley/parley/plugin/streaming"
	"github.com/useparley/parley/store"
)

// ─────────────────────────────────────────────────────────────────────────────
// Request / Response types
// ─────────────────────────────────────────────────────────────────────────────

type roomRequest struct {
	Title string `json:"title"`
	Tier  string `json:"tier"`
}

type roomResponse struct {
	UID       string `json:"uid"`
	Title     string `json:"title"`
	Tier      string `json:"tier"`
	CreatedTs int64  `json:"createdTs"`
	UpdatedTs int64  `json:"updatedTs"`
}

type threadRequest struct {
	Title string `json:"title"`
}

type threadResponse struct {
	UID       string `json:"uid"`
	Title     string `json:"title"`
	CreatedTs int64  `json:"createdTs"`
	UpdatedTs int64  `json:"updatedTs"`
}

type messageRequest struct {
	SenderID int32  `json:"senderId"`
	Content  string `json:"content"`
}

type messageResponse struct {
	ID        int32  `json:"id"`
	SenderID  int32  `json:"senderId"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Model     string `json:"model,omitempty"`
	CreatedTs int64  `json:"createdTs"`
}

type generateRequest struct {
	Model string `json:"model"` // optional explicit variant, honored on paid tiers
	// Running spend for the billing month, reported by the billing service.
	MonthlySpendUSD float64 `json:"monthlySpendUsd"`
}

type generateResponse struct {
	SessionID string `json:"sessionId"`
	Model     string `json:"model"`
	Reason    string `json:"reason"`
}

type abortRequest struct {
	SessionID string `json:"sessionId"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Room CRUD
// ─────────────────────────────────────────────────────────────────────────────

func (s *APIV1Service) listRooms(c *echo.Context) error {
	rooms, err := s.Store.ListRooms(c.Request().Context(), &store.FindRoom{})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := make([]roomResponse, 0, len(rooms))
	for _, r := range rooms {
		resp = append(resp, toRoomResponse(r))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *APIV1Service) createRoom(c *echo.Context) error {
	var req roomRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title required")
	}
	room, err := s.Store.CreateRoom(c.Request().Context(), &store.Room{
		UID:   shortuuid.New(),
		Title: req.Title,
		Tier:  req.Tier,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, toRoomResponse(room))
}

func (s *APIV1Service) getRoom(c *echo.Context) error {
	room, err := s.findRoom(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toRoomResponse(room))
}

func (s *APIV1Service) updateRoom(c *echo.Context) error {
	room, err := s.findRoom(c)
	if err != nil {
		return err
	}
	var req roomRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	update := &store.UpdateRoom{UID: room.UID}
	if req.Title != "" {
		update.Title = &req.Title
	}
	if req.Tier != "" {
		update.Tier = &req.Tier
	}
	updated, err := s.Store.UpdateRoom(c.Request().Context(), update)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, toRoomResponse(updated))
}

func (s *APIV1Service) deleteRoom(c *echo.Context) error {
	room, err := s.findRoom(c)
	if err != nil {
		return err
	}
	if err := s.Store.DeleteRoom(c.Request().Context(), room.UID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// ─────────────────────────────────────────────────────────────────────────────
// Thread CRUD
// ─────────────────────────────────────────────────────────────────────────────

func (s *APIV1Service) listThreads(c *echo.Context) error {
	room, err := s.findRoom(c)
	if err != nil {
		return err
	}
	threads, err := s.Store.ListThreads(c.Request().Context(), &store.FindThread{RoomID: &room.ID})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := make([]threadResponse, 0, len(threads))
	for _, t := range threads {
		resp = append(resp, toThreadResponse(t))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *APIV1Service) createThread(c *echo.Context) error {
	room, err := s.findRoom(c)
	if err != nil {
		return err
	}
	var req threadRequest
	if err := c.Bind(&req); err != nil || req.Title == "" {
		req.Title = "New Thread"
	}

	existing, err := s.Store.ListThreads(c.Request().Context(), &store.FindThread{RoomID: &room.ID})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := s.Limiter.CheckThreadAdmission(quota.Tier(room.Tier), int32(len(existing))); err != nil {
		return limitHTTPError(err)
	}

	thread, err := s.Store.CreateThread(c.Request().Context(), &store.Thread{
		UID:    shortuuid.New(),
		RoomID: room.ID,
		Title:  req.Title,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, toThreadResponse(thread))
}

func (s *APIV1Service) deleteThread(c *echo.Context) error {
	_, thread, err := s.findRoomThread(c)
	if err != nil {
		return err
	}
	if err := s.Store.DeleteThread(c.Request().Context(), thread.UID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// ─────────────────────────────────────────────────────────────────────────────
// Messages
// ─────────────────────────────────────────────────────────────────────────────

func (s *APIV1Service) listMessages(c *echo.Context) error {
	_, thread, err := s.findRoomThread(c)
	if err != nil {
		return err
	}
	msgs, err := s.Store.ListMessages(c.Request().Context(), &store.FindMessage{ThreadID: thread.ID})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, toMessageResponse(m))
	}
	return c.JSON(http.StatusOK, resp)
}

// postMessage persists a user message after quota admission and increments
// the room's message counters on success.
func (s *APIV1Service) postMessage(c *echo.Context) error {
	room, thread, err := s.findRoomThread(c)
	if err != nil {
		return err
	}
	var req messageRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content required")
	}

	ctx := c.Request().Context()
	count, err := s.Store.CountThreadMessages(ctx, thread.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	scope := roomScope(room)
	if err := s.Limiter.CheckMessageAdmission(ctx, scope, quota.Tier(room.Tier), count); err != nil {
		return limitHTTPError(err)
	}

	msg, err := s.Store.CreateMessage(ctx, &store.CreateMessage{
		ThreadID:   thread.ID,
		SenderID:   req.SenderID,
		Role:       "user",
		Content:    req.Content,
		TokenCount: int32(len(req.Content) / 4),
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := s.Limiter.Increment(ctx, scope, quota.ResourceMessage, quota.WindowHour, quota.WindowDay); err != nil {
		slog.Warn("failed to record message usage", "room", room.UID, "err", err)
	}

	s.Hub.Publish(room.UID, "message-created", map[string]any{
		"threadId": thread.UID,
		"message":  toMessageResponse(msg),
	})
	return c.JSON(http.StatusCreated, toMessageResponse(msg))
}

// ─────────────────────────────────────────────────────────────────────────────
// Generation
// ─────────────────────────────────────────────────────────────────────────────

// generate routes the thread's latest user message to a model variant, admits
// it against the room's AI-response quota, opens a stream session and runs the
// provider call in the background. Progress flows over the room event stream.
func (s *APIV1Service) generate(c *echo.Context) error {
	if !s.Profile.ProviderConfigured() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "generation is not configured (missing provider API key)")
	}
	room, thread, err := s.findRoomThread(c)
	if err != nil {
		return err
	}
	var req generateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	ctx := c.Request().Context()
	history, err := s.Store.ListMessages(ctx, &store.FindMessage{ThreadID: thread.ID})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	prompt := lastUserContent(history)
	if prompt == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "thread has no user message to respond to")
	}

	sel := modelrouter.Route(modelrouter.Request{
		Content:         prompt,
		Tier:            quota.Tier(room.Tier),
		RequestedModel:  req.Model,
		MonthlySpendUSD: req.MonthlySpendUSD,
	})

	scope := roomScope(room)
	if err := s.Limiter.CheckResponseAdmission(ctx, scope, quota.Tier(room.Tier), sel.Reasoning()); err != nil {
		return limitHTTPError(err)
	}

	sessionID, err := s.Manager.Start(room.UID, thread.UID, sel.Reasoning())
	switch {
	case errors.Is(err, streaming.ErrSessionExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, streaming.ErrTooManySessions), errors.Is(err, streaming.ErrDraining):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	slog.Info("generation admitted",
		"room", room.UID, "thread", thread.UID, "session", sessionID,
		"model", sel.Model, "reason", sel.Reason)

	// Detached from the request: the caller gets the session id back and
	// every room subscriber watches the stream over SSE. The cancel function
	// stays registered so an abort or a drain can stop the provider call.
	genCtx, cancel := context.WithCancel(context.Background())
	s.trackGeneration(sessionID, cancel)
	go s.runGeneration(genCtx, room, thread, sessionID, sel, history)

	return c.JSON(http.StatusAccepted, generateResponse{
		SessionID: sessionID,
		Model:     sel.Model,
		Reason:    sel.Reason,
	})
}

func (s *APIV1Service) abortGeneration(c *echo.Context) error {
	if _, _, err := s.findRoomThread(c); err != nil {
		return err
	}
	var req abortRequest
	if err := c.Bind(&req); err != nil || req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "sessionId required")
	}
	// Abort before cancelling so subscribers see the flushed partial text and
	// the "aborted" error rather than a context cancellation.
	s.Manager.Abort(req.SessionID)
	s.cancelGeneration(req.SessionID)
	return c.NoContent(http.StatusNoContent)
}

func (s *APIV1Service) trackGeneration(sessionID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels[sessionID] = cancel
}

func (s *APIV1Service) cancelGeneration(sessionID string) {
	s.mu.Lock()
	cancel := s.cancels[sessionID]
	delete(s.cancels, sessionID)
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// CancelGenerations stops every in-flight generation. Called on shutdown
// after the stream manager has drained its sessions.
func (s *APIV1Service) CancelGenerations() {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.cancels))
	for id, cancel := range s.cancels {
		cancels = append(cancels, cancel)
		delete(s.cancels, id)
	}
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// runGeneration is the single dispatch loop for one stream session. It wraps
// the provider call in the circuit breaker and the retry policy; retries stop
// once any fragment has reached the session, since replaying a partial stream
// would duplicate delivered text.
func (s *APIV1Service) runGeneration(
	ctx context.Context,
	room *store.Room,
	thread *store.Thread,
	sessionID string,
	sel modelrouter.Selection,
	history []*store.Message,
) {
	defer s.cancelGeneration(sessionID)

	// A quarter of the tier's context window is reserved for the response;
	// the rest carries the system prompt and the thread history.
	caps := quota.CapabilitiesFor(quota.Tier(room.Tier))
	provReq := aiprovider.Request{
		Model:     sel.Model,
		System:    buildSystemPrompt(room.Title, time.Now()),
		Messages:  toProviderMessages(history),
		MaxTokens: caps.ContextWindowTokens / 4,
	}

	var final *aiprovider.Completion
	delivered := false

	retryCfg := s.Retry
	retryCfg.RetryIf = func(err error) bool {
		return !delivered && resilience.IsRetryable(err)
	}

	err := resilience.Retry(ctx, retryCfg, func(ctx context.Context) error {
		return s.Breaker.Do(ctx, func(ctx context.Context) error {
			events, err := s.Provider.Stream(ctx, provReq)
			if err != nil {
				return err
			}
			final, err = s.dispatch(ctx, sessionID, sel.Reasoning(), events, &delivered)
			return err
		})
	})
	if err != nil {
		slog.Warn("generation failed", "session", sessionID, "model", sel.Model, "err", err)
		s.Manager.Fail(sessionID, err.Error())
		return
	}

	if sel.Reasoning() {
		s.Manager.TransitionToAnswering(sessionID)
	}
	meta := streaming.CompleteMeta{}
	text := ""
	if final != nil {
		text = final.Text
		meta.Reasoning = final.Reasoning
		meta.Sources = toStreamingSources(final.Sources)
	}
	if !s.Manager.Complete(sessionID, text, meta) {
		// The session was aborted or timed out while the provider finished;
		// clients already saw a terminal event, so nothing gets persisted or
		// counted.
		slog.Info("generation finished after session ended", "session", sessionID)
		return
	}

	if _, err := s.Store.CreateMessage(ctx, &store.CreateMessage{
		ThreadID:   thread.ID,
		Role:       "assistant",
		Content:    text,
		Model:      sel.Model,
		TokenCount: int32(len(text) / 4),
	}); err != nil {
		slog.Warn("failed to persist assistant message", "session", sessionID, "err", err)
	}

	scope := roomScope(room)
	if err := s.Limiter.Increment(ctx, scope, quota.ResourceAIResponse, quota.WindowHour, quota.WindowDay); err != nil {
		slog.Warn("failed to record response usage", "room", room.UID, "err", err)
	}
	if sel.Reasoning() {
		if err := s.Limiter.Increment(ctx, scope, quota.ResourceReasoning, quota.WindowHour, quota.WindowDay); err != nil {
			slog.Warn("failed to record reasoning usage", "room", room.UID, "err", err)
		}
	}
}

// dispatch consumes one provider stream into the session. delivered flips as
// soon as any fragment is forwarded.
func (s *APIV1Service) dispatch(
	ctx context.Context,
	sessionID string,
	reasoning bool,
	events <-chan aiprovider.Event,
	delivered *bool,
) (*aiprovider.Completion, error) {
	answering := !reasoning
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil, errors.New("provider stream ended without a terminal event")
			}
			switch ev.Kind {
			case aiprovider.KindReasoningDelta:
				*delivered = true
				s.Manager.AppendReasoning(sessionID, ev.Delta)
			case aiprovider.KindAnswerDelta:
				*delivered = true
				if !answering {
					s.Manager.TransitionToAnswering(sessionID)
					answering = true
				}
				s.Manager.AppendAnswer(sessionID, ev.Delta)
			case aiprovider.KindDone:
				return ev.Final, nil
			case aiprovider.KindError:
				return nil, ev.Err
			}
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Room event stream (SSE)
// ─────────────────────────────────────────────────────────────────────────────

// streamRoomEvents bridges the realtime hub onto an SSE response. Every event
// published on the room channel reaches every connected subscriber.
func (s *APIV1Service) streamRoomEvents(c *echo.Context) error {
	room, err := s.findRoom(c)
	if err != nil {
		return err
	}

	rw := c.Response()
	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")
	rw.Header().Set("X-Accel-Buffering", "no")
	rw.WriteHeader(http.StatusOK)

	events, unsubscribe := s.Hub.Subscribe(room.UID)
	defer unsubscribe()

	flush := func() {
		if f, ok := rw.(http.Flusher); ok {
			f.Flush()
		}
	}
	flush()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			payload, err := json.Marshal(ev.Payload)
			if err != nil {
				slog.Warn("failed to marshal room event", "room", room.UID, "event", ev.Name, "err", err)
				continue
			}
			data, _ := json.Marshal(map[string]json.RawMessage{
				"type":    json.RawMessage(`"` + ev.Name + `"`),
				"payload": payload,
			})
			fmt.Fprintf(rw, "data: %s\n\n", data)
			flush()
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func (s *APIV1Service) findRoom(c *echo.Context) (*store.Room, error) {
	uid := c.Param("uid")
	room, err := s.Store.GetRoom(c.Request().Context(), &store.FindRoom{UID: &uid})
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if room == nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "room not found")
	}
	return room, nil
}

func (s *APIV1Service) findRoomThread(c *echo.Context) (*store.Room, *store.Thread, error) {
	room, err := s.findRoom(c)
	if err != nil {
		return nil, nil, err
	}
	tid := c.Param("tid")
	thread, err := s.Store.GetThread(c.Request().Context(), &store.FindThread{UID: &tid})
	if err != nil {
		return nil, nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if thread == nil || thread.RoomID != room.ID {
		return nil, nil, echo.NewHTTPError(http.StatusNotFound, "thread not found")
	}
	return room, thread, nil
}

func roomScope(room *store.Room) string {
	return "room:" + room.UID
}

// limitHTTPError maps quota refusals to 429 with the remediation message and
// everything else to 500.
func limitHTTPError(err error) error {
	var limitErr *quota.LimitError
	if errors.As(err, &limitErr) {
		return echo.NewHTTPError(http.StatusTooManyRequests, limitErr.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func lastUserContent(msgs []*store.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	return ""
}

func toProviderMessages(msgs []*store.Message) []aiprovider.Message {
	out := make([]aiprovider.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		out = append(out, aiprovider.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func toStreamingSources(sources []aiprovider.Source) []streaming.Source {
	if len(sources) == 0 {
		return nil
	}
	out := make([]streaming.Source, 0, len(sources))
	for _, src := range sources {
		out = append(out, streaming.Source{Title: src.Title, URL: src.URL})
	}
	return out
}

func buildSystemPrompt(roomTitle string, now time.Time) string {
	return fmt.Sprintf(
		`You are the AI assistant in the group chat room %q.
Today's date: %s.
Answer for the whole room: be concise, and when members disagree, summarise the viewpoints before responding.`,
		roomTitle,
		now.Format("2006-01-02"),
	)
}

func toRoomResponse(r *store.Room) roomResponse {
	return roomResponse{UID: r.UID, Title: r.Title, Tier: r.Tier, CreatedTs: r.CreatedTs, UpdatedTs: r.UpdatedTs}
}

func toThreadResponse(t *store.Thread) threadResponse {
	return threadResponse{UID: t.UID, Title: t.Title, CreatedTs: t.CreatedTs, UpdatedTs: t.UpdatedTs}
}

func toMessageResponse(m *store.Message) messageResponse {
	return messageResponse{
		ID:        m.ID,
		SenderID:  m.SenderID,
		Role:      m.Role,
		Content:   m.Content,
		Model:     m.Model,
		CreatedTs: m.CreatedTs,
	}
}
