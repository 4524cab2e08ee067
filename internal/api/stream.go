package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"council/internal/council"
)

const (
	maxFrameSize      = 1024 * 1024
	eventBufferSize   = 64
	cancelNotifyGrace = 5 * time.Second
)

// SessionState tracks one stream's lifecycle.
type SessionState string

const (
	SessionStreaming SessionState = "streaming"
	SessionCompleted SessionState = "completed"
	SessionErrored   SessionState = "errored"
	SessionCancelled SessionState = "cancelled"
)

// StreamSession owns one live SSE stream for a conversation. Events are
// delivered on Events in arrival order; the channel closes after the
// terminal event.
type StreamSession struct {
	ConversationID string

	events chan council.Event
	cancel context.CancelFunc
	client *Client
	logger zerolog.Logger

	mu    sync.Mutex
	state SessionState

	finished func()
}

// Events returns the ordered event stream.
func (s *StreamSession) Events() <-chan council.Event {
	return s.events
}

// State returns the session's current lifecycle state.
func (s *StreamSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cancel aborts the local stream immediately and notifies the server in
// the background. The server notify is best effort: a failure is logged
// and otherwise ignored, since the local abort already stopped the
// stream and the pipeline will notice the dropped connection.
func (s *StreamSession) Cancel() {
	s.mu.Lock()
	if s.state != SessionStreaming {
		s.mu.Unlock()
		return
	}
	s.state = SessionCancelled
	s.mu.Unlock()

	s.cancel()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), cancelNotifyGrace)
		defer cancel()
		if err := s.client.CancelStream(ctx, s.ConversationID); err != nil {
			s.logger.Warn().
				Str("conversation_id", s.ConversationID).
				Err(err).
				Msg("server-side stream cancel failed")
		}
	}()
}

// setTerminal records the first terminal transition; later ones lose.
func (s *StreamSession) setTerminal(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionStreaming {
		s.state = state
	}
}

// SessionManager starts stream sessions and enforces at most one live
// session per conversation.
type SessionManager struct {
	client *Client
	logger zerolog.Logger

	mu   sync.Mutex
	live map[string]*StreamSession
}

// NewSessionManager constructs a manager around client.
func NewSessionManager(client *Client, logger zerolog.Logger) *SessionManager {
	return &SessionManager{
		client: client,
		logger: logger,
		live:   make(map[string]*StreamSession),
	}
}

// Live returns the live session for a conversation, if any.
func (m *SessionManager) Live(conversationID string) (*StreamSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.live[conversationID]
	return session, ok
}

// Send starts a streaming turn for a conversation. force requests the
// full pipeline even in chat mode.
func (m *SessionManager) Send(ctx context.Context, conversationID, content string, force bool) (*StreamSession, error) {
	body := map[string]any{"content": content}
	if force {
		body["force"] = true
	}
	return m.start(ctx, conversationID, "/message/stream", body)
}

// Retry re-runs the last turn of a conversation.
func (m *SessionManager) Retry(ctx context.Context, conversationID string) (*StreamSession, error) {
	return m.start(ctx, conversationID, "/retry", nil)
}

// Resume feeds human input to a pipeline paused waiting for it.
func (m *SessionManager) Resume(ctx context.Context, conversationID, input string) (*StreamSession, error) {
	return m.start(ctx, conversationID, "/resume", map[string]any{"content": input})
}

func (m *SessionManager) start(ctx context.Context, conversationID, suffix string, body any) (*StreamSession, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, fmt.Errorf("conversation id is required")
	}

	m.mu.Lock()
	if _, ok := m.live[conversationID]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrStreamActive, conversationID)
	}
	// Reserve the slot before the request goes out so a racing second
	// start is rejected instead of opening a second stream.
	m.live[conversationID] = nil
	m.mu.Unlock()

	release := func() {
		m.mu.Lock()
		delete(m.live, conversationID)
		m.mu.Unlock()
	}

	streamCtx, cancel := context.WithCancel(ctx)
	path := "/api/conversations/" + conversationID + suffix

	req, err := m.client.newRequest(streamCtx, http.MethodPost, path, body)
	if err != nil {
		cancel()
		release()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := m.client.streaming.Do(req)
	if err != nil {
		cancel()
		release()
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	if err := classifyStatus(resp); err != nil {
		_ = resp.Body.Close()
		cancel()
		release()
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}

	session := &StreamSession{
		ConversationID: conversationID,
		events:         make(chan council.Event, eventBufferSize),
		cancel:         cancel,
		client:         m.client,
		logger:         m.logger,
		state:          SessionStreaming,
		finished:       release,
	}

	m.mu.Lock()
	m.live[conversationID] = session
	m.mu.Unlock()

	go session.consume(streamCtx, resp.Body)
	return session, nil
}

// consume reads SSE frames until a terminal event, a decode failure, or
// a local abort, then closes the events channel.
func (s *StreamSession) consume(ctx context.Context, body io.ReadCloser) {
	defer func() {
		_ = body.Close()
		s.cancel()
		s.finished()
		close(s.events)
	}()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()

		if payload, ok := strings.CutPrefix(line, "data:"); ok {
			data.WriteString(strings.TrimPrefix(payload, " "))
			continue
		}
		if strings.TrimSpace(line) != "" {
			// Comment or field we do not use (event:, id:, retry:).
			continue
		}
		if data.Len() == 0 {
			continue
		}

		frame := data.String()
		data.Reset()

		ev, err := council.ParseEvent([]byte(frame))
		if err != nil {
			s.logger.Warn().
				Str("conversation_id", s.ConversationID).
				Err(err).
				Msg("skipping malformed stream frame")
			continue
		}

		if !s.deliver(ctx, ev) {
			if s.State() == SessionCancelled {
				s.deliverTerminal(council.Event{Type: council.EventCancelled})
			}
			return
		}
		if ev.Type.Terminal() {
			switch ev.Type {
			case council.EventCancelled:
				s.setTerminal(SessionCancelled)
			case council.EventError:
				s.setTerminal(SessionErrored)
			default:
				s.setTerminal(SessionCompleted)
			}
			return
		}
	}

	// A local abort surfaces as a read error or a silent EOF. Either
	// way the consumer still needs the terminal cancelled event so the
	// reducer can preserve the partial text.
	if s.State() == SessionCancelled {
		s.deliverTerminal(council.Event{Type: council.EventCancelled})
		return
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		s.setTerminal(SessionErrored)
		s.deliverTerminal(council.Event{
			Type:    council.EventError,
			Message: fmt.Sprintf("stream read failed: %v", err),
		})
		return
	}

	// EOF without a terminal frame means the connection was lost.
	s.setTerminal(SessionErrored)
	s.deliverTerminal(council.Event{
		Type:    council.EventError,
		Message: "stream ended without a terminal event",
	})
}

// deliver forwards an event unless the stream has been aborted.
func (s *StreamSession) deliver(ctx context.Context, ev council.Event) bool {
	select {
	case <-ctx.Done():
		return false
	case s.events <- ev:
		return true
	}
}

// deliverTerminal emits a synthesized terminal event without blocking.
// The events channel is buffered, so this only drops the event when the
// consumer has already stopped reading.
func (s *StreamSession) deliverTerminal(ev council.Event) {
	select {
	case s.events <- ev:
	default:
	}
}
