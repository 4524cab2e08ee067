package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"council/internal/council"
)

type fakeBackend struct {
	mu      sync.Mutex
	metas   []council.Meta
	conv    *council.Conversation
	deleted []string
}

func (b *fakeBackend) ListConversations(context.Context) ([]council.Meta, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]council.Meta(nil), b.metas...), nil
}

func (b *fakeBackend) CreateConversation(_ context.Context, mode council.Mode) (*council.Conversation, error) {
	return &council.Conversation{ID: "new-conv", Mode: mode}, nil
}

func (b *fakeBackend) GetConversation(_ context.Context, id string) (*council.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conv != nil && b.conv.ID == id {
		return b.conv.Clone(), nil
	}
	return &council.Conversation{ID: id}, nil
}

func (b *fakeBackend) GetConversationInfo(context.Context, string) (council.Info, error) {
	return council.Info{RemainingMessages: 3}, nil
}

func (b *fakeBackend) DeleteConversation(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, id)
	return nil
}

func (b *fakeBackend) deletedIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.deleted...)
}

type fakeStream struct {
	ch        chan council.Event
	cancelled bool
}

func (s *fakeStream) Events() <-chan council.Event { return s.ch }
func (s *fakeStream) Cancel()                      { s.cancelled = true }

type fakeStreamer struct {
	stream *fakeStream
	err    error
	sends  int
}

func (s *fakeStreamer) Send(context.Context, string, string, bool) (Stream, error) {
	s.sends++
	if s.err != nil {
		return nil, s.err
	}
	return s.stream, nil
}

func (s *fakeStreamer) Retry(context.Context, string) (Stream, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.stream, nil
}

func newTestApp(backend *fakeBackend, streamer Streamer) *App {
	return NewApp(AppConfig{
		Version:    "test",
		ServerURL:  "http://example",
		Backend:    backend,
		Streamer:   streamer,
		Cache:      council.NewCache(zerolog.Nop()),
		TrashGrace: time.Hour,
		TrashTick:  time.Hour,
		Logger:     zerolog.Nop(),
	})
}

func seedConversation(app *App, id string) *council.Conversation {
	conv := &council.Conversation{
		ID: id,
		Messages: []*council.Message{
			{Role: council.RoleUser, Content: "earlier question"},
			{Role: council.RoleAssistant, MessageType: council.MessageTypeSpeaker, Response: "earlier answer"},
		},
	}
	app.cache.Set(id, conv)
	app.activeID = id
	return conv
}

func pressEnter(t *testing.T, app *App, content string) tea.Cmd {
	t.Helper()
	app.input.SetValue(content)
	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return cmd
}

func TestSubmitAppendsOptimisticTurn(t *testing.T) {
	t.Parallel()

	streamer := &fakeStreamer{stream: &fakeStream{ch: make(chan council.Event, 1)}}
	app := newTestApp(&fakeBackend{}, streamer)
	seedConversation(app, "c1")

	cmd := pressEnter(t, app, "what is 2+2?")
	if cmd == nil {
		t.Fatalf("submit returned no command")
	}

	conv, _ := app.cache.Get("c1")
	if len(conv.Messages) != 4 {
		t.Fatalf("message count = %d, want 4", len(conv.Messages))
	}
	user := conv.Messages[2]
	if user.Role != council.RoleUser || user.Content != "what is 2+2?" || user.ID == "" {
		t.Fatalf("optimistic user message = %#v", user)
	}
	tail := conv.LastMessage()
	if tail.Role != council.RoleAssistant || tail.Response != "" {
		t.Fatalf("assistant placeholder = %#v", tail)
	}

	// The stream opened, so the rollback snapshot is discarded.
	app.Update(cmd())
	if _, ok := app.rollback["c1"]; ok {
		t.Fatalf("rollback snapshot kept after successful start")
	}
	if _, live := app.streams["c1"]; !live {
		t.Fatalf("stream not registered after start")
	}
}

func TestSubmitRollsBackOnPreStreamFailure(t *testing.T) {
	t.Parallel()

	streamer := &fakeStreamer{err: errors.New("server unreachable")}
	app := newTestApp(&fakeBackend{}, streamer)
	original := seedConversation(app, "c1")

	cmd := pressEnter(t, app, "what is 2+2?")
	app.Update(cmd())

	conv, _ := app.cache.Get("c1")
	if len(conv.Messages) != len(original.Messages)+1 {
		t.Fatalf("rollback left %d messages, want %d", len(conv.Messages), len(original.Messages)+1)
	}
	for _, message := range conv.Messages {
		if message.Role == council.RoleUser && message.Content == "what is 2+2?" {
			t.Fatalf("optimistic user message survived rollback")
		}
	}
	tail := conv.LastMessage()
	if !tail.Error || !strings.Contains(tail.Response, "server unreachable") {
		t.Fatalf("transcript error message = %#v", tail)
	}
	if app.errText == "" {
		t.Fatalf("pre-stream failure surfaced no error")
	}
	if _, live := app.streams["c1"]; live {
		t.Fatalf("failed start registered a stream")
	}
}

func TestSubmitRejectedWhileStreaming(t *testing.T) {
	t.Parallel()

	streamer := &fakeStreamer{stream: &fakeStream{ch: make(chan council.Event)}}
	app := newTestApp(&fakeBackend{}, streamer)
	seedConversation(app, "c1")
	app.streams["c1"] = streamer.stream

	cmd := pressEnter(t, app, "another question")
	if cmd != nil {
		t.Fatalf("submit during live stream returned a command")
	}
	if app.errText == "" {
		t.Fatalf("no error shown for duplicate submit")
	}
	if streamer.sends != 0 {
		t.Fatalf("duplicate submit reached the streamer")
	}
}

func TestStreamEventReducesIntoCache(t *testing.T) {
	t.Parallel()

	stream := &fakeStream{ch: make(chan council.Event, 4)}
	app := newTestApp(&fakeBackend{}, &fakeStreamer{stream: stream})
	seedConversation(app, "c1")
	app.cache.Set("c1", &council.Conversation{
		ID: "c1",
		Messages: []*council.Message{
			{Role: council.RoleUser, Content: "q"},
			{Role: council.RoleAssistant},
		},
	})
	app.streams["c1"] = stream

	for _, delta := range []string{"Fo", "ur"} {
		app.Update(streamEventMsg{id: "c1", stream: stream, event: council.Event{
			Type: council.EventSpeakerDelta, Delta: delta,
		}})
	}

	conv, _ := app.cache.Get("c1")
	if got := conv.LastMessage().Response; got != "Four" {
		t.Fatalf("reduced response = %q, want %q", got, "Four")
	}

	remaining := 9
	app.Update(streamEventMsg{id: "c1", stream: stream, event: council.Event{
		Type: council.EventComplete, RemainingMessages: &remaining,
	}})
	app.Update(streamEventMsg{id: "c1", stream: stream, closed: true})

	if _, live := app.streams["c1"]; live {
		t.Fatalf("closed stream still registered")
	}
	if !app.status.hasRemaining || app.status.remaining != 9 {
		t.Fatalf("quota not surfaced: %+v", app.status)
	}
}

func TestBackgroundStreamKeepsReducing(t *testing.T) {
	t.Parallel()

	stream := &fakeStream{ch: make(chan council.Event, 1)}
	app := newTestApp(&fakeBackend{}, &fakeStreamer{stream: stream})
	seedConversation(app, "c2")
	app.cache.Set("c1", &council.Conversation{
		ID: "c1",
		Messages: []*council.Message{
			{Role: council.RoleUser, Content: "slow question"},
			{Role: council.RoleAssistant},
		},
	})
	app.streams["c1"] = stream

	app.Update(streamEventMsg{id: "c1", stream: stream, event: council.Event{
		Type: council.EventSpeakerDelta, Delta: "background text",
	}})

	bg, _ := app.cache.Get("c1")
	if bg.LastMessage().Response != "background text" {
		t.Fatalf("background snapshot = %q", bg.LastMessage().Response)
	}
	fg, _ := app.cache.Get("c2")
	if fg.LastMessage().Response != "earlier answer" {
		t.Fatalf("foreground snapshot touched: %q", fg.LastMessage().Response)
	}
}

func TestTitleEffectUpdatesSidebarAndStatus(t *testing.T) {
	t.Parallel()

	stream := &fakeStream{ch: make(chan council.Event, 1)}
	app := newTestApp(&fakeBackend{}, &fakeStreamer{stream: stream})
	seedConversation(app, "c1")
	app.sidebar.SetMetas([]council.Meta{{ID: "c1", Title: ""}})
	app.streams["c1"] = stream

	app.Update(streamEventMsg{id: "c1", stream: stream, event: council.Event{
		Type: council.EventTitleComplete, Title: "Arithmetic help",
	}})

	if got := app.sidebar.Metas()[0].Title; got != "Arithmetic help" {
		t.Fatalf("sidebar title = %q", got)
	}
	if app.status.Title != "Arithmetic help" {
		t.Fatalf("status title = %q", app.status.Title)
	}
}

func TestEscCancelsActiveStream(t *testing.T) {
	t.Parallel()

	stream := &fakeStream{ch: make(chan council.Event)}
	app := newTestApp(&fakeBackend{}, &fakeStreamer{stream: stream})
	seedConversation(app, "c1")
	app.streams["c1"] = stream

	app.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if !stream.cancelled {
		t.Fatalf("esc did not cancel the live stream")
	}
}

func drainNotify(t *testing.T, app *App, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case msg := <-app.notify:
			app.Update(msg)
		case <-time.After(2 * time.Second):
			t.Fatalf("notify message %d never arrived", i)
		}
	}
}

func TestDeleteThenUndoRestoresRowAndSelection(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	app := newTestApp(backend, &fakeStreamer{})
	app.sidebar.SetMetas([]council.Meta{{ID: "a"}, {ID: "b"}, {ID: "c"}})
	app.sidebar.SelectIndex(1)
	app.activeID = "b"
	app.cache.Set("b", &council.Conversation{ID: "b"})

	app.Update(tea.KeyMsg{Type: tea.KeyCtrlD})
	if app.pendingDeleteID != "b" {
		t.Fatalf("pendingDeleteID = %q, want %q", app.pendingDeleteID, "b")
	}
	if ids := sidebarIDs(app); !equalStrings(ids, []string{"a", "c"}) {
		t.Fatalf("rows after delete = %v", ids)
	}

	app.Update(tea.KeyMsg{Type: tea.KeyCtrlU})
	drainNotify(t, app, 2) // restore + resolved

	if ids := sidebarIDs(app); !equalStrings(ids, []string{"a", "b", "c"}) {
		t.Fatalf("rows after undo = %v", ids)
	}
	if got := app.sidebar.SelectedID(); got != "b" {
		t.Fatalf("selection after undo = %q, want %q", got, "b")
	}
	if app.pendingDeleteID != "" {
		t.Fatalf("pendingDeleteID not cleared: %q", app.pendingDeleteID)
	}
	if len(backend.deletedIDs()) != 0 {
		t.Fatalf("undone delete reached the server: %v", backend.deletedIDs())
	}
}

func TestListRefreshDoesNotResurrectPendingDelete(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	app := newTestApp(backend, &fakeStreamer{})
	app.sidebar.SetMetas([]council.Meta{{ID: "a"}, {ID: "b"}})
	app.sidebar.SelectIndex(1)
	app.Update(tea.KeyMsg{Type: tea.KeyCtrlD})

	app.Update(listLoadedMsg{metas: []council.Meta{{ID: "a"}, {ID: "b"}}})
	if ids := sidebarIDs(app); !equalStrings(ids, []string{"a"}) {
		t.Fatalf("refresh resurrected pending row: %v", ids)
	}
}

func TestShutdownFlushesPendingDelete(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	app := newTestApp(backend, &fakeStreamer{})
	app.sidebar.SetMetas([]council.Meta{{ID: "a"}})
	app.sidebar.SelectIndex(0)
	app.Update(tea.KeyMsg{Type: tea.KeyCtrlD})

	app.Shutdown()
	if got := backend.deletedIDs(); !equalStrings(got, []string{"a"}) {
		t.Fatalf("flush committed = %v, want [a]", got)
	}
}

func sidebarIDs(app *App) []string {
	metas := app.sidebar.Metas()
	ids := make([]string, len(metas))
	for i, meta := range metas {
		ids[i] = meta.ID
	}
	return ids
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestStatusRenderShowsCountdown(t *testing.T) {
	t.Parallel()

	status := NewStatusModel("1.0", "http://example")
	status.SetCountdown(7 * time.Second)
	line := status.Render(0, ResolveTheme("dark"))
	if !strings.Contains(line, "deleting in 7s") {
		t.Fatalf("status line = %q", line)
	}

	status.ClearCountdown()
	line = status.Render(0, ResolveTheme("dark"))
	if strings.Contains(line, "deleting") {
		t.Fatalf("countdown survived clear: %q", line)
	}
}
