package tui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"council/internal/api"
	"council/internal/council"
	"council/internal/eventlog"
	"council/internal/trash"
)

const (
	defaultAppWidth     = 100
	sidebarWidth        = 30
	minimumPanelWidth   = 40
	requestTimeout      = 30 * time.Second
	defaultBodyFallback = 20
)

// Backend is the subset of the server client the UI calls directly.
type Backend interface {
	ListConversations(ctx context.Context) ([]council.Meta, error)
	CreateConversation(ctx context.Context, mode council.Mode) (*council.Conversation, error)
	GetConversation(ctx context.Context, id string) (*council.Conversation, error)
	GetConversationInfo(ctx context.Context, id string) (council.Info, error)
	DeleteConversation(ctx context.Context, id string) error
}

// Stream is one live event stream for a conversation.
type Stream interface {
	Events() <-chan council.Event
	Cancel()
}

// Streamer starts stream sessions.
type Streamer interface {
	Send(ctx context.Context, conversationID, content string, force bool) (Stream, error)
	Retry(ctx context.Context, conversationID string) (Stream, error)
}

type apiStreamer struct {
	manager *api.SessionManager
}

// NewAPIStreamer adapts a session manager to the Streamer interface.
func NewAPIStreamer(manager *api.SessionManager) Streamer {
	return apiStreamer{manager: manager}
}

func (s apiStreamer) Send(ctx context.Context, conversationID, content string, force bool) (Stream, error) {
	session, err := s.manager.Send(ctx, conversationID, content, force)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s apiStreamer) Retry(ctx context.Context, conversationID string) (Stream, error) {
	session, err := s.manager.Retry(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// AppConfig configures the root BubbleTea model.
type AppConfig struct {
	Version    string
	ServerURL  string
	ThemeName  string
	Backend    Backend
	Streamer   Streamer
	Cache      *council.Cache
	Recorder   *eventlog.Store
	TrashGrace time.Duration
	TrashTick  time.Duration
	Logger     zerolog.Logger
}

type focusArea int

const (
	focusInput focusArea = iota
	focusSidebar
)

// Messages.

type listLoadedMsg struct {
	metas []council.Meta
	err   error
}

type conversationLoadedMsg struct {
	conv *council.Conversation
	err  error
}

type conversationCreatedMsg struct {
	conv    *council.Conversation
	content string
	force   bool
	err     error
}

type infoLoadedMsg struct {
	id   string
	info council.Info
	err  error
}

type streamStartedMsg struct {
	id     string
	stream Stream
}

type streamStartFailedMsg struct {
	id  string
	err error
}

type streamEventMsg struct {
	id     string
	stream Stream
	event  council.Event
	closed bool
}

type deleteTickMsg struct {
	id        string
	remaining time.Duration
}

type deleteRestoredMsg struct {
	pending  trash.Pending
	reselect bool
}

type deleteResolvedMsg struct {
	id      string
	outcome trash.Outcome
}

// App is the root TUI model.
type App struct {
	theme    Theme
	backend  Backend
	streamer Streamer
	cache    *council.Cache
	recorder *eventlog.Store
	trash    *trash.Manager
	logger   zerolog.Logger

	width  int
	height int
	focus  focusArea

	status     StatusModel
	sidebar    SidebarModel
	transcript TranscriptModel
	input      InputModel
	spin       spinner.Model

	activeID        string
	streams         map[string]Stream
	rollback        map[string]*council.Conversation
	pendingDeleteID string
	errText         string

	notify chan tea.Msg
}

// NewApp constructs the root TUI model.
func NewApp(cfg AppConfig) *App {
	theme := ResolveTheme(cfg.ThemeName)

	cache := cfg.Cache
	if cache == nil {
		cache = council.NewCache(cfg.Logger)
	}

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	app := &App{
		theme:      theme,
		backend:    cfg.Backend,
		streamer:   cfg.Streamer,
		cache:      cache,
		recorder:   cfg.Recorder,
		logger:     cfg.Logger,
		width:      defaultAppWidth,
		status:     NewStatusModel(cfg.Version, cfg.ServerURL),
		sidebar:    NewSidebarModel(),
		transcript: NewTranscriptModel(theme),
		input:      NewInputModel(">", "Ask the council (alt+enter forces the full pipeline)", theme),
		spin:       spin,
		streams:    make(map[string]Stream),
		rollback:   make(map[string]*council.Conversation),
		notify:     make(chan tea.Msg, 16),
	}

	app.trash = trash.NewManager(cfg.TrashGrace, cfg.TrashTick, trash.Hooks{
		Commit: func(ctx context.Context, id string) error {
			return cfg.Backend.DeleteConversation(ctx, id)
		},
		Restore: func(p trash.Pending, reselect bool) {
			app.notify <- deleteRestoredMsg{pending: p, reselect: reselect}
		},
		OnTick: func(id string, remaining time.Duration) {
			app.notify <- deleteTickMsg{id: id, remaining: remaining}
		},
		OnResolved: func(id string, outcome trash.Outcome) {
			app.notify <- deleteResolvedMsg{id: id, outcome: outcome}
		},
	}, cfg.Logger)

	return app
}

// Init starts the conversation list load and background listeners.
func (m *App) Init() tea.Cmd {
	return tea.Batch(m.loadListCmd(), m.spin.Tick, m.waitNotify())
}

// Update applies state changes from user input and runtime events.
func (m *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		if m.streaming() {
			m.status.SetState("streaming " + m.spin.View())
		}
		return m, cmd

	case listLoadedMsg:
		return m.handleListLoaded(msg)

	case conversationLoadedMsg:
		return m.handleConversationLoaded(msg)

	case conversationCreatedMsg:
		return m.handleConversationCreated(msg)

	case infoLoadedMsg:
		if msg.err == nil && msg.id == m.activeID {
			m.status.SetRemaining(msg.info.RemainingMessages)
		}
		return m, nil

	case streamStartedMsg:
		delete(m.rollback, msg.id)
		m.streams[msg.id] = msg.stream
		if msg.id == m.activeID {
			m.status.SetState("streaming")
		}
		return m, m.readStreamCmd(msg.id, msg.stream)

	case streamStartFailedMsg:
		return m.handleStreamStartFailed(msg)

	case streamEventMsg:
		return m.handleStreamEvent(msg)

	case deleteTickMsg:
		if msg.id == m.pendingDeleteID {
			m.status.SetCountdown(msg.remaining)
		}
		return m, m.waitNotify()

	case deleteRestoredMsg:
		return m.handleDeleteRestored(msg)

	case deleteResolvedMsg:
		return m.handleDeleteResolved(msg)
	}

	return m, nil
}

// View renders status bar, sidebar, transcript, and the input line.
func (m *App) View() string {
	width := m.width
	if width <= 0 {
		width = defaultAppWidth
	}

	statusLine := m.status.Render(width, m.theme)
	body := m.renderBody(width)
	lines := []string{statusLine, body}
	if m.errText != "" {
		lines = append(lines, m.theme.ErrorStyle.Render("Error: "+m.errText))
	}
	lines = append(lines, m.input.Render(width, m.theme))
	return strings.Join(lines, "\n")
}

// Shutdown commits any pending delete before the program exits.
func (m *App) Shutdown() {
	m.trash.Flush()
	for _, stream := range m.streams {
		stream.Cancel()
	}
}

func (m *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.Shutdown()
		return m, tea.Quit
	case "tab":
		if m.focus == focusInput {
			m.focus = focusSidebar
			m.input.Blur()
		} else {
			m.focus = focusInput
			m.input.Focus()
		}
		return m, nil
	case "esc":
		if stream, ok := m.streams[m.activeID]; ok {
			stream.Cancel()
			m.status.SetState("cancelling")
		}
		return m, nil
	case "ctrl+n":
		return m, m.createConversationCmd(council.ModeCouncil, "", false)
	case "ctrl+t":
		return m, m.createConversationCmd(council.ModeChat, "", false)
	case "ctrl+d":
		return m, m.beginDelete()
	case "ctrl+u":
		if err := m.trash.Undo(); err != nil {
			m.logger.Debug().Err(err).Msg("undo with nothing pending")
		}
		return m, nil
	case "ctrl+r":
		return m, m.retryActive()
	case "pgup":
		m.transcript.PageUp()
		return m, nil
	case "pgdown":
		m.transcript.PageDown()
		return m, nil
	}

	if m.focus == focusSidebar {
		switch msg.String() {
		case "up", "k":
			m.sidebar.MoveUp()
			return m, nil
		case "down", "j":
			m.sidebar.MoveDown()
			return m, nil
		case "enter":
			if id := m.sidebar.SelectedID(); id != "" && id != m.pendingDeleteID {
				return m, m.openConversation(id)
			}
			return m, nil
		}
		return m, nil
	}

	if msg.Type == tea.KeyEnter {
		content := strings.TrimSpace(m.input.Value())
		m.input.Clear()
		force := msg.Alt || msg.String() == "alt+enter"
		return m, m.submit(content, force)
	}

	return m, m.input.Update(msg)
}

func (m *App) handleListLoaded(msg listLoadedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.setError(msg.err.Error())
		return m, nil
	}

	metas := msg.metas
	// A refresh that races a pending delete must not resurrect the row.
	if m.pendingDeleteID != "" {
		filtered := metas[:0:0]
		for _, meta := range metas {
			if meta.ID != m.pendingDeleteID {
				filtered = append(filtered, meta)
			}
		}
		metas = filtered
	}
	m.sidebar.SetMetas(metas)
	return m, nil
}

func (m *App) handleConversationLoaded(msg conversationLoadedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.setError(msg.err.Error())
		return m, nil
	}

	// A live stream owns the cache entry; the network copy is staler
	// than the reduced snapshot.
	if _, live := m.streams[msg.conv.ID]; !live {
		m.cache.Set(msg.conv.ID, msg.conv)
	}
	m.activeID = msg.conv.ID
	m.sidebar.Select(msg.conv.ID)
	m.status.SetTitle(msg.conv.Title)
	m.refreshTranscript()
	return m, m.loadInfoCmd(msg.conv.ID)
}

func (m *App) handleConversationCreated(msg conversationCreatedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.setError(msg.err.Error())
		return m, nil
	}

	m.cache.Set(msg.conv.ID, msg.conv)
	m.activeID = msg.conv.ID
	m.status.SetTitle(msg.conv.Title)
	m.refreshTranscript()

	cmds := []tea.Cmd{m.loadListCmd()}
	if msg.content != "" {
		cmds = append(cmds, m.submit(msg.content, msg.force))
	}
	return m, tea.Batch(cmds...)
}

func (m *App) handleStreamStartFailed(msg streamStartFailedMsg) (tea.Model, tea.Cmd) {
	if prior, ok := m.rollback[msg.id]; ok {
		// The optimistic pair comes off, then a durable error message
		// goes on so the failure outlives the banner.
		next := prior.Clone()
		next.Messages = append(next.Messages, &council.Message{
			ID:       uuid.NewString(),
			Role:     council.RoleAssistant,
			Error:    true,
			Response: "Failed to send message: " + msg.err.Error(),
		})
		m.cache.Set(msg.id, next)
		delete(m.rollback, msg.id)
	}
	if msg.id == m.activeID {
		m.refreshTranscript()
		m.status.SetState("error")
	}
	m.setError(msg.err.Error())
	return m, nil
}

func (m *App) handleStreamEvent(msg streamEventMsg) (tea.Model, tea.Cmd) {
	if msg.closed {
		delete(m.streams, msg.id)
		if msg.id == m.activeID {
			m.status.SetState("idle")
			m.refreshTranscript()
		}
		return m, nil
	}

	if m.recorder != nil {
		if err := m.recorder.Append(context.Background(), msg.id, msg.event); err != nil {
			m.logger.Warn().Str("conversation_id", msg.id).Err(err).Msg("recording stream event failed")
		}
	}

	effects, _ := m.cache.ApplyEvent(msg.id, msg.event)

	cmds := []tea.Cmd{m.readStreamCmd(msg.id, msg.stream)}
	if effects.Title != "" {
		m.sidebar.UpdateTitle(msg.id, effects.Title)
		if msg.id == m.activeID {
			m.status.SetTitle(effects.Title)
		}
	}
	if effects.RefreshList {
		cmds = append(cmds, m.loadListCmd())
	}
	if effects.RefreshInfo {
		cmds = append(cmds, m.loadInfoCmd(msg.id))
	}
	if effects.RemainingMessages != nil && msg.id == m.activeID {
		m.status.SetRemaining(*effects.RemainingMessages)
	}
	if effects.ErrorMessage != "" && msg.id == m.activeID {
		m.setError(effects.ErrorMessage)
	}
	if effects.Terminal && msg.id == m.activeID {
		m.status.SetState("idle")
	}
	if msg.id == m.activeID {
		m.refreshTranscript()
	}
	return m, tea.Batch(cmds...)
}

func (m *App) handleDeleteRestored(msg deleteRestoredMsg) (tea.Model, tea.Cmd) {
	m.sidebar.Insert(msg.pending.Meta, msg.pending.Index)
	m.status.ClearCountdown()

	var cmd tea.Cmd
	if msg.reselect {
		m.sidebar.Select(msg.pending.Meta.ID)
		cmd = m.openConversation(msg.pending.Meta.ID)
	}
	return m, tea.Batch(cmd, m.waitNotify())
}

func (m *App) handleDeleteResolved(msg deleteResolvedMsg) (tea.Model, tea.Cmd) {
	if msg.id == m.pendingDeleteID {
		m.pendingDeleteID = ""
		m.status.ClearCountdown()
	}
	if msg.outcome == trash.OutcomeCommitted {
		m.cache.Evict(msg.id)
	}
	return m, m.waitNotify()
}

// submit runs one optimistic turn: append the user message and an
// assistant placeholder locally, then open the stream. A pre-stream
// failure rolls the append back.
func (m *App) submit(content string, force bool) tea.Cmd {
	if content == "" {
		return nil
	}
	m.clearError()

	if m.activeID == "" {
		return m.createConversationCmd(council.ModeCouncil, content, force)
	}
	id := m.activeID
	if _, live := m.streams[id]; live {
		m.setError("a reply is already streaming, esc to cancel it first")
		return nil
	}

	snapshot, ok := m.cache.Get(id)
	if !ok {
		snapshot = &council.Conversation{ID: id}
	}
	m.rollback[id] = snapshot

	next := snapshot.Clone()
	next.Messages = append(next.Messages,
		&council.Message{ID: uuid.NewString(), Role: council.RoleUser, Content: content},
		&council.Message{ID: uuid.NewString(), Role: council.RoleAssistant},
	)
	m.cache.Set(id, next)
	m.refreshTranscript()
	m.status.SetState("streaming")

	return m.startStreamCmd(id, content, force)
}

func (m *App) beginDelete() tea.Cmd {
	meta, index, ok := m.sidebar.Selected()
	if !ok || meta.ID == m.pendingDeleteID {
		return nil
	}

	wasActive := meta.ID == m.activeID
	m.sidebar.Remove(index)
	m.pendingDeleteID = meta.ID

	var cmd tea.Cmd
	if wasActive {
		m.activeID = ""
		m.status.SetTitle("")
		m.refreshTranscript()
		if next := m.sidebar.SelectedID(); next != "" {
			cmd = m.openConversation(next)
		}
	}

	m.trash.Begin(trash.Pending{Meta: meta, Index: index, WasActive: wasActive})
	return cmd
}

func (m *App) retryActive() tea.Cmd {
	id := m.activeID
	if id == "" {
		return nil
	}
	if _, live := m.streams[id]; live {
		return nil
	}
	m.clearError()

	// Reset the failed tail so the rerun streams into a clean message.
	m.cache.UpdateLast(id, func(message *council.Message) {
		if message.Role != council.RoleAssistant {
			return
		}
		*message = council.Message{ID: message.ID, Role: council.RoleAssistant}
	})
	m.refreshTranscript()
	m.status.SetState("streaming")

	return func() tea.Msg {
		stream, err := m.streamer.Retry(context.Background(), id)
		if err != nil {
			return streamStartFailedMsg{id: id, err: err}
		}
		return streamStartedMsg{id: id, stream: stream}
	}
}

func (m *App) openConversation(id string) tea.Cmd {
	m.clearError()
	// Streaming conversations render straight from the cache.
	if conv, ok := m.cache.Get(id); ok {
		if _, live := m.streams[id]; live {
			m.activeID = id
			m.status.SetTitle(conv.Title)
			m.status.SetState("streaming")
			m.refreshTranscript()
			return m.loadInfoCmd(id)
		}
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		conv, err := m.backend.GetConversation(ctx, id)
		return conversationLoadedMsg{conv: conv, err: err}
	}
}

// Commands.

func (m *App) loadListCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		metas, err := m.backend.ListConversations(ctx)
		return listLoadedMsg{metas: metas, err: err}
	}
}

func (m *App) loadInfoCmd(id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		info, err := m.backend.GetConversationInfo(ctx, id)
		return infoLoadedMsg{id: id, info: info, err: err}
	}
}

func (m *App) createConversationCmd(mode council.Mode, content string, force bool) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		conv, err := m.backend.CreateConversation(ctx, mode)
		return conversationCreatedMsg{conv: conv, content: content, force: force, err: err}
	}
}

func (m *App) startStreamCmd(id, content string, force bool) tea.Cmd {
	return func() tea.Msg {
		stream, err := m.streamer.Send(context.Background(), id, content, force)
		if err != nil {
			return streamStartFailedMsg{id: id, err: err}
		}
		return streamStartedMsg{id: id, stream: stream}
	}
}

func (m *App) readStreamCmd(id string, stream Stream) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-stream.Events()
		if !ok {
			return streamEventMsg{id: id, stream: stream, closed: true}
		}
		return streamEventMsg{id: id, stream: stream, event: event}
	}
}

func (m *App) waitNotify() tea.Cmd {
	return func() tea.Msg {
		return <-m.notify
	}
}

// Helpers.

func (m *App) streaming() bool {
	_, live := m.streams[m.activeID]
	return live
}

func (m *App) refreshTranscript() {
	conv, _ := m.cache.Get(m.activeID)
	m.transcript.SetConversation(conv, m.streaming())
}

func (m *App) setError(text string) {
	m.errText = strings.TrimSpace(text)
}

func (m *App) clearError() {
	m.errText = ""
}

func (m *App) resize() {
	bodyHeight := m.height - 3
	if bodyHeight < 1 {
		bodyHeight = defaultBodyFallback
	}

	transcriptWidth := m.width - sidebarWidth - 1
	if transcriptWidth < minimumPanelWidth {
		transcriptWidth = minimumPanelWidth
	}

	frame := m.theme.PanelStyle.GetVerticalFrameSize()
	m.transcript.SetSize(transcriptWidth-m.theme.PanelStyle.GetHorizontalFrameSize(), bodyHeight-frame)
	m.sidebar.SetHeight(bodyHeight - m.theme.SidebarStyle.GetVerticalFrameSize())
	m.input.SetWidth(m.width)
	m.refreshTranscript()
}

func (m *App) renderBody(width int) string {
	sidebarView := m.sidebar.Render(sidebarWidth, m.theme, m.focus == focusSidebar, m.pendingDeleteID)
	transcriptWidth := width - sidebarWidth - 1
	if transcriptWidth < minimumPanelWidth {
		transcriptWidth = minimumPanelWidth
	}
	transcriptView := m.transcript.Render(transcriptWidth)
	return lipgloss.JoinHorizontal(lipgloss.Top, sidebarView, transcriptView)
}
