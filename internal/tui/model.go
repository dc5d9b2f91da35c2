package tui

import (
	"context"
	"os"
	"strings"

	"charm.land/bubbles/v2/textarea"
	tea "charm.land/bubbletea/v2"

	"chamber/internal/client"
	"chamber/internal/config"
	"chamber/internal/logging"
	"chamber/internal/messages"
	"chamber/internal/status"
	localstore "chamber/internal/store"
	"chamber/internal/stream"
	"chamber/internal/types"
)

const (
	inputHeight       = 3
	maxTranscriptTail = 2000
)

type uiMode int

const (
	uiModeChat uiMode = iota
	uiModePickSession
)

// Deps bundles the long-lived collaborators the UI renders from. The model
// owns none of them; main wires and tears them down.
type Deps struct {
	API        *client.Client
	Store      *messages.Store
	Controller *stream.Controller
	States     localstore.StateStore
	Tuning     config.TuningConfig
	Log        logging.Logger
	AppState   *types.AppState
}

type storeChangedMsg struct{}

type sessionsLoadedMsg struct {
	sessions []types.Session
	err      error
}

type sessionReadyMsg struct {
	id  string
	err error
}

type sendDoneMsg struct{ err error }

type permissionRepliedMsg struct {
	permissionID string
	err          error
}

type copyDoneMsg struct{ err error }

type Model struct {
	deps      Deps
	input     textarea.Model
	picker    *SessionPicker
	mode      uiMode
	width     int
	height    int
	scroll    int
	sessionID string
	sessions  []types.Session
	errText   string
	changes   chan struct{}
	unsub     func()
	ctx       context.Context
}

func New(ctx context.Context, deps Deps) *Model {
	input := textarea.New()
	input.Placeholder = "Message (enter to send, / for commands)"
	input.ShowLineNumbers = false
	input.CharLimit = -1
	input.SetHeight(inputHeight - 1)

	// No reliable background query across the terminals in the support
	// matrix; dark stays the default with an explicit opt-out.
	switch strings.ToLower(strings.TrimSpace(os.Getenv("CHAMBER_LIGHT_BACKGROUND"))) {
	case "1", "true", "yes", "on":
		setDarkBackground(false)
	}

	m := &Model{
		deps:    deps,
		input:   input,
		picker:  NewSessionPicker(40, 10),
		width:   80,
		height:  24,
		changes: make(chan struct{}, 1),
		ctx:     ctx,
	}
	if deps.AppState != nil {
		m.sessionID = deps.AppState.LastSessionID
	}
	m.unsub = deps.Store.Subscribe(func() {
		select {
		case m.changes <- struct{}{}:
		default:
		}
	})
	return m
}

func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.input.Focus(), m.waitForChange(), m.loadSessionsCmd()}
	if m.sessionID != "" {
		cmds = append(cmds, m.openSessionCmd(m.sessionID))
	}
	return tea.Batch(cmds...)
}

func (m *Model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		<-m.changes
		return storeChangedMsg{}
	}
}

func (m *Model) loadSessionsCmd() tea.Cmd {
	return func() tea.Msg {
		sessions, err := m.deps.API.ListSessions(m.ctx)
		return sessionsLoadedMsg{sessions: sessions, err: err}
	}
}

func (m *Model) createSessionCmd() tea.Cmd {
	return func() tea.Msg {
		session, err := m.deps.API.CreateSession(m.ctx, "")
		if err != nil {
			return sessionReadyMsg{err: err}
		}
		m.deps.Store.UpdateSessionInfo(session)
		if err := m.deps.Store.LoadMessages(m.ctx, session.ID); err != nil {
			return sessionReadyMsg{id: session.ID, err: err}
		}
		return sessionReadyMsg{id: session.ID}
	}
}

func (m *Model) openSessionCmd(sessionID string) tea.Cmd {
	return func() tea.Msg {
		if err := m.deps.Store.LoadMessages(m.ctx, sessionID); err != nil {
			return sessionReadyMsg{id: sessionID, err: err}
		}
		if session, err := m.deps.API.SessionInfo(m.ctx, sessionID); err == nil {
			m.deps.Store.UpdateSessionInfo(session)
		}
		return sessionReadyMsg{id: sessionID}
	}
}

func (m *Model) sendCmd(content string) tea.Cmd {
	sessionID := m.sessionID
	providerID, modelID := "", ""
	if m.deps.AppState != nil {
		providerID = m.deps.AppState.LastProviderID
		modelID = m.deps.AppState.LastModelID
	}
	return func() tea.Msg {
		err := m.deps.Store.SendMessage(m.ctx, sessionID, content, providerID, modelID, "")
		return sendDoneMsg{err: err}
	}
}

func (m *Model) abortCmd() tea.Cmd {
	sessionID := m.sessionID
	return func() tea.Msg {
		if err := m.deps.Store.AbortSession(m.ctx, sessionID); err != nil {
			return sendDoneMsg{err: err}
		}
		return nil
	}
}

func (m *Model) respondPermissionCmd(perm types.Permission, decision types.PermissionDecision) tea.Cmd {
	return func() tea.Msg {
		err := m.deps.API.RespondPermission(m.ctx, perm.SessionID, perm.ID, decision)
		return permissionRepliedMsg{permissionID: perm.ID, err: err}
	}
}

func (m *Model) copyLatestCmd() tea.Cmd {
	sessionID := m.sessionID
	return func() tea.Msg {
		latest := m.deps.Store.LatestAssistantID(sessionID)
		if latest == "" {
			return copyDoneMsg{}
		}
		msg, ok := m.deps.Store.Message(sessionID, latest)
		if !ok || strings.TrimSpace(msg.Text()) == "" {
			return copyDoneMsg{}
		}
		_, err := copyTextToClipboard(msg.Text())
		return copyDoneMsg{err: err}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.SetWidth(msg.Width)
		m.picker.SetSize(msg.Width, m.transcriptHeight())
		return m, nil

	case tea.FocusMsg:
		m.deps.Controller.SetVisible(m.ctx, true)
		return m, nil

	case tea.BlurMsg:
		m.deps.Controller.SetVisible(m.ctx, false)
		return m, nil

	case tea.KeyPressMsg:
		return m.handleKey(msg)

	case storeChangedMsg:
		return m, m.waitForChange()

	case sessionsLoadedMsg:
		if msg.err != nil {
			m.errText = msg.err.Error()
			return m, nil
		}
		m.sessions = msg.sessions
		if m.sessionID == "" {
			if len(m.sessions) > 0 {
				return m, m.switchSession(m.sessions[0].ID)
			}
			return m, m.createSessionCmd()
		}
		return m, nil

	case sessionReadyMsg:
		if msg.err != nil {
			m.errText = msg.err.Error()
		}
		if msg.id != "" {
			m.sessionID = msg.id
			m.deps.Store.Focus(msg.id)
			if m.deps.AppState != nil {
				m.deps.AppState.LastSessionID = msg.id
			}
		}
		return m, nil

	case sendDoneMsg:
		if msg.err != nil {
			m.errText = msg.err.Error()
		}
		return m, nil

	case permissionRepliedMsg:
		if msg.err != nil {
			m.errText = msg.err.Error()
			return m, nil
		}
		m.deps.Store.RemovePermission(m.sessionID, msg.permissionID)
		return m, nil

	case copyDoneMsg:
		if msg.err != nil {
			m.errText = msg.err.Error()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(key tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	if m.mode == uiModePickSession {
		return m.handlePickerKey(key)
	}

	switch key.String() {
	case "ctrl+c":
		return m, m.quit()
	case "ctrl+p":
		m.mode = uiModePickSession
		m.picker.SetSize(m.width, m.transcriptHeight())
		m.picker.Enter(m.sessions, m.sessionID)
		return m, m.loadSessionsCmd()
	case "esc":
		if m.canAbort() {
			return m, m.abortCmd()
		}
		return m, nil
	case "enter":
		content := strings.TrimSpace(m.input.Value())
		if content == "" {
			return m, nil
		}
		m.input.Reset()
		m.scroll = 0
		return m, m.sendCmd(content)
	case "ctrl+y":
		return m, m.copyLatestCmd()
	case "pgup":
		m.scroll += m.transcriptHeight()
		return m, nil
	case "pgdown":
		m.scroll -= m.transcriptHeight()
		if m.scroll < 0 {
			m.scroll = 0
		}
		return m, nil
	}

	if m.input.Value() == "" {
		if perm, ok := m.pendingPermission(); ok {
			switch key.String() {
			case "y":
				return m, m.respondPermissionCmd(perm, types.PermissionOnce)
			case "a":
				return m, m.respondPermissionCmd(perm, types.PermissionAlways)
			case "n":
				return m, m.respondPermissionCmd(perm, types.PermissionReject)
			}
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(key)
	return m, cmd
}

func (m *Model) handlePickerKey(key tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch key.String() {
	case "ctrl+c":
		return m, m.quit()
	case "esc", "ctrl+p":
		m.mode = uiModeChat
		return m, nil
	case "up", "k":
		m.picker.Move(-1)
		return m, nil
	case "down", "j":
		m.picker.Move(1)
		return m, nil
	case "enter":
		selected := m.picker.Selected()
		m.mode = uiModeChat
		if selected == "" || selected == m.sessionID {
			return m, nil
		}
		return m, m.switchSession(selected)
	}
	return m, nil
}

// switchSession saves the old session's viewport memory, trims its cache and
// starts loading the new one.
func (m *Model) switchSession(sessionID string) tea.Cmd {
	old := m.sessionID
	if old != "" && old != sessionID {
		if memory, ok := m.deps.Store.Memory(old); ok {
			_ = m.deps.States.SaveSessionMemory(m.ctx, memory)
		}
		m.deps.Store.TrimToViewportWindow(old)
	}
	m.sessionID = sessionID
	m.scroll = 0
	m.errText = ""
	m.deps.Store.Focus(sessionID)
	m.deps.Store.EvictLeastRecentlyUsed()
	return m.openSessionCmd(sessionID)
}

func (m *Model) quit() tea.Cmd {
	if m.unsub != nil {
		m.unsub()
		m.unsub = nil
	}
	if m.deps.AppState != nil {
		if memory, ok := m.deps.Store.Memory(m.sessionID); ok {
			if m.deps.AppState.SessionMemory == nil {
				m.deps.AppState.SessionMemory = map[string]types.SessionMemory{}
			}
			m.deps.AppState.SessionMemory[m.sessionID] = memory
		}
		_ = m.deps.States.Save(m.ctx, m.deps.AppState)
	}
	return tea.Quit
}

func (m *Model) canAbort() bool {
	snap := m.statusSnapshot()
	return snap.CanAbort
}

func (m *Model) pendingPermission() (types.Permission, bool) {
	perms := m.deps.Store.Permissions(m.sessionID)
	if len(perms) == 0 {
		return types.Permission{}, false
	}
	return perms[0], true
}

func (m *Model) statusSnapshot() status.Snapshot {
	return status.Project(m.deps.Store.Snapshot(m.sessionID), status.Options{
		CompletionFlash: m.deps.Tuning.CompletionFlash(),
	})
}

func (m *Model) transcriptHeight() int {
	h := m.height - 1 - 1 - 1 - inputHeight - 1
	if h < 3 {
		h = 3
	}
	return h
}

func (m *Model) View() tea.View {
	v := tea.NewView(m.renderFrame())
	v.AltScreen = true
	v.ReportFocus = true
	return v
}

func (m *Model) renderFrame() string {
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteByte('\n')
	b.WriteString(dividerStyle.Render(strings.Repeat("─", max(1, m.width))))
	b.WriteByte('\n')

	if m.mode == uiModePickSession {
		b.WriteString(m.picker.View())
	} else {
		for _, line := range m.visibleTranscript() {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}

	b.WriteByte('\n')
	b.WriteString(renderStatusLine(m.statusSnapshot(), m.deps.Controller.State(), m.width))
	b.WriteByte('\n')
	b.WriteString(m.input.View())
	b.WriteByte('\n')
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m *Model) renderHeader() string {
	title := m.sessionID
	if session, ok := m.deps.Store.SessionInfo(m.sessionID); ok && session.Title != "" {
		title = session.Title
	}
	if title == "" {
		title = "no session"
	}
	return headerStyle.Render(truncatePlain("chamber · "+firstLine(title), max(1, m.width)))
}

func (m *Model) renderHelp() string {
	if m.errText != "" {
		return errorStyle.Render(truncatePlain(m.errText, max(1, m.width)))
	}
	help := "enter send · ctrl+p sessions · esc stop · ctrl+y copy · ctrl+c quit"
	return helpStyle.Render(truncatePlain(help, max(1, m.width)))
}

func (m *Model) visibleTranscript() []string {
	snap := m.deps.Store.Snapshot(m.sessionID)
	pending := map[string]bool{}
	for _, id := range m.deps.Store.PendingUserIDs() {
		pending[id] = true
	}
	lines := renderTranscript(snap, pending, m.width, maxTranscriptTail)
	height := m.transcriptHeight()
	if len(lines) <= height {
		return lines
	}
	maxScroll := len(lines) - height
	if m.scroll > maxScroll {
		m.scroll = maxScroll
	}
	end := len(lines) - m.scroll
	return lines[end-height : end]
}

// Run wires the model into a program and blocks until the UI exits.
func Run(ctx context.Context, deps Deps) error {
	m := New(ctx, deps)
	p := tea.NewProgram(m)
	_, err := p.Run()
	return err
}
