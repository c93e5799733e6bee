// Package tui renders a chat session in the terminal and routes key presses
// to session intents.
package tui

import (
	"context"
	"time"

	"skillhub/internal/core/domain"
	"skillhub/internal/core/services"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	toastLifetime = 4 * time.Second
	maxToasts     = 3
	intentTimeout = 30 * time.Second
)

// Controller is the part of services.Session the view drives.
type Controller interface {
	Snapshot() services.Snapshot
	Updates() <-chan struct{}
	Done() <-chan struct{}

	SendMessage(ctx context.Context, text string) error
	StartCall(ctx context.Context) error
	AcceptCall(ctx context.Context) error
	DeclineCall(ctx context.Context) error
	EndCall(ctx context.Context) error
	ToggleVideo(ctx context.Context) error
	ToggleAudio(ctx context.Context) error
	ToggleFullscreen(ctx context.Context) error
}

type keyMap struct {
	Send       key.Binding
	Call       key.Binding
	Hangup     key.Binding
	Video      key.Binding
	Audio      key.Binding
	Fullscreen key.Binding
	Quit       key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Send:       key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
		Call:       key.NewBinding(key.WithKeys("f2"), key.WithHelp("f2", "call/accept")),
		Hangup:     key.NewBinding(key.WithKeys("f3"), key.WithHelp("f3", "decline/end")),
		Video:      key.NewBinding(key.WithKeys("f4"), key.WithHelp("f4", "video")),
		Audio:      key.NewBinding(key.WithKeys("f5"), key.WithHelp("f5", "audio")),
		Fullscreen: key.NewBinding(key.WithKeys("f6"), key.WithHelp("f6", "fullscreen")),
		Quit:       key.NewBinding(key.WithKeys("ctrl+c", "esc"), key.WithHelp("esc", "quit")),
	}
}

type toast struct {
	id      int
	note    domain.Notification
	expires time.Time
}

type (
	snapshotMsg     services.Snapshot
	notificationMsg domain.Notification
	toastExpiredMsg int
	sessionDoneMsg  struct{}
	intentErrMsg    struct{ err error }
)

// Model is the bubbletea model of one chat session.
type Model struct {
	ctx     context.Context
	session Controller
	notes   <-chan domain.Notification
	keys    keyMap

	input    textinput.Model
	viewport viewport.Model
	ready    bool
	width    int
	height   int

	snap      services.Snapshot
	toasts    []toast
	nextToast int
	now       func() time.Time
}

func NewModel(ctx context.Context, session Controller, notes <-chan domain.Notification) Model {
	input := textinput.New()
	input.Placeholder = "Type your message..."
	input.CharLimit = services.DefaultSessionConfig().MaxMessageLength
	input.Focus()

	return Model{
		ctx:     ctx,
		session: session,
		notes:   notes,
		keys:    defaultKeyMap(),
		input:   input,
		snap:    session.Snapshot(),
		now:     time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		waitForUpdate(m.session),
		waitForNotification(m.notes),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Send):
			if m.snap.Call.Fullscreen {
				return m, nil
			}
			text := m.input.Value()
			m.input.Reset()
			return m, m.intent(func(ctx context.Context) error {
				return m.session.SendMessage(ctx, text)
			})
		case key.Matches(msg, m.keys.Call):
			return m, m.callKey()
		case key.Matches(msg, m.keys.Hangup):
			return m, m.hangupKey()
		case key.Matches(msg, m.keys.Video):
			return m, m.mediaKey(m.session.ToggleVideo)
		case key.Matches(msg, m.keys.Audio):
			return m, m.mediaKey(m.session.ToggleAudio)
		case key.Matches(msg, m.keys.Fullscreen):
			return m, m.intent(m.session.ToggleFullscreen)
		}

		// The input is hidden while fullscreen and must not collect keys.
		if m.snap.Call.Fullscreen {
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		bodyHeight := msg.Height - headerHeight - footerHeight
		if bodyHeight < 1 {
			bodyHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, bodyHeight)
			// Letter keys belong to the input; only paging scrolls.
			m.viewport.KeyMap = viewport.KeyMap{
				PageDown: key.NewBinding(key.WithKeys("pgdown")),
				PageUp:   key.NewBinding(key.WithKeys("pgup")),
			}
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = bodyHeight
		}
		m.input.Width = msg.Width - 4
		m.refreshTranscript()

	case snapshotMsg:
		m.snap = services.Snapshot(msg)
		m.refreshTranscript()
		cmds = append(cmds, waitForUpdate(m.session))

	case notificationMsg:
		cmds = append(cmds, m.pushToast(domain.Notification(msg)), waitForNotification(m.notes))

	case toastExpiredMsg:
		m.dropToast(int(msg))

	case intentErrMsg:
		if msg.err != nil {
			cmds = append(cmds, m.pushToast(domain.Notification{Level: domain.NotifyError, Text: msg.err.Error()}))
		}

	case sessionDoneMsg:
		m.snap = m.session.Snapshot()
		return m, tea.Quit
	}

	if m.ready {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// callKey starts a call from Idle or accepts a ringing one.
func (m Model) callKey() tea.Cmd {
	switch m.snap.Call.Phase {
	case domain.CallIdle:
		return m.intent(m.session.StartCall)
	case domain.CallIncomingPending:
		return m.intent(m.session.AcceptCall)
	}
	return nil
}

// hangupKey declines a ringing call or ends any other.
func (m Model) hangupKey() tea.Cmd {
	switch m.snap.Call.Phase {
	case domain.CallIncomingPending:
		return m.intent(m.session.DeclineCall)
	case domain.CallOutgoingPending, domain.CallActive:
		return m.intent(m.session.EndCall)
	}
	return nil
}

// mediaKey toggles a local track; without local media the key does nothing.
func (m Model) mediaKey(fn func(ctx context.Context) error) tea.Cmd {
	if !m.snap.Call.HasLocalMedia {
		return nil
	}
	return m.intent(fn)
}

// intent runs fn off the UI goroutine; the session reports the outcome
// through notifications and snapshots.
func (m Model) intent(fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, intentTimeout)
		defer cancel()
		return intentErrMsg{err: userFacing(fn(ctx))}
	}
}

func (m *Model) pushToast(note domain.Notification) tea.Cmd {
	m.nextToast++
	t := toast{id: m.nextToast, note: note, expires: m.now().Add(toastLifetime)}
	m.toasts = append(m.toasts, t)
	if len(m.toasts) > maxToasts {
		m.toasts = m.toasts[len(m.toasts)-maxToasts:]
	}
	return tea.Tick(toastLifetime, func(time.Time) tea.Msg { return toastExpiredMsg(t.id) })
}

func (m *Model) dropToast(id int) {
	for i, t := range m.toasts {
		if t.id == id {
			m.toasts = append(m.toasts[:i], m.toasts[i+1:]...)
			return
		}
	}
}

func (m *Model) refreshTranscript() {
	if !m.ready {
		return
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(renderTranscript(m.snap, m.width))
	if atBottom || m.viewport.TotalLineCount() <= m.viewport.Height {
		m.viewport.GotoBottom()
	}
}

func waitForUpdate(session Controller) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-session.Updates():
			return snapshotMsg(session.Snapshot())
		case <-session.Done():
			return sessionDoneMsg{}
		}
	}
}

func waitForNotification(notes <-chan domain.Notification) tea.Cmd {
	if notes == nil {
		return nil
	}
	return func() tea.Msg {
		note, ok := <-notes
		if !ok {
			return nil
		}
		return notificationMsg(note)
	}
}
