// Package tui is the terminal chat room: the message transcript, the
// composer, and the order affordances driven by the sync engine.
package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/gosuda/market-chat/chatwire"
	"github.com/gosuda/market-chat/ordersync"
)

// Event messages delivered from outside the bubbletea loop.
type (
	// ChatMsg is an inbound or locally echoed chat message.
	ChatMsg chatwire.Message
	// SnapshotMsg carries fresh order affordances from the engine.
	SnapshotMsg ordersync.Snapshot
	// AlertMsg is a user-facing notification.
	AlertMsg string
	// SocketClosedMsg reports that the room channel has terminated.
	SocketClosedMsg struct{}

	clearAlertMsg struct{ seq int }
)

const alertVisible = 5 * time.Second

// Sender abstracts the outbound chat path; *chatwire.Channel satisfies
// it for the websocket path.
type Sender interface {
	Send(text string) error
}

// Actions are the order mutations the user can trigger;
// *ordersync.Engine satisfies it.
type Actions interface {
	Purchase(ctx context.Context)
	Confirm(ctx context.Context)
}

// Config wires one chat room session into the UI.
type Config struct {
	Title    string
	SelfID   int64
	SelfName string

	Sender Sender
	// FormSender, when set, replaces Sender with the form-POST path.
	FormSender *chatwire.FormPoster

	Actions Actions

	// Events is the bridge from the channel reader and the engine into
	// the UI loop. See PushEvent and the ordersync adapters below.
	Events chan tea.Msg
}

// Model is the bubbletea model for the chat room.
type Model struct {
	cfg Config

	viewport viewport.Model
	input    textarea.Model

	transcript []string
	snap       ordersync.Snapshot
	alert      string
	alertSeq   int
	socketDown bool
	ready      bool
	width      int
}

func New(cfg Config) Model {
	input := textarea.New()
	input.Placeholder = "메시지를 입력하세요"
	input.SetHeight(2)
	input.CharLimit = 2000
	input.ShowLineNumbers = false
	// Enter is taken by send; newlines go in with alt+enter.
	input.KeyMap.InsertNewline.SetKeys("alt+enter")
	input.Focus()

	return Model{
		cfg:      cfg,
		input:    input,
		viewport: viewport.New(60, 16),
	}
}

// PushEvent delivers an event into the UI loop without ever blocking the
// producer; when the UI has fallen behind, the oldest event is dropped.
func PushEvent(events chan tea.Msg, msg tea.Msg) {
	select {
	case events <- msg:
	default:
		select {
		case <-events:
		default:
		}
		events <- msg
	}
}

// EngineNotifier adapts the event bridge to ordersync.Notifier.
func EngineNotifier(events chan tea.Msg) ordersync.Notifier {
	return ordersync.NotifierFunc(func(text string) {
		PushEvent(events, AlertMsg(text))
	})
}

// EngineSink adapts the event bridge to ordersync.Sink.
func EngineSink(events chan tea.Msg) ordersync.Sink {
	return ordersync.SinkFunc(func(s ordersync.Snapshot) {
		PushEvent(events, SnapshotMsg(s))
	})
}

// ForwardChannel pumps inbound chat messages into the event bridge until
// the channel closes.
func ForwardChannel(ch *chatwire.Channel, events chan tea.Msg) {
	for m := range ch.Messages() {
		PushEvent(events, ChatMsg(m))
	}
	PushEvent(events, SocketClosedMsg{})
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.waitEvent())
}

func (m Model) waitEvent() tea.Cmd {
	events := m.cfg.Events
	return func() tea.Msg {
		return <-events
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-9, 4)
		m.input.SetWidth(msg.Width)
		m.ready = true
		m.refreshTranscript()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			return m.sendCurrent()
		case "ctrl+p":
			if m.snap.Purchase.Present {
				return m, m.actionCmd((Actions).Purchase)
			}
		case "ctrl+f":
			if m.snap.Confirm.Present {
				return m, m.actionCmd((Actions).Confirm)
			}
		}

	case ChatMsg:
		m.appendMessage(chatwire.Message(msg))
		cmds = append(cmds, m.waitEvent())

	case SnapshotMsg:
		m.snap = ordersync.Snapshot(msg)
		cmds = append(cmds, m.waitEvent())

	case AlertMsg:
		m.alert = string(msg)
		m.alertSeq++
		seq := m.alertSeq
		cmds = append(cmds, m.waitEvent(), tea.Tick(alertVisible, func(time.Time) tea.Msg {
			return clearAlertMsg{seq: seq}
		}))

	case SocketClosedMsg:
		m.socketDown = true
		cmds = append(cmds, m.waitEvent())

	case clearAlertMsg:
		if msg.seq == m.alertSeq {
			m.alert = ""
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) sendCurrent() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}

	if m.cfg.FormSender != nil {
		m.input.Reset()
		poster := m.cfg.FormSender
		events := m.cfg.Events
		return m, func() tea.Msg {
			res, err := poster.Send(context.Background(), text)
			if err != nil {
				return nil
			}
			if res.Outcome == chatwire.Degraded {
				return AlertMsg("메시지 전송에 실패했습니다. 잠시 후 다시 시도해주세요.")
			}
			PushEvent(events, ChatMsg(res.Echo))
			return nil
		}
	}

	if m.cfg.Sender == nil {
		return m, nil
	}
	err := m.cfg.Sender.Send(text)
	switch {
	case err == nil:
		m.input.Reset()
	case errors.Is(err, chatwire.ErrEmptyMessage):
		// Nothing to do.
	default:
		// Socket is gone; the composer keeps the text.
		m.alert = "연결이 끊어졌습니다. 다시 접속해주세요."
		m.alertSeq++
	}
	return m, nil
}

func (m Model) actionCmd(action func(Actions, context.Context)) tea.Cmd {
	actions := m.cfg.Actions
	if actions == nil {
		return nil
	}
	return func() tea.Msg {
		action(actions, context.Background())
		return nil
	}
}

func (m *Model) appendMessage(msg chatwire.Message) {
	m.transcript = append(m.transcript, renderMessage(msg, m.cfg.SelfID, m.viewport.Width))
	m.refreshTranscript()
}

func (m *Model) refreshTranscript() {
	m.viewport.SetContent(strings.Join(m.transcript, "\n"))
	// Always pin to the newest message.
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	if !m.ready {
		return "연결 중..."
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.cfg.Title))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	if m.snap.CodeText != "" {
		b.WriteString(codeStyle.Render(m.snap.CodeText))
		b.WriteString("\n")
	}

	var controls []string
	if m.snap.Purchase.Present {
		controls = append(controls, renderControl(controlView{label: m.snap.Purchase.Label + " (ctrl+p)", enabled: m.snap.Purchase.Enabled}))
	}
	if m.snap.Confirm.Present {
		controls = append(controls, renderControl(controlView{label: m.snap.Confirm.Label + " (ctrl+f)", enabled: m.snap.Confirm.Enabled}))
	}
	if len(controls) > 0 {
		b.WriteString(strings.Join(controls, "  "))
		b.WriteString("\n")
	}

	switch {
	case m.alert != "":
		b.WriteString(alertStyle.Render("! " + m.alert))
		b.WriteString("\n")
	case m.socketDown:
		b.WriteString(alertStyle.Render("! 연결이 끊어졌습니다."))
		b.WriteString("\n")
	default:
		b.WriteString("\n")
	}

	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter: 전송 · alt+enter: 줄바꿈 · esc: 종료"))
	return b.String()
}
