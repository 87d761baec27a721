package ui

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BioHazard786/roomcall/internal/call"
	"github.com/BioHazard786/roomcall/internal/chat"
	"github.com/BioHazard786/roomcall/internal/media"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	chatHeight = 10
	tickEvery  = 500 * time.Millisecond
)

type (
	stateMsg     struct{ from, to call.State }
	confirmedMsg struct{}
	chatMsg      struct{ line chat.Line }
	trackMsg     struct{ kind, codec string }
	fatalMsg     struct{ err error }
	endedMsg     struct{ err error }
	tickMsg      time.Time
)

// CallHooks connect the view to the running call. Lines, when set, is the
// authoritative chat history; the view redraws from it so no line is lost
// to a lagging update queue.
type CallHooks struct {
	Send  func(text string) error
	Leave func()
	Stats func() call.Stats
	Lines func() []chat.Line
}

// CallUI is the interactive call view. It implements call.Listener; every
// notification is queued and picked up by the bubbletea program.
type CallUI struct {
	model   *callModel
	updates chan tea.Msg
	done    chan struct{}
}

func NewCallUI(room, name string, hooks CallHooks) *CallUI {
	updates := make(chan tea.Msg, 128)
	return &CallUI{
		model:   newCallModel(room, name, hooks, updates),
		updates: updates,
		done:    make(chan struct{}),
	}
}

// Run blocks until the call has ended and the user dismissed the view.
func (u *CallUI) Run() error {
	defer close(u.done)
	_, err := tea.NewProgram(u.model).Run()
	return err
}

// Ended tells the view the call is over. A nil err closes the view right
// away; otherwise the error stays on screen until a key is pressed. It does
// not block once the view has exited.
func (u *CallUI) Ended(err error) {
	select {
	case u.updates <- endedMsg{err: err}:
	case <-u.done:
	}
}

func (u *CallUI) push(msg tea.Msg) {
	select {
	case u.updates <- msg:
	default:
		slog.Debug("call view lagging, dropping update", "msg", fmt.Sprintf("%T", msg))
	}
}

func (u *CallUI) StateChanged(from, to call.State) { u.push(stateMsg{from: from, to: to}) }
func (u *CallUI) TransportConfirmed()              { u.push(confirmedMsg{}) }
func (u *CallUI) ChatLine(line chat.Line)          { u.push(chatMsg{line: line}) }
func (u *CallUI) Fatal(err error)                  { u.push(fatalMsg{err: err}) }

func (u *CallUI) RemoteTrack(track media.RemoteTrack) {
	u.push(trackMsg{kind: track.Kind().String(), codec: track.Codec().MimeType})
}

type callModel struct {
	room  string
	name  string
	hooks CallHooks

	state     call.State
	confirmed bool
	stats     call.Stats
	tracks    []string
	lines     []string
	shown     int
	notice    string
	err       error
	ended     bool
	leaving   bool
	quitting  bool

	spinner  spinner.Model
	progress progress.Model
	chat     viewport.Model
	input    textinput.Model
	width    int

	updates chan tea.Msg
}

func newCallModel(room, name string, hooks CallHooks, updates chan tea.Msg) *callModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	in := textinput.New()
	in.Placeholder = "Say something..."
	in.Prompt = IconChat + " "
	in.CharLimit = 500
	in.Focus()

	vp := viewport.New(60, chatHeight)
	vp.SetContent(MutedStyle.Render("No messages yet"))

	return &callModel{
		room:    room,
		name:    name,
		hooks:   hooks,
		spinner: s,
		progress: progress.New(
			progress.WithGradient(ProgressStart, ProgressEnd),
			progress.WithWidth(30),
			progress.WithoutPercentage(),
		),
		chat:    vp,
		input:   in,
		width:   80,
		updates: updates,
	}
}

func (m *callModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, textinput.Blink, m.waitForUpdate(), tick())
}

func (m *callModel) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		return <-m.updates
	}
}

func tick() tea.Cmd {
	return tea.Tick(tickEvery, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *callModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.chat.Width = max(20, msg.Width-6)
		m.input.Width = max(20, msg.Width-10)
		m.progress.Width = min(30, max(10, msg.Width-50))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tickMsg:
		if m.hooks.Stats != nil {
			m.stats = m.hooks.Stats()
		}
		m.syncChat()
		if !m.ended {
			cmds = append(cmds, tick())
		}

	case stateMsg:
		m.state = msg.to
		cmds = append(cmds, m.waitForUpdate())

	case confirmedMsg:
		m.confirmed = true
		cmds = append(cmds, m.waitForUpdate())

	case chatMsg:
		if m.hooks.Lines != nil {
			m.syncChat()
		} else {
			m.appendLine(msg.line)
		}
		cmds = append(cmds, m.waitForUpdate())

	case trackMsg:
		m.tracks = append(m.tracks, fmt.Sprintf("%s (%s)", msg.kind, msg.codec))
		cmds = append(cmds, m.waitForUpdate())

	case fatalMsg:
		m.err = msg.err
		cmds = append(cmds, m.waitForUpdate())

	case endedMsg:
		m.ended = true
		if msg.err != nil {
			m.err = msg.err
		}
		if m.hooks.Stats != nil {
			m.stats = m.hooks.Stats()
			m.state = m.stats.State
		}
		if m.err == nil {
			m.quitting = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *callModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// A fatal error blocks the view until acknowledged.
	if m.ended {
		m.quitting = true
		return m, tea.Quit
	}

	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		if !m.leaving {
			m.leaving = true
			m.notice = "Leaving..."
			if m.hooks.Leave != nil {
				m.hooks.Leave()
			}
		}
		return m, nil

	case tea.KeyEnter:
		text := m.input.Value()
		m.input.Reset()
		m.notice = ""
		if m.hooks.Send != nil {
			if err := m.hooks.Send(text); err != nil {
				if errors.Is(err, call.ErrEmptyMessage) {
					m.notice = "Nothing to send"
				} else {
					m.notice = err.Error()
				}
			}
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *callModel) appendLine(line chat.Line) {
	m.lines = append(m.lines, renderLine(line))
	m.shown++
	m.chat.SetContent(strings.Join(m.lines, "\n"))
	m.chat.GotoBottom()
}

// syncChat appends whatever the chat log holds beyond what is on screen.
func (m *callModel) syncChat() {
	if m.hooks.Lines == nil {
		return
	}
	lines := m.hooks.Lines()
	if len(lines) <= m.shown {
		return
	}
	for _, line := range lines[m.shown:] {
		m.lines = append(m.lines, renderLine(line))
	}
	m.shown = len(lines)
	m.chat.SetContent(strings.Join(m.lines, "\n"))
	m.chat.GotoBottom()
}

func renderLine(line chat.Line) string {
	name := PeerNameStyle.Render(line.Name)
	if line.Own {
		name = OwnNameStyle.Render(line.Name)
	}
	return fmt.Sprintf("%s %s %s", MutedStyle.Render(line.At.Format("15:04")), name, line.Text)
}

// negotiationProgress maps the call lifecycle onto the progress bar.
func negotiationProgress(s call.State, confirmed bool) float64 {
	switch s {
	case call.StateAcquiringMedia:
		return 0.2
	case call.StateConnectionReady:
		return 0.4
	case call.StateOfferSent, call.StateAnswerSent:
		return 0.7
	case call.StateConnected:
		if confirmed {
			return 1
		}
		return 0.9
	default:
		return 0
	}
}

func (m *callModel) statusLine() string {
	switch {
	case m.state == call.StateIdle:
		return "Connecting to relay..."
	case m.state == call.StateAcquiringMedia:
		return "Preparing camera and microphone..."
	case m.state == call.StateConnectionReady && m.stats.Role == call.RoleAnswerer:
		return "Waiting for the other participant's offer..."
	case m.state == call.StateConnectionReady:
		return "Creating offer..."
	case m.state == call.StateOfferSent:
		return "Offer sent, waiting for someone to join..."
	case m.state == call.StateAnswerSent:
		return "Answer sent..."
	case m.state == call.StateConnected && !m.confirmed:
		return "Negotiated, establishing media path..."
	default:
		return ""
	}
}

func (m *callModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	header := HeaderStyle.Render(fmt.Sprintf("%s %s  %s %s", IconCall, m.room, IconPeer, m.name))
	b.WriteString(header + " " + stateBadge(m.state.String(), m.confirmed))
	b.WriteString(MutedStyle.Render("  role: " + m.stats.Role.String()))
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(ErrorBoxStyle.Render(fmt.Sprintf("%s Call ended\n\n%s", IconError, m.err.Error())))
		b.WriteString("\n")
		b.WriteString(FooterStyle.Render("Press any key to exit"))
		return ContainerStyle.Render(b.String())
	}

	b.WriteString(m.progress.ViewAs(negotiationProgress(m.state, m.confirmed)))
	if status := m.statusLine(); status != "" {
		b.WriteString("  " + m.spinner.View() + " " + status)
	} else if m.confirmed {
		b.WriteString("  " + SuccessStyle.Render(IconConnect+" live") + " " +
			MutedStyle.Render(IconTime+" "+FormatDuration(m.stats.Duration())))
	}
	b.WriteString("\n")

	if len(m.tracks) > 0 {
		b.WriteString(MutedStyle.Render(IconVideo + " receiving " + strings.Join(m.tracks, ", ")))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(InfoBoxStyle.Render(m.chat.View()))
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")

	if m.notice != "" {
		b.WriteString(WarningStyle.Render(m.notice) + "\n")
	}
	b.WriteString(FooterStyle.Render("Enter to send · Esc or Ctrl+C to leave"))

	return ContainerStyle.Render(b.String())
}
