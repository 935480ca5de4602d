// Package tui renders the preview session as a terminal dashboard: one row
// per device, the shared address bar and a strip of recent notifications.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/xkilldash9x/humshakals/api/schemas"
	"github.com/xkilldash9x/humshakals/internal/browser"
	"github.com/xkilldash9x/humshakals/internal/state"
)

const (
	refreshInterval = 500 * time.Millisecond
	maxToasts       = 5
	actionTimeout   = 30 * time.Second
)

// Controller is the part of the orchestrator the dashboard drives.
type Controller interface {
	Snapshots() []browser.Snapshot
	Store() *state.Store
	Navigate(address string) string
	SetTouch(ctx context.Context, enabled bool) error
	SetRotate(ctx context.Context, rotate bool) error
	Reload(ctx context.Context, id string) error
	Retry(ctx context.Context, id string) error
	Screenshot(ctx context.Context, id string) (string, error)
	ScreenshotAll(ctx context.Context) ([]string, error)
	SaveReport(ctx context.Context, id string) (string, error)
	OpenDevTools(ctx context.Context, id string) error
}

type keyMap struct {
	Up, Down, Address, Touch, Rotate, ZoomIn, ZoomOut key.Binding
	Reload, Retry, Shot, ShotAll, Report, DevTools    key.Binding
	Quit                                              key.Binding
}

var keys = keyMap{
	Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Address:  key.NewBinding(key.WithKeys("/", "g"), key.WithHelp("/", "address")),
	Touch:    key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "touch")),
	Rotate:   key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "rotate")),
	ZoomIn:   key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "zoom in")),
	ZoomOut:  key.NewBinding(key.WithKeys("-"), key.WithHelp("-", "zoom out")),
	Reload:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
	Retry:    key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "retry")),
	Shot:     key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "screenshot")),
	ShotAll:  key.NewBinding(key.WithKeys("S"), key.WithHelp("S", "screenshot all")),
	Report:   key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "report")),
	DevTools: key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "devtools")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type (
	tickMsg         time.Time
	notificationMsg schemas.Notification
	resultMsg       struct {
		text string
		err  error
	}
)

// Model is the bubbletea model of the dashboard.
type Model struct {
	ctx           context.Context
	ctrl          Controller
	notifications <-chan schemas.Notification
	styles        Styles

	input     textinput.Model
	snapshots []browser.Snapshot
	state     state.State
	cursor    int
	toasts    []schemas.Notification
	status    string
	width     int
}

// New builds the dashboard model. notifications may be nil.
func New(ctx context.Context, ctrl Controller, notifications <-chan schemas.Notification) Model {
	ti := textinput.New()
	ti.Placeholder = "https://example.com"
	ti.Prompt = "→ "
	ti.CharLimit = 2048
	ti.Width = 60

	m := Model{
		ctx:           ctx,
		ctrl:          ctrl,
		notifications: notifications,
		styles:        DefaultStyles(),
		input:         ti,
		width:         100,
	}
	m.refresh()
	return m
}

// Run shows the dashboard until the user quits or ctx is done.
func Run(ctx context.Context, ctrl Controller, notifications <-chan schemas.Notification) error {
	p := tea.NewProgram(New(ctx, ctrl, notifications), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m *Model) refresh() {
	m.snapshots = m.ctrl.Snapshots()
	m.state = m.ctrl.Store().Get()
	if m.cursor >= len(m.snapshots) {
		m.cursor = len(m.snapshots) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m Model) selected() (string, bool) {
	if m.cursor < 0 || m.cursor >= len(m.snapshots) {
		return "", false
	}
	return m.snapshots[m.cursor].DeviceID, true
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitForNotification(ch <-chan schemas.Notification) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return notificationMsg(n)
	}
}

// action runs fn off the update loop and reports its outcome.
func (m Model) action(label string, fn func(ctx context.Context) (string, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, actionTimeout)
		defer cancel()
		text, err := fn(ctx)
		if err != nil {
			return resultMsg{err: fmt.Errorf("%s: %w", label, err)}
		}
		if text == "" {
			text = label + " done"
		}
		return resultMsg{text: text}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(), waitForNotification(m.notifications))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = msg.Width - 8
		return m, nil

	case tickMsg:
		m.refresh()
		return m, tick()

	case notificationMsg:
		m.toasts = append(m.toasts, schemas.Notification(msg))
		if len(m.toasts) > maxToasts {
			m.toasts = m.toasts[len(m.toasts)-maxToasts:]
		}
		return m, waitForNotification(m.notifications)

	case resultMsg:
		if msg.err != nil {
			m.status = "✗ " + msg.err.Error()
		} else {
			m.status = "✓ " + msg.text
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if m.input.Focused() {
			return m.updateInput(msg)
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		addr := m.ctrl.Navigate(m.input.Value())
		m.input.Blur()
		m.input.Reset()
		if addr != "" {
			m.status = "Navigating to " + addr
		}
		m.refresh()
		return m, nil
	case tea.KeyEsc:
		m.input.Blur()
		m.input.Reset()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	id, hasSel := m.selected()
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, keys.Down):
		if m.cursor < len(m.snapshots)-1 {
			m.cursor++
		}
	case key.Matches(msg, keys.Address):
		m.input.SetValue(m.state.Address)
		m.input.CursorEnd()
		return m, m.input.Focus()
	case key.Matches(msg, keys.Touch):
		on := !m.state.Touch
		return m, m.action("touch", func(ctx context.Context) (string, error) {
			return fmt.Sprintf("touch %s", onOff(on)), m.ctrl.SetTouch(ctx, on)
		})
	case key.Matches(msg, keys.Rotate):
		on := !m.state.Rotate
		return m, m.action("rotate", func(ctx context.Context) (string, error) {
			return fmt.Sprintf("rotate %s", onOff(on)), m.ctrl.SetRotate(ctx, on)
		})
	case key.Matches(msg, keys.ZoomIn):
		m.state = m.ctrl.Store().Dispatch(state.ZoomIn{})
	case key.Matches(msg, keys.ZoomOut):
		m.state = m.ctrl.Store().Dispatch(state.ZoomOut{})
	case key.Matches(msg, keys.ShotAll):
		return m, m.action("screenshot all", func(ctx context.Context) (string, error) {
			paths, err := m.ctrl.ScreenshotAll(ctx)
			return fmt.Sprintf("%d screenshots saved", countNonEmpty(paths)), err
		})
	}
	if !hasSel {
		return m, nil
	}
	switch {
	case key.Matches(msg, keys.Reload):
		return m, m.action("reload", func(ctx context.Context) (string, error) { return "", m.ctrl.Reload(ctx, id) })
	case key.Matches(msg, keys.Retry):
		return m, m.action("retry", func(ctx context.Context) (string, error) { return "", m.ctrl.Retry(ctx, id) })
	case key.Matches(msg, keys.Shot):
		return m, m.action("screenshot", func(ctx context.Context) (string, error) { return m.ctrl.Screenshot(ctx, id) })
	case key.Matches(msg, keys.Report):
		return m, m.action("report", func(ctx context.Context) (string, error) { return m.ctrl.SaveReport(ctx, id) })
	case key.Matches(msg, keys.DevTools):
		return m, m.action("devtools", func(ctx context.Context) (string, error) { return "", m.ctrl.OpenDevTools(ctx, id) })
	}
	return m, nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func countNonEmpty(ss []string) int {
	n := 0
	for _, s := range ss {
		if s != "" {
			n++
		}
	}
	return n
}

// -- Rendering --

func (m Model) View() string {
	var b strings.Builder
	st := m.styles

	b.WriteString(st.Title.Render("Humshakals"))
	b.WriteString("  ")
	b.WriteString(m.flags())
	b.WriteString("\n")

	if m.input.Focused() {
		b.WriteString(st.Address.Render(m.input.View()))
	} else {
		addr := m.state.Address
		if addr == "" {
			addr = "(no address, press / to enter one)"
		}
		b.WriteString(st.Address.Render(addr))
	}
	b.WriteString("\n\n")

	b.WriteString(st.Header.Render(fmt.Sprintf("  %-24s %-8s %-10s %s", "Device", "State", "Emulation", "URL")))
	b.WriteString("\n")
	if len(m.snapshots) == 0 {
		b.WriteString(st.Loading.Render("  No devices in the active suite."))
		b.WriteString("\n")
	}
	for i, s := range m.snapshots {
		b.WriteString(m.row(i, s))
		b.WriteString("\n")
	}

	if len(m.toasts) > 0 {
		b.WriteString("\n")
		for _, n := range m.toasts {
			style, ok := st.Toast[n.Kind]
			if !ok {
				style = st.Row
			}
			b.WriteString(style.Render(truncate(fmt.Sprintf("[%s] %s", n.Kind, n.Message), m.width-2)))
			b.WriteString("\n")
		}
	}

	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(m.status)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(st.Help.Render("/ address · t touch · o rotate · +/- zoom · r reload · e retry · s/S screenshot · p report · d devtools · q quit"))
	return b.String()
}

func (m Model) flags() string {
	st := m.styles
	flag := func(name string, on bool) string {
		if on {
			return st.FlagOn.Render(name)
		}
		return st.Flag.Render(name)
	}
	return strings.Join([]string{
		flag("touch", m.state.Touch),
		flag("rotate", m.state.Rotate),
		st.Flag.Render(fmt.Sprintf("zoom %.0f%%", m.state.Zoom*100)),
	}, " ")
}

func (m Model) row(i int, s browser.Snapshot) string {
	st := m.styles
	marker := "  "
	style := st.Row
	if i == m.cursor {
		marker = "▸ "
		style = st.Selected
	}

	status := string(s.State)
	switch s.State {
	case browser.StateFailed:
		status = st.Failed.Render(fmt.Sprintf("%-8s", "failed"))
	case browser.StateLoading:
		status = st.Loading.Render(fmt.Sprintf("%-8s", "loading"))
	default:
		status = fmt.Sprintf("%-8s", status)
	}

	emulation := fmt.Sprintf("%-10s", s.Emulation)
	if s.Emulation == browser.EmulationDegraded {
		emulation = st.Degraded.Render(fmt.Sprintf("%-10s", "degraded"))
	}

	detail := s.URL
	if s.State == browser.StateFailed {
		detail = fmt.Sprintf("%s (%d %s)", s.URL, s.ErrorCode, s.ErrorDescription)
	} else if s.Emulation == browser.EmulationDegraded && s.EmulationError != "" {
		detail = fmt.Sprintf("%s (unemulated: %s)", s.URL, s.EmulationError)
	}
	name := style.Render(fmt.Sprintf("%-24s", truncate(s.DeviceName, 24)))
	return marker + name + " " + status + " " + emulation + " " + truncate(detail, m.width-48)
}

func truncate(s string, n int) string {
	if n <= 3 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
