// Package monitor implements the `monitor` subcommand's live terminal
// dashboard: a read-only Bubble Tea view over the pipeline's websocket
// event stream, grounded on hammamikhairi-otto's internal/display.UI — a
// scrollback buffer fed by program.Send from a separate reader goroutine,
// rendered with lipgloss-styled lines keyed by message kind.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/coder/websocket"
)

// event mirrors pipeline.Event's wire shape; kept as a local type so this
// package never imports internal/pipeline (the dashboard only ever sees
// JSON off the wire, never pipeline internals).
type event struct {
	WallTime time.Time      `json:"wall_time"`
	Type     string         `json:"event_type"`
	Data     map[string]any `json:"data"`
}

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#52525b")).
			Bold(true)

	wakeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#fde68a"))
	sessStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#bae6fd"))
	textStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#d4d4d8"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#71717a"))
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#fca5a5"))

	statusBar = lipgloss.NewStyle().
			Background(lipgloss.Color("#27272a")).
			Foreground(lipgloss.Color("#a1a1aa"))
)

// Run dials the pipeline's websocket event stream at addr (e.g.
// "ws://localhost:8089/events") and renders it full-screen until the user
// quits or ctx is canceled.
func Run(ctx context.Context, addr string) error {
	conn, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "monitor exiting")

	m := newModel(addr)
	program := tea.NewProgram(m, tea.WithAltScreen())

	go readLoop(ctx, conn, program)

	_, err = program.Run()
	return err
}

func readLoop(ctx context.Context, conn *websocket.Conn, program *tea.Program) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			program.Send(disconnectMsg{err: err})
			return
		}
		var evt event
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		program.Send(eventMsg{evt: evt})
	}
}

type eventMsg struct{ evt event }
type disconnectMsg struct{ err error }

type model struct {
	addr      string
	lines     []string
	connected bool
	counts    map[string]int
	width     int
	height    int
}

func newModel(addr string) model {
	return model{addr: addr, connected: true, counts: make(map[string]int)}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.String() == "q" {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
	case eventMsg:
		m.counts[msg.evt.Type]++
		m.lines = append(m.lines, renderEvent(msg.evt))
	case disconnectMsg:
		m.connected = false
		m.lines = append(m.lines, errStyle.Render("disconnected: "+msg.err.Error()))
	}
	return m, nil
}

func (m model) View() string {
	w := m.width
	if w <= 0 {
		w = 80
	}
	h := m.height
	if h <= 0 {
		h = 24
	}

	status := "connected"
	if !m.connected {
		status = "disconnected"
	}
	bar := statusBar.Width(w).Render(fmt.Sprintf(" voice-agent monitor — %s — %s ", m.addr, status))

	body := m.lines
	maxLines := h - 2
	if maxLines < 0 {
		maxLines = 0
	}
	if len(body) > maxLines {
		body = body[len(body)-maxLines:]
	}

	return strings.Join(append([]string{bar, ""}, body...), "\n")
}

func renderEvent(evt event) string {
	ts := evt.WallTime.Format("15:04:05")
	header := headerStyle.Render(ts) + " " + dimStyle.Render(evt.Type)

	switch evt.Type {
	case "wake_word_detected":
		return header + " " + wakeStyle.Render(fmt.Sprintf("%v", evt.Data["wake_word"]))
	case "session_start", "session_end", "session_end_by_repetition":
		return header + " " + sessStyle.Render(fmt.Sprintf("%v", evt.Data["session_id"]))
	case "transcription_result", "transcription_changed", "transcription_unchanged":
		return header + " " + textStyle.Render(fmt.Sprintf("%v", evt.Data["text"]))
	case "error":
		return header + " " + errStyle.Render(fmt.Sprintf("%v", evt.Data["error"]))
	default:
		return header
	}
}
