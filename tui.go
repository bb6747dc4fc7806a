package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/pkg/browser"

	"tunespot/clipboard"
	"tunespot/controller"
	"tunespot/recognizer"
	"tunespot/spectrum"
)

// cycle is the part of the controller the TUI drives. Calls are made from
// tea.Cmd goroutines since the controller publishes back into the program.
type cycle interface {
	Toggle()
	SetCredential(string)
}

type tickMsg time.Time

// flashMsg shows a short-lived confirmation such as "copied".
type flashMsg struct {
	text string
	err  bool
}

type clearFlashMsg struct{ id int }

const (
	maxCanvasCols = 60
	flashDuration = 2 * time.Second
)

var (
	titleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	recStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	helpKeyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	songStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Bold(true)
	artistStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
	linkStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Underline(true)
	infoStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cardStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("99")).Padding(0, 1)
	idleRingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("99"))
)

type tuiModel struct {
	ctrl    cycle
	canvas  *spectrum.Canvas
	snap    controller.Snapshot
	input   textinput.Model
	spinner spinner.Model
	now     time.Time

	width, height int
	deviceLine    string

	flash    string
	flashErr bool
	flashID  int
}

func newTUIModel(ctrl cycle, canvas *spectrum.Canvas, initial controller.Snapshot, deviceLine string) tuiModel {
	in := textinput.New()
	in.Placeholder = "RapidAPI key"
	in.EchoMode = textinput.EchoPassword
	in.EchoCharacter = '•'
	in.CharLimit = 128
	in.Prompt = "key: "
	if !initial.HasCredential {
		in.Focus()
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = titleStyle

	return tuiModel{
		ctrl:       ctrl,
		canvas:     canvas,
		snap:       initial,
		input:      in,
		spinner:    sp,
		now:        time.Now(),
		deviceLine: deviceLine,
	}
}

func tuiTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(tuiTick(), m.spinner.Tick, textinput.Blink)
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		cols := min(max(msg.Width-4, 12), maxCanvasCols)
		m.canvas.Resize(cols, max(cols/6, 2))

	case tea.KeyMsg:
		return m.handleKey(msg)

	case snapshotMsg:
		if msg.Seq <= m.snap.Seq {
			return m, nil
		}
		m.snap = controller.Snapshot(msg)
		if m.snap.HasCredential {
			m.input.Blur()
		} else if !m.input.Focused() {
			cmd := m.input.Focus()
			return m, cmd
		}

	case frameMsg:
		// repaint only

	case tickMsg:
		m.now = time.Time(msg)
		return m, tuiTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case flashMsg:
		m.flashID++
		m.flash, m.flashErr = msg.text, msg.err
		id := m.flashID
		return m, tea.Tick(flashDuration, func(time.Time) tea.Msg { return clearFlashMsg{id} })

	case clearFlashMsg:
		if msg.id == m.flashID {
			m.flash = ""
		}

	default:
		if m.input.Focused() {
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			return m, cmd
		}
	}
	return m, nil
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return m, tea.Quit
	}
	if key == "ctrl+r" {
		return m, m.toggle()
	}

	if m.input.Focused() {
		switch key {
		case "enter":
			v := strings.TrimSpace(m.input.Value())
			if v == "" {
				return m, nil
			}
			m.input.Reset()
			m.input.Blur()
			ctrl := m.ctrl
			return m, func() tea.Msg {
				ctrl.SetCredential(v)
				return nil
			}
		case "esc":
			if m.snap.HasCredential {
				m.input.Reset()
				m.input.Blur()
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch key {
	case "q", "esc":
		return m, tea.Quit
	case " ", "enter":
		return m, m.toggle()
	case "k":
		cmd := m.input.Focus()
		return m, cmd
	case "c":
		if m.snap.Result != nil {
			return m, copyCmd(resultText(*m.snap.Result))
		}
	case "o":
		if m.snap.Result != nil {
			if link := resultLink(*m.snap.Result); link != "" {
				return m, openCmd(link)
			}
		}
	}
	return m, nil
}

func (m tuiModel) toggle() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctrl.Toggle()
		return nil
	}
}

func copyCmd(text string) tea.Cmd {
	return func() tea.Msg {
		if err := clipboard.Copy(text); err != nil {
			return flashMsg{text: "copy failed: " + err.Error(), err: true}
		}
		return flashMsg{text: "✓ copied"}
	}
}

func openCmd(url string) tea.Cmd {
	return func() tea.Msg {
		if err := browser.OpenURL(url); err != nil {
			return flashMsg{text: "open failed: " + err.Error(), err: true}
		}
		return flashMsg{text: "✓ opened in browser"}
	}
}

// resultText is what gets copied for a match.
func resultText(r recognizer.Result) string {
	s := r.Title
	if r.Subtitle != "" {
		s += " - " + r.Subtitle
	}
	if r.URL != "" {
		s += " " + r.URL
	}
	return s
}

func resultLink(r recognizer.Result) string {
	if r.URL != "" {
		return r.URL
	}
	return r.Image
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	wrapWidth := max(m.width-4, 10)

	var lines []string
	lines = append(lines, titleStyle.Render("♫ tunespot"), "")

	switch m.snap.State {
	case controller.Recording:
		elapsed := m.now.Sub(m.snap.StartedAt)
		if m.snap.StartedAt.IsZero() || elapsed < 0 {
			elapsed = 0
		}
		lines = append(lines, recStyle.Render(fmt.Sprintf("● Listening... %.1fs", elapsed.Seconds())))
		lines = append(lines, m.canvas.Render())
	case controller.Recognizing:
		lines = append(lines, m.spinner.View()+" Identifying...")
	default:
		if m.snap.Result != nil {
			lines = append(lines, renderResult(*m.snap.Result, wrapWidth))
		} else {
			lines = append(lines, idleRingStyle.Render("◉ Tap to Identify"))
			lines = append(lines, dimStyle.Render("Play some music near your microphone."))
		}
	}

	if n := m.snap.Notice; n.Text != "" {
		style := infoStyle
		if n.Kind == controller.NoticeError {
			style = errorStyle
		}
		lines = append(lines, "")
		for _, l := range wrapText(n.Text, wrapWidth) {
			lines = append(lines, style.Render(l))
		}
	}

	if m.flash != "" {
		style := okStyle
		if m.flashErr {
			style = errorStyle
		}
		lines = append(lines, style.Render(m.flash))
	}

	if m.input.Focused() {
		lines = append(lines, "", dimStyle.Render("Enter your RapidAPI key for the Shazam Core API:"), m.input.View())
	}

	lines = append(lines, "")
	if m.deviceLine != "" {
		lines = append(lines, dimStyle.Render(m.deviceLine))
	}
	lines = append(lines, m.helpLine())
	lines = append(lines, helpStyle.Render("tunespot "+version))

	return lipgloss.NewStyle().Padding(1, 2).Render(strings.Join(lines, "\n"))
}

func (m tuiModel) helpLine() string {
	item := func(key, what string) string {
		return helpKeyStyle.Render(key) + helpStyle.Render(" "+what)
	}
	if m.input.Focused() {
		parts := []string{item("enter", "save key")}
		if m.snap.HasCredential {
			parts = append(parts, item("esc", "cancel"))
		}
		parts = append(parts, item("ctrl+r", "record"), item("ctrl+c", "quit"))
		return strings.Join(parts, helpStyle.Render(" · "))
	}
	verb := "record"
	if m.snap.State == controller.Recording {
		verb = "stop"
	}
	parts := []string{item("space", verb)}
	if m.snap.Result != nil {
		parts = append(parts, item("c", "copy"), item("o", "open"))
	}
	parts = append(parts, item("k", "key"), item("q", "quit"))
	return strings.Join(parts, helpStyle.Render(" · "))
}

func renderResult(r recognizer.Result, width int) string {
	var b strings.Builder
	for _, l := range wrapText(r.Title, width-4) {
		b.WriteString(songStyle.Render(l) + "\n")
	}
	for _, l := range wrapText(r.Subtitle, width-4) {
		b.WriteString(artistStyle.Render(l) + "\n")
	}
	if r.URL != "" {
		b.WriteString(linkStyle.Render(r.URL) + "\n")
	}
	if r.Image != "" {
		b.WriteString(dimStyle.Render("art: " + r.Image))
	}
	return cardStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for runewidth.StringWidth(text) > width {
		rs := []rune(text)
		// runes that fit in width cells, at least one
		cut, w := 0, 0
		for cut < len(rs) {
			rw := runewidth.RuneWidth(rs[cut])
			if w+rw > width {
				break
			}
			w += rw
			cut++
		}
		if cut == 0 {
			cut = 1
		}
		// last space within width
		splitAt := cut
		for i := cut; i > 0; i-- {
			if i < len(rs) && rs[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, string(rs[:splitAt]))
		text = strings.TrimLeft(string(rs[splitAt:]), " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}
