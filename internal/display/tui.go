package display

import (
	"fmt"
	"strings"

	"github.com/chase3718/midiclock/internal/registry"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	nameStyle     = lipgloss.NewStyle().Width(36)
	bpmStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	inactiveStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Margin(1, 0, 0, 0)
	errorStyle    = statusStyle.Copy().Foreground(lipgloss.Color("196"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Margin(1, 0)
	appStyle      = lipgloss.NewStyle().Margin(1, 2, 0, 2)
)

type upsertMsg registry.Reading

type removeMsg string

type statusMsg struct {
	message string
	isError bool
}

type tuiModel struct {
	order    []string
	rows     map[string]registry.Reading
	status   string
	isError  bool
	quitting bool
}

func newTUIModel() tuiModel {
	return tuiModel{rows: make(map[string]registry.Reading)}
}

func (m tuiModel) Init() tea.Cmd { return nil }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
	case upsertMsg:
		if _, ok := m.rows[msg.ID]; !ok {
			// rows stay in the order devices first appeared
			m.order = append(m.order, msg.ID)
		}
		m.rows[msg.ID] = registry.Reading(msg)
	case removeMsg:
		id := string(msg)
		delete(m.rows, id)
		for i, o := range m.order {
			if o == id {
				m.order = append(m.order[:i:i], m.order[i+1:]...)
				break
			}
		}
	case statusMsg:
		m.status = msg.message
		m.isError = msg.isError
	}
	return m, nil
}

func (m tuiModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("MIDI clock"))
	b.WriteString("\n\n")

	for _, id := range m.order {
		r := m.rows[id]
		style := bpmStyle
		if !r.Known {
			style = inactiveStyle
		}
		fmt.Fprintf(&b, "%s %s\n", nameStyle.Render(r.Name), style.Render(r.FormatBPM()))
	}

	if m.status != "" {
		if m.isError {
			b.WriteString(errorStyle.Render(m.status))
		} else {
			b.WriteString(statusStyle.Render(m.status))
		}
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render("Press q to exit"))
	if m.quitting {
		b.WriteString("\n")
	}
	return appStyle.Render(b.String())
}

// TUI renders the device list in the terminal.
type TUI struct {
	p *tea.Program
}

func NewTUI(opts ...tea.ProgramOption) *TUI {
	return &TUI{p: tea.NewProgram(newTUIModel(), opts...)}
}

// Run blocks until the user quits or Quit is called.
func (t *TUI) Run() error {
	_, err := t.p.Run()
	return err
}

func (t *TUI) Quit() { t.p.Quit() }

func (t *TUI) DeviceUpsert(r registry.Reading) { t.p.Send(upsertMsg(r)) }

func (t *TUI) DeviceRemove(id string) { t.p.Send(removeMsg(id)) }

func (t *TUI) Status(message string, isError bool) {
	t.p.Send(statusMsg{message: message, isError: isError})
}
