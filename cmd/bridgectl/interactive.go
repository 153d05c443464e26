package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/wippyai/native-bridge/config"
	"github.com/wippyai/native-bridge/schema"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#2E7D8C")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	ordinalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#2E7D8C"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type modelState int

const (
	stateSelectFunc modelState = iota
	stateInputArgs
	stateShowResult
)

type interactiveModel struct {
	err      error
	open     func() (*session, error)
	session  *session
	cfg      *config.Config
	result   string
	inputs   []textinput.Model
	selected int
	focusIdx int
	state    modelState
}

type openedMsg struct {
	err     error
	session *session
}

type callResultMsg struct {
	err    error
	result string
}

func newInteractiveModel(cfg *config.Config, open func() (*session, error)) *interactiveModel {
	return &interactiveModel{
		cfg:   cfg,
		open:  open,
		state: stateSelectFunc,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return func() tea.Msg {
		s, err := m.open()
		return openedMsg{session: s, err: err}
	}
}

func (m *interactiveModel) shutdown() {
	if m.session != nil {
		_ = m.session.close(context.Background())
		m.session = nil
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.shutdown()
			return m, tea.Quit

		case "q":
			if m.state != stateInputArgs {
				m.shutdown()
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectFunc && m.selected < len(m.cfg.Functions)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectFunc:
				if m.session == nil || len(m.cfg.Functions) == 0 {
					return m, nil
				}
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.callFunction
				}
				m.state = stateInputArgs
				return m, textinput.Blink

			case stateInputArgs:
				return m, m.callFunction

			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectFunc
				m.inputs = nil
			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}
		}

	case openedMsg:
		m.session = msg.session
		m.err = msg.err
		return m, nil

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		cmds := make([]tea.Cmd, 0, len(m.inputs))
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *interactiveModel) prepareInputs() {
	f := m.cfg.Functions[m.selected]
	m.inputs = make([]textinput.Model, len(f.Params))
	for i, p := range f.Params {
		ti := textinput.New()
		ti.Placeholder = schema.String(p)
		ti.Prompt = fmt.Sprintf("arg%d: ", i)
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

// callFunction reads each input as a JSON literal of its parameter type.
func (m *interactiveModel) callFunction() tea.Msg {
	f := m.cfg.Functions[m.selected]
	args := make([]any, len(m.inputs))
	for i, input := range m.inputs {
		v, err := schema.ParseValue(f.Params[i], input.Value())
		if err != nil {
			return callResultMsg{err: fmt.Errorf("arg%d: %w", i, err)}
		}
		args[i] = v
	}

	v, err := m.session.call(context.Background(), f, args)
	if err != nil {
		return callResultMsg{err: err}
	}
	return callResultMsg{result: schema.Format(v)}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if m.session == nil {
		return "Loading peer..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Native Bridge"))
	b.WriteString(" ")
	b.WriteString(m.cfg.Peer.Wasm)
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectFunc:
		if len(m.cfg.Functions) == 0 {
			b.WriteString("No functions declared in the config.\n\n")
			b.WriteString(helpStyle.Render("q quit"))
			break
		}
		b.WriteString("Select a function to call:\n\n")
		for i, f := range m.cfg.Functions {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + f.Signature()))
			} else {
				b.WriteString("  " + formatFunc(f))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • q quit"))

	case stateInputArgs:
		f := m.cfg.Functions[m.selected]
		b.WriteString(fmt.Sprintf("Calling %s\n\n", funcStyle.Render(f.Name)))
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(schema.String(f.Params[i])))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("values are JSON • tab next field • enter call • esc back"))

	case stateShowResult:
		f := m.cfg.Functions[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", funcStyle.Render(f.Name)))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func formatFunc(f config.Function) string {
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = typeStyle.Render(schema.String(p))
	}
	result := ""
	if f.Result != nil {
		result = " -> " + typeStyle.Render(schema.String(f.Result))
	}
	return ordinalStyle.Render(fmt.Sprintf("#%d ", f.Ordinal)) +
		funcStyle.Render(f.Name) + "(" + strings.Join(params, ", ") + ")" + result
}

func runInteractive(cfg *config.Config) error {
	log, err := cfg.Logger()
	if err != nil {
		return err
	}
	// The TUI owns the terminal; only errors reach stderr.
	log = log.WithOptions(zap.IncreaseLevel(zap.ErrorLevel))

	m := newInteractiveModel(cfg, func() (*session, error) {
		return openWasm(context.Background(), cfg, log)
	})
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err = p.Run()
	m.shutdown()
	return err
}
