package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/cluso-kv/pkg/kv"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00FFFF")).
			MarginLeft(1)

	valueBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FF00")).
			Padding(0, 1).
			MarginLeft(1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666")).
			MarginLeft(1)

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			MarginLeft(1)
)

const valuePreviewLimit = 512

type model struct {
	store *kv.Store

	keys     []string
	filter   string
	table    table.Model
	search   textinput.Model
	focused  string // "table" or "search"
	value    string
	errMsg   string
	showHelp bool
}

func newModel(store *kv.Store) model {
	search := textinput.New()
	search.Placeholder = "filter keys"
	search.CharLimit = 256

	columns := []table.Column{{Title: "Key", Width: 60}}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(15),
	)

	m := model{
		store:   store,
		keys:    store.Keys(),
		table:   t,
		search:  search,
		focused: "table",
	}
	m.refreshRows()
	return m
}

func (m *model) refreshRows() {
	rows := make([]table.Row, 0, len(m.keys))
	for _, key := range m.keys {
		if m.filter != "" && !strings.Contains(key, m.filter) {
			continue
		}
		rows = append(rows, table.Row{key})
	}
	m.table.SetRows(rows)
}

func (m *model) loadValue() {
	m.errMsg = ""
	row := m.table.SelectedRow()
	if row == nil {
		m.value = ""
		return
	}

	value, err := m.store.Get([]byte(row[0]))
	if err != nil {
		m.errMsg = err.Error()
		m.value = ""
		return
	}

	preview := string(value)
	if !utf8.ValidString(preview) {
		preview = fmt.Sprintf("(%d bytes of binary data)", len(value))
	} else if len(preview) > valuePreviewLimit {
		preview = preview[:valuePreviewLimit] + "..."
	}
	m.value = preview
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.table.SetHeight(max(msg.Height-8, 5))
		return m, nil

	case tea.KeyMsg:
		if m.focused == "search" {
			switch msg.String() {
			case "enter":
				m.filter = m.search.Value()
				m.focused = "table"
				m.search.Blur()
				m.refreshRows()
				return m, nil
			case "esc":
				m.focused = "table"
				m.search.Blur()
				return m, nil
			}
			var cmd tea.Cmd
			m.search, cmd = m.search.Update(msg)
			return m, cmd
		}

		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "/":
			m.focused = "search"
			m.search.Focus()
			return m, nil
		case "enter":
			m.loadValue()
			return m, nil
		case "r":
			m.keys = m.store.Keys()
			m.refreshRows()
			return m, nil
		case "?":
			m.showHelp = !m.showHelp
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m model) View() string {
	var b strings.Builder

	st := m.store.Stats()
	b.WriteString(titleStyle.Render(fmt.Sprintf("cluso-kv browser: %d keys, %d segments", st.LiveKeys, st.Segments)))
	b.WriteString("\n\n")

	if m.focused == "search" {
		b.WriteString("  " + m.search.View() + "\n\n")
	} else if m.filter != "" {
		b.WriteString(statusStyle.Render(fmt.Sprintf("filter: %q", m.filter)) + "\n\n")
	}

	b.WriteString(m.table.View())
	b.WriteString("\n")

	if m.errMsg != "" {
		b.WriteString(errStyle.Render(m.errMsg) + "\n")
	} else if m.value != "" {
		b.WriteString(valueBoxStyle.Render(m.value) + "\n")
	}

	if m.showHelp {
		b.WriteString(statusStyle.Render("enter: view value  /: filter  r: reload  q: quit") + "\n")
	} else {
		b.WriteString(statusStyle.Render("press ? for help") + "\n")
	}
	return b.String()
}

func main() {
	dataDir := flag.String("data", "./data", "Data directory")
	flag.Parse()

	opts := kv.DefaultOptions()
	opts.AutoCompaction = false

	store, err := kv.Open(*dataDir, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kv-tui: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if _, err := tea.NewProgram(newModel(store), tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "kv-tui: %v\n", err)
		os.Exit(1)
	}
}
