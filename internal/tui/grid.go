package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mkarlsen/planr/internal/planning"
	"github.com/mkarlsen/planr/internal/types"
	"github.com/shopspring/decimal"
)

// gridModel edits one tuple's hours across the seven days of a week.
// Days are navigated with h/l; enter opens the text input for the
// selected day.
type gridModel struct {
	tuple planning.Tuple
	week  types.Week
	label string

	values    [7]string
	cursor    int
	textInput textinput.Model
	editing   bool
	inputErr  string
}

func newGridModel(tuple planning.Tuple, week types.Week, label string, hours planning.DesiredDayMap) gridModel {
	ti := textinput.New()
	ti.CharLimit = 6
	ti.Width = 8

	m := gridModel{
		tuple:     tuple,
		week:      week,
		label:     label,
		textInput: ti,
	}
	for i, day := range week.Days() {
		if h, ok := hours[day.Format("2006-01-02")]; ok && !h.IsZero() {
			m.values[i] = h.String()
		}
	}
	return m
}

func (m gridModel) Update(msg tea.Msg) (gridModel, tea.Cmd) {
	if m.editing {
		return m.updateEditing(msg)
	}
	return m.updateNavigating(msg)
}

func (m gridModel) updateNavigating(msg tea.Msg) (gridModel, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.String() {
		case "left", "h":
			if m.cursor > 0 {
				m.cursor--
			}
		case "right", "l", "tab":
			if m.cursor < 6 {
				m.cursor++
			}
		case "x":
			m.values[m.cursor] = ""
		case "enter":
			m.editing = true
			m.inputErr = ""
			m.textInput.SetValue(m.values[m.cursor])
			m.textInput.Placeholder = "0"
			return m, m.textInput.Focus()
		}
	}
	return m, nil
}

func (m gridModel) updateEditing(msg tea.Msg) (gridModel, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.String() {
		case "enter":
			if err := m.applyInput(); err != nil {
				m.inputErr = err.Error()
				return m, nil
			}
			m.editing = false
			m.textInput.Blur()
			if m.cursor < 6 {
				m.cursor++
			}
			return m, nil
		case "esc":
			m.editing = false
			m.inputErr = ""
			m.textInput.Blur()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m *gridModel) applyInput() error {
	v := strings.TrimSpace(m.textInput.Value())
	if v == "" {
		m.values[m.cursor] = ""
		return nil
	}
	h, err := decimal.NewFromString(v)
	if err != nil {
		return fmt.Errorf("not a number: %s", v)
	}
	if h.IsNegative() {
		return fmt.Errorf("hours cannot be negative")
	}
	if h.IsZero() {
		m.values[m.cursor] = ""
	} else {
		m.values[m.cursor] = h.String()
	}
	return nil
}

// Desired converts the grid into the day map the planner applies. Empty
// cells are omitted, which clears any remote hours on those days.
func (m gridModel) Desired() (planning.DesiredDayMap, error) {
	desired := make(planning.DesiredDayMap)
	for i, day := range m.week.Days() {
		if m.values[i] == "" {
			continue
		}
		h, err := decimal.NewFromString(m.values[i])
		if err != nil {
			return nil, fmt.Errorf("parsing hours for %s: %w", day.Format("2006-01-02"), err)
		}
		desired[day.Format("2006-01-02")] = h
	}
	return desired, nil
}

func (m gridModel) total() decimal.Decimal {
	total := decimal.Zero
	for _, v := range m.values {
		if v == "" {
			continue
		}
		if h, err := decimal.NewFromString(v); err == nil {
			total = total.Add(h)
		}
	}
	return total
}

func (m gridModel) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render(m.label))
	sb.WriteString("\n")
	sb.WriteString(subtitleStyle.Render("Week of " + m.week.String()))
	sb.WriteString("\n")

	days := m.week.Days()
	for i, day := range days {
		cell := m.values[i]
		if cell == "" {
			cell = "-"
		}
		line := fmt.Sprintf("  %s %s  %6s", day.Format("Mon"), day.Format("02 Jan"), cell)
		if i == m.cursor {
			line = highlightStyle.Render("> " + line[2:])
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Total: %s h\n", m.total().String()))

	if m.editing {
		sb.WriteString("\n")
		sb.WriteString(m.textInput.View())
		sb.WriteString("\n")
		if m.inputErr != "" {
			sb.WriteString(errorStyle.Render(m.inputErr))
			sb.WriteString("\n")
		}
		sb.WriteString(helpStyle.Render("Enter: set • Esc: cancel"))
	} else {
		sb.WriteString(helpStyle.Render("h/l: day • Enter: edit • x: clear • a: apply • Esc: back"))
	}

	return boxStyle.Render(sb.String())
}
