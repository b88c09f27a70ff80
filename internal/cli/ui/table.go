package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	// Table styles
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().
			Padding(0, 1)

	evenRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA"))

	oddRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E0E0E0"))
)

// Table represents a table with headers and rows
type Table struct {
	Headers []string
	Rows    [][]string
}

// NewTable creates a new table
func NewTable(headers []string) *Table {
	return &Table{
		Headers: headers,
		Rows:    make([][]string, 0),
	}
}

// AddRow adds a row to the table
func (t *Table) AddRow(row []string) {
	t.Rows = append(t.Rows, row)
}

// Render renders the table as a formatted string
func (t *Table) Render() string {
	if len(t.Headers) == 0 {
		return ""
	}

	colWidths := make([]int, len(t.Headers))
	for i, header := range t.Headers {
		colWidths[i] = len(header)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i < len(colWidths) && len(cell) > colWidths[i] {
				colWidths[i] = len(cell)
			}
		}
	}

	var sb strings.Builder

	for i, header := range t.Headers {
		sb.WriteString(headerStyle.Render(padRight(header, colWidths[i])))
		if i < len(t.Headers)-1 {
			sb.WriteString(" ")
		}
	}
	sb.WriteString("\n")

	for rowIdx, row := range t.Rows {
		rowStyle := evenRowStyle
		if rowIdx%2 == 1 {
			rowStyle = oddRowStyle
		}

		for i, cell := range row {
			if i >= len(colWidths) {
				break
			}
			sb.WriteString(rowStyle.Render(cellStyle.Render(padRight(cell, colWidths[i]))))
			if i < len(row)-1 {
				sb.WriteString(" ")
			}
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// padRight pads a string to the right with spaces
func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// PrintTable is a helper function to quickly print a table
func PrintTable(headers []string, rows [][]string) {
	table := NewTable(headers)
	for _, row := range rows {
		table.AddRow(row)
	}
	fmt.Println(table.Render())
}
