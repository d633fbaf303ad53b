package display

import (
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// Alignment controls how a column pads its cells
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// Table renders rows as a plain ASCII table that fits the terminal width
type Table struct {
	headers    []string
	rows       [][]string
	alignments map[int]Alignment
	maxWidth   int
	colors     ColorSystem
}

// NewTable creates a table. A maxWidth of 0 means the terminal width.
func NewTable(colors ColorSystem, headers ...string) *Table {
	return &Table{
		headers:    headers,
		alignments: make(map[int]Alignment),
		colors:     colors,
	}
}

// AddRow appends a row; missing cells render empty
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// SetAlignment sets the alignment of one column
func (t *Table) SetAlignment(column int, alignment Alignment) {
	t.alignments[column] = alignment
}

// SetMaxWidth overrides the detected terminal width
func (t *Table) SetMaxWidth(width int) {
	t.maxWidth = width
}

// Render returns the table text
func (t *Table) Render() string {
	widths := t.columnWidths()
	var sb strings.Builder

	border := t.border(widths)
	sb.WriteString(border)
	if len(t.headers) > 0 {
		line := t.renderRow(t.headers, widths)
		if t.colors != nil {
			line = t.colors.Sprint(t.colors.Theme().Primary, line)
		}
		sb.WriteString(line + "\n")
		sb.WriteString(border)
	}
	for _, row := range t.rows {
		sb.WriteString(t.renderRow(row, widths) + "\n")
	}
	sb.WriteString(border)
	return sb.String()
}

// RenderTo writes the table to w
func (t *Table) RenderTo(w io.Writer) {
	io.WriteString(w, t.Render())
}

func (t *Table) columnCount() int {
	n := len(t.headers)
	for _, row := range t.rows {
		if len(row) > n {
			n = len(row)
		}
	}
	return n
}

func (t *Table) columnWidths() []int {
	widths := make([]int, t.columnCount())
	measure := func(row []string) {
		for i, cell := range row {
			if w := utf8.RuneCountInString(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	measure(t.headers)
	for _, row := range t.rows {
		measure(row)
	}

	maxWidth := t.maxWidth
	if maxWidth == 0 {
		maxWidth = terminalWidth()
	}
	// each column costs its width plus "| " and " " padding, plus the final "|"
	total := 1
	for _, w := range widths {
		total += w + 3
	}
	// shrink the widest column until the table fits
	for total > maxWidth {
		widest := 0
		for i, w := range widths {
			if w > widths[widest] {
				widest = i
			}
		}
		if widths[widest] <= 8 {
			break
		}
		widths[widest]--
		total--
	}
	return widths
}

func (t *Table) border(widths []int) string {
	var sb strings.Builder
	sb.WriteString("+")
	for _, w := range widths {
		sb.WriteString(strings.Repeat("-", w+2))
		sb.WriteString("+")
	}
	sb.WriteString("\n")
	return sb.String()
}

func (t *Table) renderRow(row []string, widths []int) string {
	var sb strings.Builder
	sb.WriteString("|")
	for i, w := range widths {
		cell := ""
		if i < len(row) {
			cell = row[i]
		}
		cell = truncate(cell, w)
		pad := strings.Repeat(" ", w-utf8.RuneCountInString(cell))

		sb.WriteString(" ")
		if t.alignments[i] == AlignRight {
			sb.WriteString(pad + cell)
		} else {
			sb.WriteString(cell + pad)
		}
		sb.WriteString(" |")
	}
	return sb.String()
}

func truncate(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	if width <= 3 {
		return string([]rune(s)[:width])
	}
	return string([]rune(s)[:width-3]) + "..."
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 120
	}
	return width
}
