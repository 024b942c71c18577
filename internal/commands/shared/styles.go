// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shared

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/tombee/mcphost/internal/mcp"
)

// CLI style colors using lipgloss
var (
	// StatusOK styles success indicators
	StatusOK = lipgloss.NewStyle().Foreground(lipgloss.Color("42")) // green

	// StatusWarn styles warning indicators
	StatusWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange

	// StatusError styles error indicators
	StatusError = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red

	// StatusInfo styles informational text
	StatusInfo = lipgloss.NewStyle().Foreground(lipgloss.Color("39")) // blue

	// Muted styles secondary text
	Muted = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray

	// Bold styles emphasized text
	Bold = lipgloss.NewStyle().Bold(true)

	// Header styles section headers
	Header = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
)

// Symbols for status indicators
const (
	SymbolOK    = "✓"
	SymbolWarn  = "⚠"
	SymbolError = "✗"
)

// RenderOK renders a success message with green checkmark
func RenderOK(msg string) string {
	return StatusOK.Render(SymbolOK) + " " + msg
}

// RenderWarn renders a warning message with orange symbol
func RenderWarn(msg string) string {
	return StatusWarn.Render(SymbolWarn) + " " + msg
}

// RenderError renders an error message with red X
func RenderError(msg string) string {
	return StatusError.Render(SymbolError) + " " + msg
}

// RenderLabel renders a dim label (for key: value pairs)
func RenderLabel(label string) string {
	return Muted.Render(label)
}

// RenderConnectionStatus colors a connection status.
func RenderConnectionStatus(st mcp.ConnectionStatus) string {
	switch st {
	case mcp.StatusConnected:
		return StatusOK.Render(string(st))
	case mcp.StatusConnecting:
		return StatusInfo.Render(string(st))
	case mcp.StatusError:
		return StatusError.Render(string(st))
	default:
		return Muted.Render(string(st))
	}
}

// Truncate shortens s to n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// Table writes fixed-width rows under a header and a rule.
type Table struct {
	widths []int
	rows   [][]string
}

// NewTable creates a table with column widths. The last column is not
// padded.
func NewTable(widths ...int) *Table {
	return &Table{widths: widths}
}

// Row appends a row.
func (t *Table) Row(cells ...string) {
	t.rows = append(t.rows, cells)
}

// String renders the table. The first row is the header.
func (t *Table) String() string {
	var sb strings.Builder
	total := 0
	for _, w := range t.widths {
		total += w + 1
	}
	for i, row := range t.rows {
		for j, cell := range row {
			if j < len(t.widths) && j < len(row)-1 {
				fmt.Fprintf(&sb, "%-*s ", t.widths[j], Truncate(cell, t.widths[j]))
			} else {
				sb.WriteString(cell)
			}
		}
		sb.WriteString("\n")
		if i == 0 {
			sb.WriteString(strings.Repeat("-", total))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
