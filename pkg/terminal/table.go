package terminal

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"
)

// maxCellWidth caps a single cell so one long title cannot push the
// rest of the row off screen.
const maxCellWidth = 48

// Table prints rows under a dimmed header, columns aligned by display
// width so CJK titles line up with ASCII ones.
func (w *Writer) Table(headers []string, rows [][]string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	widths := columnWidths(headers, rows)

	fmt.Fprintln(w.out, w.dimStyle.Render(formatRow(headers, widths)))
	for _, row := range rows {
		fmt.Fprintln(w.out, formatRow(row, widths))
	}
}

func columnWidths(headers []string, rows [][]string) []int {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			cw := runewidth.StringWidth(cell)
			if cw > maxCellWidth {
				cw = maxCellWidth
			}
			if cw > widths[i] {
				widths[i] = cw
			}
		}
	}
	return widths
}

func formatRow(cells []string, widths []int) string {
	var sb strings.Builder
	for i, cell := range cells {
		if i >= len(widths) {
			break
		}
		if runewidth.StringWidth(cell) > maxCellWidth {
			cell = runewidth.Truncate(cell, maxCellWidth, "…")
		}
		sb.WriteString(cell)
		if i < len(cells)-1 {
			pad := widths[i] - runewidth.StringWidth(cell)
			sb.WriteString(strings.Repeat(" ", pad+2))
		}
	}
	return sb.String()
}
