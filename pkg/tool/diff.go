package tool

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// UnifiedDiff renders the change from one version of a file to another
// as a unified diff with three lines of context. Approval previews and
// the write_file tool both use it.
func UnifiedDiff(path, from, to string) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(from),
		B:        difflib.SplitLines(to),
		FromFile: path,
		ToFile:   path,
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(diff)
}

// DiffStats counts the added and removed lines in a unified diff,
// skipping the file headers.
func DiffStats(unified string) (added, removed int) {
	for _, line := range strings.Split(unified, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	return added, removed
}

// TruncateDiff caps a diff at maxLines lines for display, appending a
// marker with the number of lines cut.
func TruncateDiff(unified string, maxLines int) string {
	if maxLines <= 0 {
		return unified
	}
	lines := strings.Split(unified, "\n")
	if len(lines) <= maxLines {
		return unified
	}
	kept := lines[:maxLines]
	omitted := len(lines) - maxLines
	return strings.Join(kept, "\n") + fmt.Sprintf("\n... (%d more lines)", omitted)
}
