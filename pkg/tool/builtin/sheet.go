package builtin

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/stagehand-dev/stagehand/pkg/tool"
)

const defaultSheetRows = 50

// ReadSheet reads rows out of an .xlsx workbook in the workspace.
type ReadSheet struct {
	workDirAware
}

// NewReadSheet builds the read_sheet tool.
func NewReadSheet() *ReadSheet {
	return &ReadSheet{}
}

func (t *ReadSheet) Name() string { return "read_sheet" }

func (t *ReadSheet) Description() string {
	return "Read rows from an .xlsx spreadsheet as tab-separated text. Args: path (string, required), sheet (string, optional, defaults to the first sheet), limit (row count, optional, defaults to 50)."
}

func (t *ReadSheet) Execute(args map[string]any) tool.Result {
	path, ok := stringArg(args, "path")
	if !ok {
		return tool.Errorf("read_sheet: path argument is required")
	}
	full, err := t.resolvePath(path)
	if err != nil {
		return tool.Errorf("read_sheet: %v", err)
	}
	if strings.EqualFold(filepath.Ext(full), ".xls") {
		return tool.Errorf("read_sheet: legacy .xls workbooks are not supported, convert %s to .xlsx", path)
	}

	f, err := excelize.OpenFile(full)
	if err != nil {
		return tool.Errorf("read_sheet: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return tool.Errorf("read_sheet: %s has no sheets", path)
	}
	sheet, _ := stringArg(args, "sheet")
	if sheet == "" {
		sheet = sheets[0]
	} else if !slices.Contains(sheets, sheet) {
		return tool.Errorf("read_sheet: no sheet %q in %s (sheets: %s)", sheet, path, strings.Join(sheets, ", "))
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return tool.Errorf("read_sheet: %v", err)
	}
	if len(rows) == 0 {
		return tool.Ok(fmt.Sprintf("Sheet %s of %s is empty", sheet, path))
	}

	limit := parseInt(args["limit"], defaultSheetRows)
	if limit <= 0 {
		limit = defaultSheetRows
	}
	shown := rows
	if len(shown) > limit {
		shown = shown[:limit]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Sheet %s (%d rows)\n", sheet, len(rows))
	for _, row := range shown {
		b.WriteString(strings.Join(row, "\t") + "\n")
	}
	if len(rows) > limit {
		fmt.Fprintf(&b, "... (%d more rows)\n", len(rows)-limit)
	}
	return tool.Ok(strings.TrimRight(b.String(), "\n"))
}
