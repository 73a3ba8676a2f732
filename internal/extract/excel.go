package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractExcel renders policy schedules. The first non-blank row of a sheet is
// its header; every later row becomes "Header: value" pairs so a limit or
// deductible stays next to the cover it belongs to. Sheet names are written as
// headings when the workbook has more than one sheet.
func extractExcel(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	var buf strings.Builder
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		rows = nonBlankRows(rows)
		if len(rows) == 0 {
			continue
		}
		if len(sheets) > 1 {
			buf.WriteString(sheet)
			buf.WriteByte('\n')
		}
		if len(rows) == 1 {
			buf.WriteString(strings.Join(trimCells(rows[0]), " | "))
			buf.WriteString("\n\n")
			continue
		}
		header := trimCells(rows[0])
		for _, row := range rows[1:] {
			buf.WriteString(scheduleLine(header, trimCells(row)))
			buf.WriteByte('\n')
		}
		buf.WriteByte('\n')
	}
	return strings.TrimSpace(buf.String()), nil
}

func scheduleLine(header, row []string) string {
	parts := make([]string, 0, len(row))
	for i, v := range row {
		if v == "" {
			continue
		}
		if i < len(header) && header[i] != "" {
			parts = append(parts, header[i]+": "+v)
		} else {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "; ")
}

func trimCells(row []string) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = strings.TrimSpace(c)
	}
	return out
}

func nonBlankRows(rows [][]string) [][]string {
	out := rows[:0]
	for _, row := range rows {
		if strings.TrimSpace(strings.Join(row, "")) != "" {
			out = append(out, row)
		}
	}
	return out
}
