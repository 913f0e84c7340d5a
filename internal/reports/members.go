// Package reports renders downloadable workbooks for moderators.
package reports

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"huddle/api/internal/store"
)

const RosterMimeType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const rosterSheet = "Members"

var rosterHeader = []string{
	"Name",
	"Phone",
	"Role",
	"Active",
	"Restricted Until",
	"Projects",
	"Project Value",
	"First Login",
	"Joined",
}

var rosterWidths = []float64{24, 18, 12, 10, 20, 10, 14, 20, 20}

// MemberRoster renders the member list as an XLSX workbook. Rows keep the
// order they arrive in.
func MemberRoster(members []store.Member) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(rosterSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#EFEFEF"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create header style: %w", err)
	}

	for col, title := range rosterHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("name header cell: %w", err)
		}
		if err := f.SetCellValue(rosterSheet, cell, title); err != nil {
			f.Close()
			return nil, fmt.Errorf("set header %s: %w", cell, err)
		}
		if err := f.SetCellStyle(rosterSheet, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("style header %s: %w", cell, err)
		}
	}
	for i := range rosterHeader {
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("name column: %w", err)
		}
		if err := f.SetColWidth(rosterSheet, name, name, rosterWidths[i]); err != nil {
			f.Close()
			return nil, fmt.Errorf("set column width: %w", err)
		}
	}

	for i, m := range members {
		row := i + 2
		values := []any{
			m.DisplayName,
			m.Phone,
			m.Role,
			yesNo(m.IsActive),
			formatTimePtr(m.RestrictedUntil),
			m.ProjectCount,
			m.ProjectValue,
			formatTimePtr(m.FirstLoginAt),
			m.CreatedAt.Format("2006-01-02 15:04"),
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("name cell: %w", err)
			}
			if err := f.SetCellValue(rosterSheet, cell, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("set cell %s: %w", cell, err)
			}
		}
	}

	// Header row stays visible while scrolling.
	if err := f.SetPanes(rosterSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// RosterFilename returns a dated attachment name for the roster download.
func RosterFilename(now time.Time) string {
	return "members-" + now.Format("2006-01-02") + ".xlsx"
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02 15:04")
}
