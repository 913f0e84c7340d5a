package reports

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"huddle/api/internal/store"
)

func TestMemberRoster(t *testing.T) {
	joined := time.Date(2025, 11, 3, 9, 30, 0, 0, time.UTC)
	restricted := time.Date(2025, 11, 5, 9, 30, 0, 0, time.UTC)
	firstLogin := time.Date(2025, 11, 3, 11, 30, 0, 0, time.UTC)

	data, err := MemberRoster([]store.Member{
		{
			ID:           "mem_1",
			DisplayName:  "Dana Elbaz",
			Phone:        "+15550001111",
			Role:         "admin",
			IsActive:     true,
			ProjectCount: 3,
			ProjectValue: 125000,
			FirstLoginAt: &firstLogin,
			CreatedAt:    joined,
		},
		{
			ID:              "mem_2",
			DisplayName:     "Omar Haddad",
			Phone:           "+15550002222",
			Role:            "member",
			IsActive:        false,
			RestrictedUntil: &restricted,
			CreatedAt:       joined,
		},
	})
	if err != nil {
		t.Fatalf("MemberRoster: %v", err)
	}

	wb, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer wb.Close()

	checks := []struct {
		cell string
		want string
	}{
		{"A1", "Name"},
		{"E1", "Restricted Until"},
		{"A2", "Dana Elbaz"},
		{"B2", "+15550001111"},
		{"C2", "admin"},
		{"D2", "Yes"},
		{"E2", ""},
		{"F2", "3"},
		{"G2", "125000"},
		{"H2", "2025-11-03 11:30"},
		{"I2", "2025-11-03 09:30"},
		{"A3", "Omar Haddad"},
		{"D3", "No"},
		{"E3", "2025-11-05 09:30"},
		{"H3", ""},
	}
	for _, c := range checks {
		got, err := wb.GetCellValue(rosterSheet, c.cell)
		if err != nil {
			t.Fatalf("read %s: %v", c.cell, err)
		}
		if got != c.want {
			t.Errorf("cell %s = %q, want %q", c.cell, got, c.want)
		}
	}
}

func TestMemberRosterEmpty(t *testing.T) {
	data, err := MemberRoster(nil)
	if err != nil {
		t.Fatalf("MemberRoster: %v", err)
	}

	wb, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer wb.Close()

	got, err := wb.GetCellValue(rosterSheet, "A1")
	if err != nil {
		t.Fatalf("read A1: %v", err)
	}
	if got != "Name" {
		t.Errorf("A1 = %q, want %q", got, "Name")
	}
	if got, _ := wb.GetCellValue(rosterSheet, "A2"); got != "" {
		t.Errorf("A2 = %q, want empty", got)
	}
}

func TestRosterFilename(t *testing.T) {
	now := time.Date(2026, 2, 14, 8, 0, 0, 0, time.UTC)
	if got := RosterFilename(now); got != "members-2026-02-14.xlsx" {
		t.Errorf("RosterFilename = %q", got)
	}
}
