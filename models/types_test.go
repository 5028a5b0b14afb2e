// ABOUTME: Tests for sync data models
// ABOUTME: Validates SheetRow accessors and id/budget parsing
package models

import (
	"testing"
)

func TestSheetRowGetTrims(t *testing.T) {
	row := SheetRow{Index: 2, Values: map[string]string{ColName: "  Ivan "}}

	if got := row.Get(ColName); got != "Ivan" {
		t.Errorf("expected Ivan, got %q", got)
	}
	if got := row.Get(ColEmail); got != "" {
		t.Errorf("expected empty email, got %q", got)
	}
}

func TestSheetRowNilValues(t *testing.T) {
	var row SheetRow
	if row.Get(ColName) != "" || row.DealID() != 0 || row.Budget() != 0 {
		t.Error("expected zero values for empty row")
	}
}

func TestSheetRowIDs(t *testing.T) {
	tests := []struct {
		raw      string
		expected int64
	}{
		{"12345", 12345},
		{" 42 ", 42},
		{"", 0},
		{"abc", 0},
		{"-5", 0},
	}

	for _, tt := range tests {
		row := SheetRow{Values: map[string]string{ColAmoDealID: tt.raw, ColAmoContactID: tt.raw}}
		if got := row.DealID(); got != tt.expected {
			t.Errorf("DealID(%q) = %d, want %d", tt.raw, got, tt.expected)
		}
		if got := row.ContactID(); got != tt.expected {
			t.Errorf("ContactID(%q) = %d, want %d", tt.raw, got, tt.expected)
		}
	}
}

func TestSheetRowBudget(t *testing.T) {
	tests := []struct {
		raw      string
		expected float64
	}{
		{"1000", 1000},
		{"1500.50", 1500.5},
		{"1 500", 0},
		{"", 0},
		{"lots", 0},
	}

	for _, tt := range tests {
		row := SheetRow{Values: map[string]string{ColBudget: tt.raw}}
		if got := row.Budget(); got != tt.expected {
			t.Errorf("Budget(%q) = %v, want %v", tt.raw, got, tt.expected)
		}
	}
}
