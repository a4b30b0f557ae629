package utils

import (
	"testing"
	"time"
)

func TestMonthEndAlignment(t *testing.T) {
	in := time.Date(2024, time.February, 11, 15, 4, 5, 0, time.UTC)
	got := MonthEnd(in)
	want := time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("MonthEnd = %v, want %v", got, want)
	}

	if next := AddMonths(got, 1); next.Day() != 31 || next.Month() != time.March {
		t.Fatalf("AddMonths crossed into %v", next)
	}
	if prev := AddMonths(got, -1); prev.Day() != 31 || prev.Month() != time.January {
		t.Fatalf("AddMonths(-1) = %v", prev)
	}
}

func TestMonthRangeContiguous(t *testing.T) {
	first := time.Date(2023, time.November, 3, 0, 0, 0, 0, time.UTC)
	last := time.Date(2024, time.February, 20, 0, 0, 0, 0, time.UTC)

	months := MonthRange(first, last)
	if len(months) != 4 {
		t.Fatalf("expected 4 months, got %d", len(months))
	}
	for i := 1; i < len(months); i++ {
		if MonthsBetween(months[i-1], months[i]) != 1 {
			t.Fatalf("gap between %v and %v", months[i-1], months[i])
		}
	}
}

func TestParseDateLayouts(t *testing.T) {
	for _, value := range []string{
		"2024-05-01 13:00:00",
		"2024-05-01",
		"05/01/2024 13:00:00",
	} {
		parsed, err := ParseDate(value)
		if err != nil {
			t.Fatalf("ParseDate(%q): %v", value, err)
		}
		if parsed.Year() != 2024 || parsed.Month() != time.May {
			t.Fatalf("ParseDate(%q) = %v", value, parsed)
		}
	}

	if _, err := ParseDate("not-a-date"); err == nil {
		t.Fatalf("expected error for malformed input")
	}
}
