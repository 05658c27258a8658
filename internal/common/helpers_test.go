package common

import (
	"testing"
	"time"
)

func TestPluralizePoints(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "очков"},
		{1, "очко"},
		{2, "очка"},
		{4, "очка"},
		{5, "очков"},
		{11, "очков"},
		{12, "очков"},
		{21, "очко"},
		{22, "очка"},
		{111, "очков"},
		{-3, "очка"},
	}
	for _, tt := range tests {
		if got := PluralizePoints(tt.n); got != tt.want {
			t.Errorf("PluralizePoints(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestPluralizeDays(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{1, "день"},
		{3, "дня"},
		{7, "дней"},
		{14, "дней"},
		{21, "день"},
		{24, "дня"},
	}
	for _, tt := range tests {
		if got := PluralizeDays(tt.n); got != tt.want {
			t.Errorf("PluralizeDays(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestFormatPointsAmount(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{10, "+10 очков"},
		{1, "+1 очко"},
		{0, "+0 очков"},
		{-3, "-3 очка"},
	}
	for _, tt := range tests {
		if got := FormatPointsAmount(tt.n); got != tt.want {
			t.Errorf("FormatPointsAmount(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestDayWindow(t *testing.T) {
	loc := time.FixedZone("MSK", 3*60*60)
	// 22:30 UTC — уже следующий день по Москве
	at := time.Date(2026, 3, 9, 22, 30, 0, 0, time.UTC)

	start, end := DayWindow(at, loc)
	wantStart := time.Date(2026, 3, 10, 0, 0, 0, 0, loc)
	if !start.Equal(wantStart) {
		t.Errorf("start = %v, want %v", start, wantStart)
	}
	if !end.Equal(wantStart.Add(24*time.Hour - time.Nanosecond)) {
		t.Errorf("end = %v", end)
	}
	if !SameDay(at, wantStart, loc) {
		t.Error("SameDay: expected same local day")
	}
	if SameDay(at, wantStart.Add(-time.Nanosecond), loc) {
		t.Error("SameDay: previous nanosecond is another day")
	}
	if got := FormatDate(at, loc); got != "2026-03-10" {
		t.Errorf("FormatDate = %q", got)
	}
}

func TestLoadLocationFallback(t *testing.T) {
	if loc := LoadLocation("No/Such_Zone"); loc != time.UTC {
		t.Errorf("unknown zone = %v, want UTC", loc)
	}
}
