package utils

import (
	"testing"
	"time"
)

func TestTradingWindowContains(t *testing.T) {
	w := DefaultTradingWindow()
	at := func(y int, m time.Month, d, hh, mm, ss int) time.Time {
		return time.Date(y, m, d, hh, mm, ss, 0, ChinaLocation)
	}

	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"tuesday open bell", at(2024, 1, 9, 9, 30, 0), true},
		{"tuesday midday", at(2024, 1, 9, 11, 0, 0), true},
		{"tuesday close minute", at(2024, 1, 9, 15, 0, 59), true},
		{"tuesday before open", at(2024, 1, 9, 9, 29, 59), false},
		{"tuesday after close", at(2024, 1, 9, 15, 1, 0), false},
		{"tuesday 16:00", at(2024, 1, 9, 16, 0, 0), false},
		{"saturday 10:00", at(2024, 1, 13, 10, 0, 0), false},
		{"sunday 10:00", at(2024, 1, 14, 10, 0, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.Contains(tt.t); got != tt.want {
				t.Errorf("Contains(%v) = %v, want %v", tt.t, got, tt.want)
			}
		})
	}
}

func TestTradingWindowUsesItsOwnZone(t *testing.T) {
	w := DefaultTradingWindow()
	// 02:00 UTC is 10:00 in Shanghai.
	utc := time.Date(2024, 1, 9, 2, 0, 0, 0, time.UTC)
	if !w.Contains(utc) {
		t.Errorf("expected %v to be inside the Shanghai window", utc)
	}
}

func TestNextOpenSkipsWeekend(t *testing.T) {
	w := DefaultTradingWindow()
	friday := time.Date(2024, 1, 12, 16, 0, 0, 0, ChinaLocation)
	next := w.NextOpen(friday)
	if next.Weekday() != time.Monday || next.Hour() != 9 || next.Minute() != 30 {
		t.Errorf("NextOpen(%v) = %v, want Monday 09:30", friday, next)
	}
}

func TestFormatHelpers(t *testing.T) {
	if got := FormatPercent(6.2); got != "6.20%" {
		t.Errorf("FormatPercent = %q", got)
	}
	if got := FormatThreshold(5); got != "5" {
		t.Errorf("FormatThreshold = %q", got)
	}
	if got := FormatNav(1.23456); got != "1.2346" {
		t.Errorf("FormatNav = %q", got)
	}
	if ParseOptionalFloat("") != nil || ParseOptionalFloat("abc") != nil || ParseOptionalFloat("--") != nil {
		t.Error("ParseOptionalFloat should return nil for blanks and junk")
	}
	if p := ParseOptionalFloat(" 0.49 "); p == nil || *p != 0.49 {
		t.Errorf("ParseOptionalFloat(0.49) = %v", p)
	}
}
