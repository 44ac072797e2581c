package utils

import (
	"time"
)

// ChinaLocation is the timezone for mainland fund markets.
var ChinaLocation *time.Location

func init() {
	var err error
	ChinaLocation, err = time.LoadLocation("Asia/Shanghai")
	if err != nil {
		// Fallback to UTC+8
		ChinaLocation = time.FixedZone("CST", 8*60*60)
	}
}

// MarketStatus describes where a moment falls relative to the trading window.
type MarketStatus string

const (
	MarketOpen       MarketStatus = "OPEN"
	MarketPreOpen    MarketStatus = "PRE_OPEN"
	MarketWeekend    MarketStatus = "WEEKEND"
	MarketAfterHours MarketStatus = "AFTER_HOURS"
)

// TradingWindow is a daily [Start, End] window, in minutes after midnight,
// observed Monday to Friday. Both bounds are inclusive at minute granularity.
type TradingWindow struct {
	Start    int
	End      int
	Location *time.Location
}

// DefaultTradingWindow returns 09:30-15:00 Asia/Shanghai.
func DefaultTradingWindow() TradingWindow {
	return TradingWindow{
		Start:    9*60 + 30,
		End:      15 * 60,
		Location: ChinaLocation,
	}
}

func (w TradingWindow) loc() *time.Location {
	if w.Location == nil {
		return ChinaLocation
	}
	return w.Location
}

// Status returns the market status at t.
func (w TradingWindow) Status(t time.Time) MarketStatus {
	now := t.In(w.loc())

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return MarketWeekend
	}

	timeMinutes := now.Hour()*60 + now.Minute()
	switch {
	case timeMinutes < w.Start:
		return MarketPreOpen
	case timeMinutes > w.End:
		return MarketAfterHours
	default:
		return MarketOpen
	}
}

// Contains reports whether t is inside the trading window.
func (w TradingWindow) Contains(t time.Time) bool {
	return w.Status(t) == MarketOpen
}

// NextOpen returns the next window opening at or after t.
func (w TradingWindow) NextOpen(t time.Time) time.Time {
	now := t.In(w.loc())
	next := time.Date(now.Year(), now.Month(), now.Day(), w.Start/60, w.Start%60, 0, 0, w.loc())

	if now.After(next) {
		next = next.AddDate(0, 0, 1)
	}

	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}

	return next
}
