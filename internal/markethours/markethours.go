// Package markethours answers calendar questions about the US equities
// session: which trading day a bar belongs to, and whether a moment falls in
// regular or extended hours. Every computation uses one fixed reference zone.
package markethours

import (
	"fmt"
	"time"
	_ "time/tzdata" // session keys must not depend on host zoneinfo
)

// NY is the reference timezone for session boundaries (America/New_York).
var NY = loadNY()

func loadNY() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		// No tzdata on the host: fall back to EST without DST.
		return time.FixedZone("EST", -5*3600)
	}
	return loc
}

// Session hours in NY.
const (
	OpenHour    = 9
	OpenMinute  = 30
	CloseHour   = 16
	CloseMinute = 0

	PreMarketHour  = 4
	PostMarketHour = 20
)

// SessionKeyOf returns the NY calendar date ("2006-01-02") for an epoch-second
// timestamp. Two bars belong to the same session iff their keys are equal.
func SessionKeyOf(timeSeconds int64) string {
	return time.Unix(timeSeconds, 0).In(NY).Format("2006-01-02")
}

// Detector threads the previous session key between bars so callers can
// detect day rollovers. The zero value is ready to use.
type Detector struct {
	key string
}

// Rollover records t and reports whether it starts a new session relative to
// the previously observed bar. The first observed bar is not a rollover.
func (d *Detector) Rollover(t int64) bool {
	k := SessionKeyOf(t)
	if d.key == "" {
		d.key = k
		return false
	}
	if k == d.key {
		return false
	}
	d.key = k
	return true
}

// Key returns the session key of the last observed bar ("" if none).
func (d *Detector) Key() string { return d.key }

// Reset forgets the previous key.
func (d *Detector) Reset() { d.key = "" }

// IsRegularHours returns true if t falls within regular trading hours
// (9:30 AM – 4:00 PM NY, Mon–Fri, excluding holidays).
func IsRegularHours(t time.Time) bool {
	ny := t.In(NY)
	if !IsTradingDay(ny) {
		return false
	}
	hm := ny.Hour()*60 + ny.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute
}

// IsExtendedHours returns true if t is in the pre-market (4:00–9:30) or
// post-market (16:00–20:00) window of a trading day.
func IsExtendedHours(t time.Time) bool {
	ny := t.In(NY)
	if !IsTradingDay(ny) || IsRegularHours(ny) {
		return false
	}
	h := ny.Hour()
	return h >= PreMarketHour && h < PostMarketHour
}

// IsWeekday returns true if t is Mon–Fri in NY.
func IsWeekday(t time.Time) bool {
	wd := t.In(NY).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not an exchange holiday.
func IsTradingDay(t time.Time) bool {
	ny := t.In(NY)
	return IsWeekday(ny) && !IsHoliday(ny)
}

// NextOpen returns the next regular-session open at or after t.
func NextOpen(t time.Time) time.Time {
	ny := t.In(NY)

	todayOpen := time.Date(ny.Year(), ny.Month(), ny.Day(), OpenHour, OpenMinute, 0, 0, NY)
	if ny.Before(todayOpen) && IsTradingDay(ny) {
		return todayOpen
	}

	d := ny.AddDate(0, 0, 1)
	for i := 0; i < 10; i++ { // weekends + holiday clusters never exceed this
		if IsTradingDay(d) {
			return time.Date(d.Year(), d.Month(), d.Day(), OpenHour, OpenMinute, 0, 0, NY)
		}
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(ny.Year(), ny.Month(), ny.Day()+1, OpenHour, OpenMinute, 0, 0, NY)
}

// TodayClose returns today's regular-session close.
func TodayClose(t time.Time) time.Time {
	ny := t.In(NY)
	return time.Date(ny.Year(), ny.Month(), ny.Day(), CloseHour, CloseMinute, 0, 0, NY)
}

// Phase is the session phase at a moment.
type Phase int

const (
	Closed Phase = iota
	Extended
	Regular
)

func (p Phase) String() string {
	switch p {
	case Regular:
		return "regular"
	case Extended:
		return "extended"
	}
	return "closed"
}

// PhaseAt returns the session phase at t.
func PhaseAt(t time.Time) Phase {
	switch {
	case IsRegularHours(t):
		return Regular
	case IsExtendedHours(t):
		return Extended
	}
	return Closed
}

// StatusString returns a human-readable session status.
func StatusString(t time.Time) string {
	if IsRegularHours(t) {
		return fmt.Sprintf("Market open, closes in %s", fmtDur(TodayClose(t).Sub(t)))
	}
	if IsExtendedHours(t) {
		return "Extended hours"
	}
	next := NextOpen(t)
	ny := next.In(NY)
	return fmt.Sprintf("Market closed, opens %s %s (%s)",
		ny.Weekday().String()[:3], ny.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
