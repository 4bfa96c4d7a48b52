package generic

import (
	"time"
)

// =============================================================================
// WINDOW - Half-open time interval [Start, End)
// =============================================================================

// Window is a half-open interval. It is usable only when End follows Start.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow builds a window or returns ErrInvalidWindow.
func NewWindow(start, end time.Time) (Window, error) {
	w := Window{Start: start, End: end}
	if !w.Valid() {
		return Window{}, ErrInvalidWindow
	}
	return w, nil
}

// Valid reports whether End strictly follows Start.
func (w Window) Valid() bool { return w.End.After(w.Start) }

// Overlaps uses half-open semantics: touching windows do not overlap and a
// zero-length window overlaps nothing.
func (w Window) Overlaps(other Window) bool {
	if !w.Valid() || !other.Valid() {
		return false
	}
	return w.Start.Before(other.End) && w.End.After(other.Start)
}

// Intersect returns the common part of two windows, or false if they do not
// overlap.
func (w Window) Intersect(other Window) (Window, bool) {
	if !w.Overlaps(other) {
		return Window{}, false
	}
	start := w.Start
	if other.Start.After(start) {
		start = other.Start
	}
	end := w.End
	if other.End.Before(end) {
		end = other.End
	}
	return Window{Start: start, End: end}, true
}

// ShiftDays moves the window by n calendar days, keeping its duration.
func (w Window) ShiftDays(n int) Window {
	d := w.Duration()
	start := w.Start.AddDate(0, 0, n)
	return Window{Start: start, End: start.Add(d)}
}

func (w Window) Duration() time.Duration { return w.End.Sub(w.Start) }

// Days is the number of calendar days the window touches.
func (w Window) Days() int { return CountSpannedDays(w.Start, w.End) }

func (w Window) String() string {
	return "[" + w.Start.Format(time.RFC3339) + ", " + w.End.Format(time.RFC3339) + ")"
}

// =============================================================================
// TIME UTILITIES
// =============================================================================

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// StartOfWeek returns the Monday at midnight of t's week.
func StartOfWeek(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return StartOfDay(t).AddDate(0, 0, -offset)
}

// CountSpannedDays counts the distinct calendar days touched by [start, end).
// Returns 0 when end is not after start and at least 1 otherwise. An end at
// exactly midnight does not touch that day.
func CountSpannedDays(start, end time.Time) int {
	if !end.After(start) {
		return 0
	}
	startDay := StartOfDay(start)
	endDay := StartOfDay(end.In(start.Location()))
	days := daysBetween(startDay, endDay)
	if end.In(start.Location()).After(endDay) {
		days++
	}
	if days < 1 {
		return 1
	}
	return days
}

// daysBetween counts calendar days between two midnights, independent of DST.
func daysBetween(from, to time.Time) int {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	f := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	t := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(t.Sub(f).Hours() / 24)
}
