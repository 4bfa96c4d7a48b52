package generic

import "time"

// =============================================================================
// GRANULARITY - How a reporting range is split into buckets
// =============================================================================

// Granularity controls the bucket size of a utilization report.
type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
)

// DefaultGranularity is used when none (or an unknown one) is requested.
const DefaultGranularity = GranularityWeek

// ParseGranularity normalizes input; unknown values fall back to week.
func ParseGranularity(s string) Granularity {
	switch Granularity(s) {
	case GranularityDay, GranularityWeek, GranularityMonth:
		return Granularity(s)
	default:
		return DefaultGranularity
	}
}

// next advances t by one bucket step.
func (g Granularity) next(t time.Time) time.Time {
	switch g {
	case GranularityDay:
		return t.AddDate(0, 0, 1)
	case GranularityMonth:
		return t.AddDate(0, 1, 0)
	default:
		return t.AddDate(0, 0, 7)
	}
}

// DefaultRangeEnd is the end of a report range when the caller gives only a
// start: two weeks for day buckets, three months for month buckets, four
// weeks otherwise.
func (g Granularity) DefaultRangeEnd(start time.Time) time.Time {
	switch g {
	case GranularityDay:
		return start.AddDate(0, 0, 14)
	case GranularityMonth:
		return start.AddDate(0, 3, 0)
	default:
		return start.AddDate(0, 0, 28)
	}
}

// Partition splits w into consecutive buckets anchored at w.Start. The last
// bucket is clamped to w.End. An invalid window yields no buckets.
func (g Granularity) Partition(w Window) []Window {
	if !w.Valid() {
		return nil
	}
	var buckets []Window
	cursor := w.Start
	for cursor.Before(w.End) {
		end := g.next(cursor)
		if end.After(w.End) {
			end = w.End
		}
		buckets = append(buckets, Window{Start: cursor, End: end})
		cursor = end
	}
	return buckets
}
