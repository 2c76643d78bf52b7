// Package charts turns placemark weather responses into chart-ready structures:
// past/future temperature, rain and wind charts and an hour-by-day wind heatmap.
// Every function is pure; "today" is always passed in by the caller.
package charts

import "time"

// DateLayout is the zero-padded ISO date format used for labels and day comparisons.
const DateLayout = "2006-01-02"

// SplitIndices partitions the indices of a date sequence relative to a reference date.
type SplitIndices struct {
	Past   []int `json:"past"`
	Future []int `json:"future"`
}

// TodayISO formats t as the UTC calendar date used as the past/future boundary.
func TodayISO(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// SplitPastFuture assigns every index of dates to Past (date < todayISO) or Future.
// Zero-padded ISO dates sort chronologically as strings, so plain comparison is used.
// Original order is kept within each side.
func SplitPastFuture(dates []string, todayISO string) SplitIndices {
	split := SplitIndices{
		Past:   make([]int, 0, len(dates)),
		Future: make([]int, 0, len(dates)),
	}
	for i, d := range dates {
		if d < todayISO {
			split.Past = append(split.Past, i)
		} else {
			split.Future = append(split.Future, i)
		}
	}
	return split
}
