package charts

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/kjstillabower/placemark-weather/internal/models"
)

// DefaultHeatmapDays is the number of day columns used when the caller asks for zero or fewer.
const DefaultHeatmapDays = 7

const hoursPerDay = 24

// WindHeatmapGrid is a 24-row (hour) by len(Days)-column grid of wind speeds.
// A nil cell means no sample for that hour and day.
type WindHeatmapGrid struct {
	Days  []string     `json:"days"`
	Hours []int        `json:"hours"`
	Grid  [][]*float64 `json:"grid"` // [hour][day]
	Unit  string       `json:"unit"`
}

// Filled returns the number of cells holding a value.
func (g *WindHeatmapGrid) Filled() int {
	if g == nil {
		return 0
	}
	n := 0
	for _, row := range g.Grid {
		for _, cell := range row {
			if cell != nil {
				n++
			}
		}
	}
	return n
}

// BuildWindHeatmap buckets the hourly wind speed of resp into hour rows and day columns
// for the first dayCount calendar days on or after todayISO. dayCount <= 0 means
// DefaultHeatmapDays, not zero days. It returns nil when the hourly feed is missing or
// empty, or when no day qualifies. Malformed samples are skipped, and date parts that are
// not valid YYYY-MM-DD dates never become columns.
func BuildWindHeatmap(resp *models.WeatherResponse, todayISO string, dayCount int) *WindHeatmapGrid {
	if resp == nil || resp.Hourly == nil {
		return nil
	}
	times := resp.Hourly.Time
	speeds := resp.Hourly.WindSpeed
	if len(times) == 0 || len(speeds) == 0 {
		return nil
	}
	if dayCount <= 0 {
		dayCount = DefaultHeatmapDays
	}

	days := candidateDays(times, todayISO, dayCount)
	if len(days) == 0 {
		return nil
	}
	column := make(map[string]int, len(days))
	for i, d := range days {
		column[d] = i
	}

	hours := make([]int, hoursPerDay)
	grid := make([][]*float64, hoursPerDay)
	for h := range grid {
		hours[h] = h
		grid[h] = make([]*float64, len(days))
	}

	n := min(len(times), len(speeds))
	for i := 0; i < n; i++ {
		v := speeds[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		col, ok := column[datePart(times[i])]
		if !ok {
			continue
		}
		hour, ok := hourPart(times[i])
		if !ok {
			continue
		}
		// Last sample for an hour wins; a well-formed feed has one per hour.
		grid[hour][col] = &v
	}

	return &WindHeatmapGrid{
		Days:  days,
		Hours: hours,
		Grid:  grid,
		Unit:  windUnit(resp),
	}
}

// candidateDays returns the distinct valid dates >= todayISO, ascending, capped at limit.
func candidateDays(times []string, todayISO string, limit int) []string {
	seen := make(map[string]struct{})
	for _, t := range times {
		d := datePart(t)
		if d < todayISO {
			continue
		}
		if _, err := time.Parse(DateLayout, d); err != nil {
			continue
		}
		seen[d] = struct{}{}
	}
	days := make([]string, 0, len(seen))
	for d := range seen {
		days = append(days, d)
	}
	sort.Strings(days)
	if len(days) > limit {
		days = days[:limit]
	}
	return days
}

func datePart(ts string) string {
	return substr(ts, 0, 10)
}

// hourPart parses characters 11-12 of an ISO timestamp as an hour in 0..23.
func hourPart(ts string) (int, bool) {
	h, err := strconv.Atoi(substr(ts, 11, 13))
	if err != nil || h < 0 || h >= hoursPerDay {
		return 0, false
	}
	return h, true
}

func substr(s string, from, to int) string {
	if from >= len(s) {
		return ""
	}
	if to > len(s) {
		to = len(s)
	}
	return s[from:to]
}

// windUnit prefers the hourly unit, then the daily max wind unit, else "". A null or
// empty unit counts as missing.
func windUnit(resp *models.WeatherResponse) string {
	if u := resp.HourlyUnits[models.UnitHourlyWindSpeed]; u != "" {
		return u
	}
	return resp.DailyUnits[models.UnitDailyWindSpeed]
}
