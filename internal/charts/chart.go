package charts

import (
	"fmt"

	"github.com/kjstillabower/placemark-weather/internal/models"
)

// Dataset names. Temperature and rain units are fixed by the upstream request (metric).
const (
	DatasetMaxTemp  = "Max Temp (°C)"
	DatasetMinTemp  = "Min Temp (°C)"
	DatasetRain     = "Rain (mm)"
	DatasetRainProb = "Rain Probability (%)"

	defaultWindUnit = "km/h"
)

// Dataset is a named series of values aligned with a chart's labels. Undefined
// samples stay in their slot and encode as null.
type Dataset struct {
	Name   string        `json:"name"`
	Values models.Series `json:"values"`
}

// ChartData is a set of non-empty datasets sharing one label sequence.
type ChartData struct {
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
}

// PastFuture holds the historical and forecast view of one chart. Either side is nil
// when no dataset had data for it.
type PastFuture struct {
	Past   *ChartData `json:"past"`
	Future *ChartData `json:"future"`
}

// Extract returns the samples of values at indices, in request order. An absent series
// yields nothing and out-of-range indices are dropped, so the result may be shorter than
// indices. Undefined (null) samples are kept as NaN so later values stay on their dates.
func Extract(values models.Series, indices []int) models.Series {
	out := make(models.Series, 0, len(indices))
	if values == nil {
		return out
	}
	for _, i := range indices {
		if i >= 0 && i < len(values) {
			out = append(out, values[i])
		}
	}
	return out
}

// hasDefined reports whether s holds at least one defined sample.
func hasDefined(s models.Series) bool {
	for i := range s {
		if _, ok := s.At(i); ok {
			return true
		}
	}
	return false
}

// extractLabels picks the dates at indices, skipping out-of-range entries.
func extractLabels(dates []string, indices []int) []string {
	out := make([]string, 0, len(indices))
	for _, i := range indices {
		if i >= 0 && i < len(dates) {
			out = append(out, dates[i])
		}
	}
	return out
}

// BuildChart keeps the datasets that carry at least one defined value, so an all-null
// series is omitted. It returns nil when none qualify; callers treat nil as "no chart to show".
func BuildChart(labels []string, series []Dataset) *ChartData {
	datasets := make([]Dataset, 0, len(series))
	for _, s := range series {
		if hasDefined(s.Values) {
			datasets = append(datasets, s)
		}
	}
	if len(datasets) == 0 {
		return nil
	}
	return &ChartData{Labels: labels, Datasets: datasets}
}

type namedSeries struct {
	name   string
	values models.Series
}

// buildPastFuture builds the past and future chart for the same set of metrics.
func buildPastFuture(dates []string, split SplitIndices, metrics ...namedSeries) PastFuture {
	build := func(indices []int) *ChartData {
		datasets := make([]Dataset, 0, len(metrics))
		for _, m := range metrics {
			datasets = append(datasets, Dataset{Name: m.name, Values: Extract(m.values, indices)})
		}
		return BuildChart(extractLabels(dates, indices), datasets)
	}
	return PastFuture{
		Past:   build(split.Past),
		Future: build(split.Future),
	}
}

// BuildTemperatureCharts builds the max/min temperature charts for both sides of split.
func BuildTemperatureCharts(daily *models.WeatherDaily, split SplitIndices) PastFuture {
	if daily == nil {
		return PastFuture{}
	}
	return buildPastFuture(daily.Time, split,
		namedSeries{DatasetMaxTemp, daily.TemperatureMax},
		namedSeries{DatasetMinTemp, daily.TemperatureMin},
	)
}

// BuildRainCharts builds the precipitation sum/probability charts for both sides of split.
func BuildRainCharts(daily *models.WeatherDaily, split SplitIndices) PastFuture {
	if daily == nil {
		return PastFuture{}
	}
	return buildPastFuture(daily.Time, split,
		namedSeries{DatasetRain, daily.PrecipitationSum},
		namedSeries{DatasetRainProb, daily.PrecipitationProbabilityMax},
	)
}

// BuildWindCharts builds the daily max wind and gust charts. unit labels both
// datasets and defaults to km/h.
func BuildWindCharts(daily *models.WeatherDaily, split SplitIndices, unit string) PastFuture {
	if daily == nil {
		return PastFuture{}
	}
	if unit == "" {
		unit = defaultWindUnit
	}
	return buildPastFuture(daily.Time, split,
		namedSeries{WindDatasetName("Max Wind", unit), daily.WindSpeedMax},
		namedSeries{WindDatasetName("Max Gusts", unit), daily.WindGustsMax},
	)
}

// WindDatasetName formats a wind dataset label with its unit.
func WindDatasetName(label, unit string) string {
	return fmt.Sprintf("%s (%s)", label, unit)
}
