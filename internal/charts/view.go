package charts

import "github.com/kjstillabower/placemark-weather/internal/models"

// WeatherView is everything the placemark page renders for one weather response.
type WeatherView struct {
	Today       string           `json:"today"`
	Temperature PastFuture       `json:"temperature"`
	Rain        PastFuture       `json:"rain"`
	Wind        PastFuture       `json:"wind"`
	WindHeatmap *WindHeatmapGrid `json:"windHeatmap"`
}

// BuildWeatherView splits the daily series once around todayISO, builds the temperature,
// rain and wind charts from that split, and builds the wind heatmap from the hourly feed.
func BuildWeatherView(resp *models.WeatherResponse, todayISO string, heatmapDays int) WeatherView {
	view := WeatherView{Today: todayISO}
	if resp == nil {
		return view
	}
	if resp.Daily != nil {
		split := SplitPastFuture(resp.Daily.Time, todayISO)
		view.Temperature = BuildTemperatureCharts(resp.Daily, split)
		view.Rain = BuildRainCharts(resp.Daily, split)
		view.Wind = BuildWindCharts(resp.Daily, split, resp.DailyUnits[models.UnitDailyWindSpeed])
	}
	view.WindHeatmap = BuildWindHeatmap(resp, todayISO, heatmapDays)
	return view
}

// Charts returns the six charts of the view keyed by kind and side, e.g. "temperature_past".
func (v WeatherView) Charts() map[string]*ChartData {
	return map[string]*ChartData{
		"temperature_past":   v.Temperature.Past,
		"temperature_future": v.Temperature.Future,
		"rain_past":          v.Rain.Past,
		"rain_future":        v.Rain.Future,
		"wind_past":          v.Wind.Past,
		"wind_future":        v.Wind.Future,
	}
}
