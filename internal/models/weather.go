package models

import (
	"encoding/json"
	"math"
)

// WeatherResponse is the weather payload returned by the placemark API for a single placemark.
// Shape follows Open-Meteo: parallel daily/hourly arrays plus per-metric unit maps.
type WeatherResponse struct {
	Latitude    float64           `json:"latitude,omitempty"`
	Longitude   float64           `json:"longitude,omitempty"`
	Timezone    string            `json:"timezone,omitempty"`
	Daily       *WeatherDaily     `json:"daily,omitempty"`
	DailyUnits  map[string]string `json:"daily_units,omitempty"`
	Hourly      *WeatherHourly    `json:"hourly,omitempty"`
	HourlyUnits map[string]string `json:"hourly_units,omitempty"`
}

// WeatherDaily is a day-indexed record. Index i of every series refers to Time[i].
type WeatherDaily struct {
	Time                        []string `json:"time"`
	TemperatureMax              Series   `json:"temperature_2m_max,omitempty"`
	TemperatureMin              Series   `json:"temperature_2m_min,omitempty"`
	PrecipitationSum            Series   `json:"precipitation_sum,omitempty"`
	PrecipitationProbabilityMax Series   `json:"precipitation_probability_max,omitempty"`
	WindSpeedMax                Series   `json:"windspeed_10m_max,omitempty"`
	WindGustsMax                Series   `json:"windgusts_10m_max,omitempty"`
	WindDirectionDominant       Series   `json:"winddirection_10m_dominant,omitempty"`
}

// WeatherHourly is an hour-indexed record with timestamps formatted YYYY-MM-DDTHH:MM.
type WeatherHourly struct {
	Time      []string `json:"time"`
	WindSpeed Series   `json:"windspeed_10m,omitempty"`
}

// Unit keys used for display-unit lookups.
const (
	UnitHourlyWindSpeed = "windspeed_10m"
	UnitDailyWindSpeed  = "windspeed_10m_max"
)

// Series is a numeric metric sequence. A nil Series means the upstream omitted the metric.
// JSON null elements decode to NaN and mark an undefined sample; they encode back to null.
type Series []float64

// At returns the sample at i and whether it is defined (in range and not NaN).
func (s Series) At(i int) (float64, bool) {
	if i < 0 || i >= len(s) {
		return 0, false
	}
	v := s[i]
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// UnmarshalJSON decodes a JSON array of numbers or nulls.
func (s *Series) UnmarshalJSON(data []byte) error {
	var raw []*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*s = nil
		return nil
	}
	out := make(Series, len(raw))
	for i, v := range raw {
		if v == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *v
	}
	*s = out
	return nil
}

// MarshalJSON encodes undefined samples (NaN, ±Inf) as null.
func (s Series) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	raw := make([]*float64, len(s))
	for i, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		v := v
		raw[i] = &v
	}
	return json.Marshal(raw)
}
