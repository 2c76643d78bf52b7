// Package testhelpers provides a fake placemark API and weather fixtures for tests
// that exercise the full client, service and handler stack.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/kjstillabower/placemark-weather/internal/models"
)

// PlacemarkAPI is an httptest server that serves placemarks and their weather.
// Requests without the expected bearer token get 401; unknown ids get 404.
type PlacemarkAPI struct {
	Server *httptest.Server
	Token  string

	mu         sync.Mutex
	placemarks map[string]*models.Placemark
	weather    map[string]json.RawMessage
	status     int

	weatherCalls int32
}

// NewPlacemarkAPI starts a fake placemark API that accepts token and closes it on test cleanup.
func NewPlacemarkAPI(t testing.TB, token string) *PlacemarkAPI {
	t.Helper()
	api := &PlacemarkAPI{
		Token:      token,
		placemarks: make(map[string]*models.Placemark),
		weather:    make(map[string]json.RawMessage),
	}
	router := mux.NewRouter()
	router.HandleFunc("/api/placemarks/{id}", api.getPlacemark).Methods(http.MethodGet)
	router.HandleFunc("/api/placemarks/{id}/weather", api.getWeather).Methods(http.MethodGet)
	api.Server = httptest.NewServer(router)
	t.Cleanup(api.Server.Close)
	return api
}

// URL returns the base URL of the fake API.
func (a *PlacemarkAPI) URL() string {
	return a.Server.URL
}

// AddPlacemark registers pm with the given weather. A nil resp is served as JSON null.
func (a *PlacemarkAPI) AddPlacemark(pm models.Placemark, resp *models.WeatherResponse) {
	raw, err := json.Marshal(resp)
	if err != nil {
		panic(err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.placemarks[pm.ID] = &pm
	a.weather[pm.ID] = raw
}

// SetWeatherJSON replaces the weather body for id with raw JSON.
func (a *PlacemarkAPI) SetWeatherJSON(id, body string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.weather[id] = json.RawMessage(body)
}

// FailWith makes every request return status until called again with 0.
func (a *PlacemarkAPI) FailWith(status int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = status
}

// WeatherCalls returns how many weather requests reached the server.
func (a *PlacemarkAPI) WeatherCalls() int {
	return int(atomic.LoadInt32(&a.weatherCalls))
}

func (a *PlacemarkAPI) getPlacemark(w http.ResponseWriter, r *http.Request) {
	if !a.precheck(w, r) {
		return
	}
	a.mu.Lock()
	pm, ok := a.placemarks[mux.Vars(r)["id"]]
	a.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(pm)
}

func (a *PlacemarkAPI) getWeather(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&a.weatherCalls, 1)
	if !a.precheck(w, r) {
		return
	}
	a.mu.Lock()
	body, ok := a.weather[mux.Vars(r)["id"]]
	a.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (a *PlacemarkAPI) precheck(w http.ResponseWriter, r *http.Request) bool {
	a.mu.Lock()
	status := a.status
	a.mu.Unlock()
	if status != 0 {
		w.WriteHeader(status)
		return false
	}
	if strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ") != a.Token {
		w.WriteHeader(http.StatusUnauthorized)
		return false
	}
	return true
}

// WeatherFixture builds an Open-Meteo style response with pastDays days before today and
// futureDays days from today onward, plus hourly wind for every hour of the future days.
// Hourly wind at day d, hour h is d*100+h so cells are easy to identify.
func WeatherFixture(today time.Time, pastDays, futureDays int) *models.WeatherResponse {
	resp := &models.WeatherResponse{
		Latitude:    52.14,
		Longitude:   -10.27,
		Timezone:    "Europe/Dublin",
		Daily:       &models.WeatherDaily{},
		DailyUnits:  map[string]string{models.UnitDailyWindSpeed: "km/h"},
		Hourly:      &models.WeatherHourly{},
		HourlyUnits: map[string]string{models.UnitHourlyWindSpeed: "km/h"},
	}
	start := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -pastDays)
	for d := 0; d < pastDays+futureDays; d++ {
		day := start.AddDate(0, 0, d)
		f := float64(d)
		resp.Daily.Time = append(resp.Daily.Time, day.Format("2006-01-02"))
		resp.Daily.TemperatureMax = append(resp.Daily.TemperatureMax, 10+f)
		resp.Daily.TemperatureMin = append(resp.Daily.TemperatureMin, 2+f)
		resp.Daily.PrecipitationSum = append(resp.Daily.PrecipitationSum, f/2)
		resp.Daily.PrecipitationProbabilityMax = append(resp.Daily.PrecipitationProbabilityMax, 10*f)
		resp.Daily.WindSpeedMax = append(resp.Daily.WindSpeedMax, 20+f)
		resp.Daily.WindGustsMax = append(resp.Daily.WindGustsMax, 35+f)
		if d < pastDays {
			continue
		}
		for h := 0; h < 24; h++ {
			resp.Hourly.Time = append(resp.Hourly.Time, day.Add(time.Duration(h)*time.Hour).Format("2006-01-02T15:04"))
			resp.Hourly.WindSpeed = append(resp.Hourly.WindSpeed, float64((d-pastDays)*100+h))
		}
	}
	return resp
}
