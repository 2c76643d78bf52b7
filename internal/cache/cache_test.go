package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/placemark-weather/internal/models"
)

func testResponse(tz string) *models.WeatherResponse {
	return &models.WeatherResponse{
		Timezone: tz,
		Daily: &models.WeatherDaily{
			Time:           []string{"2024-01-09", "2024-01-10"},
			TemperatureMax: models.Series{8.1, 9.4},
		},
	}
}

// TestInMemoryCache_GetSet verifies that Set stores values and Get retrieves
// them correctly with the expected data.
func TestInMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	val := testResponse("Europe/Dublin")
	if err := c.Set(ctx, "abc:1", val, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "abc:1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got.Timezone != val.Timezone || len(got.Daily.Time) != 2 {
		t.Errorf("Get() = %+v, want %+v", got, val)
	}
}

// TestInMemoryCache_Get_Miss verifies that Get returns ok=false when
// the requested key does not exist in cache.
func TestInMemoryCache_Get_Miss(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	got, ok, err := c.Get(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok || got != nil {
		t.Errorf("Get() = %v, %v, want nil, false for miss", got, ok)
	}
}

// TestInMemoryCache_Get_Expired verifies that Get returns ok=false for expired
// entries and removes them from cache on access.
func TestInMemoryCache_Get_Expired(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if err := c.Set(ctx, "abc:1", testResponse("UTC"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	now = now.Add(time.Minute + time.Second)

	_, ok, err := c.Get(ctx, "abc:1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for expired entry")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, expired entry should be deleted from cache", c.Len())
	}
}

// TestInMemoryCache_Overwrite verifies that a second Set replaces the value and TTL.
func TestInMemoryCache_Overwrite(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	_ = c.Set(ctx, "abc:1", testResponse("UTC"), time.Minute)
	_ = c.Set(ctx, "abc:1", testResponse("Europe/Dublin"), time.Minute)

	got, ok, _ := c.Get(ctx, "abc:1")
	if !ok || got.Timezone != "Europe/Dublin" {
		t.Errorf("Get() = %+v, %v, want overwritten value", got, ok)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

// TestInMemoryCache_Concurrent verifies that concurrent readers and writers are safe
// under the race detector.
func TestInMemoryCache_Concurrent(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("pm%d:1", i%4)
			for j := 0; j < 100; j++ {
				_ = c.Set(ctx, key, testResponse("UTC"), time.Minute)
				_, _, _ = c.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()

	if c.Len() != 4 {
		t.Errorf("Len() = %d, want 4", c.Len())
	}
}

// TestParseAddrs verifies comma-separated memcached address parsing.
func TestParseAddrs(t *testing.T) {
	got := parseAddrs(" mc1:11211, ,mc2:11211,")
	if len(got) != 2 || got[0] != "mc1:11211" || got[1] != "mc2:11211" {
		t.Errorf("parseAddrs() = %v", got)
	}
	if got := parseAddrs(""); len(got) != 0 {
		t.Errorf("parseAddrs(\"\") = %v, want empty", got)
	}
}
