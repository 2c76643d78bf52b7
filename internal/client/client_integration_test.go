//go:build integration
// +build integration

package client

import (
	"context"
	"os"
	"testing"
	"time"
)

func integrationClient(t *testing.T) (*APIClient, string, string) {
	t.Helper()
	baseURL := os.Getenv("PLACEMARK_API_URL")
	token := os.Getenv("PLACEMARK_API_TOKEN")
	placemarkID := os.Getenv("PLACEMARK_ID")
	if baseURL == "" || token == "" || placemarkID == "" {
		t.Skip("PLACEMARK_API_URL, PLACEMARK_API_TOKEN and PLACEMARK_ID required, skipping integration test")
	}
	client, err := NewAPIClient(baseURL, 5*time.Second)
	if err != nil {
		t.Fatalf("NewAPIClient() error = %v", err)
	}
	return client, token, placemarkID
}

func TestAPIClient_GetPlacemark_Integration(t *testing.T) {
	client, token, id := integrationClient(t)

	pm, err := client.GetPlacemark(context.Background(), id, token)
	if err != nil {
		t.Fatalf("GetPlacemark() error = %v", err)
	}
	if pm.Name == "" {
		t.Error("GetPlacemark() returned empty name")
	}
}

func TestAPIClient_GetWeather_Integration(t *testing.T) {
	client, token, id := integrationClient(t)

	resp, err := client.GetWeather(context.Background(), id, token)
	if err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}
	if resp.Daily == nil && resp.Hourly == nil {
		t.Log("placemark has no weather attached")
		return
	}
	if resp.Daily != nil && len(resp.Daily.Time) == 0 {
		t.Error("daily record present with no dates")
	}
}
