package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-relay/internal/config"
	"github.com/i474232898/weather-relay/internal/weather"
)

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		Port:              "0",
		WeatherProvider:   "weatherapi",
		WeatherAPIBaseURL: "http://127.0.0.1:1",
		HTTPTimeout:       time.Second,
		Chat: config.ChatConfig{
			Provider:        "azure",
			AzureAPIKey:     "secret-key",
			AzureEndpoint:   "https://example.openai.azure.com",
			AzureAPIVersion: "2024-10-21",
			AzureDeployment: "weather-gpt",
			Timeout:         time.Minute,
		},
	}
}

func TestHealth(t *testing.T) {
	app := newApp(context.Background(), buildComponents(testConfig()))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "weatherapi", body["provider"])
	require.Equal(t, float64(0), body["cacheEntries"])
}

func TestChatConfigReportsPresenceOnly(t *testing.T) {
	app := newApp(context.Background(), buildComponents(testConfig()))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/chat/config", nil), -1)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	require.NotContains(t, buf.String(), "secret-key")

	var body map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &body))
	require.Equal(t, true, body["apiKey"])
	require.Equal(t, true, body["configured"])
	require.Equal(t, "weather-gpt", body["deployment"])
}

func TestNewProvider(t *testing.T) {
	cfg := testConfig()
	require.Equal(t, "weatherapi", newProvider(cfg, http.DefaultClient).Name())

	cfg.WeatherProvider = "openmeteo"
	require.Equal(t, "openmeteo", newProvider(cfg, http.DefaultClient).Name())
}

func TestPrintForecast_MissingKey(t *testing.T) {
	c := buildComponents(testConfig())

	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	var out bytes.Buffer
	cmd.SetOut(&out)

	err := printForecast(cmd, c.weather, "London")
	require.ErrorIs(t, err, weather.ErrMissingCredentials)
	require.Empty(t, out.String())
}

func TestForecastCommandRequiresLocation(t *testing.T) {
	require.Error(t, forecastCmd.Args(forecastCmd, nil))
	require.NoError(t, forecastCmd.Args(forecastCmd, []string{"London"}))
}
