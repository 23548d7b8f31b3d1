package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-relay/internal/weather"
)

var noRetry = BackoffConfig{MaxRetries: 0}

const forecastBody = `{
  "location": {"name": "London", "region": "City of London, Greater London", "country": "United Kingdom",
               "lat": 51.52, "lon": -0.11, "tz_id": "Europe/London", "localtime": "2024-06-01 14:05"},
  "current": {"last_updated": "2024-06-01 14:00", "is_day": 1, "temp_c": 18.0, "temp_f": 64.4,
              "feelslike_c": 17.0, "feelslike_f": 62.6, "humidity": 60, "wind_kph": 12.2, "wind_mph": 7.6,
              "wind_dir": "SW", "pressure_mb": 1015, "precip_mm": 0, "vis_km": 10, "uv": 5,
              "condition": {"text": "Partly cloudy", "icon": "//cdn/116.png", "code": 1003},
              "air_quality": {"co": 230.3, "pm2_5": 8.1, "pm10": 12.5, "us-epa-index": 2}},
  "forecast": {"forecastday": [
    {"date": "2024-06-01", "day": {"maxtemp_c": 20, "mintemp_c": 11, "uv": 6, "condition": {"text": "Sunny"}},
     "astro": {"sunrise": "04:45 AM", "sunset": "09:10 PM", "moonrise": "02:10 AM", "moonset": "05:00 PM",
               "moon_phase": "Waning Crescent", "moon_illumination": "23"},
     "hour": [{"time": "2024-06-01 00:00", "temp_c": 12}, {"time": "2024-06-01 01:00", "temp_c": 11.5}]},
    {"date": "2024-06-02", "day": {"maxtemp_c": 21}, "hour": [{"time": "2024-06-02 00:00"}]},
    {"date": "2024-06-03", "day": {"maxtemp_c": 22}, "hour": [{"time": "2024-06-03 00:00"}]},
    {"date": "2024-06-04", "day": {"maxtemp_c": 23}, "hour": [{"time": "2024-06-04 00:00"}]}
  ]},
  "alerts": {"alert": [{"headline": "Flood warning", "severity": "Moderate", "urgency": "Expected",
                        "desc": "River levels rising", "instruction": "Avoid low ground",
                        "effective": "2024-06-01T10:00:00Z", "expires": "2024-06-02T10:00:00Z"}]}
}`

func newWeatherAPITestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestWeatherAPI_Forecast(t *testing.T) {
	srv, calls := newWeatherAPITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/forecast.json", r.URL.Path)
		q := r.URL.Query()
		require.Equal(t, "secret", q.Get("key"))
		require.Equal(t, "London", q.Get("q"))
		require.Equal(t, "4", q.Get("days"))
		require.Equal(t, "yes", q.Get("aqi"))
		require.Equal(t, "yes", q.Get("alerts"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(forecastBody))
	})

	p := NewWeatherAPIProvider(srv.Client(), "secret", WithWeatherAPIBaseURL(srv.URL), WithWeatherAPIBackoff(noRetry))
	snap, err := p.Forecast(context.Background(), weather.ForecastRequest{Query: "London", Days: 4, Units: weather.UnitsCelsius})
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())

	require.Equal(t, "weatherapi", snap.Provider)
	require.Equal(t, "London", snap.Location.Name)
	require.Equal(t, "Europe/London", snap.Location.TimeZone)
	require.NotNil(t, snap.Current)
	require.NotNil(t, snap.Current.UV)
	require.Equal(t, 5.0, *snap.Current.UV)
	require.NotNil(t, snap.Current.AirQuality)
	require.Equal(t, 2, *snap.Current.AirQuality.EPAIndex)
	require.Nil(t, snap.Current.AirQuality.NO2)

	require.Len(t, snap.Forecast, 4)
	require.Len(t, snap.Forecast[0].Hours, 2)
	require.Len(t, snap.Forecast[2].Hours, 1)
	require.Empty(t, snap.Forecast[3].Hours, "hours are kept for the first three days only")
	require.NotNil(t, snap.Forecast[0].Astro)
	require.Equal(t, 23.0, snap.Forecast[0].Astro.MoonIllumination)
	require.Nil(t, snap.Forecast[1].Astro)

	require.Len(t, snap.Alerts, 1)
	require.Equal(t, "River levels rising", snap.Alerts[0].Description)
}

func TestWeatherAPI_LocationNotFound(t *testing.T) {
	srv, calls := newWeatherAPITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":1006,"message":"No matching location found."}}`))
	})
	p := NewWeatherAPIProvider(srv.Client(), "secret", WithWeatherAPIBaseURL(srv.URL),
		WithWeatherAPIBackoff(BackoffConfig{MaxRetries: 2, InitialInterval: time.Millisecond}))

	_, err := p.Lookup(context.Background(), "Atlantis")
	require.ErrorIs(t, err, weather.ErrLocationNotFound)
	require.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestWeatherAPI_RejectedKey(t *testing.T) {
	srv, _ := newWeatherAPITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":2006,"message":"API key is invalid."}}`))
	})
	p := NewWeatherAPIProvider(srv.Client(), "bad", WithWeatherAPIBaseURL(srv.URL), WithWeatherAPIBackoff(noRetry))

	_, err := p.Forecast(context.Background(), weather.ForecastRequest{Query: "London", Days: 1})
	require.ErrorIs(t, err, weather.ErrMissingCredentials)
}

func TestWeatherAPI_MissingKeyMakesNoCall(t *testing.T) {
	srv, calls := newWeatherAPITestServer(t, func(w http.ResponseWriter, r *http.Request) {})
	p := NewWeatherAPIProvider(srv.Client(), "  ", WithWeatherAPIBaseURL(srv.URL))

	_, err := p.Search(context.Background(), "Lon")
	require.ErrorIs(t, err, weather.ErrMissingCredentials)
	require.Equal(t, int32(0), calls.Load())
}

func TestWeatherAPI_MalformedPayload(t *testing.T) {
	srv, _ := newWeatherAPITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	})
	p := NewWeatherAPIProvider(srv.Client(), "secret", WithWeatherAPIBaseURL(srv.URL), WithWeatherAPIBackoff(noRetry))

	_, err := p.Forecast(context.Background(), weather.ForecastRequest{Query: "London", Days: 1})
	require.ErrorIs(t, err, weather.ErrMalformedPayload)
}

func TestWeatherAPI_ServerErrorIsRetried(t *testing.T) {
	srv, calls := newWeatherAPITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	p := NewWeatherAPIProvider(srv.Client(), "secret", WithWeatherAPIBaseURL(srv.URL),
		WithWeatherAPIBackoff(BackoffConfig{MaxRetries: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}))

	_, err := p.Forecast(context.Background(), weather.ForecastRequest{Query: "London", Days: 1})
	require.ErrorIs(t, err, weather.ErrUpstreamUnavailable)
	require.Equal(t, int32(2), calls.Load())
}

func TestWeatherAPI_RecoversAfterRateLimit(t *testing.T) {
	var seen atomic.Int32
	srv, calls := newWeatherAPITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if seen.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"location":{"name":"Paris","country":"France"}}`))
	})
	p := NewWeatherAPIProvider(srv.Client(), "secret", WithWeatherAPIBaseURL(srv.URL),
		WithWeatherAPIBackoff(BackoffConfig{MaxRetries: 2, InitialInterval: time.Millisecond}))

	info, err := p.Lookup(context.Background(), "Paris")
	require.NoError(t, err)
	require.Equal(t, "Paris", info.Name)
	require.Equal(t, int32(2), calls.Load())
}

func TestWeatherAPI_Search(t *testing.T) {
	srv, _ := newWeatherAPITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search.json", r.URL.Path)
		_, _ = w.Write([]byte(`[{"name":"London","region":"City of London, Greater London","country":"United Kingdom"},
		                       {"name":"London","region":"Ontario","country":"Canada"}]`))
	})
	p := NewWeatherAPIProvider(srv.Client(), "secret", WithWeatherAPIBaseURL(srv.URL), WithWeatherAPIBackoff(noRetry))

	results, err := p.Search(context.Background(), "Lond")
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "London, Ontario, Canada", results[1].Display)
	require.Equal(t, "London", results[1].Value)
}

func TestWeatherAPI_HourlyPicksEndpointByDate(t *testing.T) {
	var path atomic.Value
	srv, _ := newWeatherAPITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		require.NotEmpty(t, r.URL.Query().Get("dt"))
		_, _ = w.Write([]byte(forecastBody))
	})
	today := time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC)
	p := NewWeatherAPIProvider(srv.Client(), "secret", WithWeatherAPIBaseURL(srv.URL),
		WithWeatherAPIBackoff(noRetry), WithWeatherAPIClock(func() time.Time { return today }))

	hf, err := p.Hourly(context.Background(), "London", "2024-06-03")
	require.NoError(t, err)
	require.Equal(t, "/forecast.json", path.Load())
	require.Equal(t, "2024-06-03", hf.Date)
	require.Len(t, hf.Hours, 2)
	require.NotNil(t, hf.DaySummary)
	require.NotNil(t, hf.Astro)

	_, err = p.Hourly(context.Background(), "London", "2024-06-01")
	require.NoError(t, err)
	require.Equal(t, "/history.json", path.Load())

	_, err = p.Hourly(context.Background(), "London", "June 1st")
	require.Error(t, err)
}

func TestWeatherAPI_TransportErrorHidesKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	p := NewWeatherAPIProvider(&http.Client{Timeout: time.Second}, "very-secret", WithWeatherAPIBaseURL(base), WithWeatherAPIBackoff(noRetry))
	_, err := p.Forecast(context.Background(), weather.ForecastRequest{Query: "London", Days: 1})
	require.ErrorIs(t, err, weather.ErrUpstreamUnavailable)
	require.NotContains(t, err.Error(), "very-secret")
}

func TestWeatherAPI_History(t *testing.T) {
	srv, _ := newWeatherAPITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/history.json", r.URL.Path)
		require.Equal(t, "2024-05-31", r.URL.Query().Get("dt"))
		_, _ = w.Write([]byte(forecastBody))
	})
	p := NewWeatherAPIProvider(srv.Client(), "secret", WithWeatherAPIBaseURL(srv.URL), WithWeatherAPIBackoff(noRetry))

	rec, err := p.History(context.Background(), "London", "2024-05-31")
	require.NoError(t, err)
	require.Equal(t, "London", rec.Location.Name)
	require.Equal(t, "2024-06-01", rec.Day.Date)
	require.Equal(t, 20.0, rec.Day.Day.MaxTempC)
	require.Len(t, rec.Day.Hours, 2)
}

func TestWeatherAPI_HistoryWithoutDayIsMalformed(t *testing.T) {
	srv, _ := newWeatherAPITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"location":{"name":"London"},"forecast":{"forecastday":[]}}`))
	})
	p := NewWeatherAPIProvider(srv.Client(), "secret", WithWeatherAPIBaseURL(srv.URL), WithWeatherAPIBackoff(noRetry))

	_, err := p.History(context.Background(), "London", "2024-05-31")
	require.ErrorIs(t, err, weather.ErrMalformedPayload)
}

func TestWeatherAPI_LocateIP(t *testing.T) {
	var got atomic.Value
	srv, _ := newWeatherAPITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ip.json", r.URL.Path)
		got.Store(r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(`{"ip":"81.2.69.160","type":"ipv4","city":"London","region":"City of London, Greater London",
			"country_name":"United Kingdom","lat":51.52,"lon":-0.11,"tz_id":"Europe/London","localtime":"2024-06-01 14:05"}`))
	})
	p := NewWeatherAPIProvider(srv.Client(), "secret", WithWeatherAPIBaseURL(srv.URL), WithWeatherAPIBackoff(noRetry))

	loc, err := p.LocateIP(context.Background(), "81.2.69.160")
	require.NoError(t, err)
	require.Equal(t, "81.2.69.160", got.Load())
	require.Equal(t, "81.2.69.160", loc.IP)
	require.Equal(t, "London", loc.Location.Name)
	require.Equal(t, "United Kingdom", loc.Location.Country)
	require.Equal(t, "Europe/London", loc.Location.TimeZone)

	_, err = p.LocateIP(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "auto:ip", got.Load())
}
