package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-relay/internal/weather"
)

const (
	openMeteoForecastURL  = "https://api.open-meteo.com/v1/forecast"
	openMeteoGeocodingURL = "https://geocoding-api.open-meteo.com/v1/search"

	openMeteoMaxDays = 16
)

// OpenMeteoProvider implements the weather.Provider interface for Open-Meteo.
// It needs no API key; names are resolved through the geocoding API first.
type OpenMeteoProvider struct {
	name         string
	forecastURL  string
	geocodingURL string
	httpCfg      HTTPClientConfig
	circuit      *gobreaker.CircuitBreaker
}

// OpenMeteoOption customizes an OpenMeteoProvider.
type OpenMeteoOption func(*OpenMeteoProvider)

// WithOpenMeteoURLs overrides the forecast and geocoding endpoints.
func WithOpenMeteoURLs(forecastURL, geocodingURL string) OpenMeteoOption {
	return func(p *OpenMeteoProvider) {
		if forecastURL != "" {
			p.forecastURL = forecastURL
		}
		if geocodingURL != "" {
			p.geocodingURL = geocodingURL
		}
	}
}

// WithOpenMeteoBackoff overrides the retry policy.
func WithOpenMeteoBackoff(b BackoffConfig) OpenMeteoOption {
	return func(p *OpenMeteoProvider) {
		p.httpCfg.Backoff = b
	}
}

func NewOpenMeteoProvider(client *http.Client, opts ...OpenMeteoOption) *OpenMeteoProvider {
	p := &OpenMeteoProvider{
		name:         "openmeteo",
		forecastURL:  openMeteoForecastURL,
		geocodingURL: openMeteoGeocodingURL,
		httpCfg: HTTPClientConfig{
			Client:  client,
			Backoff: DefaultBackoff,
		},
		circuit: newCircuitBreaker("openmeteo"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

func (p *OpenMeteoProvider) Forecast(ctx context.Context, req weather.ForecastRequest) (weather.WeatherSnapshot, error) {
	loc, err := p.Lookup(ctx, req.Query)
	if err != nil {
		return weather.WeatherSnapshot{}, err
	}

	days := req.Days
	if days <= 0 {
		days = 1
	}
	if days > openMeteoMaxDays {
		days = openMeteoMaxDays
	}

	values := p.coordinates(loc)
	values.Set("forecast_days", strconv.Itoa(days))
	values.Set("current", "temperature_2m,apparent_temperature,relative_humidity_2m,is_day,precipitation,weather_code,pressure_msl,wind_speed_10m,wind_direction_10m,uv_index,visibility")
	values.Set("daily", "weather_code,temperature_2m_max,temperature_2m_min,precipitation_sum,precipitation_probability_max,wind_speed_10m_max,uv_index_max,sunrise,sunset,snowfall_sum")
	values.Set("hourly", "temperature_2m,apparent_temperature,relative_humidity_2m,precipitation_probability,weather_code,wind_speed_10m,uv_index,is_day")

	var payload omForecastResponse
	if err := p.get(ctx, p.forecastURL, values, &payload); err != nil {
		return weather.WeatherSnapshot{}, err
	}

	loc.LocalTime = payload.Current.Time
	snap := weather.WeatherSnapshot{
		Provider:  p.name,
		FetchedAt: time.Now().UTC(),
		Location:  loc,
		Current:   payload.Current.toCurrent(),
		Forecast:  payload.days(weatherAPIHourlyDays),
	}
	return snap, nil
}

// Lookup resolves a name through the geocoding API; "lat,lon" queries are
// accepted as-is.
func (p *OpenMeteoProvider) Lookup(ctx context.Context, query weather.LocationQuery) (weather.LocationInfo, error) {
	if lat, lon, ok := parseCoordinates(string(query)); ok {
		return weather.LocationInfo{
			Name: fmt.Sprintf("%.4f,%.4f", lat, lon),
			Lat:  lat,
			Lon:  lon,
		}, nil
	}

	results, err := p.geocode(ctx, string(query), 1)
	if err != nil {
		return weather.LocationInfo{}, err
	}
	if len(results) == 0 {
		return weather.LocationInfo{}, fmt.Errorf("%w: %q", weather.ErrLocationNotFound, query)
	}
	return results[0].LocationInfo, nil
}

func (p *OpenMeteoProvider) Search(ctx context.Context, prefix string) ([]weather.SearchResult, error) {
	results, err := p.geocode(ctx, prefix, 10)
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (p *OpenMeteoProvider) Hourly(ctx context.Context, query weather.LocationQuery, date string) (weather.HourlyForecast, error) {
	loc, day, err := p.day(ctx, query, date)
	if err != nil {
		return weather.HourlyForecast{}, err
	}

	hf := weather.HourlyForecast{
		Location: loc,
		Date:     date,
		Hours:    []weather.HourPoint{},
	}
	if day != nil {
		hf.Hours = day.Hours
		hf.DaySummary = &day.Day
		hf.Astro = day.Astro
	}
	return hf, nil
}

// History reads a past day from the forecast endpoint, which serves recent past dates too.
func (p *OpenMeteoProvider) History(ctx context.Context, query weather.LocationQuery, date string) (weather.DayRecord, error) {
	loc, day, err := p.day(ctx, query, date)
	if err != nil {
		return weather.DayRecord{}, err
	}
	if day == nil {
		return weather.DayRecord{}, fmt.Errorf("%w: openmeteo history for %s carried no day", weather.ErrMalformedPayload, date)
	}
	return weather.DayRecord{Location: loc, Day: *day}, nil
}

func (p *OpenMeteoProvider) LocateIP(context.Context, string) (weather.IPLocation, error) {
	return weather.IPLocation{}, fmt.Errorf("%w: openmeteo has no ip geolocation", weather.ErrNotSupported)
}

// day fetches the daily and hourly columns of a single date.
func (p *OpenMeteoProvider) day(ctx context.Context, query weather.LocationQuery, date string) (weather.LocationInfo, *weather.ForecastDay, error) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return weather.LocationInfo{}, nil, fmt.Errorf("invalid date %q: %w", date, err)
	}

	loc, err := p.Lookup(ctx, query)
	if err != nil {
		return weather.LocationInfo{}, nil, err
	}

	values := p.coordinates(loc)
	values.Set("start_date", date)
	values.Set("end_date", date)
	values.Set("daily", "weather_code,temperature_2m_max,temperature_2m_min,precipitation_sum,precipitation_probability_max,wind_speed_10m_max,uv_index_max,sunrise,sunset,snowfall_sum")
	values.Set("hourly", "temperature_2m,apparent_temperature,relative_humidity_2m,precipitation_probability,weather_code,wind_speed_10m,uv_index,is_day")

	var payload omForecastResponse
	if err := p.get(ctx, p.forecastURL, values, &payload); err != nil {
		return weather.LocationInfo{}, nil, err
	}
	if days := payload.days(1); len(days) > 0 {
		return loc, &days[0], nil
	}
	return loc, nil, nil
}

func (p *OpenMeteoProvider) coordinates(loc weather.LocationInfo) url.Values {
	values := url.Values{}
	values.Set("latitude", strconv.FormatFloat(loc.Lat, 'f', 4, 64))
	values.Set("longitude", strconv.FormatFloat(loc.Lon, 'f', 4, 64))
	values.Set("timezone", "auto")
	return values
}

func (p *OpenMeteoProvider) geocode(ctx context.Context, name string, count int) ([]weather.SearchResult, error) {
	var payload struct {
		Results []struct {
			Name     string  `json:"name"`
			Admin1   string  `json:"admin1"`
			Country  string  `json:"country"`
			Lat      float64 `json:"latitude"`
			Lon      float64 `json:"longitude"`
			Timezone string  `json:"timezone"`
		} `json:"results"`
	}
	values := url.Values{
		"name":     {strings.TrimSpace(name)},
		"count":    {strconv.Itoa(count)},
		"language": {"en"},
		"format":   {"json"},
	}
	if err := p.get(ctx, p.geocodingURL, values, &payload); err != nil {
		return nil, err
	}

	out := make([]weather.SearchResult, 0, len(payload.Results))
	for _, r := range payload.Results {
		info := weather.LocationInfo{
			Name:     r.Name,
			Region:   r.Admin1,
			Country:  r.Country,
			Lat:      r.Lat,
			Lon:      r.Lon,
			TimeZone: r.Timezone,
		}
		out = append(out, weather.SearchResult{
			LocationInfo: info,
			Display:      info.DisplayName(),
			Value:        info.Name,
		})
	}
	return out, nil
}

func (p *OpenMeteoProvider) get(ctx context.Context, base string, values url.Values, out any) error {
	buildRequest := func(ctx context.Context) (*http.Request, error) {
		u := fmt.Sprintf("%s?%s", base, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	body, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			// Open-Meteo answers 400 with {"error":true,"reason":...} for bad coordinates or dates.
			if se.StatusCode == http.StatusBadRequest {
				return fmt.Errorf("%w: openmeteo: %s", weather.ErrLocationNotFound, truncate(string(se.Body), 256))
			}
			return fmt.Errorf("%w: openmeteo status %d", weather.ErrUpstreamUnavailable, se.StatusCode)
		}
		return err
	}
	return decodeJSON(p.name, body, out)
}

// parseCoordinates accepts "lat,lon" with both values in range.
func parseCoordinates(s string) (float64, float64, bool) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, false
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lon, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, 0, false
	}
	return lat, lon, true
}

type omCurrent struct {
	Time          string   `json:"time"`
	Temperature   float64  `json:"temperature_2m"`
	Apparent      float64  `json:"apparent_temperature"`
	Humidity      float64  `json:"relative_humidity_2m"`
	IsDay         int      `json:"is_day"`
	Precipitation float64  `json:"precipitation"`
	WeatherCode   int      `json:"weather_code"`
	PressureMSL   float64  `json:"pressure_msl"`
	WindSpeed     float64  `json:"wind_speed_10m"`
	WindDirection float64  `json:"wind_direction_10m"`
	UVIndex       *float64 `json:"uv_index"`
	Visibility    float64  `json:"visibility"`
}

func (c omCurrent) toCurrent() *weather.Current {
	if c.Time == "" {
		return nil
	}
	return &weather.Current{
		LastUpdated: c.Time,
		IsDay:       c.IsDay == 1,
		TempC:       c.Temperature,
		TempF:       celsiusToFahrenheit(c.Temperature),
		FeelsLikeC:  c.Apparent,
		FeelsLikeF:  celsiusToFahrenheit(c.Apparent),
		Humidity:    c.Humidity,
		WindKph:     c.WindSpeed,
		WindMph:     kphToMph(c.WindSpeed),
		WindDir:     compassDirection(c.WindDirection),
		PressureMb:  c.PressureMSL,
		PrecipMm:    c.Precipitation,
		VisKm:       c.Visibility / 1000,
		UV:          c.UVIndex,
		Condition:   mapOpenMeteoCondition(c.WeatherCode),
	}
}

type omDaily struct {
	Time        []string   `json:"time"`
	WeatherCode []int      `json:"weather_code"`
	TempMax     []float64  `json:"temperature_2m_max"`
	TempMin     []float64  `json:"temperature_2m_min"`
	PrecipSum   []float64  `json:"precipitation_sum"`
	PrecipProb  []*float64 `json:"precipitation_probability_max"`
	WindMax     []float64  `json:"wind_speed_10m_max"`
	UVMax       []*float64 `json:"uv_index_max"`
	Sunrise     []string   `json:"sunrise"`
	Sunset      []string   `json:"sunset"`
	SnowfallSum []float64  `json:"snowfall_sum"`
}

type omHourly struct {
	Time        []string   `json:"time"`
	Temperature []float64  `json:"temperature_2m"`
	Apparent    []float64  `json:"apparent_temperature"`
	Humidity    []float64  `json:"relative_humidity_2m"`
	PrecipProb  []*float64 `json:"precipitation_probability"`
	WeatherCode []int      `json:"weather_code"`
	WindSpeed   []float64  `json:"wind_speed_10m"`
	UVIndex     []*float64 `json:"uv_index"`
}

type omForecastResponse struct {
	Current omCurrent `json:"current"`
	Daily   omDaily   `json:"daily"`
	Hourly  omHourly  `json:"hourly"`
}

// days converts the column-oriented daily and hourly arrays into forecast days.
// Hours are attached to the first withHours days.
func (r omForecastResponse) days(withHours int) []weather.ForecastDay {
	d := r.Daily
	out := make([]weather.ForecastDay, 0, len(d.Time))
	for i, date := range d.Time {
		maxC, minC := at(d.TempMax, i), at(d.TempMin, i)
		day := weather.ForecastDay{
			Date: date,
			Day: weather.DaySummary{
				MaxTempC:      maxC,
				MaxTempF:      celsiusToFahrenheit(maxC),
				MinTempC:      minC,
				MinTempF:      celsiusToFahrenheit(minC),
				AvgTempC:      (maxC + minC) / 2,
				MaxWindKph:    at(d.WindMax, i),
				TotalPrecipMm: at(d.PrecipSum, i),
				ChanceOfRain:  int(derefAt(d.PrecipProb, i)),
				UV:            ptrAt(d.UVMax, i),
				Condition:     mapOpenMeteoCondition(intAt(d.WeatherCode, i)),
			},
		}
		if at(d.SnowfallSum, i) > 0 {
			day.Day.ChanceOfSnow = day.Day.ChanceOfRain
		}
		if i < len(d.Sunrise) && i < len(d.Sunset) {
			day.Astro = &weather.Astro{
				Sunrise: clockTime(d.Sunrise[i]),
				Sunset:  clockTime(d.Sunset[i]),
			}
		}
		if i < withHours {
			day.Hours = r.hoursFor(date)
			day.Day.AvgHumidity = avgHumidity(day.Hours)
		}
		out = append(out, day)
	}
	return out
}

func (r omForecastResponse) hoursFor(date string) []weather.HourPoint {
	h := r.Hourly
	var out []weather.HourPoint
	for i, ts := range h.Time {
		if !strings.HasPrefix(ts, date) {
			continue
		}
		temp := at(h.Temperature, i)
		out = append(out, weather.HourPoint{
			Time:         strings.Replace(ts, "T", " ", 1),
			TempC:        temp,
			TempF:        celsiusToFahrenheit(temp),
			FeelsLikeC:   at(h.Apparent, i),
			WindKph:      at(h.WindSpeed, i),
			Humidity:     at(h.Humidity, i),
			ChanceOfRain: int(derefAt(h.PrecipProb, i)),
			UV:           ptrAt(h.UVIndex, i),
			Condition:    mapOpenMeteoCondition(intAt(h.WeatherCode, i)),
		})
	}
	return out
}

func avgHumidity(hours []weather.HourPoint) float64 {
	if len(hours) == 0 {
		return 0
	}
	var sum float64
	for _, h := range hours {
		sum += h.Humidity
	}
	return sum / float64(len(hours))
}

func at(s []float64, i int) float64 {
	if i < len(s) {
		return s[i]
	}
	return 0
}

func intAt(s []int, i int) int {
	if i < len(s) {
		return s[i]
	}
	return 0
}

func ptrAt(s []*float64, i int) *float64 {
	if i < len(s) {
		return s[i]
	}
	return nil
}

func derefAt(s []*float64, i int) float64 {
	if v := ptrAt(s, i); v != nil {
		return *v
	}
	return 0
}

// clockTime turns "2024-06-01T05:47" into "05:47 AM".
func clockTime(iso string) string {
	t, err := time.Parse("2006-01-02T15:04", iso)
	if err != nil {
		return iso
	}
	return t.Format("03:04 PM")
}

func kphToMph(kph float64) float64 {
	return float64(int(kph/1.609344*10+0.5)) / 10
}

func compassDirection(deg float64) string {
	dirs := []string{"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE", "S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW"}
	idx := int((deg+11.25)/22.5) % len(dirs)
	if idx < 0 {
		idx += len(dirs)
	}
	return dirs[idx]
}

func mapOpenMeteoCondition(code int) weather.Condition {
	// Mapping based on Open-Meteo WMO weather codes (simplified).
	var text string
	switch {
	case code == 0:
		text = "Clear"
	case code >= 1 && code <= 2:
		text = "Partly cloudy"
	case code == 3:
		text = "Overcast"
	case code == 45 || code == 48:
		text = "Fog"
	case code >= 51 && code <= 57:
		text = "Drizzle"
	case (code >= 61 && code <= 67) || (code >= 80 && code <= 82):
		text = "Rain"
	case (code >= 71 && code <= 77) || code == 85 || code == 86:
		text = "Snow"
	case code >= 95:
		text = "Thunderstorm"
	default:
		text = "Unknown"
	}
	return weather.Condition{Text: text, Code: code}
}
