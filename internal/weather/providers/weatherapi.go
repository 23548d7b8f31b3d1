package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-relay/internal/common"
	"github.com/i474232898/weather-relay/internal/weather"
)

const (
	weatherAPIBaseURL = "https://api.weatherapi.com/v1"

	// hourly points are kept only for the first days of a forecast.
	weatherAPIHourlyDays = 3

	weatherAPICodeNoLocation = 1006
)

// WeatherAPIProvider implements the weather.Provider interface for WeatherAPI.com.
type WeatherAPIProvider struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	now     func() time.Time
}

// WeatherAPIOption customizes a WeatherAPIProvider.
type WeatherAPIOption func(*WeatherAPIProvider)

// WithWeatherAPIBaseURL points the provider at another host (tests, proxies).
func WithWeatherAPIBaseURL(u string) WeatherAPIOption {
	return func(p *WeatherAPIProvider) {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			p.baseURL = u
		}
	}
}

// WithWeatherAPIBackoff overrides the retry policy.
func WithWeatherAPIBackoff(b BackoffConfig) WeatherAPIOption {
	return func(p *WeatherAPIProvider) {
		p.httpCfg.Backoff = b
	}
}

// WithWeatherAPIClock overrides "today" for the hourly endpoint choice.
func WithWeatherAPIClock(now func() time.Time) WeatherAPIOption {
	return func(p *WeatherAPIProvider) {
		if now != nil {
			p.now = now
		}
	}
}

func NewWeatherAPIProvider(client *http.Client, apiKey string, opts ...WeatherAPIOption) *WeatherAPIProvider {
	p := &WeatherAPIProvider{
		name:    "weatherapi",
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: weatherAPIBaseURL,
		httpCfg: HTTPClientConfig{
			Client:  client,
			Backoff: DefaultBackoff,
		},
		circuit: newCircuitBreaker("weatherapi"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *WeatherAPIProvider) Name() string {
	return p.name
}

func (p *WeatherAPIProvider) Forecast(ctx context.Context, req weather.ForecastRequest) (weather.WeatherSnapshot, error) {
	days := req.Days
	if days <= 0 {
		days = 1
	}

	var payload waForecastResponse
	if err := p.get(ctx, "forecast.json", url.Values{
		"q":      {string(req.Query)},
		"days":   {strconv.Itoa(days)},
		"aqi":    {"yes"},
		"alerts": {"yes"},
	}, &payload); err != nil {
		return weather.WeatherSnapshot{}, err
	}

	snap := weather.WeatherSnapshot{
		Provider:  p.name,
		FetchedAt: time.Now().UTC(),
		Location:  payload.Location.toInfo(),
		Alerts:    payload.Alerts.toAlerts(),
	}
	if payload.Current != nil {
		snap.Current = payload.Current.toCurrent()
	}
	for i, d := range payload.Forecast.ForecastDay {
		snap.Forecast = append(snap.Forecast, d.toForecastDay(i < weatherAPIHourlyDays))
	}
	return snap, nil
}

func (p *WeatherAPIProvider) Lookup(ctx context.Context, query weather.LocationQuery) (weather.LocationInfo, error) {
	var payload struct {
		Location waLocation `json:"location"`
	}
	if err := p.get(ctx, "current.json", url.Values{"q": {string(query)}}, &payload); err != nil {
		return weather.LocationInfo{}, err
	}
	if payload.Location.Name == "" {
		return weather.LocationInfo{}, fmt.Errorf("%w: %q", weather.ErrLocationNotFound, query)
	}
	return payload.Location.toInfo(), nil
}

func (p *WeatherAPIProvider) Search(ctx context.Context, prefix string) ([]weather.SearchResult, error) {
	var payload []waLocation
	if err := p.get(ctx, "search.json", url.Values{"q": {prefix}}, &payload); err != nil {
		if errors.Is(err, weather.ErrLocationNotFound) {
			return []weather.SearchResult{}, nil
		}
		return nil, err
	}

	results := make([]weather.SearchResult, 0, len(payload))
	for _, item := range payload {
		info := item.toInfo()
		results = append(results, weather.SearchResult{
			LocationInfo: info,
			Display:      fmt.Sprintf("%s, %s, %s", info.Name, info.Region, info.Country),
			Value:        info.Name,
		})
	}
	return results, nil
}

// Hourly uses forecast.json for future dates and history.json for today and the past.
func (p *WeatherAPIProvider) Hourly(ctx context.Context, query weather.LocationQuery, date string) (weather.HourlyForecast, error) {
	target, err := time.Parse("2006-01-02", date)
	if err != nil {
		return weather.HourlyForecast{}, fmt.Errorf("invalid date %q: %w", date, err)
	}

	now := p.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	endpoint := "history.json"
	if target.After(today) {
		endpoint = "forecast.json"
	}

	var payload waForecastResponse
	if err := p.get(ctx, endpoint, url.Values{"q": {string(query)}, "dt": {date}}, &payload); err != nil {
		return weather.HourlyForecast{}, err
	}

	hf := weather.HourlyForecast{
		Location: payload.Location.toInfo(),
		Date:     date,
		Hours:    []weather.HourPoint{},
	}
	if len(payload.Forecast.ForecastDay) > 0 {
		day := payload.Forecast.ForecastDay[0].toForecastDay(true)
		hf.Hours = day.Hours
		hf.DaySummary = &day.Day
		hf.Astro = day.Astro
	}
	return hf, nil
}

// History reads one past day from history.json.
func (p *WeatherAPIProvider) History(ctx context.Context, query weather.LocationQuery, date string) (weather.DayRecord, error) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return weather.DayRecord{}, fmt.Errorf("invalid date %q: %w", date, err)
	}

	var payload waForecastResponse
	if err := p.get(ctx, "history.json", url.Values{"q": {string(query)}, "dt": {date}}, &payload); err != nil {
		return weather.DayRecord{}, err
	}
	if len(payload.Forecast.ForecastDay) == 0 {
		return weather.DayRecord{}, fmt.Errorf("%w: weatherapi history for %s carried no day", weather.ErrMalformedPayload, date)
	}
	return weather.DayRecord{
		Location: payload.Location.toInfo(),
		Day:      payload.Forecast.ForecastDay[0].toForecastDay(true),
	}, nil
}

// LocateIP resolves ip through ip.json; an empty ip becomes "auto:ip".
func (p *WeatherAPIProvider) LocateIP(ctx context.Context, ip string) (weather.IPLocation, error) {
	q := strings.TrimSpace(ip)
	if q == "" {
		q = "auto:ip"
	}

	var payload waIPResponse
	if err := p.get(ctx, "ip.json", url.Values{"q": {q}}, &payload); err != nil {
		return weather.IPLocation{}, err
	}
	if payload.City == "" && payload.Lat == 0 && payload.Lon == 0 {
		return weather.IPLocation{}, fmt.Errorf("%w: no location for ip %q", weather.ErrLocationNotFound, q)
	}
	return weather.IPLocation{
		IP: payload.IP,
		Location: weather.LocationInfo{
			Name:      payload.City,
			Region:    payload.Region,
			Country:   payload.CountryName,
			Lat:       payload.Lat,
			Lon:       payload.Lon,
			TimeZone:  payload.TzID,
			LocalTime: payload.Localtime,
		},
	}, nil
}

// get performs one resilient GET and decodes the JSON body into out.
func (p *WeatherAPIProvider) get(ctx context.Context, endpoint string, values url.Values, out any) error {
	if p.apiKey == "" {
		return fmt.Errorf("%w: weatherapi api key is not configured", weather.ErrMissingCredentials)
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		q := url.Values{}
		for k, v := range values {
			q[k] = v
		}
		q.Set("key", p.apiKey)

		u := fmt.Sprintf("%s/%s?%s", p.baseURL, endpoint, q.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	body, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return p.mapError(err)
	}
	return decodeJSON(p.name, body, out)
}

// mapError translates WeatherAPI.com 4xx answers into the weather error taxonomy.
func (p *WeatherAPIProvider) mapError(err error) error {
	var se *statusError
	if !errors.As(err, &se) {
		return err
	}

	var apiErr struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(se.Body, &apiErr)
	msg := apiErr.Error.Message
	if msg == "" {
		msg = http.StatusText(se.StatusCode)
	}

	switch {
	case apiErr.Error.Code == weatherAPICodeNoLocation,
		se.StatusCode == http.StatusBadRequest,
		common.HasAny(strings.ToLower(msg), "no matching location", "no location found"):
		return fmt.Errorf("%w: %s", weather.ErrLocationNotFound, msg)
	case se.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: weatherapi rejected the api key: %s", weather.ErrMissingCredentials, msg)
	default:
		return fmt.Errorf("%w: weatherapi status %d: %s", weather.ErrUpstreamUnavailable, se.StatusCode, msg)
	}
}

// Wire types for WeatherAPI.com responses.

type waIPResponse struct {
	IP          string  `json:"ip"`
	City        string  `json:"city"`
	Region      string  `json:"region"`
	CountryName string  `json:"country_name"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	TzID        string  `json:"tz_id"`
	Localtime   string  `json:"localtime"`
}

type waLocation struct {
	Name      string  `json:"name"`
	Region    string  `json:"region"`
	Country   string  `json:"country"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	TzID      string  `json:"tz_id"`
	Localtime string  `json:"localtime"`
}

func (l waLocation) toInfo() weather.LocationInfo {
	return weather.LocationInfo{
		Name:      l.Name,
		Region:    l.Region,
		Country:   l.Country,
		Lat:       l.Lat,
		Lon:       l.Lon,
		TimeZone:  l.TzID,
		LocalTime: l.Localtime,
	}
}

type waCondition struct {
	Text string `json:"text"`
	Icon string `json:"icon"`
	Code int    `json:"code"`
}

func (c waCondition) toCondition() weather.Condition {
	return weather.Condition{Text: c.Text, Icon: c.Icon, Code: c.Code}
}

type waAirQuality struct {
	CO       *float64 `json:"co"`
	NO2      *float64 `json:"no2"`
	O3       *float64 `json:"o3"`
	SO2      *float64 `json:"so2"`
	PM25     *float64 `json:"pm2_5"`
	PM10     *float64 `json:"pm10"`
	EPAIndex *int     `json:"us-epa-index"`
}

type waCurrent struct {
	LastUpdated string        `json:"last_updated"`
	IsDay       int           `json:"is_day"`
	TempC       float64       `json:"temp_c"`
	TempF       float64       `json:"temp_f"`
	FeelsLikeC  float64       `json:"feelslike_c"`
	FeelsLikeF  float64       `json:"feelslike_f"`
	Humidity    float64       `json:"humidity"`
	WindKph     float64       `json:"wind_kph"`
	WindMph     float64       `json:"wind_mph"`
	WindDir     string        `json:"wind_dir"`
	PressureMb  float64       `json:"pressure_mb"`
	PrecipMm    float64       `json:"precip_mm"`
	VisKm       float64       `json:"vis_km"`
	UV          *float64      `json:"uv"`
	Condition   waCondition   `json:"condition"`
	AirQuality  *waAirQuality `json:"air_quality"`
}

func (c waCurrent) toCurrent() *weather.Current {
	cur := &weather.Current{
		LastUpdated: c.LastUpdated,
		IsDay:       c.IsDay == 1,
		TempC:       c.TempC,
		TempF:       c.TempF,
		FeelsLikeC:  c.FeelsLikeC,
		FeelsLikeF:  c.FeelsLikeF,
		Humidity:    c.Humidity,
		WindKph:     c.WindKph,
		WindMph:     c.WindMph,
		WindDir:     c.WindDir,
		PressureMb:  c.PressureMb,
		PrecipMm:    c.PrecipMm,
		VisKm:       c.VisKm,
		UV:          c.UV,
		Condition:   c.Condition.toCondition(),
	}
	if aq := c.AirQuality; aq != nil {
		cur.AirQuality = &weather.AirQuality{
			CO:       aq.CO,
			NO2:      aq.NO2,
			O3:       aq.O3,
			SO2:      aq.SO2,
			PM25:     aq.PM25,
			PM10:     aq.PM10,
			EPAIndex: aq.EPAIndex,
		}
	}
	return cur
}

type waDay struct {
	MaxTempC      float64     `json:"maxtemp_c"`
	MaxTempF      float64     `json:"maxtemp_f"`
	MinTempC      float64     `json:"mintemp_c"`
	MinTempF      float64     `json:"mintemp_f"`
	AvgTempC      float64     `json:"avgtemp_c"`
	MaxWindKph    float64     `json:"maxwind_kph"`
	TotalPrecipMm float64     `json:"totalprecip_mm"`
	AvgHumidity   float64     `json:"avghumidity"`
	ChanceOfRain  int         `json:"daily_chance_of_rain"`
	ChanceOfSnow  int         `json:"daily_chance_of_snow"`
	UV            *float64    `json:"uv"`
	Condition     waCondition `json:"condition"`
}

type waAstro struct {
	Sunrise          string    `json:"sunrise"`
	Sunset           string    `json:"sunset"`
	Moonrise         string    `json:"moonrise"`
	Moonset          string    `json:"moonset"`
	MoonPhase        string    `json:"moon_phase"`
	MoonIllumination flexFloat `json:"moon_illumination"`
}

type waHour struct {
	Time         string      `json:"time"`
	TempC        float64     `json:"temp_c"`
	TempF        float64     `json:"temp_f"`
	FeelsLikeC   float64     `json:"feelslike_c"`
	WindKph      float64     `json:"wind_kph"`
	Humidity     float64     `json:"humidity"`
	ChanceOfRain int         `json:"chance_of_rain"`
	UV           *float64    `json:"uv"`
	Condition    waCondition `json:"condition"`
}

type waForecastDay struct {
	Date  string   `json:"date"`
	Day   waDay    `json:"day"`
	Astro *waAstro `json:"astro"`
	Hour  []waHour `json:"hour"`
}

func (d waForecastDay) toForecastDay(withHours bool) weather.ForecastDay {
	fd := weather.ForecastDay{
		Date: d.Date,
		Day: weather.DaySummary{
			MaxTempC:      d.Day.MaxTempC,
			MaxTempF:      d.Day.MaxTempF,
			MinTempC:      d.Day.MinTempC,
			MinTempF:      d.Day.MinTempF,
			AvgTempC:      d.Day.AvgTempC,
			MaxWindKph:    d.Day.MaxWindKph,
			TotalPrecipMm: d.Day.TotalPrecipMm,
			AvgHumidity:   d.Day.AvgHumidity,
			ChanceOfRain:  d.Day.ChanceOfRain,
			ChanceOfSnow:  d.Day.ChanceOfSnow,
			UV:            d.Day.UV,
			Condition:     d.Day.Condition.toCondition(),
		},
	}
	if a := d.Astro; a != nil {
		fd.Astro = &weather.Astro{
			Sunrise:          a.Sunrise,
			Sunset:           a.Sunset,
			Moonrise:         a.Moonrise,
			Moonset:          a.Moonset,
			MoonPhase:        a.MoonPhase,
			MoonIllumination: float64(a.MoonIllumination),
		}
	}
	if withHours {
		for _, h := range d.Hour {
			fd.Hours = append(fd.Hours, weather.HourPoint{
				Time:         h.Time,
				TempC:        h.TempC,
				TempF:        h.TempF,
				FeelsLikeC:   h.FeelsLikeC,
				WindKph:      h.WindKph,
				Humidity:     h.Humidity,
				ChanceOfRain: h.ChanceOfRain,
				UV:           h.UV,
				Condition:    h.Condition.toCondition(),
			})
		}
	}
	return fd
}

type waAlerts struct {
	Alert []struct {
		Headline    string `json:"headline"`
		Event       string `json:"event"`
		Severity    string `json:"severity"`
		Urgency     string `json:"urgency"`
		Areas       string `json:"areas"`
		Desc        string `json:"desc"`
		Instruction string `json:"instruction"`
		Effective   string `json:"effective"`
		Expires     string `json:"expires"`
	} `json:"alert"`
}

func (a waAlerts) toAlerts() []weather.Alert {
	if len(a.Alert) == 0 {
		return nil
	}
	out := make([]weather.Alert, 0, len(a.Alert))
	for _, al := range a.Alert {
		out = append(out, weather.Alert{
			Headline:    al.Headline,
			Event:       al.Event,
			Severity:    al.Severity,
			Urgency:     al.Urgency,
			Areas:       al.Areas,
			Description: al.Desc,
			Instruction: al.Instruction,
			Effective:   al.Effective,
			Expires:     al.Expires,
		})
	}
	return out
}

type waForecastResponse struct {
	Location waLocation `json:"location"`
	Current  *waCurrent `json:"current"`
	Forecast struct {
		ForecastDay []waForecastDay `json:"forecastday"`
	} `json:"forecast"`
	Alerts waAlerts `json:"alerts"`
}
