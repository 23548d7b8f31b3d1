package weather

import (
	"strings"
	"time"
)

// Units selects the temperature unit a caller asked for.
type Units string

const (
	UnitsCelsius    Units = "c"
	UnitsFahrenheit Units = "f"
)

// ParseUnits normalizes a user-supplied unit; anything unrecognized falls back to Celsius.
func ParseUnits(s string) Units {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "f", "fahrenheit", "imperial":
		return UnitsFahrenheit
	default:
		return UnitsCelsius
	}
}

// LocationQuery is a user-supplied location: city name, postal code, or "lat,lon".
type LocationQuery string

// Normalize returns the case-folded, trimmed form used for cache keys.
func (q LocationQuery) Normalize() string {
	return strings.ToLower(strings.TrimSpace(string(q)))
}

// IsEmpty reports whether the query has no content after trimming.
func (q LocationQuery) IsEmpty() bool {
	return q.Normalize() == ""
}

// LocationInfo is a canonical location as resolved by a provider.
type LocationInfo struct {
	Name      string  `json:"name"`
	Region    string  `json:"region"`
	Country   string  `json:"country"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	TimeZone  string  `json:"tzId,omitempty"`
	LocalTime string  `json:"localtime,omitempty"`
}

// DisplayName joins the non-empty name parts.
func (l LocationInfo) DisplayName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{l.Name, l.Region, l.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// SearchResult is a single autocomplete candidate.
type SearchResult struct {
	LocationInfo
	Display string `json:"display"`
	Value   string `json:"value"`
}

// Condition is the textual sky condition reported upstream.
type Condition struct {
	Text string `json:"text"`
	Icon string `json:"icon,omitempty"`
	Code int    `json:"code,omitempty"`
}

// AirQuality carries pollutant concentrations and the US EPA index (1-6).
// Every field is optional.
type AirQuality struct {
	CO       *float64 `json:"co,omitempty"`
	NO2      *float64 `json:"no2,omitempty"`
	O3       *float64 `json:"o3,omitempty"`
	SO2      *float64 `json:"so2,omitempty"`
	PM25     *float64 `json:"pm2_5,omitempty"`
	PM10     *float64 `json:"pm10,omitempty"`
	EPAIndex *int     `json:"usEpaIndex,omitempty"`
}

// Current is the current-conditions record of a snapshot.
type Current struct {
	LastUpdated string      `json:"lastUpdated,omitempty"`
	IsDay       bool        `json:"isDay"`
	TempC       float64     `json:"tempC"`
	TempF       float64     `json:"tempF"`
	FeelsLikeC  float64     `json:"feelsLikeC"`
	FeelsLikeF  float64     `json:"feelsLikeF"`
	Humidity    float64     `json:"humidity"`
	WindKph     float64     `json:"windKph"`
	WindMph     float64     `json:"windMph"`
	WindDir     string      `json:"windDir,omitempty"`
	PressureMb  float64     `json:"pressureMb"`
	PrecipMm    float64     `json:"precipMm"`
	VisKm       float64     `json:"visKm"`
	UV          *float64    `json:"uv,omitempty"`
	Condition   Condition   `json:"condition"`
	AirQuality  *AirQuality `json:"airQuality,omitempty"`
}

// DaySummary aggregates one forecast day.
type DaySummary struct {
	MaxTempC      float64   `json:"maxTempC"`
	MaxTempF      float64   `json:"maxTempF"`
	MinTempC      float64   `json:"minTempC"`
	MinTempF      float64   `json:"minTempF"`
	AvgTempC      float64   `json:"avgTempC"`
	MaxWindKph    float64   `json:"maxWindKph"`
	TotalPrecipMm float64   `json:"totalPrecipMm"`
	AvgHumidity   float64   `json:"avgHumidity"`
	ChanceOfRain  int       `json:"chanceOfRain"`
	ChanceOfSnow  int       `json:"chanceOfSnow"`
	UV            *float64  `json:"uv,omitempty"`
	Condition     Condition `json:"condition"`
}

// Astro is the raw sun/moon record for a day. Times are "hh:mm AM" strings.
type Astro struct {
	Sunrise          string  `json:"sunrise"`
	Sunset           string  `json:"sunset"`
	Moonrise         string  `json:"moonrise"`
	Moonset          string  `json:"moonset"`
	MoonPhase        string  `json:"moonPhase"`
	MoonIllumination float64 `json:"moonIllumination"`
}

// HourPoint is one hourly forecast entry.
type HourPoint struct {
	Time         string    `json:"time"`
	TempC        float64   `json:"tempC"`
	TempF        float64   `json:"tempF"`
	FeelsLikeC   float64   `json:"feelsLikeC"`
	WindKph      float64   `json:"windKph"`
	Humidity     float64   `json:"humidity"`
	ChanceOfRain int       `json:"chanceOfRain"`
	UV           *float64  `json:"uv,omitempty"`
	Condition    Condition `json:"condition"`
}

// ForecastDay is one day of a multi-day forecast.
type ForecastDay struct {
	Date  string      `json:"date"` // YYYY-MM-DD
	Day   DaySummary  `json:"day"`
	Astro *Astro      `json:"astro,omitempty"`
	Hours []HourPoint `json:"hours,omitempty"`
}

// Alert is a severe-weather alert as reported upstream.
type Alert struct {
	Headline    string `json:"headline"`
	Event       string `json:"event,omitempty"`
	Severity    string `json:"severity"`
	Urgency     string `json:"urgency"`
	Areas       string `json:"areas,omitempty"`
	Description string `json:"description"`
	Instruction string `json:"instruction"`
	Effective   string `json:"effective"`
	Expires     string `json:"expires"`
}

// WeatherSnapshot is an immutable bundle of weather data for one location at one time.
// Current, Forecast and Alerts are independently optional.
type WeatherSnapshot struct {
	Query     string        `json:"query"`
	Days      int           `json:"days"`
	Units     Units         `json:"units"`
	Provider  string        `json:"provider"`
	FetchedAt time.Time     `json:"fetchedAt"` // always UTC
	Location  LocationInfo  `json:"location"`
	Current   *Current      `json:"current,omitempty"`
	Forecast  []ForecastDay `json:"forecast,omitempty"`
	Alerts    []Alert       `json:"alerts,omitempty"`
}

// HourlyForecast is the breakdown for a single date.
type HourlyForecast struct {
	Location   LocationInfo `json:"location"`
	Date       string       `json:"date"`
	Hours      []HourPoint  `json:"hourly"`
	DaySummary *DaySummary  `json:"daySummary,omitempty"`
	Astro      *Astro       `json:"astronomy,omitempty"`
}

// DayRecord is one day of observed weather at a location.
type DayRecord struct {
	Location LocationInfo `json:"location"`
	Day      ForecastDay  `json:"day"`
}

// WeatherHistory is the observed weather of the days before today, most recent first.
type WeatherHistory struct {
	Location LocationInfo  `json:"location"`
	Days     []ForecastDay `json:"history"`
}

// IPLocation is the location an IP address resolves to.
type IPLocation struct {
	IP       string       `json:"ip"`
	Location LocationInfo `json:"location"`
}

// ForecastRequest carries every parameter that shapes a forecast response.
type ForecastRequest struct {
	Query LocationQuery
	Days  int
	Units Units
}

// Clone returns a deep copy that shares no pointers or slices with s.
func (s WeatherSnapshot) Clone() WeatherSnapshot {
	out := s
	if s.Current != nil {
		c := s.Current.clone()
		out.Current = &c
	}
	if s.Forecast != nil {
		out.Forecast = make([]ForecastDay, len(s.Forecast))
		for i, d := range s.Forecast {
			out.Forecast[i] = d.clone()
		}
	}
	if s.Alerts != nil {
		out.Alerts = append([]Alert(nil), s.Alerts...)
	}
	return out
}

// Clone returns a deep copy that shares no pointers or slices with h.
func (h HourlyForecast) Clone() HourlyForecast {
	out := h
	out.Hours = cloneHours(h.Hours)
	if h.DaySummary != nil {
		d := h.DaySummary.clone()
		out.DaySummary = &d
	}
	if h.Astro != nil {
		a := *h.Astro
		out.Astro = &a
	}
	return out
}

// Clone returns a deep copy that shares no pointers or slices with r.
func (r DayRecord) Clone() DayRecord {
	r.Day = r.Day.clone()
	return r
}

func (c Current) clone() Current {
	c.UV = cloneFloat(c.UV)
	if c.AirQuality != nil {
		aq := *c.AirQuality
		aq.CO = cloneFloat(aq.CO)
		aq.NO2 = cloneFloat(aq.NO2)
		aq.O3 = cloneFloat(aq.O3)
		aq.SO2 = cloneFloat(aq.SO2)
		aq.PM25 = cloneFloat(aq.PM25)
		aq.PM10 = cloneFloat(aq.PM10)
		if aq.EPAIndex != nil {
			v := *aq.EPAIndex
			aq.EPAIndex = &v
		}
		c.AirQuality = &aq
	}
	return c
}

func (d DaySummary) clone() DaySummary {
	d.UV = cloneFloat(d.UV)
	return d
}

func (f ForecastDay) clone() ForecastDay {
	f.Day = f.Day.clone()
	if f.Astro != nil {
		a := *f.Astro
		f.Astro = &a
	}
	f.Hours = cloneHours(f.Hours)
	return f
}

func cloneHours(hours []HourPoint) []HourPoint {
	if hours == nil {
		return nil
	}
	out := make([]HourPoint, len(hours))
	for i, h := range hours {
		h.UV = cloneFloat(h.UV)
		out[i] = h
	}
	return out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
