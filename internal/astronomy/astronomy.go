// Package astronomy turns the raw sun and moon records of a forecast into
// display-ready values.
package astronomy

import (
	"fmt"
	"strings"
	"time"

	"github.com/i474232898/weather-relay/internal/weather"
)

// ForecastDays is how many days after today are summarized.
const ForecastDays = 5

const (
	clockLayout     = "03:04 PM"
	dateLayout      = "2006-01-02"
	localTimeLayout = "2006-01-02 15:04"
	defaultMoon     = "🌙"
)

var moonPhases = map[string]string{
	"new moon":        "🌑",
	"waxing crescent": "🌒",
	"first quarter":   "🌓",
	"waxing gibbous":  "🌔",
	"full moon":       "🌕",
	"waning gibbous":  "🌖",
	"last quarter":    "🌗",
	"third quarter":   "🌗",
	"waning crescent": "🌘",
}

// Day is the processed astronomy of one forecast day.
type Day struct {
	Date             string  `json:"date"`
	IsCurrentDay     bool    `json:"isCurrentDay"`
	Sunrise          string  `json:"sunrise"`
	Sunset           string  `json:"sunset"`
	Moonrise         string  `json:"moonrise"`
	Moonset          string  `json:"moonset"`
	HasMoonrise      bool    `json:"hasMoonrise"`
	HasMoonset       bool    `json:"hasMoonset"`
	MoonPhase        string  `json:"moonPhase"`
	MoonPhaseEmoji   string  `json:"moonPhaseEmoji"`
	MoonIllumination float64 `json:"moonIllumination"`
	DaylightDuration string  `json:"daylightDuration,omitempty"`
}

// Summary is the astronomy of the first forecast day plus the days that follow today.
type Summary struct {
	Today    *Day  `json:"astronomyInfo,omitempty"`
	Forecast []Day `json:"astronomyForecast"`
}

// MoonPhaseEmoji maps a phase name to its glyph; unknown names get a generic moon.
func MoonPhaseEmoji(phase string) string {
	if e, ok := moonPhases[strings.ToLower(strings.TrimSpace(phase))]; ok {
		return e
	}
	return defaultMoon
}

// DaylightDuration formats the time between two "hh:mm AM" clock strings as "14h 23m".
// A sunset before sunrise is taken to be on the next day. ok is false when either
// value cannot be parsed.
func DaylightDuration(sunrise, sunset string) (string, bool) {
	rise, err := time.Parse(clockLayout, strings.TrimSpace(sunrise))
	if err != nil {
		return "", false
	}
	set, err := time.Parse(clockLayout, strings.TrimSpace(sunset))
	if err != nil {
		return "", false
	}

	d := set.Sub(rise)
	if d < 0 {
		d += 24 * time.Hour
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60), true
}

// ProcessDay converts one forecast day; a day without an astro record yields nil.
func ProcessDay(fd weather.ForecastDay, isCurrentDay bool) *Day {
	a := fd.Astro
	if a == nil {
		return nil
	}
	day := &Day{
		Date:             fd.Date,
		IsCurrentDay:     isCurrentDay,
		Sunrise:          a.Sunrise,
		Sunset:           a.Sunset,
		Moonrise:         a.Moonrise,
		Moonset:          a.Moonset,
		HasMoonrise:      present(a.Moonrise, "no moonrise"),
		HasMoonset:       present(a.Moonset, "no moonset"),
		MoonPhase:        a.MoonPhase,
		MoonPhaseEmoji:   MoonPhaseEmoji(a.MoonPhase),
		MoonIllumination: a.MoonIllumination,
	}
	if dur, ok := DaylightDuration(a.Sunrise, a.Sunset); ok {
		day.DaylightDuration = dur
	}
	return day
}

func present(v, none string) bool {
	v = strings.TrimSpace(v)
	return v != "" && !strings.EqualFold(v, none)
}

// Summarize builds the astronomy summary of a snapshot. "Today" is the location's
// local date when the snapshot carries one, otherwise now's date.
func Summarize(snap weather.WeatherSnapshot, now time.Time) Summary {
	today := LocalDate(snap.Location, now)
	s := Summary{Forecast: []Day{}}

	for _, fd := range snap.Forecast {
		if _, err := time.Parse(dateLayout, fd.Date); err != nil {
			continue
		}
		isToday := fd.Date == today
		day := ProcessDay(fd, isToday)
		if day == nil {
			continue
		}
		if s.Today == nil {
			first := *day
			s.Today = &first
		}
		if !isToday && len(s.Forecast) < ForecastDays {
			s.Forecast = append(s.Forecast, *day)
		}
	}
	return s
}

// LocalDate returns the YYYY-MM-DD date at the location.
func LocalDate(loc weather.LocationInfo, now time.Time) string {
	if t, err := time.Parse(localTimeLayout, loc.LocalTime); err == nil {
		return t.Format(dateLayout)
	}
	if loc.TimeZone != "" {
		if tz, err := time.LoadLocation(loc.TimeZone); err == nil {
			return now.In(tz).Format(dateLayout)
		}
	}
	return now.Format(dateLayout)
}
