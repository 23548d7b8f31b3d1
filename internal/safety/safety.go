// Package safety derives UV, air quality and alert classifications from an
// already fetched weather snapshot. Everything here is pure: no I/O, no errors.
package safety

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/i474232898/weather-relay/internal/weather"
)

// UVInfo is the classification of a UV index value.
type UVInfo struct {
	Value          float64 `json:"value"`
	Level          string  `json:"level"`
	Color          string  `json:"color"`
	Recommendation string  `json:"recommendation"`
	Icon           string  `json:"icon"`
}

// AQIInfo is the classification of a US EPA air quality index.
type AQIInfo struct {
	Value          int      `json:"value"`
	Level          string   `json:"level"`
	Color          string   `json:"color"`
	Guidance       string   `json:"guidance"`
	AffectedGroups string   `json:"affectedGroups"`
	Icon           string   `json:"icon"`
	PM25           *float64 `json:"pm2_5,omitempty"`
	PM10           *float64 `json:"pm10,omitempty"`
}

// AlertInfo is a normalized severe weather alert.
type AlertInfo struct {
	Headline    string `json:"headline"`
	Event       string `json:"event,omitempty"`
	Severity    string `json:"severity"`
	Urgency     string `json:"urgency"`
	Areas       string `json:"areas,omitempty"`
	Description string `json:"description"`
	Instruction string `json:"instruction"`
	EffectiveAt string `json:"effectiveAt"`
	ExpiresAt   string `json:"expiresAt"`
	Color       string `json:"color"`
	Icon        string `json:"icon"`
}

// Report bundles the three derived fields; each one is independently optional.
type Report struct {
	UV         *UVInfo     `json:"uvInfo,omitempty"`
	AirQuality *AQIInfo    `json:"aqiInfo,omitempty"`
	Alerts     []AlertInfo `json:"alertsInfo"`
}

type uvBand struct {
	max            float64
	level          string
	color          string
	recommendation string
	icon           string
}

var uvBands = []uvBand{
	{2, "Low", "#289500", "Minimal protection needed. Wear sunglasses on bright days.", "🟢"},
	{5, "Moderate", "#F7E400", "Protection required. Wear sunscreen SPF 30+, hat, and sunglasses.", "🟡"},
	{7, "High", "#F85900", "Protection essential. Seek shade during midday. Sunscreen, hat, and sunglasses required.", "🟠"},
	{10, "Very High", "#D8001D", "Extra protection required. Avoid sun 10am-4pm. Sunscreen SPF 50+, protective clothing required.", "🔴"},
}

var uvExtreme = uvBand{0, "Extreme", "#6B49C8", "Take all precautions. Avoid sun exposure. Unprotected skin can burn in minutes.", "🟣"}

type aqiBand struct {
	level    string
	color    string
	guidance string
	affected string
	icon     string
}

// aqiBands is indexed by EPA index - 1.
var aqiBands = []aqiBand{
	{"Good", "#00E400",
		"Air quality is satisfactory. Air pollution poses little or no risk.",
		"None", "🟢"},
	{"Moderate", "#FFFF00",
		"Acceptable air quality. Unusually sensitive people should consider limiting prolonged outdoor exertion.",
		"Unusually sensitive people", "🟡"},
	{"Unhealthy for Sensitive Groups", "#FF7E00",
		"People with respiratory or heart conditions, elderly, and children should limit prolonged outdoor exertion.",
		"People with respiratory or heart conditions, older adults and children", "🟠"},
	{"Unhealthy", "#FF0000",
		"Everyone may begin to experience health effects. Sensitive groups should avoid prolonged outdoor exertion.",
		"Everyone, especially sensitive groups", "🔴"},
	{"Very Unhealthy", "#8F3F97",
		"Health alert. Everyone should avoid prolonged outdoor exertion. Sensitive groups should avoid all outdoor activity.",
		"Everyone", "🟣"},
	{"Hazardous", "#7E0023",
		"Health warning of emergency conditions. Everyone should avoid all outdoor exertion.",
		"Everyone", "🟤"},
}

type severityBand struct {
	color string
	icon  string
}

var severityBands = map[string]severityBand{
	"extreme":  {"#D8001D", "🔴"},
	"severe":   {"#F85900", "🟠"},
	"moderate": {"#F7E400", "🟡"},
	"minor":    {"#289500", "🟢"},
}

var unknownSeverity = severityBand{"#6C757D", "⚪"}

const (
	unknownSeverityLabel = "Unknown"
	defaultHeadline      = "Weather Alert"
)

// title is per call: a cases.Caser keeps state and must not be shared between goroutines.
func title(s string) string {
	return cases.Title(language.English).String(s)
}

// ClassifyUV returns nil when the value is absent.
func ClassifyUV(uv *float64) *UVInfo {
	if uv == nil {
		return nil
	}
	band := uvExtreme
	for _, b := range uvBands {
		if *uv <= b.max {
			band = b
			break
		}
	}
	return &UVInfo{
		Value:          *uv,
		Level:          band.level,
		Color:          band.color,
		Recommendation: band.recommendation,
		Icon:           band.icon,
	}
}

// ClassifyAirQuality returns nil when the EPA index is absent or below 1.
// Values above 6 are reported as Hazardous.
func ClassifyAirQuality(aq *weather.AirQuality) *AQIInfo {
	if aq == nil || aq.EPAIndex == nil || *aq.EPAIndex < 1 {
		return nil
	}
	idx := *aq.EPAIndex
	band := aqiBands[min(idx, len(aqiBands))-1]
	return &AQIInfo{
		Value:          idx,
		Level:          band.level,
		Color:          band.color,
		Guidance:       band.guidance,
		AffectedGroups: band.affected,
		Icon:           band.icon,
		PM25:           aq.PM25,
		PM10:           aq.PM10,
	}
}

// NormalizeAlerts maps each upstream alert 1:1, in order.
func NormalizeAlerts(alerts []weather.Alert) []AlertInfo {
	out := make([]AlertInfo, 0, len(alerts))
	for _, a := range alerts {
		severity := strings.ToLower(strings.TrimSpace(a.Severity))
		band, ok := severityBands[severity]
		label := title(severity)
		if !ok {
			band = unknownSeverity
			label = unknownSeverityLabel
		}

		headline := a.Headline
		if strings.TrimSpace(headline) == "" {
			headline = defaultHeadline
		}

		out = append(out, AlertInfo{
			Headline:    headline,
			Event:       a.Event,
			Severity:    label,
			Urgency:     title(strings.ToLower(strings.TrimSpace(a.Urgency))),
			Areas:       a.Areas,
			Description: a.Description,
			Instruction: a.Instruction,
			EffectiveAt: a.Effective,
			ExpiresAt:   a.Expires,
			Color:       band.color,
			Icon:        band.icon,
		})
	}
	return out
}

// Assess derives the full report. A nil current record yields no UV or AQI fields.
func Assess(current *weather.Current, alerts []weather.Alert) Report {
	r := Report{Alerts: NormalizeAlerts(alerts)}
	if current != nil {
		r.UV = ClassifyUV(current.UV)
		r.AirQuality = ClassifyAirQuality(current.AirQuality)
	}
	return r
}
