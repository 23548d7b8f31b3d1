package chat

import (
	"fmt"
	"strings"

	"github.com/i474232898/weather-relay/internal/safety"
	"github.com/i474232898/weather-relay/internal/weather"
)

const (
	promptMaxAlerts         = 3
	promptMaxForecastDays   = 5
	promptMaxOtherLocations = 3
)

const basePrompt = `You are a helpful weather assistant with expertise in meteorology and weather patterns.
Your role is to help users understand weather conditions, forecasts, and provide insights about the weather
in their searched locations.

You have access to current weather data and forecasts for the user's currently displayed city.
When answering questions, be conversational, friendly, and informative. Use the weather data provided
to give accurate, context-aware responses.

Guidelines:
- Answer weather-related questions using the provided data
- When the user asks "is this typical?" or similar questions, refer to the current conditions shown
- Explain weather patterns and phenomena when relevant
- Provide helpful suggestions (e.g., clothing recommendations, activity planning)
- If asked about locations not in the context, politely indicate you don't have current data for them
- Be concise but thorough in your explanations
- Use a friendly, conversational tone`

// BuildSystemPrompt renders the system instruction with the weather context.
// Every location in the context is named; weather is added where it is cached.
func BuildSystemPrompt(cc ChatContext) string {
	var b strings.Builder
	b.WriteString(basePrompt)

	if snap := cc.CurrentWeather; snap != nil {
		writeCurrent(&b, *snap)
	} else if !cc.CurrentLocation.IsEmpty() {
		b.WriteString("\n\n=== CURRENTLY DISPLAYED LOCATION ===\n")
		fmt.Fprintf(&b, "Location: %s\n", currentLabel(cc))
		b.WriteString("No cached weather data is available for this location right now.\n")
	}

	current := cc.CurrentLocation.Normalize()
	var others []ContextEntry
	for _, e := range cc.RecentLocations {
		if e.Query.Normalize() == current {
			continue
		}
		others = append(others, e)
	}
	if len(others) > 0 {
		b.WriteString("\n\nOther recently searched locations:\n")
		withWeather := 0
		for _, e := range others {
			switch {
			case e.Weather == nil || e.Weather.Current == nil:
				fmt.Fprintf(&b, "- %s (no cached weather)\n", e.Label())
			case withWeather < promptMaxOtherLocations:
				withWeather++
				c := e.Weather.Current
				fmt.Fprintf(&b, "- %s: %s°C, %s\n", e.Label(), num(c.TempC), orNA(c.Condition.Text))
			default:
				fmt.Fprintf(&b, "- %s\n", e.Label())
			}
		}
	}

	return b.String()
}

// currentLabel prefers the display name the client gave for the current location.
func currentLabel(cc ChatContext) string {
	current := cc.CurrentLocation.Normalize()
	for _, e := range cc.RecentLocations {
		if e.Query.Normalize() == current && e.DisplayName != "" {
			return e.DisplayName
		}
	}
	return strings.TrimSpace(string(cc.CurrentLocation))
}

func writeCurrent(b *strings.Builder, snap weather.WeatherSnapshot) {
	name := snap.Location.DisplayName()
	if name == "" {
		name = "Unknown"
	}
	b.WriteString("\n\n=== CURRENTLY DISPLAYED WEATHER ===\n")
	fmt.Fprintf(b, "Location: %s\n", name)

	if c := snap.Current; c != nil {
		fmt.Fprintf(b, "Condition: %s\n", orNA(c.Condition.Text))
		fmt.Fprintf(b, "Temperature: %s°C (%s°F)\n", num(c.TempC), num(c.TempF))
		fmt.Fprintf(b, "Feels like: %s°C (%s°F)\n", num(c.FeelsLikeC), num(c.FeelsLikeF))
		fmt.Fprintf(b, "Humidity: %s%%\n", num(c.Humidity))
		fmt.Fprintf(b, "Wind: %s km/h (%s mph)\n", num(c.WindKph), num(c.WindMph))
		fmt.Fprintf(b, "Visibility: %s km\n", num(c.VisKm))
		fmt.Fprintf(b, "Pressure: %s mb\n", num(c.PressureMb))
		uv := "N/A"
		if c.UV != nil {
			uv = num(*c.UV)
		}
		fmt.Fprintf(b, "UV Index: %s\n", uv)
	}

	report := safety.Assess(snap.Current, snap.Alerts)
	if report.UV != nil {
		fmt.Fprintf(b, "\nUV Safety: %s - %s\n", report.UV.Level, report.UV.Recommendation)
	}
	if aq := report.AirQuality; aq != nil {
		fmt.Fprintf(b, "\nAir Quality: %s", aq.Level)
		if aq.PM25 != nil && *aq.PM25 > 0 {
			fmt.Fprintf(b, " (PM2.5: %s µg/m³)", num(*aq.PM25))
		}
		fmt.Fprintf(b, "\nAir Quality Guidance: %s\n", aq.Guidance)
	}
	if len(report.Alerts) > 0 {
		b.WriteString("\n⚠️ ACTIVE WEATHER ALERTS:\n")
		for _, a := range report.Alerts[:min(len(report.Alerts), promptMaxAlerts)] {
			fmt.Fprintf(b, "- %s: %s\n", a.Headline, a.Severity)
		}
	}

	if len(snap.Forecast) > 0 {
		fmt.Fprintf(b, "\n%d-Day Forecast Summary:\n", len(snap.Forecast))
		for _, d := range snap.Forecast[:min(len(snap.Forecast), promptMaxForecastDays)] {
			fmt.Fprintf(b, "- %s: %s, High %s°C, Low %s°C", d.Date, orNA(d.Day.Condition.Text), num(d.Day.MaxTempC), num(d.Day.MinTempC))
			if d.Day.ChanceOfRain > 0 {
				fmt.Fprintf(b, ", %d%% chance of rain", d.Day.ChanceOfRain)
			}
			b.WriteString("\n")
		}
	}
}

func num(v float64) string {
	return fmt.Sprintf("%g", v)
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
