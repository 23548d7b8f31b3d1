package httpapi

import (
	"time"

	"github.com/i474232898/weather-relay/internal/astronomy"
	"github.com/i474232898/weather-relay/internal/safety"
	"github.com/i474232898/weather-relay/internal/weather"
)

// EnrichedForecast is a snapshot plus its derived safety and astronomy fields.
type EnrichedForecast struct {
	weather.WeatherSnapshot
	safety.Report
	astronomy.Summary
}

// Enrich derives the safety and astronomy fields of snap. It never fails; fields
// the snapshot cannot support are omitted.
func Enrich(snap weather.WeatherSnapshot, now time.Time) EnrichedForecast {
	return EnrichedForecast{
		WeatherSnapshot: snap,
		Report:          safety.Assess(snap.Current, snap.Alerts),
		Summary:         astronomy.Summarize(snap, now),
	}
}
