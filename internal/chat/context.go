package chat

import (
	"github.com/i474232898/weather-relay/internal/weather"
)

// MaxRecentLocations bounds the recent-locations part of a context.
const MaxRecentLocations = 5

// SnapshotLookup reads a cached snapshot. It must not perform network I/O.
type SnapshotLookup func(query weather.LocationQuery) (weather.WeatherSnapshot, bool)

// RecentLocation is a location the client viewed, most recent first.
type RecentLocation struct {
	Query       weather.LocationQuery `json:"location"`
	DisplayName string                `json:"displayName,omitempty"`
}

// ContextEntry is a recent location with its cached weather, if any.
type ContextEntry struct {
	Query       weather.LocationQuery    `json:"location"`
	DisplayName string                   `json:"displayName,omitempty"`
	Weather     *weather.WeatherSnapshot `json:"weather,omitempty"`
}

// Label returns the display name, falling back to the raw query.
func (e ContextEntry) Label() string {
	if e.DisplayName != "" {
		return e.DisplayName
	}
	if e.Weather != nil && e.Weather.Location.Name != "" {
		return e.Weather.Location.DisplayName()
	}
	return string(e.Query)
}

// ChatContext is the bounded weather context of one chat turn.
type ChatContext struct {
	CurrentLocation weather.LocationQuery    `json:"currentLocation,omitempty"`
	CurrentWeather  *weather.WeatherSnapshot `json:"currentWeather,omitempty"`
	RecentLocations []ContextEntry           `json:"recentLocations"`
}

// BuildContext assembles the context of a chat turn from the client's recent
// locations and the weather cache. At most MaxRecentLocations distinct entries
// (by normalized query) are kept in the given order; an entry whose snapshot is
// no longer cached is kept without weather. The current location is always set,
// whether or not it also appears in recent.
func BuildContext(current weather.LocationQuery, recent []RecentLocation, lookup SnapshotLookup) ChatContext {
	cc := ChatContext{RecentLocations: make([]ContextEntry, 0, MaxRecentLocations)}

	if !current.IsEmpty() {
		cc.CurrentLocation = current
		cc.CurrentWeather = find(lookup, current)
	}

	seen := make(map[string]struct{}, MaxRecentLocations)
	for _, r := range recent {
		if len(cc.RecentLocations) == MaxRecentLocations {
			break
		}
		key := r.Query.Normalize()
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		cc.RecentLocations = append(cc.RecentLocations, ContextEntry{
			Query:       r.Query,
			DisplayName: r.DisplayName,
			Weather:     find(lookup, r.Query),
		})
	}
	return cc
}

func find(lookup SnapshotLookup, q weather.LocationQuery) *weather.WeatherSnapshot {
	if lookup == nil {
		return nil
	}
	snap, ok := lookup(q)
	if !ok {
		return nil
	}
	return &snap
}
