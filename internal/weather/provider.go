package weather

import (
	"context"
)

// Provider abstracts a weather vendor (e.g. WeatherAPI.com, Open-Meteo).
// Implementations perform upstream I/O only; caching lives in Service.
type Provider interface {
	Name() string

	// Forecast returns current conditions plus req.Days of forecast.
	Forecast(ctx context.Context, req ForecastRequest) (WeatherSnapshot, error)

	// Lookup resolves a query to a single location.
	Lookup(ctx context.Context, query LocationQuery) (LocationInfo, error)

	// Search returns autocomplete candidates for a prefix.
	Search(ctx context.Context, prefix string) ([]SearchResult, error)

	// Hourly returns the hourly breakdown for date (YYYY-MM-DD).
	Hourly(ctx context.Context, query LocationQuery, date string) (HourlyForecast, error)

	// History returns the observed weather of one past date (YYYY-MM-DD).
	History(ctx context.Context, query LocationQuery, date string) (DayRecord, error)

	// LocateIP resolves an IP address. An empty ip lets the vendor use the
	// address the request came from.
	LocateIP(ctx context.Context, ip string) (IPLocation, error)
}
