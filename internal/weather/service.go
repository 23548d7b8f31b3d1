package weather

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/i474232898/weather-relay/internal/store"
)

// Cache namespaces.
const (
	NamespaceForecast   = "forecast"
	NamespaceValidation = "location-validation"
	NamespaceSearch     = "search"
	NamespaceLatest     = "latest"
	NamespaceHistory    = "history"
	NamespaceIP         = "ip-location"
)

const (
	// MinSearchLength is the shortest prefix forwarded to the vendor search.
	MinSearchLength = 2

	DefaultForecastDays = 10
	DefaultBulkDays     = 3
	DefaultSearchLimit  = 10
	DefaultHistoryDays  = 7
	MaxHistoryDays      = 7
)

// Config tunes cache lifetimes, timeouts and bulk fan-out.
type Config struct {
	ForecastTTL   time.Duration
	ValidationTTL time.Duration
	SearchTTL     time.Duration
	HistoryTTL    time.Duration // past days and IP lookups

	// CallTimeout bounds every single upstream call (0 = no extra bound).
	CallTimeout time.Duration

	BulkConcurrency int           // 0 = unbounded
	BulkItemTimeout time.Duration // 0 = no per-item bound
	BulkDays        int

	SearchLimit int

	// Now decides what "today" is for history (nil = time.Now).
	Now func() time.Time
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ForecastTTL:     5 * time.Minute,
		ValidationTTL:   60 * time.Minute,
		SearchTTL:       10 * time.Minute,
		HistoryTTL:      60 * time.Minute,
		CallTimeout:     10 * time.Second,
		BulkItemTimeout: 15 * time.Second,
		BulkDays:        DefaultBulkDays,
		SearchLimit:     DefaultSearchLimit,
	}
}

// Service fronts a Provider with the namespaced cache and the bulk orchestrator.
// Failed upstream calls are never cached.
type Service struct {
	provider Provider
	cfg      Config

	forecasts   *store.Namespace[WeatherSnapshot]
	hourly      *store.Namespace[HourlyForecast]
	validations *store.Namespace[LocationInfo]
	searches    *store.Namespace[[]SearchResult]
	latest      *store.Namespace[WeatherSnapshot]
	history     *store.Namespace[DayRecord]
	ips         *store.Namespace[IPLocation]

	flights singleflight.Group
	bulk    *Orchestrator
}

// NewService creates a new Service.
func NewService(cache store.Cache, provider Provider, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.ForecastTTL <= 0 {
		cfg.ForecastTTL = def.ForecastTTL
	}
	if cfg.ValidationTTL <= 0 {
		cfg.ValidationTTL = def.ValidationTTL
	}
	if cfg.SearchTTL <= 0 {
		cfg.SearchTTL = def.SearchTTL
	}
	if cfg.HistoryTTL <= 0 {
		cfg.HistoryTTL = def.HistoryTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.BulkDays <= 0 {
		cfg.BulkDays = def.BulkDays
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = def.SearchLimit
	}

	s := &Service{
		provider:    provider,
		cfg:         cfg,
		forecasts:   store.NewNamespace[WeatherSnapshot](cache, NamespaceForecast, cfg.ForecastTTL),
		hourly:      store.NewNamespace[HourlyForecast](cache, NamespaceForecast, cfg.ForecastTTL),
		validations: store.NewNamespace[LocationInfo](cache, NamespaceValidation, cfg.ValidationTTL),
		searches:    store.NewNamespace[[]SearchResult](cache, NamespaceSearch, cfg.SearchTTL),
		latest:      store.NewNamespace[WeatherSnapshot](cache, NamespaceLatest, cfg.ForecastTTL),
		history:     store.NewNamespace[DayRecord](cache, NamespaceHistory, cfg.HistoryTTL),
		ips:         store.NewNamespace[IPLocation](cache, NamespaceIP, cfg.HistoryTTL),
	}
	s.bulk = NewOrchestrator(s, cfg.BulkConcurrency, cfg.BulkItemTimeout, cfg.BulkDays)
	return s
}

// ProviderName reports the configured vendor.
func (s *Service) ProviderName() string {
	if s.provider == nil {
		return ""
	}
	return s.provider.Name()
}

// forecastKey includes every parameter that shapes the response.
func forecastKey(q LocationQuery, days int, units Units) string {
	return q.Normalize() + "|" + strconv.Itoa(days) + "|" + string(units)
}

// FetchForecast returns the snapshot for req, consulting the forecast cache first.
func (s *Service) FetchForecast(ctx context.Context, req ForecastRequest) (WeatherSnapshot, error) {
	if req.Query.IsEmpty() {
		return WeatherSnapshot{}, fmt.Errorf("%w: empty location query", ErrLocationNotFound)
	}
	if req.Days <= 0 {
		req.Days = DefaultForecastDays
	}
	if req.Units == "" {
		req.Units = UnitsCelsius
	}

	key := forecastKey(req.Query, req.Days, req.Units)
	if snap, ok := s.forecasts.Get(key); ok {
		return snap.Clone(), nil
	}

	v, err := s.flight(ctx, "forecast:"+key, func(ctx context.Context) (any, error) {
		snap, err := s.provider.Forecast(ctx, req)
		if err != nil {
			return nil, err
		}
		if snap.Location.Name == "" {
			return nil, fmt.Errorf("%w: forecast for %q carried no location", ErrMalformedPayload, req.Query)
		}

		snap.Query = req.Query.Normalize()
		snap.Days = req.Days
		snap.Units = req.Units
		if snap.Provider == "" {
			snap.Provider = s.provider.Name()
		}
		if snap.FetchedAt.IsZero() {
			snap.FetchedAt = time.Now().UTC()
		}

		s.forecasts.Put(key, snap.Clone())
		s.latest.Put(req.Query.Normalize(), snap.Clone())
		return snap, nil
	})
	if err != nil {
		log.Printf("weather: forecast failed for %q: %v", req.Query, err)
		return WeatherSnapshot{}, err
	}
	return v.(WeatherSnapshot).Clone(), nil
}

// ValidateLocation resolves query; only successful resolutions are cached.
func (s *Service) ValidateLocation(ctx context.Context, query LocationQuery) (LocationInfo, error) {
	if query.IsEmpty() {
		return LocationInfo{}, fmt.Errorf("%w: empty location query", ErrLocationNotFound)
	}

	key := query.Normalize()
	if info, ok := s.validations.Get(key); ok {
		return info, nil
	}

	v, err := s.flight(ctx, "validate:"+key, func(ctx context.Context) (any, error) {
		info, err := s.provider.Lookup(ctx, query)
		if err != nil {
			return nil, err
		}
		s.validations.Put(key, info)
		return info, nil
	})
	if err != nil {
		return LocationInfo{}, err
	}
	return v.(LocationInfo), nil
}

// SearchLocations returns up to SearchLimit candidates. Prefixes shorter than
// MinSearchLength return an empty list without touching the vendor.
func (s *Service) SearchLocations(ctx context.Context, prefix string) ([]SearchResult, error) {
	prefix = strings.TrimSpace(prefix)
	if utf8.RuneCountInString(prefix) < MinSearchLength {
		return []SearchResult{}, nil
	}

	key := strings.ToLower(prefix) + "|" + strconv.Itoa(s.cfg.SearchLimit)
	if results, ok := s.searches.Get(key); ok {
		return append([]SearchResult(nil), results...), nil
	}

	v, err := s.flight(ctx, "search:"+key, func(ctx context.Context) (any, error) {
		results, err := s.provider.Search(ctx, prefix)
		if err != nil {
			return nil, err
		}
		if len(results) > s.cfg.SearchLimit {
			results = results[:s.cfg.SearchLimit]
		}
		if len(results) > 0 {
			s.searches.Put(key, results)
		}
		return results, nil
	})
	if err != nil {
		return nil, err
	}

	results := v.([]SearchResult)
	if results == nil {
		return []SearchResult{}, nil
	}
	return append([]SearchResult(nil), results...), nil
}

// HourlyForecast returns the hourly breakdown for date, cached in the forecast namespace.
func (s *Service) HourlyForecast(ctx context.Context, query LocationQuery, date string) (HourlyForecast, error) {
	if query.IsEmpty() {
		return HourlyForecast{}, fmt.Errorf("%w: empty location query", ErrLocationNotFound)
	}

	key := "hourly|" + query.Normalize() + "|" + date
	if hf, ok := s.hourly.Get(key); ok {
		return hf.Clone(), nil
	}

	v, err := s.flight(ctx, key, func(ctx context.Context) (any, error) {
		hf, err := s.provider.Hourly(ctx, query, date)
		if err != nil {
			return nil, err
		}
		s.hourly.Put(key, hf.Clone())
		return hf, nil
	})
	if err != nil {
		return HourlyForecast{}, err
	}
	return v.(HourlyForecast).Clone(), nil
}

// PeekForecast returns the most recent cached snapshot for query without any upstream I/O.
func (s *Service) PeekForecast(query LocationQuery) (WeatherSnapshot, bool) {
	if query.IsEmpty() {
		return WeatherSnapshot{}, false
	}
	snap, ok := s.latest.Get(query.Normalize())
	if !ok {
		return WeatherSnapshot{}, false
	}
	return snap.Clone(), true
}

// FetchBulk delegates to the orchestrator; caching happens per item in FetchForecast.
func (s *Service) FetchBulk(ctx context.Context, queries []LocationQuery, units Units) BulkFetchResult {
	return s.bulk.FetchBulk(ctx, queries, units)
}

// flight runs fn at most once per key concurrently. The shared upstream call is
// detached from the caller's cancellation and bounded by CallTimeout so that one
// caller giving up does not fail the others; each caller still stops waiting when
// its own context ends.
func (s *Service) flight(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	if s.provider == nil {
		return nil, fmt.Errorf("%w: no weather provider configured", ErrUpstreamUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, classify(err)
	}

	ch := s.flights.DoChan(key, func() (any, error) {
		callCtx := context.WithoutCancel(ctx)
		if s.cfg.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(callCtx, s.cfg.CallTimeout)
			defer cancel()
		}
		v, err := fn(callCtx)
		return v, classify(err)
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, classify(ctx.Err())
	}
}
