package weather

import (
	"context"
	"fmt"
	"log"
	"strings"

	"golang.org/x/sync/errgroup"
)

// History returns the observed weather of each of the days before today, most
// recent first. Days are fetched concurrently and cached one by one. A day the
// vendor fails on is left out; the call fails only when every day fails.
func (s *Service) History(ctx context.Context, query LocationQuery, days int) (WeatherHistory, error) {
	if query.IsEmpty() {
		return WeatherHistory{}, fmt.Errorf("%w: empty location query", ErrLocationNotFound)
	}
	if days <= 0 {
		days = DefaultHistoryDays
	}
	days = min(days, MaxHistoryDays)

	today := s.cfg.Now()
	records := make([]*DayRecord, days)
	errs := make([]error, days)

	var g errgroup.Group
	for i := range days {
		date := today.AddDate(0, 0, -(i + 1)).Format("2006-01-02")
		g.Go(func() error {
			rec, err := s.historyDay(ctx, query, date)
			if err != nil {
				errs[i] = err
				return nil
			}
			records[i] = &rec
			return nil
		})
	}
	_ = g.Wait()

	h := WeatherHistory{Days: make([]ForecastDay, 0, days)}
	var firstErr error
	for i, rec := range records {
		if rec == nil {
			if firstErr == nil {
				firstErr = errs[i]
			}
			continue
		}
		if h.Location.Name == "" {
			h.Location = rec.Location
		}
		h.Days = append(h.Days, rec.Day)
	}
	if len(h.Days) == 0 {
		return WeatherHistory{}, firstErr
	}
	if skipped := days - len(h.Days); skipped > 0 {
		log.Printf("weather: history for %q skipped %d of %d days: %v", query, skipped, days, firstErr)
	}
	return h, nil
}

func (s *Service) historyDay(ctx context.Context, query LocationQuery, date string) (DayRecord, error) {
	key := query.Normalize() + "|" + date
	if rec, ok := s.history.Get(key); ok {
		return rec.Clone(), nil
	}

	v, err := s.flight(ctx, "history:"+key, func(ctx context.Context) (any, error) {
		rec, err := s.provider.History(ctx, query, date)
		if err != nil {
			return nil, err
		}
		s.history.Put(key, rec.Clone())
		return rec, nil
	})
	if err != nil {
		return DayRecord{}, err
	}
	return v.(DayRecord).Clone(), nil
}

// LocateIP resolves ip to a location; successful lookups are cached. An empty ip
// is resolved by the vendor from the address the request came from, and is never cached.
func (s *Service) LocateIP(ctx context.Context, ip string) (IPLocation, error) {
	ip = strings.TrimSpace(ip)
	if ip != "" {
		if loc, ok := s.ips.Get(ip); ok {
			return loc, nil
		}
	}

	v, err := s.flight(ctx, "ip:"+ip, func(ctx context.Context) (any, error) {
		loc, err := s.provider.LocateIP(ctx, ip)
		if err != nil {
			return nil, err
		}
		if ip != "" {
			s.ips.Put(ip, loc)
		}
		return loc, nil
	})
	if err != nil {
		return IPLocation{}, err
	}
	return v.(IPLocation), nil
}
