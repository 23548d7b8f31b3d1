package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-relay/internal/weather"
)

type countingSweeper struct{ calls atomic.Int32 }

func (s *countingSweeper) Sweep() int {
	s.calls.Add(1)
	return 2
}

type recordingWarmer struct {
	mu      sync.Mutex
	queries [][]weather.LocationQuery
}

func (w *recordingWarmer) FetchBulk(_ context.Context, queries []weather.LocationQuery, _ weather.Units) weather.BulkFetchResult {
	w.mu.Lock()
	w.queries = append(w.queries, queries)
	w.mu.Unlock()

	res := make(weather.BulkFetchResult, len(queries))
	for i, q := range queries {
		res[i].Query = q
		if i == 0 {
			res[i].Snapshot = &weather.WeatherSnapshot{}
		} else {
			res[i].Err = errors.New("boom")
		}
	}
	return res
}

func (w *recordingWarmer) runs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queries)
}

func TestScheduler_WarmsImmediatelyAndSweepsOnSchedule(t *testing.T) {
	sw := &countingSweeper{}
	wm := &recordingWarmer{}
	s := New(Options{
		SweepInterval: 50 * time.Millisecond,
		WarmInterval:  time.Hour,
		WarmLocations: []string{"London", " ", "Paris"},
	}, sw, wm)

	require.NoError(t, s.Start())
	defer s.Stop()

	require.Eventually(t, func() bool { return wm.runs() == 1 }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return sw.calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)

	wm.mu.Lock()
	require.Equal(t, []weather.LocationQuery{"London", "Paris"}, wm.queries[0])
	wm.mu.Unlock()
}

func TestScheduler_RunNow(t *testing.T) {
	sw := &countingSweeper{}
	wm := &recordingWarmer{}
	s := New(Options{SweepInterval: time.Hour, WarmInterval: time.Hour, WarmLocations: []string{"Rome"}}, sw, wm)
	require.NoError(t, s.Start())
	defer s.Stop()

	require.Eventually(t, func() bool { return wm.runs() == 1 }, time.Second, 10*time.Millisecond)
	s.RunNow()
	require.Eventually(t, func() bool { return wm.runs() == 2 && sw.calls.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestScheduler_NothingConfigured(t *testing.T) {
	s := New(Options{}, nil, nil)
	require.NoError(t, s.Start())
	s.Stop()
}
