package fetcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"energy_prices/internal/model"
)

// hourlySource returns one observation per hour inside the requested window.
// Windows listed in fail return an error instead.
type hourlySource struct {
	mu    sync.Mutex
	calls []model.FetchWindow
	fail  map[time.Time]error
	delay time.Duration
}

func (s *hourlySource) FetchPrices(ctx context.Context, kind model.Kind, country string, start, end time.Time) (model.PriceSeries, error) {
	s.mu.Lock()
	s.calls = append(s.calls, model.FetchWindow{Start: start, End: end})
	err := s.fail[start]
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return model.PriceSeries{}, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if err != nil {
		return model.PriceSeries{}, err
	}

	series := model.PriceSeries{Kind: kind, Country: country, Resolution: time.Hour, Unit: model.UnitEURPerMWh}
	for ts := start; ts.Before(end); ts = ts.Add(time.Hour) {
		series.Observations = append(series.Observations, model.PriceObservation{
			Timestamp: ts,
			Price:     float64(ts.Hour()),
		})
	}
	return series, nil
}

type recordingObserver struct {
	mu      sync.Mutex
	results []WindowResult
}

func (o *recordingObserver) OnWindow(runID string, kind model.Kind, country string, r WindowResult) {
	o.mu.Lock()
	o.results = append(o.results, r)
	o.mu.Unlock()
}

func utc(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestPartition_Covers(t *testing.T) {
	ams, err := time.LoadLocation("Europe/Amsterdam")
	require.NoError(t, err)

	spans := []time.Duration{time.Hour, 24 * time.Hour, 7 * 24 * time.Hour, model.DefaultMaxWindowSpan}
	ranges := []model.FetchWindow{
		{Start: utc(2023, 1, 1), End: utc(2024, 1, 1)},
		{Start: utc(2024, 1, 1), End: utc(2024, 1, 1).Add(90 * time.Minute)},
		{Start: time.Date(2024, 1, 1, 0, 0, 0, 0, ams), End: time.Date(2025, 1, 1, 0, 0, 0, 0, ams)},
		{Start: utc(2024, 2, 28), End: utc(2024, 3, 2).Add(17 * time.Minute)},
	}

	for _, span := range spans {
		for _, r := range ranges {
			windows := Partition(r.Start, r.End, span)
			require.NotEmpty(t, windows)

			assert.True(t, windows[0].Start.Equal(r.Start))
			assert.True(t, windows[len(windows)-1].End.Equal(r.End))
			for i, w := range windows {
				assert.NoError(t, w.Validate())
				assert.LessOrEqual(t, w.Span(), span)
				if i > 0 {
					assert.True(t, w.Start.Equal(windows[i-1].End), "window %d not contiguous", i)
				}
			}
		}
	}
}

func TestPartition_Empty(t *testing.T) {
	ts := utc(2024, 1, 1)
	assert.Empty(t, Partition(ts, ts, time.Hour))
	assert.Empty(t, Partition(ts, ts.Add(-time.Hour), time.Hour))
	assert.Empty(t, Partition(ts, ts.Add(time.Hour), 0))
}

func TestPartition_YearInNinetyDays(t *testing.T) {
	windows := Partition(utc(2023, 1, 1), utc(2024, 1, 1), model.DefaultMaxWindowSpan)
	require.Len(t, windows, 5)
	assert.Equal(t, utc(2023, 4, 1), windows[1].Start)
	assert.Equal(t, 5*24*time.Hour, windows[4].Span())
}

func TestFetch_EmptyRangeMakesNoCalls(t *testing.T) {
	src := &hourlySource{}
	f := New(src, Options{})

	ts := utc(2024, 1, 1)
	out, err := f.Fetch(context.Background(), model.KindDayAhead, "NL", ts, ts)
	require.NoError(t, err)

	assert.Empty(t, src.calls)
	assert.Zero(t, out.Series.Len())
	assert.True(t, out.Complete())
	assert.NotEmpty(t, out.RunID)
}

func TestFetch_ReversedRange(t *testing.T) {
	f := New(&hourlySource{}, Options{})
	_, err := f.Fetch(context.Background(), model.KindDayAhead, "NL", utc(2024, 2, 1), utc(2024, 1, 1))
	assert.Error(t, err)
}

func TestFetch_MergesInOrder(t *testing.T) {
	src := &hourlySource{}
	f := New(src, Options{MaxSpan: 24 * time.Hour})

	out, err := f.Fetch(context.Background(), model.KindDayAhead, "NL", utc(2024, 1, 1), utc(2024, 1, 4))
	require.NoError(t, err)

	assert.Len(t, src.calls, 3)
	assert.Equal(t, 72, out.Series.Len())
	assert.Equal(t, time.Hour, out.Series.Resolution)
	assert.NoError(t, out.Series.Validate())
	assert.True(t, out.Complete())
}

func TestFetch_WindowFailureIsRecorded(t *testing.T) {
	src := &hourlySource{fail: map[time.Time]error{
		utc(2024, 1, 2): errors.New("HTTP 503"),
	}}
	obs := &recordingObserver{}
	f := New(src, Options{MaxSpan: 24 * time.Hour, Observer: obs})

	out, err := f.Fetch(context.Background(), model.KindImbalance, "NL", utc(2024, 1, 1), utc(2024, 1, 4))
	require.NoError(t, err)

	failed := out.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, utc(2024, 1, 2), failed[0].Start)
	assert.False(t, out.Complete())
	assert.Len(t, obs.results, 3)

	// The days around the failure are kept; the failed day is a gap.
	assert.Equal(t, 48, out.Series.Len())
	for _, o := range out.Series.Observations {
		assert.False(t, failed[0].Contains(o.Timestamp), "unexpected point at %s", o.Timestamp)
	}
	assert.NoError(t, out.Series.Validate())
}

func TestFetch_ParallelKeepsOrder(t *testing.T) {
	src := &hourlySource{delay: time.Millisecond}
	f := New(src, Options{MaxSpan: 24 * time.Hour, Concurrency: 4})

	out, err := f.Fetch(context.Background(), model.KindDayAhead, "NL", utc(2024, 1, 1), utc(2024, 1, 11))
	require.NoError(t, err)

	assert.Len(t, src.calls, 10)
	require.Len(t, out.Windows, 10)
	for i := 1; i < len(out.Windows); i++ {
		assert.True(t, out.Windows[i].Window.Start.After(out.Windows[i-1].Window.Start))
	}
	assert.Equal(t, 240, out.Series.Len())
	assert.NoError(t, out.Series.Validate())
}

func TestFetch_WindowTimeout(t *testing.T) {
	src := &hourlySource{delay: time.Second}
	f := New(src, Options{MaxSpan: 24 * time.Hour, WindowTimeout: 5 * time.Millisecond})

	out, err := f.Fetch(context.Background(), model.KindDayAhead, "NL", utc(2024, 1, 1), utc(2024, 1, 2))
	require.NoError(t, err)

	failed := out.Failed()
	require.Len(t, failed, 1)
	assert.ErrorIs(t, out.Windows[0].Err, context.DeadlineExceeded)
	assert.Zero(t, out.Series.Len())
}

func TestFetch_CancelledContext(t *testing.T) {
	src := &hourlySource{}
	f := New(src, Options{MaxSpan: 24 * time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := f.Fetch(ctx, model.KindDayAhead, "NL", utc(2024, 1, 1), utc(2024, 1, 3))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, src.calls)
	assert.Len(t, out.Failed(), 2)
}

func TestMerge_DropsOverlap(t *testing.T) {
	w1 := model.FetchWindow{Start: utc(2024, 1, 1), End: utc(2024, 1, 1).Add(2 * time.Hour)}
	w2 := model.FetchWindow{Start: w1.End, End: w1.End.Add(2 * time.Hour)}

	// The first source answer leaks a point that belongs to the next window.
	results := []WindowResult{
		{Window: w1, Series: model.PriceSeries{Observations: []model.PriceObservation{
			{Timestamp: w1.Start, Price: 1},
			{Timestamp: w1.Start.Add(time.Hour), Price: 2},
			{Timestamp: w2.Start, Price: 99},
		}}},
		{Window: w2, Series: model.PriceSeries{Observations: []model.PriceObservation{
			{Timestamp: w2.Start, Price: 3},
			{Timestamp: w2.Start.Add(time.Hour), Price: 4},
		}}},
	}

	s := merge(model.PriceSeries{}, results)
	assert.Equal(t, []float64{1, 2, 3, 4}, s.Prices())
}
