package scheduler

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

type call struct {
	kind model.Kind
	year int
}

type fakeRefresher struct {
	mu    sync.Mutex
	calls []call
	fail  model.Kind
}

func (f *fakeRefresher) Refresh(_ context.Context, kind model.Kind, year int) (model.PriceSeries, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{kind, year})
	if kind == f.fail {
		return model.PriceSeries{}, errors.New("provider down")
	}
	return model.PriceSeries{
		Kind:         kind,
		Observations: []model.PriceObservation{{Timestamp: time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC), Price: 1}},
	}, nil
}

func newTestScheduler(t *testing.T, now time.Time) (*Scheduler, *fakeRefresher) {
	t.Helper()
	r := &fakeRefresher{}
	s := NewScheduler(context.Background(), r, time.UTC)
	s.Now = func() time.Time { return now }
	return s, r
}

func TestTargetYear(t *testing.T) {
	s, _ := newTestScheduler(t, time.Date(2024, 6, 15, 13, 30, 0, 0, time.UTC))
	assert.Equal(t, 2024, s.TargetYear())

	s, _ = newTestScheduler(t, time.Date(2025, 1, 1, 13, 30, 0, 0, time.UTC))
	assert.Equal(t, 2024, s.TargetYear())

	s, _ = newTestScheduler(t, time.Date(2025, 1, 2, 0, 0, 1, 0, time.UTC))
	assert.Equal(t, 2025, s.TargetYear())
}

func TestRunNow_RefreshesEveryKind(t *testing.T) {
	s, r := newTestScheduler(t, time.Date(2024, 6, 15, 13, 30, 0, 0, time.UTC))
	r.fail = model.KindImbalance

	var reported []error
	s.OnRefresh = func(kind model.Kind, year int, series model.PriceSeries, err error) {
		assert.Equal(t, 2024, year)
		reported = append(reported, err)
	}

	s.RunNow()

	assert.Equal(t, []call{{model.KindDayAhead, 2024}, {model.KindImbalance, 2024}}, r.calls)
	require.Len(t, reported, 2)
	assert.NoError(t, reported[0])
	assert.Error(t, reported[1])
}

func TestRunNow_CancelledContext(t *testing.T) {
	r := &fakeRefresher{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewScheduler(ctx, r, time.UTC)

	s.RunNow()
	assert.Empty(t, r.calls)
}

func TestRegister(t *testing.T) {
	s, _ := newTestScheduler(t, time.Now())
	require.NoError(t, s.Register("0 30 13 * * *"))
	assert.Len(t, s.Cron.Entries(), 1)

	assert.Error(t, s.Register("not a cron line"))
	// Five fields are rejected when seconds are required.
	assert.Error(t, s.Register("30 13 * * *"))
}
