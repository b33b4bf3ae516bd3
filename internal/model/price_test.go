package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Kind
	}{
		{"canonical day-ahead", "day_ahead", KindDayAhead},
		{"prefix day-ahead", "DA", KindDayAhead},
		{"canonical imbalance", "imbalance", KindImbalance},
		{"prefix imbalance", "imb", KindImbalance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := ParseKind(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, k)
		})
	}

	_, err := ParseKind("intraday")
	assert.Error(t, err)
}

func TestPriceSeries_Validate(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	ok := PriceSeries{Observations: []PriceObservation{
		{Timestamp: base, Price: 10},
		{Timestamp: base.Add(time.Hour), Price: 20},
		{Timestamp: base.Add(3 * time.Hour), Price: 30}, // gap is allowed
	}}
	assert.NoError(t, ok.Validate())

	dup := PriceSeries{Observations: []PriceObservation{
		{Timestamp: base, Price: 10},
		{Timestamp: base, Price: 11},
	}}
	assert.Error(t, dup.Validate())

	backwards := PriceSeries{Observations: []PriceObservation{
		{Timestamp: base.Add(time.Hour), Price: 10},
		{Timestamp: base, Price: 11},
	}}
	assert.Error(t, backwards.Validate())
}

func TestPriceSeries_TimeRange(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, ok := PriceSeries{}.TimeRange()
	assert.False(t, ok)

	s := PriceSeries{Observations: []PriceObservation{
		{Timestamp: base, Price: 1},
		{Timestamp: base.Add(2 * time.Hour), Price: 2},
	}}
	tr, ok := s.TimeRange()
	require.True(t, ok)
	assert.Equal(t, base, tr.Start)
	assert.Equal(t, base.Add(2*time.Hour), tr.End)
	assert.Equal(t, []float64{1, 2}, s.Prices())
}

func TestFetchWindow(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	w := FetchWindow{Start: start, End: start.Add(24 * time.Hour)}

	require.NoError(t, w.Validate())
	assert.Equal(t, 24*time.Hour, w.Span())
	assert.True(t, w.Contains(start))
	assert.True(t, w.Contains(start.Add(23*time.Hour)))
	assert.False(t, w.Contains(start.Add(24*time.Hour)))
	assert.False(t, w.Contains(start.Add(-time.Second)))

	empty := FetchWindow{Start: start, End: start}
	assert.Error(t, empty.Validate())
}

func TestBiddingZone(t *testing.T) {
	assert.Equal(t, "10YNL----------L", BiddingZone["NL"])
}
