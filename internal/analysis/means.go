// Package analysis computes descriptive price statistics: grouped means,
// band spreads and histograms. All means are plain arithmetic means over the
// points present; rounding is left to the caller.
package analysis

import (
	"math"
	"sort"
	"time"

	"energy_prices/internal/model"
)

type bucket struct {
	sum      float64
	min, max float64
	count    int
}

func (b *bucket) add(v float64) {
	if b.count == 0 || v < b.min {
		b.min = v
	}
	if b.count == 0 || v > b.max {
		b.max = v
	}
	b.sum += v
	b.count++
}

func (b bucket) row(key int) model.AggregateRow {
	r := model.AggregateRow{Key: key, Count: b.count}
	if b.count > 0 {
		r.Mean = b.sum / float64(b.count)
		r.Min = b.min
		r.Max = b.max
	}
	return r
}

// HourTable holds one row per hour of day; Key is the hour.
type HourTable [24]model.AggregateRow

// Mean returns the mean for hour h; ok is false when the hour has no data.
func (t HourTable) Mean(h int) (float64, bool) {
	if h < 0 || h > 23 || t[h].Count == 0 {
		return 0, false
	}
	return t[h].Mean, true
}

// HourlyMean groups observations by hour of day in loc.
func HourlyMean(obs []model.PriceObservation, loc *time.Location) HourTable {
	var buckets [24]bucket
	for _, o := range obs {
		buckets[o.Timestamp.In(loc).Hour()].add(o.Price)
	}
	var t HourTable
	for h := range buckets {
		t[h] = buckets[h].row(h)
	}
	return t
}

// YearHourTable is the (year, hour) pivot with a cross-year Average per hour.
type YearHourTable struct {
	Years   []int             `json:"years"`
	ByYear  map[int]HourTable `json:"by_year"`
	Average [24]float64       `json:"average"`
	// AverageCount is the number of years that contributed to Average.
	AverageCount [24]int `json:"average_count"`
}

// YearHourlyMean computes HourlyMean per year. Average[h] is the mean of the
// yearly hour means, so every year weighs the same.
func YearHourlyMean(byYear map[int][]model.PriceObservation, loc *time.Location) YearHourTable {
	t := YearHourTable{ByYear: make(map[int]HourTable, len(byYear))}
	for y, obs := range byYear {
		t.Years = append(t.Years, y)
		t.ByYear[y] = HourlyMean(obs, loc)
	}
	sort.Ints(t.Years)

	for h := range 24 {
		var sum float64
		for _, y := range t.Years {
			if m, ok := t.ByYear[y].Mean(h); ok {
				sum += m
				t.AverageCount[h]++
			}
		}
		if t.AverageCount[h] > 0 {
			t.Average[h] = sum / float64(t.AverageCount[h])
		}
	}
	return t
}

// MonthHourTable holds an HourTable per calendar month; index 0 is January.
type MonthHourTable [12]HourTable

// MonthHourlyMean groups observations by (month, hour) in loc.
func MonthHourlyMean(obs []model.PriceObservation, loc *time.Location) MonthHourTable {
	var buckets [12][24]bucket
	for _, o := range obs {
		ts := o.Timestamp.In(loc)
		buckets[ts.Month()-1][ts.Hour()].add(o.Price)
	}
	var t MonthHourTable
	for m := range buckets {
		for h := range buckets[m] {
			t[m][h] = buckets[m][h].row(h)
		}
	}
	return t
}

// AnnualMean returns one row per year, ordered by year. Key is the year.
func AnnualMean(byYear map[int][]model.PriceObservation) []model.AggregateRow {
	rows := make([]model.AggregateRow, 0, len(byYear))
	for y, obs := range byYear {
		var b bucket
		for _, o := range obs {
			b.add(o.Price)
		}
		rows = append(rows, b.row(y))
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })
	return rows
}

// MonthlyMean returns one row per month with data, Key 1..12.
func MonthlyMean(obs []model.PriceObservation, loc *time.Location) []model.AggregateRow {
	var buckets [12]bucket
	for _, o := range obs {
		buckets[o.Timestamp.In(loc).Month()-1].add(o.Price)
	}
	var rows []model.AggregateRow
	for m, b := range buckets {
		if b.count > 0 {
			rows = append(rows, b.row(m+1))
		}
	}
	return rows
}

// GroupByYear splits observations by calendar year in loc.
func GroupByYear(obs []model.PriceObservation, loc *time.Location) map[int][]model.PriceObservation {
	out := make(map[int][]model.PriceObservation)
	for _, o := range obs {
		y := o.Timestamp.In(loc).Year()
		out[y] = append(out[y], o)
	}
	return out
}

// Round1 rounds to one decimal for display.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}
