// Package model defines price series, fetch windows and cache entries.
package model

import (
	"fmt"
	"time"
)

// Kind identifies which market a price series comes from.
type Kind string

const (
	KindDayAhead  Kind = "day_ahead"
	KindImbalance Kind = "imbalance"
)

// KindInfo holds display name, artifact prefix and CSV column for a kind.
type KindInfo struct {
	Name   string
	Prefix string
	Column string
}

// KindCatalog maps every known Kind to its display name and file naming.
var KindCatalog = map[Kind]KindInfo{
	KindDayAhead:  {Name: "Day-Ahead Price", Prefix: "DA", Column: "DA_price"},
	KindImbalance: {Name: "Imbalance Price", Prefix: "imb", Column: "imb_price"},
}

// ParseKind accepts the canonical kind names and the short artifact prefixes.
func ParseKind(s string) (Kind, error) {
	for k, info := range KindCatalog {
		if s == string(k) || s == info.Prefix {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown price kind %q", s)
}

// BiddingZone maps country codes to ENTSO-E EIC area codes.
var BiddingZone = map[string]string{
	"NL":    "10YNL----------L",
	"BE":    "10YBE----------2",
	"DE_LU": "10Y1001A1001A82H",
	"FR":    "10YFR-RTE------C",
}

const (
	ResolutionHour        = time.Hour
	ResolutionQuarterHour = 15 * time.Minute
	UnitEURPerMWh         = "EUR/MWh"
	DefaultTimezone       = "Europe/Amsterdam"
	DefaultMaxWindowSpan  = 90 * 24 * time.Hour
)

// PriceObservation is one price point. Timestamp always carries a location.
type PriceObservation struct {
	Timestamp time.Time
	Price     float64
}

// PriceSeries is an ordered set of observations at a fixed resolution.
type PriceSeries struct {
	Kind         Kind
	Country      string
	Resolution   time.Duration
	Unit         string
	Observations []PriceObservation
}

func (s PriceSeries) Len() int { return len(s.Observations) }

// Validate checks that timestamps are strictly increasing.
func (s PriceSeries) Validate() error {
	for i := 1; i < len(s.Observations); i++ {
		if !s.Observations[i].Timestamp.After(s.Observations[i-1].Timestamp) {
			return fmt.Errorf("observation %d (%s) does not follow %s",
				i, s.Observations[i].Timestamp.Format(time.RFC3339), s.Observations[i-1].Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}

// TimeRange returns the first and last observation timestamps.
func (s PriceSeries) TimeRange() (TimeRange, bool) {
	if len(s.Observations) == 0 {
		return TimeRange{}, false
	}
	return TimeRange{
		Start: s.Observations[0].Timestamp,
		End:   s.Observations[len(s.Observations)-1].Timestamp,
	}, true
}

// Prices returns the bare price values.
func (s PriceSeries) Prices() []float64 {
	out := make([]float64, len(s.Observations))
	for i, o := range s.Observations {
		out[i] = o.Price
	}
	return out
}

type TimeRange struct {
	Start time.Time
	End   time.Time
}

// FetchWindow is the half-open interval [Start, End).
type FetchWindow struct {
	Start time.Time
	End   time.Time
}

func (w FetchWindow) Validate() error {
	if !w.End.After(w.Start) {
		return fmt.Errorf("window end %s is not after start %s",
			w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}
	return nil
}

func (w FetchWindow) Span() time.Duration { return w.End.Sub(w.Start) }

func (w FetchWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func (w FetchWindow) String() string {
	return fmt.Sprintf("%s → %s", w.Start.Format("2006-01-02 15:04 MST"), w.End.Format("2006-01-02 15:04 MST"))
}

// CacheEntry records when a year artifact was fetched and whether it is final.
// Complete is only true for a past year fetched without failed windows.
type CacheEntry struct {
	Kind          Kind
	Country       string
	Year          int
	FetchedAt     time.Time
	Complete      bool
	Rows          int
	FailedWindows []FetchWindow
	RunID         string
}

// GridPoint is a fine-grid slot. Valid is false when no value is known.
type GridPoint struct {
	Timestamp time.Time
	Price     float64
	Valid     bool
}

// Grid is a series laid onto a regular time grid.
type Grid struct {
	Kind   Kind
	Step   time.Duration
	Points []GridPoint
}

// AggregateRow is one grouped statistic.
type AggregateRow struct {
	Key   int     `json:"key"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

// JoinedRow is one slot of the combined day-ahead and imbalance export.
type JoinedRow struct {
	Timestamp      time.Time
	DayAhead       float64
	DayAheadValid  bool
	Imbalance      float64
	ImbalanceValid bool
}
