// Package pipeline ties the year cache to the aligner and the aggregator.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"energy_prices/internal/align"
	"energy_prices/internal/analysis"
	"energy_prices/internal/cache"
	"energy_prices/internal/config"
	"energy_prices/internal/model"
)

// FineStep is the grid the combined export is laid on.
const FineStep = 15 * time.Minute

// YearSource returns the cached series for one year.
type YearSource interface {
	Get(ctx context.Context, kind model.Kind, year int) (model.PriceSeries, error)
}

// DayFilter restricts reports to business days or to the other days.
type DayFilter string

const (
	AllDays        DayFilter = "all"
	BusinessDays   DayFilter = "business"
	NonBusinessDay DayFilter = "non-business"
)

func ParseDayFilter(s string) (DayFilter, error) {
	switch DayFilter(s) {
	case "", AllDays:
		return AllDays, nil
	case BusinessDays, NonBusinessDay:
		return DayFilter(s), nil
	}
	return "", fmt.Errorf("unknown day filter %q (want all, business or non-business)", s)
}

type Settings struct {
	Location      *time.Location
	Peak          analysis.Band
	OffPeak       analysis.Band
	Cheap         analysis.Band
	Expensive     analysis.Band
	Cheapest      int
	MostExpensive int
	BinWidth      float64
	Calendar      *analysis.BusinessDays
}

// SettingsFromConfig resolves zone, bands and calendar from cfg.
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	loc, err := cfg.Location()
	if err != nil {
		return Settings{}, err
	}
	bands, err := cfg.Bands()
	if err != nil {
		return Settings{}, err
	}
	s := Settings{
		Location:      loc,
		Peak:          bands.Peak,
		OffPeak:       bands.OffPeak,
		Cheap:         bands.Cheap,
		Expensive:     bands.Expensive,
		Cheapest:      cfg.Analysis.Cheapest,
		MostExpensive: cfg.Analysis.MostExpensive,
		BinWidth:      cfg.Analysis.BinWidth,
	}
	s.Calendar = analysis.NewBusinessDays(cfg.Analysis.BusinessCalendar, loc)
	return s, nil
}

// Request selects what a report covers. MonthYear picks the year of the
// month x hour table; zero uses the last loaded year.
type Request struct {
	Kind      model.Kind
	Years     []int
	MonthYear int
	Days      DayFilter
}

// YearSpread holds both spread metrics for one year. A metric is absent
// when one of its bands has no data.
type YearSpread struct {
	Year       int      `json:"year"`
	Peak       *float64 `json:"peak_offpeak,omitempty"`
	Extreme    *float64 `json:"extreme,omitempty"`
	PeakErr    string   `json:"peak_error,omitempty"`
	ExtremeErr string   `json:"extreme_error,omitempty"`
}

// YearFailure records a year that could not be loaded.
type YearFailure struct {
	Year int    `json:"year"`
	Err  string `json:"error"`
}

type Report struct {
	Kind       model.Kind              `json:"kind"`
	Country    string                  `json:"country"`
	Days       DayFilter               `json:"days"`
	Years      []int                   `json:"years"`
	Annual     []model.AggregateRow    `json:"annual"`
	YearHour   analysis.YearHourTable  `json:"year_hour"`
	MonthYear  int                     `json:"month_year"`
	MonthHour  analysis.MonthHourTable `json:"month_hour"`
	Monthly    []model.AggregateRow    `json:"monthly"`
	Spreads    []YearSpread            `json:"spreads"`
	Histograms map[int][]analysis.Bin  `json:"histograms"`
	Failures   []YearFailure           `json:"failures,omitempty"`
}

type Builder struct {
	source   YearSource
	country  string
	settings Settings
}

func NewBuilder(source YearSource, country string, settings Settings) *Builder {
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	if settings.BinWidth <= 0 {
		settings.BinWidth = analysis.DefaultBinWidth
	}
	if settings.Calendar == nil {
		settings.Calendar = analysis.WeekdaysOnly(settings.Location)
	}
	return &Builder{source: source, country: country, settings: settings}
}

func (b *Builder) Settings() Settings { return b.settings }

// LoadYears fetches each year through the cache. Years without data are
// skipped and reported; a corrupt artifact aborts the load.
func (b *Builder) LoadYears(ctx context.Context, kind model.Kind, years []int) (map[int][]model.PriceObservation, []YearFailure, error) {
	byYear := make(map[int][]model.PriceObservation, len(years))
	var failures []YearFailure
	for _, y := range years {
		s, err := b.source.Get(ctx, kind, y)
		switch {
		case err == nil:
			byYear[y] = s.Observations
			log.Printf("Loaded %s %d: %d rows", kind, y, s.Len())
		case errors.Is(err, cache.ErrCacheCorrupt), ctx.Err() != nil:
			return nil, nil, err
		default:
			log.Printf("Skipping %s %d: %v", kind, y, err)
			failures = append(failures, YearFailure{Year: y, Err: err.Error()})
		}
	}
	return byYear, failures, nil
}

// Build loads the requested years and computes every table.
func (b *Builder) Build(ctx context.Context, req Request) (*Report, error) {
	if len(req.Years) == 0 {
		return nil, fmt.Errorf("no years requested")
	}
	byYear, failures, err := b.LoadYears(ctx, req.Kind, req.Years)
	if err != nil {
		return nil, err
	}
	if req.Days == "" {
		req.Days = AllDays
	}
	if req.Days != AllDays {
		for y, obs := range byYear {
			byYear[y] = b.settings.Calendar.Filter(obs, req.Days == NonBusinessDay)
		}
	}

	loc := b.settings.Location
	r := &Report{
		Kind:     req.Kind,
		Country:  b.country,
		Days:     req.Days,
		Failures: failures,
		Annual:   analysis.AnnualMean(byYear),
		YearHour: analysis.YearHourlyMean(byYear, loc),
	}
	r.Years = r.YearHour.Years
	if len(r.Years) == 0 {
		return r, fmt.Errorf("no data for %s in any of %v", req.Kind, req.Years)
	}

	r.MonthYear = req.MonthYear
	if r.MonthYear == 0 {
		r.MonthYear = r.Years[len(r.Years)-1]
	}
	if obs, ok := byYear[r.MonthYear]; ok {
		r.MonthHour = analysis.MonthHourlyMean(obs, loc)
		r.Monthly = analysis.MonthlyMean(obs, loc)
	}

	s := b.settings
	for _, y := range r.Years {
		hourly := r.YearHour.ByYear[y]
		ys := YearSpread{Year: y}
		if v, err := analysis.BandSpread(hourly, s.Peak, s.OffPeak); err != nil {
			ys.PeakErr = err.Error()
		} else {
			ys.Peak = &v
		}
		if v, err := analysis.ExtremeSpread(hourly, s.Cheap, s.Cheapest, s.Expensive, s.MostExpensive); err != nil {
			ys.ExtremeErr = err.Error()
		} else {
			ys.Extreme = &v
		}
		r.Spreads = append(r.Spreads, ys)
	}

	_, r.Histograms = analysis.YearHistograms(byYear, s.BinWidth)
	return r, nil
}

// Joined lays the day-ahead and imbalance series of year on one shared
// 15-minute grid spanning both series. Day-ahead values are carried forward.
// Imbalance values are placed by timestamp, so a gap in the imbalance series
// leaves those rows without an imbalance price.
func (b *Builder) Joined(ctx context.Context, year int) ([]model.JoinedRow, *align.Mismatch, error) {
	da, err := b.source.Get(ctx, model.KindDayAhead, year)
	if err != nil {
		return nil, nil, fmt.Errorf("day-ahead %d: %w", year, err)
	}
	imb, err := b.source.Get(ctx, model.KindImbalance, year)
	if err != nil {
		return nil, nil, fmt.Errorf("imbalance %d: %w", year, err)
	}

	grid := sharedGrid(da, imb)
	rows, m := align.Join(align.ForwardFill(da, grid), align.Place(imb, grid, resolution(imb)))
	if m != nil {
		log.Printf("Warning: %d day-ahead/imbalance %s", year, m)
	}
	return rows, m, nil
}

// sharedGrid runs at FineStep from the earliest observation of any series to
// the end of the latest one.
func sharedGrid(series ...model.PriceSeries) []time.Time {
	var start, end time.Time
	for _, s := range series {
		tr, ok := s.TimeRange()
		if !ok {
			continue
		}
		last := tr.End.Add(resolution(s))
		if start.IsZero() || tr.Start.Before(start) {
			start = tr.Start
		}
		if end.IsZero() || last.After(end) {
			end = last
		}
	}
	return align.NewGrid(start, end, FineStep)
}

func resolution(s model.PriceSeries) time.Duration {
	if s.Resolution <= 0 {
		return model.ResolutionHour
	}
	return s.Resolution
}
