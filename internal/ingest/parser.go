// Package ingest reads and writes price CSV files.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"energy_prices/internal/model"
)

// Parser reads a price series from a source.
type Parser interface {
	Parse(r io.Reader) (model.PriceSeries, error)
}

// PriceParser parses price CSV files.
//
// Expected format (cache artifacts):
//
//	time,price
//	2024-01-01T00:00:00+01:00,39.1
//
// Older exports name the value column after the kind and use a space
// separated timestamp:
//
//	time,DA_price
//	2024-01-01 00:00:00+01:00,39.1
type PriceParser struct {
	Kind    model.Kind
	Country string
	// Strict fails on the first bad row instead of skipping it, and rejects
	// out-of-order timestamps. Cache artifacts are read strictly.
	Strict bool
}

func NewPriceParser(kind model.Kind, country string) *PriceParser {
	return &PriceParser{Kind: kind, Country: country, Strict: true}
}

func (p *PriceParser) Parse(r io.Reader) (model.PriceSeries, error) {
	series := model.PriceSeries{Kind: p.Kind, Country: p.Country, Unit: model.UnitEURPerMWh}

	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return series, fmt.Errorf("reading CSV header: %w", err)
	}
	if err := validatePriceHeader(header, p.Kind); err != nil {
		return series, err
	}

	lineNum := 1
	for {
		lineNum++
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return series, fmt.Errorf("reading CSV line %d: %w", lineNum, err)
		}

		obs, err := parsePriceRecord(record, lineNum)
		if err != nil {
			if p.Strict {
				return series, err
			}
			// Skip unparseable rows (e.g. empty price cells)
			continue
		}
		series.Observations = append(series.Observations, obs)
	}

	if p.Strict {
		if err := series.Validate(); err != nil {
			return series, err
		}
	} else {
		sort.SliceStable(series.Observations, func(i, j int) bool {
			return series.Observations[i].Timestamp.Before(series.Observations[j].Timestamp)
		})
	}

	series.Resolution = inferResolution(series.Observations)
	return series, nil
}

// PriceColumns lists the accepted names of the value column for kind.
func PriceColumns(kind model.Kind) []string {
	cols := []string{"price"}
	if info, ok := model.KindCatalog[kind]; ok {
		cols = append(cols, info.Column)
	}
	return cols
}

func validatePriceHeader(header []string, kind model.Kind) error {
	if len(header) < 2 {
		return fmt.Errorf("expected at least 2 columns, got %d", len(header))
	}
	if col := strings.TrimSpace(strings.TrimPrefix(header[0], "\ufeff")); col != "time" {
		return fmt.Errorf("expected column 0 to be %q, got %q", "time", header[0])
	}

	allowed := PriceColumns(kind)
	col := strings.TrimSpace(header[1])
	for _, a := range allowed {
		if col == a {
			return nil
		}
	}
	return fmt.Errorf("expected column 1 to be one of %q, got %q", allowed, header[1])
}

func parsePriceRecord(record []string, lineNum int) (model.PriceObservation, error) {
	if len(record) < 2 {
		return model.PriceObservation{}, fmt.Errorf("line %d: expected 2 fields, got %d", lineNum, len(record))
	}

	ts, err := ParseTimestamp(strings.TrimSpace(record[0]))
	if err != nil {
		return model.PriceObservation{}, fmt.Errorf("line %d: %w", lineNum, err)
	}

	price, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
	if err != nil {
		return model.PriceObservation{}, fmt.Errorf("line %d: parsing price %q: %w", lineNum, record[1], err)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return model.PriceObservation{}, fmt.Errorf("line %d: price %q is not finite", lineNum, record[1])
	}

	return model.PriceObservation{Timestamp: ts, Price: price}, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04Z07:00",
}

// ParseTimestamp accepts RFC 3339, the space separated pandas form and Unix
// epoch seconds. Timestamps without an offset are rejected.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	if ts, err := parseUnixTimestamp(s); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("parsing timestamp %q: no offset-aware layout matched", s)
}

// parseUnixTimestamp parses a Unix epoch float (seconds) into a time.Time.
func parseUnixTimestamp(s string) (time.Time, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %q as unix timestamp: %w", s, err)
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
}

// inferResolution returns the smallest step between consecutive observations.
func inferResolution(obs []model.PriceObservation) time.Duration {
	var res time.Duration
	for i := 1; i < len(obs); i++ {
		d := obs[i].Timestamp.Sub(obs[i-1].Timestamp)
		if d > 0 && (res == 0 || d < res) {
			res = d
		}
	}
	return res
}
