package entsoe

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"time"

	"energy_prices/internal/model"
)

// Imbalance price categories used in A85 documents.
const (
	CategoryLong  = "A04"
	CategoryShort = "A05"
)

// marketDocument covers Publication_MarketDocument (A44), Balancing_MarketDocument
// (A85) and Acknowledgement_MarketDocument. Tags carry no namespace so every
// document version matches.
type marketDocument struct {
	XMLName    xml.Name
	TimeSeries []timeSeries `xml:"TimeSeries"`
	Reasons    []reason     `xml:"Reason"`
}

type reason struct {
	Code string `xml:"code"`
	Text string `xml:"text"`
}

type timeSeries struct {
	CurveType   string   `xml:"curveType"`
	Currency    string   `xml:"currency_Unit.name"`
	MeasureUnit string   `xml:"price_Measure_Unit.name"`
	Periods     []period `xml:"Period"`
}

type period struct {
	Interval struct {
		Start string `xml:"start"`
		End   string `xml:"end"`
	} `xml:"timeInterval"`
	Resolution string  `xml:"resolution"`
	Points     []point `xml:"Point"`
}

type point struct {
	Position       int      `xml:"position"`
	Price          *float64 `xml:"price.amount"`
	ImbalancePrice *float64 `xml:"imbalance_Price.amount"`
	Category       string   `xml:"imbalance_Price.category"`
}

func (p point) amount() (float64, bool) {
	if p.Price != nil {
		return *p.Price, true
	}
	if p.ImbalancePrice != nil {
		return *p.ImbalancePrice, true
	}
	return 0, false
}

var resolutionPattern = regexp.MustCompile(`^PT(\d+)([MH])$`)

// parseResolution converts ISO 8601 durations such as PT15M and PT60M.
func parseResolution(s string) (time.Duration, error) {
	m := resolutionPattern.FindStringSubmatch(s)
	if m == nil {
		if s == "P1D" {
			return 24 * time.Hour, nil
		}
		return 0, fmt.Errorf("unsupported resolution %q", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("unsupported resolution %q", s)
	}
	if m[2] == "H" {
		return time.Duration(n) * time.Hour, nil
	}
	return time.Duration(n) * time.Minute, nil
}

// parseInstant parses interval bounds like 2023-12-31T23:00Z.
func parseInstant(s string) (time.Time, error) {
	ts, err := time.Parse("2006-01-02T15:04Z", s)
	if err == nil {
		return ts.UTC(), nil
	}
	ts, err = time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing instant %q: %w", s, err)
	}
	return ts.UTC(), nil
}

// parseDocument decodes one XML document into observations. An
// acknowledgement document is returned as a *ProviderError.
func parseDocument(data []byte, category string) ([]model.PriceObservation, time.Duration, error) {
	var doc marketDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, 0, fmt.Errorf("parsing XML: %w", err)
	}

	if doc.XMLName.Local == "Acknowledgement_MarketDocument" {
		pe := &ProviderError{StatusCode: 200}
		if len(doc.Reasons) > 0 {
			pe.Code = doc.Reasons[0].Code
			pe.Message = doc.Reasons[0].Text
		}
		return nil, 0, pe
	}

	var obs []model.PriceObservation
	var resolution time.Duration

	for _, ts := range doc.TimeSeries {
		for _, p := range ts.Periods {
			res, err := parseResolution(p.Resolution)
			if err != nil {
				return nil, 0, err
			}
			if resolution == 0 {
				resolution = res
			}

			start, err := parseInstant(p.Interval.Start)
			if err != nil {
				return nil, 0, err
			}
			end, err := parseInstant(p.Interval.End)
			if err != nil {
				return nil, 0, err
			}

			obs = append(obs, expandPeriod(p, ts.CurveType, category, start, end, res)...)
		}
	}

	return obs, resolution, nil
}

// expandPeriod turns positional points into timestamped observations. Curve
// type A03 omits positions whose price repeats the previous one; those are
// filled up to the period end.
func expandPeriod(p period, curveType, category string, start, end time.Time, res time.Duration) []model.PriceObservation {
	slots := int(end.Sub(start) / res)
	if slots <= 0 {
		return nil
	}

	values := make(map[int]float64, len(p.Points))
	for _, pt := range p.Points {
		if category != "" && pt.Category != "" && pt.Category != category {
			continue
		}
		v, ok := pt.amount()
		if !ok || pt.Position < 1 || pt.Position > slots {
			continue
		}
		values[pt.Position] = v
	}

	obs := make([]model.PriceObservation, 0, slots)
	var last float64
	var have bool
	for pos := 1; pos <= slots; pos++ {
		v, ok := values[pos]
		if !ok {
			if curveType != "A03" || !have {
				continue
			}
			v = last
		}
		last, have = v, true
		obs = append(obs, model.PriceObservation{
			Timestamp: start.Add(time.Duration(pos-1) * res),
			Price:     v,
		})
	}
	return obs
}

// parseResponse handles a plain XML body or a zip archive of XML documents,
// which the platform returns for imbalance prices.
func parseResponse(body []byte, category string) ([]model.PriceObservation, time.Duration, error) {
	if !bytes.HasPrefix(body, []byte("PK\x03\x04")) {
		return parseDocument(body, category)
	}

	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, 0, fmt.Errorf("opening zip response: %w", err)
	}

	var all []model.PriceObservation
	var resolution time.Duration
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, 0, fmt.Errorf("opening %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, 0, fmt.Errorf("reading %s: %w", f.Name, err)
		}

		obs, res, err := parseDocument(data, category)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: %w", f.Name, err)
		}
		if resolution == 0 {
			resolution = res
		}
		all = append(all, obs...)
	}
	return all, resolution, nil
}

// clip keeps observations inside [start, end), sorted, first one wins on
// duplicate timestamps.
func clip(obs []model.PriceObservation, start, end time.Time) []model.PriceObservation {
	sort.SliceStable(obs, func(i, j int) bool {
		return obs[i].Timestamp.Before(obs[j].Timestamp)
	})

	out := make([]model.PriceObservation, 0, len(obs))
	for _, o := range obs {
		if o.Timestamp.Before(start) || !o.Timestamp.Before(end) {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(o.Timestamp) {
			continue
		}
		out = append(out, o)
	}
	return out
}
