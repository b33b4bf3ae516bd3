package pipeline

import (
	"fmt"
	"strconv"

	"energy_prices/internal/analysis"
)

// Table is a report section ready for printing or CSV export.
type Table struct {
	Name   string
	Title  string
	Header []string
	Rows   [][]string
}

// CellFormat renders a numeric cell; ok is false for a missing value.
type CellFormat func(v float64, ok bool) string

// FullPrecision keeps every digit, for exports that are read back.
func FullPrecision(v float64, ok bool) string {
	if !ok {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// OneDecimal is the display format.
func OneDecimal(v float64, ok bool) string {
	if !ok {
		return "-"
	}
	return strconv.FormatFloat(analysis.Round1(v), 'f', 1, 64)
}

// Tables lays the report out as annual, hour x year, hour x month, spread
// and histogram tables.
func (r *Report) Tables(f CellFormat) []Table {
	tables := []Table{r.annualTable(f), r.yearHourTable(f)}
	if r.Monthly != nil {
		tables = append(tables, r.monthHourTable(f))
	}
	return append(tables, r.spreadTable(f), r.histogramTable())
}

func (r *Report) annualTable(f CellFormat) Table {
	t := Table{
		Name:   "annual",
		Title:  "Annual mean (EUR/MWh)",
		Header: []string{"year", "mean", "min", "max", "count"},
	}
	for _, row := range r.Annual {
		ok := row.Count > 0
		t.Rows = append(t.Rows, []string{
			strconv.Itoa(row.Key), f(row.Mean, ok), f(row.Min, ok), f(row.Max, ok), strconv.Itoa(row.Count),
		})
	}
	return t
}

func (r *Report) yearHourTable(f CellFormat) Table {
	t := Table{
		Name:   "year_hour",
		Title:  "Mean price by hour of day",
		Header: []string{"hour"},
	}
	for _, y := range r.YearHour.Years {
		t.Header = append(t.Header, strconv.Itoa(y))
	}
	t.Header = append(t.Header, "Average")

	for h := range 24 {
		row := []string{strconv.Itoa(h)}
		for _, y := range r.YearHour.Years {
			row = append(row, f(r.YearHour.ByYear[y].Mean(h)))
		}
		row = append(row, f(r.YearHour.Average[h], r.YearHour.AverageCount[h] > 0))
		t.Rows = append(t.Rows, row)
	}
	return t
}

func (r *Report) monthHourTable(f CellFormat) Table {
	t := Table{
		Name:   "month_hour",
		Title:  fmt.Sprintf("Mean price by hour and month, %d", r.MonthYear),
		Header: []string{"hour"},
	}
	for m := 1; m <= 12; m++ {
		t.Header = append(t.Header, strconv.Itoa(m))
	}
	for h := range 24 {
		row := []string{strconv.Itoa(h)}
		for m := range 12 {
			row = append(row, f(r.MonthHour[m].Mean(h)))
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func (r *Report) spreadTable(f CellFormat) Table {
	t := Table{
		Name:   "spreads",
		Title:  "Spreads (EUR/MWh)",
		Header: []string{"year", "peak_offpeak", "extreme"},
	}
	for _, s := range r.Spreads {
		t.Rows = append(t.Rows, []string{strconv.Itoa(s.Year), fptr(f, s.Peak), fptr(f, s.Extreme)})
	}
	return t
}

func (r *Report) histogramTable() Table {
	t := Table{
		Name:   "histogram",
		Title:  "Price distribution (hours per bin)",
		Header: []string{"year", "lower", "upper", "count"},
	}
	for _, y := range r.Years {
		for _, b := range r.Histograms[y] {
			t.Rows = append(t.Rows, []string{
				strconv.Itoa(y),
				strconv.FormatFloat(b.Lower, 'f', -1, 64),
				strconv.FormatFloat(b.Upper, 'f', -1, 64),
				strconv.Itoa(b.Count),
			})
		}
	}
	return t
}

func fptr(f CellFormat, v *float64) string {
	if v == nil {
		return f(0, false)
	}
	return f(*v, true)
}
