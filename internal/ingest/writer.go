package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"energy_prices/internal/model"
)

// WriteSeries writes s in the artifact format read back by PriceParser.
// Prices keep full float precision so the round trip is exact.
func WriteSeries(w io.Writer, s model.PriceSeries) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "price"}); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, o := range s.Observations {
		record := []string{
			o.Timestamp.Format(time.RFC3339),
			strconv.FormatFloat(o.Price, 'f', -1, 64),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing %s: %w", o.Timestamp.Format(time.RFC3339), err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTable writes an exported table. Cells are formatted by the caller.
func WriteTable(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for i, row := range rows {
		if len(row) != len(header) {
			return fmt.Errorf("row %d has %d cells, header has %d", i, len(row), len(header))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// FormatPrice renders a price cell. Missing values become empty cells.
func FormatPrice(v float64, valid bool) string {
	if !valid {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteJoined writes the combined 15-minute export, one row per slot.
func WriteJoined(w io.Writer, rows []model.JoinedRow) error {
	header := []string{"time", model.KindCatalog[model.KindDayAhead].Column, model.KindCatalog[model.KindImbalance].Column}
	records := make([][]string, len(rows))
	for i, r := range rows {
		records[i] = []string{
			r.Timestamp.Format(time.RFC3339),
			FormatPrice(r.DayAhead, r.DayAheadValid),
			FormatPrice(r.Imbalance, r.ImbalanceValid),
		}
	}
	return WriteTable(w, header, records)
}
