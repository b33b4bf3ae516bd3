package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"energy_prices/internal/app"
	"energy_prices/internal/config"
	"energy_prices/internal/ingest"
	"energy_prices/internal/model"
	"energy_prices/internal/pipeline"
)

func main() {
	configPath := flag.String("config", "config.yaml", "YAML config file (optional)")
	kindFlag := flag.String("kind", "DA", "price kind (DA, imb)")
	fromYear := flag.Int("from", 0, "first year (default: analysis.start_year)")
	toYear := flag.Int("to", 0, "last year (default: current year)")
	monthYear := flag.Int("month-year", 0, "year of the hour x month table (default: last year with data)")
	days := flag.String("days", "all", "day filter: all, business, non-business")
	binWidth := flag.Float64("bin-width", 0, "histogram bin width in EUR/MWh (default from config)")
	exportDir := flag.String("export", "", "directory to write the tables as CSV")
	flag.Parse()

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("Warning: %v", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Loading config: %v", err)
	}
	if *binWidth > 0 {
		cfg.Analysis.BinWidth = *binWidth
	}

	kind, err := model.ParseKind(*kindFlag)
	if err != nil {
		log.Fatal(err)
	}
	filter, err := pipeline.ParseDayFilter(*days)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := app.Open(ctx, cfg, app.Options{})
	if err != nil {
		log.Fatalf("Setting up: %v", err)
	}
	defer a.Close()

	years := selectYears(a.Years(time.Now()), *fromYear, *toYear)
	report, err := a.Builder.Build(ctx, pipeline.Request{Kind: kind, Years: years, MonthYear: *monthYear, Days: filter})
	if err != nil {
		log.Fatalf("Building report: %v", err)
	}

	printReport(report, a.Builder.Settings())

	if *exportDir != "" {
		if err := exportTables(*exportDir, report); err != nil {
			log.Fatalf("Exporting: %v", err)
		}
	}
}

func selectYears(all []int, from, to int) []int {
	var out []int
	for _, y := range all {
		if (from == 0 || y >= from) && (to == 0 || y <= to) {
			out = append(out, y)
		}
	}
	return out
}

func printReport(r *pipeline.Report, s pipeline.Settings) {
	info := model.KindCatalog[r.Kind]
	fmt.Println()
	fmt.Printf("%s, %s (%s days)\n", info.Name, r.Country, r.Days)
	fmt.Printf("  Years: %d to %d   Zone: %s\n", r.Years[0], r.Years[len(r.Years)-1], s.Location)
	for _, f := range r.Failures {
		fmt.Printf("  Missing %d: %s\n", f.Year, f.Err)
	}
	fmt.Printf("  Peak %s vs off-peak %s; cheapest %d of %s vs most expensive %d of %s\n",
		s.Peak, s.OffPeak, s.Cheapest, s.Cheap, s.MostExpensive, s.Expensive)

	for _, t := range r.Tables(pipeline.OneDecimal) {
		if t.Name == "histogram" {
			continue
		}
		fmt.Println()
		printTable(t)
	}

	fmt.Println()
	printHistograms(r)
}

func printTable(t pipeline.Table) {
	widths := make([]int, len(t.Header))
	for i, h := range t.Header {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.Rows {
		for i, c := range row {
			widths[i] = max(widths[i], utf8.RuneCountInString(c))
		}
	}

	fmt.Printf("  %s:\n", t.Title)
	cells := make([]string, len(t.Header))
	for i, h := range t.Header {
		cells[i] = fmt.Sprintf("%*s", widths[i], h)
	}
	fmt.Printf("   %s\n", strings.Join(cells, " │ "))

	rules := make([]string, len(widths))
	for i, w := range widths {
		rules[i] = strings.Repeat("─", w+2)
	}
	fmt.Printf("  %s\n", strings.Join(rules, "┼"))

	for _, row := range t.Rows {
		for i, c := range row {
			cells[i] = fmt.Sprintf("%*s", widths[i], c)
		}
		fmt.Printf("   %s\n", strings.Join(cells, " │ "))
	}
}

// printHistograms draws one bar per bin, scaled to the fullest bin.
func printHistograms(r *pipeline.Report) {
	const barWidth = 40
	fmt.Println("  Price distribution (hours per bin):")
	for _, y := range r.Years {
		bins := r.Histograms[y]
		peak := 0
		for _, b := range bins {
			peak = max(peak, b.Count)
		}
		fmt.Printf("   %d\n", y)
		for _, b := range bins {
			n := 0
			if peak > 0 {
				n = b.Count * barWidth / peak
			}
			fmt.Printf("   %7.0f to %-7.0f │ %6d %s\n", b.Lower, b.Upper, b.Count, strings.Repeat("█", n))
		}
	}
}

func exportTables(dir string, r *pipeline.Report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating export directory: %w", err)
	}
	prefix := fmt.Sprintf("%s_%s_%d-%d", model.KindCatalog[r.Kind].Prefix, r.Country, r.Years[0], r.Years[len(r.Years)-1])
	if r.Days != pipeline.AllDays {
		prefix += "_" + string(r.Days)
	}

	for _, t := range r.Tables(pipeline.FullPrecision) {
		path := filepath.Join(dir, prefix+"_"+t.Name+".csv")
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := ingest.WriteTable(f, t.Header, t.Rows); err != nil {
			f.Close()
			return fmt.Errorf("writing %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		log.Printf("Wrote %s (%d rows)", path, len(t.Rows))
	}
	return nil
}
