package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"energy_prices/internal/app"
	"energy_prices/internal/cache"
	"energy_prices/internal/config"
	"energy_prices/internal/ingest"
	"energy_prices/internal/model"
)

func main() {
	configPath := flag.String("config", "config.yaml", "YAML config file (optional)")
	yearsFlag := flag.String("years", "", "years to fetch, e.g. 2015-2024,2026 (default: start_year through current year)")
	kindsFlag := flag.String("kinds", "DA,imb", "comma-separated price kinds (DA, imb)")
	refresh := flag.Bool("refresh", false, "fetch again even when a year is cached")
	alignYear := flag.Int("align", 0, "write the combined 15-minute DA/imbalance CSV for this year")
	output := flag.String("output", "", "output path for -align")
	status := flag.Bool("status", false, "print the cache manifest and exit")
	flag.Parse()

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("Warning: %v", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Loading config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, *yearsFlag, *kindsFlag, *refresh, *alignYear, *output, *status); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg *config.Config, yearsFlag, kindsFlag string, refresh bool, alignYear int, output string, status bool) error {
	a, err := app.Open(ctx, cfg, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	if status {
		entries, err := a.Cache.Entries(ctx)
		if err != nil {
			return err
		}
		printStatus(entries)
		return nil
	}

	if alignYear != 0 {
		return writeAligned(ctx, a, alignYear, output)
	}

	kinds, err := parseKinds(kindsFlag)
	if err != nil {
		return err
	}
	years := a.Years(time.Now())
	if yearsFlag != "" {
		if years, err = parseYears(yearsFlag); err != nil {
			return err
		}
	}

	var failed int
	for _, kind := range kinds {
		for _, y := range years {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var s model.PriceSeries
			if refresh {
				s, err = a.Cache.Refresh(ctx, kind, y)
			} else {
				s, err = a.Cache.Get(ctx, kind, y)
			}
			switch {
			case errors.Is(err, cache.ErrCacheCorrupt):
				return err
			case err != nil:
				log.Printf("%s %d: %v", kind, y, err)
				failed++
				continue
			}
			log.Printf("%s %d: %d rows", kind, y, s.Len())
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d year(s) could not be cached", failed, len(kinds)*len(years))
	}
	return nil
}

func writeAligned(ctx context.Context, a *app.App, year int, output string) error {
	rows, _, err := a.Builder.Joined(ctx, year)
	if err != nil {
		return err
	}
	if output == "" {
		output = filepath.Join(a.Config.Cache.Dir, fmt.Sprintf("DA_imb_15min_%s_%d.csv", a.Config.Entsoe.Country, year))
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	if err := ingest.WriteJoined(f, rows); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", output, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	log.Printf("Wrote %d rows to %s", len(rows), output)
	return nil
}

// parseYears accepts comma-separated years and inclusive ranges.
func parseYears(s string) ([]int, error) {
	var years []int
	seen := make(map[int]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		from, to := part, part
		if a, b, ok := strings.Cut(part, "-"); ok {
			from, to = a, b
		}
		lo, err := strconv.Atoi(strings.TrimSpace(from))
		if err != nil {
			return nil, fmt.Errorf("invalid year %q", part)
		}
		hi, err := strconv.Atoi(strings.TrimSpace(to))
		if err != nil {
			return nil, fmt.Errorf("invalid year %q", part)
		}
		if hi < lo {
			return nil, fmt.Errorf("year range %q is reversed", part)
		}
		for y := lo; y <= hi; y++ {
			if !seen[y] {
				seen[y] = true
				years = append(years, y)
			}
		}
	}
	if len(years) == 0 {
		return nil, fmt.Errorf("no years in %q", s)
	}
	return years, nil
}

func parseKinds(s string) ([]model.Kind, error) {
	var kinds []model.Kind
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, err := model.ParseKind(part)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	if len(kinds) == 0 {
		return nil, fmt.Errorf("no price kinds in %q", s)
	}
	return kinds, nil
}

func printStatus(entries []model.CacheEntry) {
	if len(entries) == 0 {
		fmt.Println("Cache is empty")
		return
	}
	fmt.Printf("   %-10s │ %4s │ %6s │ %-8s │ %-16s │ %s\n", "Kind", "Year", "Rows", "Complete", "Fetched", "Failed windows")
	fmt.Printf("  ────────────┼──────┼────────┼──────────┼──────────────────┼───────────────\n")
	for _, e := range entries {
		complete := "no"
		if e.Complete {
			complete = "yes"
		}
		fmt.Printf("   %-10s │ %4d │ %6d │ %-8s │ %-16s │ %d\n",
			e.Kind, e.Year, e.Rows, complete, e.FetchedAt.Format("2006-01-02 15:04"), len(e.FailedWindows))
	}
}
