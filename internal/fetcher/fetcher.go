// Package fetcher retrieves long price ranges in provider-sized windows.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"energy_prices/internal/model"
)

// Source is the price provider. It may reject windows wider than its own limit.
type Source interface {
	FetchPrices(ctx context.Context, kind model.Kind, country string, start, end time.Time) (model.PriceSeries, error)
}

// Observer is told about every finished window. With Concurrency > 1 it is
// called from several goroutines.
type Observer interface {
	OnWindow(runID string, kind model.Kind, country string, r WindowResult)
}

// WindowResult is either a series (Err == nil) or the provider failure.
type WindowResult struct {
	Window   model.FetchWindow
	Series   model.PriceSeries
	Err      error
	Duration time.Duration
}

func (r WindowResult) OK() bool { return r.Err == nil }

// Outcome is the merged result of one chunked fetch. Series may have gaps
// wherever a window failed; callers must not assume completeness.
type Outcome struct {
	RunID   string
	Kind    model.Kind
	Country string
	Range   model.FetchWindow
	Series  model.PriceSeries
	Windows []WindowResult
}

// Failed lists the windows that contributed no data.
func (o Outcome) Failed() []model.FetchWindow {
	var out []model.FetchWindow
	for _, w := range o.Windows {
		if !w.OK() {
			out = append(out, w.Window)
		}
	}
	return out
}

// Complete is true when every window succeeded.
func (o Outcome) Complete() bool { return len(o.Failed()) == 0 }

// Options tunes how a Fetcher splits and issues requests.
type Options struct {
	// MaxSpan is the widest window sent to the source.
	MaxSpan time.Duration
	// WindowTimeout bounds each source call; zero means no extra timeout.
	WindowTimeout time.Duration
	// Concurrency > 1 fetches windows in parallel, bounded.
	Concurrency int
	// Pause between sequential requests.
	Pause    time.Duration
	Observer Observer
}

// Fetcher retrieves a time range from a Source in bounded windows.
type Fetcher struct {
	source Source
	opts   Options
}

func New(source Source, opts Options) *Fetcher {
	if opts.MaxSpan <= 0 {
		opts.MaxSpan = model.DefaultMaxWindowSpan
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Fetcher{source: source, opts: opts}
}

// Partition splits [start, end) into consecutive windows no wider than
// maxSpan. The last window ends exactly at end. start == end yields none.
func Partition(start, end time.Time, maxSpan time.Duration) []model.FetchWindow {
	if maxSpan <= 0 || !end.After(start) {
		return nil
	}

	var windows []model.FetchWindow
	for ws := start; ws.Before(end); {
		we := ws.Add(maxSpan)
		if we.After(end) {
			we = end
		}
		windows = append(windows, model.FetchWindow{Start: ws, End: we})
		ws = we
	}
	return windows
}

// Fetch retrieves [start, end) window by window. A failed window is recorded
// and skipped; only invalid input or cancellation of ctx returns an error.
func (f *Fetcher) Fetch(ctx context.Context, kind model.Kind, country string, start, end time.Time) (Outcome, error) {
	out := Outcome{
		RunID:   uuid.NewString(),
		Kind:    kind,
		Country: country,
		Range:   model.FetchWindow{Start: start, End: end},
		Series:  model.PriceSeries{Kind: kind, Country: country, Unit: model.UnitEURPerMWh},
	}

	if end.Before(start) {
		return out, fmt.Errorf("fetch range end %s is before start %s",
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	windows := Partition(start, end, f.opts.MaxSpan)
	if len(windows) == 0 {
		return out, nil
	}

	log.Printf("Fetching %s %s prices from %s to %s in %d window(s)",
		country, kind, start.Format("2006-01-02"), end.Format("2006-01-02"), len(windows))

	results := make([]WindowResult, len(windows))
	if f.opts.Concurrency == 1 {
		for i, w := range windows {
			results[i] = f.fetchWindow(ctx, out.RunID, kind, country, w)
			if f.opts.Pause > 0 && i < len(windows)-1 && ctx.Err() == nil {
				select {
				case <-ctx.Done():
				case <-time.After(f.opts.Pause):
				}
			}
		}
	} else {
		var g errgroup.Group
		g.SetLimit(f.opts.Concurrency)
		for i, w := range windows {
			g.Go(func() error {
				results[i] = f.fetchWindow(ctx, out.RunID, kind, country, w)
				return nil
			})
		}
		g.Wait()
	}

	out.Windows = results
	out.Series = merge(out.Series, results)

	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

func (f *Fetcher) fetchWindow(ctx context.Context, runID string, kind model.Kind, country string, w model.FetchWindow) WindowResult {
	r := WindowResult{Window: w}
	began := time.Now()

	if err := ctx.Err(); err != nil {
		r.Err = err
	} else {
		wctx := ctx
		if f.opts.WindowTimeout > 0 {
			var cancel context.CancelFunc
			wctx, cancel = context.WithTimeout(ctx, f.opts.WindowTimeout)
			defer cancel()
		}

		s, err := f.source.FetchPrices(wctx, kind, country, w.Start, w.End)
		if err == nil && errors.Is(wctx.Err(), context.DeadlineExceeded) {
			err = wctx.Err()
		}
		if err != nil {
			r.Err = err
		} else {
			r.Series = s
		}
	}
	r.Duration = time.Since(began)

	if r.OK() {
		log.Printf("  %s → %s: %d points", w.Start.Format("2006-01-02"), w.End.Format("2006-01-02"), r.Series.Len())
	} else {
		log.Printf("  Error for window %s: %v", w, r.Err)
	}

	if f.opts.Observer != nil {
		f.opts.Observer.OnWindow(runID, kind, country, r)
	}
	return r
}

// merge concatenates successful windows in window order. Observations are
// clipped to their own window so neighbours can never overlap.
func merge(base model.PriceSeries, results []WindowResult) model.PriceSeries {
	var total int
	for _, r := range results {
		total += r.Series.Len()
	}
	obs := make([]model.PriceObservation, 0, total)

	for _, r := range results {
		if !r.OK() {
			continue
		}
		if base.Resolution == 0 && r.Series.Resolution > 0 {
			base.Resolution = r.Series.Resolution
		}
		if r.Series.Unit != "" {
			base.Unit = r.Series.Unit
		}
		for _, o := range r.Series.Observations {
			if !r.Window.Contains(o.Timestamp) {
				continue
			}
			if n := len(obs); n > 0 && !o.Timestamp.After(obs[n-1].Timestamp) {
				continue
			}
			obs = append(obs, o)
		}
	}

	base.Observations = obs
	return base
}
