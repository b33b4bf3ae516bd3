// Package cache keeps one artifact per (kind, year) so that a year of prices
// is fetched from the provider at most once.
package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"energy_prices/internal/fetcher"
	"energy_prices/internal/ingest"
	"energy_prices/internal/model"
	"energy_prices/internal/store"
)

var (
	// ErrEmptyFetch means the provider returned nothing for the year.
	// Nothing is persisted and the next call tries again.
	ErrEmptyFetch = errors.New("fetch returned no observations")
	// ErrCacheCorrupt means an artifact exists but cannot be parsed. It is
	// left in place for inspection.
	ErrCacheCorrupt = errors.New("cache artifact is corrupt")
)

// RangeFetcher is the chunked fetcher the cache fills misses from.
type RangeFetcher interface {
	Fetch(ctx context.Context, kind model.Kind, country string, start, end time.Time) (fetcher.Outcome, error)
}

type Options struct {
	Country  string
	Location *time.Location
	// RefreshIncompleteAfter makes an incomplete entry stale once it is
	// older than this. Zero keeps every artifact forever.
	RefreshIncompleteAfter time.Duration
	Now                    func() time.Time
}

type YearCache struct {
	fetcher   RangeFetcher
	artifacts ArtifactStore
	manifest  *Manifest
	memo      *store.Store
	opts      Options
	group     singleflight.Group
	// locks serializes loads and refreshes of one key.
	locks sync.Map
}

// New builds a cache. manifest may be nil; entries are then never stale.
func New(f RangeFetcher, artifacts ArtifactStore, manifest *Manifest, memo *store.Store, opts Options) *YearCache {
	if opts.Country == "" {
		opts.Country = "NL"
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if memo == nil {
		memo = store.New()
	}
	return &YearCache{
		fetcher:   f,
		artifacts: artifacts,
		manifest:  manifest,
		memo:      memo,
		opts:      opts,
	}
}

func (c *YearCache) Country() string          { return c.opts.Country }
func (c *YearCache) Location() *time.Location { return c.opts.Location }
func (c *YearCache) Key(kind model.Kind, year int) store.Key {
	return store.Key{Kind: kind, Country: c.opts.Country, Year: year}
}

// YearWindow returns the fetch window of year in loc: [Jan 1, Jan 1 of the
// next year). For the current year the window ends at yesterday 23:59:59.
// ok is false for future years and for the current year on Jan 1.
func YearWindow(year int, loc *time.Location, now time.Time) (model.FetchWindow, bool) {
	now = now.In(loc)
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
	end := time.Date(year+1, time.January, 1, 0, 0, 0, 0, loc)

	switch {
	case year > now.Year():
		return model.FetchWindow{}, false
	case year == now.Year():
		end = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc).Add(-time.Second)
	}

	if !end.After(start) {
		return model.FetchWindow{}, false
	}
	return model.FetchWindow{Start: start, End: end}, true
}

// Get returns the series for year, loading the artifact or fetching it on
// a miss. The result is memoized for the life of the process.
func (c *YearCache) Get(ctx context.Context, kind model.Kind, year int) (model.PriceSeries, error) {
	key := c.Key(kind, year)
	if s, ok := c.memo.Get(key); ok {
		return s, nil
	}

	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		unlock := c.lock(key)
		defer unlock()
		if s, ok := c.memo.Get(key); ok {
			return s, nil
		}
		return c.load(ctx, key)
	})
	if err != nil {
		return model.PriceSeries{}, err
	}
	if s, ok := c.memo.Get(key); ok {
		return s, nil
	}
	return v.(model.PriceSeries), nil
}

func (c *YearCache) lock(key store.Key) func() {
	v, _ := c.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Invalidate drops the artifact, the manifest entry and the memo for year.
func (c *YearCache) Invalidate(ctx context.Context, kind model.Kind, year int) error {
	key := c.Key(kind, year)
	c.memo.Delete(key)
	if err := c.artifacts.Delete(ctx, key); err != nil {
		return err
	}
	if c.manifest != nil {
		if err := c.manifest.Delete(ctx, key); err != nil {
			return err
		}
	}
	log.Printf("Cache invalidated %s", key)
	return nil
}

// Refresh fetches year again and replaces the cached artifact. A refresh
// started while a Get of the same year is loading waits for it and then
// fetches. If the new fetch is empty the old artifact stays and
// ErrEmptyFetch is returned; windows that fail are filled from the old
// artifact.
func (c *YearCache) Refresh(ctx context.Context, kind model.Kind, year int) (model.PriceSeries, error) {
	key := c.Key(kind, year)
	v, err, _ := c.group.Do("refresh:"+key.String(), func() (any, error) {
		unlock := c.lock(key)
		defer unlock()
		return c.fetchAndStore(ctx, key)
	})
	if err != nil {
		return model.PriceSeries{}, err
	}
	return v.(model.PriceSeries), nil
}

// Entry returns the manifest record for year, if any.
func (c *YearCache) Entry(ctx context.Context, kind model.Kind, year int) (model.CacheEntry, bool, error) {
	if c.manifest == nil {
		return model.CacheEntry{}, false, nil
	}
	return c.manifest.Get(ctx, c.Key(kind, year))
}

// Entries lists all manifest records.
func (c *YearCache) Entries(ctx context.Context) ([]model.CacheEntry, error) {
	if c.manifest == nil {
		return nil, nil
	}
	return c.manifest.List(ctx)
}

func (c *YearCache) load(ctx context.Context, key store.Key) (model.PriceSeries, error) {
	data, err := c.artifacts.Load(ctx, key)
	switch {
	case errors.Is(err, ErrArtifactNotFound):
		return c.fetchAndStore(ctx, key)
	case err != nil:
		return model.PriceSeries{}, err
	}

	series, err := ingest.NewPriceParser(key.Kind, key.Country).Parse(bytes.NewReader(data))
	if err != nil {
		return model.PriceSeries{}, fmt.Errorf("%w: %s: %v", ErrCacheCorrupt, key, err)
	}

	if c.stale(ctx, key) {
		// Kept in the memo so failed windows can be filled from it.
		c.memo.Put(key, series)
		log.Printf("Cache entry %s is incomplete and older than %s, refetching", key, c.opts.RefreshIncompleteAfter)
		fresh, err := c.fetchAndStore(ctx, key)
		if err == nil {
			return fresh, nil
		}
		log.Printf("Refetch of %s failed, keeping cached artifact: %v", key, err)
	}

	log.Printf("Cache hit %s (%d rows)", key, series.Len())
	c.memo.Put(key, series)
	return series, nil
}

func (c *YearCache) stale(ctx context.Context, key store.Key) bool {
	if c.manifest == nil || c.opts.RefreshIncompleteAfter <= 0 {
		return false
	}
	entry, ok, err := c.manifest.Get(ctx, key)
	if err != nil {
		log.Printf("Warning: manifest lookup for %s: %v", key, err)
		return false
	}
	// Legacy artifacts without a manifest row are trusted.
	if !ok || entry.Complete {
		return false
	}
	return c.opts.Now().Sub(entry.FetchedAt) > c.opts.RefreshIncompleteAfter
}

func (c *YearCache) fetchAndStore(ctx context.Context, key store.Key) (model.PriceSeries, error) {
	now := c.opts.Now()
	window, ok := YearWindow(key.Year, c.opts.Location, now)
	if !ok {
		return model.PriceSeries{}, fmt.Errorf("%w: %s: year has no elapsed days", ErrEmptyFetch, key)
	}

	out, err := c.fetcher.Fetch(ctx, key.Kind, key.Country, window.Start, window.End)
	if err != nil {
		return model.PriceSeries{}, fmt.Errorf("fetching %s: %w", key, err)
	}

	failed := out.Failed()
	if out.Series.Len() == 0 {
		return model.PriceSeries{}, fmt.Errorf("%w: %s (%d of %d windows failed)",
			ErrEmptyFetch, key, len(failed), len(out.Windows))
	}
	if len(failed) > 0 {
		out.Series, failed = c.fillFromPrevious(ctx, key, out.Series, failed)
	}
	if len(failed) > 0 {
		log.Printf("Warning: %s cached with %d failed window(s):", key, len(failed))
		for _, w := range failed {
			log.Printf("  %s", w)
		}
	}

	var buf bytes.Buffer
	if err := ingest.WriteSeries(&buf, out.Series); err != nil {
		return model.PriceSeries{}, fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := c.artifacts.Save(ctx, key, buf.Bytes()); err != nil {
		return model.PriceSeries{}, err
	}

	if c.manifest != nil {
		entry := model.CacheEntry{
			Kind:          key.Kind,
			Country:       key.Country,
			Year:          key.Year,
			FetchedAt:     now,
			Complete:      len(failed) == 0 && key.Year < now.In(c.opts.Location).Year(),
			Rows:          out.Series.Len(),
			FailedWindows: failed,
			RunID:         out.RunID,
		}
		if err := c.manifest.Put(ctx, entry); err != nil {
			return model.PriceSeries{}, err
		}
	}

	log.Printf("Cached %s: %d rows", key, out.Series.Len())
	c.memo.Put(key, out.Series)
	return out.Series, nil
}

// fillFromPrevious copies observations of the cached series into the failed
// windows of a new fetch. A window stays failed when the previous entry had
// no data for it either. It returns the merged series and the windows still
// missing.
func (c *YearCache) fillFromPrevious(ctx context.Context, key store.Key, series model.PriceSeries, failed []model.FetchWindow) (model.PriceSeries, []model.FetchWindow) {
	if !c.previous(ctx, key) {
		return series, failed
	}
	var prevFailed []model.FetchWindow
	if c.manifest != nil {
		if entry, ok, err := c.manifest.Get(ctx, key); err == nil && ok {
			prevFailed = entry.FailedWindows
		}
	}

	var missing []model.FetchWindow
	kept := 0
	for _, w := range failed {
		old := c.memo.ObservationsInRange(key.Kind, key.Country, w.Start, w.End)
		if len(old) == 0 || overlapsAny(w, prevFailed) {
			missing = append(missing, w)
		}
		series.Observations = append(series.Observations, old...)
		kept += len(old)
	}
	if kept == 0 {
		return series, failed
	}

	sort.Slice(series.Observations, func(i, j int) bool {
		return series.Observations[i].Timestamp.Before(series.Observations[j].Timestamp)
	})
	log.Printf("Warning: %s kept %d cached row(s) for %d failed window(s)", key, kept, len(failed))
	return series, missing
}

// previous makes sure the memo holds the cached series for key, reading the
// artifact if needed. It reports false when there is nothing usable.
func (c *YearCache) previous(ctx context.Context, key store.Key) bool {
	if _, ok := c.memo.Get(key); ok {
		return true
	}
	data, err := c.artifacts.Load(ctx, key)
	if err != nil {
		return false
	}
	series, err := ingest.NewPriceParser(key.Kind, key.Country).Parse(bytes.NewReader(data))
	if err != nil {
		log.Printf("Warning: previous artifact %s unreadable, not merged: %v", key, err)
		return false
	}
	c.memo.Put(key, series)
	return true
}

func overlapsAny(w model.FetchWindow, others []model.FetchWindow) bool {
	for _, o := range others {
		if w.Start.Before(o.End) && o.Start.Before(w.End) {
			return true
		}
	}
	return false
}
