// Package store memoizes price series in memory, one per cached year.
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"energy_prices/internal/model"
)

// Key identifies one cached year of one price kind.
type Key struct {
	Kind    model.Kind
	Country string
	Year    int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%d", k.Kind, k.Country, k.Year)
}

// Store holds price series in memory, one per Key. Observations are kept
// sorted by timestamp so range queries can use binary search.
type Store struct {
	mu     sync.RWMutex
	series map[Key]model.PriceSeries
}

func New() *Store {
	return &Store{series: make(map[Key]model.PriceSeries)}
}

// Put replaces the series for key. Observations are sorted; on duplicate
// timestamps the first one wins.
func (s *Store) Put(key Key, series model.PriceSeries) {
	obs := make([]model.PriceObservation, len(series.Observations))
	copy(obs, series.Observations)
	sort.SliceStable(obs, func(i, j int) bool {
		return obs[i].Timestamp.Before(obs[j].Timestamp)
	})

	deduped := obs[:0]
	for _, o := range obs {
		if n := len(deduped); n > 0 && deduped[n-1].Timestamp.Equal(o.Timestamp) {
			continue
		}
		deduped = append(deduped, o)
	}
	series.Observations = deduped

	s.mu.Lock()
	defer s.mu.Unlock()
	s.series[key] = series
}

// Get returns a copy of the series stored for key.
func (s *Store) Get(key Key) (model.PriceSeries, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series, ok := s.series[key]
	if !ok {
		return model.PriceSeries{}, false
	}
	obs := make([]model.PriceObservation, len(series.Observations))
	copy(obs, series.Observations)
	series.Observations = obs
	return series, true
}

func (s *Store) Delete(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.series, key)
}

// ObservationsInRange returns observations of kind for country between start
// (inclusive) and end (exclusive), across all stored years.
func (s *Store) ObservationsInRange(kind model.Kind, country string, start, end time.Time) []model.PriceObservation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var years []int
	for k := range s.series {
		if k.Kind == kind && k.Country == country {
			years = append(years, k.Year)
		}
	}
	sort.Ints(years)

	var result []model.PriceObservation
	for _, y := range years {
		all := s.series[Key{Kind: kind, Country: country, Year: y}].Observations

		// Binary search for start index
		startIdx := sort.Search(len(all), func(i int) bool {
			return !all[i].Timestamp.Before(start)
		})

		// Binary search for end index
		endIdx := sort.Search(len(all), func(i int) bool {
			return !all[i].Timestamp.Before(end)
		})

		if startIdx < endIdx {
			result = append(result, all[startIdx:endIdx]...)
		}
	}
	return result
}
