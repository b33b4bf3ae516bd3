package analysis

import (
	"math"
	"sort"

	"energy_prices/internal/model"
)

const DefaultBinWidth = 10.0

// Bin counts prices in [Lower, Upper).
type Bin struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
}

// Histogram counts prices in bins of width aligned to multiples of width.
// Empty bins between the lowest and highest price are included.
func Histogram(obs []model.PriceObservation, width float64) []Bin {
	if len(obs) == 0 || width <= 0 {
		return nil
	}

	counts := make(map[int]int)
	lo, hi := math.MaxInt, math.MinInt
	for _, o := range obs {
		i := int(math.Floor(o.Price / width))
		counts[i]++
		lo = min(lo, i)
		hi = max(hi, i)
	}

	bins := make([]Bin, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		bins = append(bins, Bin{
			Lower: float64(i) * width,
			Upper: float64(i+1) * width,
			Count: counts[i],
		})
	}
	return bins
}

// YearHistograms computes one histogram per year with a shared bin width.
func YearHistograms(byYear map[int][]model.PriceObservation, width float64) ([]int, map[int][]Bin) {
	years := make([]int, 0, len(byYear))
	out := make(map[int][]Bin, len(byYear))
	for y, obs := range byYear {
		years = append(years, y)
		out[y] = Histogram(obs, width)
	}
	sort.Ints(years)
	return years, out
}
