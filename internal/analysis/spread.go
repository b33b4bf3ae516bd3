package analysis

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Band is an inclusive range of hours. From > To wraps past midnight, so
// Band{20, 8} covers 20..23 and 0..8.
type Band struct {
	From int
	To   int
}

var (
	DefaultPeak      = Band{From: 11, To: 16}
	DefaultOffPeak   = Band{From: 20, To: 8}
	DefaultCheap     = Band{From: 10, To: 17}
	DefaultExpensive = Band{From: 17, To: 9}
)

const (
	DefaultCheapest      = 3
	DefaultMostExpensive = 8
)

// ParseBand reads "11-16" style bands.
func ParseBand(s string) (Band, error) {
	from, to, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return Band{}, fmt.Errorf("band %q: expected FROM-TO", s)
	}
	f, err := strconv.Atoi(strings.TrimSpace(from))
	if err != nil {
		return Band{}, fmt.Errorf("band %q: %w", s, err)
	}
	t, err := strconv.Atoi(strings.TrimSpace(to))
	if err != nil {
		return Band{}, fmt.Errorf("band %q: %w", s, err)
	}
	b := Band{From: f, To: t}
	return b, b.Validate()
}

func (b Band) Validate() error {
	if b.From < 0 || b.From > 23 || b.To < 0 || b.To > 23 {
		return fmt.Errorf("band %s: hours must be within 0-23", b)
	}
	return nil
}

func (b Band) Contains(h int) bool {
	if b.From <= b.To {
		return h >= b.From && h <= b.To
	}
	return h >= b.From || h <= b.To
}

// Hours lists the band's hours in band order, starting at From.
func (b Band) Hours() []int {
	var hours []int
	for h := b.From; ; h = (h + 1) % 24 {
		hours = append(hours, h)
		if h == b.To {
			break
		}
	}
	return hours
}

func (b Band) String() string {
	return fmt.Sprintf("%02d-%02d", b.From, b.To)
}

func (b Band) means(t HourTable) []float64 {
	var vals []float64
	for _, h := range b.Hours() {
		if m, ok := t.Mean(h); ok {
			vals = append(vals, m)
		}
	}
	return vals
}

func mean(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// BandSpread is mean(peak hour means) - mean(off-peak hour means).
func BandSpread(t HourTable, peak, offPeak Band) (float64, error) {
	p := peak.means(t)
	if len(p) == 0 {
		return 0, fmt.Errorf("no data in peak band %s", peak)
	}
	o := offPeak.means(t)
	if len(o) == 0 {
		return 0, fmt.Errorf("no data in off-peak band %s", offPeak)
	}
	return mean(p) - mean(o), nil
}

// ExtremeSpread is the mean of the n cheapest hour means in cheap minus the
// mean of the m most expensive hour means in expensive. A band with fewer
// hours than requested contributes all of them.
func ExtremeSpread(t HourTable, cheap Band, n int, expensive Band, m int) (float64, error) {
	if n <= 0 || m <= 0 {
		return 0, fmt.Errorf("hour counts must be positive, got %d and %d", n, m)
	}

	c := cheap.means(t)
	if len(c) == 0 {
		return 0, fmt.Errorf("no data in band %s", cheap)
	}
	e := expensive.means(t)
	if len(e) == 0 {
		return 0, fmt.Errorf("no data in band %s", expensive)
	}

	sort.Float64s(c)
	sort.Sort(sort.Reverse(sort.Float64Slice(e)))
	return mean(c[:min(n, len(c))]) - mean(e[:min(m, len(e))]), nil
}
