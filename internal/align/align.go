// Package align lays coarse price series onto a finer time grid.
package align

import (
	"fmt"
	"time"

	"energy_prices/internal/model"
)

// NewGrid returns the instants start, start+step, ... strictly before end.
// Steps are absolute durations, so DST switches do not shift the grid.
func NewGrid(start, end time.Time, step time.Duration) []time.Time {
	if step <= 0 || !end.After(start) {
		return nil
	}
	n := int(end.Sub(start) / step)
	if start.Add(time.Duration(n) * step).Before(end) {
		n++
	}
	grid := make([]time.Time, 0, n)
	for ts := start; ts.Before(end); ts = ts.Add(step) {
		grid = append(grid, ts)
	}
	return grid
}

// ForwardFill gives each grid instant the most recent observation at or
// before it. Instants before the first observation are left invalid.
func ForwardFill(s model.PriceSeries, grid []time.Time) model.Grid {
	out := model.Grid{Kind: s.Kind, Points: make([]model.GridPoint, len(grid))}
	if len(grid) > 1 {
		out.Step = grid[1].Sub(grid[0])
	}

	obs := s.Observations
	i := -1
	for gi, ts := range grid {
		for i+1 < len(obs) && !obs[i+1].Timestamp.After(ts) {
			i++
		}
		p := model.GridPoint{Timestamp: ts}
		if i >= 0 {
			p.Price = obs[i].Price
			p.Valid = true
		}
		out.Points[gi] = p
	}
	return out
}

// Upsample fills s onto a step grid spanning [start, end).
func Upsample(s model.PriceSeries, start, end time.Time, step time.Duration) model.Grid {
	return ForwardFill(s, NewGrid(start, end, step))
}

// Place puts each observation on the grid slots it covers, matched by
// timestamp: a slot at ts takes the observation o with o <= ts < o+hold.
// Slots no observation covers stay invalid, so gaps in s stay gaps.
func Place(s model.PriceSeries, grid []time.Time, hold time.Duration) model.Grid {
	out := model.Grid{Kind: s.Kind, Points: make([]model.GridPoint, len(grid))}
	if len(grid) > 1 {
		out.Step = grid[1].Sub(grid[0])
	}
	if hold <= 0 {
		hold = out.Step
	}

	obs := s.Observations
	i := -1
	for gi, ts := range grid {
		for i+1 < len(obs) && !obs[i+1].Timestamp.After(ts) {
			i++
		}
		p := model.GridPoint{Timestamp: ts}
		if i >= 0 && ts.Sub(obs[i].Timestamp) < hold {
			p.Price = obs[i].Price
			p.Valid = true
		}
		out.Points[gi] = p
	}
	return out
}

// FromSeries puts an already fine series on a grid without filling.
func FromSeries(s model.PriceSeries) model.Grid {
	out := model.Grid{Kind: s.Kind, Step: s.Resolution, Points: make([]model.GridPoint, len(s.Observations))}
	for i, o := range s.Observations {
		out.Points[i] = model.GridPoint{Timestamp: o.Timestamp, Price: o.Price, Valid: true}
	}
	return out
}

// Mismatch describes two grids that should line up but do not.
type Mismatch struct {
	LenA, LenB int
	// Kept is the number of points left in both grids.
	Kept int
	// Misaligned counts kept positions whose timestamps differ.
	Misaligned int
	// FirstMisaligned is the first such position, or -1.
	FirstMisaligned int
}

func (m *Mismatch) String() string {
	s := fmt.Sprintf("series lengths differ (%d vs %d), truncated to %d", m.LenA, m.LenB, m.Kept)
	if m.Misaligned > 0 {
		s += fmt.Sprintf("; %d timestamps disagree, first at index %d", m.Misaligned, m.FirstMisaligned)
	}
	return s
}

// Reconcile truncates a and b to the shorter length. The returned Mismatch
// is nil when both grids already agree.
func Reconcile(a, b model.Grid) (model.Grid, model.Grid, *Mismatch) {
	n := min(len(a.Points), len(b.Points))

	m := &Mismatch{LenA: len(a.Points), LenB: len(b.Points), Kept: n, FirstMisaligned: -1}
	for i := range n {
		if !a.Points[i].Timestamp.Equal(b.Points[i].Timestamp) {
			if m.Misaligned == 0 {
				m.FirstMisaligned = i
			}
			m.Misaligned++
		}
	}

	a.Points = a.Points[:n]
	b.Points = b.Points[:n]
	if m.LenA == m.LenB && m.Misaligned == 0 {
		return a, b, nil
	}
	return a, b, m
}

// Join pairs a day-ahead grid with an imbalance grid slot by slot. Both
// grids should come from the same NewGrid call; otherwise they are
// reconciled first and the Mismatch reports the disagreement. Timestamps
// come from the day-ahead grid.
func Join(dayAhead, imbalance model.Grid) ([]model.JoinedRow, *Mismatch) {
	da, imb, m := Reconcile(dayAhead, imbalance)

	rows := make([]model.JoinedRow, len(da.Points))
	for i := range da.Points {
		rows[i] = model.JoinedRow{
			Timestamp:      da.Points[i].Timestamp,
			DayAhead:       da.Points[i].Price,
			DayAheadValid:  da.Points[i].Valid,
			Imbalance:      imb.Points[i].Price,
			ImbalanceValid: imb.Points[i].Valid,
		}
	}
	return rows, m
}
