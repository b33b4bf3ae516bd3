package analysis

import (
	"log"
	"time"

	"github.com/scmhub/calendar"

	"energy_prices/internal/model"
)

// BusinessDays decides which days count as working days, using an exchange
// holiday calendar. Without a calendar it falls back to Monday-Friday.
type BusinessDays struct {
	cal      *calendar.Calendar
	loc      *time.Location
	fallback bool
}

// NewBusinessDays loads the calendar for an ISO 10383 MIC, e.g. "xams" for
// Euronext Amsterdam.
func NewBusinessDays(mic string, loc *time.Location) *BusinessDays {
	cal := calendar.GetCalendar(mic)
	if cal == nil {
		log.Printf("Warning: no holiday calendar for %q, using Mon-Fri", mic)
		return &BusinessDays{loc: loc, fallback: true}
	}
	if loc == nil {
		loc = cal.Loc
	}
	return &BusinessDays{cal: cal, loc: loc}
}

// WeekdaysOnly treats every Monday-Friday as a business day.
func WeekdaysOnly(loc *time.Location) *BusinessDays {
	return &BusinessDays{loc: loc, fallback: true}
}

func (b *BusinessDays) IsBusinessDay(t time.Time) bool {
	if b.loc != nil {
		t = t.In(b.loc)
	}
	if b.fallback {
		wd := t.Weekday()
		return wd != time.Saturday && wd != time.Sunday
	}
	// Judge the local date, at noon in the calendar zone.
	day := time.Date(t.Year(), t.Month(), t.Day(), 12, 0, 0, 0, b.cal.Loc)
	return b.cal.IsBusinessDay(day)
}

// Filter keeps observations that fall on a business day (or, with invert, on
// a non-business day).
func (b *BusinessDays) Filter(obs []model.PriceObservation, invert bool) []model.PriceObservation {
	out := make([]model.PriceObservation, 0, len(obs))
	for _, o := range obs {
		if b.IsBusinessDay(o.Timestamp) != invert {
			out = append(out, o)
		}
	}
	return out
}
