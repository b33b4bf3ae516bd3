// Package scheduler refreshes the cache entry of the running year so that a
// long-lived server picks up each newly published day.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"energy_prices/internal/cache"
	"energy_prices/internal/model"
)

// Refresher replaces a cached year with a fresh fetch.
type Refresher interface {
	Refresh(ctx context.Context, kind model.Kind, year int) (model.PriceSeries, error)
}

// RefreshFunc is called after every refresh attempt.
type RefreshFunc func(kind model.Kind, year int, series model.PriceSeries, err error)

// Scheduler manages the cron refresh task.
type Scheduler struct {
	Cron      *cron.Cron
	Refresher Refresher
	Kinds     []model.Kind
	Location  *time.Location
	Now       func() time.Time
	OnRefresh RefreshFunc
	Ctx       context.Context
}

// NewScheduler creates a scheduler refreshing both price kinds. Cron
// expressions include a seconds field.
func NewScheduler(ctx context.Context, r Refresher, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		Cron:      cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		Refresher: r,
		Kinds:     []model.Kind{model.KindDayAhead, model.KindImbalance},
		Location:  loc,
		Now:       time.Now,
		Ctx:       ctx,
	}
}

// Register adds the refresh task under spec.
func (s *Scheduler) Register(spec string) error {
	if _, err := s.Cron.AddFunc(spec, s.RunNow); err != nil {
		return fmt.Errorf("register refresh task %q: %w", spec, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Println("Refresh scheduler started")
}

// Stop waits for a running refresh to finish.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Println("Refresh scheduler stopped")
}

// TargetYear is the year whose cache entry the refresh replaces. On Jan 1
// the running year has no elapsed day yet, so the year just ended is
// refreshed to pick up its final day.
func (s *Scheduler) TargetYear() int {
	now := s.Now().In(s.Location)
	if _, ok := cache.YearWindow(now.Year(), s.Location, now); ok {
		return now.Year()
	}
	return now.Year() - 1
}

// RunNow refreshes every kind for the target year. Failures are logged and
// reported to OnRefresh; the cached artifact stays in place.
func (s *Scheduler) RunNow() {
	year := s.TargetYear()
	for _, kind := range s.Kinds {
		if s.Ctx.Err() != nil {
			return
		}
		log.Printf("Refreshing %s %d", kind, year)
		series, err := s.Refresher.Refresh(s.Ctx, kind, year)
		if err != nil {
			log.Printf("Error refreshing %s %d: %v", kind, year, err)
		} else {
			log.Printf("Refreshed %s %d: %d rows", kind, year, series.Len())
		}
		if s.OnRefresh != nil {
			s.OnRefresh(kind, year, series, err)
		}
	}
}
