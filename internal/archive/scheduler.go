package archive

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/pneumaticqc/internal/qcerr"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Scheduler runs retention archival on a cron schedule.
type Scheduler struct {
	engine    *Engine
	retention Retention
	schedule  cron.Schedule
	cron      *cron.Cron
	// OnReport, when set, receives every completed report.
	OnReport func(*Report, error)
}

// NewScheduler parses expr and returns a Scheduler that is not yet running.
func NewScheduler(engine *Engine, expr string, retention Retention) (*Scheduler, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("archive: schedule %q: %w", expr, err)
	}
	s := &Scheduler{
		engine:    engine,
		retention: retention,
		schedule:  sched,
		cron:      cron.New(cron.WithParser(cronParser)),
	}
	s.cron.Schedule(sched, cron.FuncJob(s.tick))
	return s, nil
}

// Next returns the next fire time after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

func (s *Scheduler) tick() {
	report, err := s.engine.RunRetention(context.Background(), time.Now(), s.retention)
	switch {
	case errors.Is(err, qcerr.ErrConflict) && report == nil:
		log.Printf("archive: scheduled run skipped: %v", err)
	case err != nil:
		log.Printf("archive: scheduled run: %v", err)
	default:
		log.Printf("archive: scheduled batch %s archived %d row(s)", report.BatchID, report.Archived())
	}
	if s.OnReport != nil {
		s.OnReport(report, err)
	}
}

// Run starts the schedule and blocks until ctx is cancelled, then waits for a
// running batch to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	log.Printf("archive: scheduler started, next run %s", s.Next(time.Now()).Format(time.RFC3339))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	log.Printf("archive: scheduler stopped")
	return nil
}
