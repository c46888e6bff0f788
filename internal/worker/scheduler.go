package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/jwalitptl/massage-booking/internal/config"
	"github.com/jwalitptl/massage-booking/pkg/logger"
)

type (
	PayrollRunner interface {
		LastWeek() (time.Time, time.Time)
		GenerateForWeek(ctx context.Context, weekStart time.Time) ([]uuid.UUID, error)
	}

	ResponseSweeper interface {
		ExpireUnanswered(ctx context.Context) (int, error)
	}

	OutboxCleaner interface {
		Cleanup(ctx context.Context) error
	}
)

// Scheduler runs the periodic jobs in business time. A job that is still
// running when its next tick fires is skipped.
type Scheduler struct {
	cron    *cron.Cron
	logger  *logger.Logger
	timeout time.Duration
}

func NewScheduler(
	specs config.SchedulerConfig,
	loc *time.Location,
	payroll PayrollRunner,
	sweeper ResponseSweeper,
	cleaner OutboxCleaner,
	log *logger.Logger,
) (*Scheduler, error) {
	s := &Scheduler{
		logger:  log,
		timeout: 10 * time.Minute,
	}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{log}), cron.SkipIfStillRunning(cronLogger{log})),
	)

	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context) error
	}{
		{"weekly_payments", specs.WeeklyPayments, func(ctx context.Context) error {
			start, _ := payroll.LastWeek()
			ids, err := payroll.GenerateForWeek(ctx, start)
			log.Info("Weekly payments generated", "week_start", start.Format("2006-01-02"), "count", len(ids))
			return err
		}},
		{"response_sweep", specs.ResponseSweep, func(ctx context.Context) error {
			n, err := sweeper.ExpireUnanswered(ctx)
			if n > 0 {
				log.Info("Expired unanswered booking requests", "count", n)
			}
			return err
		}},
		{"outbox_cleanup", specs.OutboxCleanup, cleaner.Cleanup},
	}

	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(job.spec, s.wrap(job.name, job.run)); err != nil {
			return nil, fmt.Errorf("invalid schedule for %s: %w", job.name, err)
		}
	}
	return s, nil
}

func (s *Scheduler) wrap(name string, run func(ctx context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		started := time.Now()
		if err := run(ctx); err != nil {
			s.logger.Error(err, "Scheduled job failed", "job", name)
			return
		}
		s.logger.Debug("Scheduled job finished", "job", name, "took", time.Since(started).String())
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for running jobs or ctx, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Entries is the number of registered jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// cronLogger adapts the zerolog wrapper to cron.Logger.
type cronLogger struct {
	l *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(err, msg, keysAndValues...)
}
