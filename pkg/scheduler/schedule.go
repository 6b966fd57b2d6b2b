package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule defines when a sweep should run next.
type Schedule interface {
	Next(from time.Time) time.Time
}

// everySchedule runs at fixed intervals.
type everySchedule struct {
	interval time.Duration
}

// Every creates a schedule that runs at fixed intervals.
func Every(d time.Duration) Schedule {
	return &everySchedule{interval: d}
}

func (s *everySchedule) Next(from time.Time) time.Time {
	return from.Add(s.interval)
}

// dailySchedule runs at a specific time each day.
type dailySchedule struct {
	hour   int
	minute int
	loc    *time.Location
}

// Daily creates a schedule that runs at a specific time each day.
func Daily(hour, minute int) Schedule {
	return &dailySchedule{hour: hour, minute: minute, loc: time.UTC}
}

func (s *dailySchedule) Next(from time.Time) time.Time {
	from = from.In(s.loc)
	next := time.Date(from.Year(), from.Month(), from.Day(), s.hour, s.minute, 0, 0, s.loc)
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// cronSchedule wraps a cron expression.
type cronSchedule struct {
	schedule cron.Schedule
}

// Cron creates a schedule from a cron expression.
func Cron(expr string) Schedule {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		panic("invalid cron expression: " + err.Error())
	}
	return &cronSchedule{schedule: schedule}
}

func (s *cronSchedule) Next(from time.Time) time.Time {
	return s.schedule.Next(from)
}

// Sweep is a named periodic task, e.g. the rate-reset resubmission or the
// daily full-collection pass.
type Sweep struct {
	Name     string
	Schedule Schedule
	Run      func(ctx context.Context)
}

// Sweeper runs registered sweeps on their schedules. Sweep errors are the
// sweep function's concern; the loop itself never stops before the context
// is cancelled.
type Sweeper struct {
	mu     sync.Mutex
	sweeps []Sweep
	logger *slog.Logger
	tick   time.Duration
}

// NewSweeper creates a sweeper. The check interval bounds how late a sweep
// can fire after its scheduled time.
func NewSweeper(checkInterval time.Duration, logger *slog.Logger) *Sweeper {
	if checkInterval <= 0 {
		checkInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{tick: checkInterval, logger: logger}
}

// Add registers a sweep.
func (sw *Sweeper) Add(s Sweep) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.sweeps = append(sw.sweeps, s)
}

// Start runs the sweep loop until the context is cancelled.
func (sw *Sweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(sw.tick)
	defer ticker.Stop()

	// Schedules count from sweeper start, not the zero time; otherwise every
	// sweep would fire on the first tick regardless of its schedule.
	start := time.Now()
	lastRun := make(map[string]time.Time)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sw.mu.Lock()
			sweeps := make([]Sweep, len(sw.sweeps))
			copy(sweeps, sw.sweeps)
			sw.mu.Unlock()

			now := time.Now()
			for _, s := range sweeps {
				last, ok := lastRun[s.Name]
				if !ok {
					last = start
				}
				nextRun := s.Schedule.Next(last)
				if now.After(nextRun) || now.Equal(nextRun) {
					sw.logger.Info("running sweep", "sweep", s.Name)
					s.Run(ctx)
					lastRun[s.Name] = now
				}
			}
		}
	}
}
