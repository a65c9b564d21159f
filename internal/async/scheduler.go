package async

import (
	"fmt"
	"strings"
	"time"

	gocron "github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

// Scheduler runs delayed and periodic jobs one at a time.
type Scheduler struct {
	s gocron.Scheduler
}

func newScheduler() (*Scheduler, error) {
	s, err := gocron.NewScheduler(
		gocron.WithLimitConcurrentJobs(1, gocron.LimitModeWait),
	)
	if err != nil {
		return nil, err
	}
	s.Start()
	return &Scheduler{s: s}, nil
}

// After runs fn once after delay.
func (s *Scheduler) After(delay time.Duration, fn func()) (uuid.UUID, error) {
	start := gocron.OneTimeJobStartImmediately()
	if delay > 0 {
		start = gocron.OneTimeJobStartDateTime(time.Now().Add(delay))
	}
	return s.add(gocron.OneTimeJob(start), fn)
}

// Every runs fn each interval, the first run happens after one interval.
func (s *Scheduler) Every(interval time.Duration, fn func()) (uuid.UUID, error) {
	if interval <= 0 {
		return uuid.Nil, fmt.Errorf("invalid interval %s", interval)
	}
	return s.add(gocron.DurationJob(interval), fn)
}

// Cron runs fn according to expr, see ParseCron for the accepted syntax.
func (s *Scheduler) Cron(expr string, fn func()) (uuid.UUID, error) {
	fields, err := ParseCron(expr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parsing cron expression %q: %w", expr, err)
	}
	return s.add(gocron.CronJob(strings.TrimSpace(expr), fields == 6), fn)
}

func (s *Scheduler) Unschedule(id uuid.UUID) error {
	return s.s.RemoveJob(id)
}

// Jobs returns the ids of all registered jobs.
func (s *Scheduler) Jobs() []uuid.UUID {
	jobs := s.s.Jobs()
	ret := make([]uuid.UUID, 0, len(jobs))
	for _, j := range jobs {
		ret = append(ret, j.ID())
	}
	return ret
}

func (s *Scheduler) add(def gocron.JobDefinition, fn func()) (uuid.UUID, error) {
	j, err := s.s.NewJob(def, gocron.NewTask(fn))
	if err != nil {
		return uuid.Nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	return j.ID(), nil
}

func (s *Scheduler) shutdown() error {
	if err := s.s.Shutdown(); err != nil {
		return fmt.Errorf("shutting down gocron: %w", err)
	}
	return nil
}
