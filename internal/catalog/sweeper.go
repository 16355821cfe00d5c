package catalog

import (
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartSweeper schedules a periodic SweepNegative call. Callers own the
// returned scheduler's lifecycle and must call Shutdown when the catalog
// is torn down.
func StartSweeper(c *Cache, every time.Duration) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	if _, err := s.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(c.SweepNegative),
	); err != nil {
		return nil, err
	}
	s.Start()
	return s, nil
}
