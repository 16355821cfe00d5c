package segcache

import (
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartSweeper schedules a periodic walk of the LRU plugin's entries,
// which evicts anything past its TTL as a side effect of pkg/lrucache's
// Keys (see pkg/lrucache.Cache.Keys), reducing cold read-through latency
// versus pure lazy expiry.
func (p *LRUPlugin) StartSweeper(every time.Duration) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	if _, err := s.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() { p.cache.Keys(func(string, interface{}) {}) }),
	); err != nil {
		return nil, err
	}
	s.Start()
	return s, nil
}
