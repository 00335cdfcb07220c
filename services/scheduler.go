package services

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// TimeoutScheduler runs keyed one-shot tasks. Scheduling a key again replaces the
// pending task.
type TimeoutScheduler interface {
	Schedule(key string, at time.Time, task func())
	Cancel(key string)
}

// CronScheduler runs periodic jobs and session deadlines on gocron.
type CronScheduler struct {
	sched gocron.Scheduler
	clock clockwork.Clock
}

func NewCronScheduler(clock clockwork.Clock) (*CronScheduler, error) {
	sched, err := gocron.NewScheduler(
		gocron.WithClock(clock),
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &CronScheduler{sched: sched, clock: clock}, nil
}

func (c *CronScheduler) Start() {
	c.sched.Start()
}

func (c *CronScheduler) Shutdown() error {
	return c.sched.Shutdown()
}

// Every registers a periodic job. A run that overlaps the next tick is skipped.
func (c *CronScheduler) Every(name string, every time.Duration, task func()) error {
	_, err := c.sched.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(task),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("register job %s: %w", name, err)
	}
	return nil
}

func (c *CronScheduler) Schedule(key string, at time.Time, task func()) {
	c.sched.RemoveByTags(key)

	start := gocron.OneTimeJobStartImmediately()
	if at.After(c.clock.Now()) {
		start = gocron.OneTimeJobStartDateTime(at)
	}
	_, err := c.sched.NewJob(
		gocron.OneTimeJob(start),
		gocron.NewTask(task),
		gocron.WithTags(key),
		gocron.WithName(key),
	)
	if err != nil {
		// the deadline sweep picks the session up later
		zap.L().Warn("[Scheduler] failed to schedule deadline", zap.String("key", key), zap.Error(err))
	}
}

func (c *CronScheduler) Cancel(key string) {
	c.sched.RemoveByTags(key)
}

// Pending reports how many jobs carry key.
func (c *CronScheduler) Pending(key string) int {
	n := 0
	for _, j := range c.sched.Jobs() {
		for _, tag := range j.Tags() {
			if tag == key {
				n++
			}
		}
	}
	return n
}

func readyKey(sessionID string) string { return "ready:" + sessionID }
func pauseKey(sessionID string) string { return "pause:" + sessionID }
