package workers

import (
	"context"
	"time"

	"dice-duel/config"
	"dice-duel/services"

	"go.uber.org/zap"
)

// PeriodicScheduler registers named periodic jobs.
type PeriodicScheduler interface {
	Every(name string, every time.Duration, task func()) error
}

// RegisterEngineJobs schedules the matchmaking pass, liveness scan and deadline sweep.
func RegisterEngineJobs(ctx context.Context, sched PeriodicScheduler, mm *services.Matchmaker, sessions *services.SessionService, timing config.Timing) error {
	jobs := []struct {
		name  string
		every time.Duration
		run   func(context.Context) error
	}{
		{"matchmaking", timing.MatchmakingInterval, func(ctx context.Context) error {
			_, err := mm.RunPass(ctx)
			return err
		}},
		{"liveness-scan", timing.LivenessScanInterval, func(ctx context.Context) error {
			_, err := sessions.ScanLiveness(ctx)
			return err
		}},
		{"deadline-sweep", timing.DeadlineSweepInterval, func(ctx context.Context) error {
			_, err := sessions.SweepDeadlines(ctx)
			return err
		}},
	}

	for _, job := range jobs {
		if err := sched.Every(job.name, job.every, func() {
			if ctx.Err() != nil {
				return
			}
			if err := job.run(ctx); err != nil {
				zap.L().Error("[Scheduler] job failed", zap.String("job", job.name), zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}
	return nil
}
