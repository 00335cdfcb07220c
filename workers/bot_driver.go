package workers

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// BotPlayer advances sessions where a bot owns the turn.
type BotPlayer interface {
	PlayBotTurns(ctx context.Context) (int, error)
}

// RunBotDriver acts for bots once per interval until ctx is done. Each tick makes at
// most one move per session so a human opponent sees the bot's turn unfold.
func RunBotDriver(ctx context.Context, bots BotPlayer, clock clockwork.Clock, interval time.Duration) {
	zap.L().Info("[BotDriver] started", zap.Duration("interval", interval))

	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("[BotDriver] stopped")
			return
		case <-ticker.Chan():
			acted, err := bots.PlayBotTurns(ctx)
			if err != nil {
				zap.L().Error("[BotDriver] tick failed", zap.Error(err))
				continue
			}
			if acted > 0 {
				zap.L().Debug("[BotDriver] bot moves", zap.Int("count", acted))
			}
		}
	}
}
