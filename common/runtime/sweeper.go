package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/noetl/noetl/common/dbx"
	"github.com/noetl/noetl/common/logger"
)

// Sweeper periodically marks components offline once their heartbeat has
// gone stale, the same ticker-goroutine idiom as common/cache.MemoryCache's
// cleanup loop, re-pointed at the runtime table instead of an in-process map.
type Sweeper struct {
	db           *dbx.DB
	log          *logger.Logger
	interval     time.Duration
	offlineAfter time.Duration
}

// NewSweeper builds a Sweeper; call Run in its own goroutine.
func NewSweeper(db *dbx.DB, log *logger.Logger, interval time.Duration, offlineAfterSeconds int) *Sweeper {
	return &Sweeper{
		db:           db,
		log:          log,
		interval:     interval,
		offlineAfter: time.Duration(offlineAfterSeconds) * time.Second,
	}
}

// Run blocks, sweeping on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.sweepOnce(ctx)
			if err != nil {
				s.log.Error("runtime sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.log.Info("marked runtime components offline", "count", n)
			}
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE runtime SET status = 'offline'
		WHERE status = 'online' AND last_heartbeat < now() - ($1 || ' seconds')::interval
	`, int(s.offlineAfter.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("sweep offline runtime components: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
