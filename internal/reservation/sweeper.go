package reservation

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/avolkhin/movie-seat-reservations/internal/domain"
	"github.com/avolkhin/movie-seat-reservations/internal/observability"
	"golang.org/x/sync/errgroup"
)

// ExpiredScanner finds held seats whose deadline has passed.
type ExpiredScanner interface {
	FindExpiredHeldSeats(ctx context.Context, now time.Time, limit int) ([]domain.ExpiredHold, error)
}

// Sweeper periodically reclaims held seats that outlived their deadline.
// In-process timers already cover the normal case; the sweeper covers holds
// orphaned by a process that crashed before its timer fired, and holds whose
// timer release kept failing against the store.
type Sweeper struct {
	manager   *Manager
	scanner   ExpiredScanner
	logger    observability.Logger
	interval  time.Duration
	batchSize int
}

func NewSweeper(manager *Manager, scanner ExpiredScanner, logger observability.Logger, interval time.Duration) *Sweeper {
	return &Sweeper{
		manager:   manager,
		scanner:   scanner,
		logger:    logger,
		interval:  interval,
		batchSize: 100,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(ctx, now)
		}
	}
}

// Sweep releases every expired hold found in one scan. Each release is the
// same guarded compare-and-set the timers use, so racing a live confirm is
// safe.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) {
	expired, err := s.scanner.FindExpiredHeldSeats(ctx, now, s.batchSize)
	if err != nil {
		s.logger.WithError(err).Error("failed to scan for expired holds")
		return
	}
	if len(expired) == 0 {
		return
	}

	var released int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, hold := range expired {
		hold := hold
		g.Go(func() error {
			ok, err := s.manager.ReleaseExpired(gctx, hold.Key, hold.HolderID)
			if err != nil {
				s.logger.WithError(err).WithField("seat", hold.Key.String()).Error("failed to release orphaned hold")
				return nil
			}
			if ok {
				atomic.AddInt64(&released, 1)
			}
			return nil
		})
	}
	g.Wait()

	if n := atomic.LoadInt64(&released); n > 0 {
		s.logger.WithField("count", n).Info("released orphaned holds")
	}
}
