package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/loanledger/internal/domain"
)

var sweptTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "loanledger_overdue_sweep_items_total",
	Help: "Overdue candidates handled by the sweeper",
}, []string{"result"})

type CandidateLister interface {
	ListOverdueCandidates(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

type OverdueMarker interface {
	MarkOverdue(ctx context.Context, id uuid.UUID) error
}

// OverdueSweeper periodically flips open loans past their due date to OVERDUE.
type OverdueSweeper struct {
	lister CandidateLister
	marker OverdueMarker
	logger *slog.Logger
	now    func() time.Time
}

func NewOverdueSweeper(lister CandidateLister, marker OverdueMarker, logger *slog.Logger) *OverdueSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &OverdueSweeper{
		lister: lister,
		marker: marker,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce marks up to batchSize candidates and returns how many it processed.
// A candidate that vanished between listing and marking is skipped.
func (s *OverdueSweeper) RunOnce(ctx context.Context, batchSize int) (int, error) {
	ids, err := s.lister.ListOverdueCandidates(ctx, s.now(), batchSize)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, id := range ids {
		if err := s.marker.MarkOverdue(ctx, id); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				sweptTotal.WithLabelValues("skipped").Inc()
				continue
			}
			sweptTotal.WithLabelValues("failed").Inc()
			return processed, err
		}
		sweptTotal.WithLabelValues("marked").Inc()
		processed++
	}
	return processed, nil
}

// Run sweeps every interval until ctx is cancelled. Errors from one sweep are
// logged and the next tick tries again.
func (s *OverdueSweeper) Run(ctx context.Context, interval time.Duration, batchSize int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := s.RunOnce(ctx, batchSize)
		switch {
		case err != nil && ctx.Err() == nil:
			s.logger.ErrorContext(ctx, "overdue sweep failed", slog.Any("error", err))
		case n > 0:
			s.logger.InfoContext(ctx, "overdue sweep", slog.Int("marked", n))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
