package service

import (
	"context"
	"fmt"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"

	"github.com/rs/zerolog"
)

// Reconciler re-enqueues transactions stuck in PROCESSING, either because
// their job was dead-lettered or because enqueueing failed at submission.
// Settlement skips terminal transactions, so a duplicate job is harmless.
type Reconciler struct {
	txRepo     ports.TransactionRepository
	queue      ports.SettlementQueue
	interval   time.Duration
	staleAfter time.Duration
	batch      int
	metrics    *Metrics
	log        zerolog.Logger
	now        func() time.Time
}

// NewReconciler creates a new Reconciler. An interval of zero disables Run.
func NewReconciler(
	txRepo ports.TransactionRepository,
	queue ports.SettlementQueue,
	interval, staleAfter time.Duration,
	batch int,
	metrics *Metrics,
	log zerolog.Logger,
) *Reconciler {
	if batch <= 0 {
		batch = 100
	}
	return &Reconciler{
		txRepo:     txRepo,
		queue:      queue,
		interval:   interval,
		staleAfter: staleAfter,
		batch:      batch,
		metrics:    metrics,
		log:        log,
		now:        time.Now,
	}
}

// Run calls RunOnce every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.interval <= 0 {
		r.log.Info().Msg("reconciler disabled")
		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.log.Error().Err(err).Msg("reconciliation pass failed")
			}
		}
	}
}

// RunOnce re-enqueues up to one batch of stale PROCESSING transactions and
// returns how many were enqueued.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.staleAfter)
	stale, err := r.txRepo.ListStale(ctx, cutoff, r.batch)
	if err != nil {
		return 0, fmt.Errorf("list stale transactions: %w", err)
	}

	enqueued := 0
	for _, txn := range stale {
		if err := r.queue.Enqueue(ctx, domain.SettlementJob{TransactionID: txn.ID}); err != nil {
			return enqueued, fmt.Errorf("re-enqueue %s: %w", txn.ID, err)
		}
		enqueued++
		r.metrics.Reenqueued.Inc()
		r.log.Warn().
			Str("tx_id", txn.ID.String()).
			Time("created_at", txn.CreatedAt).
			Msg("stale PROCESSING transaction re-enqueued")
	}
	return enqueued, nil
}
