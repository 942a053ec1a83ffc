// Package worker runs the settlement consumers: a pool of goroutines reading
// the settlement queue, retrying transient failures and dead-lettering jobs
// that cannot settle.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/internal/service"
	"wallet-ledger/pkg/apperror"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const fetchErrorBackoff = time.Second

var errRedeliveryLimit = errors.New("settlement job redelivered past the retry limit")

// Options configures a Pool.
type Options struct {
	Workers        int
	ConsumerPrefix string
	ClaimMinIdle   time.Duration
	ClaimInterval  time.Duration // zero disables reclaiming
	Retry          RetryPolicy
}

// Pool consumes settlement jobs. A delivery is acked only after Settle
// succeeds or the job has been dead-lettered, so a crash mid-settlement
// leaves it pending for the reclaim loop.
type Pool struct {
	queue   ports.SettlementQueue
	settler ports.SettlementService
	opts    Options
	metrics *service.Metrics
	log     zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewPool creates a new Pool.
func NewPool(
	queue ports.SettlementQueue,
	settler ports.SettlementService,
	opts Options,
	metrics *service.Metrics,
	log zerolog.Logger,
) *Pool {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.ConsumerPrefix == "" {
		opts.ConsumerPrefix = "ledger"
	}
	return &Pool{
		queue:   queue,
		settler: settler,
		opts:    opts,
		metrics: metrics,
		log:     log.With().Str("component", "settlement_worker").Logger(),
		sleep:   sleep,
	}
}

// Run blocks until ctx is cancelled. Deliveries in flight at shutdown are
// left unacked and get reclaimed later.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < p.opts.Workers; i++ {
		consumer := fmt.Sprintf("%s-%d", p.opts.ConsumerPrefix, i)
		g.Go(func() error { return p.consume(gctx, consumer) })
	}
	if p.opts.ClaimInterval > 0 {
		g.Go(func() error { return p.reclaim(gctx, p.opts.ConsumerPrefix+"-reclaim") })
	}

	p.log.Info().Int("workers", p.opts.Workers).Msg("settlement workers started")
	err := g.Wait()
	p.log.Info().Msg("settlement workers stopped")
	return err
}

func (p *Pool) consume(ctx context.Context, consumer string) error {
	for ctx.Err() == nil {
		deliveries, err := p.queue.Fetch(ctx, consumer)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.log.Error().Err(err).Str("consumer", consumer).Msg("fetch settlement jobs failed")
			_ = p.sleep(ctx, fetchErrorBackoff)
			continue
		}
		for _, d := range deliveries {
			p.Process(ctx, d)
		}
	}
	return nil
}

func (p *Pool) reclaim(ctx context.Context, consumer string) error {
	ticker := time.NewTicker(p.opts.ClaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		deliveries, err := p.queue.Reclaim(ctx, consumer, p.opts.ClaimMinIdle)
		if err != nil {
			if ctx.Err() == nil {
				p.log.Error().Err(err).Msg("reclaim settlement jobs failed")
			}
			continue
		}
		if len(deliveries) > 0 {
			p.log.Warn().Int("count", len(deliveries)).Msg("reclaimed stalled settlement jobs")
		}
		for _, d := range deliveries {
			p.Process(ctx, d)
		}
	}
}

// Process settles one delivery, retrying transient failures per the retry
// policy. Earlier deliveries of the same entry count against the policy, so
// a job whose consumers keep dying is dead-lettered instead of reclaimed
// forever. It returns once the delivery is acked, dead-lettered, or ctx ends.
func (p *Pool) Process(ctx context.Context, d domain.Delivery) {
	txID := d.Job.TransactionID.String()

	attempt := max(d.Deliveries, 1)
	if p.opts.Retry.Exhausted(attempt - 1) {
		p.deadLetter(ctx, d, errRedeliveryLimit, attempt-1, "retries_exhausted")
		return
	}

	for ; ; attempt++ {
		res, err := p.settler.Settle(ctx, d.Job.TransactionID)
		if err == nil {
			if res.Skipped {
				p.log.Debug().Str("tx_id", txID).Msg("duplicate settlement job acknowledged")
			}
			if err := p.queue.Ack(ctx, d); err != nil {
				p.log.Error().Err(err).Str("tx_id", txID).Str("entry_id", d.ID).Msg("ack failed, job will be redelivered")
			}
			return
		}

		// Shutting down; the delivery stays pending for another consumer.
		if ctx.Err() != nil {
			return
		}

		if apperror.IsFatal(err) {
			p.deadLetter(ctx, d, err, attempt, "fatal_data")
			return
		}

		if p.opts.Retry.Exhausted(attempt) {
			p.deadLetter(ctx, d, err, attempt, "retries_exhausted")
			return
		}

		wait := p.opts.Retry.Backoff(attempt)
		p.log.Warn().Err(err).
			Str("tx_id", txID).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("settlement failed, retrying")

		if err := p.sleep(ctx, wait); err != nil {
			return
		}
	}
}

func (p *Pool) deadLetter(ctx context.Context, d domain.Delivery, cause error, attempts int, reason string) {
	p.metrics.DeadLetters.WithLabelValues(reason).Inc()
	p.log.Error().Err(cause).
		Str("tx_id", d.Job.TransactionID.String()).
		Str("entry_id", d.ID).
		Str("reason", reason).
		Int("attempts", attempts).
		Msg("settlement job dead-lettered, transaction left PROCESSING")

	if err := p.queue.DeadLetter(ctx, d, cause, attempts); err != nil {
		p.log.Error().Err(err).Str("tx_id", d.Job.TransactionID.String()).Msg("dead-letter write failed, job will be redelivered")
	}
}
