package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Stream entry fields.
const (
	fieldTransactionID = "transaction_id"
	fieldEntryID       = "entry_id"
	fieldStream        = "original_stream"
	fieldError         = "error"
	fieldReason        = "reason"
	fieldAttempts      = "attempts"
	fieldFailedAt      = "failed_at"
)

// Dead-letter reasons.
const (
	ReasonRetriesExhausted = "retries_exhausted"
	ReasonFatalData        = "fatal_data"
	ReasonMalformed        = "malformed_entry"
)

// QueueOptions configures the settlement stream and its consumer group.
type QueueOptions struct {
	Stream           string
	Group            string
	DeadLetterStream string
	Block            time.Duration // XREADGROUP block; negative means do not block
	Batch            int64
}

// SettlementQueue implements ports.SettlementQueue on a Redis Streams
// consumer group. Entries stay in the group's pending list until Ack or
// DeadLetter, so a consumer that dies mid-settlement leaves its entries
// for Reclaim.
type SettlementQueue struct {
	client goredis.UniversalClient
	opt    QueueOptions
	log    zerolog.Logger
}

// NewSettlementQueue creates a queue. Call EnsureGroup before consuming.
func NewSettlementQueue(client goredis.UniversalClient, opt QueueOptions, log zerolog.Logger) *SettlementQueue {
	if opt.Stream == "" {
		opt.Stream = "settlement:jobs"
	}
	if opt.Group == "" {
		opt.Group = "settlement_workers"
	}
	if opt.DeadLetterStream == "" {
		opt.DeadLetterStream = opt.Stream + ":dead"
	}
	if opt.Batch <= 0 {
		opt.Batch = 10
	}
	return &SettlementQueue{client: client, opt: opt, log: log}
}

// EnsureGroup creates the stream and consumer group if missing. The group
// starts at the beginning of the stream so jobs enqueued before the first
// worker came up are still delivered.
func (q *SettlementQueue) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.opt.Stream, q.opt.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on %s: %w", q.opt.Group, q.opt.Stream, err)
	}
	return nil
}

// Enqueue appends a job to the stream.
func (q *SettlementQueue) Enqueue(ctx context.Context, job domain.SettlementJob) error {
	err := q.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: q.opt.Stream,
		Values: map[string]interface{}{fieldTransactionID: job.TransactionID.String()},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd settlement job: %w", err)
	}
	return nil
}

// Fetch reads new entries for consumer, blocking up to the configured
// duration. A timeout returns no deliveries and no error.
func (q *SettlementQueue) Fetch(ctx context.Context, consumer string) ([]domain.Delivery, error) {
	res, err := q.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    q.opt.Group,
		Consumer: consumer,
		Streams:  []string{q.opt.Stream, ">"},
		Count:    q.opt.Batch,
		Block:    q.opt.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	var deliveries []domain.Delivery
	for _, strm := range res {
		deliveries = append(deliveries, q.decode(ctx, strm.Messages)...)
	}
	for i := range deliveries {
		deliveries[i].Deliveries = 1
	}
	return deliveries, nil
}

// Reclaim transfers entries idle for at least minIdle to consumer. Each
// reclaimed delivery carries the group's delivery counter for its entry.
func (q *SettlementQueue) Reclaim(ctx context.Context, consumer string, minIdle time.Duration) ([]domain.Delivery, error) {
	var deliveries []domain.Delivery
	start := "0-0"
	for {
		msgs, next, err := q.client.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
			Stream:   q.opt.Stream,
			Group:    q.opt.Group,
			Consumer: consumer,
			MinIdle:  minIdle,
			Start:    start,
			Count:    q.opt.Batch,
		}).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return deliveries, nil
			}
			return deliveries, fmt.Errorf("xautoclaim: %w", err)
		}

		claimed := q.decode(ctx, msgs)
		if err := q.attachDeliveryCounts(ctx, claimed); err != nil {
			return deliveries, err
		}
		deliveries = append(deliveries, claimed...)
		if next == "0-0" || len(msgs) == 0 {
			return deliveries, nil
		}
		start = next
	}
}

// attachDeliveryCounts copies each entry's delivery counter from the
// group's pending list onto the matching delivery.
func (q *SettlementQueue) attachDeliveryCounts(ctx context.Context, deliveries []domain.Delivery) error {
	if len(deliveries) == 0 {
		return nil
	}
	cmds := make([]*goredis.XPendingExtCmd, len(deliveries))
	_, err := q.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for i, d := range deliveries {
			cmds[i] = p.XPendingExt(ctx, &goredis.XPendingExtArgs{
				Stream: q.opt.Stream,
				Group:  q.opt.Group,
				Start:  d.ID,
				End:    d.ID,
				Count:  1,
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("xpending: %w", err)
	}

	for i, cmd := range cmds {
		deliveries[i].Deliveries = 1
		if pending := cmd.Val(); len(pending) == 1 && pending[0].RetryCount > 1 {
			deliveries[i].Deliveries = int(pending[0].RetryCount)
		}
	}
	return nil
}

// Ack acknowledges the entry and removes it from the stream.
func (q *SettlementQueue) Ack(ctx context.Context, d domain.Delivery) error {
	_, err := q.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.XAck(ctx, q.opt.Stream, q.opt.Group, d.ID)
		p.XDel(ctx, q.opt.Stream, d.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack settlement entry %s: %w", d.ID, err)
	}
	return nil
}

// DeadLetter copies the job with its failure onto the dead-letter stream and
// then acks the original entry.
func (q *SettlementQueue) DeadLetter(ctx context.Context, d domain.Delivery, cause error, attempts int) error {
	reason := ReasonRetriesExhausted
	if apperror.IsFatal(cause) {
		reason = ReasonFatalData
	}
	return q.deadLetter(ctx, d.ID, map[string]interface{}{
		fieldTransactionID: d.Job.TransactionID.String(),
	}, cause, reason, attempts)
}

func (q *SettlementQueue) deadLetter(ctx context.Context, entryID string, values map[string]interface{}, cause error, reason string, attempts int) error {
	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}
	values[fieldEntryID] = entryID
	values[fieldStream] = q.opt.Stream
	values[fieldError] = errMsg
	values[fieldReason] = reason
	values[fieldAttempts] = strconv.Itoa(attempts)
	values[fieldFailedAt] = time.Now().UTC().Format(time.RFC3339Nano)

	err := q.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: q.opt.DeadLetterStream,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd dead letter: %w", err)
	}
	return q.Ack(ctx, domain.Delivery{ID: entryID})
}

// decode turns stream messages into deliveries. Entries without a valid
// transaction id can never settle and go straight to the dead-letter stream.
func (q *SettlementQueue) decode(ctx context.Context, msgs []goredis.XMessage) []domain.Delivery {
	deliveries := make([]domain.Delivery, 0, len(msgs))
	for _, m := range msgs {
		raw, _ := m.Values[fieldTransactionID].(string)
		id, err := uuid.Parse(raw)
		if err != nil {
			q.log.Error().Err(err).Str("entry_id", m.ID).Msg("malformed settlement entry, dead-lettering")
			if dlErr := q.deadLetter(ctx, m.ID, map[string]interface{}{fieldTransactionID: raw}, err, ReasonMalformed, 0); dlErr != nil {
				q.log.Error().Err(dlErr).Str("entry_id", m.ID).Msg("failed to dead-letter malformed entry")
			}
			continue
		}
		deliveries = append(deliveries, domain.Delivery{
			ID:  m.ID,
			Job: domain.SettlementJob{TransactionID: id},
		})
	}
	return deliveries
}

// DeadLetterEntry is one record on the dead-letter stream.
type DeadLetterEntry struct {
	ID            string
	TransactionID string
	EntryID       string
	Error         string
	Reason        string
	Attempts      int
	FailedAt      time.Time
}

// DeadLetters returns up to count dead-lettered jobs, newest first.
func (q *SettlementQueue) DeadLetters(ctx context.Context, count int64) ([]DeadLetterEntry, error) {
	msgs, err := q.client.XRevRangeN(ctx, q.opt.DeadLetterStream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange dead letters: %w", err)
	}
	entries := make([]DeadLetterEntry, 0, len(msgs))
	for _, m := range msgs {
		e := DeadLetterEntry{ID: m.ID}
		e.TransactionID, _ = m.Values[fieldTransactionID].(string)
		e.EntryID, _ = m.Values[fieldEntryID].(string)
		e.Error, _ = m.Values[fieldError].(string)
		e.Reason, _ = m.Values[fieldReason].(string)
		if s, ok := m.Values[fieldAttempts].(string); ok {
			e.Attempts, _ = strconv.Atoi(s)
		}
		if s, ok := m.Values[fieldFailedAt].(string); ok {
			e.FailedAt, _ = time.Parse(time.RFC3339Nano, s)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
