package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ ports.SettlementQueue = (*SettlementQueue)(nil)

func newTestQueue(t *testing.T) (*SettlementQueue, *miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	q := NewSettlementQueue(client, QueueOptions{
		Stream:           "settlement:jobs",
		Group:            "settlement_workers",
		DeadLetterStream: "settlement:dead",
		Block:            -1,
		Batch:            10,
	}, zerolog.Nop())
	require.NoError(t, q.EnsureGroup(context.Background()))
	return q, mr, client
}

func TestSettlementQueue_EnsureGroupIdempotent(t *testing.T) {
	q, _, _ := newTestQueue(t)
	assert.NoError(t, q.EnsureGroup(context.Background()))
}

func TestSettlementQueue_EnqueueFetchAck(t *testing.T) {
	q, _, client := newTestQueue(t)
	ctx := context.Background()
	txID := uuid.New()

	require.NoError(t, q.Enqueue(ctx, domain.SettlementJob{TransactionID: txID}))

	deliveries, err := q.Fetch(ctx, "worker-1")
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, txID, deliveries[0].Job.TransactionID)
	assert.NotEmpty(t, deliveries[0].ID)

	// Unacked entries stay pending.
	pending, err := client.XPending(ctx, "settlement:jobs", "settlement_workers").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending.Count)

	require.NoError(t, q.Ack(ctx, deliveries[0]))

	pending, err = client.XPending(ctx, "settlement:jobs", "settlement_workers").Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)

	length, err := client.XLen(ctx, "settlement:jobs").Result()
	require.NoError(t, err)
	assert.Zero(t, length, "acked entries are removed from the stream")
}

func TestSettlementQueue_FetchEmpty(t *testing.T) {
	q, _, _ := newTestQueue(t)

	deliveries, err := q.Fetch(context.Background(), "worker-1")
	assert.NoError(t, err)
	assert.Empty(t, deliveries)
}

func TestSettlementQueue_EnqueuedBeforeGroupIsDelivered(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	q := NewSettlementQueue(client, QueueOptions{Block: -1}, zerolog.Nop())
	txID := uuid.New()
	require.NoError(t, q.Enqueue(ctx, domain.SettlementJob{TransactionID: txID}))
	require.NoError(t, q.EnsureGroup(ctx))

	deliveries, err := q.Fetch(ctx, "worker-1")
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, txID, deliveries[0].Job.TransactionID)
}

func TestSettlementQueue_ReclaimIdleEntries(t *testing.T) {
	q, mr, _ := newTestQueue(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	mr.SetTime(start)

	txID := uuid.New()
	require.NoError(t, q.Enqueue(ctx, domain.SettlementJob{TransactionID: txID}))

	// worker-1 takes the entry and dies without acking.
	deliveries, err := q.Fetch(ctx, "worker-1")
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	// Not idle long enough yet.
	mr.SetTime(start.Add(10 * time.Second))
	reclaimed, err := q.Reclaim(ctx, "worker-2", time.Minute)
	require.NoError(t, err)
	assert.Empty(t, reclaimed)

	mr.SetTime(start.Add(2 * time.Minute))
	reclaimed, err = q.Reclaim(ctx, "worker-2", time.Minute)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, txID, reclaimed[0].Job.TransactionID)
	assert.Equal(t, deliveries[0].ID, reclaimed[0].ID)

	require.NoError(t, q.Ack(ctx, reclaimed[0]))
}

func TestSettlementQueue_ReclaimCarriesDeliveryCount(t *testing.T) {
	q, mr, _ := newTestQueue(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	mr.SetTime(now)

	require.NoError(t, q.Enqueue(ctx, domain.SettlementJob{TransactionID: uuid.New()}))
	deliveries, err := q.Fetch(ctx, "worker-1")
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, 1, deliveries[0].Deliveries)

	// Every consumer that takes the entry dies before acking it.
	for want := 2; want <= 4; want++ {
		now = now.Add(2 * time.Minute)
		mr.SetTime(now)
		reclaimed, err := q.Reclaim(ctx, "worker-reclaim", time.Minute)
		require.NoError(t, err)
		require.Len(t, reclaimed, 1)
		assert.Equal(t, deliveries[0].ID, reclaimed[0].ID)
		assert.Equal(t, want, reclaimed[0].Deliveries)
	}
}

func TestSettlementQueue_DeadLetter(t *testing.T) {
	q, _, client := newTestQueue(t)
	ctx := context.Background()
	txID := uuid.New()

	require.NoError(t, q.Enqueue(ctx, domain.SettlementJob{TransactionID: txID}))
	deliveries, err := q.Fetch(ctx, "worker-1")
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	require.NoError(t, q.DeadLetter(ctx, deliveries[0], errors.New("store unavailable"), 4))

	length, err := client.XLen(ctx, "settlement:jobs").Result()
	require.NoError(t, err)
	assert.Zero(t, length, "dead-lettered entries leave the main stream")

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, txID.String(), dead[0].TransactionID)
	assert.Equal(t, deliveries[0].ID, dead[0].EntryID)
	assert.Equal(t, "store unavailable", dead[0].Error)
	assert.Equal(t, 4, dead[0].Attempts)
	assert.Equal(t, ReasonRetriesExhausted, dead[0].Reason)
	assert.False(t, dead[0].FailedAt.IsZero())
}

func TestSettlementQueue_DeadLetterFatal(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, domain.SettlementJob{TransactionID: uuid.New()}))
	deliveries, err := q.Fetch(ctx, "worker-1")
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	cause := apperror.FatalData(errors.New("transaction does not exist"))
	require.NoError(t, q.DeadLetter(ctx, deliveries[0], cause, 1))

	dead, err := q.DeadLetters(ctx, 1)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, ReasonFatalData, dead[0].Reason)
}

func TestSettlementQueue_MalformedEntryIsDeadLettered(t *testing.T) {
	q, _, client := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, client.XAdd(ctx, &goredis.XAddArgs{
		Stream: "settlement:jobs",
		Values: map[string]interface{}{"transaction_id": "not-a-uuid"},
	}).Err())
	good := uuid.New()
	require.NoError(t, q.Enqueue(ctx, domain.SettlementJob{TransactionID: good}))

	deliveries, err := q.Fetch(ctx, "worker-1")
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, good, deliveries[0].Job.TransactionID)

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "not-a-uuid", dead[0].TransactionID)
	assert.Equal(t, ReasonMalformed, dead[0].Reason)
}

func TestSettlementQueue_EnqueueUnavailable(t *testing.T) {
	q, mr, _ := newTestQueue(t)
	mr.Close()

	err := q.Enqueue(context.Background(), domain.SettlementJob{TransactionID: uuid.New()})
	assert.Error(t, err)
}
