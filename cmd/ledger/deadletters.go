package main

import (
	"context"
	"fmt"

	"wallet-ledger/config"
	redisStorage "wallet-ledger/internal/adapter/storage/redis"

	"github.com/rs/zerolog"
)

// showDeadLetters logs the newest count dead-lettered settlement jobs, one
// line per job, for an operator deciding what to replay.
func showDeadLetters(ctx context.Context, cfg *config.Config, count int64, log zerolog.Logger) error {
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()

	entries, err := newSettlementQueue(rdb, cfg.Settlement, log).DeadLetters(ctx, count)
	if err != nil {
		return err
	}
	for _, e := range entries {
		log.Info().
			Str("dead_letter_id", e.ID).
			Str("tx_id", e.TransactionID).
			Str("entry_id", e.EntryID).
			Str("reason", e.Reason).
			Int("attempts", e.Attempts).
			Time("failed_at", e.FailedAt).
			Str("error", e.Error).
			Msg("dead-lettered settlement job")
	}
	log.Info().
		Str("stream", cfg.Settlement.DeadLetterStream).
		Int("count", len(entries)).
		Msg("dead-letter listing complete")
	return nil
}
