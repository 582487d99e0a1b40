package worker

import (
	"context"
	"time"

	"teamshots/internal/domain"
	"teamshots/internal/infra"
)

const refundSweepBatch = 100

// RefundSource lists terminal generations whose debit was never refunded.
type RefundSource interface {
	PendingRefunds(ctx context.Context, limit int) ([]domain.Generation, error)
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Scanned  int
	Refunded int
	Failed   int
}

// SweepRefunds refunds every pending generation once. Refunds are
// idempotent so overlapping sweeps are safe.
func SweepRefunds(ctx context.Context, src RefundSource, ledger Ledger, logger *infra.Logger) (SweepResult, error) {
	log := infra.OrNop(logger)
	pending, err := src.PendingRefunds(ctx, refundSweepBatch)
	if err != nil {
		return SweepResult{}, err
	}
	res := SweepResult{Scanned: len(pending)}
	for _, g := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		txn, created, err := ledger.RefundGeneration(ctx, g.ID)
		if err != nil {
			res.Failed++
			log.Error().Err(err).Str("generation_id", g.ID).Msg("refund sweep: refund failed")
			continue
		}
		if created {
			res.Refunded++
			log.Info().Str("generation_id", g.ID).Str("transaction_id", txn.ID).Msg("refund sweep: refunded")
		}
	}
	return res, nil
}

// RunRefundSweeper sweeps every interval until ctx ends.
func RunRefundSweeper(ctx context.Context, every time.Duration, src RefundSource, ledger Ledger, logger *infra.Logger) {
	if every <= 0 {
		return
	}
	log := infra.OrNop(logger)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := SweepRefunds(ctx, src, ledger, logger)
			if err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("refund sweep failed")
				continue
			}
			if res.Scanned > 0 {
				log.Info().Int("scanned", res.Scanned).Int("refunded", res.Refunded).Int("failed", res.Failed).Msg("refund sweep finished")
			}
		}
	}
}
