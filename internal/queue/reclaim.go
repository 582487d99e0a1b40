package queue

import (
	"context"
	"time"

	"teamshots/internal/adapter/repo"
	"teamshots/internal/domain"
	"teamshots/internal/infra"
	"teamshots/internal/sqlinline"
)

// ReclaimResult counts what one reclaim pass did.
type ReclaimResult struct {
	Requeued  []string
	Cancelled []string
}

// ReclaimStale releases running generations whose worker stopped
// heartbeating for longer than olderThan. Pending cancels end cancelled,
// everything else is queued again with its debit kept.
func (r *Records) ReclaimStale(ctx context.Context, olderThan time.Duration) (ReclaimResult, error) {
	var res ReclaimResult
	rows, err := r.sql.Query(ctx, sqlinline.QReclaimStaleGenerations, olderThan.Seconds())
	if err != nil {
		return res, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return res, err
		}
		if domain.GenerationStatus(status) == domain.GenerationStatusCancelled {
			res.Cancelled = append(res.Cancelled, id)
			continue
		}
		res.Requeued = append(res.Requeued, id)
	}
	return res, rows.Err()
}

// ClaimOrphan claims the oldest queued generation untouched for longer than
// olderThan. It returns domain.ErrNotFound when there is none.
func (r *Records) ClaimOrphan(ctx context.Context, olderThan time.Duration) (*domain.Generation, error) {
	return r.claim(repo.ScanGeneration(r.sql.QueryRow(ctx, sqlinline.QClaimOrphanedGeneration, olderThan.Seconds())))
}

// RunReclaimer calls ReclaimStale every interval until ctx ends.
func RunReclaimer(ctx context.Context, records *Records, every, staleAfter time.Duration, logger *infra.Logger) {
	if every <= 0 || staleAfter <= 0 {
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
			res, err := records.ReclaimStale(ctx, staleAfter)
			if err != nil {
				if ctx.Err() == nil {
					log.Error().Err(err).Msg("queue: stale reclaim failed")
				}
				continue
			}
			for _, id := range res.Requeued {
				log.Warn().Str("generation_id", id).Msg("queue: requeued stale generation")
			}
			for _, id := range res.Cancelled {
				log.Warn().Str("generation_id", id).Msg("queue: cancelled stale generation")
			}
		}
	}
}
