package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"teamshots/internal/adapter/repo"
	"teamshots/internal/domain"
	"teamshots/internal/infra"
	"teamshots/internal/sqlinline"
)

const defaultPollInterval = 2 * time.Second

// Records wraps the generation rows the queue claims from.
type Records struct {
	sql infra.SQLExecutor
}

func NewRecords(sql infra.SQLExecutor) *Records {
	return &Records{sql: sql}
}

// Insert stores the job as a queued generation. It reports false when a
// record with the same id already exists.
func (r *Records) Insert(ctx context.Context, job Job) (bool, error) {
	if err := job.Validate(); err != nil {
		return false, err
	}
	g := job.Generation()
	keys, err := json.Marshal(g.SelfieKeys)
	if err != nil {
		return false, fmt.Errorf("encode selfie keys: %w", err)
	}
	style, err := json.Marshal(g.Style)
	if err != nil {
		return false, fmt.Errorf("encode style settings: %w", err)
	}
	var id string
	err = r.sql.QueryRow(ctx, sqlinline.QInsertGeneration,
		g.ID, g.PersonID, g.UserID, g.TeamID, string(g.CreditSource), g.CreditCost,
		keys, style, g.PackageID, g.WorkflowVersion,
	).Scan(&id)
	if err != nil {
		if infra.IsNoRows(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ClaimNext moves the oldest queued generation to running. It returns
// domain.ErrNotFound when nothing is queued.
func (r *Records) ClaimNext(ctx context.Context) (*domain.Generation, error) {
	return r.claim(repo.ScanGeneration(r.sql.QueryRow(ctx, sqlinline.QClaimNextGeneration)))
}

// ClaimByID claims a specific queued generation. It returns
// domain.ErrNotFound when the record is missing, already claimed, terminal
// or cancelled.
func (r *Records) ClaimByID(ctx context.Context, id string) (*domain.Generation, error) {
	return r.claim(repo.ScanGeneration(r.sql.QueryRow(ctx, sqlinline.QClaimGenerationByID, id)))
}

func (r *Records) claim(g *domain.Generation, err error) (*domain.Generation, error) {
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return g, nil
}

// PostgresSource polls the generations table, claiming rows with
// FOR UPDATE SKIP LOCKED so several workers can share it.
type PostgresSource struct {
	records *Records
	poll    time.Duration
	logger  infra.Logger
}

func NewPostgresSource(records *Records, poll time.Duration, logger *infra.Logger) *PostgresSource {
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &PostgresSource{records: records, poll: poll, logger: infra.OrNop(logger)}
}

func (s *PostgresSource) Next(ctx context.Context) (*Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		g, err := s.records.ClaimNext(ctx)
		if err == nil {
			return NewDelivery(*g, nil), nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Error().Err(err).Msg("queue: claim generation failed")
		}
		if err := waitPoll(ctx, s.poll); err != nil {
			return nil, err
		}
	}
}

func (s *PostgresSource) Close() error { return nil }

// PostgresPublisher enqueues by inserting the record; PostgresSource picks
// it up on its next poll.
type PostgresPublisher struct {
	records *Records
}

func NewPostgresPublisher(records *Records) *PostgresPublisher {
	return &PostgresPublisher{records: records}
}

func (p *PostgresPublisher) Publish(ctx context.Context, job Job) (bool, error) {
	return p.records.Insert(ctx, job)
}

func (p *PostgresPublisher) Close() error { return nil }

var (
	_ Source    = (*PostgresSource)(nil)
	_ Publisher = (*PostgresPublisher)(nil)
)
