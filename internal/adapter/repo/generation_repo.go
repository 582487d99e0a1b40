package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"teamshots/internal/domain"
	"teamshots/internal/infra"
	"teamshots/internal/sqlinline"
)

// GenerationRepositoryPG implements domain.GenerationRepository.
type GenerationRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewGenerationRepository creates a generation repository over marker-tagged SQL.
func NewGenerationRepository(sql infra.SQLExecutor) *GenerationRepositoryPG {
	return &GenerationRepositoryPG{sql: sql}
}

// Get fetches a generation by its identifier.
func (r *GenerationRepositoryPG) Get(ctx context.Context, id string) (*domain.Generation, error) {
	g, err := ScanGeneration(r.sql.QueryRow(ctx, sqlinline.QSelectGeneration, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return g, nil
}

func (r *GenerationRepositoryPG) MarkProgress(ctx context.Context, id, progress string, attempts int) error {
	_, err := r.sql.Exec(ctx, sqlinline.QUpdateGenerationProgress, id, progress, attempts)
	return err
}

func (r *GenerationRepositoryPG) SetDebit(ctx context.Context, id, transactionID string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QSetGenerationDebit, id, transactionID)
	return err
}

func (r *GenerationRepositoryPG) Complete(ctx context.Context, id, imageKey string, attempts int, feedback []domain.EvaluationFeedback) error {
	raw, err := marshalFeedback(feedback)
	if err != nil {
		return err
	}
	_, err = r.sql.Exec(ctx, sqlinline.QCompleteGeneration, id, imageKey, attempts, raw)
	return err
}

func (r *GenerationRepositoryPG) Fail(ctx context.Context, id string, status domain.GenerationStatus, reason string, attempts int, feedback []domain.EvaluationFeedback) error {
	if status != domain.GenerationStatusFailed && status != domain.GenerationStatusCancelled {
		return fmt.Errorf("fail generation: unexpected status %q", status)
	}
	raw, err := marshalFeedback(feedback)
	if err != nil {
		return err
	}
	_, err = r.sql.Exec(ctx, sqlinline.QFailGeneration, id, string(status), reason, attempts, raw)
	return err
}

func (r *GenerationRepositoryPG) Requeue(ctx context.Context, id string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QRequeueGeneration, id)
	return err
}

func (r *GenerationRepositoryPG) Heartbeat(ctx context.Context, id string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QTouchGeneration, id)
	return err
}

// RequestCancel flags the generation. It reports false when the generation
// is already terminal or does not exist.
func (r *GenerationRepositoryPG) RequestCancel(ctx context.Context, id string) (bool, error) {
	var status string
	if err := r.sql.QueryRow(ctx, sqlinline.QRequestGenerationCancel, id).Scan(&status); err != nil {
		if infra.IsNoRows(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *GenerationRepositoryPG) CancelRequested(ctx context.Context, id string) (bool, error) {
	var flag bool
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectGenerationCancel, id).Scan(&flag); err != nil {
		if infra.IsNoRows(err) {
			// a deleted generation counts as cancelled
			return true, nil
		}
		return false, err
	}
	return flag, nil
}

// PendingRefunds lists failed or cancelled generations whose debit has no refund yet.
func (r *GenerationRepositoryPG) PendingRefunds(ctx context.Context, limit int) ([]domain.Generation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.sql.Query(ctx, sqlinline.QSelectPendingRefunds, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Generation
	for rows.Next() {
		g, err := ScanGeneration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

// ScanGeneration scans a row selected with the shared generation column list.
func ScanGeneration(row pgx.Row) (*domain.Generation, error) {
	var (
		g          domain.Generation
		status     string
		source     string
		selfieKeys []byte
		style      []byte
		feedback   []byte
	)
	if err := row.Scan(
		&g.ID,
		&g.PersonID,
		&g.UserID,
		&g.TeamID,
		&status,
		&source,
		&g.CreditCost,
		&selfieKeys,
		&style,
		&g.PackageID,
		&g.WorkflowVersion,
		&g.Attempts,
		&g.Progress,
		&g.FinalImageKey,
		&g.FailureReason,
		&feedback,
		&g.CancelRequested,
		&g.DebitTransactionID,
		&g.CreatedAt,
		&g.UpdatedAt,
	); err != nil {
		return nil, err
	}
	g.Status = domain.GenerationStatus(status)
	g.CreditSource = domain.CreditSource(source)
	if err := unmarshalIfPresent(selfieKeys, &g.SelfieKeys); err != nil {
		return nil, fmt.Errorf("decode selfie keys: %w", err)
	}
	if err := unmarshalIfPresent(style, &g.Style); err != nil {
		return nil, fmt.Errorf("decode style settings: %w", err)
	}
	if err := unmarshalIfPresent(feedback, &g.Feedback); err != nil {
		return nil, fmt.Errorf("decode feedback: %w", err)
	}
	return &g, nil
}

func marshalFeedback(feedback []domain.EvaluationFeedback) ([]byte, error) {
	if feedback == nil {
		feedback = []domain.EvaluationFeedback{}
	}
	return json.Marshal(feedback)
}

func unmarshalIfPresent(raw []byte, dest any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dest)
}

var _ domain.GenerationRepository = (*GenerationRepositoryPG)(nil)
