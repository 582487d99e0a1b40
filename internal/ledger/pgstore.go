package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"teamshots/internal/domain"
	"teamshots/internal/infra"
	"teamshots/internal/sqlinline"
)

// Runner is satisfied by infra.SQLRunner.
type Runner interface {
	infra.SQLExecutor
	infra.TxRunner
}

// PGStore keeps the ledger in PostgreSQL. Owner transactions lock the
// balance row with SELECT ... FOR UPDATE.
type PGStore struct {
	db Runner
}

func NewPGStore(db Runner) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) InOwnerTx(ctx context.Context, ownerKey string, fn func(ctx context.Context, tx OwnerTx) error) error {
	return s.db.InTx(ctx, func(ctx context.Context, exec infra.SQLExecutor) error {
		if _, err := exec.Exec(ctx, sqlinline.QEnsureCreditBalance, ownerKey); err != nil {
			return fmt.Errorf("ensure balance row: %w", err)
		}
		var balance int
		if err := exec.QueryRow(ctx, sqlinline.QLockCreditBalance, ownerKey).Scan(&balance); err != nil {
			return fmt.Errorf("lock balance: %w", err)
		}
		return fn(ctx, &pgOwnerTx{exec: exec, ownerKey: ownerKey, balance: balance})
	})
}

func (s *PGStore) Transaction(ctx context.Context, id string) (domain.CreditTransaction, error) {
	return scanOne(s.db.QueryRow(ctx, sqlinline.QSelectCreditTransaction, id))
}

func (s *PGStore) GenerationDebit(ctx context.Context, generationID string) (domain.CreditTransaction, error) {
	return scanOne(s.db.QueryRow(ctx, sqlinline.QSelectGenerationDebit, generationID))
}

func (s *PGStore) ByExternalRef(ctx context.Context, ref string) (domain.CreditTransaction, error) {
	return scanOne(s.db.QueryRow(ctx, sqlinline.QSelectCreditByExternalRef, ref))
}

func (s *PGStore) RefundFor(ctx context.Context, originalID string) (domain.CreditTransaction, error) {
	return scanOne(s.db.QueryRow(ctx, sqlinline.QSelectRefundForTransaction, originalID))
}

func (s *PGStore) OwnerTransactions(ctx context.Context, ownerKey string) ([]domain.CreditTransaction, error) {
	rows, err := s.db.Query(ctx, sqlinline.QSelectOwnerTransactions, ownerKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.CreditTransaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}

func (s *PGStore) Balance(ctx context.Context, ownerKey string) (int, error) {
	var balance int
	err := s.db.QueryRow(ctx, sqlinline.QSelectCreditBalance, ownerKey).Scan(&balance)
	if infra.IsNoRows(err) {
		return 0, nil
	}
	return balance, err
}

func (s *PGStore) RecordCost(ctx context.Context, rec domain.CostRecord) error {
	_, err := s.db.Exec(ctx, sqlinline.QInsertGenerationCost,
		rec.GenerationID, rec.Step, rec.Attempt, rec.Provider, rec.Model, rec.CostUSD,
		rec.InputTokens, rec.OutputTokens, rec.Images, rec.Duration.Milliseconds(), rec.Success, rec.ErrorCode)
	return err
}

func (s *PGStore) GenerationCost(ctx context.Context, generationID string) (float64, int, error) {
	var (
		total float64
		count int
	)
	err := s.db.QueryRow(ctx, sqlinline.QSumGenerationCost, generationID).Scan(&total, &count)
	return total, count, err
}

type pgOwnerTx struct {
	exec     infra.SQLExecutor
	ownerKey string
	balance  int
}

func (t *pgOwnerTx) Balance() int { return t.balance }

func (t *pgOwnerTx) SetBalance(ctx context.Context, balance int) error {
	if _, err := t.exec.Exec(ctx, sqlinline.QUpdateCreditBalance, t.ownerKey, balance); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	t.balance = balance
	return nil
}

func (t *pgOwnerTx) Insert(ctx context.Context, txn *domain.CreditTransaction) error {
	meta, err := marshalMetadata(txn.Metadata)
	if err != nil {
		return err
	}
	err = t.exec.QueryRow(ctx, sqlinline.QInsertCreditTransaction,
		txn.ID, txn.OwnerKey, txn.PersonID, txn.TeamID, txn.UserID, txn.Amount, string(txn.Type),
		txn.RelatedTransactionID, txn.GenerationID, txn.ExternalRef, meta,
	).Scan(&txn.Seq, &txn.CreatedAt)
	if infra.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", domain.ErrDuplicateOperation, err)
	}
	return err
}

func (t *pgOwnerTx) FindRefund(ctx context.Context, originalID string) (*domain.CreditTransaction, error) {
	return scanOptional(t.exec.QueryRow(ctx, sqlinline.QSelectRefundForTransaction, originalID))
}

func (t *pgOwnerTx) FindDebit(ctx context.Context, generationID string) (*domain.CreditTransaction, error) {
	return scanOptional(t.exec.QueryRow(ctx, sqlinline.QSelectGenerationDebit, generationID))
}

func (t *pgOwnerTx) FindByExternalRef(ctx context.Context, ref string) (*domain.CreditTransaction, error) {
	return scanOptional(t.exec.QueryRow(ctx, sqlinline.QSelectCreditByExternalRef, ref))
}

func scanTransaction(row pgx.Row) (domain.CreditTransaction, error) {
	var (
		txn  domain.CreditTransaction
		kind string
		meta []byte
		at   time.Time
	)
	if err := row.Scan(&txn.ID, &txn.Seq, &txn.OwnerKey, &txn.PersonID, &txn.TeamID, &txn.UserID,
		&txn.Amount, &kind, &txn.RelatedTransactionID, &txn.GenerationID, &txn.ExternalRef, &meta, &at); err != nil {
		return domain.CreditTransaction{}, err
	}
	txn.Type = domain.TransactionType(kind)
	txn.CreatedAt = at
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &txn.Metadata); err != nil {
			return domain.CreditTransaction{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return txn, nil
}

func scanOne(row pgx.Row) (domain.CreditTransaction, error) {
	txn, err := scanTransaction(row)
	if infra.IsNoRows(err) {
		return domain.CreditTransaction{}, domain.ErrNotFound
	}
	return txn, err
}

func scanOptional(row pgx.Row) (*domain.CreditTransaction, error) {
	txn, err := scanTransaction(row)
	if infra.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func marshalMetadata(meta map[string]any) ([]byte, error) {
	if len(meta) == 0 {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return data, nil
}
