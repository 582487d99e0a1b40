package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"teamshots/internal/domain"
)

const sqliteSchema = `
create table if not exists credit_transactions (
    id text primary key,
    seq integer not null unique,
    owner_key text not null,
    person_id text not null default '',
    team_id text not null default '',
    user_id text not null default '',
    amount integer not null,
    type text not null check (type in ('purchase', 'generation', 'refund', 'top_up')),
    related_transaction_id text,
    generation_id text,
    external_ref text,
    metadata text not null default '{}',
    created_at integer not null
);
create index if not exists credit_transactions_owner_seq_idx on credit_transactions (owner_key, seq);
create unique index if not exists credit_transactions_one_refund_idx
    on credit_transactions (related_transaction_id) where type = 'refund';
create unique index if not exists credit_transactions_one_debit_idx
    on credit_transactions (generation_id) where type = 'generation';
create unique index if not exists credit_transactions_external_ref_idx
    on credit_transactions (external_ref) where external_ref is not null;
create table if not exists credit_balances (
    owner_key text primary key,
    balance integer not null default 0
);
create table if not exists generation_costs (
    id integer primary key autoincrement,
    generation_id text not null,
    step text not null,
    attempt integer not null,
    provider text not null,
    model text not null,
    cost_usd real not null,
    input_tokens integer not null,
    output_tokens integer not null,
    images integer not null,
    duration_ms integer not null,
    success integer not null,
    error_code text
);
`

const sqliteTxnColumns = `id, seq, owner_key, person_id, team_id, user_id, amount, type,
    coalesce(related_transaction_id, ''), coalesce(generation_id, ''), coalesce(external_ref, ''), metadata, created_at`

// SQLiteStore keeps the ledger in a single-connection SQLite database for
// single-node runs and tests. A process mutex stands in for row locks.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// OpenSQLite opens dsn (for example "file:ledger.db" or ":memory:") and
// creates the schema.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) InOwnerTx(ctx context.Context, ownerKey string, fn func(ctx context.Context, tx OwnerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `insert into credit_balances (owner_key, balance) values (?, 0) on conflict (owner_key) do nothing`, ownerKey); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("ensure balance row: %w", err)
	}
	var balance int
	if err := tx.QueryRowContext(ctx, `select balance from credit_balances where owner_key = ?`, ownerKey).Scan(&balance); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("read balance: %w", err)
	}
	if err := fn(ctx, &sqliteOwnerTx{tx: tx, ownerKey: ownerKey, balance: balance, now: s.now}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Transaction(ctx context.Context, id string) (domain.CreditTransaction, error) {
	return sqliteOne(s.db.QueryRowContext(ctx, `select `+sqliteTxnColumns+` from credit_transactions where id = ?`, id))
}

func (s *SQLiteStore) GenerationDebit(ctx context.Context, generationID string) (domain.CreditTransaction, error) {
	return sqliteOne(s.db.QueryRowContext(ctx, `select `+sqliteTxnColumns+` from credit_transactions where type = 'generation' and generation_id = ?`, generationID))
}

func (s *SQLiteStore) ByExternalRef(ctx context.Context, ref string) (domain.CreditTransaction, error) {
	return sqliteOne(s.db.QueryRowContext(ctx, `select `+sqliteTxnColumns+` from credit_transactions where external_ref = ?`, ref))
}

func (s *SQLiteStore) RefundFor(ctx context.Context, originalID string) (domain.CreditTransaction, error) {
	return sqliteOne(s.db.QueryRowContext(ctx, `select `+sqliteTxnColumns+` from credit_transactions where type = 'refund' and related_transaction_id = ?`, originalID))
}

func (s *SQLiteStore) OwnerTransactions(ctx context.Context, ownerKey string) ([]domain.CreditTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `select `+sqliteTxnColumns+` from credit_transactions where owner_key = ? order by seq asc`, ownerKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.CreditTransaction
	for rows.Next() {
		txn, err := sqliteScan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Balance(ctx context.Context, ownerKey string) (int, error) {
	var balance int
	err := s.db.QueryRowContext(ctx, `select balance from credit_balances where owner_key = ?`, ownerKey).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

func (s *SQLiteStore) RecordCost(ctx context.Context, rec domain.CostRecord) error {
	_, err := s.db.ExecContext(ctx, `insert into generation_costs (
        generation_id, step, attempt, provider, model, cost_usd, input_tokens, output_tokens,
        images, duration_ms, success, error_code
    ) values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, nullif(?, ''))`,
		rec.GenerationID, rec.Step, rec.Attempt, rec.Provider, rec.Model, rec.CostUSD,
		rec.InputTokens, rec.OutputTokens, rec.Images, rec.Duration.Milliseconds(), rec.Success, rec.ErrorCode)
	return err
}

func (s *SQLiteStore) GenerationCost(ctx context.Context, generationID string) (float64, int, error) {
	var (
		total float64
		count int
	)
	err := s.db.QueryRowContext(ctx, `select coalesce(sum(cost_usd), 0), count(*) from generation_costs where generation_id = ?`, generationID).Scan(&total, &count)
	return total, count, err
}

type sqliteOwnerTx struct {
	tx       *sql.Tx
	ownerKey string
	balance  int
	now      func() time.Time
}

func (t *sqliteOwnerTx) Balance() int { return t.balance }

func (t *sqliteOwnerTx) SetBalance(ctx context.Context, balance int) error {
	if _, err := t.tx.ExecContext(ctx, `update credit_balances set balance = ? where owner_key = ?`, balance, t.ownerKey); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	t.balance = balance
	return nil
}

func (t *sqliteOwnerTx) Insert(ctx context.Context, txn *domain.CreditTransaction) error {
	meta, err := marshalMetadata(txn.Metadata)
	if err != nil {
		return err
	}
	var seq int64
	if err := t.tx.QueryRowContext(ctx, `select coalesce(max(seq), 0) + 1 from credit_transactions`).Scan(&seq); err != nil {
		return fmt.Errorf("next seq: %w", err)
	}
	at := t.now().UTC()
	_, err = t.tx.ExecContext(ctx, `insert into credit_transactions (
        id, seq, owner_key, person_id, team_id, user_id, amount, type,
        related_transaction_id, generation_id, external_ref, metadata, created_at
    ) values (?, ?, ?, ?, ?, ?, ?, ?, nullif(?, ''), nullif(?, ''), nullif(?, ''), ?, ?)`,
		txn.ID, seq, txn.OwnerKey, txn.PersonID, txn.TeamID, txn.UserID, txn.Amount, string(txn.Type),
		txn.RelatedTransactionID, txn.GenerationID, txn.ExternalRef, string(meta), at.UnixNano())
	if isSQLiteUnique(err) {
		return fmt.Errorf("%w: %v", domain.ErrDuplicateOperation, err)
	}
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	txn.Seq = seq
	txn.CreatedAt = at
	return nil
}

func (t *sqliteOwnerTx) FindRefund(ctx context.Context, originalID string) (*domain.CreditTransaction, error) {
	return sqliteOptional(t.tx.QueryRowContext(ctx, `select `+sqliteTxnColumns+` from credit_transactions where type = 'refund' and related_transaction_id = ?`, originalID))
}

func (t *sqliteOwnerTx) FindDebit(ctx context.Context, generationID string) (*domain.CreditTransaction, error) {
	return sqliteOptional(t.tx.QueryRowContext(ctx, `select `+sqliteTxnColumns+` from credit_transactions where type = 'generation' and generation_id = ?`, generationID))
}

func (t *sqliteOwnerTx) FindByExternalRef(ctx context.Context, ref string) (*domain.CreditTransaction, error) {
	return sqliteOptional(t.tx.QueryRowContext(ctx, `select `+sqliteTxnColumns+` from credit_transactions where external_ref = ?`, ref))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func sqliteScan(row rowScanner) (domain.CreditTransaction, error) {
	var (
		txn  domain.CreditTransaction
		kind string
		meta string
		at   int64
	)
	if err := row.Scan(&txn.ID, &txn.Seq, &txn.OwnerKey, &txn.PersonID, &txn.TeamID, &txn.UserID,
		&txn.Amount, &kind, &txn.RelatedTransactionID, &txn.GenerationID, &txn.ExternalRef, &meta, &at); err != nil {
		return domain.CreditTransaction{}, err
	}
	txn.Type = domain.TransactionType(kind)
	txn.CreatedAt = time.Unix(0, at).UTC()
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &txn.Metadata); err != nil {
			return domain.CreditTransaction{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return txn, nil
}

func sqliteOne(row *sql.Row) (domain.CreditTransaction, error) {
	txn, err := sqliteScan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CreditTransaction{}, domain.ErrNotFound
	}
	return txn, err
}

func sqliteOptional(row *sql.Row) (*domain.CreditTransaction, error) {
	txn, err := sqliteScan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PGStore)(nil)
)
