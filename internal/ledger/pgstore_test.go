package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"teamshots/internal/domain"
	"teamshots/internal/infra"
	"teamshots/internal/sqlinline"
)

type scriptedRow struct {
	scan func(dest ...any) error
}

func (r scriptedRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakeRunner struct {
	balance  int
	queries  []string
	execArgs [][]any
	inTx     int
}

func (f *fakeRunner) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	f.queries = append(f.queries, query)
	f.execArgs = append(f.execArgs, args)
	return pgconn.CommandTag{}, nil
}

func (f *fakeRunner) QueryRow(_ context.Context, query string, _ ...any) pgx.Row {
	f.queries = append(f.queries, query)
	switch query {
	case sqlinline.QLockCreditBalance:
		return scriptedRow{scan: func(dest ...any) error {
			*dest[0].(*int) = f.balance
			return nil
		}}
	case sqlinline.QInsertCreditTransaction:
		return scriptedRow{scan: func(dest ...any) error {
			*dest[0].(*int64) = 42
			*dest[1].(*time.Time) = time.Unix(1700000000, 0)
			return nil
		}}
	default:
		return scriptedRow{scan: func(...any) error { return pgx.ErrNoRows }}
	}
}

func (f *fakeRunner) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRunner) InTx(ctx context.Context, fn func(ctx context.Context, tx infra.SQLExecutor) error) error {
	f.inTx++
	return fn(ctx, f)
}

func TestPGStoreDebitLocksBalanceRow(t *testing.T) {
	runner := &fakeRunner{balance: 5}
	svc := NewService(NewPGStore(runner), nil)

	txn, err := svc.Debit(context.Background(), domain.CreditOwner{PersonID: "p1"}, 2, "gen-1")
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if txn.Seq != 42 || txn.Amount != -2 {
		t.Fatalf("unexpected txn %#v", txn)
	}
	want := []string{
		sqlinline.QEnsureCreditBalance,
		sqlinline.QLockCreditBalance,
		sqlinline.QSelectGenerationDebit,
		sqlinline.QInsertCreditTransaction,
		sqlinline.QUpdateCreditBalance,
	}
	if len(runner.queries) != len(want) {
		t.Fatalf("got %d queries want %d", len(runner.queries), len(want))
	}
	for i, q := range want {
		if runner.queries[i] != q {
			t.Fatalf("query %d: got %q want %q", i, firstLine(runner.queries[i]), firstLine(q))
		}
	}
	last := runner.execArgs[len(runner.execArgs)-1]
	if last[0] != "person:p1" || last[1] != 3 {
		t.Fatalf("balance update args = %v", last)
	}
}

func TestPGStoreInsufficientCreditsWritesNothing(t *testing.T) {
	runner := &fakeRunner{balance: 1}
	_, err := NewService(NewPGStore(runner), nil).Debit(context.Background(), domain.CreditOwner{PersonID: "p1"}, 2, "gen-1")
	if !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	for _, q := range runner.queries {
		if q == sqlinline.QInsertCreditTransaction {
			t.Fatalf("insert must not run without credits")
		}
	}
}

func firstLine(q string) string {
	if i := strings.IndexByte(q, '\n'); i >= 0 {
		return q[:i]
	}
	return q
}
