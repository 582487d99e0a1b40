package ledger

import (
	"context"

	"teamshots/internal/domain"
)

// Store persists ledger rows. Balance-changing work happens inside
// InOwnerTx, which serializes writers for one owner until fn returns.
type Store interface {
	InOwnerTx(ctx context.Context, ownerKey string, fn func(ctx context.Context, tx OwnerTx) error) error
	Transaction(ctx context.Context, id string) (domain.CreditTransaction, error)
	GenerationDebit(ctx context.Context, generationID string) (domain.CreditTransaction, error)
	ByExternalRef(ctx context.Context, ref string) (domain.CreditTransaction, error)
	RefundFor(ctx context.Context, originalID string) (domain.CreditTransaction, error)
	OwnerTransactions(ctx context.Context, ownerKey string) ([]domain.CreditTransaction, error)
	Balance(ctx context.Context, ownerKey string) (int, error)
	RecordCost(ctx context.Context, rec domain.CostRecord) error
	GenerationCost(ctx context.Context, generationID string) (float64, int, error)
}

// OwnerTx is the view of the ledger inside a locked owner transaction.
// Lookups return nil when nothing matches.
type OwnerTx interface {
	Balance() int
	SetBalance(ctx context.Context, balance int) error
	Insert(ctx context.Context, txn *domain.CreditTransaction) error
	FindRefund(ctx context.Context, originalID string) (*domain.CreditTransaction, error)
	FindDebit(ctx context.Context, generationID string) (*domain.CreditTransaction, error)
	FindByExternalRef(ctx context.Context, ref string) (*domain.CreditTransaction, error)
}
