// Package ledger keeps the append-only credit ledger and per-call cost
// records.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"teamshots/internal/domain"
	"teamshots/internal/infra"
)

type Service struct {
	store  Store
	logger infra.Logger
}

func NewService(store Store, logger *infra.Logger) *Service {
	return &Service{store: store, logger: infra.OrNop(logger)}
}

// RecordCost stores one provider call's usage.
func (s *Service) RecordCost(ctx context.Context, rec domain.CostRecord) error {
	if rec.GenerationID == "" {
		return errors.New("cost record without generation id")
	}
	return s.store.RecordCost(ctx, rec)
}

// GenerationCost sums the recorded USD cost of a generation.
func (s *Service) GenerationCost(ctx context.Context, generationID string) (float64, int, error) {
	return s.store.GenerationCost(ctx, generationID)
}

// Debit takes amount credits from owner for a generation. A second debit for
// the same generation returns the first.
func (s *Service) Debit(ctx context.Context, owner domain.CreditOwner, amount int, generationID string) (domain.CreditTransaction, error) {
	if amount <= 0 {
		return domain.CreditTransaction{}, domain.ErrInvalidAmount
	}
	key := owner.Key()
	if key == "" {
		return domain.CreditTransaction{}, domain.ErrOwnerRequired
	}
	var out domain.CreditTransaction
	err := s.store.InOwnerTx(ctx, key, func(ctx context.Context, tx OwnerTx) error {
		existing, err := tx.FindDebit(ctx, generationID)
		if err != nil {
			return err
		}
		if existing != nil {
			out = *existing
			return nil
		}
		if tx.Balance() < amount {
			return fmt.Errorf("%w: balance %d, need %d", domain.ErrInsufficientCredits, tx.Balance(), amount)
		}
		txn := newTransaction(owner, -amount, domain.TransactionGeneration)
		txn.GenerationID = generationID
		if err := tx.Insert(ctx, &txn); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, tx.Balance()-amount); err != nil {
			return err
		}
		out = txn
		return nil
	})
	if errors.Is(err, domain.ErrDuplicateOperation) {
		return s.store.GenerationDebit(ctx, generationID)
	}
	if err != nil {
		return domain.CreditTransaction{}, err
	}
	s.logger.Info().Str("generation_id", generationID).Str("owner", key).Int("amount", amount).Msg("credits debited")
	return out, nil
}

// Refund reverses a generation debit. The bool is false when a refund
// already existed, in which case that refund is returned.
func (s *Service) Refund(ctx context.Context, originalID string) (domain.CreditTransaction, bool, error) {
	orig, err := s.store.Transaction(ctx, originalID)
	if err != nil {
		return domain.CreditTransaction{}, false, fmt.Errorf("load transaction %s: %w", originalID, err)
	}
	if orig.Type != domain.TransactionGeneration || orig.Amount >= 0 {
		return domain.CreditTransaction{}, false, domain.ErrNotRefundable
	}
	var (
		out     domain.CreditTransaction
		created bool
	)
	err = s.store.InOwnerTx(ctx, orig.OwnerKey, func(ctx context.Context, tx OwnerTx) error {
		existing, err := tx.FindRefund(ctx, orig.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			out = *existing
			return nil
		}
		txn := newTransaction(orig.Owner(), -orig.Amount, domain.TransactionRefund)
		txn.RelatedTransactionID = orig.ID
		txn.GenerationID = orig.GenerationID
		if err := tx.Insert(ctx, &txn); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, tx.Balance()-orig.Amount); err != nil {
			return err
		}
		out, created = txn, true
		return nil
	})
	if errors.Is(err, domain.ErrDuplicateOperation) {
		out, err = s.store.RefundFor(ctx, orig.ID)
		return out, false, err
	}
	if err != nil {
		return domain.CreditTransaction{}, false, err
	}
	if created {
		s.logger.Info().Str("generation_id", orig.GenerationID).Str("original", orig.ID).Int("amount", out.Amount).Msg("credits refunded")
	}
	return out, created, nil
}

// RefundGeneration refunds the debit of a generation, if any.
func (s *Service) RefundGeneration(ctx context.Context, generationID string) (domain.CreditTransaction, bool, error) {
	debit, err := s.store.GenerationDebit(ctx, generationID)
	if err != nil {
		return domain.CreditTransaction{}, false, err
	}
	return s.Refund(ctx, debit.ID)
}

// CreditRequest grants purchased or topped-up credits.
type CreditRequest struct {
	Owner       domain.CreditOwner
	Amount      int
	Type        domain.TransactionType
	ExternalRef string
	Metadata    map[string]any
}

// Credit adds credits. Requests carrying an ExternalRef already in the
// ledger return the existing row and false.
func (s *Service) Credit(ctx context.Context, req CreditRequest) (domain.CreditTransaction, bool, error) {
	if req.Amount <= 0 {
		return domain.CreditTransaction{}, false, domain.ErrInvalidAmount
	}
	if req.Type != domain.TransactionPurchase && req.Type != domain.TransactionTopUp {
		return domain.CreditTransaction{}, false, fmt.Errorf("credit type %q not allowed", req.Type)
	}
	key := req.Owner.Key()
	if key == "" {
		return domain.CreditTransaction{}, false, domain.ErrOwnerRequired
	}
	var (
		out     domain.CreditTransaction
		created bool
	)
	err := s.store.InOwnerTx(ctx, key, func(ctx context.Context, tx OwnerTx) error {
		if req.ExternalRef != "" {
			existing, err := tx.FindByExternalRef(ctx, req.ExternalRef)
			if err != nil {
				return err
			}
			if existing != nil {
				out = *existing
				return nil
			}
		}
		txn := newTransaction(req.Owner, req.Amount, req.Type)
		txn.ExternalRef = req.ExternalRef
		txn.Metadata = req.Metadata
		if err := tx.Insert(ctx, &txn); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, tx.Balance()+req.Amount); err != nil {
			return err
		}
		out, created = txn, true
		return nil
	})
	if errors.Is(err, domain.ErrDuplicateOperation) && req.ExternalRef != "" {
		out, err = s.store.ByExternalRef(ctx, req.ExternalRef)
		return out, false, err
	}
	if err != nil {
		return domain.CreditTransaction{}, false, err
	}
	if !created {
		s.logger.Info().Str("external_ref", req.ExternalRef).Msg("duplicate credit suppressed")
	}
	return out, created, nil
}

func (s *Service) Balance(ctx context.Context, owner domain.CreditOwner) (int, error) {
	if owner.Key() == "" {
		return 0, domain.ErrOwnerRequired
	}
	return s.store.Balance(ctx, owner.Key())
}

func (s *Service) Transactions(ctx context.Context, owner domain.CreditOwner) ([]domain.CreditTransaction, error) {
	if owner.Key() == "" {
		return nil, domain.ErrOwnerRequired
	}
	return s.store.OwnerTransactions(ctx, owner.Key())
}

// Verification compares the live balance with a replay of the ledger.
type Verification struct {
	OwnerKey     string `json:"ownerKey"`
	Live         int    `json:"balance"`
	Replayed     int    `json:"replayed"`
	Transactions int    `json:"transactions"`
	OK           bool   `json:"ok"`
}

// Verify replays the owner's ledger in insertion order.
func (s *Service) Verify(ctx context.Context, owner domain.CreditOwner) (Verification, error) {
	txns, err := s.Transactions(ctx, owner)
	if err != nil {
		return Verification{}, err
	}
	live, err := s.store.Balance(ctx, owner.Key())
	if err != nil {
		return Verification{}, err
	}
	v := Verification{OwnerKey: owner.Key(), Live: live, Replayed: Replay(txns), Transactions: len(txns)}
	v.OK = v.Live == v.Replayed
	if !v.OK {
		s.logger.Error().Str("owner", v.OwnerKey).Int("live", live).Int("replayed", v.Replayed).Msg("ledger replay mismatch")
	}
	return v, nil
}

// Replay sums transactions in order.
func Replay(txns []domain.CreditTransaction) int {
	total := 0
	for _, t := range txns {
		total += t.Amount
	}
	return total
}

func newTransaction(owner domain.CreditOwner, amount int, kind domain.TransactionType) domain.CreditTransaction {
	return domain.CreditTransaction{
		ID:       uuid.NewString(),
		OwnerKey: owner.Key(),
		PersonID: owner.PersonID,
		TeamID:   owner.TeamID,
		UserID:   owner.UserID,
		Amount:   amount,
		Type:     kind,
	}
}
