package domain

import (
	"time"
)

// TransactionType enumerates ledger row kinds.
type TransactionType string

const (
	TransactionPurchase   TransactionType = "purchase"
	TransactionGeneration TransactionType = "generation"
	TransactionRefund     TransactionType = "refund"
	TransactionTopUp      TransactionType = "top_up"
)

// CreditOwner identifies whose balance a transaction affects. A team owner
// takes precedence over the person.
type CreditOwner struct {
	PersonID string
	TeamID   string
	UserID   string
}

// Key is the stable balance key for the owner.
func (o CreditOwner) Key() string {
	if o.TeamID != "" {
		return "team:" + o.TeamID
	}
	if o.PersonID != "" {
		return "person:" + o.PersonID
	}
	return ""
}

// CreditTransaction is an append-only ledger row.
type CreditTransaction struct {
	ID                   string
	Seq                  int64
	OwnerKey             string
	PersonID             string
	TeamID               string
	UserID               string
	Amount               int
	Type                 TransactionType
	RelatedTransactionID string
	GenerationID         string
	ExternalRef          string
	Metadata             map[string]any
	CreatedAt            time.Time
}

// Owner rebuilds the owner triple stored on the row.
func (t CreditTransaction) Owner() CreditOwner {
	return CreditOwner{PersonID: t.PersonID, TeamID: t.TeamID, UserID: t.UserID}
}

// CostRecord is one provider call's usage, recorded even when the call failed.
type CostRecord struct {
	GenerationID string
	Step         string
	Attempt      int
	Provider     string
	Model        string
	CostUSD      float64
	InputTokens  int
	OutputTokens int
	Images       int
	Duration     time.Duration
	Success      bool
	ErrorCode    string
}
