package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"teamshots/internal/domain"
)

type transactionView struct {
	ID                   string                 `json:"id"`
	Seq                  int64                  `json:"seq"`
	Amount               int                    `json:"amount"`
	Type                 domain.TransactionType `json:"type"`
	RelatedTransactionID string                 `json:"relatedTransactionId,omitempty"`
	GenerationID         string                 `json:"generationId,omitempty"`
	ExternalRef          string                 `json:"externalRef,omitempty"`
	CreatedAt            time.Time              `json:"createdAt"`
}

// LedgerSummary reports the live balance next to a replay of the owner's
// transactions. ?transactions=true includes the rows.
func (a *App) LedgerSummary(w http.ResponseWriter, r *http.Request) {
	ownerType := chi.URLParam(r, "ownerType")
	ownerID := strings.TrimSpace(chi.URLParam(r, "ownerId"))
	if ownerID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "owner id is required")
		return
	}
	var owner domain.CreditOwner
	switch ownerType {
	case "person":
		owner.PersonID = ownerID
	case "team":
		owner.TeamID = ownerID
	default:
		a.error(w, http.StatusBadRequest, "bad_request", "owner type must be person or team")
		return
	}

	v, err := a.Ledger.Verify(r.Context(), owner)
	if err != nil {
		a.Logger.Error().Err(err).Str("owner", owner.Key()).Msg("ledger verify failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to verify ledger")
		return
	}
	resp := map[string]any{
		"ownerKey":     v.OwnerKey,
		"balance":      v.Live,
		"replayed":     v.Replayed,
		"transactions": v.Transactions,
		"ok":           v.OK,
	}
	if include, _ := strconv.ParseBool(r.URL.Query().Get("transactions")); include {
		txns, err := a.Ledger.Transactions(r.Context(), owner)
		if err != nil {
			a.Logger.Error().Err(err).Str("owner", owner.Key()).Msg("ledger transactions failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to load transactions")
			return
		}
		items := make([]transactionView, 0, len(txns))
		for _, t := range txns {
			items = append(items, transactionView{
				ID:                   t.ID,
				Seq:                  t.Seq,
				Amount:               t.Amount,
				Type:                 t.Type,
				RelatedTransactionID: t.RelatedTransactionID,
				GenerationID:         t.GenerationID,
				ExternalRef:          t.ExternalRef,
				CreatedAt:            t.CreatedAt,
			})
		}
		resp["items"] = items
	}
	a.json(w, http.StatusOK, resp)
}
