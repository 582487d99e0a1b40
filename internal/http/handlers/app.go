package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"teamshots/internal/domain"
	"teamshots/internal/infra"
	"teamshots/internal/ledger"
	"teamshots/internal/queue"
)

type GenerationStore interface {
	Get(ctx context.Context, id string) (*domain.Generation, error)
	RequestCancel(ctx context.Context, id string) (bool, error)
}

type LedgerReader interface {
	Verify(ctx context.Context, owner domain.CreditOwner) (ledger.Verification, error)
	Transactions(ctx context.Context, owner domain.CreditOwner) ([]domain.CreditTransaction, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// App holds the collaborators of the ops API. Publisher and DB are optional.
type App struct {
	Generations GenerationStore
	Ledger      LedgerReader
	Publisher   queue.Publisher
	DB          Pinger
	Logger      infra.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{
		"error": map[string]string{"code": errCode, "message": message},
	})
}
