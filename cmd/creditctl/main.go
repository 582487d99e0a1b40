package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"teamshots/internal/adapter/repo"
	"teamshots/internal/domain"
	"teamshots/internal/infra"
	"teamshots/internal/ledger"
	"teamshots/internal/worker"
)

const usage = `usage: creditctl <command> [flags]

commands:
  grant   add purchased or topped-up credits to a person or team
  refund  refund a generation debit by transaction id
  verify  replay an owner's ledger and compare it with the live balance
  sweep   refund failed generations whose debit was never returned`

func main() {
	if len(os.Args) < 2 {
		exitWithError(errors.New(usage))
	}
	_ = godotenv.Load()

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	cmd, args := os.Args[1], os.Args[2:]
	logger := infra.NewLogger("cli").With().Str("cmd", "creditctl").Str("sub", cmd).Logger()
	runner := infra.NewSQLRunner(pool, logger)
	svc := ledger.NewService(ledger.NewPGStore(runner), &logger)

	switch cmd {
	case "grant":
		err = grant(ctx, svc, args)
	case "refund":
		err = refund(ctx, svc, args)
	case "verify":
		err = verify(ctx, svc, args)
	case "sweep":
		var res worker.SweepResult
		res, err = worker.SweepRefunds(ctx, repo.NewGenerationRepository(runner), svc, &logger)
		if err == nil {
			printJSON(res)
		}
	default:
		err = fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
	if err != nil {
		exitWithError(err)
	}
}

func ownerFlags(fs *flag.FlagSet) func() (domain.CreditOwner, error) {
	person := fs.String("person", "", "person id owning the balance")
	team := fs.String("team", "", "team id owning the balance (takes precedence)")
	user := fs.String("user", "", "user id recorded on the transaction")
	return func() (domain.CreditOwner, error) {
		owner := domain.CreditOwner{
			PersonID: strings.TrimSpace(*person),
			TeamID:   strings.TrimSpace(*team),
			UserID:   strings.TrimSpace(*user),
		}
		if owner.Key() == "" {
			return owner, errors.New("either -person or -team must be provided")
		}
		return owner, nil
	}
}

func grant(ctx context.Context, svc *ledger.Service, args []string) error {
	fs := flag.NewFlagSet("grant", flag.ExitOnError)
	owner := ownerFlags(fs)
	amount := fs.Int("amount", 0, "credits to add")
	kind := fs.String("type", string(domain.TransactionPurchase), "transaction type (purchase or top_up)")
	ref := fs.String("ref", "", "external payment reference; repeated refs are ignored")
	note := fs.String("note", "", "free-form note stored in metadata")
	if err := fs.Parse(args); err != nil {
		return err
	}
	o, err := owner()
	if err != nil {
		return err
	}
	req := ledger.CreditRequest{
		Owner:       o,
		Amount:      *amount,
		Type:        domain.TransactionType(strings.TrimSpace(strings.ToLower(*kind))),
		ExternalRef: strings.TrimSpace(*ref),
	}
	if n := strings.TrimSpace(*note); n != "" {
		req.Metadata = map[string]any{"note": n}
	}
	txn, created, err := svc.Credit(ctx, req)
	if err != nil {
		return err
	}
	printJSON(map[string]any{"transactionId": txn.ID, "ownerKey": txn.OwnerKey, "amount": txn.Amount, "created": created})
	return nil
}

func refund(ctx context.Context, svc *ledger.Service, args []string) error {
	fs := flag.NewFlagSet("refund", flag.ExitOnError)
	id := fs.String("transaction", "", "generation debit transaction id")
	gen := fs.String("generation", "", "generation id whose debit should be refunded")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var (
		txn     domain.CreditTransaction
		created bool
		err     error
	)
	switch {
	case strings.TrimSpace(*id) != "":
		txn, created, err = svc.Refund(ctx, strings.TrimSpace(*id))
	case strings.TrimSpace(*gen) != "":
		txn, created, err = svc.RefundGeneration(ctx, strings.TrimSpace(*gen))
	default:
		return errors.New("either -transaction or -generation must be provided")
	}
	if err != nil {
		return err
	}
	printJSON(map[string]any{"transactionId": txn.ID, "relatedTransactionId": txn.RelatedTransactionID, "amount": txn.Amount, "created": created})
	return nil
}

func verify(ctx context.Context, svc *ledger.Service, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	owner := ownerFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	o, err := owner()
	if err != nil {
		return err
	}
	v, err := svc.Verify(ctx, o)
	if err != nil {
		return err
	}
	printJSON(v)
	if !v.OK {
		return fmt.Errorf("ledger mismatch for %s: live %d, replayed %d", v.OwnerKey, v.Live, v.Replayed)
	}
	return nil
}

func printJSON(v any) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
