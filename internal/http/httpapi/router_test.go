package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"teamshots/internal/domain"
	"teamshots/internal/http/handlers"
	"teamshots/internal/infra"
	"teamshots/internal/ledger"
	"teamshots/internal/queue"
)

const (
	queuedID  = "5d1f2f4e-8c1a-4f57-9d0b-3c3a8e1b2a10"
	doneID    = "a3b8e2c1-0f4d-4b6e-8a7c-1d2e3f4a5b6c"
	missingID = "00000000-0000-4000-8000-000000000000"
)

type memGenerations struct {
	mu      sync.Mutex
	records map[string]*domain.Generation
}

func (m *memGenerations) Get(_ context.Context, id string) (*domain.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *memGenerations) RequestCancel(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.records[id]
	if !ok || g.Status.Terminal() {
		return false, nil
	}
	g.CancelRequested = true
	if g.Status == domain.GenerationStatusQueued {
		g.Status = domain.GenerationStatusCancelled
	}
	return true, nil
}

type memPublisher struct {
	jobs map[string]queue.Job
}

func (p *memPublisher) Publish(_ context.Context, job queue.Job) (bool, error) {
	if err := job.Validate(); err != nil {
		return false, err
	}
	if _, ok := p.jobs[job.GenerationID]; ok {
		return false, nil
	}
	p.jobs[job.GenerationID] = job
	return true, nil
}

func (p *memPublisher) Close() error { return nil }

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type testEnv struct {
	handler http.Handler
	gens    *memGenerations
	pub     *memPublisher
	ledger  *ledger.Service
}

func newEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	store, err := ledger.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	svc := ledger.NewService(store, nil)

	gens := &memGenerations{records: map[string]*domain.Generation{
		queuedID: {ID: queuedID, PersonID: "p1", Status: domain.GenerationStatusQueued, CreditCost: 1},
		doneID: {ID: doneID, PersonID: "p1", Status: domain.GenerationStatusCompleted, Attempts: 2, Progress: "accepted",
			FinalImageKey: "generations/p1/" + doneID + "/final.png",
			Feedback:      []domain.EvaluationFeedback{{Status: domain.EvaluationNotApproved, Reason: "logo"}, {Status: domain.EvaluationApproved}}},
	}}
	pub := &memPublisher{jobs: map[string]queue.Job{}}
	app := &handlers.App{Generations: gens, Ledger: svc, Publisher: pub, DB: pinger{}, Logger: infra.OrNop(nil)}
	return &testEnv{handler: NewRouter(app, opts), gens: gens, pub: pub, ledger: svc}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	var payload map[string]any
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload), rr.Body.String())
	}
	return rr, payload
}

func TestHealth(t *testing.T) {
	env := newEnv(t, Options{OperatorToken: "tok"})
	rr, body := env.do(t, http.MethodGet, "/v1/healthz", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", body["status"])
	require.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	app := &handlers.App{DB: pinger{err: errors.New("down")}, Logger: infra.OrNop(nil)}
	rr = httptest.NewRecorder()
	NewRouter(app, Options{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestGetGeneration(t *testing.T) {
	env := newEnv(t, Options{})

	rr, body := env.do(t, http.MethodGet, "/v1/generations/"+doneID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "completed", body["status"])
	require.Equal(t, float64(2), body["attempts"])
	require.Len(t, body["feedback"], 2)

	rr, _ = env.do(t, http.MethodGet, "/v1/generations/"+missingID, "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr, body = env.do(t, http.MethodGet, "/v1/generations/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "bad_request", body["error"].(map[string]any)["code"])
}

func TestCancelGeneration(t *testing.T) {
	env := newEnv(t, Options{})

	rr, body := env.do(t, http.MethodPost, "/v1/generations/"+queuedID+"/cancel", "")
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Equal(t, true, body["cancelRequested"])
	g, _ := env.gens.Get(context.Background(), queuedID)
	require.Equal(t, domain.GenerationStatusCancelled, g.Status)

	rr, body = env.do(t, http.MethodPost, "/v1/generations/"+doneID+"/cancel", "")
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "not_cancellable", body["error"].(map[string]any)["code"])

	rr, _ = env.do(t, http.MethodPost, "/v1/generations/"+missingID+"/cancel", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCreateGenerationIsIdempotent(t *testing.T) {
	env := newEnv(t, Options{})
	job := `{"generationId":"` + missingID + `","personId":"p9","selfieS3Keys":["selfies/p9/a.jpg"],"styleSettings":{"presetId":"linkedin"},"credits":1}`

	rr, body := env.do(t, http.MethodPost, "/v1/generations", job)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, missingID, body["id"])
	require.Equal(t, "queued", body["status"])

	rr, body = env.do(t, http.MethodPost, "/v1/generations", job)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, false, body["created"])
	require.Len(t, env.pub.jobs, 1)

	rr, _ = env.do(t, http.MethodPost, "/v1/generations", `{"personId":"p9"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code, "missing selfies")

	rr, body = env.do(t, http.MethodPost, "/v1/generations", `{"personId":"p9","selfieS3Keys":["k"]}`)
	require.Equal(t, http.StatusCreated, rr.Code, "id is minted when absent")
	require.Len(t, body["id"], 36)
}

func TestLedgerSummary(t *testing.T) {
	env := newEnv(t, Options{})
	ctx := context.Background()
	owner := domain.CreditOwner{TeamID: "t1"}
	_, _, err := env.ledger.Credit(ctx, ledger.CreditRequest{Owner: owner, Amount: 10, Type: domain.TransactionPurchase, ExternalRef: "in_1"})
	require.NoError(t, err)
	_, err = env.ledger.Debit(ctx, owner, 3, queuedID)
	require.NoError(t, err)

	rr, body := env.do(t, http.MethodGet, "/v1/ledger/team/t1?transactions=true", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "team:t1", body["ownerKey"])
	require.Equal(t, float64(7), body["balance"])
	require.Equal(t, float64(7), body["replayed"])
	require.Equal(t, true, body["ok"])
	require.Len(t, body["items"], 2)

	rr, _ = env.do(t, http.MethodGet, "/v1/ledger/company/t1", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestOperatorTokenAndWriteLimit(t *testing.T) {
	env := newEnv(t, Options{OperatorToken: "tok", WriteLimit: 1})

	rr, _ := env.do(t, http.MethodGet, "/v1/generations/"+doneID, "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, _ = env.do(t, http.MethodGet, "/v1/generations/"+doneID, "", "Authorization", "Bearer tok")
	require.Equal(t, http.StatusOK, rr.Code)

	rr, _ = env.do(t, http.MethodPost, "/v1/generations/"+queuedID+"/cancel", "", "Authorization", "Bearer tok")
	require.Equal(t, http.StatusAccepted, rr.Code)
	rr, _ = env.do(t, http.MethodPost, "/v1/generations/"+queuedID+"/cancel", "", "Authorization", "Bearer tok")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
}
