package workflow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"teamshots/internal/composer"
	"teamshots/internal/domain"
	"teamshots/internal/evaluator"
	"teamshots/internal/prompt"
	imageprov "teamshots/internal/providers/image"
)

type fakeComposer struct {
	err error
}

func (f fakeComposer) Compose(context.Context, composer.ComposeRequest) (domain.Composites, error) {
	if f.err != nil {
		return domain.Composites{}, f.err
	}
	face := domain.ReferenceImage{MimeType: "image/png", Base64: "QUJD", Label: "FACE COMPOSITE"}
	logo := domain.ReferenceImage{MimeType: "image/png", Base64: "REVG", Label: "LOGO"}
	return domain.Composites{Face: &face, Logo: &logo}, nil
}

type genStep struct {
	err error
}

type fakeGenerator struct {
	steps    []genStep
	calls    int
	payloads []domain.GenerationPayload
}

func (f *fakeGenerator) Name() string                      { return "fake" }
func (f *fakeGenerator) HealthCheck(context.Context) error { return nil }

func (f *fakeGenerator) GenerateImage(_ context.Context, p domain.GenerationPayload) (imageprov.Result, error) {
	f.calls++
	f.payloads = append(f.payloads, p)
	usage := imageprov.Usage{Provider: "fake", Model: "fake-1", CostUSD: 0.04}
	if f.calls <= len(f.steps) && f.steps[f.calls-1].err != nil {
		return imageprov.Result{Usage: usage}, f.steps[f.calls-1].err
	}
	usage.Success = true
	return imageprov.Result{Images: [][]byte{[]byte(fmt.Sprintf("img-%d", f.calls))}, MimeType: "image/png", Usage: usage}, nil
}

type judgeStep struct {
	fb  domain.EvaluationFeedback
	err error
}

type fakeJudge struct {
	steps []judgeStep
	calls int
	seen  [][]byte
	reqs  []evaluator.EvaluateRequest
}

func (f *fakeJudge) Name() string { return "fake-judge" }

func (f *fakeJudge) Evaluate(_ context.Context, req evaluator.EvaluateRequest) (domain.EvaluationFeedback, imageprov.Usage, error) {
	f.calls++
	f.seen = append(f.seen, req.Candidate)
	f.reqs = append(f.reqs, req)
	step := f.steps[len(f.steps)-1]
	if f.calls <= len(f.steps) {
		step = f.steps[f.calls-1]
	}
	return step.fb, imageprov.Usage{Provider: "fake-judge", Success: step.err == nil}, step.err
}

type costLog struct {
	mu      sync.Mutex
	records []domain.CostRecord
}

func (c *costLog) RecordCost(_ context.Context, rec domain.CostRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
	return nil
}

type cancelAfter struct {
	checks int
	after  int
}

func (c *cancelAfter) CancelRequested(context.Context, string) (bool, error) {
	c.checks++
	return c.after > 0 && c.checks >= c.after, nil
}

var (
	approved = judgeStep{fb: domain.EvaluationFeedback{Status: domain.EvaluationApproved, Reason: "ok"}}
	logoMiss = judgeStep{fb: domain.EvaluationFeedback{
		Status:               domain.EvaluationNotApproved,
		Reason:               "logo missing",
		FailedCriteria:       []string{"logo_placement"},
		SuggestedAdjustments: "Show the logo top right.",
	}}
	inconclusive = judgeStep{err: &evaluator.InconclusiveError{Err: imageprov.NewProviderError(imageprov.CodeTimeout, "judge", "slow", nil)}}
)

type harness struct {
	gen         *fakeGenerator
	judge       *fakeJudge
	costs       *costLog
	transitions []Transition
	sleeps      []time.Duration
	ctrl        *Controller
}

func newHarness(gen *fakeGenerator, judge *fakeJudge, cancel CancelChecker, comp Composer) *harness {
	h := &harness{gen: gen, judge: judge, costs: &costLog{}}
	if comp == nil {
		comp = fakeComposer{}
	}
	h.ctrl = NewController(Deps{
		Composer:  comp,
		Builder:   prompt.NewBuilder(nil),
		Generator: gen,
		Judge:     judge,
		Costs:     h.costs,
		Cancel:    cancel,
		Observer: ObserverFunc(func(_ context.Context, t Transition) {
			h.transitions = append(h.transitions, t)
		}),
	}, Options{
		MaxAttempts:          3,
		MaxEvaluationRetries: 2,
		QuotaBackoff:         time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return nil
		},
	})
	return h
}

func (h *harness) states() []State {
	out := make([]State, len(h.transitions))
	for i, t := range h.transitions {
		out[i] = t.To
	}
	return out
}

func input() RunInput {
	return RunInput{Context: domain.GenerationContext{
		GenerationID: "gen-1",
		PersonID:     "person-1",
		Style:        domain.StyleSettings{Branding: domain.BrandingStyle{LogoKey: "logo.png", Position: "top-right"}},
	}}
}

func TestRunAcceptedFirstAttempt(t *testing.T) {
	h := newHarness(&fakeGenerator{}, &fakeJudge{steps: []judgeStep{approved}}, nil, nil)
	out, err := h.ctrl.Run(context.Background(), input())
	require.NoError(t, err)
	require.Equal(t, StateAccepted, out.State)
	require.Equal(t, []byte("img-1"), out.Image)
	require.Equal(t, 1, out.Attempts)
	require.Equal(t, []State{StateComposing, StateGenerating, StateEvaluating, StateAccepted}, h.states())
	require.Len(t, h.costs.records, 2)
	require.Equal(t, StepGeneration, h.costs.records[0].Step)
	require.Equal(t, StepEvaluation, h.costs.records[1].Step)
}

func TestRunRetriesWithLogoCorrection(t *testing.T) {
	gen := &fakeGenerator{}
	h := newHarness(gen, &fakeJudge{steps: []judgeStep{logoMiss, approved}}, nil, nil)
	out, err := h.ctrl.Run(context.Background(), input())
	require.NoError(t, err)
	require.Equal(t, StateAccepted, out.State)
	require.Equal(t, 2, out.Attempts)
	require.Len(t, gen.payloads, 2)

	first, second := gen.payloads[0].MustFollow, gen.payloads[1].MustFollow
	require.Subset(t, second, first)
	require.Greater(t, len(second), len(first))
	found := false
	for _, rule := range second {
		if rule == "REVIEWER ADJUSTMENT: Show the logo top right." {
			found = true
		}
	}
	require.True(t, found, "suggested adjustment missing from %v", second)
}

func TestJudgeSeesBrandingReferences(t *testing.T) {
	judge := &fakeJudge{steps: []judgeStep{approved}}
	h := newHarness(&fakeGenerator{}, judge, nil, nil)
	_, err := h.ctrl.Run(context.Background(), input())
	require.NoError(t, err)
	require.Len(t, judge.reqs, 1)

	req := judge.reqs[0]
	require.True(t, req.Rubric.RequireLogo)
	labels := make([]string, 0, len(req.References))
	for _, ref := range req.References {
		labels = append(labels, ref.Label)
	}
	require.Equal(t, []string{"FACE COMPOSITE", "LOGO"}, labels)
}

func TestRunExhaustedReturnsLastCandidate(t *testing.T) {
	gen := &fakeGenerator{}
	judge := &fakeJudge{steps: []judgeStep{logoMiss}}
	h := newHarness(gen, judge, nil, nil)
	out, err := h.ctrl.Run(context.Background(), input())
	require.NoError(t, err)
	require.Equal(t, StateExhausted, out.State)
	require.Equal(t, 3, gen.calls)
	require.Equal(t, []byte("img-3"), out.Image)
	require.Len(t, out.Feedback, 3)
	require.Contains(t, out.Reason, "after 3 attempts")

	last := 0
	for _, tr := range h.transitions {
		require.GreaterOrEqual(t, tr.Attempt, last)
		require.LessOrEqual(t, tr.Attempt, 3)
		last = tr.Attempt
	}
	for i := 1; i < len(gen.payloads); i++ {
		require.Subset(t, gen.payloads[i].MustFollow, gen.payloads[i-1].MustFollow)
	}
}

func TestRunSafetyViolationIsFatal(t *testing.T) {
	gen := &fakeGenerator{steps: []genStep{{err: imageprov.NewProviderError(imageprov.CodeSafetyViolation, "fake", "blocked", nil)}}}
	judge := &fakeJudge{steps: []judgeStep{approved}}
	h := newHarness(gen, judge, nil, nil)
	out, err := h.ctrl.Run(context.Background(), input())
	require.NoError(t, err)
	require.Equal(t, StateExhausted, out.State)
	require.Equal(t, 1, gen.calls)
	require.Equal(t, 0, judge.calls)
	require.Equal(t, imageprov.CodeSafetyViolation, imageprov.CodeOf(out.Err))
	require.Len(t, h.costs.records, 1)
	require.False(t, h.costs.records[0].Success)
	require.Equal(t, "SAFETY_VIOLATION", h.costs.records[0].ErrorCode)
}

func TestRunRetryableErrorsConsumeAttempts(t *testing.T) {
	quota := imageprov.NewProviderError(imageprov.CodeQuotaExceeded, "fake", "429", nil)
	gen := &fakeGenerator{steps: []genStep{{err: quota}, {err: quota}, {err: quota}, {err: quota}}}
	h := newHarness(gen, &fakeJudge{steps: []judgeStep{approved}}, nil, nil)
	out, err := h.ctrl.Run(context.Background(), input())
	require.NoError(t, err)
	require.Equal(t, StateExhausted, out.State)
	require.Equal(t, 3, gen.calls)
	require.Nil(t, out.Image)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, h.sleeps)
}

func TestRunTimeoutThenSuccess(t *testing.T) {
	gen := &fakeGenerator{steps: []genStep{{err: fmt.Errorf("call: %w", context.DeadlineExceeded)}}}
	h := newHarness(gen, &fakeJudge{steps: []judgeStep{approved}}, nil, nil)
	out, err := h.ctrl.Run(context.Background(), input())
	require.NoError(t, err)
	require.Equal(t, StateAccepted, out.State)
	require.Equal(t, 2, out.Attempts)
	require.Equal(t, []byte("img-2"), out.Image)
}

func TestRunInconclusiveEvaluationRetriedSeparately(t *testing.T) {
	gen := &fakeGenerator{}
	judge := &fakeJudge{steps: []judgeStep{inconclusive, inconclusive, approved}}
	h := newHarness(gen, judge, nil, nil)
	out, err := h.ctrl.Run(context.Background(), input())
	require.NoError(t, err)
	require.Equal(t, StateAccepted, out.State)
	require.Equal(t, 1, gen.calls)
	require.Equal(t, 3, judge.calls)
}

func TestRunInconclusiveBudgetExhaustedCountsAsRejection(t *testing.T) {
	gen := &fakeGenerator{}
	judge := &fakeJudge{steps: []judgeStep{inconclusive, inconclusive, inconclusive, approved}}
	h := newHarness(gen, judge, nil, nil)
	out, err := h.ctrl.Run(context.Background(), input())
	require.NoError(t, err)
	require.Equal(t, StateAccepted, out.State)
	require.Equal(t, 2, gen.calls)
	require.Equal(t, domain.CriterionInconclusive, out.Feedback[0].FailedCriteria[0])
}

func TestRunCancelledBetweenSteps(t *testing.T) {
	gen := &fakeGenerator{}
	// checks: composing, ->generating, ->evaluating; cancel on the third.
	h := newHarness(gen, &fakeJudge{steps: []judgeStep{approved}}, &cancelAfter{after: 3}, nil)
	out, err := h.ctrl.Run(context.Background(), input())
	require.NoError(t, err)
	require.Equal(t, StateCancelled, out.State)
	require.Equal(t, 1, gen.calls)
	require.Equal(t, []byte("img-1"), out.Image)
}

func TestRunNoUsableSelfies(t *testing.T) {
	gen := &fakeGenerator{}
	h := newHarness(gen, &fakeJudge{steps: []judgeStep{approved}}, nil, fakeComposer{err: domain.ErrNoUsableSelfies})
	out, err := h.ctrl.Run(context.Background(), input())
	require.NoError(t, err)
	require.Equal(t, StateExhausted, out.State)
	require.Equal(t, "no usable selfies", out.Reason)
	require.Equal(t, 0, gen.calls)
}

func TestRunContextCancelledReturnsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := &fakeGenerator{steps: []genStep{{err: context.Canceled}}}
	h := newHarness(gen, &fakeJudge{steps: []judgeStep{approved}}, nil, nil)
	cancel()
	_, err := h.ctrl.Run(ctx, input())
	require.ErrorIs(t, err, context.Canceled)
}

func TestCanTransition(t *testing.T) {
	require.True(t, CanTransition(StateEvaluating, StateRetrying))
	require.True(t, CanTransition(StateGenerating, StateCancelled))
	require.False(t, CanTransition(StateAccepted, StateCancelled))
	require.False(t, CanTransition(StateComposing, StateEvaluating))
}
