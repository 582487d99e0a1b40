// Package workflow drives one generation run through composing, generating,
// evaluating and retrying until it is accepted, exhausted or cancelled.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"teamshots/internal/composer"
	"teamshots/internal/domain"
	"teamshots/internal/evaluator"
	"teamshots/internal/infra"
	imageprov "teamshots/internal/providers/image"
)

const (
	StepGeneration = "generation"
	StepEvaluation = "evaluation"
)

type Composer interface {
	Compose(ctx context.Context, req composer.ComposeRequest) (domain.Composites, error)
}

type PayloadBuilder interface {
	Build(style domain.StyleSettings, composites domain.Composites, retry *domain.RetryContext) (domain.GenerationPayload, error)
}

// CostRecorder persists per-call provider usage.
type CostRecorder interface {
	RecordCost(ctx context.Context, rec domain.CostRecord) error
}

// CancelChecker reports whether the generation was cancelled or deleted.
type CancelChecker interface {
	CancelRequested(ctx context.Context, generationID string) (bool, error)
}

type Observer interface {
	OnTransition(ctx context.Context, t Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, t Transition)

func (f ObserverFunc) OnTransition(ctx context.Context, t Transition) { f(ctx, t) }

type Options struct {
	MaxAttempts          int
	MaxEvaluationRetries int
	GenerationTimeout    time.Duration
	EvaluationTimeout    time.Duration
	QuotaBackoff         time.Duration
	// Sleep waits between retries. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Deps struct {
	Composer  Composer
	Builder   PayloadBuilder
	Generator imageprov.Generator
	Judge     evaluator.Judge
	Costs     CostRecorder
	Cancel    CancelChecker
	Observer  Observer
	Logger    *infra.Logger
}

type Controller struct {
	deps   Deps
	opts   Options
	logger infra.Logger
}

func NewController(deps Deps, opts Options) *Controller {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.MaxEvaluationRetries < 0 {
		opts.MaxEvaluationRetries = 0
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = 3 * time.Minute
	}
	if opts.EvaluationTimeout <= 0 {
		opts.EvaluationTimeout = 90 * time.Second
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	if deps.Judge == nil {
		deps.Judge = evaluator.StaticJudge{}
	}
	return &Controller{deps: deps, opts: opts, logger: infra.OrNop(deps.Logger)}
}

// RunInput is everything a run needs. The context is not modified.
type RunInput struct {
	Context domain.GenerationContext
	Assets  composer.StyleAssets
}

// Outcome is the terminal result of a run.
type Outcome struct {
	State    State
	Image    []byte
	MimeType string
	Attempts int
	Feedback []domain.EvaluationFeedback
	// Err is the provider error that ended the run, if any.
	Err    error
	Reason string
}

// Accepted reports whether the run produced an approved image.
func (o Outcome) Accepted() bool { return o.State == StateAccepted }

type run struct {
	id      string
	state   State
	attempt int
	out     Outcome
}

// Run executes the state machine. It returns an error only when ctx ends
// before a terminal state; the outcome then holds what was collected.
func (c *Controller) Run(ctx context.Context, in RunInput) (Outcome, error) {
	gc := in.Context
	r := &run{id: gc.GenerationID, state: StateComposing}
	log := c.logger.With().Str("generation_id", r.id).Logger()
	c.observe(ctx, Transition{GenerationID: r.id, To: StateComposing})

	if c.cancelled(ctx, r) {
		return r.out, nil
	}
	composites, err := c.deps.Composer.Compose(ctx, composer.ComposeRequest{
		GenerationID: gc.GenerationID,
		Selfies:      gc.Selfies,
		Types:        gc.SelfieTypes,
		Assets:       in.Assets,
	})
	if err != nil {
		if ctx.Err() != nil {
			return r.out, ctx.Err()
		}
		reason := "could not prepare reference images"
		if errors.Is(err, domain.ErrNoUsableSelfies) {
			reason = "no usable selfies"
		}
		log.Warn().Err(err).Msg("compose failed")
		c.finish(ctx, r, StateExhausted, reason)
		return r.out, nil
	}

	payload, err := c.deps.Builder.Build(gc.Style, composites, nil)
	if err != nil {
		log.Warn().Err(err).Msg("payload build failed")
		c.finish(ctx, r, StateExhausted, "invalid style settings: "+err.Error())
		return r.out, nil
	}

	retry := domain.RetryContext{Attempt: 1, MaxAttempts: c.opts.MaxAttempts}
	r.attempt = retry.Attempt
	if !c.advance(ctx, r, StateGenerating, "") {
		return r.out, nil
	}

	for {
		r.out.Attempts = r.attempt
		result, genErr := c.generate(ctx, r, payload)
		if genErr != nil {
			if ctx.Err() != nil {
				return r.out, ctx.Err()
			}
			pe := imageprov.Normalize(c.deps.Generator.Name(), genErr)
			r.out.Err = pe
			log.Warn().Err(pe).Int("attempt", r.attempt).Str("code", string(pe.Code)).Msg("generation attempt failed")
			if !pe.Retryable || r.attempt >= c.opts.MaxAttempts {
				c.finish(ctx, r, StateExhausted, providerReason(pe))
				return r.out, nil
			}
			if !c.advance(ctx, r, StateRetrying, string(pe.Code)) {
				return r.out, nil
			}
			if pe.Code == imageprov.CodeQuotaExceeded && c.opts.QuotaBackoff > 0 {
				if err := c.opts.Sleep(ctx, c.opts.QuotaBackoff*time.Duration(r.attempt)); err != nil {
					return r.out, err
				}
			}
			retry.Attempt++
			r.attempt = retry.Attempt
			if !c.advance(ctx, r, StateGenerating, "") {
				return r.out, nil
			}
			continue
		}

		r.out.Err = nil
		r.out.Image = result.First()
		r.out.MimeType = result.MimeType
		if !c.advance(ctx, r, StateEvaluating, "") {
			return r.out, nil
		}

		fb, err := c.evaluate(ctx, r, result.First(), payload)
		if err != nil {
			return r.out, err
		}
		r.out.Feedback = append(r.out.Feedback, fb)

		if fb.Approved() {
			c.finish(ctx, r, StateAccepted, "")
			return r.out, nil
		}
		if r.attempt >= c.opts.MaxAttempts {
			c.finish(ctx, r, StateExhausted, feedbackReason(fb, r.attempt))
			return r.out, nil
		}
		if !c.advance(ctx, r, StateRetrying, fb.Reason) {
			return r.out, nil
		}
		retry = retry.Next(fb)
		r.attempt = retry.Attempt
		payload, err = c.deps.Builder.Build(gc.Style, composites, &retry)
		if err != nil {
			c.finish(ctx, r, StateExhausted, "invalid style settings: "+err.Error())
			return r.out, nil
		}
		if !c.advance(ctx, r, StateGenerating, "") {
			return r.out, nil
		}
	}
}

func (c *Controller) generate(ctx context.Context, r *run, payload domain.GenerationPayload) (imageprov.Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.GenerationTimeout)
	defer cancel()
	result, err := c.deps.Generator.GenerateImage(callCtx, payload)
	if err == nil && len(result.First()) == 0 {
		err = imageprov.NewProviderError(imageprov.CodeUnknown, c.deps.Generator.Name(), "provider returned no image", nil)
	}
	c.recordCost(ctx, result.Usage.CostRecord(r.id, StepGeneration, r.attempt, err))
	return result, err
}

// evaluate retries inconclusive judgements on their own budget. When the
// budget runs out the attempt counts as rejected.
func (c *Controller) evaluate(ctx context.Context, r *run, candidate []byte, payload domain.GenerationPayload) (domain.EvaluationFeedback, error) {
	req := evaluator.EvaluateRequest{
		Candidate:  candidate,
		References: payload.Composites.All(),
		Rubric: evaluator.Rubric{
			MustFollow:        payload.MustFollow,
			AspectRatio:       payload.AspectRatio,
			AspectDescription: payload.AspectDescription,
			RequireLogo:       requiresLogo(payload.Composites),
		},
		Attempt: r.attempt,
	}
	var lastErr error
	for try := 0; try <= c.opts.MaxEvaluationRetries; try++ {
		callCtx, cancel := context.WithTimeout(ctx, c.opts.EvaluationTimeout)
		fb, usage, err := c.deps.Judge.Evaluate(callCtx, req)
		cancel()
		c.recordCost(ctx, usage.CostRecord(r.id, StepEvaluation, r.attempt, err))
		if err == nil {
			fb.Attempt = r.attempt
			return fb, nil
		}
		if ctx.Err() != nil {
			return domain.EvaluationFeedback{}, ctx.Err()
		}
		lastErr = err
		c.logger.Warn().Err(err).Str("generation_id", r.id).Int("attempt", r.attempt).Int("try", try+1).Msg("evaluation inconclusive")
		if imageprov.CodeOf(err) == imageprov.CodeQuotaExceeded && c.opts.QuotaBackoff > 0 && try < c.opts.MaxEvaluationRetries {
			if err := c.opts.Sleep(ctx, c.opts.QuotaBackoff); err != nil {
				return domain.EvaluationFeedback{}, err
			}
		}
	}
	return domain.EvaluationFeedback{
		Status:               domain.EvaluationNotApproved,
		Reason:               fmt.Sprintf("evaluator could not reach a verdict: %v", lastErr),
		FailedCriteria:       []string{domain.CriterionInconclusive},
		SuggestedAdjustments: "",
		Attempt:              r.attempt,
	}, nil
}

// advance moves to a non-terminal state, checking for cancellation first.
func (c *Controller) advance(ctx context.Context, r *run, to State, reason string) bool {
	if c.cancelled(ctx, r) {
		return false
	}
	c.move(ctx, r, to, reason)
	return true
}

func (c *Controller) finish(ctx context.Context, r *run, to State, reason string) {
	r.out.Reason = reason
	c.move(ctx, r, to, reason)
}

func (c *Controller) move(ctx context.Context, r *run, to State, reason string) {
	if !CanTransition(r.state, to) {
		c.logger.Error().Str("generation_id", r.id).Str("from", string(r.state)).Str("to", string(to)).Msg("illegal workflow transition")
		return
	}
	from := r.state
	r.state = to
	r.out.State = to
	c.logger.Debug().Str("generation_id", r.id).Str("state", string(to)).Int("attempt", r.attempt).Msg("workflow transition")
	c.observe(ctx, Transition{GenerationID: r.id, From: from, To: to, Attempt: r.attempt, Reason: reason})
}

func (c *Controller) cancelled(ctx context.Context, r *run) bool {
	if c.deps.Cancel == nil {
		return false
	}
	yes, err := c.deps.Cancel.CancelRequested(ctx, r.id)
	if err != nil {
		c.logger.Warn().Err(err).Str("generation_id", r.id).Msg("cancel check failed")
		return false
	}
	if !yes {
		return false
	}
	c.finish(ctx, r, StateCancelled, "cancelled by user")
	return true
}

func (c *Controller) observe(ctx context.Context, t Transition) {
	if c.deps.Observer != nil {
		c.deps.Observer.OnTransition(ctx, t)
	}
}

func (c *Controller) recordCost(ctx context.Context, rec domain.CostRecord) {
	if c.deps.Costs == nil {
		return
	}
	if err := c.deps.Costs.RecordCost(context.WithoutCancel(ctx), rec); err != nil {
		c.logger.Error().Err(err).Str("generation_id", rec.GenerationID).Str("step", rec.Step).Msg("record cost failed")
	}
}

func requiresLogo(c domain.Composites) bool {
	if c.Logo != nil {
		return true
	}
	return c.Background != nil && strings.Contains(c.Background.Description, "logo")
}

func providerReason(pe *imageprov.ProviderError) string {
	switch pe.Code {
	case imageprov.CodeSafetyViolation:
		return "The request was blocked by the image provider's safety filters"
	case imageprov.CodeInvalidAPIKey:
		return "The image provider is not available"
	case imageprov.CodeQuotaExceeded:
		return "The image provider is over capacity; please try again later"
	case imageprov.CodeTimeout:
		return "The image provider timed out"
	default:
		return "Image generation failed: " + pe.Message
	}
}

func feedbackReason(fb domain.EvaluationFeedback, attempts int) string {
	if fb.Reason == "" {
		return fmt.Sprintf("No image met the requirements after %d attempts", attempts)
	}
	return fmt.Sprintf("No image met the requirements after %d attempts: %s", attempts, fb.Reason)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
