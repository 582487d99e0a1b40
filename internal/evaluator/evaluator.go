// Package evaluator judges candidate headshots against the must-follow
// rules and the identity references.
package evaluator

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"net/http"
	"strings"
	"time"

	_ "golang.org/x/image/webp"

	"teamshots/internal/domain"
	"teamshots/internal/infra"
	"teamshots/internal/providers/genai"
	imageprov "teamshots/internal/providers/image"
)

// AspectTolerance is the relative deviation allowed between the candidate's
// dimensions and the requested ratio.
const AspectTolerance = 0.02

const (
	CriterionAspectRatio   = "aspect_ratio"
	CriterionUnreadable    = "unreadable_image"
	CriterionMustFollow    = "must_follow"
	CriterionInconclusive  = domain.CriterionInconclusive
	judgeSystemInstruction = "You are a strict quality reviewer for professional headshots. Reply with JSON only."
)

// Rubric is what a candidate is judged against.
type Rubric struct {
	MustFollow        []string
	AspectRatio       string
	AspectDescription string
	RequireLogo       bool
}

type EvaluateRequest struct {
	Candidate  []byte
	References []domain.ReferenceImage
	Rubric     Rubric
	Attempt    int
}

// Judge is implemented by the model-backed evaluator and StaticJudge.
type Judge interface {
	Evaluate(ctx context.Context, req EvaluateRequest) (domain.EvaluationFeedback, imageprov.Usage, error)
	Name() string
}

// InconclusiveError means the judge could not produce a verdict. It is not
// a rejection.
type InconclusiveError struct {
	Err *imageprov.ProviderError
}

func (e *InconclusiveError) Error() string {
	return "evaluation inconclusive: " + e.Err.Error()
}

func (e *InconclusiveError) Unwrap() error { return e.Err }

// IsInconclusive reports whether err is an InconclusiveError.
func IsInconclusive(err error) bool {
	var ie *InconclusiveError
	return errors.As(err, &ie)
}

// TextModel is the slice of the Gemini client the evaluator needs.
type TextModel interface {
	GenerateText(ctx context.Context, req genai.TextRequest) (*genai.TextResponse, error)
	Model() string
}

type Options struct {
	Model  TextModel
	Logger *infra.Logger
}

type Evaluator struct {
	model  TextModel
	logger infra.Logger
	now    func() time.Time
}

func New(opts Options) *Evaluator {
	return &Evaluator{model: opts.Model, logger: infra.OrNop(opts.Logger), now: time.Now}
}

func (e *Evaluator) Name() string { return "gemini-judge" }

type judgeReply struct {
	Status               string   `json:"status"`
	Reason               string   `json:"reason"`
	FailedCriteria       []string `json:"failed_criteria"`
	SuggestedAdjustments string   `json:"suggested_adjustments"`
}

func (e *Evaluator) Evaluate(ctx context.Context, req EvaluateRequest) (domain.EvaluationFeedback, imageprov.Usage, error) {
	usage := imageprov.Usage{Provider: e.Name()}
	if fb, rejected := PreCheck(req); rejected {
		usage.Success = true
		return fb, usage, nil
	}
	if e.model == nil {
		return domain.EvaluationFeedback{}, usage, &InconclusiveError{Err: imageprov.NewProviderError(imageprov.CodeInvalidAPIKey, e.Name(), "judge model not configured", genai.ErrMissingAPIKey)}
	}
	usage.Model = e.model.Model()

	images := []genai.InlineImage{{
		MimeType: http.DetectContentType(req.Candidate),
		Base64:   base64.StdEncoding.EncodeToString(req.Candidate),
		Label:    "CANDIDATE",
	}}
	for _, ref := range req.References {
		images = append(images, genai.InlineImage{MimeType: ref.MimeType, Base64: ref.Base64, Label: ref.Label})
	}

	start := e.now()
	resp, err := e.model.GenerateText(ctx, genai.TextRequest{
		Prompt:            judgePrompt(req.Rubric),
		SystemInstruction: judgeSystemInstruction,
		Images:            images,
		JSON:              true,
	})
	usage.Duration = e.now().Sub(start)
	if resp != nil {
		usage.InputTokens = resp.Usage.PromptTokens
		usage.OutputTokens = resp.Usage.CandidateTokens
		usage.CostUSD = imageprov.EstimateCost(usage.Model, usage.InputTokens, usage.OutputTokens, 0)
	}
	if err != nil {
		return domain.EvaluationFeedback{}, usage, &InconclusiveError{Err: imageprov.Normalize(e.Name(), err)}
	}
	reply, err := genai.ParseJSONReply[judgeReply](resp.Text)
	if err != nil {
		return domain.EvaluationFeedback{}, usage, &InconclusiveError{Err: imageprov.NewProviderError(imageprov.CodeUnknown, e.Name(), "unparseable judge reply", err)}
	}
	fb, err := normalizeReply(reply)
	if err != nil {
		return domain.EvaluationFeedback{}, usage, &InconclusiveError{Err: imageprov.NewProviderError(imageprov.CodeUnknown, e.Name(), err.Error(), err)}
	}
	fb.Attempt = req.Attempt
	usage.Success = true
	e.logger.Debug().Int("attempt", req.Attempt).Str("status", string(fb.Status)).Strs("failed", fb.FailedCriteria).Msg("candidate evaluated")
	return fb, usage, nil
}

// PreCheck runs the deterministic checks that need no model. It reports
// true when the candidate is already rejected.
func PreCheck(req EvaluateRequest) (domain.EvaluationFeedback, bool) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(req.Candidate))
	if err != nil {
		return domain.EvaluationFeedback{
			Status:               domain.EvaluationNotApproved,
			Reason:               "candidate image could not be decoded",
			FailedCriteria:       []string{CriterionUnreadable},
			SuggestedAdjustments: "Return a single valid PNG or JPEG image.",
			Attempt:              req.Attempt,
		}, true
	}
	if ok, got := AspectMatches(cfg.Width, cfg.Height, req.Rubric.AspectRatio); !ok {
		return domain.EvaluationFeedback{
			Status:         domain.EvaluationNotApproved,
			Reason:         fmt.Sprintf("candidate is %dx%d (ratio %.3f), expected %s", cfg.Width, cfg.Height, got, req.Rubric.AspectRatio),
			FailedCriteria: []string{CriterionAspectRatio},
			SuggestedAdjustments: fmt.Sprintf("Render the image at exactly %s (%s).",
				req.Rubric.AspectRatio, req.Rubric.AspectDescription),
			Attempt: req.Attempt,
		}, true
	}
	return domain.EvaluationFeedback{}, false
}

// AspectMatches compares width/height with a "W:H" ratio within
// AspectTolerance. An empty or unparseable ratio always matches.
func AspectMatches(width, height int, ratio string) (bool, float64) {
	if width <= 0 || height <= 0 {
		return false, 0
	}
	got := float64(width) / float64(height)
	rw, rh, ok := imageprov.ParseAspect(ratio)
	if !ok {
		return true, got
	}
	want := float64(rw) / float64(rh)
	return math.Abs(got-want)/want <= AspectTolerance, got
}

func normalizeReply(r judgeReply) (domain.EvaluationFeedback, error) {
	fb := domain.EvaluationFeedback{
		Reason:               strings.TrimSpace(r.Reason),
		SuggestedAdjustments: strings.TrimSpace(r.SuggestedAdjustments),
	}
	for _, c := range r.FailedCriteria {
		if c = normalizeCriterion(c); c != "" {
			fb.FailedCriteria = append(fb.FailedCriteria, c)
		}
	}
	switch strings.ToLower(strings.TrimSpace(r.Status)) {
	case "approved", "approve", "pass", "passed":
		fb.Status = domain.EvaluationApproved
	case "not approved", "not_approved", "rejected", "reject", "fail", "failed":
		fb.Status = domain.EvaluationNotApproved
	default:
		return fb, fmt.Errorf("judge returned unknown status %q", r.Status)
	}
	if fb.Status == domain.EvaluationApproved && len(fb.FailedCriteria) > 0 {
		fb.Status = domain.EvaluationNotApproved
	}
	if fb.Status == domain.EvaluationNotApproved && len(fb.FailedCriteria) == 0 {
		fb.FailedCriteria = []string{CriterionMustFollow}
	}
	if fb.Status == domain.EvaluationNotApproved && fb.Reason == "" {
		fb.Reason = "failed " + strings.Join(fb.FailedCriteria, ", ")
	}
	return fb, nil
}

func normalizeCriterion(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(c)
}

func judgePrompt(r Rubric) string {
	var b strings.Builder
	b.WriteString("The first image is the CANDIDATE headshot. The remaining images are identity references followed by any BACKGROUND or LOGO references the candidate must reproduce.\n")
	b.WriteString("Reject the candidate if ANY rule below is violated, however good it looks otherwise.\n\nRULES:\n")
	for i, rule := range r.MustFollow {
		fmt.Fprintf(&b, "%d. %s\n", i+1, rule)
	}
	if r.AspectRatio != "" {
		fmt.Fprintf(&b, "- The image must be %s (%s).\n", r.AspectRatio, r.AspectDescription)
	}
	if r.RequireLogo {
		b.WriteString("- The company logo must be visible at the requested position.\n")
	}
	b.WriteString(`
Use these criterion names when they apply: face_likeness, logo_placement, aspect_ratio, shot_type, background, clothing, lighting, pose, artifacts.
Respond with JSON: {"status":"Approved"|"Not Approved","reason":string,"failed_criteria":[string],"suggested_adjustments":string}
suggested_adjustments must be concrete instructions for the next attempt.`)
	return b.String()
}
