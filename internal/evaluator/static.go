package evaluator

import (
	"context"

	"teamshots/internal/domain"
	imageprov "teamshots/internal/providers/image"
)

// StaticJudge approves every candidate that passes the deterministic
// pre-check. It stands in when no judge key is configured.
type StaticJudge struct{}

func (StaticJudge) Name() string { return "static" }

func (StaticJudge) Evaluate(_ context.Context, req EvaluateRequest) (domain.EvaluationFeedback, imageprov.Usage, error) {
	usage := imageprov.Usage{Provider: "static", Model: "static", Success: true}
	if fb, rejected := PreCheck(req); rejected {
		return fb, usage, nil
	}
	return domain.EvaluationFeedback{
		Status:  domain.EvaluationApproved,
		Reason:  "approved without model review",
		Attempt: req.Attempt,
	}, usage, nil
}

var (
	_ Judge = (*Evaluator)(nil)
	_ Judge = StaticJudge{}
)
