package domain

// EvaluationStatus is the judge verdict.
type EvaluationStatus string

const (
	EvaluationApproved    EvaluationStatus = "Approved"
	EvaluationNotApproved EvaluationStatus = "Not Approved"
)

// EvaluationFeedback is produced once per conclusive evaluation.
type EvaluationFeedback struct {
	Status               EvaluationStatus `json:"status"`
	Reason               string           `json:"reason"`
	FailedCriteria       []string         `json:"failedCriteria,omitempty"`
	SuggestedAdjustments string           `json:"suggestedAdjustments,omitempty"`
	Attempt              int              `json:"attempt,omitempty"`
}

// Approved reports whether the candidate passed.
func (f EvaluationFeedback) Approved() bool { return f.Status == EvaluationApproved }

// RetryContext travels from one attempt to the next.
type RetryContext struct {
	Attempt          int
	MaxAttempts      int
	PreviousFeedback *EvaluationFeedback
	History          []EvaluationFeedback
}

// Next returns the context for the following attempt with fb appended.
func (r RetryContext) Next(fb EvaluationFeedback) RetryContext {
	history := make([]EvaluationFeedback, 0, len(r.History)+1)
	history = append(history, r.History...)
	history = append(history, fb)
	last := fb
	return RetryContext{
		Attempt:          r.Attempt + 1,
		MaxAttempts:      r.MaxAttempts,
		PreviousFeedback: &last,
		History:          history,
	}
}

// CriterionInconclusive marks an attempt whose evaluation never reached a
// verdict. It carries no correction for the next prompt.
const CriterionInconclusive = "evaluation_inconclusive"
