package image

import (
	"context"
	"time"

	"teamshots/internal/domain"
)

// Generator is the contract implemented by all image providers. One call is
// one attempt; retries belong to the caller.
type Generator interface {
	GenerateImage(ctx context.Context, payload domain.GenerationPayload) (Result, error)
	HealthCheck(ctx context.Context) error
	Name() string
}

// Usage describes what a provider call consumed. It is filled in whether or
// not the call succeeded.
type Usage struct {
	Provider     string
	Model        string
	Duration     time.Duration
	InputTokens  int
	OutputTokens int
	Images       int
	CostUSD      float64
	Success      bool
}

// CostRecord converts the usage into a ledger cost row.
func (u Usage) CostRecord(generationID, step string, attempt int, err error) domain.CostRecord {
	rec := domain.CostRecord{
		GenerationID: generationID,
		Step:         step,
		Attempt:      attempt,
		Provider:     u.Provider,
		Model:        u.Model,
		CostUSD:      u.CostUSD,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		Images:       u.Images,
		Duration:     u.Duration,
		Success:      u.Success && err == nil,
	}
	if err != nil {
		rec.ErrorCode = string(CodeOf(err))
	}
	return rec
}

// Result is a successful generation.
type Result struct {
	Images   [][]byte
	MimeType string
	Usage    Usage
}

// First returns the first candidate image.
func (r Result) First() []byte {
	if len(r.Images) == 0 {
		return nil
	}
	return r.Images[0]
}
