package image

import (
	"context"
	"errors"
	"time"

	"teamshots/internal/domain"
	"teamshots/internal/infra"
	"teamshots/internal/providers/genai"
)

// GeminiGenerator renders headshots with the Gemini image model.
type GeminiGenerator struct {
	client *genai.Client
	logger infra.Logger
	now    func() time.Time
}

func NewGeminiGenerator(client *genai.Client, logger *infra.Logger) *GeminiGenerator {
	return &GeminiGenerator{client: client, logger: infra.OrNop(logger), now: time.Now}
}

func (g *GeminiGenerator) Name() string { return "gemini" }

func (g *GeminiGenerator) HealthCheck(ctx context.Context) error {
	if g.client == nil || !g.client.HasCredentials() {
		return NewProviderError(CodeInvalidAPIKey, g.Name(), "gemini api key not configured", genai.ErrMissingAPIKey)
	}
	return ctx.Err()
}

func (g *GeminiGenerator) GenerateImage(ctx context.Context, payload domain.GenerationPayload) (Result, error) {
	usage := Usage{Provider: g.Name()}
	if g.client == nil {
		return Result{Usage: usage}, NewProviderError(CodeInvalidAPIKey, g.Name(), "gemini client not configured", genai.ErrMissingAPIKey)
	}
	usage.Model = g.client.Model()

	req := genai.ImageRequest{
		Prompt:            ComposeInstructions(payload),
		SystemInstruction: SystemInstruction,
		AspectRatio:       payload.AspectRatio,
	}
	for _, ref := range payload.References {
		req.References = append(req.References, genai.InlineImage{
			MimeType: ref.MimeType,
			Base64:   ref.Base64,
			Label:    referenceLabel(ref),
		})
	}

	start := g.now()
	resp, err := g.client.GenerateImage(ctx, req)
	usage.Duration = g.now().Sub(start)
	if resp != nil {
		usage.InputTokens = resp.Usage.PromptTokens
		usage.OutputTokens = resp.Usage.CandidateTokens
		usage.Images = len(resp.Images)
	}
	usage.CostUSD = EstimateCost(usage.Model, usage.InputTokens, usage.OutputTokens, 0)
	if err != nil {
		perr := Normalize(g.Name(), err)
		g.logger.Warn().Err(err).Str("code", string(perr.Code)).Dur("duration", usage.Duration).Msg("gemini generation failed")
		return Result{Usage: usage}, perr
	}
	if resp == nil || len(resp.Images) == 0 {
		return Result{Usage: usage}, NewProviderError(CodeUnknown, g.Name(), "no image returned", errors.New("empty response"))
	}
	usage.Success = true
	return Result{Images: resp.Images, MimeType: resp.MimeType, Usage: usage}, nil
}

func referenceLabel(ref domain.ReferenceImage) string {
	switch {
	case ref.Label != "" && ref.Description != "":
		return ref.Label + ": " + ref.Description
	case ref.Label != "":
		return ref.Label
	default:
		return ref.Description
	}
}
