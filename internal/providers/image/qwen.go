package image

import (
	"context"
	"encoding/base64"
	"errors"
	"hash/fnv"
	"strings"
	"time"

	"teamshots/internal/domain"
	"teamshots/internal/infra"
	"teamshots/internal/providers/qwen"
)

const qwenPromptLimit = 800

// QwenGenerator edits the primary identity composite with Qwen image edit.
// The model accepts a single source image so background and logo references
// are described in text only.
type QwenGenerator struct {
	client *qwen.Client
	logger infra.Logger
	now    func() time.Time
}

func NewQwenGenerator(client *qwen.Client, logger *infra.Logger) *QwenGenerator {
	return &QwenGenerator{client: client, logger: infra.OrNop(logger), now: time.Now}
}

func (g *QwenGenerator) Name() string { return "qwen" }

func (g *QwenGenerator) HealthCheck(ctx context.Context) error {
	if g.client == nil || !g.client.HasCredentials() {
		return NewProviderError(CodeInvalidAPIKey, g.Name(), "qwen api key not configured", qwen.ErrMissingAPIKey)
	}
	return ctx.Err()
}

func (g *QwenGenerator) GenerateImage(ctx context.Context, payload domain.GenerationPayload) (Result, error) {
	usage := Usage{Provider: g.Name()}
	if g.client == nil {
		return Result{Usage: usage}, NewProviderError(CodeInvalidAPIKey, g.Name(), "qwen client not configured", qwen.ErrMissingAPIKey)
	}
	usage.Model = g.client.Model()

	source, err := primarySource(payload)
	if err != nil {
		return Result{Usage: usage}, NewProviderError(CodeUnknown, g.Name(), "no usable source image", err)
	}
	prompt := ComposeInstructions(payload)
	req := qwen.ImageRequest{
		Prompt:         truncateRunes(prompt, qwenPromptLimit),
		NegativePrompt: DefaultNegativePrompt,
		Seed:           deterministicSeed(prompt),
		SourceImage:    source,
	}

	start := g.now()
	asset, err := g.client.EditImage(ctx, req)
	usage.Duration = g.now().Sub(start)
	if err != nil {
		perr := Normalize(g.Name(), err)
		g.logger.Warn().Err(err).Str("code", string(perr.Code)).Msg("qwen generation failed")
		return Result{Usage: usage}, perr
	}
	if asset == nil || len(asset.Data) == 0 {
		return Result{Usage: usage}, NewProviderError(CodeUnknown, g.Name(), "no image returned", errors.New("empty response"))
	}
	usage.Images = 1
	usage.CostUSD = EstimateCost(usage.Model, 0, 0, 1)
	usage.Success = true
	mime := "image/png"
	if asset.Format != "" {
		mime = "image/" + strings.ToLower(asset.Format)
	}
	return Result{Images: [][]byte{asset.Data}, MimeType: mime, Usage: usage}, nil
}

func primarySource(payload domain.GenerationPayload) (*qwen.SourceImage, error) {
	refs := payload.Composites.Identity()
	if len(refs) == 0 {
		refs = payload.References
	}
	if len(refs) == 0 {
		return nil, errors.New("payload has no references")
	}
	data, err := base64.StdEncoding.DecodeString(refs[0].Base64)
	if err != nil {
		return nil, err
	}
	return &qwen.SourceImage{MIME: refs[0].MimeType, Data: data}, nil
}

func deterministicSeed(prompt string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(prompt))
	return int(h.Sum32() & 0x7fffffff)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
