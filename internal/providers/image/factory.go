package image

import (
	"fmt"
	"strings"

	"teamshots/internal/infra"
	"teamshots/internal/providers/genai"
	"teamshots/internal/providers/qwen"
)

// Deps carries the clients a generator may be built from.
type Deps struct {
	Gemini *genai.Client
	Qwen   *qwen.Client
	Logger *infra.Logger
}

// NewGenerator selects a provider by name. A configured provider without
// credentials degrades to the synthetic generator.
func NewGenerator(name string, deps Deps) (Generator, error) {
	logger := infra.OrNop(deps.Logger)
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "gemini":
		if deps.Gemini == nil || !deps.Gemini.HasCredentials() {
			logger.Warn().Msg("gemini api key missing; using synthetic generator")
			return NewSyntheticGenerator(), nil
		}
		return NewGeminiGenerator(deps.Gemini, deps.Logger), nil
	case "qwen":
		if deps.Qwen == nil || !deps.Qwen.HasCredentials() {
			logger.Warn().Msg("qwen api key missing; using synthetic generator")
			return NewSyntheticGenerator(), nil
		}
		return NewQwenGenerator(deps.Qwen, deps.Logger), nil
	case "synthetic":
		return NewSyntheticGenerator(), nil
	case "openai", "stability":
		return unavailableGenerator{name: strings.ToLower(name)}, nil
	default:
		return nil, fmt.Errorf("unknown image provider %q", name)
	}
}
