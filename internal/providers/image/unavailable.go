package image

import (
	"context"
	"errors"

	"teamshots/internal/domain"
)

var errNotImplemented = errors.New("provider not implemented")

// unavailableGenerator reserves a provider name without an implementation.
type unavailableGenerator struct {
	name string
}

func (g unavailableGenerator) Name() string { return g.name }

func (g unavailableGenerator) HealthCheck(context.Context) error {
	return NewProviderError(CodeInvalidAPIKey, g.name, "provider not available", errNotImplemented)
}

func (g unavailableGenerator) GenerateImage(context.Context, domain.GenerationPayload) (Result, error) {
	return Result{Usage: Usage{Provider: g.name}}, NewProviderError(CodeInvalidAPIKey, g.name, "provider not available", errNotImplemented)
}
