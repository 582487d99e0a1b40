// Package classifier scores uploaded selfies with a vision model.
package classifier

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

	_ "golang.org/x/image/webp"

	"teamshots/internal/domain"
	"teamshots/internal/infra"
	"teamshots/internal/providers/genai"
)

// MaxImageBytes bounds the raw upload size accepted for scoring.
const MaxImageBytes = 10 << 20

// MinDemographicConfidence is the floor below which an attribute is treated
// as unresolved and omitted.
const MinDemographicConfidence = 0.6

const systemInstruction = "You classify selfies for a professional headshot service. Reply with JSON only."

const classificationPrompt = `Classify this selfie. Respond with a single JSON object:
{
  "selfie_type": "front_view" | "side_view" | "partial_body" | "full_body" | "unknown",
  "type_confidence": number between 0 and 1,
  "is_proper": boolean (false for multiple faces, no face, heavy filters, obstructed face),
  "improper_reason": string or null,
  "lighting_quality": "good" | "acceptable" | "poor",
  "background_quality": "good" | "acceptable" | "poor",
  "gender": {"value": string, "confidence": number} or null,
  "age_category": {"value": string, "confidence": number} or null,
  "ethnicity": {"value": string, "confidence": number} or null
}
Use null for any demographic attribute you cannot determine. Never guess.`

// TextModel is the slice of the Gemini client the classifier needs.
type TextModel interface {
	GenerateText(ctx context.Context, req genai.TextRequest) (*genai.TextResponse, error)
}

// ClassificationError is returned for any input or model failure.
type ClassificationError struct {
	Reason string
	Err    error
}

func (e *ClassificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("classify selfie: %s: %v", e.Reason, e.Err)
	}
	return "classify selfie: " + e.Reason
}

func (e *ClassificationError) Unwrap() error { return e.Err }

type Options struct {
	Model  TextModel
	Logger *infra.Logger
}

type Classifier struct {
	model  TextModel
	logger infra.Logger
}

func New(opts Options) *Classifier {
	return &Classifier{model: opts.Model, logger: infra.OrNop(opts.Logger)}
}

type modelReply struct {
	SelfieType        string     `json:"selfie_type"`
	TypeConfidence    float64    `json:"type_confidence"`
	IsProper          *bool      `json:"is_proper"`
	ImproperReason    *string    `json:"improper_reason"`
	LightingQuality   string     `json:"lighting_quality"`
	BackgroundQuality string     `json:"background_quality"`
	Gender            *replyDemo `json:"gender"`
	AgeCategory       *replyDemo `json:"age_category"`
	Ethnicity         *replyDemo `json:"ethnicity"`
}

type replyDemo struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Classify scores one image. It has no side effects.
func (c *Classifier) Classify(ctx context.Context, data []byte) (domain.Classification, error) {
	if len(data) == 0 {
		return domain.Classification{}, &ClassificationError{Reason: "empty image"}
	}
	if len(data) > MaxImageBytes {
		return domain.Classification{}, &ClassificationError{Reason: fmt.Sprintf("image exceeds %d bytes", MaxImageBytes)}
	}
	if _, format, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return domain.Classification{}, &ClassificationError{Reason: "unsupported image format", Err: err}
	} else if format != "jpeg" && format != "png" && format != "webp" {
		return domain.Classification{}, &ClassificationError{Reason: "unsupported image format " + format}
	}
	if c.model == nil {
		return domain.Classification{}, &ClassificationError{Reason: "classifier model not configured"}
	}

	resp, err := c.model.GenerateText(ctx, genai.TextRequest{
		Prompt:            classificationPrompt,
		SystemInstruction: systemInstruction,
		Images: []genai.InlineImage{{
			MimeType: http.DetectContentType(data),
			Base64:   base64.StdEncoding.EncodeToString(data),
		}},
		JSON:        true,
		Temperature: 0,
	})
	if err != nil {
		return domain.Classification{}, &ClassificationError{Reason: "model call failed", Err: err}
	}
	reply, err := genai.ParseJSONReply[modelReply](resp.Text)
	if err != nil {
		return domain.Classification{}, &ClassificationError{Reason: "unparseable model reply", Err: err}
	}
	return normalize(reply), nil
}

// ClassifyOrUnknown never blocks the caller: on failure it returns the
// unknown classification together with the error for logging.
func (c *Classifier) ClassifyOrUnknown(ctx context.Context, data []byte) (domain.Classification, error) {
	result, err := c.Classify(ctx, data)
	if err != nil {
		c.logger.Warn().Err(err).Msg("selfie classification failed; treating as unknown")
		return domain.UnknownClassification(), err
	}
	return result, nil
}

// IsClassificationError reports whether err came from the classifier.
func IsClassificationError(err error) bool {
	var ce *ClassificationError
	return errors.As(err, &ce)
}

func normalize(r modelReply) domain.Classification {
	out := domain.Classification{
		Type: domain.TypeScore{
			Value:      domain.ParseSelfieType(strings.ToLower(strings.TrimSpace(r.SelfieType))),
			Confidence: clamp01(r.TypeConfidence),
		},
		Proper:     domain.Suitability{IsProper: true},
		Lighting:   domain.QualityScore{Rating: parseRating(r.LightingQuality)},
		Background: domain.QualityScore{Rating: parseRating(r.BackgroundQuality)},
		Demographics: domain.Demographics{
			Gender:      resolved(r.Gender),
			AgeCategory: resolved(r.AgeCategory),
			Ethnicity:   resolved(r.Ethnicity),
		},
	}
	if out.Type.Value == domain.SelfieUnknown {
		out.Type.Confidence = 0
	}
	if r.IsProper != nil && !*r.IsProper {
		out.Proper.IsProper = false
		if r.ImproperReason != nil {
			out.Proper.ImproperReason = strings.TrimSpace(*r.ImproperReason)
		}
		if out.Proper.ImproperReason == "" {
			out.Proper.ImproperReason = "unsuitable image"
		}
	}
	return out
}

func resolved(d *replyDemo) *domain.DemographicValue {
	if d == nil {
		return nil
	}
	value := strings.ToLower(strings.TrimSpace(d.Value))
	switch value {
	case "", "unknown", "unsure", "uncertain", "n/a", "null":
		return nil
	}
	conf := clamp01(d.Confidence)
	if conf < MinDemographicConfidence {
		return nil
	}
	return &domain.DemographicValue{Value: value, Confidence: conf}
}

func parseRating(v string) domain.QualityRating {
	switch r := domain.QualityRating(strings.ToLower(strings.TrimSpace(v))); r {
	case domain.QualityGood, domain.QualityAcceptable, domain.QualityPoor:
		return r
	default:
		return domain.QualityAcceptable
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
