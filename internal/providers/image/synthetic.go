package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"teamshots/internal/domain"
)

const syntheticLongEdge = 1024

// SyntheticGenerator produces a deterministic placeholder portrait. It is
// used in development and when no provider credentials are configured.
type SyntheticGenerator struct {
	now func() time.Time
}

func NewSyntheticGenerator() *SyntheticGenerator {
	return &SyntheticGenerator{now: time.Now}
}

func (g *SyntheticGenerator) Name() string { return "synthetic" }

func (g *SyntheticGenerator) HealthCheck(ctx context.Context) error { return ctx.Err() }

func (g *SyntheticGenerator) GenerateImage(ctx context.Context, payload domain.GenerationPayload) (Result, error) {
	usage := Usage{Provider: g.Name(), Model: "synthetic"}
	if err := ctx.Err(); err != nil {
		return Result{Usage: usage}, Normalize(g.Name(), err)
	}
	start := g.now()

	w, h := AspectDimensions(payload.AspectRatio, syntheticLongEdge)
	seed := uint32(deterministicSeed(ComposeInstructions(payload)))
	bg := color.NRGBA{R: uint8(seed >> 16), G: uint8(seed >> 8), B: uint8(seed), A: 255}
	canvas := imaging.New(w, h, bg)

	if subject := firstDecodable(payload); subject != nil {
		fitted := imaging.Fit(subject, w*3/4, h*3/4, imaging.Lanczos)
		canvas = imaging.PasteCenter(canvas, fitted)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, canvas, imaging.PNG); err != nil {
		return Result{Usage: usage}, NewProviderError(CodeUnknown, g.Name(), "encode synthetic image", err)
	}
	usage.Duration = g.now().Sub(start)
	usage.Images = 1
	usage.Success = true
	return Result{Images: [][]byte{buf.Bytes()}, MimeType: "image/png", Usage: usage}, nil
}

func firstDecodable(payload domain.GenerationPayload) image.Image {
	for _, ref := range payload.Composites.Identity() {
		data, err := base64.StdEncoding.DecodeString(ref.Base64)
		if err != nil {
			continue
		}
		img, err := imaging.Decode(bytes.NewReader(data))
		if err == nil {
			return img
		}
	}
	return nil
}

// AspectDimensions returns pixel dimensions for a "W:H" ratio with the given
// long edge. Unparseable ratios fall back to square.
func AspectDimensions(ratio string, longEdge int) (int, int) {
	rw, rh, ok := ParseAspect(ratio)
	if !ok {
		return longEdge, longEdge
	}
	if rw >= rh {
		return longEdge, longEdge * rh / rw
	}
	return longEdge * rw / rh, longEdge
}

// ParseAspect splits a "W:H" ratio.
func ParseAspect(ratio string) (int, int, bool) {
	parts := strings.SplitN(strings.TrimSpace(ratio), ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	w, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}
