// Package prompt turns style settings, composites and evaluator feedback into
// the payload sent to the image model.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"teamshots/internal/domain"
)

var defaultFreedom = []string{
	"Exact lighting mood within the requested style",
	"Subtle variation of expression and head tilt",
	"Depth of field and background blur",
}

type promptDocument struct {
	Subject     subjectSection   `json:"subject"`
	Framing     framingSection   `json:"framing"`
	Wardrobe    string           `json:"wardrobe"`
	Background  string           `json:"background"`
	Branding    *brandingSection `json:"branding,omitempty"`
	Lighting    string           `json:"lighting"`
	Pose        poseSection      `json:"pose"`
	Rendering   renderingSection `json:"rendering"`
	Notes       string           `json:"notes,omitempty"`
	Corrections []string         `json:"corrections,omitempty"`
}

type subjectSection struct {
	Description       string `json:"description"`
	IdentityReference string `json:"identity_reference"`
}

type framingSection struct {
	ShotType          string `json:"shot_type"`
	Framing           string `json:"framing"`
	AspectRatio       string `json:"aspect_ratio"`
	AspectDescription string `json:"aspect_description"`
}

type brandingSection struct {
	Logo     string `json:"logo"`
	Position string `json:"position"`
}

type poseSection struct {
	Pose       string `json:"pose"`
	Expression string `json:"expression"`
}

type renderingSection struct {
	Style   string `json:"style"`
	Quality string `json:"quality"`
}

// Builder is safe for concurrent use.
type Builder struct {
	presets *Catalog
}

func NewBuilder(presets *Catalog) *Builder {
	return &Builder{presets: presets}
}

// Build produces the payload for one attempt. With a retry context every
// earlier failed criterion becomes a must-follow correction, so rules only
// ever accumulate across attempts.
func (b *Builder) Build(style domain.StyleSettings, composites domain.Composites, retry *domain.RetryContext) (domain.GenerationPayload, error) {
	if b.presets != nil {
		resolved, err := b.presets.Resolve(style)
		if err != nil {
			return domain.GenerationPayload{}, err
		}
		style = resolved
	}
	shot := ResolveShot(style.ShotType)
	ratio, aspectDesc, err := ResolveAspect(style.AspectRatio, shot)
	if err != nil {
		return domain.GenerationPayload{}, err
	}
	title := cases.Title(language.English)
	identity := identityLabel(composites)
	fixes := corrections(retry, style, shot, ratio)

	doc := promptDocument{
		Subject: subjectSection{
			Description:       "the single person shown in the identity references",
			IdentityReference: identity,
		},
		Framing: framingSection{
			ShotType:          title.String(shot.Name),
			Framing:           shot.Framing,
			AspectRatio:       ratio,
			AspectDescription: aspectDesc,
		},
		Wardrobe:   clothingPhrase(style),
		Background: backgroundPhrase(style),
		Lighting:   orDefault(style.Lighting, "soft, even studio lighting"),
		Pose: poseSection{
			Pose:       orDefault(style.Pose, "relaxed and upright, shoulders slightly angled, facing the camera"),
			Expression: orDefault(style.Expression, "confident, approachable smile"),
		},
		Rendering: renderingSection{
			Style:   "photorealistic professional corporate portrait",
			Quality: "sharp focus on the eyes, natural skin texture, no retouching artefacts",
		},
		Notes:       strings.TrimSpace(style.Prompt),
		Corrections: fixes,
	}
	if style.HasLogo() {
		doc.Branding = &brandingSection{Logo: "the provided company logo", Position: logoPhrase(style)}
	}
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return domain.GenerationPayload{}, fmt.Errorf("marshal prompt: %w", err)
	}

	must := []string{
		fmt.Sprintf("Preserve the exact facial identity of the person in the %s.", identity),
		"Exactly one person in the image.",
		fmt.Sprintf("Output aspect ratio must be %s (%s).", ratio, aspectDesc),
		fmt.Sprintf("Framing must be a %s: %s.", title.String(shot.Name), shot.Framing),
		"Background must be " + backgroundPhrase(style) + ".",
	}
	if style.HasLogo() {
		must = append(must, fmt.Sprintf("Place the company logo %s exactly as provided, undistorted.", logoPhrase(style)))
	}
	must = append(must, style.MustFollow...)
	must = append(must, fixes...)

	freedom := append(append([]string{}, defaultFreedom...), style.Freedom...)

	return domain.GenerationPayload{
		Prompt:            string(body),
		MustFollow:        dedupe(must),
		Freedom:           dedupe(freedom),
		References:        composites.All(),
		AspectRatio:       ratio,
		AspectDescription: aspectDesc,
		Composites:        composites,
	}, nil
}

func identityLabel(c domain.Composites) string {
	switch {
	case c.Face != nil:
		return "FACE COMPOSITE"
	case c.Selfie != nil:
		return "SELFIE COMPOSITE"
	case c.Body != nil:
		return "BODY COMPOSITE"
	default:
		return "reference selfies"
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
