package prompt

import (
	"fmt"
	"strings"

	"teamshots/internal/domain"
)

type directive func(style domain.StyleSettings, shot ShotSpec, ratio string) string

var correctionDirectives = map[string]directive{
	"logo_placement": func(s domain.StyleSettings, _ ShotSpec, _ string) string {
		return fmt.Sprintf("CORRECTION: the company logo must appear %s, fully visible, sharp, undistorted and not cropped.", logoPhrase(s))
	},
	"face_likeness": func(domain.StyleSettings, ShotSpec, string) string {
		return "CORRECTION: the face must match the identity composite exactly; do not alter face shape, eyes, nose, lips, skin tone or hairline."
	},
	"aspect_ratio": func(_ domain.StyleSettings, _ ShotSpec, ratio string) string {
		return fmt.Sprintf("CORRECTION: output must be exactly %s (%s); do not pad or letterbox.", ratio, AspectDescription(ratio))
	},
	"shot_type": func(_ domain.StyleSettings, shot ShotSpec, _ string) string {
		return fmt.Sprintf("CORRECTION: frame the subject as a %s, %s.", shot.Name, shot.Framing)
	},
	"background": func(s domain.StyleSettings, _ ShotSpec, _ string) string {
		return "CORRECTION: the background must be " + backgroundPhrase(s) + "."
	},
	"clothing": func(s domain.StyleSettings, _ ShotSpec, _ string) string {
		return "CORRECTION: wardrobe must be " + clothingPhrase(s) + "."
	},
	"lighting": func(s domain.StyleSettings, _ ShotSpec, _ string) string {
		return "CORRECTION: use " + orDefault(s.Lighting, "soft, even studio lighting") + " with no harsh shadows across the face."
	},
	"pose": func(s domain.StyleSettings, _ ShotSpec, _ string) string {
		return "CORRECTION: pose must be " + orDefault(s.Pose, "relaxed and upright, shoulders slightly angled, facing the camera") + "."
	},
	"artifacts": func(domain.StyleSettings, ShotSpec, string) string {
		return "CORRECTION: remove rendering artefacts; hands, ears, teeth and glasses must be anatomically correct."
	},
}

// correctionFor returns the directive for one failed criterion.
func correctionFor(criterion string, style domain.StyleSettings, shot ShotSpec, ratio string) string {
	key := strings.ToLower(strings.TrimSpace(criterion))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	if key == "" || key == domain.CriterionInconclusive {
		return ""
	}
	if d, ok := correctionDirectives[key]; ok {
		return d(style, shot, ratio)
	}
	return fmt.Sprintf("CORRECTION: the previous attempt failed %q; fix it while keeping every other rule.", criterion)
}

// corrections folds every feedback so far into directives, oldest first.
func corrections(retry *domain.RetryContext, style domain.StyleSettings, shot ShotSpec, ratio string) []string {
	if retry == nil {
		return nil
	}
	history := retry.History
	if len(history) == 0 && retry.PreviousFeedback != nil {
		history = []domain.EvaluationFeedback{*retry.PreviousFeedback}
	}
	var out []string
	for _, fb := range history {
		if fb.Approved() {
			continue
		}
		for _, criterion := range fb.FailedCriteria {
			if d := correctionFor(criterion, style, shot, ratio); d != "" {
				out = append(out, d)
			}
		}
		if adj := strings.TrimSpace(fb.SuggestedAdjustments); adj != "" {
			out = append(out, "REVIEWER ADJUSTMENT: "+adj)
		}
	}
	return out
}

func logoPhrase(s domain.StyleSettings) string {
	pos := strings.ReplaceAll(orDefault(s.Branding.Position, "top-left"), "_", "-")
	pos = "at the " + strings.ReplaceAll(pos, "-", " ")
	if p := strings.TrimSpace(s.Branding.Placement); p != "" {
		return pos + " on the " + p
	}
	return pos + " of the image"
}

func backgroundPhrase(s domain.StyleSettings) string {
	bg := s.Background
	switch {
	case bg.Key != "":
		return "the provided BACKGROUND reference scene"
	case bg.Description != "":
		return bg.Description
	case bg.Color != "":
		return "a clean solid " + bg.Color + " backdrop"
	case bg.Type != "":
		return "a " + bg.Type + " backdrop"
	default:
		return "a neutral light grey studio backdrop"
	}
}

func clothingPhrase(s domain.StyleSettings) string {
	c := s.Clothing
	parts := []string{orDefault(c.Style, "business professional attire")}
	if c.Colors != "" {
		parts = append(parts, "in "+c.Colors)
	}
	if c.Notes != "" {
		parts = append(parts, "("+c.Notes+")")
	}
	return strings.Join(parts, " ")
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return strings.TrimSpace(v)
}
