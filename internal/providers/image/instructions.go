package image

import (
	"fmt"
	"strings"

	"teamshots/internal/domain"
)

// SystemInstruction frames every headshot generation request.
const SystemInstruction = "You are a professional portrait photographer. Produce one photorealistic " +
	"headshot of the person shown in the identity references. Preserve facial identity exactly."

// DefaultNegativePrompt captures artefacts headshots must avoid.
const DefaultNegativePrompt = "low quality, blurry, distorted face, extra limbs, extra fingers, text artefacts, watermark, cartoon"

// ComposeInstructions renders a payload into the text prompt sent to a model.
// Rules are emitted in payload order so identical payloads give identical text.
func ComposeInstructions(payload domain.GenerationPayload) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(payload.Prompt))
	if len(payload.MustFollow) > 0 {
		b.WriteString("\n\nMUST FOLLOW:\n")
		for i, rule := range payload.MustFollow {
			fmt.Fprintf(&b, "%d. %s\n", i+1, rule)
		}
	}
	if len(payload.Freedom) > 0 {
		b.WriteString("\nCREATIVE FREEDOM:\n")
		for _, rule := range payload.Freedom {
			fmt.Fprintf(&b, "- %s\n", rule)
		}
	}
	if payload.AspectRatio != "" {
		fmt.Fprintf(&b, "\nOutput aspect ratio %s", payload.AspectRatio)
		if payload.AspectDescription != "" {
			fmt.Fprintf(&b, " (%s)", payload.AspectDescription)
		}
		b.WriteString(".\n")
	}
	if len(payload.References) > 0 {
		b.WriteString("\nREFERENCE IMAGES:\n")
		for _, ref := range payload.References {
			label := ref.Label
			if label == "" {
				label = "reference"
			}
			if ref.Description != "" {
				fmt.Fprintf(&b, "- %s: %s\n", label, ref.Description)
			} else {
				fmt.Fprintf(&b, "- %s\n", label)
			}
		}
	}
	return strings.TrimSpace(b.String())
}
