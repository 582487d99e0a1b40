package image

import (
	"context"
	"testing"

	"teamshots/internal/providers/genai"
)

func TestNewGeneratorSelection(t *testing.T) {
	keyed, _ := genai.NewClient(genai.Options{APIKey: "k"})
	cases := []struct {
		name string
		deps Deps
		want string
	}{
		{"gemini", Deps{Gemini: keyed}, "gemini"},
		{"gemini", Deps{}, "synthetic"},
		{"qwen", Deps{}, "synthetic"},
		{"synthetic", Deps{}, "synthetic"},
		{"stability", Deps{}, "stability"},
	}
	for _, tc := range cases {
		gen, err := NewGenerator(tc.name, tc.deps)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if gen.Name() != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, gen.Name(), tc.want)
		}
	}
	if _, err := NewGenerator("dall-e", Deps{}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

func TestUnavailableGeneratorIsFatal(t *testing.T) {
	gen, _ := NewGenerator("openai", Deps{})
	_, err := gen.GenerateImage(context.Background(), samplePayload())
	pe := Normalize("", err)
	if pe.Retryable {
		t.Fatalf("unavailable provider must not be retried")
	}
}
