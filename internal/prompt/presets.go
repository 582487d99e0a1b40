package prompt

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"teamshots/internal/domain"
)

// ErrUnknownPreset is returned when a style names a preset the catalogue
// does not carry.
var ErrUnknownPreset = errors.New("unknown style preset")

//go:embed presets.yaml
var defaultPresets []byte

// Catalog holds named style presets.
type Catalog struct {
	Presets map[string]domain.StyleSettings `yaml:"presets"`
}

// DefaultCatalog returns the built-in presets.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultPresets)
	if err != nil {
		panic(fmt.Sprintf("prompt: embedded presets invalid: %v", err))
	}
	return c
}

// LoadCatalog reads a YAML catalogue. An empty path yields the defaults.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	if c.Presets == nil {
		c.Presets = map[string]domain.StyleSettings{}
	}
	return &c, nil
}

// Resolve overlays the job's settings on its preset. Job values win; rule
// lists are concatenated preset first.
func (c *Catalog) Resolve(style domain.StyleSettings) (domain.StyleSettings, error) {
	if style.PresetID == "" {
		return style, nil
	}
	base, ok := c.Presets[style.PresetID]
	if !ok {
		return style, fmt.Errorf("%w: %s", ErrUnknownPreset, style.PresetID)
	}
	out := base
	out.PresetID = style.PresetID
	pick(&out.ShotType, style.ShotType)
	pick(&out.AspectRatio, style.AspectRatio)
	pick(&out.Background.Type, style.Background.Type)
	pick(&out.Background.Key, style.Background.Key)
	pick(&out.Background.Color, style.Background.Color)
	pick(&out.Background.Description, style.Background.Description)
	pick(&out.Branding.LogoKey, style.Branding.LogoKey)
	pick(&out.Branding.Position, style.Branding.Position)
	pick(&out.Branding.Placement, style.Branding.Placement)
	pick(&out.Clothing.Style, style.Clothing.Style)
	pick(&out.Clothing.Colors, style.Clothing.Colors)
	pick(&out.Clothing.Notes, style.Clothing.Notes)
	pick(&out.Lighting, style.Lighting)
	pick(&out.Pose, style.Pose)
	pick(&out.Expression, style.Expression)
	pick(&out.Prompt, style.Prompt)
	out.MustFollow = append(append([]string{}, base.MustFollow...), style.MustFollow...)
	out.Freedom = append(append([]string{}, base.Freedom...), style.Freedom...)
	return out, nil
}

func pick(dst *string, override string) {
	if override != "" {
		*dst = override
	}
}
