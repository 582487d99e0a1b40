package domain

// StyleSettings is the opaque style configuration supplied by the package
// collaborator. Fields left empty fall back to preset or builder defaults.
type StyleSettings struct {
	PresetID    string          `json:"presetId,omitempty" yaml:"presetId,omitempty"`
	ShotType    string          `json:"shotType,omitempty" yaml:"shotType,omitempty"`
	AspectRatio string          `json:"aspectRatio,omitempty" yaml:"aspectRatio,omitempty"`
	Background  BackgroundStyle `json:"background" yaml:"background"`
	Branding    BrandingStyle   `json:"branding" yaml:"branding"`
	Clothing    ClothingStyle   `json:"clothing" yaml:"clothing"`
	Lighting    string          `json:"lighting,omitempty" yaml:"lighting,omitempty"`
	Pose        string          `json:"pose,omitempty" yaml:"pose,omitempty"`
	Expression  string          `json:"expression,omitempty" yaml:"expression,omitempty"`
	Prompt      string          `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	MustFollow  []string        `json:"mustFollow,omitempty" yaml:"mustFollow,omitempty"`
	Freedom     []string        `json:"freedom,omitempty" yaml:"freedom,omitempty"`
}

type BackgroundStyle struct {
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Key         string `json:"key,omitempty" yaml:"key,omitempty"`
	Color       string `json:"color,omitempty" yaml:"color,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

type BrandingStyle struct {
	LogoKey   string `json:"logoKey,omitempty" yaml:"logoKey,omitempty"`
	Position  string `json:"position,omitempty" yaml:"position,omitempty"`
	Placement string `json:"placement,omitempty" yaml:"placement,omitempty"`
}

type ClothingStyle struct {
	Style  string `json:"style,omitempty" yaml:"style,omitempty"`
	Colors string `json:"colors,omitempty" yaml:"colors,omitempty"`
	Notes  string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// HasLogo reports whether branding asks for a logo in the image.
func (s StyleSettings) HasLogo() bool { return s.Branding.LogoKey != "" }
