package domain

// SelfieType is the classifier's view of how a selfie is framed.
type SelfieType string

const (
	SelfieFrontView   SelfieType = "front_view"
	SelfieSideView    SelfieType = "side_view"
	SelfiePartialBody SelfieType = "partial_body"
	SelfieFullBody    SelfieType = "full_body"
	SelfieUnknown     SelfieType = "unknown"
)

// ParseSelfieType maps free text onto a known type, defaulting to unknown.
func ParseSelfieType(v string) SelfieType {
	switch SelfieType(v) {
	case SelfieFrontView, SelfieSideView, SelfiePartialBody, SelfieFullBody:
		return SelfieType(v)
	default:
		return SelfieUnknown
	}
}

// IsFace reports whether the type feeds the face composite.
func (t SelfieType) IsFace() bool { return t == SelfieFrontView || t == SelfieSideView }

// IsBody reports whether the type feeds the body composite.
func (t SelfieType) IsBody() bool { return t == SelfiePartialBody || t == SelfieFullBody }

// QualityRating grades lighting and background.
type QualityRating string

const (
	QualityGood       QualityRating = "good"
	QualityAcceptable QualityRating = "acceptable"
	QualityPoor       QualityRating = "poor"
)

// Selfie is the persisted upload record.
type Selfie struct {
	Key             string
	ProcessedKey    string
	Classification  *Classification
	ValidationFlags map[string]bool
}

// EffectiveKey prefers the background-removed variant.
func (s Selfie) EffectiveKey() string {
	if s.ProcessedKey != "" {
		return s.ProcessedKey
	}
	return s.Key
}

// Classification is the stored classifier output.
type Classification struct {
	Type         TypeScore    `json:"type"`
	Proper       Suitability  `json:"proper"`
	Lighting     QualityScore `json:"lighting"`
	Background   QualityScore `json:"background"`
	Demographics Demographics `json:"demographics"`
}

type TypeScore struct {
	Value      SelfieType `json:"value"`
	Confidence float64    `json:"confidence"`
}

type Suitability struct {
	IsProper       bool   `json:"isProper"`
	ImproperReason string `json:"improperReason,omitempty"`
}

type QualityScore struct {
	Rating QualityRating `json:"rating"`
}

// Demographics holds only the attributes the classifier actually resolved.
type Demographics struct {
	Gender      *DemographicValue `json:"gender,omitempty"`
	AgeCategory *DemographicValue `json:"ageCategory,omitempty"`
	Ethnicity   *DemographicValue `json:"ethnicity,omitempty"`
}

type DemographicValue struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// UnknownClassification is what callers fall back to when scoring fails.
func UnknownClassification() Classification {
	return Classification{
		Type:       TypeScore{Value: SelfieUnknown},
		Proper:     Suitability{IsProper: true},
		Lighting:   QualityScore{Rating: QualityAcceptable},
		Background: QualityScore{Rating: QualityAcceptable},
	}
}
