package domain

// CompositeType names a reference composite.
type CompositeType string

const (
	CompositeFace       CompositeType = "face"
	CompositeBody       CompositeType = "body"
	CompositeSelfie     CompositeType = "selfie"
	CompositeBackground CompositeType = "background"
)

// ReferenceImage is an immutable model input. It is always passed by value.
type ReferenceImage struct {
	MimeType    string `json:"mimeType"`
	Base64      string `json:"base64"`
	Label       string `json:"label,omitempty"`
	Description string `json:"description,omitempty"`
}

// Composites are the composer's output. Absent composites are nil.
type Composites struct {
	Face       *ReferenceImage
	Body       *ReferenceImage
	Selfie     *ReferenceImage
	Background *ReferenceImage
	Logo       *ReferenceImage
}

// Identity returns the identity references in a fixed order.
func (c Composites) Identity() []ReferenceImage {
	var out []ReferenceImage
	for _, ref := range []*ReferenceImage{c.Face, c.Body, c.Selfie} {
		if ref != nil {
			out = append(out, *ref)
		}
	}
	return out
}

// All returns every composite, identity references first.
func (c Composites) All() []ReferenceImage {
	out := c.Identity()
	for _, ref := range []*ReferenceImage{c.Background, c.Logo} {
		if ref != nil {
			out = append(out, *ref)
		}
	}
	return out
}

// GenerationPayload is what the image provider receives for one attempt.
type GenerationPayload struct {
	Prompt            string
	MustFollow        []string
	Freedom           []string
	References        []ReferenceImage
	AspectRatio       string
	AspectDescription string
	Composites        Composites
}

// CachedComposite describes a staged composite on local disk.
type CachedComposite struct {
	GenerationID string        `json:"generationId"`
	Type         CompositeType `json:"type"`
	Path         string        `json:"path"`
	MimeType     string        `json:"mimeType"`
	Description  string        `json:"description,omitempty"`
}
