package image

import "strings"

// Price holds list prices in USD.
type Price struct {
	InputPerMillion  float64
	OutputPerMillion float64
	PerImage         float64
}

var pricing = map[string]Price{
	"gemini-2.5-flash-image":         {InputPerMillion: 0.30, OutputPerMillion: 30},
	"gemini-2.5-flash-image-preview": {InputPerMillion: 0.30, OutputPerMillion: 30},
	"gemini-2.5-flash":               {InputPerMillion: 0.30, OutputPerMillion: 2.50},
	"gemini-2.5-pro":                 {InputPerMillion: 1.25, OutputPerMillion: 10},
	"qwen-image-edit":                {PerImage: 0.045},
	"qwen-image-edit-plus":           {PerImage: 0.03},
}

// EstimateCost prices a call. Unknown models cost zero.
func EstimateCost(model string, inputTokens, outputTokens, images int) float64 {
	p, ok := pricing[strings.ToLower(strings.TrimSpace(model))]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1e6*p.InputPerMillion +
		float64(outputTokens)/1e6*p.OutputPerMillion +
		float64(images)*p.PerImage
}
