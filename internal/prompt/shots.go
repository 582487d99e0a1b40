package prompt

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedAspect is returned for an explicit aspect ratio the
// generator and evaluator cannot agree on.
var ErrUnsupportedAspect = errors.New("unsupported aspect ratio")

// ShotSpec describes one framing option.
type ShotSpec struct {
	Name        string
	Framing     string
	AspectRatio string
}

const defaultShot = "headshot"

var shotTypes = map[string]ShotSpec{
	"headshot":        {Name: "headshot", Framing: "head and top of shoulders, face filling most of the frame", AspectRatio: "1:1"},
	"medium-close-up": {Name: "medium close-up", Framing: "from mid-chest up", AspectRatio: "4:5"},
	"medium-shot":     {Name: "medium shot", Framing: "from the waist up", AspectRatio: "3:4"},
	"three-quarter":   {Name: "three-quarter shot", Framing: "from mid-thigh up", AspectRatio: "2:3"},
	"full-body":       {Name: "full-body shot", Framing: "entire body from head to feet with a little floor visible", AspectRatio: "9:16"},
}

var aspectDescriptions = map[string]string{
	"1:1":  "square format, width equals height",
	"4:5":  "vertical portrait format, slightly taller than wide",
	"3:4":  "vertical portrait format, taller than wide",
	"2:3":  "tall vertical portrait format",
	"9:16": "tall vertical format, like a phone screen",
	"16:9": "wide horizontal landscape format",
	"3:2":  "horizontal landscape format",
	"4:3":  "horizontal format, slightly wider than tall",
}

// ResolveShot maps a shot type to its spec, defaulting to a headshot.
func ResolveShot(shotType string) ShotSpec {
	key := strings.NewReplacer("_", "-", " ", "-").Replace(strings.ToLower(strings.TrimSpace(shotType)))
	if spec, ok := shotTypes[key]; ok {
		return spec
	}
	return shotTypes[defaultShot]
}

// ResolveAspect returns the ratio and its description. An explicit ratio
// wins over the shot default.
func ResolveAspect(explicit string, shot ShotSpec) (string, string, error) {
	ratio := strings.ReplaceAll(strings.TrimSpace(explicit), " ", "")
	if ratio == "" {
		ratio = shot.AspectRatio
	}
	desc, ok := aspectDescriptions[ratio]
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedAspect, explicit)
	}
	return ratio, desc, nil
}

// AspectDescription returns the human description of a supported ratio.
func AspectDescription(ratio string) string {
	return aspectDescriptions[ratio]
}
