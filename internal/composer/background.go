package composer

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"

	"teamshots/internal/domain"
)

const backgroundLongEdge = 1024

// renderBackground scales the background and overlays the logo at the
// requested corner.
func renderBackground(bg domain.SelfieImage, logo *domain.SelfieImage, position string) ([]byte, error) {
	base, _, err := image.Decode(bytes.NewReader(bg.Data))
	if err != nil {
		return nil, fmt.Errorf("decode background: %w", err)
	}
	var canvas *image.NRGBA
	if b := base.Bounds(); b.Dx() >= b.Dy() {
		canvas = imaging.Resize(base, backgroundLongEdge, 0, imaging.Lanczos)
	} else {
		canvas = imaging.Resize(base, 0, backgroundLongEdge, imaging.Lanczos)
	}
	if logo != nil {
		mark, _, err := image.Decode(bytes.NewReader(logo.Data))
		if err != nil {
			return nil, fmt.Errorf("decode logo: %w", err)
		}
		b := canvas.Bounds()
		mark = imaging.Fit(mark, b.Dx()/5, b.Dy()/5, imaging.Lanczos)
		canvas = imaging.Overlay(canvas, mark, logoOffset(b, mark.Bounds(), position), 1.0)
	}
	return encodePNG(canvas)
}

func logoOffset(canvas, mark image.Rectangle, position string) image.Point {
	margin := canvas.Dx() / 32
	left := margin
	right := canvas.Dx() - mark.Dx() - margin
	top := margin
	bottom := canvas.Dy() - mark.Dy() - margin
	switch normalizePosition(position) {
	case "top-right":
		return image.Pt(right, top)
	case "bottom-left":
		return image.Pt(left, bottom)
	case "bottom-right":
		return image.Pt(right, bottom)
	case "center":
		return image.Pt((canvas.Dx()-mark.Dx())/2, (canvas.Dy()-mark.Dy())/2)
	default:
		return image.Pt(left, top)
	}
}

func normalizePosition(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	p = strings.NewReplacer("_", "-", " ", "-").Replace(p)
	switch p {
	case "top-right", "bottom-left", "bottom-right", "center":
		return p
	default:
		return "top-left"
	}
}

func positionPhrase(p string) string {
	return "at the " + strings.ReplaceAll(normalizePosition(p), "-", " ")
}
