package composer

import (
	"image"
	"image/color"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/gobold"
)

const (
	defaultTileSize = 512
	maxColumns      = 3
	labelFontSize   = 22
)

var (
	labelFontOnce sync.Once
	labelFont     *truetype.Font
)

func loadLabelFont() *truetype.Font {
	labelFontOnce.Do(func() {
		f, err := freetype.ParseFont(gobold.TTF)
		if err == nil {
			labelFont = f
		}
	})
	return labelFont
}

// gridLayout places tiles on a white canvas with a caption under each.
type gridLayout struct {
	tile    int
	padding int
	caption int
}

func newGridLayout(tile int) gridLayout {
	return gridLayout{tile: tile, padding: tile / 16, caption: labelFontSize * 2}
}

func (l gridLayout) render(tiles []tile) ([]byte, error) {
	cols := len(tiles)
	if cols > maxColumns {
		cols = maxColumns
	}
	rows := (len(tiles) + cols - 1) / cols
	cellW := l.tile + l.padding
	cellH := l.tile + l.caption + l.padding
	canvas := imaging.New(cols*cellW+l.padding, rows*cellH+l.padding, color.White)

	for i, t := range tiles {
		x := l.padding + (i%cols)*cellW
		y := l.padding + (i/cols)*cellH
		fitted := imaging.Fit(t.img, l.tile, l.tile, imaging.Lanczos)
		b := fitted.Bounds()
		offset := image.Pt(x+(l.tile-b.Dx())/2, y+(l.tile-b.Dy())/2)
		canvas = imaging.Paste(canvas, fitted, offset)
		drawCaption(canvas, t.label, x, y+l.tile+labelFontSize+l.caption/4)
	}
	return encodePNG(canvas)
}

// drawCaption writes label with its baseline at (x, y). Without a font the
// composite is still usable, so failures are ignored.
func drawCaption(dst *image.NRGBA, label string, x, y int) {
	f := loadLabelFont()
	if f == nil || label == "" {
		return
	}
	ctx := freetype.NewContext()
	ctx.SetDPI(72)
	ctx.SetFont(f)
	ctx.SetFontSize(labelFontSize)
	ctx.SetClip(dst.Bounds())
	ctx.SetDst(dst)
	ctx.SetSrc(image.NewUniform(color.Black))
	_, _ = ctx.DrawString(label, freetype.Pt(x, y))
}
