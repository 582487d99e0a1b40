package composer

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"

	"teamshots/internal/domain"
	"teamshots/internal/storage"
)

func solidPNG(t *testing.T, c color.Color, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func selfies(t *testing.T) map[string]domain.SelfieImage {
	return map[string]domain.SelfieImage{
		"selfies/p1/a.png": {Key: "selfies/p1/a.png", MimeType: "image/png", Data: solidPNG(t, color.NRGBA{R: 200, A: 255}, 40, 60)},
		"selfies/p1/b.png": {Key: "selfies/p1/b.png", MimeType: "image/png", Data: solidPNG(t, color.NRGBA{G: 200, A: 255}, 60, 40)},
		"selfies/p1/c.png": {Key: "selfies/p1/c.png", MimeType: "image/png", Data: solidPNG(t, color.NRGBA{B: 200, A: 255}, 50, 90)},
	}
}

func TestComposeIsDeterministic(t *testing.T) {
	c := New(Options{TileSize: 64})
	req := ComposeRequest{
		GenerationID: "gen-1",
		Selfies:      selfies(t),
		Types: map[string]domain.SelfieType{
			"selfies/p1/a.png": domain.SelfieFrontView,
			"selfies/p1/b.png": domain.SelfieSideView,
			"selfies/p1/c.png": domain.SelfieFullBody,
		},
	}

	first, err := c.Compose(context.Background(), req)
	require.NoError(t, err)
	second, err := c.Compose(context.Background(), req)
	require.NoError(t, err)

	require.NotNil(t, first.Face)
	require.NotNil(t, first.Body)
	require.Nil(t, first.Selfie)
	require.Equal(t, first.Face.Base64, second.Face.Base64)
	require.Equal(t, first.Body.Base64, second.Body.Base64)
	require.Equal(t, "FACE COMPOSITE", first.Face.Label)
}

func TestComposeFallsBackToSelfieCompositeWhenTypesSparse(t *testing.T) {
	c := New(Options{TileSize: 64})
	out, err := c.Compose(context.Background(), ComposeRequest{
		GenerationID: "gen-2",
		Selfies:      selfies(t),
		Types:        map[string]domain.SelfieType{"selfies/p1/a.png": domain.SelfieFrontView},
	})
	require.NoError(t, err)
	require.Nil(t, out.Face)
	require.Nil(t, out.Body)
	require.NotNil(t, out.Selfie)
	require.Contains(t, out.Selfie.Description, "3 labelled selfies")

	data, err := base64.StdEncoding.DecodeString(out.Selfie.Base64)
	require.NoError(t, err)
	img, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	require.Greater(t, img.Bounds().Dx(), 3*64)
}

func TestComposeUsesCache(t *testing.T) {
	cache, err := storage.NewCompositeCache(t.TempDir(), time.Minute, nil)
	require.NoError(t, err)
	c := New(Options{Cache: cache, TileSize: 64})
	req := ComposeRequest{GenerationID: "gen-3", Selfies: selfies(t)}

	first, err := c.Compose(context.Background(), req)
	require.NoError(t, err)
	_, cached, ok := cache.Get("gen-3", domain.CompositeSelfie)
	require.True(t, ok)
	require.Equal(t, first.Selfie.Base64, base64.StdEncoding.EncodeToString(cached))

	again, err := c.Compose(context.Background(), ComposeRequest{GenerationID: "gen-3", Selfies: req.Selfies})
	require.NoError(t, err)
	require.Equal(t, first.Selfie.Base64, again.Selfie.Base64)
}

func TestComposeWithoutDecodableSelfies(t *testing.T) {
	c := New(Options{})
	_, err := c.Compose(context.Background(), ComposeRequest{
		GenerationID: "gen-4",
		Selfies:      map[string]domain.SelfieImage{"x": {Key: "x", Data: []byte("nope")}},
	})
	require.ErrorIs(t, err, domain.ErrNoUsableSelfies)
}

func TestComposeBackgroundWithLogo(t *testing.T) {
	c := New(Options{TileSize: 64})
	bg := domain.SelfieImage{Key: "bg.png", MimeType: "image/png", Data: solidPNG(t, color.NRGBA{R: 10, G: 10, B: 10, A: 255}, 200, 100)}
	logo := domain.SelfieImage{Key: "logo.png", MimeType: "image/png", Data: solidPNG(t, color.NRGBA{R: 255, G: 255, A: 255}, 20, 20)}

	out, err := c.Compose(context.Background(), ComposeRequest{
		GenerationID: "gen-5",
		Selfies:      selfies(t),
		Assets:       StyleAssets{Background: &bg, Logo: &logo, LogoPosition: "bottom_right"},
	})
	require.NoError(t, err)
	require.NotNil(t, out.Background)
	require.Nil(t, out.Logo)
	require.Contains(t, out.Background.Description, "bottom right")

	data, err := base64.StdEncoding.DecodeString(out.Background.Base64)
	require.NoError(t, err)
	img, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	b := img.Bounds()
	require.Equal(t, backgroundLongEdge, b.Dx())
	margin := b.Dx() / 32
	r, g, _, _ := img.At(b.Dx()-margin-2, b.Dy()-margin-2).RGBA()
	require.Greater(t, r>>8, uint32(200))
	require.Greater(t, g>>8, uint32(200))
}

func TestComposeLogoWithoutBackground(t *testing.T) {
	c := New(Options{TileSize: 64})
	logo := domain.SelfieImage{Key: "logo.png", MimeType: "image/png", Data: solidPNG(t, color.White, 8, 8)}
	out, err := c.Compose(context.Background(), ComposeRequest{
		GenerationID: "gen-6",
		Selfies:      selfies(t),
		Assets:       StyleAssets{Logo: &logo},
	})
	require.NoError(t, err)
	require.Nil(t, out.Background)
	require.NotNil(t, out.Logo)
	require.Equal(t, "LOGO", out.Logo.Label)
}

func TestComposeKeepsLogoWhenBackgroundUnusable(t *testing.T) {
	c := New(Options{TileSize: 64})
	bg := domain.SelfieImage{Key: "bg.png", MimeType: "image/png", Data: []byte("not an image")}
	logoData := solidPNG(t, color.White, 8, 8)
	logo := domain.SelfieImage{Key: "logo.png", MimeType: "image/png", Data: logoData}

	out, err := c.Compose(context.Background(), ComposeRequest{
		GenerationID: "gen-7",
		Selfies:      selfies(t),
		Assets:       StyleAssets{Background: &bg, Logo: &logo, LogoPosition: "top_left"},
	})
	require.NoError(t, err)
	require.Nil(t, out.Background)
	require.NotNil(t, out.Logo)
	require.Equal(t, "LOGO", out.Logo.Label)
	require.Contains(t, out.Logo.Description, "top left")
	require.Equal(t, base64.StdEncoding.EncodeToString(logoData), out.Logo.Base64)
}
