// Package composer assembles selfies and style assets into the reference
// composites the image model receives.
package composer

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sort"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"teamshots/internal/domain"
	"teamshots/internal/infra"
)

const pngMIME = "image/png"

// Cache is the best-effort composite store. Misses and errors only cost a
// recomputation.
type Cache interface {
	Get(generationID string, kind domain.CompositeType) (domain.CachedComposite, []byte, bool)
	Put(generationID string, kind domain.CompositeType, mime, description string, data []byte) (domain.CachedComposite, error)
}

// StyleAssets are the optional non-selfie inputs of a generation.
type StyleAssets struct {
	Background   *domain.SelfieImage
	Logo         *domain.SelfieImage
	LogoPosition string
}

type ComposeRequest struct {
	GenerationID string
	Selfies      map[string]domain.SelfieImage
	Types        map[string]domain.SelfieType
	Assets       StyleAssets
}

type Options struct {
	Cache    Cache
	Logger   *infra.Logger
	TileSize int
}

type Composer struct {
	cache  Cache
	logger infra.Logger
	layout gridLayout
}

func New(opts Options) *Composer {
	tile := opts.TileSize
	if tile <= 0 {
		tile = defaultTileSize
	}
	return &Composer{
		cache:  opts.Cache,
		logger: infra.OrNop(opts.Logger),
		layout: newGridLayout(tile),
	}
}

type tile struct {
	key   string
	label string
	img   image.Image
}

// Compose builds the composites for one generation. Identical inputs give
// byte-identical composites.
func (c *Composer) Compose(ctx context.Context, req ComposeRequest) (domain.Composites, error) {
	var out domain.Composites
	groups, err := c.group(req)
	if err != nil {
		return out, err
	}
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		ref, err := c.cached(req.GenerationID, g.kind, g.description, func() ([]byte, error) {
			return c.layout.render(g.tiles)
		})
		if err != nil {
			return out, fmt.Errorf("compose %s: %w", g.kind, err)
		}
		switch g.kind {
		case domain.CompositeFace:
			out.Face = ref
		case domain.CompositeBody:
			out.Body = ref
		default:
			out.Selfie = ref
		}
	}

	if bg := req.Assets.Background; bg != nil {
		desc := "Background scene for the portrait"
		if req.Assets.Logo != nil {
			desc += fmt.Sprintf(", company logo placed %s", positionPhrase(req.Assets.LogoPosition))
		}
		ref, err := c.cached(req.GenerationID, domain.CompositeBackground, desc, func() ([]byte, error) {
			return renderBackground(*bg, req.Assets.Logo, req.Assets.LogoPosition)
		})
		if err != nil {
			c.logger.Warn().Err(err).Str("generation_id", req.GenerationID).Msg("background composite failed; continuing without it")
		} else {
			ref.Label = "BACKGROUND"
			out.Background = ref
		}
	}
	// Without a background composite the logo travels as its own reference.
	if logo := req.Assets.Logo; logo != nil && out.Background == nil {
		out.Logo = &domain.ReferenceImage{
			MimeType:    logo.MimeType,
			Base64:      base64.StdEncoding.EncodeToString(logo.Data),
			Label:       "LOGO",
			Description: "Company logo to place " + positionPhrase(req.Assets.LogoPosition),
		}
	}
	return out, nil
}

type group struct {
	kind        domain.CompositeType
	description string
	tiles       []tile
}

// group decodes selfies in key order and splits them by framing. Sparse type
// information collapses everything into one selfie composite.
func (c *Composer) group(req ComposeRequest) ([]group, error) {
	keys := make([]string, 0, len(req.Selfies))
	for k := range req.Selfies {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	type decoded struct {
		key  string
		kind domain.SelfieType
		img  image.Image
	}
	var all []decoded
	known := 0
	for _, key := range keys {
		img, _, err := image.Decode(bytes.NewReader(req.Selfies[key].Data))
		if err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("skipping undecodable selfie")
			continue
		}
		kind := domain.ParseSelfieType(string(req.Types[key]))
		if kind != domain.SelfieUnknown {
			known++
		}
		all = append(all, decoded{key: key, kind: kind, img: img})
	}
	if len(all) == 0 {
		return nil, domain.ErrNoUsableSelfies
	}

	var face, body []tile
	counts := map[domain.SelfieType]int{}
	for _, d := range all {
		counts[d.kind]++
		t := tile{key: d.key, label: fmt.Sprintf("%s %d", typeLabel(d.kind), counts[d.kind]), img: d.img}
		switch {
		case d.kind.IsFace():
			face = append(face, t)
		case d.kind.IsBody():
			body = append(body, t)
		}
	}

	if known*2 < len(all) || (len(face) == 0 && len(body) == 0) {
		tiles := make([]tile, len(all))
		for i, d := range all {
			tiles[i] = tile{key: d.key, label: fmt.Sprintf("SELFIE %d", i+1), img: d.img}
		}
		return []group{{
			kind:        domain.CompositeSelfie,
			description: fmt.Sprintf("%d labelled selfies of the same person; use them as the identity reference", len(tiles)),
			tiles:       tiles,
		}}, nil
	}

	var groups []group
	if len(face) > 0 {
		groups = append(groups, group{
			kind:        domain.CompositeFace,
			description: fmt.Sprintf("%d labelled face views (front and side) of the person; preserve this exact face", len(face)),
			tiles:       face,
		})
	}
	if len(body) > 0 {
		groups = append(groups, group{
			kind:        domain.CompositeBody,
			description: fmt.Sprintf("%d labelled body views of the person; use for build and proportions", len(body)),
			tiles:       body,
		})
	}
	return groups, nil
}

// cached returns the composite from the cache or renders and stores it.
func (c *Composer) cached(generationID string, kind domain.CompositeType, description string, render func() ([]byte, error)) (*domain.ReferenceImage, error) {
	if c.cache != nil && generationID != "" {
		if entry, data, ok := c.cache.Get(generationID, kind); ok {
			c.logger.Debug().Str("generation_id", generationID).Str("type", string(kind)).Msg("composite cache hit")
			return reference(kind, entry.MimeType, entry.Description, data), nil
		}
	}
	data, err := render()
	if err != nil {
		return nil, err
	}
	if c.cache != nil && generationID != "" {
		if _, err := c.cache.Put(generationID, kind, pngMIME, description, data); err != nil {
			c.logger.Debug().Err(err).Str("generation_id", generationID).Msg("composite cache write failed")
		}
	}
	return reference(kind, pngMIME, description, data), nil
}

func reference(kind domain.CompositeType, mime, description string, data []byte) *domain.ReferenceImage {
	if mime == "" {
		mime = pngMIME
	}
	return &domain.ReferenceImage{
		MimeType:    mime,
		Base64:      base64.StdEncoding.EncodeToString(data),
		Label:       compositeLabel(kind),
		Description: description,
	}
}

func compositeLabel(kind domain.CompositeType) string {
	switch kind {
	case domain.CompositeFace:
		return "FACE COMPOSITE"
	case domain.CompositeBody:
		return "BODY COMPOSITE"
	case domain.CompositeBackground:
		return "BACKGROUND"
	default:
		return "SELFIE COMPOSITE"
	}
}

func typeLabel(t domain.SelfieType) string {
	switch t {
	case domain.SelfieFrontView:
		return "FRONT VIEW"
	case domain.SelfieSideView:
		return "SIDE VIEW"
	case domain.SelfiePartialBody:
		return "PARTIAL BODY"
	case domain.SelfieFullBody:
		return "FULL BODY"
	default:
		return "SELFIE"
	}
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
