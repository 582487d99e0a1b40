package image

import (
	"bytes"
	"context"
	"testing"

	"github.com/disintegration/imaging"
)

func TestSyntheticGeneratorIsDeterministic(t *testing.T) {
	gen := NewSyntheticGenerator()
	payload := samplePayload()
	payload.References = nil
	payload.Composites.Face = nil

	a, err := gen.GenerateImage(context.Background(), payload)
	if err != nil {
		t.Fatalf("first generate: %v", err)
	}
	b, err := gen.GenerateImage(context.Background(), payload)
	if err != nil {
		t.Fatalf("second generate: %v", err)
	}
	if !bytes.Equal(a.First(), b.First()) {
		t.Fatalf("synthetic output differs between identical payloads")
	}
	img, err := imaging.Decode(bytes.NewReader(a.First()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := img.Bounds().Dx()*5 - img.Bounds().Dy()*4; got > 5 || got < -5 {
		t.Fatalf("dimensions %dx%d do not match 4:5", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestAspectDimensions(t *testing.T) {
	cases := map[string][2]int{
		"1:1":   {1024, 1024},
		"16:9":  {1024, 576},
		"9:16":  {576, 1024},
		"bogus": {1024, 1024},
	}
	for ratio, want := range cases {
		w, h := AspectDimensions(ratio, 1024)
		if w != want[0] || h != want[1] {
			t.Fatalf("%s: got %dx%d want %dx%d", ratio, w, h, want[0], want[1])
		}
	}
}
