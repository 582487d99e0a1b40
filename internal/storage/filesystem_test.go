package storage

import (
	"context"
	"errors"
	"testing"

	"teamshots/internal/domain"
)

func TestSanitizeKey(t *testing.T) {
	cases := map[string]string{
		"selfies/p1/a.jpg":    "selfies/p1/a.jpg",
		"/selfies/p1/a.jpg":   "selfies/p1/a.jpg",
		"./selfies//p1/a.jpg": "selfies/p1/a.jpg",
		`selfies\p1\a.jpg`:    "selfies/p1/a.jpg",
		"selfies/p1/../a.jpg": "selfies/a.jpg",
	}
	for in, want := range cases {
		got, err := sanitizeKey(in)
		if err != nil {
			t.Fatalf("sanitizeKey(%q) error: %v", in, err)
		}
		if got != want {
			t.Fatalf("sanitizeKey(%q) = %q, want %q", in, got, want)
		}
	}
	for _, bad := range []string{"", " ", "..", "../etc/passwd", "a/../../b"} {
		if _, err := sanitizeKey(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestUploadAndDownload(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	ctx := context.Background()
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}
	key, err := store.Upload(ctx, "generations/p1/g1/final", "image/png", png)
	if err != nil {
		t.Fatalf("Upload error: %v", err)
	}
	if key != "generations/p1/g1/final.png" {
		t.Fatalf("key mismatch: got %q", key)
	}
	img, err := store.DownloadSelfie(ctx, key)
	if err != nil {
		t.Fatalf("DownloadSelfie error: %v", err)
	}
	if img.MimeType != "image/png" || len(img.Data) != len(png) {
		t.Fatalf("unexpected selfie %q len=%d", img.MimeType, len(img.Data))
	}
}

func TestDownloadAssetMissingIsNil(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	asset, err := store.DownloadAsset(context.Background(), "logos/none.png")
	if err != nil {
		t.Fatalf("DownloadAsset error: %v", err)
	}
	if asset != nil {
		t.Fatalf("expected nil asset, got %#v", asset)
	}
	if _, err := store.DownloadSelfie(context.Background(), "selfies/none.jpg"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
