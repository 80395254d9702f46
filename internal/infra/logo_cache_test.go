package infra

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"offramp_go/internal/domain"
)

func TestLogoCache_FetchAndLoad(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 200, 100))
	for x := 0; x < 200; x++ {
		for y := 0; y < 100; y++ {
			src.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatal(err)
	}

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(buf.Bytes())
	}))
	defer server.Close()

	cache, err := NewLogoCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	bank := domain.Bank{Code: "058", LogoURL: server.URL + "/gtb.png"}

	for i := 0; i < 2; i++ {
		if _, err := cache.Fetch(context.Background(), bank); err != nil {
			t.Fatalf("Fetch #%d failed: %v", i, err)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("Expected one download (cache hit on second call), got %d", hits.Load())
	}

	img := cache.Load("058")
	if img == nil {
		t.Fatal("expected cached logo")
	}
	if b := img.Bounds(); b.Dx() != LogoSize || b.Dy() != LogoSize/2 {
		t.Errorf("Expected aspect-preserving fit to %dx%d, got %dx%d", LogoSize, LogoSize/2, b.Dx(), b.Dy())
	}
	if cache.Load("044") != nil {
		t.Error("uncached bank should return nil")
	}
}

func TestLogoCache_PathRejectsTraversal(t *testing.T) {
	cache, err := NewLogoCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Path("../../etc"); err == nil {
		t.Error("expected error for non-numeric code")
	}
}
