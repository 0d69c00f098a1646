package segmentation

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPClientSegment(t *testing.T) {
	matte := buildMattePNG(t, 4, 4, 2)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file part: %v", err)
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(matte)
	}))
	defer srv.Close()

	client, err := NewHTTPClient(Config{Endpoint: srv.URL, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	got, err := client.Segment(context.Background(), []byte("garment-bytes"))
	if err != nil {
		t.Fatalf("segment: %v", err)
	}
	if !bytes.Equal(got, matte) {
		t.Fatal("expected matte bytes to pass through untouched")
	}
}

func TestHTTPClientSegmentErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := NewHTTPClient(Config{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if _, err := client.Segment(context.Background(), []byte("x")); !errors.Is(err, ErrSegmentation) {
		t.Fatalf("expected ErrSegmentation, got %v", err)
	}
}

func TestMaskFromMatte(t *testing.T) {
	matte := buildMattePNG(t, 4, 4, 2)

	mask, err := MaskFromMatte(matte, 4, 4)
	if err != nil {
		t.Fatalf("mask from matte: %v", err)
	}
	if mask.ForegroundCount() != 8 {
		t.Fatalf("expected 8 foreground pixels, got %d", mask.ForegroundCount())
	}
	if !mask.Foreground(0, 0) || mask.Foreground(2, 0) {
		t.Fatal("foreground split does not match matte alpha")
	}
}

func TestMaskFromMatteDimensionMismatch(t *testing.T) {
	matte := buildMattePNG(t, 4, 4, 2)

	if _, err := MaskFromMatte(matte, 5, 4); !errors.Is(err, ErrSegmentation) {
		t.Fatalf("expected ErrSegmentation for size mismatch, got %v", err)
	}
}

func TestMaskFromMatteMissingAlpha(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4)), nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}

	if _, err := MaskFromMatte(buf.Bytes(), 4, 4); !errors.Is(err, ErrSegmentation) {
		t.Fatalf("expected ErrSegmentation for opaque matte format, got %v", err)
	}
}

// buildMattePNG makes a w*h NRGBA PNG where columns left of split are opaque
// foreground and the rest fully transparent.
func buildMattePNG(t *testing.T, w, h, split int) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := uint8(0)
			if x < split {
				a = 255
			}
			img.SetNRGBA(x, y, color.NRGBA{R: 10, G: 20, B: 30, A: a})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode matte: %v", err)
	}
	return buf.Bytes()
}
