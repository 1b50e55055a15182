package imagesource

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/menta2k/image-annotator/pkg/codec"
	"github.com/stretchr/testify/require"
)

func createTestImage(width, height int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{uint8(x % 256), uint8(y % 256), 128, 255})
		}
	}
	return img
}

func TestDimensions(t *testing.T) {
	dir := t.TempDir()
	jpg := filepath.Join(dir, "a.jpg")
	require.NoError(t, imaging.Save(createTestImage(120, 80), jpg))
	w, h, err := Dimensions(jpg)
	require.NoError(t, err)
	require.Equal(t, 120, w)
	require.Equal(t, 80, h)

	wp := filepath.Join(dir, "b.webp")
	f, err := os.Create(wp)
	require.NoError(t, err)
	require.NoError(t, webp.Encode(f, createTestImage(64, 32), &webp.Options{Lossless: true}))
	require.NoError(t, f.Close())
	w, h, err = Dimensions(wp)
	require.NoError(t, err)
	require.Equal(t, 64, w)
	require.Equal(t, 32, h)

	img, err := Load(wp)
	require.NoError(t, err)
	require.Equal(t, 64, img.Bounds().Dx())
}

func TestDimensionsErrors(t *testing.T) {
	dir := t.TempDir()
	_, _, err := Dimensions(filepath.Join(dir, "missing.png"))
	require.Error(t, err)

	bad := filepath.Join(dir, "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("not an image"), 0644))
	_, _, err = Dimensions(bad)
	require.Error(t, err)
	require.NotErrorIs(t, err, codec.ErrInvalidDimensions)
}

func TestDecode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, createTestImage(10, 20)))
	img, err := Decode(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 10, 20), img.Bounds())

	_, err = Decode([]byte("garbage"))
	require.Error(t, err)
}

func TestIsImageFile(t *testing.T) {
	require.True(t, IsImageFile("a.JPEG"))
	require.True(t, IsImageFile("/x/y.webp"))
	require.False(t, IsImageFile("a.txt"))
	require.False(t, IsImageFile("jpg"))
}

func TestFetch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, createTestImage(4, 4)))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/text" {
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte("hello"))
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	data, ext, err := Fetch(context.Background(), srv.URL+"/pic")
	require.NoError(t, err)
	require.Equal(t, ".png", ext)
	require.Equal(t, buf.Bytes(), data)

	_, _, err = Fetch(context.Background(), srv.URL+"/text")
	require.Error(t, err)

	_, _, err = Fetch(context.Background(), "ftp://example.com/a.png")
	require.Error(t, err)
}
