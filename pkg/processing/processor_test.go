package processing

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/menta2k/image-annotator/pkg/types"
	"github.com/stretchr/testify/require"
)

func createTestImage(width, height int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = 0
		img.Pix[i+1] = 0
		img.Pix[i+2] = 0
		img.Pix[i+3] = 255
	}
	return img
}

func TestPrepareImageForModel(t *testing.T) {
	p := NewProcessor()
	prep, err := p.PrepareImageForModel(createTestImage(2000, 1000), "jpg", 1000, 80)
	require.NoError(t, err)
	require.Equal(t, "jpeg", prep.Format)
	require.Equal(t, 1000, prep.Image.Bounds().Dx())
	require.Equal(t, 500, prep.Image.Bounds().Dy())
	require.InDelta(t, 0.5, prep.Scale, 1e-9)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(prep.Payload))
	require.NoError(t, err)
	require.Equal(t, 1000, cfg.Width)

	require.True(t, strings.HasPrefix(prep.DataURL(), "data:image/jpeg;base64,"))
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(prep.DataURL(), "data:image/jpeg;base64,"))
	require.NoError(t, err)
	require.Equal(t, prep.Payload, raw)
}

func TestPrepareImageForModelNoResize(t *testing.T) {
	p := NewProcessor()
	prep, err := p.PrepareImageForModel(createTestImage(300, 200), "png", 1000, 0)
	require.NoError(t, err)
	require.Equal(t, "png", prep.Format)
	require.Equal(t, 1.0, prep.Scale)
	require.Equal(t, "image/png", prep.MimeType())
}

func TestRenderOverlay(t *testing.T) {
	p := NewProcessor()
	src := createTestImage(100, 100)
	classes := []string{"person", "car"}
	boxes := []types.Box{
		{X: 10, Y: 10, Width: 30, Height: 30, Class: "person"},
		{X: 50, Y: 50, Width: 30, Height: 30, Class: "bike"},
	}
	opts := DefaultOverlayOptions()
	opts.Stroke = 2
	out := p.RenderOverlay(src, boxes, classes, opts)

	// border takes the class colour exactly
	require.Equal(t, color.NRGBA{0xFF, 0x57, 0x33, 255}, out.NRGBAAt(10, 20))
	require.Equal(t, UnknownColor, out.NRGBAAt(50, 60))
	// interior is blended, neither black nor full colour
	in := out.NRGBAAt(25, 25)
	require.True(t, in.R > 0 && in.R < 0xFF)
	// outside untouched
	require.Equal(t, color.NRGBA{0, 0, 0, 255}, out.NRGBAAt(5, 5))
	// source is not modified
	require.Equal(t, color.NRGBA{0, 0, 0, 255}, src.(*image.NRGBA).NRGBAAt(10, 20))

	opts.ShowFilled = false
	out = p.RenderOverlay(src, boxes, classes, opts)
	require.Equal(t, color.NRGBA{0, 0, 0, 255}, out.NRGBAAt(25, 25))
}

func TestRenderOverlaySelectedHandles(t *testing.T) {
	p := NewProcessor()
	boxes := []types.Box{{X: 20, Y: 20, Width: 50, Height: 50, Class: "car"}}
	opts := DefaultOverlayOptions()
	opts.ShowFilled = false
	opts.Selected = 0
	out := p.RenderOverlay(createTestImage(100, 100), boxes, []string{"person", "car"}, opts)
	// centre of the north-west handle square is white
	require.Equal(t, color.NRGBA{255, 255, 255, 255}, out.NRGBAAt(19, 19))
}

func TestClassColorCycles(t *testing.T) {
	classes := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"}
	require.Equal(t, Palette[0], ClassColor(classes, "i"))
	require.Equal(t, UnknownColor, ClassColor(classes, "z"))
}

func TestSaveImage(t *testing.T) {
	p := NewProcessor()
	dir := t.TempDir()
	img := createTestImage(16, 8)
	for _, f := range []string{"jpg", "png", "webp"} {
		path := filepath.Join(dir, "out."+f)
		require.NoError(t, p.SaveImage(img, path, f, 80, false))
		if f != "webp" {
			back, err := imaging.Open(path)
			require.NoError(t, err)
			require.Equal(t, 16, back.Bounds().Dx())
		}
	}
	var buf bytes.Buffer
	require.Error(t, p.EncodeImage(&buf, img, "bmp", 80, false))
}
