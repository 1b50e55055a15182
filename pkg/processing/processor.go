// Package processing prepares images for detection models and renders annotation overlays
package processing

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/menta2k/image-annotator/pkg/codec"
	"github.com/menta2k/image-annotator/pkg/geometry"
	"github.com/menta2k/image-annotator/pkg/types"
)

// Palette is the per-class colour cycle, indexed by class list position
var Palette = []color.NRGBA{
	{0xFF, 0x57, 0x33, 255},
	{0x33, 0xFF, 0x57, 255},
	{0x33, 0x57, 0xFF, 255},
	{0xFF, 0x33, 0xA1, 255},
	{0xA1, 0x33, 0xFF, 255},
	{0x33, 0xFF, 0xA1, 255},
	{0xFF, 0xC3, 0x00, 255},
	{0xC7, 0x00, 0x39, 255},
}

// UnknownColor is used for boxes whose class is not in the class list
var UnknownColor = color.NRGBA{0x99, 0x99, 0x99, 255}

// Processor handles image processing operations
type Processor struct{}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{}
}

// Prepared is an image encoded for a detection model
type Prepared struct {
	Image   image.Image // the possibly downscaled image that was encoded
	Payload []byte      // encoded bytes
	Format  string      // "jpeg" or "png"
	Scale   float64     // Image width divided by the original width
}

// MimeType returns the content type of Payload
func (p *Prepared) MimeType() string {
	return "image/" + p.Format
}

// DataURL returns Payload as a base64 data URL
func (p *Prepared) DataURL() string {
	return "data:" + p.MimeType() + ";base64," + base64.StdEncoding.EncodeToString(p.Payload)
}

// PrepareImageForModel downscales img so that neither side exceeds maxDim (0 for no limit),
// and encodes it as JPEG or PNG
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (*Prepared, error) {
	origW := img.Bounds().Dx()
	if origW <= 0 || img.Bounds().Dy() <= 0 {
		return nil, codec.ErrInvalidDimensions
	}
	if maxDim > 0 {
		w, h := img.Bounds().Dx(), img.Bounds().Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}
	if quality <= 0 {
		quality = 90
	}

	out := &Prepared{
		Image: img,
		Scale: float64(img.Bounds().Dx()) / float64(origW),
	}
	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestSpeed}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, err
		}
		out.Format = "png"
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, err
		}
		out.Format = "jpeg"
	}
	out.Payload = buf.Bytes()
	return out, nil
}

// OverlayOptions controls RenderOverlay
type OverlayOptions struct {
	Selected   int   // index of the selected box, -1 for none
	ShowFilled bool  // fill boxes with a translucent mask
	FillAlpha  uint8 // mask opacity
	Stroke     int   // border width in pixels, 0 for automatic
	Handles    geometry.Params
}

// DefaultOverlayOptions returns the standard overlay style
func DefaultOverlayOptions() OverlayOptions {
	return OverlayOptions{
		Selected:   -1,
		ShowFilled: true,
		FillAlpha:  77,
		Handles:    geometry.DefaultParams(),
	}
}

// ClassColor returns the palette colour of class
func ClassColor(classes []string, class string) color.NRGBA {
	i := codec.IndexOf(classes, class)
	if i < 0 {
		return UnknownColor
	}
	return Palette[i%len(Palette)]
}

// RenderOverlay draws boxes onto a copy of img. Later boxes are drawn over earlier ones,
// matching hit-test order. The selected box gets a thicker border and its resize handles.
func (p *Processor) RenderOverlay(img image.Image, boxes []types.Box, classes []string, opts OverlayOptions) *image.NRGBA {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()

	stroke := opts.Stroke
	if stroke <= 0 {
		stroke = int(math.Max(2, 0.003*float64(min(w, h)))) // ~0.3% of min side
	}

	for i, b := range boxes {
		c := ClassColor(classes, b.Class)
		x0, y0, x1, y1 := boxToPixels(b, w, h)
		if opts.ShowFilled {
			fillRect(nrgba, x0, y0, x1, y1, c, opts.FillAlpha)
		}
		s := stroke
		if i == opts.Selected {
			s = stroke * 2
		}
		drawRect(nrgba, x0, y0, x1, y1, c, s)
	}

	if opts.Selected >= 0 && opts.Selected < len(boxes) {
		white := color.NRGBA{255, 255, 255, 255}
		for _, hd := range geometry.HitOrder {
			r := opts.Handles.HandleRect(boxes[opts.Selected], hd)
			x0, y0, x1, y1 := boxToPixels(r, w, h)
			fillRect(nrgba, x0, y0, x1, y1, white, 255)
			drawRect(nrgba, x0, y0, x1, y1, ClassColor(classes, boxes[opts.Selected].Class), 1)
		}
	}
	return nrgba
}

// EncodeImage writes img to w in the given format ("jpg", "png" or "webp")
func (p *Processor) EncodeImage(w io.Writer, img image.Image, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		return webp.Encode(w, img, &webp.Options{Lossless: lossless, Quality: float32(quality)})
	case "png":
		return png.Encode(w, img)
	case "jpg", "jpeg", "":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	}
	return fmt.Errorf("unsupported output format %q", format)
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := p.EncodeImage(f, img, format, quality, lossless); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	case "png":
		return imaging.Save(img, path)
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

// boxToPixels converts a pixel box to integer corners clipped to the image.
// The result is always at least one pixel wide and high.
func boxToPixels(b types.Box, w, h int) (int, int, int, int) {
	x0 := int(geometry.Clamp(b.X, 0, float64(w)) + 0.5)
	y0 := int(geometry.Clamp(b.Y, 0, float64(h)) + 0.5)
	x1 := int(geometry.Clamp(b.Right(), 0, float64(w)) + 0.5)
	y1 := int(geometry.Clamp(b.Bottom(), 0, float64(h)) + 0.5)
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	return x0, y0, x1, y1
}

func drawRect(img *image.NRGBA, x0, y0, x1, y1 int, c color.NRGBA, stroke int) {
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, c)
		drawHLine(img, y1-1-s, x0, x1, c)
		drawVLine(img, x0+s, y0, y1, c)
		drawVLine(img, x1-1-s, y0, y1, c)
	}
}

// fillRect alpha-blends c over the rectangle
func fillRect(img *image.NRGBA, x0, y0, x1, y1 int, c color.NRGBA, alpha uint8) {
	b := img.Bounds()
	x0, x1 = max(x0, 0), min(x1, b.Dx())
	y0, y1 = max(y0, 0), min(y1, b.Dy())
	a := uint32(alpha)
	for y := y0; y < y1; y++ {
		i := y*img.Stride + x0*4
		for x := x0; x < x1; x++ {
			img.Pix[i+0] = uint8((uint32(c.R)*a + uint32(img.Pix[i+0])*(255-a)) / 255)
			img.Pix[i+1] = uint8((uint32(c.G)*a + uint32(img.Pix[i+1])*(255-a)) / 255)
			img.Pix[i+2] = uint8((uint32(c.B)*a + uint32(img.Pix[i+2])*(255-a)) / 255)
			i += 4
		}
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	x0 = max(x0, 0)
	x1 = min(x1, img.Bounds().Dx())
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	y0 = max(y0, 0)
	y1 = min(y1, img.Bounds().Dy())
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
