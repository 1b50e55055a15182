// Package imagesource decodes image files and reports their pixel dimensions
package imagesource

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/menta2k/image-annotator/pkg/codec"
	_ "golang.org/x/image/webp"
)

// Extensions are the image file types a project accepts, lower case with the dot
var Extensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

// IsImageFile returns true if path has one of the accepted image extensions
func IsImageFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Load decodes an image file, with an explicit WebP fallback
func Load(path string) (image.Image, error) {
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.HasSuffix(strings.ToLower(path), ".webp") {
		if img, err := webp.Decode(f); err == nil {
			return img, nil
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
	}
	if img, _, err := image.Decode(f); err == nil {
		return img, nil
	}
	return nil, fmt.Errorf("image: unknown format for %s", path)
}

// Decode decodes image bytes of any supported format
func Decode(data []byte) (image.Image, error) {
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, fmt.Errorf("image: unknown or unsupported format")
}

// Dimensions returns the pixel size of an image file. Only the header is decoded when
// the format allows it. A zero dimension is an error.
func Dimensions(path string) (width, height int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	cfg, _, cfgErr := image.DecodeConfig(f)
	f.Close()
	if cfgErr == nil {
		width, height = cfg.Width, cfg.Height
	} else {
		img, err := Load(path)
		if err != nil {
			return 0, 0, err
		}
		width, height = img.Bounds().Dx(), img.Bounds().Dy()
	}
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("%v is %vx%v: %w", path, width, height, codec.ErrInvalidDimensions)
	}
	return width, height, nil
}

// Read returns the raw bytes of an image file
func Read(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Fetch downloads an image over http(s), and returns its bytes and a file extension
// derived from the content type
func Fetch(ctx context.Context, imageURL string) ([]byte, string, error) {
	parsed, err := url.Parse(imageURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, "", fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsed.Scheme)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	req, err := http.NewRequestWithContext(ctx, "GET", imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Image-Annotator/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image data: %w", err)
	}
	return data, extensionFor(contentType, parsed.Path), nil
}

func extensionFor(contentType, urlPath string) string {
	switch strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	}
	if IsImageFile(urlPath) {
		return strings.ToLower(filepath.Ext(urlPath))
	}
	return ".jpg"
}
