// Package saliency proposes boxes around visually salient regions, without any hosted model.
// The proposals are a starting point for manual annotation, not real detections.
package saliency

import (
	"context"
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/menta2k/image-annotator/pkg/processing"
	"github.com/menta2k/image-annotator/pkg/types"
)

// analysisSize is the longest side the saliency map is computed at
const analysisSize = 320

// Detector finds salient regions with an edge/brightness saliency map and sliding windows
type Detector struct {
	config DetectionConfig
}

// DetectionConfig holds configuration for subject detection
type DetectionConfig struct {
	EdgeThreshold   float64 // minimum mean saliency of a window
	ContrastWeight  float64
	ColorWeight     float64
	MinSubjectRatio float64 // minimum window area, as a fraction of the image area
	MaxRegions      int
	IoUThreshold    float64 // windows overlapping a better one by more than this are suppressed
	Class           string  // class name given to every proposal
}

// DefaultConfig returns the standard configuration
func DefaultConfig() DetectionConfig {
	return DetectionConfig{
		EdgeThreshold:   0.01,
		ContrastWeight:  0.7,
		ColorWeight:     0.3,
		MinSubjectRatio: 0.01,
		MaxRegions:      10,
		IoUThreshold:    0.3,
	}
}

// New creates a new Detector with default configuration
func New() *Detector {
	return &Detector{config: DefaultConfig()}
}

// NewWithConfig creates a new Detector with custom configuration
func NewWithConfig(config DetectionConfig) *Detector {
	if config.MaxRegions <= 0 {
		config.MaxRegions = 10
	}
	if config.IoUThreshold <= 0 {
		config.IoUThreshold = 0.3
	}
	return &Detector{config: config}
}

// Region represents a rectangular region of interest
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
	Score  float64
}

// Center returns the center point of the region
func (r Region) Center() (int, int) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Area returns the area of the region
func (r Region) Area() int {
	return r.Width * r.Height
}

// IoU returns the intersection over union of two regions
func (r Region) IoU(o Region) float64 {
	x0 := max(r.X, o.X)
	y0 := max(r.Y, o.Y)
	x1 := min(r.X+r.Width, o.X+o.Width)
	y1 := min(r.Y+r.Height, o.Y+o.Height)
	if x1 <= x0 || y1 <= y0 {
		return 0
	}
	inter := float64((x1 - x0) * (y1 - y0))
	return inter / (float64(r.Area()+o.Area()) - inter)
}

// Predict implements client.Predictor
func (d *Detector) Predict(ctx context.Context, img *processing.Prepared) ([]types.Prediction, error) {
	regions, err := d.DetectSubjects(img.Image)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	best := 0.0
	for _, r := range regions {
		best = math.Max(best, r.Score)
	}
	preds := make([]types.Prediction, 0, len(regions))
	for _, r := range regions {
		preds = append(preds, types.Prediction{
			ClassName:  d.config.Class,
			Confidence: r.Score / best,
			BBox: types.Corners{
				X1: float64(r.X),
				Y1: float64(r.Y),
				X2: float64(r.X + r.Width),
				Y2: float64(r.Y + r.Height),
			},
		})
	}
	return preds, nil
}

// DetectSubjects analyzes an image and returns regions of interest, best first,
// in the pixel space of img
func (d *Detector) DetectSubjects(img image.Image) ([]Region, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return []Region{}, nil
	}

	small := imaging.Clone(img)
	scale := 1.0
	if max(width, height) > analysisSize {
		if width >= height {
			small = imaging.Resize(img, analysisSize, 0, imaging.Box)
		} else {
			small = imaging.Resize(img, 0, analysisSize, imaging.Box)
		}
		scale = float64(width) / float64(small.Bounds().Dx())
	}

	integral := d.integralSaliency(small)
	regions := d.findImportantRegions(integral, small.Bounds().Dx(), small.Bounds().Dy())
	regions = d.suppress(regions)

	for i := range regions {
		r := &regions[i]
		r.X = int(float64(r.X) * scale)
		r.Y = int(float64(r.Y) * scale)
		r.Width = min(int(float64(r.Width)*scale), width-r.X)
		r.Height = min(int(float64(r.Height)*scale), height-r.Y)
	}
	return regions, nil
}

// integralSaliency computes the saliency map and returns its summed-area table,
// which has one extra row and column of zeros
func (d *Detector) integralSaliency(img *image.NRGBA) [][]float64 {
	width, height := img.Bounds().Dx(), img.Bounds().Dy()
	sat := make([][]float64, height+1)
	for i := range sat {
		sat[i] = make([]float64, width+1)
	}

	neighbors := [][2]int{{-1, -1}, {-1, 0}, {-1, 1}, {0, -1}, {0, 1}, {1, -1}, {1, 0}, {1, 1}}
	for y := 0; y < height; y++ {
		rowSum := 0.0
		for x := 0; x < width; x++ {
			saliency := 0.0
			if x > 0 && y > 0 && x < width-1 && y < height-1 {
				r1, g1, b1 := rgb(img, x, y)

				// Colour distance to the 8 neighbours
				var edgeStrength float64
				for _, off := range neighbors {
					r2, g2, b2 := rgb(img, x+off[0], y+off[1])
					dr, dg, db := r1-r2, g1-g2, b1-b2
					edgeStrength += math.Sqrt(dr*dr + dg*dg + db*db)
				}
				edgeStrength /= 8.0 * 255.0

				brightness := (r1 + g1 + b1) / (3.0 * 255.0)
				saliency = d.config.ContrastWeight*edgeStrength + d.config.ColorWeight*brightness
			}
			rowSum += saliency
			sat[y+1][x+1] = sat[y][x+1] + rowSum
		}
	}
	return sat
}

func rgb(img *image.NRGBA, x, y int) (float64, float64, float64) {
	i := y*img.Stride + x*4
	return float64(img.Pix[i]), float64(img.Pix[i+1]), float64(img.Pix[i+2])
}

func (d *Detector) findImportantRegions(sat [][]float64, width, height int) []Region {
	var regions []Region

	minArea := int(float64(width*height) * d.config.MinSubjectRatio)
	short := min(width, height)
	windowSizes := []int{short / 8, short / 6, short / 4, short / 3, short / 2}
	aspects := []float64{1, 1.5, 1 / 1.5}

	for _, size := range windowSizes {
		if size < 10 {
			continue
		}
		for _, aspect := range aspects {
			ww := int(float64(size) * math.Sqrt(aspect))
			wh := int(float64(size) / math.Sqrt(aspect))
			if ww > width || wh > height || ww*wh < minArea {
				continue
			}
			step := max(size/4, 1)
			for y := 0; y <= height-wh; y += step {
				for x := 0; x <= width-ww; x += step {
					score := regionMean(sat, x, y, ww, wh)
					if score > d.config.EdgeThreshold {
						regions = append(regions, Region{X: x, Y: y, Width: ww, Height: wh, Score: score})
					}
				}
			}
		}
	}
	return regions
}

func regionMean(sat [][]float64, x, y, w, h int) float64 {
	total := sat[y+h][x+w] - sat[y][x+w] - sat[y+h][x] + sat[y][x]
	return total / float64(w*h)
}

// suppress keeps the best regions, dropping any that overlap a better one too much
func (d *Detector) suppress(regions []Region) []Region {
	sort.SliceStable(regions, func(i, j int) bool {
		return regions[i].Score > regions[j].Score
	})
	kept := []Region{}
	for _, r := range regions {
		ok := true
		for _, k := range kept {
			if r.IoU(k) > d.config.IoUThreshold {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, r)
			if len(kept) == d.config.MaxRegions {
				break
			}
		}
	}
	return kept
}
