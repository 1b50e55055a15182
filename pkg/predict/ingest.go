// Package predict turns detection model output into annotation boxes
package predict

import (
	"fmt"

	"github.com/menta2k/image-annotator/pkg/geometry"
	"github.com/menta2k/image-annotator/pkg/types"
)

// MinSize is the size a predicted box must exceed, in both dimensions, to be kept
const MinSize = 5.0

// PredictedClass is the class given to a prediction with neither a name nor an id
const PredictedClass = "predicted"

// Ingest converts predictions in corner form into boxes on an image of the given size.
// The top-left corner is clamped into the image, the size is truncated to the visible
// region and floored at 1, and boxes not larger than MinSize in both dimensions are dropped.
func Ingest(predictions []types.Prediction, imageWidth, imageHeight int, classes []string) []types.Box {
	return IngestWithMinSize(predictions, imageWidth, imageHeight, classes, MinSize)
}

// IngestWithMinSize is Ingest with a custom minimum size
func IngestWithMinSize(predictions []types.Prediction, imageWidth, imageHeight int, classes []string, minSize float64) []types.Box {
	W := float64(imageWidth)
	H := float64(imageHeight)
	boxes := []types.Box{}
	for _, p := range predictions {
		x := geometry.Clamp(p.BBox.X1, 0, W)
		y := geometry.Clamp(p.BBox.Y1, 0, H)
		w := max(1, min(p.BBox.X2-p.BBox.X1, W-x))
		h := max(1, min(p.BBox.Y2-p.BBox.Y1, H-y))
		if w <= minSize || h <= minSize {
			continue
		}
		conf := p.Confidence
		boxes = append(boxes, types.Box{
			X:          x,
			Y:          y,
			Width:      w,
			Height:     h,
			Class:      ResolveClass(p, classes),
			Confidence: &conf,
		})
	}
	return boxes
}

// ResolveClass picks the class of a prediction: its name, else the class list entry at its id,
// else "class_<id>", else PredictedClass
func ResolveClass(p types.Prediction, classes []string) string {
	if p.ClassName != "" {
		return p.ClassName
	}
	if p.ClassID == nil {
		return PredictedClass
	}
	if *p.ClassID >= 0 && *p.ClassID < len(classes) {
		return classes[*p.ClassID]
	}
	return fmt.Sprintf("class_%d", *p.ClassID)
}
