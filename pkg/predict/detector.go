package predict

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/menta2k/image-annotator/pkg/client"
	"github.com/menta2k/image-annotator/pkg/processing"
	"github.com/menta2k/image-annotator/pkg/types"
)

// ImageLoader decodes an image by its identifier
type ImageLoader interface {
	LoadImage(ctx context.Context, imageID string) (image.Image, error)
}

// Options controls how images are sent to a model
type Options struct {
	Format       string // "jpg" or "png"
	MaxDimension int    // longest side sent to the model, 0 for no limit
	Quality      int    // JPEG quality
}

// DefaultOptions returns the standard send options
func DefaultOptions() Options {
	return Options{
		Format:       "jpg",
		MaxDimension: 1024,
		Quality:      90,
	}
}

// Detector runs a Predictor on project images. It downscales the image before sending it,
// and maps the returned boxes back to the original pixel space.
type Detector struct {
	log       logs.Log
	loader    ImageLoader
	predictor client.Predictor
	processor *processing.Processor
	opts      Options
}

// NewDetector creates a detector that loads images with loader and predicts with predictor
func NewDetector(log logs.Log, loader ImageLoader, predictor client.Predictor, opts Options) *Detector {
	return &Detector{
		log:       log,
		loader:    loader,
		predictor: predictor,
		processor: processing.NewProcessor(),
		opts:      opts,
	}
}

// Propose returns the predictions for an image, in its original pixel space
func (d *Detector) Propose(ctx context.Context, imageID string) ([]types.Prediction, error) {
	img, err := d.loader.LoadImage(ctx, imageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %w", imageID, err)
	}
	return d.DetectImage(ctx, img)
}

// DetectImage returns the predictions for a decoded image, in its pixel space
func (d *Detector) DetectImage(ctx context.Context, img image.Image) ([]types.Prediction, error) {
	prep, err := d.processor.PrepareImageForModel(img, d.opts.Format, d.opts.MaxDimension, d.opts.Quality)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare image: %w", err)
	}

	start := time.Now()
	preds, err := d.predictor.Predict(ctx, prep)
	if err != nil {
		return nil, err
	}
	d.log.Infof("Model returned %v predictions in %.1f seconds", len(preds), time.Since(start).Seconds())

	return Rescale(preds, prep.Scale), nil
}

// Rescale divides prediction coordinates by scale, mapping boxes found on a resized image
// back to the original
func Rescale(preds []types.Prediction, scale float64) []types.Prediction {
	if scale <= 0 || scale == 1 {
		return preds
	}
	out := make([]types.Prediction, len(preds))
	for i, p := range preds {
		p.BBox = types.Corners{
			X1: p.BBox.X1 / scale,
			Y1: p.BBox.Y1 / scale,
			X2: p.BBox.X2 / scale,
			Y2: p.BBox.Y2 / scale,
		}
		out[i] = p
	}
	return out
}
