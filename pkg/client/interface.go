// Package client defines the boundary between the annotator and detection models
package client

import (
	"context"
	"errors"

	"github.com/menta2k/image-annotator/pkg/processing"
	"github.com/menta2k/image-annotator/pkg/types"
)

// ErrPredictionFailed is returned when a model reports failure or returns an unusable response
var ErrPredictionFailed = errors.New("prediction failed")

// Predictor runs a detection model on a prepared image. Returned boxes are in the pixel
// space of img.Image, not the original image.
type Predictor interface {
	Predict(ctx context.Context, img *processing.Prepared) ([]types.Prediction, error)
}
