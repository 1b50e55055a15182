package predict

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/menta2k/image-annotator/pkg/processing"
	"github.com/menta2k/image-annotator/pkg/types"
	"github.com/stretchr/testify/require"
)

func intp(i int) *int { return &i }

func TestIngestClamp(t *testing.T) {
	preds := []types.Prediction{
		{ClassName: "car", Confidence: 0.9, BBox: types.Corners{X1: -10, Y1: 5, X2: 50, Y2: 60}},
	}
	boxes := Ingest(preds, 40, 40, []string{"car"})
	require.Len(t, boxes, 1)
	b := boxes[0]
	require.Equal(t, 0.0, b.X)
	require.Equal(t, 5.0, b.Y)
	require.Equal(t, 40.0, b.Width)
	require.Equal(t, 35.0, b.Height)
	require.Equal(t, "car", b.Class)
	require.NotNil(t, b.Confidence)
	require.Equal(t, 0.9, *b.Confidence)
}

func TestIngestTruncatesOverflow(t *testing.T) {
	preds := []types.Prediction{
		{ClassName: "car", BBox: types.Corners{X1: 30, Y1: 30, X2: 80, Y2: 80}},
		{ClassName: "car", BBox: types.Corners{X1: 10, Y1: 0, X2: 60, Y2: 25}},
	}
	boxes := Ingest(preds, 40, 40, nil)
	require.Len(t, boxes, 2)
	for _, b := range boxes {
		require.LessOrEqual(t, b.Right(), 40.0)
		require.LessOrEqual(t, b.Bottom(), 40.0)
	}
	require.Equal(t, 10.0, boxes[0].Width)
	require.Equal(t, 10.0, boxes[0].Height)
	require.Equal(t, 30.0, boxes[1].Width)
	require.Equal(t, 25.0, boxes[1].Height)

	// starting on the right edge leaves nothing visible
	require.Empty(t, Ingest([]types.Prediction{{BBox: types.Corners{X1: 40, Y1: 0, X2: 90, Y2: 30}}}, 40, 40, nil))
}

func TestIngestMinimumSize(t *testing.T) {
	preds := []types.Prediction{
		{ClassName: "a", BBox: types.Corners{X1: 0, Y1: 0, X2: 5, Y2: 50}},      // width 5
		{ClassName: "a", BBox: types.Corners{X1: 0, Y1: 0, X2: 6, Y2: 6}},       // kept
		{ClassName: "a", BBox: types.Corners{X1: 10, Y1: 10, X2: 0, Y2: 50}},    // inverted, floored at 1
		{ClassName: "a", BBox: types.Corners{X1: 100, Y1: 100, X2: 90, Y2: 90}}, // outside and inverted
	}
	boxes := Ingest(preds, 200, 200, nil)
	require.Len(t, boxes, 1)
	require.Equal(t, 6.0, boxes[0].Width)
}

func TestResolveClass(t *testing.T) {
	classes := []string{"person", "car"}
	require.Equal(t, "dog", ResolveClass(types.Prediction{ClassName: "dog", ClassID: intp(1)}, classes))
	require.Equal(t, "car", ResolveClass(types.Prediction{ClassID: intp(1)}, classes))
	require.Equal(t, "class_7", ResolveClass(types.Prediction{ClassID: intp(7)}, classes))
	require.Equal(t, "predicted", ResolveClass(types.Prediction{}, classes))
}

func TestIngestAppendsNothingForEmpty(t *testing.T) {
	require.Empty(t, Ingest(nil, 100, 100, nil))
	require.NotNil(t, Ingest(nil, 100, 100, nil))
}

type fakeLoader struct {
	img image.Image
}

func (f *fakeLoader) LoadImage(ctx context.Context, id string) (image.Image, error) {
	if id == "missing" {
		return nil, errors.New("no such image")
	}
	return f.img, nil
}

type fakePredictor struct {
	seenWidth int
	preds     []types.Prediction
}

func (f *fakePredictor) Predict(ctx context.Context, img *processing.Prepared) ([]types.Prediction, error) {
	f.seenWidth = img.Image.Bounds().Dx()
	return f.preds, nil
}

func TestDetectorRescales(t *testing.T) {
	loader := &fakeLoader{img: image.NewNRGBA(image.Rect(0, 0, 2000, 1000))}
	pred := &fakePredictor{preds: []types.Prediction{
		{ClassName: "car", BBox: types.Corners{X1: 100, Y1: 50, X2: 200, Y2: 150}},
	}}
	d := NewDetector(logs.NewTestingLog(t), loader, pred, Options{Format: "jpg", MaxDimension: 500, Quality: 80})
	preds, err := d.Propose(context.Background(), "a.jpg")
	require.NoError(t, err)
	require.Equal(t, 500, pred.seenWidth)
	require.Len(t, preds, 1)
	require.InDelta(t, 400, preds[0].BBox.X1, 1e-9)
	require.InDelta(t, 200, preds[0].BBox.Y1, 1e-9)
	require.InDelta(t, 800, preds[0].BBox.X2, 1e-9)
	require.InDelta(t, 600, preds[0].BBox.Y2, 1e-9)

	_, err = d.Propose(context.Background(), "missing")
	require.Error(t, err)
}

func TestRescaleIdentity(t *testing.T) {
	preds := []types.Prediction{{BBox: types.Corners{X1: 1, Y1: 2, X2: 3, Y2: 4}}}
	require.Equal(t, preds, Rescale(preds, 1))
}
