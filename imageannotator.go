// Package imageannotator is a bounding-box annotation tool for object detection datasets.
//
// A project directory holds images in three stages (unlabeled, annotation, dataset), a label
// file per image in normalized center format, and the project's class list. Boxes are drawn
// and edited through a session, proposed by detection models from the model registry, and
// finally exported as train/valid/test datasets.
//
// Basic usage:
//
//	ws, err := imageannotator.Open(log, "myproject", config.Default())
//	if err != nil {
//		return err
//	}
//	s, err := ws.NewSession(ctx, project.StageAnnotation)
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//	s.Open(ctx, 0)
//	s.PointerDown(types.Point{X: 100, Y: 120}, session.ButtonPrimary)
//	s.PointerUp(types.Point{X: 200, Y: 180})
//
// The package consists of these components:
//
//  1. Codec (pkg/codec): label file text to pixel boxes and back
//  2. Geometry (pkg/geometry): hit-testing and resize handles
//  3. Session (pkg/session): the gesture state machine of the annotation surface
//  4. Predict (pkg/predict): model predictions to boxes
//  5. Project, dataset and models (internal/...): the files of a project
package imageannotator

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/cyclopcam/logs"
	"github.com/menta2k/image-annotator/internal/config"
	"github.com/menta2k/image-annotator/internal/dataset"
	"github.com/menta2k/image-annotator/internal/models"
	"github.com/menta2k/image-annotator/internal/project"
	"github.com/menta2k/image-annotator/pkg/codec"
	"github.com/menta2k/image-annotator/pkg/predict"
	"github.com/menta2k/image-annotator/pkg/processing"
	"github.com/menta2k/image-annotator/pkg/session"
	"github.com/menta2k/image-annotator/pkg/types"
)

// Version of the image annotator
const Version = "1.0.0"

// Workspace is an open project together with its model registry and datasets
type Workspace struct {
	log       logs.Log
	cfg       *config.Config
	project   *project.Project
	datasets  *dataset.Manager
	models    *models.Registry
	processor *processing.Processor
}

// Open opens an existing project
func Open(log logs.Log, root string, cfg *config.Config) (*Workspace, error) {
	p, err := project.Open(log, root)
	if err != nil {
		return nil, err
	}
	return newWorkspace(log, p, cfg), nil
}

// Create creates a project, or opens it if it already exists
func Create(log logs.Log, root string, cfg *config.Config) (*Workspace, error) {
	p, err := project.Create(log, root)
	if err != nil {
		return nil, err
	}
	return newWorkspace(log, p, cfg), nil
}

func newWorkspace(log logs.Log, p *project.Project, cfg *config.Config) *Workspace {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Workspace{
		log:       log,
		cfg:       cfg,
		project:   p,
		datasets:  dataset.NewManager(log, p),
		models:    models.NewRegistry(log, filepath.Join(p.Root(), models.FileName)),
		processor: processing.NewProcessor(),
	}
}

func (w *Workspace) Project() *project.Project {
	return w.project
}

func (w *Workspace) Config() *config.Config {
	return w.cfg
}

func (w *Workspace) Models() *models.Registry {
	return w.models
}

func (w *Workspace) Datasets() *dataset.Manager {
	return w.datasets
}

// NewSession starts an annotation session over the images of a stage
func (w *Workspace) NewSession(ctx context.Context, stage string) (*session.Session, error) {
	st, err := w.project.Stage(stage)
	if err != nil {
		return nil, err
	}
	images, err := w.project.ListStage(stage)
	if err != nil {
		return nil, err
	}
	params := w.cfg.SessionParams()
	return session.New(ctx, session.Deps{
		Log:     w.log,
		Labels:  st,
		Classes: w.project,
		Images:  st,
		Params:  &params,
	}, images)
}

// Proposer returns a detector for the images of a stage, backed by the model with the given
// id or name. An empty model selects the configured default model.
func (w *Workspace) Proposer(ctx context.Context, stage, model string) (*predict.Detector, error) {
	if model == "" {
		model = w.cfg.Prediction.DefaultModel
	}
	if model == "" {
		return nil, fmt.Errorf("no model given, and no default model configured")
	}
	entry, err := w.models.Get(model)
	if err != nil {
		return nil, err
	}
	classes, err := w.project.ReadClasses(ctx)
	if err != nil {
		return nil, err
	}
	predictor, err := models.Predictor(w.log, *entry, classes, w.cfg)
	if err != nil {
		return nil, err
	}
	st, err := w.project.Stage(stage)
	if err != nil {
		return nil, err
	}
	return predict.NewDetector(w.log, st, predictor, w.cfg.PredictOptions()), nil
}

// Labels is the decoded label file of one image
type Labels struct {
	Image   string      `json:"image"`
	Width   int         `json:"width"`
	Height  int         `json:"height"`
	Classes []string    `json:"classes"`
	Boxes   []types.Box `json:"boxes"`
}

// ReadLabels decodes the boxes of an image. An image without a label file has no boxes.
func (w *Workspace) ReadLabels(ctx context.Context, stage, image string) (*Labels, error) {
	st, err := w.project.Stage(stage)
	if err != nil {
		return nil, err
	}
	width, height, err := st.Dimensions(ctx, image)
	if err != nil {
		return nil, err
	}
	classes, err := w.project.ReadClasses(ctx)
	if err != nil {
		return nil, err
	}
	text, _, err := st.ReadLabels(ctx, image)
	if err != nil {
		return nil, err
	}
	boxes, err := codec.DecodeLabels(text, width, height, classes)
	if err != nil {
		return nil, err
	}
	return &Labels{Image: image, Width: width, Height: height, Classes: classes, Boxes: boxes}, nil
}

// WriteLabels replaces the label file of an image. Boxes whose class is not in the class
// list are dropped, and their number returned.
func (w *Workspace) WriteLabels(ctx context.Context, stage, image string, boxes []types.Box) (int, error) {
	st, err := w.project.Stage(stage)
	if err != nil {
		return 0, err
	}
	width, height, err := st.Dimensions(ctx, image)
	if err != nil {
		return 0, err
	}
	classes, err := w.project.ReadClasses(ctx)
	if err != nil {
		return 0, err
	}
	text, dropped, err := codec.EncodeLabels(boxes, width, height, classes)
	if err != nil {
		return 0, err
	}
	if dropped != 0 {
		w.log.Warnf("Dropped %v boxes of unknown class from %v", dropped, image)
	}
	return dropped, st.WriteLabels(ctx, image, text)
}

// PredictLabels runs a model over one image and appends its proposals to the image's label
// file. Returns the boxes that were added.
func (w *Workspace) PredictLabels(ctx context.Context, stage, image, model string) ([]types.Box, error) {
	detector, err := w.Proposer(ctx, stage, model)
	if err != nil {
		return nil, err
	}
	labels, err := w.ReadLabels(ctx, stage, image)
	if err != nil {
		return nil, err
	}
	preds, err := detector.Propose(ctx, image)
	if err != nil {
		return nil, err
	}
	added := predict.IngestWithMinSize(preds, labels.Width, labels.Height, labels.Classes, w.cfg.Annotation.MinDrawSize)
	if len(added) == 0 {
		return added, nil
	}
	if _, err := w.WriteLabels(ctx, stage, image, append(labels.Boxes, added...)); err != nil {
		return nil, err
	}
	w.log.Infof("Added %v of %v predictions to %v", len(added), len(preds), image)
	return added, nil
}

// RenderPreview draws the labels of an image over it, and encodes the result to out
// in the configured render format
func (w *Workspace) RenderPreview(ctx context.Context, stage, image string, out io.Writer) error {
	st, err := w.project.Stage(stage)
	if err != nil {
		return err
	}
	img, err := st.LoadImage(ctx, image)
	if err != nil {
		return err
	}
	labels, err := w.ReadLabels(ctx, stage, image)
	if err != nil {
		return err
	}
	overlay := w.processor.RenderOverlay(img, labels.Boxes, labels.Classes, w.cfg.OverlayOptions())
	r := w.cfg.Render
	return w.processor.EncodeImage(out, overlay, r.Format, r.Quality, r.Lossless)
}

// CreateDataset exports the dataset stage with the project's current class list
func (w *Workspace) CreateDataset(ctx context.Context, cfg dataset.Config) (*dataset.Info, error) {
	classes, err := w.project.ReadClasses(ctx)
	if err != nil {
		return nil, err
	}
	return w.datasets.Create(cfg, classes)
}
