// Package session is the interactive annotation state machine for one annotation surface.
//
// A Session owns the box list of the image currently on screen. Pointer and keyboard
// gestures are fed in one at a time, and every completed mutation is normalized and handed
// to a persist.Writer. The in-memory box list is authoritative: a failed write is logged,
// never rolled back.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cyclopcam/logs"
	"github.com/menta2k/image-annotator/internal/logging"
	"github.com/menta2k/image-annotator/pkg/codec"
	"github.com/menta2k/image-annotator/pkg/geometry"
	"github.com/menta2k/image-annotator/pkg/persist"
	"github.com/menta2k/image-annotator/pkg/predict"
	"github.com/menta2k/image-annotator/pkg/types"
)

var (
	ErrNoImage      = errors.New("no image loaded")
	ErrNoClass      = errors.New("no class selected")
	ErrUnknownClass = errors.New("class is not in the class list")
	ErrSuperseded   = errors.New("superseded by a newer navigation")
)

// DefaultMinDrawSize is the size a drawn or predicted box must exceed, in both dimensions, to be kept
const DefaultMinDrawSize = 5.0

// LabelStore reads and writes the label file text of one image.
// A missing label file is reported as ok == false with a nil error.
type LabelStore interface {
	ReadLabels(ctx context.Context, imageID string) (text string, ok bool, err error)
	WriteLabels(ctx context.Context, imageID, text string) error
}

// ClassStore holds the project's ordered class list
type ClassStore interface {
	ReadClasses(ctx context.Context) ([]string, error)
	WriteClasses(ctx context.Context, classes []string) error
}

// ImageSource reports the decoded pixel size of an image
type ImageSource interface {
	Dimensions(ctx context.Context, imageID string) (width, height int, err error)
}

// Proposer produces model predictions for an image
type Proposer interface {
	Propose(ctx context.Context, imageID string) ([]types.Prediction, error)
}

// Tool is the active editing mode
type Tool int

const (
	ToolDraw Tool = iota
	ToolSelect
)

func (t Tool) String() string {
	if t == ToolSelect {
		return "select"
	}
	return "draw"
}

// ParseTool is the inverse of Tool.String
func ParseTool(s string) (Tool, error) {
	switch strings.ToLower(s) {
	case "draw":
		return ToolDraw, nil
	case "select":
		return ToolSelect, nil
	}
	return ToolDraw, fmt.Errorf("unknown tool %q", s)
}

// Params tunes gesture handling
type Params struct {
	Geometry    geometry.Params
	MinDrawSize float64
}

// DefaultParams returns the standard gesture parameters
func DefaultParams() Params {
	return Params{
		Geometry:    geometry.DefaultParams(),
		MinDrawSize: DefaultMinDrawSize,
	}
}

// Deps are the collaborators of a session. Writer is optional, and is created over Labels if nil.
type Deps struct {
	Log     logs.Log
	Labels  LabelStore
	Classes ClassStore
	Images  ImageSource
	Writer  *persist.Writer
	Params  *Params
}

// Session is the working state of the annotation surface
type Session struct {
	log     logs.Log
	labels  LabelStore
	classes ClassStore
	images  ImageSource
	writer  *persist.Writer
	params  Params

	mu sync.Mutex

	imageList  []types.ImageInfo
	index      int
	imageID    string
	width      int
	height     int
	loaded     bool
	generation uint64

	classList     []string
	selectedClass string

	boxes []types.Box
	hit   *geometry.Index // nil when boxes changed since the last hit-test

	tool       Tool
	selected   int
	hovered    int
	showFilled bool
	cursor     string

	drawing   bool
	anchor    types.Point
	candidate *types.Box

	resizing   bool
	handle     geometry.Handle
	dragStart  types.Point
	resizeFrom types.Box
}

// New creates a session over images, and loads the class list. No image is opened yet.
func New(ctx context.Context, deps Deps, images []types.ImageInfo) (*Session, error) {
	if deps.Labels == nil || deps.Classes == nil || deps.Images == nil || deps.Log == nil {
		return nil, errors.New("session: Log, Labels, Classes and Images are required")
	}
	classes, err := deps.Classes.ReadClasses(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read classes: %w", err)
	}
	s := &Session{
		log:        logging.NewPrefixLogger(deps.Log, "session:"),
		labels:     deps.Labels,
		classes:    deps.Classes,
		images:     deps.Images,
		writer:     deps.Writer,
		params:     DefaultParams(),
		imageList:  append([]types.ImageInfo{}, images...),
		index:      -1,
		classList:  append([]string{}, classes...),
		selected:   -1,
		hovered:    -1,
		showFilled: true,
		cursor:     "default",
	}
	if deps.Params != nil {
		s.params = *deps.Params
	}
	if s.writer == nil {
		s.writer = persist.NewWriter(s.log, deps.Labels.WriteLabels)
	}
	if len(classes) > 0 {
		s.selectedClass = classes[0]
	}
	return s, nil
}

// Flush waits for all pending label writes
func (s *Session) Flush(ctx context.Context) error {
	return s.writer.Flush(ctx)
}

// Close flushes pending label writes
func (s *Session) Close() {
	s.writer.Close()
}

// Open loads the image at index (clamped to the image list) and replaces the box list.
// A resize in progress is committed to the image being left.
// If another navigation starts before this one completes, this one is discarded and
// ErrSuperseded is returned.
func (s *Session) Open(ctx context.Context, index int) error {
	s.mu.Lock()
	if len(s.imageList) == 0 {
		s.mu.Unlock()
		return ErrNoImage
	}
	index = max(0, min(index, len(s.imageList)-1))
	// A resize in progress belongs to the image being left
	if s.resizing {
		s.finishResizeLocked()
	}
	s.generation++
	gen := s.generation
	imageID := s.imageList[index].Name
	classes := append([]string{}, s.classList...)
	s.mu.Unlock()

	boxes, w, h, err := s.loadBoxes(ctx, imageID, classes)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		s.log.Debugf("Discarding stale load of %v", imageID)
		return ErrSuperseded
	}
	s.index = index
	s.imageID = imageID
	s.resetTransientLocked()
	s.selected = -1
	s.hovered = -1
	if err != nil {
		s.loaded = false
		s.width, s.height = 0, 0
		s.setBoxesLocked(nil)
		return err
	}
	s.loaded = true
	s.width, s.height = w, h
	s.setBoxesLocked(boxes)
	s.log.Infof("Opened %v (%vx%v) with %v boxes", imageID, w, h, len(boxes))
	return nil
}

// loadBoxes reads the dimensions and labels of an image, without touching session state
func (s *Session) loadBoxes(ctx context.Context, imageID string, classes []string) ([]types.Box, int, int, error) {
	w, h, err := s.images.Dimensions(ctx, imageID)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to read dimensions of %v: %w", imageID, err)
	}
	if w <= 0 || h <= 0 {
		return nil, 0, 0, fmt.Errorf("%v: %w", imageID, codec.ErrInvalidDimensions)
	}
	text, ok, err := s.labels.ReadLabels(ctx, imageID)
	if err != nil {
		// Unreadable labels degrade to an empty box list
		s.log.Warnf("Failed to read labels of %v: %v", imageID, err)
		return []types.Box{}, w, h, nil
	}
	if !ok {
		return []types.Box{}, w, h, nil
	}
	boxes, err := codec.DecodeLabels(text, w, h, classes)
	if err != nil {
		return nil, 0, 0, err
	}
	return boxes, w, h, nil
}

// Next opens the following image. At the end of the list it does nothing.
func (s *Session) Next(ctx context.Context) error {
	return s.step(ctx, 1)
}

// Prev opens the preceding image. At the start of the list it does nothing.
func (s *Session) Prev(ctx context.Context) error {
	return s.step(ctx, -1)
}

func (s *Session) step(ctx context.Context, delta int) error {
	s.mu.Lock()
	if len(s.imageList) == 0 {
		s.mu.Unlock()
		return ErrNoImage
	}
	target := max(0, min(s.index+delta, len(s.imageList)-1))
	same := target == s.index && s.loaded
	s.mu.Unlock()
	if same {
		return nil
	}
	return s.Open(ctx, target)
}

// RepeatPrevious replaces the boxes of the current image with those of the previous image, and saves them.
// It does nothing on the first image.
func (s *Session) RepeatPrevious(ctx context.Context) error {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return ErrNoImage
	}
	if s.resizing {
		s.finishResizeLocked()
	}
	if s.index <= 0 {
		s.mu.Unlock()
		return nil
	}
	gen := s.generation
	prevID := s.imageList[s.index-1].Name
	classes := append([]string{}, s.classList...)
	s.mu.Unlock()

	prev, _, _, err := s.loadBoxes(ctx, prevID, classes)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return ErrSuperseded
	}
	s.resetTransientLocked()
	s.selected = -1
	s.hovered = -1
	s.setBoxesLocked(prev)
	s.persistLocked()
	return nil
}

// SetTool switches between drawing and selecting. Any gesture in progress is abandoned.
func (s *Session) SetTool(t Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t == s.tool {
		return
	}
	s.tool = t
	s.resetTransientLocked()
	s.hovered = -1
	s.cursor = "default"
}

// SelectClass sets the class given to newly drawn boxes
func (s *Session) SelectClass(class string) error {
	if class == "" {
		return ErrNoClass
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if codec.IndexOf(s.classList, class) == -1 {
		return fmt.Errorf("%w: %v", ErrUnknownClass, class)
	}
	s.selectedClass = class
	return nil
}

// ToggleFill flips between filled and outline-only rendering of boxes
func (s *Session) ToggleFill() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.showFilled = !s.showFilled
	return s.showFilled
}

// DeleteSelected removes the selected box. Returns false if nothing is selected.
func (s *Session) DeleteSelected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteSelectedLocked()
}

func (s *Session) deleteSelectedLocked() bool {
	if !s.loaded || s.selected < 0 || s.selected >= len(s.boxes) {
		return false
	}
	boxes := append([]types.Box{}, s.boxes[:s.selected]...)
	boxes = append(boxes, s.boxes[s.selected+1:]...)
	s.setBoxesLocked(boxes)
	s.selected = -1
	s.hovered = -1
	s.persistLocked()
	return true
}

// ClearSelection deselects without saving anything
func (s *Session) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = -1
}

// ClearAll removes every box of the current image
func (s *Session) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return ErrNoImage
	}
	s.resetTransientLocked()
	s.selected = -1
	s.hovered = -1
	s.setBoxesLocked(nil)
	s.persistLocked()
	return nil
}

// ChangeSelectedClass assigns class to the selected box
func (s *Session) ChangeSelectedClass(class string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if codec.IndexOf(s.classList, class) == -1 {
		return fmt.Errorf("%w: %v", ErrUnknownClass, class)
	}
	if !s.loaded || s.selected < 0 || s.selected >= len(s.boxes) {
		return nil
	}
	s.boxes[s.selected].Class = class
	s.persistLocked()
	return nil
}

// AddClass appends a class to the class list, selects it, and saves the list.
// Empty and duplicate names are ignored.
func (s *Session) AddClass(ctx context.Context, class string) error {
	class = strings.TrimSpace(class)
	s.mu.Lock()
	if class == "" || codec.IndexOf(s.classList, class) != -1 {
		s.mu.Unlock()
		return nil
	}
	s.classList = append(s.classList, class)
	s.selectedClass = class
	classes := append([]string{}, s.classList...)
	s.mu.Unlock()

	if err := s.classes.WriteClasses(ctx, classes); err != nil {
		return fmt.Errorf("failed to save classes: %w", err)
	}
	return nil
}

// DeleteClass removes every box of class from the current image, saves the image's labels,
// then removes class from the class list and saves the list.
// Label files of other images still refer to classes by their old positions.
func (s *Session) DeleteClass(ctx context.Context, class string) error {
	s.mu.Lock()
	idx := codec.IndexOf(s.classList, class)
	if idx == -1 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrUnknownClass, class)
	}
	classes := append([]string{}, s.classList[:idx]...)
	classes = append(classes, s.classList[idx+1:]...)

	kept := make([]types.Box, 0, len(s.boxes))
	for _, b := range s.boxes {
		if b.Class != class {
			kept = append(kept, b)
		}
	}
	s.resetTransientLocked()
	s.selected = -1
	s.hovered = -1
	s.setBoxesLocked(kept)
	// Normalize against the new list, so the surviving boxes of this image keep their meaning
	s.classList = classes
	if s.selectedClass == class {
		s.selectedClass = ""
		if len(classes) > 0 {
			s.selectedClass = classes[0]
		}
	}
	if s.loaded {
		s.persistLocked()
	}
	s.mu.Unlock()

	if err := s.classes.WriteClasses(ctx, classes); err != nil {
		return fmt.Errorf("failed to save classes: %w", err)
	}
	return nil
}

// AddPredictions converts model predictions into boxes, appends them, and saves the result
// as one batch. Returns the number of boxes added.
func (s *Session) AddPredictions(predictions []types.Prediction) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addPredictionsLocked(predictions)
}

func (s *Session) addPredictionsLocked(predictions []types.Prediction) (int, error) {
	if !s.loaded {
		return 0, ErrNoImage
	}
	added := predict.IngestWithMinSize(predictions, s.width, s.height, s.classList, s.params.MinDrawSize)
	if len(added) == 0 {
		return 0, nil
	}
	s.setBoxesLocked(append(s.boxes, added...))
	s.persistLocked()
	return len(added), nil
}

// Predict asks proposer for predictions on the current image and adds them.
// If the user navigates away while the model is running, the predictions are discarded.
func (s *Session) Predict(ctx context.Context, proposer Proposer) (int, error) {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return 0, ErrNoImage
	}
	gen := s.generation
	imageID := s.imageID
	s.mu.Unlock()

	predictions, err := proposer.Propose(ctx, imageID)
	if err != nil {
		return 0, fmt.Errorf("prediction failed for %v: %w", imageID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return 0, ErrSuperseded
	}
	n, err := s.addPredictionsLocked(predictions)
	if err == nil {
		s.log.Infof("Added %v of %v predictions to %v", n, len(predictions), imageID)
	}
	return n, err
}

// setBoxesLocked replaces the box list and invalidates the hit-test index
func (s *Session) setBoxesLocked(boxes []types.Box) {
	if boxes == nil {
		boxes = []types.Box{}
	}
	s.boxes = boxes
	s.hit = nil
}

func (s *Session) resetTransientLocked() {
	s.drawing = false
	s.candidate = nil
	s.resizing = false
	s.handle = geometry.HandleNone
}

// persistLocked normalizes the box list and queues it for writing
func (s *Session) persistLocked() {
	if !s.loaded {
		return
	}
	text, dropped, err := codec.EncodeLabels(s.boxes, s.width, s.height, s.classList)
	if err != nil {
		s.log.Errorf("Failed to encode labels of %v: %v", s.imageID, err)
		return
	}
	if dropped != 0 {
		s.log.Debugf("%v boxes of %v have a class outside the class list, and were not saved", dropped, s.imageID)
	}
	s.writer.Submit(s.imageID, text)
	s.imageList[s.index].IsAnnotated = len(s.boxes) > 0
}

func (s *Session) topmostLocked(p types.Point) int {
	if s.hit == nil {
		s.hit = geometry.NewIndex(s.boxes)
	}
	return s.hit.TopmostAt(p)
}
