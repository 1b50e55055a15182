package types

// UnknownClass is the class given to a label record whose class index is not in the class list
const UnknownClass = "unknown"

// Point is a position in the pixel space of a decoded image
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Box is a pixel-space bounding box with top-left origin, tied to one decoded image
type Box struct {
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	Width      float64  `json:"width"`
	Height     float64  `json:"height"`
	Class      string   `json:"class"`
	Confidence *float64 `json:"confidence,omitempty"` // Only set for model-proposed boxes. Never persisted.
}

func (b Box) Right() float64 {
	return b.X + b.Width
}

func (b Box) Bottom() float64 {
	return b.Y + b.Height
}

// Center returns the center point of the box
func (b Box) Center() Point {
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Clone returns a deep copy of the box
func (b Box) Clone() Box {
	c := b
	if b.Confidence != nil {
		v := *b.Confidence
		c.Confidence = &v
	}
	return c
}

// CloneBoxes deep copies a box list. A nil input yields an empty, non-nil list.
func CloneBoxes(boxes []Box) []Box {
	out := make([]Box, len(boxes))
	for i, b := range boxes {
		out[i] = b.Clone()
	}
	return out
}

// Record is one line of a label file: class index plus center and size, each relative to the image size
type Record struct {
	ClassIndex int     `json:"classIndex"`
	XCenter    float64 `json:"xCenter"`
	YCenter    float64 `json:"yCenter"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
}

// Corners is a box in corner form, as emitted by detection models
type Corners struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Prediction is a single detection from an external model, after validation at the model boundary
type Prediction struct {
	ClassID    *int    `json:"class_id,omitempty"`
	ClassName  string  `json:"class_name,omitempty"`
	Confidence float64 `json:"confidence"`
	BBox       Corners `json:"bbox"`
}

// ImageInfo is an image as seen from a project stage
type ImageInfo struct {
	Name        string `json:"name"`
	IsAnnotated bool   `json:"isAnnotated"`
}
