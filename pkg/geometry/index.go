package geometry

import (
	flatbush "github.com/bmharper/flatbush-go"
	"github.com/menta2k/image-annotator/pkg/types"
)

// Index is a static spatial index over a box list, for cursor hit-testing on images
// with many annotations. Rebuild it whenever the box list changes.
type Index struct {
	boxes []types.Box
	fb    *flatbush.Flatbush[float64]
}

// NewIndex builds an index over boxes. The slice is retained, not copied.
func NewIndex(boxes []types.Box) *Index {
	idx := &Index{boxes: boxes}
	if len(boxes) == 0 {
		return idx
	}
	idx.fb = flatbush.NewFlatbush[float64]()
	idx.fb.Reserve(len(boxes))
	for _, b := range boxes {
		idx.fb.Add(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
	}
	idx.fb.Finish()
	return idx
}

// Len returns the number of indexed boxes
func (x *Index) Len() int {
	return len(x.boxes)
}

// TopmostAt returns the highest index of a box containing p, or -1.
// This gives the same answer as FindTopmostBoxAt.
func (x *Index) TopmostAt(p types.Point) int {
	if x.fb == nil {
		return -1
	}
	best := -1
	for _, i := range x.fb.Search(p.X, p.Y, p.X, p.Y) {
		if i > best && PointInBox(p, x.boxes[i]) {
			best = i
		}
	}
	return best
}

// AllAt returns the indices of every box containing p, topmost first
func (x *Index) AllAt(p types.Point) []int {
	if x.fb == nil {
		return nil
	}
	hits := []int{}
	for _, i := range x.fb.Search(p.X, p.Y, p.X, p.Y) {
		if PointInBox(p, x.boxes[i]) {
			hits = append(hits, i)
		}
	}
	// insertion sort, descending. Hit lists under a cursor are tiny.
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j] > hits[j-1]; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	return hits
}
