// Package geometry implements hit-testing and handle-based resizing of pixel-space boxes.
package geometry

import (
	"github.com/menta2k/image-annotator/pkg/types"
)

const (
	DefaultHandleSize      = 8.0  // Side of the square drawn for each resize handle
	DefaultHandleTolerance = 4.0  // Extra margin around a handle that still counts as a hit
	DefaultMinResizeSize   = 10.0 // A resize never shrinks a box below this, in either dimension
)

// Params controls handle hit-testing and resizing
type Params struct {
	HandleSize      float64
	HandleTolerance float64
	MinResizeSize   float64
}

// DefaultParams returns the standard handle size, tolerance and minimum resize size
func DefaultParams() Params {
	return Params{
		HandleSize:      DefaultHandleSize,
		HandleTolerance: DefaultHandleTolerance,
		MinResizeSize:   DefaultMinResizeSize,
	}
}

// Handle identifies one of the 8 resize grab-points of a box
type Handle int

const (
	HandleNone Handle = iota
	HandleNW
	HandleNE
	HandleSW
	HandleSE
	HandleN
	HandleS
	HandleW
	HandleE
)

// HitOrder is the order in which handles are tested. The first hit wins.
var HitOrder = []Handle{HandleNW, HandleNE, HandleSW, HandleSE, HandleN, HandleS, HandleW, HandleE}

func (h Handle) String() string {
	switch h {
	case HandleNW:
		return "nw"
	case HandleNE:
		return "ne"
	case HandleSW:
		return "sw"
	case HandleSE:
		return "se"
	case HandleN:
		return "n"
	case HandleS:
		return "s"
	case HandleW:
		return "w"
	case HandleE:
		return "e"
	}
	return ""
}

// Cursor returns the CSS-style cursor name shown while hovering the handle
func (h Handle) Cursor() string {
	if h == HandleNone {
		return ""
	}
	return h.String() + "-resize"
}

// West is true for handles that move the left edge
func (h Handle) West() bool {
	return h == HandleNW || h == HandleSW || h == HandleW
}

// North is true for handles that move the top edge
func (h Handle) North() bool {
	return h == HandleNW || h == HandleNE || h == HandleN
}

// East is true for handles that move the right edge
func (h Handle) East() bool {
	return h == HandleNE || h == HandleSE || h == HandleE
}

// South is true for handles that move the bottom edge
func (h Handle) South() bool {
	return h == HandleSW || h == HandleSE || h == HandleS
}

// ParseHandle is the inverse of Handle.String
func ParseHandle(s string) Handle {
	for _, h := range HitOrder {
		if h.String() == s {
			return h
		}
	}
	return HandleNone
}

// PointInBox is an inclusive containment test
func PointInBox(p types.Point, b types.Box) bool {
	return p.X >= b.X && p.X <= b.X+b.Width && p.Y >= b.Y && p.Y <= b.Y+b.Height
}

// FindTopmostBoxAt returns the index of the last-drawn box containing p, or -1.
// Later boxes are drawn on top of earlier ones, so the scan runs in reverse.
func FindTopmostBoxAt(p types.Point, boxes []types.Box) int {
	for i := len(boxes) - 1; i >= 0; i-- {
		if PointInBox(p, boxes[i]) {
			return i
		}
	}
	return -1
}

// HandleAnchor returns the point a handle is centered on
func HandleAnchor(b types.Box, h Handle) types.Point {
	var p types.Point
	switch {
	case h.West():
		p.X = b.X
	case h.East():
		p.X = b.X + b.Width
	default:
		p.X = b.X + b.Width/2
	}
	switch {
	case h.North():
		p.Y = b.Y
	case h.South():
		p.Y = b.Y + b.Height
	default:
		p.Y = b.Y + b.Height/2
	}
	return p
}

// HandleRect returns the square drawn for handle h, as a box with no class
func (pr Params) HandleRect(b types.Box, h Handle) types.Box {
	a := HandleAnchor(b, h)
	return types.Box{
		X:      a.X - pr.HandleSize/2,
		Y:      a.Y - pr.HandleSize/2,
		Width:  pr.HandleSize,
		Height: pr.HandleSize,
	}
}

// HandleAt returns the handle of b under p, with the tolerance margin applied, or HandleNone
func (pr Params) HandleAt(b types.Box, p types.Point) Handle {
	for _, h := range HitOrder {
		r := pr.HandleRect(b, h)
		if p.X >= r.X-pr.HandleTolerance &&
			p.X <= r.X+r.Width+pr.HandleTolerance &&
			p.Y >= r.Y-pr.HandleTolerance &&
			p.Y <= r.Y+r.Height+pr.HandleTolerance {
			return h
		}
	}
	return HandleNone
}

// ApplyResize computes the box that results from dragging handle h of original from dragStart to dragCurrent.
// The result is never smaller than MinResizeSize in either dimension. When clamping a west or
// north handle, the opposite (east or south) edge stays where it was.
func (pr Params) ApplyResize(original types.Box, h Handle, dragStart, dragCurrent types.Point) types.Box {
	dx := dragCurrent.X - dragStart.X
	dy := dragCurrent.Y - dragStart.Y

	nb := original.Clone()
	if h.West() {
		nb.X = original.X + dx
		nb.Width = original.Width - dx
	} else if h.East() {
		nb.Width = original.Width + dx
	}
	if h.North() {
		nb.Y = original.Y + dy
		nb.Height = original.Height - dy
	} else if h.South() {
		nb.Height = original.Height + dy
	}

	if nb.Width < pr.MinResizeSize {
		if h.West() {
			nb.X = original.X + original.Width - pr.MinResizeSize
		}
		nb.Width = pr.MinResizeSize
	}
	if nb.Height < pr.MinResizeSize {
		if h.North() {
			nb.Y = original.Y + original.Height - pr.MinResizeSize
		}
		nb.Height = pr.MinResizeSize
	}
	return nb
}

// HandleAt uses DefaultParams
func HandleAt(b types.Box, p types.Point) Handle {
	return DefaultParams().HandleAt(b, p)
}

// ApplyResize uses DefaultParams
func ApplyResize(original types.Box, h Handle, dragStart, dragCurrent types.Point) types.Box {
	return DefaultParams().ApplyResize(original, h, dragStart, dragCurrent)
}

// DragBox returns the box spanned by anchor and current, with non-negative size whatever the drag direction
func DragBox(anchor, current types.Point, class string) types.Box {
	b := types.Box{
		X:      min(anchor.X, current.X),
		Y:      min(anchor.Y, current.Y),
		Width:  anchor.X - current.X,
		Height: anchor.Y - current.Y,
		Class:  class,
	}
	if b.Width < 0 {
		b.Width = -b.Width
	}
	if b.Height < 0 {
		b.Height = -b.Height
	}
	return b
}

// Clamp limits v to [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
