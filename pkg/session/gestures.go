package session

import (
	"context"
	"unicode"

	"github.com/menta2k/image-annotator/pkg/geometry"
	"github.com/menta2k/image-annotator/pkg/types"
	"golang.org/x/mobile/event/key"
	"golang.org/x/mobile/event/mouse"
)

// Button identifies the pointer button of a press
type Button int

const (
	ButtonPrimary Button = iota
	ButtonSecondary
	ButtonMiddle
)

// Key is a keyboard command understood by the session
type Key int

const (
	KeyNone Key = iota
	KeyDelete
	KeyLeft
	KeyRight
	KeyRepeat
	KeyEscape
	KeyToggleFill
)

// PointerDown starts a gesture at p, in image pixel coordinates
func (s *Session) PointerDown(p types.Point, button Button) {
	if button != ButtonPrimary {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return
	}
	switch s.tool {
	case ToolSelect:
		if s.selected >= 0 && s.selected < len(s.boxes) {
			if h := s.params.Geometry.HandleAt(s.boxes[s.selected], p); h != geometry.HandleNone {
				s.resizing = true
				s.handle = h
				s.dragStart = p
				s.resizeFrom = s.boxes[s.selected].Clone()
				s.cursor = h.Cursor()
				return
			}
		}
		s.selected = s.topmostLocked(p)
	case ToolDraw:
		if s.selectedClass == "" {
			return
		}
		s.drawing = true
		s.anchor = p
		s.candidate = nil
	}
}

// PointerMove updates the gesture in progress, or the hover state when there is none
func (s *Session) PointerMove(p types.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return
	}
	if s.resizing {
		if s.selected >= 0 && s.selected < len(s.boxes) {
			s.boxes[s.selected] = s.params.Geometry.ApplyResize(s.resizeFrom, s.handle, s.dragStart, p)
			s.hit = nil
		}
		return
	}
	if s.drawing {
		b := geometry.DragBox(s.anchor, p, s.selectedClass)
		s.candidate = &b
		return
	}
	if s.tool != ToolSelect {
		return
	}
	s.hovered = s.topmostLocked(p)
	s.cursor = "default"
	if s.selected >= 0 && s.selected < len(s.boxes) {
		if h := s.params.Geometry.HandleAt(s.boxes[s.selected], p); h != geometry.HandleNone {
			s.cursor = h.Cursor()
			return
		}
	}
	if s.hovered >= 0 {
		s.cursor = "pointer"
	}
}

// PointerUp completes the gesture in progress at p
func (s *Session) PointerUp(p types.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resizing {
		s.finishResizeLocked()
		return
	}
	if s.drawing {
		b := geometry.DragBox(s.anchor, p, s.selectedClass)
		s.candidate = &b
		s.finishDrawLocked()
	}
}

// PointerLeave is sent when the pointer exits the surface. An unfinished box is
// committed from its last known extent.
func (s *Session) PointerLeave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hovered = -1
	if s.resizing {
		s.finishResizeLocked()
	} else if s.drawing {
		s.finishDrawLocked()
	}
	s.cursor = "default"
}

func (s *Session) finishResizeLocked() {
	s.resizing = false
	s.handle = geometry.HandleNone
	s.cursor = "default"
	s.persistLocked()
}

func (s *Session) finishDrawLocked() {
	s.drawing = false
	c := s.candidate
	s.candidate = nil
	if c == nil || !s.loaded {
		return
	}
	if c.Width > s.params.MinDrawSize && c.Height > s.params.MinDrawSize {
		s.setBoxesLocked(append(s.boxes, *c))
		s.persistLocked()
	}
}

// KeyDown runs a keyboard command
func (s *Session) KeyDown(ctx context.Context, k Key) error {
	switch k {
	case KeyDelete:
		s.DeleteSelected()
	case KeyLeft:
		return s.Prev(ctx)
	case KeyRight:
		return s.Next(ctx)
	case KeyRepeat:
		return s.RepeatPrevious(ctx)
	case KeyEscape:
		s.ClearSelection()
	case KeyToggleFill:
		s.ToggleFill()
	}
	return nil
}

// HandleMouse feeds a mouse event whose coordinates are already in image pixels
func (s *Session) HandleMouse(e mouse.Event) {
	p := types.Point{X: float64(e.X), Y: float64(e.Y)}
	switch e.Direction {
	case mouse.DirPress:
		s.PointerDown(p, buttonOf(e.Button))
	case mouse.DirRelease:
		s.PointerUp(p)
	case mouse.DirNone:
		s.PointerMove(p)
	}
}

func buttonOf(b mouse.Button) Button {
	switch b {
	case mouse.ButtonLeft:
		return ButtonPrimary
	case mouse.ButtonMiddle:
		return ButtonMiddle
	}
	return ButtonSecondary
}

// HandleKey feeds a keyboard event. Only presses are acted on.
func (s *Session) HandleKey(ctx context.Context, e key.Event) error {
	if e.Direction != key.DirPress {
		return nil
	}
	return s.KeyDown(ctx, KeyOf(e))
}

// KeyOf maps a key event to a session command
func KeyOf(e key.Event) Key {
	switch e.Code {
	case key.CodeDeleteForward:
		return KeyDelete
	case key.CodeLeftArrow:
		return KeyLeft
	case key.CodeRightArrow:
		return KeyRight
	case key.CodeEscape:
		return KeyEscape
	}
	switch unicode.ToLower(e.Rune) {
	case 'r':
		return KeyRepeat
	case 't':
		return KeyToggleFill
	}
	return KeyNone
}
