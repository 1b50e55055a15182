package session

import "github.com/menta2k/image-annotator/pkg/types"

// View is a copy of everything a renderer needs to draw the annotation surface
type View struct {
	ImageID       string
	ImageIndex    int
	ImageCount    int
	Width         int
	Height        int
	Loaded        bool
	IsAnnotated   bool
	Boxes         []types.Box
	Candidate     *types.Box // box being drawn, not yet committed
	Selected      int        // -1 for none
	Hovered       int        // -1 for none
	Resizing      bool
	Tool          Tool
	Classes       []string
	SelectedClass string
	ShowFilled    bool
	Cursor        string
}

// Snapshot returns a copy of the current view state
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		ImageID:       s.imageID,
		ImageIndex:    s.index,
		ImageCount:    len(s.imageList),
		Width:         s.width,
		Height:        s.height,
		Loaded:        s.loaded,
		Boxes:         types.CloneBoxes(s.boxes),
		Selected:      s.selected,
		Hovered:       s.hovered,
		Resizing:      s.resizing,
		Tool:          s.tool,
		Classes:       append([]string{}, s.classList...),
		SelectedClass: s.selectedClass,
		ShowFilled:    s.showFilled,
		Cursor:        s.cursor,
	}
	if s.index >= 0 && s.index < len(s.imageList) {
		v.IsAnnotated = s.imageList[s.index].IsAnnotated
	}
	if s.candidate != nil {
		c := s.candidate.Clone()
		v.Candidate = &c
	}
	return v
}

// Images returns the image list with current annotation flags
func (s *Session) Images() []types.ImageInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.ImageInfo{}, s.imageList...)
}

// Boxes returns a copy of the current box list
func (s *Session) Boxes() []types.Box {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.CloneBoxes(s.boxes)
}
