package project

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/menta2k/image-annotator/internal/utils"
	"github.com/menta2k/image-annotator/pkg/imagesource"
)

// Stage gives access to the images and label files of one stage, by image file name
type Stage struct {
	project *Project
	name    string
	dir     string
}

// Stage returns the accessor of a stage
func (p *Project) Stage(stage string) (*Stage, error) {
	dir, err := p.StageDir(stage)
	if err != nil {
		return nil, err
	}
	return &Stage{project: p, name: stage, dir: dir}, nil
}

// Name returns the stage name
func (s *Stage) Name() string {
	return s.name
}

func (s *Stage) imagePath(imageID string) (string, error) {
	return s.project.ImagePath(s.name, imageID)
}

func (s *Stage) labelPath(imageID string) (string, error) {
	if err := checkName(imageID); err != nil {
		return "", err
	}
	return utils.LabelPath(filepath.Join(s.dir, imageID)), nil
}

// ReadLabels returns the label file text of an image. A missing label file is ok == false.
func (s *Stage) ReadLabels(ctx context.Context, imageID string) (string, bool, error) {
	path, err := s.labelPath(imageID)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	} else if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

// WriteLabels replaces the label file of an image
func (s *Stage) WriteLabels(ctx context.Context, imageID, text string) error {
	path, err := s.labelPath(imageID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return utils.WriteFileAtomic(path, []byte(text))
}

// Dimensions returns the pixel size of an image
func (s *Stage) Dimensions(ctx context.Context, imageID string) (int, int, error) {
	path, err := s.imagePath(imageID)
	if err != nil {
		return 0, 0, err
	}
	return imagesource.Dimensions(path)
}

// LoadImage decodes an image
func (s *Stage) LoadImage(ctx context.Context, imageID string) (image.Image, error) {
	path, err := s.imagePath(imageID)
	if err != nil {
		return nil, err
	}
	img, err := imagesource.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %v: %w", imageID, err)
	}
	return img, nil
}

// ReadImage returns the raw bytes of an image
func (s *Stage) ReadImage(ctx context.Context, imageID string) ([]byte, error) {
	path, err := s.imagePath(imageID)
	if err != nil {
		return nil, err
	}
	return imagesource.Read(path)
}
