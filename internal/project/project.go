// Package project stores an annotation project on disk.
//
// A project is a directory with one sub-directory per stage. Each image's label file sits
// next to it as <base>.txt, and the class list lives in project.json.
package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cyclopcam/logs"
	"github.com/menta2k/image-annotator/internal/utils"
	"github.com/menta2k/image-annotator/pkg/imagesource"
	"github.com/menta2k/image-annotator/pkg/types"
)

const (
	StageUnlabeled  = "unlabeled"
	StageAnnotation = "annotation"
	StageDataset    = "dataset"
)

// Stages in the order images progress through them
var Stages = []string{StageUnlabeled, StageAnnotation, StageDataset}

// DefaultClasses is the class list of a project without project.json
var DefaultClasses = []string{"person", "car"}

const configFile = "project.json"

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidStage = errors.New("invalid stage")
	ErrInvalidName  = errors.New("invalid file name")
)

type projectFile struct {
	Classes []string `json:"classes"`
}

// Project is an annotation project rooted at a directory
type Project struct {
	log  logs.Log
	root string

	classLock sync.Mutex
}

// Create makes the stage directories under root, and returns the project.
// An existing project is opened without modification.
func Create(log logs.Log, root string) (*Project, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	for _, s := range Stages {
		if err := utils.EnsureDir(filepath.Join(abs, s)); err != nil {
			return nil, fmt.Errorf("failed to create stage %v: %w", s, err)
		}
	}
	log.Infof("Created project %v", abs)
	return &Project{log: log, root: abs}, nil
}

// Open opens an existing project. A directory with none of the stage directories is not a project.
func Open(log logs.Log, root string) (*Project, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if !utils.DirExists(abs) {
		return nil, fmt.Errorf("project %v: %w", abs, ErrNotFound)
	}
	for _, s := range Stages {
		if utils.DirExists(filepath.Join(abs, s)) {
			return &Project{log: log, root: abs}, nil
		}
	}
	return nil, fmt.Errorf("%v has no stage directories: %w", abs, ErrNotFound)
}

// Root returns the absolute project directory
func (p *Project) Root() string {
	return p.root
}

// Name is the project directory's base name
func (p *Project) Name() string {
	return filepath.Base(p.root)
}

// StageDir returns the directory of a stage
func (p *Project) StageDir(stage string) (string, error) {
	for _, s := range Stages {
		if s == stage {
			return filepath.Join(p.root, s), nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStage, stage)
}

// ListStage lists the images of a stage, sorted by name. An image is annotated when its
// label file exists and holds at least one record.
func (p *Project) ListStage(stage string) ([]types.ImageInfo, error) {
	dir, err := p.StageDir(stage)
	if err != nil {
		return nil, err
	}
	names, err := utils.ListImageFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %v: %w", stage, err)
	}
	out := make([]types.ImageInfo, 0, len(names))
	for _, name := range names {
		out = append(out, types.ImageInfo{
			Name:        name,
			IsAnnotated: hasLabels(utils.LabelPath(filepath.Join(dir, name))),
		})
	}
	return out, nil
}

func hasLabels(labelPath string) bool {
	data, err := os.ReadFile(labelPath)
	return err == nil && strings.TrimSpace(string(data)) != ""
}

// ListAll lists every stage
func (p *Project) ListAll() (map[string][]types.ImageInfo, error) {
	all := map[string][]types.ImageInfo{}
	for _, s := range Stages {
		images, err := p.ListStage(s)
		if err != nil {
			return nil, err
		}
		all[s] = images
	}
	return all, nil
}

// ImagePath returns the path of an existing image in a stage
func (p *Project) ImagePath(stage, name string) (string, error) {
	dir, err := p.StageDir(stage)
	if err != nil {
		return "", err
	}
	if err := checkName(name); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if !utils.FileExists(path) {
		return "", fmt.Errorf("%v/%v: %w", stage, name, ErrNotFound)
	}
	return path, nil
}

// checkName rejects anything that is not a plain image file name
func checkName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || !imagesource.IsImageFile(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Import copies images into the unlabeled stage and returns their new names. Sources may be
// local files or http(s) URLs. Name collisions get a numeric suffix. Sources that are not
// images are skipped with a warning.
func (p *Project) Import(ctx context.Context, sources []string) ([]string, error) {
	dir := filepath.Join(p.root, StageUnlabeled)
	if err := utils.EnsureDir(dir); err != nil {
		return nil, err
	}
	imported := []string{}
	for _, src := range sources {
		if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
			data, ext, err := imagesource.Fetch(ctx, src)
			if err != nil {
				return imported, fmt.Errorf("failed to import %v: %w", src, err)
			}
			base := ""
			if u, err := url.Parse(src); err == nil {
				base = utils.SanitizeFilename(utils.BaseName(path.Base(u.Path)))
			}
			if base == "" || base == "/" {
				base = "image"
			}
			name := utils.UniqueName(dir, base+ext)
			if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
				return imported, err
			}
			imported = append(imported, name)
			continue
		}
		if !imagesource.IsImageFile(src) {
			p.log.Warnf("Skipping %v, which is not an image", src)
			continue
		}
		name := utils.UniqueName(dir, filepath.Base(src))
		if err := utils.CopyFile(src, filepath.Join(dir, name)); err != nil {
			return imported, fmt.Errorf("failed to import %v: %w", src, err)
		}
		imported = append(imported, name)
	}
	p.log.Infof("Imported %v images into %v", len(imported), StageUnlabeled)
	return imported, nil
}

// Move moves images, and their label files if present, from one stage to another.
// An image that cannot be moved is logged and skipped. Returns the number moved.
func (p *Project) Move(files []string, from, to string) (int, error) {
	fromDir, err := p.StageDir(from)
	if err != nil {
		return 0, err
	}
	toDir, err := p.StageDir(to)
	if err != nil {
		return 0, err
	}
	if err := utils.EnsureDir(toDir); err != nil {
		return 0, err
	}
	moved := 0
	for _, name := range files {
		if err := checkName(name); err != nil {
			p.log.Warnf("Failed to move %v from %v to %v: %v", name, from, to, err)
			continue
		}
		src := filepath.Join(fromDir, name)
		if err := utils.MoveFile(src, filepath.Join(toDir, name)); err != nil {
			p.log.Warnf("Failed to move %v from %v to %v: %v", name, from, to, err)
			continue
		}
		moved++
		srcLabel := utils.LabelPath(src)
		if utils.FileExists(srcLabel) {
			if err := utils.MoveFile(srcLabel, utils.LabelPath(filepath.Join(toDir, name))); err != nil {
				p.log.Warnf("Failed to move label for %v: %v", name, err)
			}
		}
	}
	return moved, nil
}

// MoveAnnotated moves every annotated image of the annotation stage to the dataset stage
func (p *Project) MoveAnnotated() (int, error) {
	images, err := p.ListStage(StageAnnotation)
	if err != nil {
		return 0, err
	}
	names := []string{}
	for _, img := range images {
		if img.IsAnnotated {
			names = append(names, img.Name)
		}
	}
	return p.Move(names, StageAnnotation, StageDataset)
}

// ReadClasses returns the project's class list. A missing or unreadable project.json
// yields DefaultClasses.
func (p *Project) ReadClasses(ctx context.Context) ([]string, error) {
	p.classLock.Lock()
	defer p.classLock.Unlock()
	data, err := os.ReadFile(filepath.Join(p.root, configFile))
	if errors.Is(err, os.ErrNotExist) {
		return append([]string{}, DefaultClasses...), nil
	} else if err != nil {
		return nil, err
	}
	var pf projectFile
	if err := json.Unmarshal(data, &pf); err != nil {
		p.log.Warnf("Ignoring unreadable %v: %v", configFile, err)
		return append([]string{}, DefaultClasses...), nil
	}
	if pf.Classes == nil {
		pf.Classes = []string{}
	}
	return pf.Classes, nil
}

// WriteClasses saves the project's class list
func (p *Project) WriteClasses(ctx context.Context, classes []string) error {
	p.classLock.Lock()
	defer p.classLock.Unlock()
	if classes == nil {
		classes = []string{}
	}
	data, err := json.MarshalIndent(projectFile{Classes: classes}, "", "  ")
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(filepath.Join(p.root, configFile), data)
}
