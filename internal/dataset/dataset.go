// Package dataset exports the annotated images of a project into train/valid/test splits
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/go-playground/validator/v10"
	"github.com/menta2k/image-annotator/internal/project"
	"github.com/menta2k/image-annotator/internal/utils"
)

const (
	datasetsDir  = "datasets"
	manifestFile = "datasets.json"
	classesFile  = "classes.txt"
)

// Splits are the sub-directories of every dataset
var Splits = []string{"train", "valid", "test"}

var (
	ErrInvalidSplit = errors.New("train, valid and test splits must sum to 100")
	ErrInvalidName  = errors.New("invalid dataset name")
	ErrExists       = errors.New("dataset already exists")
	ErrNotFound     = errors.New("dataset not found")
)

var validate = validator.New()

// Config describes a dataset to create. Splits are percentages.
type Config struct {
	Name       string `json:"name" validate:"required,max=128"`
	TrainSplit int    `json:"trainSplit" validate:"min=0,max=100"`
	ValidSplit int    `json:"validSplit" validate:"min=0,max=100"`
	TestSplit  int    `json:"testSplit" validate:"min=0,max=100"`

	// Seed of the shuffle. Zero picks a random seed.
	Seed uint64 `json:"seed,omitempty"`
}

// Validate checks the name and the split percentages
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && verrs[0].Field() == "Name" {
			return fmt.Errorf("%w: %v", ErrInvalidName, err)
		}
		return fmt.Errorf("%w: %v", ErrInvalidSplit, err)
	}
	if c.Name != filepath.Base(c.Name) || strings.HasPrefix(c.Name, ".") || strings.ContainsAny(c.Name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, c.Name)
	}
	if c.TrainSplit+c.ValidSplit+c.TestSplit != 100 {
		return ErrInvalidSplit
	}
	return nil
}

// Info is an entry of datasets.json
type Info struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	TrainSplit  int       `json:"trainSplit"`
	ValidSplit  int       `json:"validSplit"`
	TestSplit   int       `json:"testSplit"`
	TotalImages int       `json:"totalImages"`
	Counts      Counts    `json:"counts"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Counts is the number of images placed in each split
type Counts struct {
	Train int `json:"train"`
	Valid int `json:"valid"`
	Test  int `json:"test"`
}

// SplitCounts floors the train and valid shares of total, and gives the remainder to test
func SplitCounts(total, trainPct, validPct int) Counts {
	c := Counts{
		Train: total * trainPct / 100,
		Valid: total * validPct / 100,
	}
	c.Test = total - c.Train - c.Valid
	return c
}

// Manager creates and deletes the datasets of one project
type Manager struct {
	log     logs.Log
	project *project.Project
	lock    sync.Mutex
}

func NewManager(log logs.Log, p *project.Project) *Manager {
	return &Manager{
		log:     log,
		project: p,
	}
}

func (m *Manager) manifestPath() string {
	return filepath.Join(m.project.Root(), manifestFile)
}

func (m *Manager) readManifest() ([]Info, error) {
	data, err := os.ReadFile(m.manifestPath())
	if errors.Is(err, os.ErrNotExist) {
		return []Info{}, nil
	} else if err != nil {
		return nil, err
	}
	list := []Info{}
	if err := json.Unmarshal(data, &list); err != nil {
		m.log.Warnf("Ignoring unreadable %v: %v", manifestFile, err)
		return []Info{}, nil
	}
	return list, nil
}

func (m *Manager) writeManifest(list []Info) error {
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(m.manifestPath(), data)
}

// List returns the project's datasets in creation order
func (m *Manager) List() ([]Info, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.readManifest()
}

// Create copies the images of the dataset stage, with their label files, into a new dataset
func (m *Manager) Create(cfg Config, classes []string) (*Info, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	list, err := m.readManifest()
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(m.project.Root(), datasetsDir, cfg.Name)
	if utils.DirExists(dir) {
		return nil, fmt.Errorf("%w: %v", ErrExists, cfg.Name)
	}
	for _, d := range list {
		if d.Name == cfg.Name {
			return nil, fmt.Errorf("%w: %v", ErrExists, cfg.Name)
		}
	}

	srcDir, err := m.project.StageDir(project.StageDataset)
	if err != nil {
		return nil, err
	}
	images, err := utils.ListImageFiles(srcDir)
	if err != nil {
		return nil, err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	rng.Shuffle(len(images), func(i, j int) { images[i], images[j] = images[j], images[i] })

	counts := SplitCounts(len(images), cfg.TrainSplit, cfg.ValidSplit)
	parts := map[string][]string{
		"train": images[:counts.Train],
		"valid": images[counts.Train : counts.Train+counts.Valid],
		"test":  images[counts.Train+counts.Valid:],
	}

	if err := m.writeSplits(dir, srcDir, parts, classes); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	info := Info{
		Name:        cfg.Name,
		Path:        dir,
		TrainSplit:  cfg.TrainSplit,
		ValidSplit:  cfg.ValidSplit,
		TestSplit:   cfg.TestSplit,
		TotalImages: len(images),
		Counts:      counts,
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.writeManifest(append(list, info)); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	m.log.Infof("Created dataset %v: %v train, %v valid, %v test", cfg.Name, counts.Train, counts.Valid, counts.Test)
	return &info, nil
}

// writeSplits copies each split's images and labels under dir, and writes the class list
func (m *Manager) writeSplits(dir, srcDir string, parts map[string][]string, classes []string) error {
	for _, split := range Splits {
		imgDir := filepath.Join(dir, split, "images")
		lblDir := filepath.Join(dir, split, "labels")
		if err := utils.EnsureDir(imgDir); err != nil {
			return err
		}
		if err := utils.EnsureDir(lblDir); err != nil {
			return err
		}
		for _, name := range parts[split] {
			src := filepath.Join(srcDir, name)
			if err := utils.CopyFile(src, filepath.Join(imgDir, name)); err != nil {
				return fmt.Errorf("failed to copy %v: %w", name, err)
			}
			label := utils.LabelPath(src)
			if !utils.FileExists(label) {
				m.log.Debugf("No label file for %v", name)
				continue
			}
			if err := utils.CopyFile(label, filepath.Join(lblDir, filepath.Base(label))); err != nil {
				return fmt.Errorf("failed to copy label of %v: %w", name, err)
			}
		}
	}

	return os.WriteFile(filepath.Join(dir, classesFile), []byte(strings.Join(classes, "\n")+"\n"), 0644)
}

// Delete removes a dataset's directory and its manifest entry
func (m *Manager) Delete(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	list, err := m.readManifest()
	if err != nil {
		return err
	}
	dir := filepath.Join(m.project.Root(), datasetsDir, name)
	found := utils.DirExists(dir)
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	kept := make([]Info, 0, len(list))
	for _, d := range list {
		if d.Name == name {
			found = true
			continue
		}
		kept = append(kept, d)
	}
	if !found {
		return fmt.Errorf("%w: %v", ErrNotFound, name)
	}
	m.log.Infof("Deleted dataset %v", name)
	return m.writeManifest(kept)
}
