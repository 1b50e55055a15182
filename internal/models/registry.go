// Package models keeps the registry of detection models a project can predict with
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/menta2k/image-annotator/internal/config"
	"github.com/menta2k/image-annotator/internal/utils"
	"github.com/menta2k/image-annotator/pkg/client"
	"github.com/menta2k/image-annotator/pkg/endpoint"
	"github.com/menta2k/image-annotator/pkg/llamacpp"
	"github.com/menta2k/image-annotator/pkg/ollama"
	"github.com/menta2k/image-annotator/pkg/saliency"
)

// Backend is the kind of service behind a model entry
type Backend string

const (
	BackendEndpoint Backend = "endpoint" // hosted HTTP detection endpoint
	BackendOllama   Backend = "ollama"   // vision-language model served by Ollama
	BackendLlamaCpp Backend = "llamacpp" // vision-language model behind an OpenAI-compatible server
	BackendSaliency Backend = "saliency" // offline saliency proposer
)

// FileName is the registry file inside a project
const FileName = "models.json"

var (
	ErrNotFound = errors.New("model not found")
	ErrExists   = errors.New("model name already in use")
	ErrInvalid  = errors.New("invalid model")
)

var validate = validator.New()

// Entry is one registered model
type Entry struct {
	ID        string    `json:"id"`
	Name      string    `json:"name" validate:"required,max=64"`
	Backend   Backend   `json:"backend" validate:"oneof=endpoint ollama llamacpp saliency"`
	URL       string    `json:"url,omitempty" validate:"omitempty,url"`
	Model     string    `json:"model,omitempty" validate:"required_if=Backend ollama"`
	Class     string    `json:"class,omitempty"` // class given to saliency proposals
	CreatedAt time.Time `json:"createdAt"`
}

// Registry is the models.json file of a project
type Registry struct {
	log  logs.Log
	path string
	lock sync.Mutex
}

func NewRegistry(log logs.Log, path string) *Registry {
	return &Registry{
		log:  log,
		path: path,
	}
}

func (r *Registry) read() ([]Entry, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return []Entry{}, nil
	} else if err != nil {
		return nil, err
	}
	list := []Entry{}
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse %v: %w", r.path, err)
	}
	return list, nil
}

func (r *Registry) write(list []Entry) error {
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(r.path, data)
}

// List returns all entries in the order they were added
func (r *Registry) List() ([]Entry, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.read()
}

// Get finds an entry by id, or failing that, by name
func (r *Registry) Get(idOrName string) (*Entry, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	list, err := r.read()
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].ID == idOrName {
			return &list[i], nil
		}
	}
	for i := range list {
		if strings.EqualFold(list[i].Name, idOrName) {
			return &list[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrNotFound, idOrName)
}

// Add validates e, assigns it a new id, and saves it
func (r *Registry) Add(e Entry) (*Entry, error) {
	if err := validate.Struct(&e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if e.Backend != BackendSaliency && e.URL == "" {
		return nil, fmt.Errorf("%w: %v backend needs a url", ErrInvalid, e.Backend)
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	list, err := r.read()
	if err != nil {
		return nil, err
	}
	for _, x := range list {
		if strings.EqualFold(x.Name, e.Name) {
			return nil, fmt.Errorf("%w: %v", ErrExists, e.Name)
		}
	}
	e.ID = uuid.NewString()
	e.CreatedAt = time.Now().UTC()
	if err := r.write(append(list, e)); err != nil {
		return nil, err
	}
	r.log.Infof("Registered %v model %v (%v)", e.Backend, e.Name, e.ID)
	return &e, nil
}

// Delete removes an entry by id
func (r *Registry) Delete(id string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	list, err := r.read()
	if err != nil {
		return err
	}
	kept := make([]Entry, 0, len(list))
	for _, x := range list {
		if x.ID != id {
			kept = append(kept, x)
		}
	}
	if len(kept) == len(list) {
		return fmt.Errorf("%w: %v", ErrNotFound, id)
	}
	return r.write(kept)
}

// Predictor builds the client of an entry. classes are the project's class names.
func Predictor(log logs.Log, e Entry, classes []string, cfg *config.Config) (client.Predictor, error) {
	switch e.Backend {
	case BackendEndpoint:
		return endpoint.NewClient(log, e.URL, cfg.PredictTimeout())
	case BackendOllama:
		return ollama.NewClient(log, e.URL, e.Model, classes, cfg.PredictTimeout())
	case BackendLlamaCpp:
		return llamacpp.NewClient(log, e.URL, e.Model, classes, cfg.PredictTimeout())
	case BackendSaliency:
		class := e.Class
		if class == "" && len(classes) != 0 {
			class = classes[0]
		}
		return saliency.NewWithConfig(cfg.SaliencyDetection(class)), nil
	}
	return nil, fmt.Errorf("unknown model backend %q", e.Backend)
}
