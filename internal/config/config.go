package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/menta2k/image-annotator/pkg/geometry"
	"github.com/menta2k/image-annotator/pkg/predict"
	"github.com/menta2k/image-annotator/pkg/processing"
	"github.com/menta2k/image-annotator/pkg/saliency"
	"github.com/menta2k/image-annotator/pkg/session"
)

// Config holds the application configuration
type Config struct {
	Annotation AnnotationConfig `json:"annotation"`
	Prediction PredictionConfig `json:"prediction"`
	Saliency   SaliencyConfig   `json:"saliency"`
	Render     RenderConfig     `json:"render"`
	Server     ServerConfig     `json:"server"`
}

// AnnotationConfig holds the gesture thresholds of the annotation surface
type AnnotationConfig struct {
	MinDrawSize     float64 `json:"min_draw_size" validate:"gte=0"`
	MinResizeSize   float64 `json:"min_resize_size" validate:"gt=0"`
	HandleSize      float64 `json:"handle_size" validate:"gt=0"`
	HandleTolerance float64 `json:"handle_tolerance" validate:"gte=0"`
}

// PredictionConfig holds configuration for sending images to detection models
type PredictionConfig struct {
	SendFormat     string `json:"send_format" validate:"oneof=jpg png"`
	SendMaxDim     int    `json:"send_max_dim" validate:"gte=0"`
	JPEGQuality    int    `json:"jpeg_quality" validate:"gte=1,lte=100"`
	TimeoutSeconds int    `json:"timeout_seconds" validate:"gte=1"`
	DefaultModel   string `json:"default_model"` // model registry id or name, empty for none
}

// SaliencyConfig holds configuration for the offline saliency proposer
type SaliencyConfig struct {
	EdgeThreshold   float64 `json:"edge_threshold" validate:"gte=0,lte=1"`
	ContrastWeight  float64 `json:"contrast_weight" validate:"gte=0"`
	ColorWeight     float64 `json:"color_weight" validate:"gte=0"`
	MinSubjectRatio float64 `json:"min_subject_ratio" validate:"gte=0,lte=1"`
	MaxRegions      int     `json:"max_regions" validate:"gte=1"`
	IoUThreshold    float64 `json:"iou_threshold" validate:"gt=0,lte=1"`
}

// RenderConfig holds configuration for overlay rendering
type RenderConfig struct {
	Stroke    int    `json:"stroke" validate:"gte=0"`
	FillAlpha int    `json:"fill_alpha" validate:"gte=0,lte=255"`
	Format    string `json:"format" validate:"oneof=jpg png webp"`
	Quality   int    `json:"quality" validate:"gte=1,lte=100"`
	Lossless  bool   `json:"lossless"`
}

// ServerConfig holds configuration for the HTTP API
type ServerConfig struct {
	Listen string `json:"listen" validate:"required,hostname_port"`
}

var validate = validator.New()

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Annotation: AnnotationConfig{
			MinDrawSize:     session.DefaultMinDrawSize,
			MinResizeSize:   geometry.DefaultMinResizeSize,
			HandleSize:      geometry.DefaultHandleSize,
			HandleTolerance: geometry.DefaultHandleTolerance,
		},
		Prediction: PredictionConfig{
			SendFormat:     "jpg",
			SendMaxDim:     1024,
			JPEGQuality:    90,
			TimeoutSeconds: 300,
		},
		Saliency: SaliencyConfig{
			EdgeThreshold:   0.01,
			ContrastWeight:  0.7,
			ColorWeight:     0.3,
			MinSubjectRatio: 0.01,
			MaxRegions:      10,
			IoUThreshold:    0.3,
		},
		Render: RenderConfig{
			FillAlpha: 77,
			Format:    "jpg",
			Quality:   90,
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8420",
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Settings missing from the file keep their defaults.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadOrDefault loads the config at filename, or returns the defaults if the file does not exist
func LoadOrDefault(filename string) (*Config, error) {
	if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return LoadFromFile(filename)
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Annotation.MinResizeSize < c.Annotation.MinDrawSize {
		return fmt.Errorf("annotation.min_resize_size must not be smaller than annotation.min_draw_size")
	}
	if c.Saliency.ContrastWeight+c.Saliency.ColorWeight == 0 {
		return fmt.Errorf("saliency.contrast_weight and saliency.color_weight cannot both be zero")
	}
	return nil
}

// SessionParams returns the gesture parameters of an annotation session
func (c *Config) SessionParams() session.Params {
	return session.Params{
		Geometry: geometry.Params{
			HandleSize:      c.Annotation.HandleSize,
			HandleTolerance: c.Annotation.HandleTolerance,
			MinResizeSize:   c.Annotation.MinResizeSize,
		},
		MinDrawSize: c.Annotation.MinDrawSize,
	}
}

// PredictOptions returns how images are sent to detection models
func (c *Config) PredictOptions() predict.Options {
	return predict.Options{
		Format:       c.Prediction.SendFormat,
		MaxDimension: c.Prediction.SendMaxDim,
		Quality:      c.Prediction.JPEGQuality,
	}
}

// PredictTimeout returns the per-request model timeout
func (c *Config) PredictTimeout() time.Duration {
	return time.Duration(c.Prediction.TimeoutSeconds) * time.Second
}

// SaliencyDetection returns the saliency proposer configuration, labelling proposals with class
func (c *Config) SaliencyDetection(class string) saliency.DetectionConfig {
	return saliency.DetectionConfig{
		EdgeThreshold:   c.Saliency.EdgeThreshold,
		ContrastWeight:  c.Saliency.ContrastWeight,
		ColorWeight:     c.Saliency.ColorWeight,
		MinSubjectRatio: c.Saliency.MinSubjectRatio,
		MaxRegions:      c.Saliency.MaxRegions,
		IoUThreshold:    c.Saliency.IoUThreshold,
		Class:           class,
	}
}

// OverlayOptions returns the overlay style
func (c *Config) OverlayOptions() processing.OverlayOptions {
	opts := processing.DefaultOverlayOptions()
	opts.Stroke = c.Render.Stroke
	opts.FillAlpha = uint8(c.Render.FillAlpha)
	opts.Handles = c.SessionParams().Geometry
	return opts
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "image-annotator", "config.json")
}
