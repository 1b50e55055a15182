// Package ollama asks a vision-language model served by Ollama to propose bounding boxes
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/menta2k/image-annotator/pkg/client"
	"github.com/menta2k/image-annotator/pkg/processing"
	"github.com/menta2k/image-annotator/pkg/types"
	"github.com/ollama/ollama/api"
)

// Client wraps the Ollama API client
type Client struct {
	log     logs.Log
	client  *api.Client
	model   string
	classes []string
	timeout time.Duration
}

// NewClient creates a new Ollama client for model. classes are the names the model may answer with.
func NewClient(log logs.Log, ollamaURL, model string, classes []string, timeout time.Duration) (*Client, error) {
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL: %v", ollamaURL)
	}
	if model == "" {
		return nil, fmt.Errorf("ollama model name is empty")
	}
	if timeout <= 0 {
		timeout = 300 * time.Second
	}

	// Strip any path like /api/chat
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	return &Client{
		log:     log,
		client:  api.NewClient(baseURL, http.DefaultClient),
		model:   model,
		classes: append([]string{}, classes...),
		timeout: timeout,
	}, nil
}

// Prompt returns the full prompt for an image of the given size
func (c *Client) Prompt(width, height int) string {
	return client.DetectionPrompt(width, height, c.classes)
}

// Predict implements client.Predictor
func (c *Client) Predict(ctx context.Context, img *processing.Prepared) ([]types.Prediction, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	options := map[string]any{
		"temperature": 0.1,
	}
	modelLower := strings.ToLower(c.model)
	if strings.Contains(modelLower, "minicpm-v") || strings.Contains(modelLower, "qwen2.5vl") {
		options["num_ctx"] = 4096
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: c.Prompt(img.Image.Bounds().Dx(), img.Image.Bounds().Dy()),
				Images:  []api.ImageData{api.ImageData(img.Payload)},
			},
		},
		Stream:  &streamFalse,
		Options: options,
	}

	var responseContent string
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseContent += resp.Message.Content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat error: %w", err)
	}
	if responseContent == "" {
		return nil, fmt.Errorf("%w: empty response from ollama", client.ErrPredictionFailed)
	}

	preds, skipped, err := client.ParseModelReply(responseContent)
	if err != nil {
		return nil, err
	}
	if skipped != 0 {
		c.log.Warnf("Model %v returned %v malformed predictions", c.model, skipped)
	}
	return preds, nil
}
