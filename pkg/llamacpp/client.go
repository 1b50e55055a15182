// Package llamacpp asks a vision model behind a llama.cpp server, or any other
// OpenAI-compatible chat completions endpoint, to propose bounding boxes
package llamacpp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/menta2k/image-annotator/pkg/client"
	"github.com/menta2k/image-annotator/pkg/processing"
	"github.com/menta2k/image-annotator/pkg/types"
)

const DefaultURL = "http://localhost:8080"

type Client struct {
	log        logs.Log
	baseURL    string
	model      string
	classes    []string
	timeout    time.Duration
	httpClient *http.Client
}

// OpenAI-compatible message format
type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // Can be string or []ContentPart
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// OpenAI-compatible chat completion request
type ChatCompletionRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

// ChatCompletionResponse holds the parts of an OpenAI-compatible reply that are read
type ChatCompletionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// NewClient creates a client for the server at serverURL. model may be empty for servers
// that host a single model. classes are the names the model may answer with.
func NewClient(log logs.Log, serverURL, model string, classes []string, timeout time.Duration) (*Client, error) {
	if serverURL == "" {
		serverURL = DefaultURL
	}
	u, err := url.Parse(serverURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid llama.cpp server URL: %v", serverURL)
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		log:        log,
		baseURL:    strings.TrimSuffix(strings.TrimSuffix(serverURL, "/"), "/v1/chat/completions"),
		model:      model,
		classes:    append([]string{}, classes...),
		timeout:    timeout,
		httpClient: &http.Client{},
	}, nil
}

// Predict implements client.Predictor
func (c *Client) Predict(ctx context.Context, img *processing.Prepared) ([]types.Prediction, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	b := img.Image.Bounds()
	req := ChatCompletionRequest{
		Model: c.model,
		Messages: []Message{
			{
				Role: "user",
				Content: []ContentPart{
					{Type: "text", Text: client.DetectionPrompt(b.Dx(), b.Dy(), c.classes)},
					{Type: "image_url", ImageURL: &ImageURL{URL: img.DataURL()}},
				},
			},
		},
		Temperature: 0.1,
		MaxTokens:   4096,
		Stream:      false,
	}

	respBody, err := c.sendRequest(ctx, "/v1/chat/completions", req)
	if err != nil {
		return nil, err
	}

	var resp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", client.ErrPredictionFailed, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in response", client.ErrPredictionFailed)
	}
	text := messageText(resp.Choices[0].Message)
	if text == "" {
		return nil, fmt.Errorf("%w: empty response from llama.cpp server", client.ErrPredictionFailed)
	}

	preds, skipped, err := client.ParseModelReply(text)
	if err != nil {
		return nil, err
	}
	if skipped != 0 {
		c.log.Warnf("llama.cpp model returned %v malformed predictions", skipped)
	}
	return preds, nil
}

// messageText extracts the text of a message whose content is a string or a list of parts
func messageText(m Message) string {
	switch content := m.Content.(type) {
	case string:
		return content
	case []interface{}:
		for _, item := range content {
			if partMap, ok := item.(map[string]interface{}); ok {
				if text, ok := partMap["text"].(string); ok && text != "" {
					return text
				}
			}
		}
	}
	return ""
}

func (c *Client) sendRequest(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: server returned status %d: %s", client.ErrPredictionFailed, resp.StatusCode, string(body))
	}
	return body, nil
}
