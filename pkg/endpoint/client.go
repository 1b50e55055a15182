// Package endpoint talks to a hosted detection model over HTTP
package endpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/menta2k/image-annotator/pkg/client"
	"github.com/menta2k/image-annotator/pkg/processing"
	"github.com/menta2k/image-annotator/pkg/types"
)

// DefaultTimeout bounds a single prediction request when ctx has no deadline
const DefaultTimeout = 5 * time.Minute

// Client posts images to a detection endpoint:
//
//	request:  {"image": "data:image/jpeg;base64,..."}
//	response: {"success": true, "predictions": [{"class_id", "class_name", "confidence", "bbox": {"x1","y1","x2","y2"}}], "error": ""}
type Client struct {
	log        logs.Log
	url        string
	httpClient *http.Client
	timeout    time.Duration
}

type predictRequest struct {
	Image string `json:"image"`
}

// NewClient creates a client for the endpoint at url
func NewClient(log logs.Log, url string, timeout time.Duration) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("endpoint URL is empty")
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("endpoint URL must be http or https: %v", url)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		log:        log,
		url:        url,
		httpClient: &http.Client{},
		timeout:    timeout,
	}, nil
}

// Predict implements client.Predictor
func (c *Client) Predict(ctx context.Context, img *processing.Prepared) ([]types.Prediction, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := c.sendRequest(ctx, predictRequest{Image: img.DataURL()})
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	// The response shape varies between model servers, so it is decoded untyped
	var resp map[string]any
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", client.ErrPredictionFailed, err)
	}
	if success, _ := resp["success"].(bool); !success {
		msg, _ := resp["error"].(string)
		if msg == "" {
			msg = "model reported failure"
		}
		return nil, fmt.Errorf("%w: %v", client.ErrPredictionFailed, msg)
	}
	preds, skipped, err := client.PredictionsFromPayload(resp["predictions"])
	if err != nil {
		return nil, err
	}
	if skipped != 0 {
		c.log.Warnf("Endpoint %v returned %v malformed predictions", c.url, skipped)
	}
	return preds, nil
}

func (c *Client) sendRequest(ctx context.Context, payload interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(jsonData))
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
