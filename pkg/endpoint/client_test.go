package endpoint

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/menta2k/image-annotator/pkg/client"
	"github.com/menta2k/image-annotator/pkg/processing"
	"github.com/stretchr/testify/require"
)

func prepared(t *testing.T) *processing.Prepared {
	img := image.NewNRGBA(image.Rect(0, 0, 20, 10))
	p, err := processing.NewProcessor().PrepareImageForModel(img, "jpg", 0, 80)
	require.NoError(t, err)
	return p
}

func TestPredict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		var req predictRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.True(t, strings.HasPrefix(req.Image, "data:image/jpeg;base64,"))
		w.Write([]byte(`{"success": true, "predictions": [
			{"class_id": 0, "class_name": "person", "confidence": 0.8, "bbox": {"x1": 1, "y1": 1, "x2": 15, "y2": 9}},
			{"class_id": 1, "bbox": {"x1": 1}}
		]}`))
	}))
	defer srv.Close()

	c, err := NewClient(logs.NewTestingLog(t), srv.URL+"/predict", 0)
	require.NoError(t, err)
	var _ client.Predictor = c
	preds, err := c.Predict(context.Background(), prepared(t))
	require.NoError(t, err)
	require.Len(t, preds, 1)
	require.Equal(t, "person", preds[0].ClassName)
	require.Equal(t, 15.0, preds[0].BBox.X2)
}

func TestPredictFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fail":
			w.Write([]byte(`{"success": false, "error": "model not loaded"}`))
		case "/garbage":
			w.Write([]byte(`<html>`))
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	for _, path := range []string{"/fail", "/garbage", "/500"} {
		c, err := NewClient(logs.NewTestingLog(t), srv.URL+path, 0)
		require.NoError(t, err)
		_, err = c.Predict(context.Background(), prepared(t))
		require.ErrorIs(t, err, client.ErrPredictionFailed, path)
	}

	c, _ := NewClient(logs.NewTestingLog(t), srv.URL+"/fail", 0)
	_, err := c.Predict(context.Background(), prepared(t))
	require.Contains(t, err.Error(), "model not loaded")
}

func TestNewClientValidatesURL(t *testing.T) {
	_, err := NewClient(logs.NewTestingLog(t), "", 0)
	require.Error(t, err)
	_, err = NewClient(logs.NewTestingLog(t), "ftp://x", 0)
	require.Error(t, err)
}
