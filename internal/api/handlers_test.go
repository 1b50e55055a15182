package api

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cyclopcam/logs"
	imageannotator "github.com/menta2k/image-annotator"
	"github.com/menta2k/image-annotator/internal/models"
	"github.com/menta2k/image-annotator/internal/project"
	"github.com/menta2k/image-annotator/pkg/types"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) (*httptest.Server, *imageannotator.Workspace) {
	log := logs.NewTestingLog(t)
	ws, err := imageannotator.Create(log, filepath.Join(t.TempDir(), "proj"), nil)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 100, 80))))
	require.NoError(t, os.WriteFile(filepath.Join(ws.Project().Root(), project.StageAnnotation, "a.png"), buf.Bytes(), 0644))

	srv := httptest.NewServer(NewRouter(log, ws))
	t.Cleanup(srv.Close)
	return srv, ws
}

func do(t *testing.T, method, url string, body any) *http.Response {
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestPing(t *testing.T) {
	srv, _ := newServer(t)
	resp := do(t, "GET", srv.URL+"/ping", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStages(t *testing.T) {
	srv, _ := newServer(t)

	resp := do(t, "GET", srv.URL+"/stages/annotation", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var images []types.ImageInfo
	decode(t, resp, &images)
	require.Equal(t, []types.ImageInfo{{Name: "a.png"}}, images)

	resp = do(t, "GET", srv.URL+"/stages/bogus", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, "POST", srv.URL+"/move", map[string]any{"files": []string{"a.png"}, "from": "annotation", "to": "dataset"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var moved map[string]int
	decode(t, resp, &moved)
	require.Equal(t, 1, moved["moved"])

	resp = do(t, "GET", srv.URL+"/stages", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var all map[string][]types.ImageInfo
	decode(t, resp, &all)
	require.Len(t, all[project.StageDataset], 1)
	require.Empty(t, all[project.StageAnnotation])
}

func TestClassesAndLabels(t *testing.T) {
	srv, _ := newServer(t)

	resp := do(t, "PUT", srv.URL+"/classes", map[string]any{"classes": []string{"cat", "dog"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = do(t, "PUT", srv.URL+"/classes", map[string]any{"classes": []string{"cat", "cat"}})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, "GET", srv.URL+"/classes", nil)
	var classes map[string][]string
	decode(t, resp, &classes)
	require.Equal(t, []string{"cat", "dog"}, classes["classes"])

	resp = do(t, "PUT", srv.URL+"/images/annotation/a.png/labels", map[string]any{"boxes": []types.Box{
		{X: 10, Y: 10, Width: 50, Height: 40, Class: "dog"},
		{X: 10, Y: 10, Width: 50, Height: 40, Class: "person"},
	}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var saved map[string]int
	decode(t, resp, &saved)
	require.Equal(t, map[string]int{"saved": 1, "dropped": 1}, saved)

	resp = do(t, "GET", srv.URL+"/images/annotation/a.png/labels", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var labels imageannotator.Labels
	decode(t, resp, &labels)
	require.Equal(t, 100, labels.Width)
	require.Len(t, labels.Boxes, 1)
	require.Equal(t, "dog", labels.Boxes[0].Class)

	resp = do(t, "GET", srv.URL+"/images/annotation/missing.png/labels", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, "GET", srv.URL+"/images/annotation/a.png/preview", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))

	resp = do(t, "GET", srv.URL+"/images/annotation/a.png", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDatasetsAndModels(t *testing.T) {
	srv, _ := newServer(t)

	resp := do(t, "POST", srv.URL+"/datasets", map[string]any{"name": "v1", "trainSplit": 50, "validSplit": 10, "testSplit": 10})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, "POST", srv.URL+"/datasets", map[string]any{"name": "v1", "trainSplit": 80, "validSplit": 10, "testSplit": 10})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = do(t, "POST", srv.URL+"/datasets", map[string]any{"name": "v1", "trainSplit": 80, "validSplit": 10, "testSplit": 10})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(t, "DELETE", srv.URL+"/datasets/v1", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = do(t, "DELETE", srv.URL+"/datasets/v1", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, "POST", srv.URL+"/models", map[string]any{"name": "remote", "backend": "endpoint"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, "POST", srv.URL+"/models", map[string]any{"name": "remote", "backend": "endpoint", "url": "http://localhost:9/predict"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var entry models.Entry
	decode(t, resp, &entry)
	require.NotEmpty(t, entry.ID)

	resp = do(t, "GET", srv.URL+"/models", nil)
	var list []models.Entry
	decode(t, resp, &list)
	require.Len(t, list, 1)

	resp = do(t, "POST", srv.URL+"/images/annotation/a.png/predict?model=nothing", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, "DELETE", srv.URL+"/models/"+entry.ID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestInvalidJSON(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Post(srv.URL+"/move", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
