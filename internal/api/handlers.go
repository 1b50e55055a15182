package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cyclopcam/logs"
	"github.com/go-chi/chi/v5"
	imageannotator "github.com/menta2k/image-annotator"
	"github.com/menta2k/image-annotator/internal/dataset"
	"github.com/menta2k/image-annotator/internal/models"
	"github.com/menta2k/image-annotator/internal/project"
	"github.com/menta2k/image-annotator/pkg/client"
	"github.com/menta2k/image-annotator/pkg/codec"
	"github.com/menta2k/image-annotator/pkg/types"
)

type Handlers struct {
	log logs.Log
	ws  *imageannotator.Workspace
}

func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// writeError maps package errors onto HTTP status codes
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, project.ErrNotFound), errors.Is(err, dataset.ErrNotFound), errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, project.ErrInvalidStage), errors.Is(err, project.ErrInvalidName),
		errors.Is(err, dataset.ErrInvalidName), errors.Is(err, dataset.ErrInvalidSplit),
		errors.Is(err, codec.ErrInvalidDimensions), errors.Is(err, models.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, dataset.ErrExists), errors.Is(err, models.ErrExists):
		status = http.StatusConflict
	case errors.Is(err, client.ErrPredictionFailed):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		h.log.Errorf("%v %v failed: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handlers) ListAll(w http.ResponseWriter, r *http.Request) {
	all, err := h.ws.Project().ListAll()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (h *Handlers) ListStage(w http.ResponseWriter, r *http.Request) {
	images, err := h.ws.Project().ListStage(chi.URLParam(r, "stage"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, images)
}

func (h *Handlers) Import(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sources []string `json:"sources"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	names, err := h.ws.Project().Import(r.Context(), req.Sources)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"imported": names})
}

func (h *Handlers) Move(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Files []string `json:"files"`
		From  string   `json:"from"`
		To    string   `json:"to"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	moved, err := h.ws.Project().Move(req.Files, req.From, req.To)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"moved": moved})
}

func (h *Handlers) GetClasses(w http.ResponseWriter, r *http.Request) {
	classes, err := h.ws.Project().ReadClasses(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"classes": classes})
}

func (h *Handlers) PutClasses(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Classes []string `json:"classes"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	seen := map[string]bool{}
	for _, c := range req.Classes {
		if c == "" || seen[c] {
			http.Error(w, "Class names must be unique and non-empty", http.StatusBadRequest)
			return
		}
		seen[c] = true
	}
	if err := h.ws.Project().WriteClasses(r.Context(), req.Classes); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"classes": req.Classes})
}

func (h *Handlers) GetImage(w http.ResponseWriter, r *http.Request) {
	path, err := h.ws.Project().ImagePath(chi.URLParam(r, "stage"), chi.URLParam(r, "image"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	http.ServeFile(w, r, path)
}

func (h *Handlers) GetLabels(w http.ResponseWriter, r *http.Request) {
	labels, err := h.ws.ReadLabels(r.Context(), chi.URLParam(r, "stage"), chi.URLParam(r, "image"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, labels)
}

func (h *Handlers) PutLabels(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Boxes []types.Box `json:"boxes"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	dropped, err := h.ws.WriteLabels(r.Context(), chi.URLParam(r, "stage"), chi.URLParam(r, "image"), req.Boxes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"saved": len(req.Boxes) - dropped, "dropped": dropped})
}

func (h *Handlers) Predict(w http.ResponseWriter, r *http.Request) {
	added, err := h.ws.PredictLabels(r.Context(), chi.URLParam(r, "stage"), chi.URLParam(r, "image"), r.URL.Query().Get("model"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"added": added})
}

func (h *Handlers) Preview(w http.ResponseWriter, r *http.Request) {
	format := h.ws.Config().Render.Format
	switch format {
	case "png":
		w.Header().Set("Content-Type", "image/png")
	case "webp":
		w.Header().Set("Content-Type", "image/webp")
	default:
		w.Header().Set("Content-Type", "image/jpeg")
	}
	// Encode fully before writing, so that errors can still set the status
	var buf bytes.Buffer
	if err := h.ws.RenderPreview(r.Context(), chi.URLParam(r, "stage"), chi.URLParam(r, "image"), &buf); err != nil {
		w.Header().Del("Content-Type")
		h.writeError(w, r, err)
		return
	}
	w.Write(buf.Bytes())
}

func (h *Handlers) ListDatasets(w http.ResponseWriter, r *http.Request) {
	list, err := h.ws.Datasets().List()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handlers) CreateDataset(w http.ResponseWriter, r *http.Request) {
	var cfg dataset.Config
	if !readJSON(w, r, &cfg) {
		return
	}
	info, err := h.ws.CreateDataset(r.Context(), cfg)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (h *Handlers) DeleteDataset(w http.ResponseWriter, r *http.Request) {
	if err := h.ws.Datasets().Delete(chi.URLParam(r, "name")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ListModels(w http.ResponseWriter, r *http.Request) {
	list, err := h.ws.Models().List()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handlers) AddModel(w http.ResponseWriter, r *http.Request) {
	var e models.Entry
	if !readJSON(w, r, &e) {
		return
	}
	added, err := h.ws.Models().Add(e)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

func (h *Handlers) DeleteModel(w http.ResponseWriter, r *http.Request) {
	if err := h.ws.Models().Delete(chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
