// Package api serves a project over HTTP
package api

import (
	"net/http"

	"github.com/cyclopcam/logs"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	imageannotator "github.com/menta2k/image-annotator"
)

// maxBodySize limits JSON request bodies
const maxBodySize = 10 << 20

func NewRouter(log logs.Log, ws *imageannotator.Workspace) http.Handler {
	h := &Handlers{log: log, ws: ws}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ping", PingHandler)

	r.Get("/stages", h.ListAll)
	r.Get("/stages/{stage}", h.ListStage)
	r.Post("/import", h.Import)
	r.Post("/move", h.Move)

	r.Get("/classes", h.GetClasses)
	r.Put("/classes", h.PutClasses)

	r.Route("/images/{stage}/{image}", func(r chi.Router) {
		r.Get("/", h.GetImage)
		r.Get("/labels", h.GetLabels)
		r.Put("/labels", h.PutLabels)
		r.Post("/predict", h.Predict)
		r.Get("/preview", h.Preview)
	})

	r.Get("/datasets", h.ListDatasets)
	r.Post("/datasets", h.CreateDataset)
	r.Delete("/datasets/{name}", h.DeleteDataset)

	r.Get("/models", h.ListModels)
	r.Post("/models", h.AddModel)
	r.Delete("/models/{id}", h.DeleteModel)

	return r
}
