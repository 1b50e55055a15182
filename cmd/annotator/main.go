package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	imageannotator "github.com/menta2k/image-annotator"
	"github.com/menta2k/image-annotator/internal/api"
	"github.com/menta2k/image-annotator/internal/config"
	"github.com/menta2k/image-annotator/internal/dataset"
	"github.com/menta2k/image-annotator/internal/models"
	"github.com/menta2k/image-annotator/internal/project"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	parser := argparse.NewParser("annotator", "Bounding-box annotation and dataset tool for object detection")
	projectDir := parser.String("p", "project", &argparse.Options{Help: "Project directory", Default: "."})
	configFile := parser.String("c", "config", &argparse.Options{Help: "Config file path", Default: config.GetConfigPath()})

	initCmd := parser.NewCommand("init", "Create a project")
	initClasses := initCmd.String("", "classes", &argparse.Options{Help: "Comma-separated class list"})

	importCmd := parser.NewCommand("import", "Copy images or URLs into the unlabeled stage")
	importInputs := importCmd.StringList("i", "input", &argparse.Options{Help: "Image file or http(s) URL", Required: true})

	listCmd := parser.NewCommand("list", "List the images of a stage, or of all stages")
	listStage := listCmd.String("s", "stage", &argparse.Options{Help: "Stage name"})

	moveCmd := parser.NewCommand("move", "Move images and their labels between stages")
	moveFiles := moveCmd.StringList("f", "file", &argparse.Options{Help: "Image file name"})
	moveFrom := moveCmd.String("", "from", &argparse.Options{Help: "Source stage", Default: project.StageUnlabeled})
	moveTo := moveCmd.String("", "to", &argparse.Options{Help: "Destination stage", Default: project.StageAnnotation})
	moveAnnotated := moveCmd.Flag("", "annotated", &argparse.Options{Help: "Move every annotated image from annotation to dataset"})

	classesCmd := parser.NewCommand("classes", "Show or edit the class list")
	classesAdd := classesCmd.String("a", "add", &argparse.Options{Help: "Class to add"})
	classesDelete := classesCmd.String("d", "delete", &argparse.Options{Help: "Class to delete"})

	labelsCmd := parser.NewCommand("labels", "Print the boxes of an image")
	labelsStage := labelsCmd.String("s", "stage", &argparse.Options{Help: "Stage name", Default: project.StageAnnotation})
	labelsImage := labelsCmd.String("i", "image", &argparse.Options{Help: "Image file name", Required: true})

	predictCmd := parser.NewCommand("predict", "Add model predictions to label files")
	predictStage := predictCmd.String("s", "stage", &argparse.Options{Help: "Stage name", Default: project.StageAnnotation})
	predictImages := predictCmd.StringList("i", "image", &argparse.Options{Help: "Image file name (default: all unannotated images)"})
	predictModel := predictCmd.String("m", "model", &argparse.Options{Help: "Model id or name (default: prediction.default_model)"})

	renderCmd := parser.NewCommand("render", "Draw the boxes of an image into a preview file")
	renderStage := renderCmd.String("s", "stage", &argparse.Options{Help: "Stage name", Default: project.StageAnnotation})
	renderImage := renderCmd.String("i", "image", &argparse.Options{Help: "Image file name", Required: true})
	renderOutput := renderCmd.File("o", "output", os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0664, &argparse.Options{Help: "Output image file", Required: true})

	datasetCmd := parser.NewCommand("dataset", "List, create or delete train/valid/test datasets")
	datasetCreate := datasetCmd.String("", "create", &argparse.Options{Help: "Name of a dataset to create"})
	datasetDelete := datasetCmd.String("", "delete", &argparse.Options{Help: "Name of a dataset to delete"})
	datasetTrain := datasetCmd.Int("", "train", &argparse.Options{Help: "Train split percentage", Default: 70})
	datasetValid := datasetCmd.Int("", "valid", &argparse.Options{Help: "Validation split percentage", Default: 20})
	datasetTest := datasetCmd.Int("", "test", &argparse.Options{Help: "Test split percentage", Default: 10})
	datasetSeed := datasetCmd.Int("", "seed", &argparse.Options{Help: "Shuffle seed, 0 for random", Default: 0})

	modelsCmd := parser.NewCommand("models", "List, add or delete detection models")
	modelsAdd := modelsCmd.String("", "add", &argparse.Options{Help: "Name of a model to add"})
	modelsBackend := modelsCmd.Selector("b", "backend", []string{"endpoint", "ollama", "llamacpp", "saliency"}, &argparse.Options{Help: "Model backend", Default: "endpoint"})
	modelsURL := modelsCmd.String("u", "url", &argparse.Options{Help: "Endpoint, Ollama or llama.cpp server URL"})
	modelsModel := modelsCmd.String("m", "model", &argparse.Options{Help: "Model name for ollama and llamacpp backends"})
	modelsClass := modelsCmd.String("", "class", &argparse.Options{Help: "Class given to saliency proposals"})
	modelsDelete := modelsCmd.String("", "delete", &argparse.Options{Help: "Id of a model to delete"})

	serveCmd := parser.NewCommand("serve", "Serve the project over HTTP")
	serveListen := serveCmd.String("l", "listen", &argparse.Options{Help: "Listen address (default: server.listen)"})

	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadOrDefault(*configFile)
	if err != nil {
		logger.Errorf("Failed to load config: %v", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if initCmd.Happened() {
		err = runInit(ctx, logger, *projectDir, cfg, *initClasses)
	} else {
		var ws *imageannotator.Workspace
		ws, err = imageannotator.Open(logger, *projectDir, cfg)
		if err == nil {
			switch {
			case importCmd.Happened():
				var names []string
				names, err = ws.Project().Import(ctx, *importInputs)
				if err == nil {
					err = printJSON(names)
				}
			case listCmd.Happened():
				err = runList(ws, *listStage)
			case moveCmd.Happened():
				err = runMove(ws, *moveFiles, *moveFrom, *moveTo, *moveAnnotated)
			case classesCmd.Happened():
				err = runClasses(ctx, ws, *classesAdd, *classesDelete)
			case labelsCmd.Happened():
				var labels *imageannotator.Labels
				labels, err = ws.ReadLabels(ctx, *labelsStage, *labelsImage)
				if err == nil {
					err = printJSON(labels)
				}
			case predictCmd.Happened():
				err = runPredict(ctx, logger, ws, *predictStage, *predictImages, *predictModel)
			case renderCmd.Happened():
				err = ws.RenderPreview(ctx, *renderStage, *renderImage, renderOutput)
				renderOutput.Close()
			case datasetCmd.Happened():
				err = runDataset(ctx, ws, *datasetCreate, *datasetDelete, dataset.Config{
					TrainSplit: *datasetTrain,
					ValidSplit: *datasetValid,
					TestSplit:  *datasetTest,
					Seed:       uint64(*datasetSeed),
				})
			case modelsCmd.Happened():
				err = runModels(ws, *modelsDelete, *modelsAdd, models.Entry{
					Backend: models.Backend(*modelsBackend),
					URL:     *modelsURL,
					Model:   *modelsModel,
					Class:   *modelsClass,
				})
			case serveCmd.Happened():
				err = runServe(ctx, logger, ws, *serveListen)
			}
		}
	}
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func runInit(ctx context.Context, log logs.Log, dir string, cfg *config.Config, classes string) error {
	ws, err := imageannotator.Create(log, dir, cfg)
	if err != nil {
		return err
	}
	if classes == "" {
		return nil
	}
	list := []string{}
	for _, c := range strings.Split(classes, ",") {
		if c = strings.TrimSpace(c); c != "" {
			list = append(list, c)
		}
	}
	return ws.Project().WriteClasses(ctx, list)
}

func runList(ws *imageannotator.Workspace, stage string) error {
	if stage == "" {
		all, err := ws.Project().ListAll()
		if err != nil {
			return err
		}
		return printJSON(all)
	}
	images, err := ws.Project().ListStage(stage)
	if err != nil {
		return err
	}
	return printJSON(images)
}

func runMove(ws *imageannotator.Workspace, files []string, from, to string, annotated bool) error {
	var moved int
	var err error
	if annotated {
		moved, err = ws.Project().MoveAnnotated()
	} else {
		if len(files) == 0 {
			return errors.New("no files given")
		}
		moved, err = ws.Project().Move(files, from, to)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Moved %v images\n", moved)
	return nil
}

// runClasses edits the class list through a session, so that deleting a class
// follows the same rules as the annotation surface
func runClasses(ctx context.Context, ws *imageannotator.Workspace, add, del string) error {
	if add != "" || del != "" {
		s, err := ws.NewSession(ctx, project.StageAnnotation)
		if err != nil {
			return err
		}
		defer s.Close()
		if add != "" {
			if err := s.AddClass(ctx, add); err != nil {
				return err
			}
		}
		if del != "" {
			if err := s.DeleteClass(ctx, del); err != nil {
				return err
			}
		}
	}
	classes, err := ws.Project().ReadClasses(ctx)
	if err != nil {
		return err
	}
	return printJSON(classes)
}

func runPredict(ctx context.Context, log logs.Log, ws *imageannotator.Workspace, stage string, images []string, model string) error {
	if len(images) == 0 {
		list, err := ws.Project().ListStage(stage)
		if err != nil {
			return err
		}
		for _, img := range list {
			if !img.IsAnnotated {
				images = append(images, img.Name)
			}
		}
	}
	total := 0
	for _, name := range images {
		added, err := ws.PredictLabels(ctx, stage, name, model)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warnf("Prediction failed for %v: %v", name, err)
			continue
		}
		total += len(added)
	}
	fmt.Printf("Added %v boxes to %v images\n", total, len(images))
	return nil
}

func runDataset(ctx context.Context, ws *imageannotator.Workspace, create, del string, cfg dataset.Config) error {
	switch {
	case create != "":
		cfg.Name = create
		info, err := ws.CreateDataset(ctx, cfg)
		if err != nil {
			return err
		}
		return printJSON(info)
	case del != "":
		return ws.Datasets().Delete(del)
	}
	list, err := ws.Datasets().List()
	if err != nil {
		return err
	}
	return printJSON(list)
}

func runModels(ws *imageannotator.Workspace, del, add string, entry models.Entry) error {
	switch {
	case del != "":
		return ws.Models().Delete(del)
	case add != "":
		entry.Name = add
		added, err := ws.Models().Add(entry)
		if err != nil {
			return err
		}
		return printJSON(added)
	}
	list, err := ws.Models().List()
	if err != nil {
		return err
	}
	return printJSON(list)
}

func runServe(ctx context.Context, log logs.Log, ws *imageannotator.Workspace, listen string) error {
	if listen == "" {
		listen = ws.Config().Server.Listen
	}
	srv := &http.Server{
		Addr:    listen,
		Handler: api.NewRouter(log, ws),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	log.Infof("Serving %v on http://%v", ws.Project().Name(), listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
