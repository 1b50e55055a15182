package project

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/menta2k/image-annotator/pkg/types"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func writePNG(t *testing.T, path string, w, h int) {
	require.NoError(t, os.WriteFile(path, pngBytes(t, w, h), 0644))
}

func newProject(t *testing.T) *Project {
	p, err := Create(logs.NewTestingLog(t), filepath.Join(t.TempDir(), "proj"))
	require.NoError(t, err)
	return p
}

func TestCreateAndOpen(t *testing.T) {
	log := logs.NewTestingLog(t)
	p := newProject(t)
	for _, s := range Stages {
		dir, err := p.StageDir(s)
		require.NoError(t, err)
		require.DirExists(t, dir)
	}
	require.Equal(t, "proj", p.Name())

	_, err := p.StageDir("bogus")
	require.ErrorIs(t, err, ErrInvalidStage)

	q, err := Open(log, p.Root())
	require.NoError(t, err)
	require.Equal(t, p.Root(), q.Root())

	_, err = Open(log, t.TempDir())
	require.ErrorIs(t, err, ErrNotFound)
	_, err = Open(log, filepath.Join(t.TempDir(), "missing"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestImportListMove(t *testing.T) {
	p := newProject(t)
	src := t.TempDir()
	writePNG(t, filepath.Join(src, "a.png"), 10, 8)
	writePNG(t, filepath.Join(src, "b.png"), 10, 8)
	require.NoError(t, os.WriteFile(filepath.Join(src, "notes.txt"), []byte("x"), 0644))

	names, err := p.Import(context.Background(), []string{
		filepath.Join(src, "a.png"),
		filepath.Join(src, "b.png"),
		filepath.Join(src, "notes.txt"),
		filepath.Join(src, "a.png"),
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a.png", "b.png", "a_1.png"}, names)

	images, err := p.ListStage(StageUnlabeled)
	require.NoError(t, err)
	require.Equal(t, []types.ImageInfo{{Name: "a.png"}, {Name: "a_1.png"}, {Name: "b.png"}}, images)

	moved, err := p.Move([]string{"a.png", "b.png", "missing.png", "../x.png"}, StageUnlabeled, StageAnnotation)
	require.NoError(t, err)
	require.Equal(t, 2, moved)

	st, err := p.Stage(StageAnnotation)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, st.WriteLabels(ctx, "a.png", "0 0.5 0.5 0.2 0.2"))
	require.NoError(t, st.WriteLabels(ctx, "b.png", ""))

	images, err = p.ListStage(StageAnnotation)
	require.NoError(t, err)
	require.Equal(t, []types.ImageInfo{{Name: "a.png", IsAnnotated: true}, {Name: "b.png"}}, images)

	moved, err = p.MoveAnnotated()
	require.NoError(t, err)
	require.Equal(t, 1, moved)

	all, err := p.ListAll()
	require.NoError(t, err)
	require.Len(t, all[StageDataset], 1)
	require.True(t, all[StageDataset][0].IsAnnotated)
	require.FileExists(t, filepath.Join(p.Root(), StageDataset, "a.txt"))
	require.Len(t, all[StageAnnotation], 1)
	require.Len(t, all[StageUnlabeled], 1)
}

func TestImportURL(t *testing.T) {
	data := pngBytes(t, 4, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
	defer srv.Close()

	p := newProject(t)
	names, err := p.Import(context.Background(), []string{srv.URL + "/photos/street.png?size=large"})
	require.NoError(t, err)
	require.Equal(t, []string{"street.png"}, names)
	require.FileExists(t, filepath.Join(p.Root(), StageUnlabeled, "street.png"))
}

func TestStageStore(t *testing.T) {
	p := newProject(t)
	ctx := context.Background()
	writePNG(t, filepath.Join(p.Root(), StageAnnotation, "cat.png"), 64, 48)

	st, err := p.Stage(StageAnnotation)
	require.NoError(t, err)

	text, ok, err := st.ReadLabels(ctx, "cat.png")
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, text)

	require.NoError(t, st.WriteLabels(ctx, "cat.png", "1 0.5 0.5 0.25 0.25"))
	text, ok, err = st.ReadLabels(ctx, "cat.png")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1 0.5 0.5 0.25 0.25", text)

	w, h, err := st.Dimensions(ctx, "cat.png")
	require.NoError(t, err)
	require.Equal(t, 64, w)
	require.Equal(t, 48, h)

	img, err := st.LoadImage(ctx, "cat.png")
	require.NoError(t, err)
	require.Equal(t, 64, img.Bounds().Dx())

	_, _, err = st.Dimensions(ctx, "dog.png")
	require.ErrorIs(t, err, ErrNotFound)
	_, _, err = st.ReadLabels(ctx, "../cat.png")
	require.ErrorIs(t, err, ErrInvalidName)
}

func TestClasses(t *testing.T) {
	p := newProject(t)
	ctx := context.Background()

	classes, err := p.ReadClasses(ctx)
	require.NoError(t, err)
	require.Equal(t, DefaultClasses, classes)

	require.NoError(t, p.WriteClasses(ctx, []string{"cat", "dog"}))
	classes, err = p.ReadClasses(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"cat", "dog"}, classes)

	require.NoError(t, os.WriteFile(filepath.Join(p.Root(), configFile), []byte("{broken"), 0644))
	classes, err = p.ReadClasses(ctx)
	require.NoError(t, err)
	require.Equal(t, DefaultClasses, classes)
}
