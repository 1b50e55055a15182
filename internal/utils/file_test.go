package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLabelPath(t *testing.T) {
	require.Equal(t, filepath.Join("a", "b", "cat.txt"), LabelPath(filepath.Join("a", "b", "cat.jpg")))
	require.Equal(t, "x.y.txt", LabelPath("x.y.png"))
	require.Equal(t, "cat", BaseName("/tmp/cat.webp"))
}

func TestListImageFiles(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"b.png", "a.JPG", "notes.txt", "c.webp", "a.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0755))

	files, err := ListImageFiles(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"a.JPG", "b.png", "c.webp"}, files)

	files, err = ListImageFiles(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestMoveAndUniqueName(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.jpg")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0644))
	require.Equal(t, "a_1.jpg", UniqueName(dir, "a.jpg"))
	require.Equal(t, "b.jpg", UniqueName(dir, "b.jpg"))

	dst := filepath.Join(dir, "moved.jpg")
	require.NoError(t, MoveFile(src, dst))
	require.False(t, FileExists(src))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "data", string(data))
}

func TestWriteFileAtomic(t *testing.T) {
	p := filepath.Join(t.TempDir(), "f.json")
	require.NoError(t, WriteFileAtomic(p, []byte("1")))
	require.NoError(t, WriteFileAtomic(p, []byte("2")))
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	require.Equal(t, "2", string(data))
	require.False(t, FileExists(p+".tmp"))
}

func TestSanitizeFilename(t *testing.T) {
	require.Equal(t, "a_b_c", SanitizeFilename(" a/b:c. "))
}
