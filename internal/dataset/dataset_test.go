package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/menta2k/image-annotator/internal/project"
	"github.com/stretchr/testify/require"
)

func TestSplitCounts(t *testing.T) {
	require.Equal(t, Counts{Train: 7, Valid: 2, Test: 1}, SplitCounts(10, 70, 20))
	require.Equal(t, Counts{Train: 2, Valid: 0, Test: 1}, SplitCounts(3, 70, 20))
	require.Equal(t, Counts{}, SplitCounts(0, 70, 20))
}

func TestConfigValidate(t *testing.T) {
	ok := Config{Name: "v1", TrainSplit: 70, ValidSplit: 20, TestSplit: 10}
	require.NoError(t, ok.Validate())

	bad := ok
	bad.TestSplit = 20
	require.ErrorIs(t, bad.Validate(), ErrInvalidSplit)

	bad = ok
	bad.TrainSplit = -10
	bad.TestSplit = 90
	require.ErrorIs(t, bad.Validate(), ErrInvalidSplit)

	for _, name := range []string{"", "../x", "a/b", ".hidden"} {
		bad = ok
		bad.Name = name
		require.ErrorIs(t, bad.Validate(), ErrInvalidName, name)
	}
}

func setup(t *testing.T, n int) (*Manager, *project.Project) {
	log := logs.NewTestingLog(t)
	p, err := project.Create(log, t.TempDir())
	require.NoError(t, err)
	dir, err := p.StageDir(project.StageDataset)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		base := string(rune('a' + i))
		require.NoError(t, os.WriteFile(filepath.Join(dir, base+".jpg"), []byte("jpg"), 0644))
		if i%2 == 0 {
			require.NoError(t, os.WriteFile(filepath.Join(dir, base+".txt"), []byte("0 0.5 0.5 0.1 0.1"), 0644))
		}
	}
	return NewManager(log, p), p
}

func countFiles(t *testing.T, dir string) int {
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return len(entries)
}

func TestCreateListDelete(t *testing.T) {
	m, p := setup(t, 10)

	info, err := m.Create(Config{Name: "v1", TrainSplit: 70, ValidSplit: 20, TestSplit: 10, Seed: 42}, []string{"person", "car"})
	require.NoError(t, err)
	require.Equal(t, 10, info.TotalImages)
	require.Equal(t, Counts{Train: 7, Valid: 2, Test: 1}, info.Counts)

	root := filepath.Join(p.Root(), "datasets", "v1")
	require.Equal(t, 7, countFiles(t, filepath.Join(root, "train", "images")))
	require.Equal(t, 2, countFiles(t, filepath.Join(root, "valid", "images")))
	require.Equal(t, 1, countFiles(t, filepath.Join(root, "test", "images")))
	labels := countFiles(t, filepath.Join(root, "train", "labels")) +
		countFiles(t, filepath.Join(root, "valid", "labels")) +
		countFiles(t, filepath.Join(root, "test", "labels"))
	require.Equal(t, 5, labels)

	classes, err := os.ReadFile(filepath.Join(root, "classes.txt"))
	require.NoError(t, err)
	require.Equal(t, "person\ncar\n", string(classes))

	_, err = m.Create(Config{Name: "v1", TrainSplit: 100}, nil)
	require.ErrorIs(t, err, ErrExists)

	_, err = m.Create(Config{Name: "v2", TrainSplit: 50, ValidSplit: 50}, nil)
	require.NoError(t, err)

	list, err := m.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "v1", list[0].Name)
	require.Equal(t, "v2", list[1].Name)

	require.NoError(t, m.Delete("v1"))
	require.NoDirExists(t, root)
	list, err = m.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "v2", list[0].Name)

	require.ErrorIs(t, m.Delete("v1"), ErrNotFound)
	require.ErrorIs(t, m.Delete("../v2"), ErrInvalidName)
}

func TestCreateCleansUpAfterCopyFailure(t *testing.T) {
	m, p := setup(t, 3)
	dir, err := p.StageDir(project.StageDataset)
	require.NoError(t, err)
	// Listed as an image, but cannot be opened
	require.NoError(t, os.Symlink(filepath.Join(dir, "missing"), filepath.Join(dir, "z.jpg")))

	_, err = m.Create(Config{Name: "v1", TrainSplit: 100, Seed: 1}, nil)
	require.Error(t, err)
	require.NoDirExists(t, filepath.Join(p.Root(), "datasets", "v1"))
	list, err := m.List()
	require.NoError(t, err)
	require.Empty(t, list)

	require.NoError(t, os.Remove(filepath.Join(dir, "z.jpg")))
	info, err := m.Create(Config{Name: "v1", TrainSplit: 100, Seed: 1}, nil)
	require.NoError(t, err)
	require.Equal(t, 3, info.Counts.Train)
}

func TestCreateIsDeterministicForSeed(t *testing.T) {
	m, p := setup(t, 8)
	cfg := Config{TrainSplit: 50, ValidSplit: 25, TestSplit: 25, Seed: 7}

	names := func(name string) []string {
		entries, err := os.ReadDir(filepath.Join(p.Root(), "datasets", name, "train", "images"))
		require.NoError(t, err)
		out := []string{}
		for _, e := range entries {
			out = append(out, e.Name())
		}
		return out
	}
	cfg.Name = "a"
	_, err := m.Create(cfg, nil)
	require.NoError(t, err)
	cfg.Name = "b"
	_, err = m.Create(cfg, nil)
	require.NoError(t, err)
	require.Equal(t, names("a"), names("b"))
}
