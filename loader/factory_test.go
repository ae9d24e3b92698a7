package loader

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/geodl/segtrain/errdefs"
	"github.com/geodl/segtrain/samples"
	"github.com/geodl/segtrain/tensor"
)

func factoryFixture(t *testing.T, trn, val, tst int) (afero.Fs, string, *samples.Inventory, samples.Opener) {
	t.Helper()
	fs := afero.NewMemMapFs()
	dir := "/data/samples256_overlap0_min-annot0_1bands_test"
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("creating samples dir: %v", err)
	}

	archives := map[string]*samples.MemoryArchive{}
	counts := map[string]int{samples.SplitTrain: trn, samples.SplitValidation: val, samples.SplitTest: tst}
	for split, n := range counts {
		if n == 0 && split == samples.SplitTest {
			continue
		}
		archives[split] = buildArchive(t, n, 1, 4, 2)
		path := filepath.Join(dir, samples.ArchiveFilename(split))
		if err := afero.WriteFile(fs, path, []byte("hdf5"), 0o644); err != nil {
			t.Fatalf("writing marker file: %v", err)
		}
	}

	weights := make([]float64, trn)
	for i := range weights {
		weights[i] = 1
	}
	inv := &samples.Inventory{Counts: counts, Weights: weights}

	open := func(path string) (samples.Archive, error) {
		for split, archive := range archives {
			if filepath.Base(path) == samples.ArchiveFilename(split) {
				return archive, nil
			}
		}
		return nil, &errdefs.MissingDataError{Path: path}
	}
	return fs, dir, inv, open
}

func TestFactoryBuildsLoaders(t *testing.T) {
	fs, dir, inv, open := factoryFixture(t, 10, 4, 4)

	loaders, err := New(fs, dir, inv, open, Config{BatchSize: 2, EvalBatchSize: 2}, zap.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer loaders.Close()

	if loaders.Train == nil || loaders.Validation == nil || loaders.Test == nil {
		t.Fatal("all three loaders should be built")
	}
	if got := loaders.Train.Len(); got != 5 {
		t.Errorf("train Len() = %d, want 5", got)
	}
	if got := loaders.Validation.Len(); got != 2 {
		t.Errorf("validation Len() = %d, want 2", got)
	}
}

func TestFactoryOmitsEmptyTestSplit(t *testing.T) {
	fs, dir, inv, open := factoryFixture(t, 10, 4, 0)

	loaders, err := New(fs, dir, inv, open, Config{BatchSize: 2, EvalBatchSize: 2}, zap.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer loaders.Close()

	if loaders.Test != nil {
		t.Error("test loader should be nil for an empty test split")
	}
}

func TestFactoryMissingDirectory(t *testing.T) {
	fs := afero.NewMemMapFs()
	inv := &samples.Inventory{Counts: map[string]int{}}

	_, err := New(fs, "/nowhere", inv, nil, Config{BatchSize: 1, EvalBatchSize: 1}, zap.NewNop())
	if !errdefs.IsMissingData(err) {
		t.Errorf("expected MissingDataError for missing directory, got %v", err)
	}
}

func TestFactoryNoArchiveFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := "/data/empty"
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("creating dir: %v", err)
	}
	inv := &samples.Inventory{Counts: map[string]int{}}

	_, err := New(fs, dir, inv, nil, Config{BatchSize: 1, EvalBatchSize: 1}, zap.NewNop())
	if !errdefs.IsMissingData(err) {
		t.Errorf("expected MissingDataError for a directory without .hdf5 files, got %v", err)
	}
}

func TestFactoryTooFewSamples(t *testing.T) {
	t.Run("training split below batch size", func(t *testing.T) {
		fs, dir, inv, open := factoryFixture(t, 3, 4, 0)
		_, err := New(fs, dir, inv, open, Config{BatchSize: 4, EvalBatchSize: 2}, zap.NewNop())
		if !errdefs.IsConfiguration(err) {
			t.Errorf("expected ConfigurationError, got %v", err)
		}
	})

	t.Run("validation split below eval batch size", func(t *testing.T) {
		fs, dir, inv, open := factoryFixture(t, 10, 1, 0)
		_, err := New(fs, dir, inv, open, Config{BatchSize: 2, EvalBatchSize: 2}, zap.NewNop())
		if !errdefs.IsConfiguration(err) {
			t.Errorf("expected ConfigurationError, got %v", err)
		}
	})
}

func TestDatasetTransforms(t *testing.T) {
	t.Run("dontcare remapped to background", func(t *testing.T) {
		archive := buildArchiveWithDontcare(t, 2, 4, -1)
		ds := NewSegmentationDataset(archive, samples.SplitTrain, 2, Transforms{DontcareVal: -1, DontcareToBackground: true}, 0)
		_, label, err := ds.Get(0)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		for i, v := range label.Int64s() {
			if v == -1 {
				t.Errorf("label value %d at %d should have been remapped to 0", v, i)
			}
		}
	})

	t.Run("centered crop", func(t *testing.T) {
		archive := buildArchive(t, 1, 1, 8, 2)
		ds := NewSegmentationDataset(archive, samples.SplitValidation, 1, Transforms{CropSize: 4}, 0)
		image, label, err := ds.Get(0)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if image.Shape[1] != 4 || image.Shape[2] != 4 {
			t.Errorf("cropped image shape = %v, want [1 4 4]", image.Shape)
		}
		if label.Shape[0] != 4 || label.Shape[1] != 4 {
			t.Errorf("cropped label shape = %v, want [4 4]", label.Shape)
		}
	})

	t.Run("scaling", func(t *testing.T) {
		archive := buildArchive(t, 2, 1, 2, 2)
		ds := NewSegmentationDataset(archive, samples.SplitValidation, 2, Transforms{ScaleMin: -1, ScaleMax: 1}, 0)
		// Sample 1 is filled with 1.0, which maps to the top of [-1, 1].
		image, _, err := ds.Get(1)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		for _, v := range image.Float32s() {
			if v != 1 {
				t.Errorf("scaled value = %v, want 1", v)
			}
		}
	})

	t.Run("transforms do not mutate the archive", func(t *testing.T) {
		archive := buildArchiveWithDontcare(t, 1, 4, -1)
		ds := NewSegmentationDataset(archive, samples.SplitTrain, 1, Transforms{DontcareVal: -1, DontcareToBackground: true}, 0)
		if _, _, err := ds.Get(0); err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		orig, err := archive.Label(0)
		if err != nil {
			t.Fatalf("reading archive label: %v", err)
		}
		found := false
		for _, v := range orig.Int64s() {
			if v == -1 {
				found = true
			}
		}
		if !found {
			t.Error("archive label should still contain the dontcare sentinel")
		}
	})
}

// buildArchiveWithDontcare creates samples whose labels alternate between
// class 1 and the dontcare value.
func buildArchiveWithDontcare(t *testing.T, n, size int, dontcare int64) *samples.MemoryArchive {
	t.Helper()
	var images, labels []*tensor.Tensor
	for i := 0; i < n; i++ {
		imgT, err := tensor.Zeros([]int{1, size, size}, tensor.Float32)
		if err != nil {
			t.Fatalf("building image tensor: %v", err)
		}
		lbl := make([]int64, size*size)
		for j := range lbl {
			if j%2 == 0 {
				lbl[j] = dontcare
			} else {
				lbl[j] = 1
			}
		}
		lblT, err := tensor.NewTensor([]int{size, size}, tensor.Int64, lbl)
		if err != nil {
			t.Fatalf("building label tensor: %v", err)
		}
		images = append(images, imgT)
		labels = append(labels, lblT)
	}
	archive, err := samples.NewMemoryArchive(images, labels)
	if err != nil {
		t.Fatalf("building archive: %v", err)
	}
	return archive
}
