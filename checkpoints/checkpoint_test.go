package checkpoints

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"

	"github.com/geodl/segtrain/errdefs"
)

func sampleRecord() *Record {
	return &Record{
		Epoch: 3,
		Params: map[string]interface{}{
			"batch_size": 8,
		},
		Model: map[string][]float32{
			"classifier.weight": {0.5, -1.25, 2},
			"classifier.bias":   {0.125},
		},
		BestLoss: 0.4375,
		Optimizer: OptimizerState{
			Type:  "adam",
			LR:    0.001,
			Steps: 42,
			Buffers: map[string][]float32{
				"classifier.weight.m": {0.25, 0, -0.5},
			},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	saver := NewSaver(fs)
	path := filepath.Join("/output", Filename)

	if err := saver.Save(sampleRecord(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	record, err := saver.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if record.Epoch != 3 {
		t.Errorf("Epoch = %d, want 3", record.Epoch)
	}
	if record.BestLoss != 0.4375 {
		t.Errorf("BestLoss = %v, want 0.4375", record.BestLoss)
	}
	weight := record.Model["classifier.weight"]
	if len(weight) != 3 || weight[1] != -1.25 {
		t.Errorf("Model weight = %v, want [0.5 -1.25 2]", weight)
	}
	if record.Optimizer.Type != "adam" || record.Optimizer.Steps != 42 {
		t.Errorf("Optimizer = %+v, want adam with 42 steps", record.Optimizer)
	}
	if got := record.Optimizer.Buffers["classifier.weight.m"]; len(got) != 3 || got[2] != -0.5 {
		t.Errorf("Optimizer buffer = %v, want [0.25 0 -0.5]", got)
	}
}

func TestSaveOverwritesPrevious(t *testing.T) {
	fs := afero.NewMemMapFs()
	saver := NewSaver(fs)
	path := filepath.Join("/output", Filename)

	first := sampleRecord()
	if err := saver.Save(first, path); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	second := sampleRecord()
	second.Epoch = 7
	second.BestLoss = 0.25
	if err := saver.Save(second, path); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	record, err := saver.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if record.Epoch != 7 || record.BestLoss != 0.25 {
		t.Errorf("loaded epoch %d loss %v, want the second record", record.Epoch, record.BestLoss)
	}
}

func TestLoadMissing(t *testing.T) {
	saver := NewSaver(afero.NewMemMapFs())
	_, err := saver.Load("/output/" + Filename)
	if !errdefs.IsMissingData(err) {
		t.Errorf("expected MissingDataError, got %v", err)
	}
}

func TestCopyTo(t *testing.T) {
	fs := afero.NewMemMapFs()
	saver := NewSaver(fs)
	path := filepath.Join("/output", Filename)
	if err := saver.Save(sampleRecord(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := saver.CopyTo(path, "/weights/deep"); err != nil {
		t.Fatalf("CopyTo failed: %v", err)
	}

	copied, err := saver.Load(filepath.Join("/weights/deep", Filename))
	if err != nil {
		t.Fatalf("loading copy: %v", err)
	}
	if copied.Epoch != 3 {
		t.Errorf("copied epoch = %d, want 3", copied.Epoch)
	}
}
