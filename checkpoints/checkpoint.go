// Package checkpoints persists and restores the best-model snapshot of a
// training run. A checkpoint is a single JSON record, fully overwritten each
// time a new best validation loss is found.
package checkpoints

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/geodl/segtrain/errdefs"
)

// Filename is the canonical checkpoint file name inside a run's output
// directory.
const Filename = "checkpoint.pth.tar"

// OptimizerState is the serializable optimizer snapshot stored inside a
// checkpoint record.
type OptimizerState struct {
	Type    string               `json:"type"`
	LR      float64              `json:"lr"`
	Steps   int                  `json:"steps"`
	Buffers map[string][]float32 `json:"buffers,omitempty"`
}

// Record is the persisted training snapshot: the epoch that produced it, the
// full configuration it ran under, the model parameters, the best validation
// loss so far and the optimizer state.
type Record struct {
	Epoch     int                  `json:"epoch"`
	Params    interface{}          `json:"params"`
	Model     map[string][]float32 `json:"model"`
	BestLoss  float64              `json:"best_loss"`
	Optimizer OptimizerState       `json:"optimizer"`
}

// Saver reads and writes checkpoint records on the given filesystem.
type Saver struct {
	fs afero.Fs
}

// NewSaver creates a Saver.
func NewSaver(fs afero.Fs) *Saver {
	return &Saver{fs: fs}
}

// Save writes the record to path, replacing any previous checkpoint.
func (s *Saver) Save(record *Record, path string) error {
	data, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "encoding checkpoint")
	}
	if err := afero.WriteFile(s.fs, path, data, 0644); err != nil {
		return errors.Wrap(err, "writing checkpoint")
	}
	return nil
}

// Load reads the record at path. A missing file is a MissingDataError.
func (s *Saver) Load(path string) (*Record, error) {
	exists, err := afero.Exists(s.fs, path)
	if err != nil {
		return nil, errors.Wrap(err, "checking checkpoint")
	}
	if !exists {
		return nil, &errdefs.MissingDataError{Path: path}
	}

	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, errors.Wrap(err, "reading checkpoint")
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errors.Wrap(err, "decoding checkpoint")
	}
	return &record, nil
}

// CopyTo copies the checkpoint at src into dstDir (created if needed),
// keeping the file name.
func (s *Saver) CopyTo(src, dstDir string) error {
	if err := s.fs.MkdirAll(dstDir, os.ModePerm); err != nil {
		return errors.Wrap(err, "creating weights directory")
	}
	data, err := afero.ReadFile(s.fs, src)
	if err != nil {
		return errors.Wrap(err, "reading checkpoint for copy")
	}
	dst := filepath.Join(dstDir, filepath.Base(src))
	if err := afero.WriteFile(s.fs, dst, data, 0644); err != nil {
		return errors.Wrap(err, "copying checkpoint")
	}
	return nil
}
