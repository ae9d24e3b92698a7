package loader

import (
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/geodl/segtrain/errdefs"
	"github.com/geodl/segtrain/samples"
)

// Config holds the loader-construction parameters resolved by the
// orchestrator.
type Config struct {
	// BatchSize is the training batch size.
	BatchSize int
	// EvalBatchSize is the (possibly advised-down) validation/test batch
	// size.
	EvalBatchSize int
	// NumWorkers overrides the prefetch worker count. Zero selects
	// max(4, 4 * accelerator count).
	NumWorkers int
	// DeviceCount is the number of accelerators in use.
	DeviceCount int
	// Seed drives the weighted sampler and random crops.
	Seed int64

	// Transform parameters, shared across splits. Random crop windows apply
	// to the training split only.
	DontcareVal          int64
	DontcareToBackground bool
	CropSize             int
	ScaleMin             float64
	ScaleMax             float64
}

// Loaders bundles the three iteration sources. Test is nil when the test
// split holds no samples.
type Loaders struct {
	Train      *DataLoader
	Validation *DataLoader
	Test       *DataLoader

	datasets []*SegmentationDataset
}

// Close releases every open archive.
func (l *Loaders) Close() error {
	var firstErr error
	for _, ds := range l.datasets {
		if err := ds.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// New builds the train/validation/test loaders over the archives in dir,
// using the counts and weights from the inventory.
func New(fs afero.Fs, dir string, inv *samples.Inventory, open samples.Opener, cfg Config, logger *zap.Logger) (*Loaders, error) {
	if ok, err := afero.DirExists(fs, dir); err != nil {
		return nil, errors.Wrap(err, "checking samples directory")
	} else if !ok {
		return nil, &errdefs.MissingDataError{Path: dir}
	}
	archives, err := afero.Glob(fs, filepath.Join(dir, "*.hdf5"))
	if err != nil {
		return nil, errors.Wrap(err, "scanning samples directory")
	}
	if len(archives) == 0 {
		return nil, &errdefs.MissingDataError{Path: filepath.Join(dir, "*.hdf5")}
	}

	if inv.Counts[samples.SplitTrain] < cfg.BatchSize {
		return nil, errdefs.Configf("number of training samples (%d) is less than batch size (%d)",
			inv.Counts[samples.SplitTrain], cfg.BatchSize)
	}
	if inv.Counts[samples.SplitValidation] < cfg.EvalBatchSize {
		return nil, errdefs.Configf("number of validation samples (%d) is less than evaluation batch size (%d)",
			inv.Counts[samples.SplitValidation], cfg.EvalBatchSize)
	}

	numWorkers := cfg.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 4 * cfg.DeviceCount
		if numWorkers < 4 {
			numWorkers = 4
		}
	}

	out := &Loaders{}
	for _, split := range samples.Splits {
		count := inv.Counts[split]
		if split == samples.SplitTest && count == 0 {
			logger.Info("test split is empty, skipping test loader")
			continue
		}

		archive, err := open(filepath.Join(dir, samples.ArchiveFilename(split)))
		if err != nil {
			out.Close()
			return nil, errors.Wrapf(err, "opening archive for split %s", split)
		}

		tf := Transforms{
			DontcareVal:          cfg.DontcareVal,
			DontcareToBackground: cfg.DontcareToBackground,
			CropSize:             cfg.CropSize,
			RandomCrop:           split == samples.SplitTrain,
			ScaleMin:             cfg.ScaleMin,
			ScaleMax:             cfg.ScaleMax,
		}
		ds := NewSegmentationDataset(archive, split, count, tf, cfg.Seed)
		out.datasets = append(out.datasets, ds)

		switch split {
		case samples.SplitTrain:
			sampler := NewWeightedRandomSampler(inv.Weights, uint64(cfg.Seed))
			out.Train = NewDataLoader(ds, sampler, cfg.BatchSize, numWorkers, cfg.DontcareVal)
		case samples.SplitValidation:
			out.Validation = NewDataLoader(ds, SequentialSampler{}, cfg.EvalBatchSize, numWorkers, cfg.DontcareVal)
		case samples.SplitTest:
			out.Test = NewDataLoader(ds, SequentialSampler{}, cfg.EvalBatchSize, numWorkers, cfg.DontcareVal)
		}
	}

	logger.Info("dataloaders created",
		zap.Int("batch_size", cfg.BatchSize),
		zap.Int("eval_batch_size", cfg.EvalBatchSize),
		zap.Int("num_workers", numWorkers),
		zap.Bool("test_split", out.Test != nil))
	return out, nil
}
