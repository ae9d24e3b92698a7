package training

import (
	"fmt"
	"math"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/geodl/segtrain/checkpoints"
	"github.com/geodl/segtrain/config"
	"github.com/geodl/segtrain/device"
	"github.com/geodl/segtrain/errdefs"
	"github.com/geodl/segtrain/loader"
	"github.com/geodl/segtrain/samples"
	"github.com/geodl/segtrain/tracking"
)

// Components bundles the model and its training machinery, as assembled by
// the model factory.
type Components struct {
	Model     Module
	Criterion Loss
	Optimizer Optimizer
	Scheduler *Scheduler
	Device    device.Device
	Devices   *device.Registry
}

// Summary reports the outcome of a completed run.
type Summary struct {
	Epochs         int
	BestLoss       float64
	CheckpointPath string
	TestMetrics    map[string]float64
}

// Trainer drives the multi-epoch training loop: it resolves the sample
// directory, builds the loaders, runs the train/validation epochs, persists
// the best-loss checkpoint and finalizes with a test evaluation from the
// best parameters.
type Trainer struct {
	cfg        *config.Config
	fs         afero.Fs
	open       samples.Opener
	comp       Components
	visualizer Visualizer
	tracker    tracking.Tracker
	logger     *zap.Logger

	saver    *checkpoints.Saver
	progress *ProgressLog
	loaders  *loader.Loaders

	bestLoss float64
	// lastVisEpoch starts at 0, so the first checkpoint visualization needs
	// at least vis_at_ckpt_min_ep_diff completed epochs.
	lastVisEpoch int
}

// NewTrainer assembles a trainer. visualizer may be nil to disable
// visualization entirely; tracker must be non-nil (use tracking.Nop).
func NewTrainer(cfg *config.Config, fs afero.Fs, open samples.Opener, comp Components, visualizer Visualizer, tracker tracking.Tracker, logger *zap.Logger) *Trainer {
	return &Trainer{
		cfg:          cfg,
		fs:           fs,
		open:         open,
		comp:         comp,
		visualizer:   visualizer,
		tracker:      tracker,
		logger:       logger,
		saver:    checkpoints.NewSaver(fs),
		bestLoss: math.Inf(1),
	}
}

// Run executes the full state machine: initializing, one epoch iteration per
// configured epoch, finalizing, done. Training state is only mutated here,
// on the single control goroutine.
func (t *Trainer) Run() (*Summary, error) {
	if err := t.initialize(); err != nil {
		return nil, err
	}
	defer t.loaders.Close()

	epochs := *t.cfg.Training.MaxEpochs
	for epoch := 0; epoch < epochs; epoch++ {
		if err := t.runEpoch(epoch); err != nil {
			return nil, err
		}
	}

	summary, err := t.finalize(epochs)
	if err != nil {
		return nil, err
	}
	t.logger.Info("run done",
		zap.Int("epochs", summary.Epochs),
		zap.Float64("best_loss", summary.BestLoss))
	return summary, nil
}

func (t *Trainer) initialize() (err error) {
	// The loaders hold open archives; release them when a later
	// initialization step fails.
	defer func() {
		if err != nil && t.loaders != nil {
			t.loaders.Close()
			t.loaders = nil
		}
	}()
	t.logger.Info("initializing")

	dir, err := t.resolveSamplesDir()
	if err != nil {
		return err
	}
	t.logger.Info("samples directory resolved", zap.String("dir", dir))

	inv, err := samples.TakeInventory(t.fs, dir, t.cfg.SampleOverrides(), t.open, t.logger)
	if err != nil {
		return err
	}

	evalBatchSize := t.cfg.Training.EvalBatchSize
	if t.cfg.Training.TargetSize > 0 {
		evalBatchSize = CalcEvalBatchSize(t.comp.Devices, evalBatchSize, t.cfg.Dataset.InputDim, t.cfg.Training.MaxPixelsPerMB, t.logger)
	}

	t.loaders, err = loader.New(t.fs, dir, inv, t.open, loader.Config{
		BatchSize:            t.cfg.Training.BatchSize,
		EvalBatchSize:        evalBatchSize,
		NumWorkers:           t.cfg.Training.NumWorkers,
		DeviceCount:          t.comp.Devices.Count(),
		Seed:                 t.cfg.Model.Seed,
		DontcareVal:          *t.cfg.Dataset.IgnoreIndex,
		DontcareToBackground: t.cfg.Training.DontcareToBackground,
		CropSize:             t.cfg.Training.TargetSize,
		ScaleMin:             t.cfg.Augmentation.ScaleData[0],
		ScaleMax:             t.cfg.Augmentation.ScaleData[1],
	}, t.logger)
	if err != nil {
		return err
	}

	if err := t.fs.MkdirAll(t.cfg.General.OutputPath, 0o755); err != nil {
		return err
	}
	t.progress, err = OpenProgressLog(t.fs, filepath.Join(t.cfg.General.OutputPath, "progress.log"))
	if err != nil {
		return err
	}

	if err := t.tracker.StartRun(t.cfg.Tracker.RunName); err != nil {
		return err
	}
	if err := t.tracker.LogParams(t.runParams(evalBatchSize)); err != nil {
		return err
	}

	if t.cfg.Visualization.VisAtInit && t.visualizer != nil {
		split := t.cfg.Visualization.VisAtInitDataset
		dl := t.loaders.Validation
		if split == samples.SplitTest {
			dl = t.loaders.Test
		}
		if dl != nil {
			t.logger.Info("visualizing pre-training outputs", zap.String("split", split))
			if err := t.visPass(dl, split, 0); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveSamplesDir locates the samples folder under the data path, falling
// back to the raw-data directory when configured.
func (t *Trainer) resolveSamplesDir() (string, error) {
	folder := samples.FolderName(
		t.cfg.Dataset.InputDim,
		t.cfg.Dataset.Overlap,
		t.cfg.Dataset.MinAnnotatedPercent,
		t.cfg.Dataset.Bands,
		t.cfg.General.ProjectName,
	)
	dir := filepath.Join(t.cfg.Dataset.DataPath, folder)
	if ok, _ := afero.DirExists(t.fs, dir); ok {
		return dir, nil
	}
	if t.cfg.Dataset.RawDataDir != "" {
		fallback := filepath.Join(t.cfg.Dataset.RawDataDir, folder)
		if ok, _ := afero.DirExists(t.fs, fallback); ok {
			t.logger.Warn("samples folder not under data_path, using raw_data_dir",
				zap.String("data_path", dir),
				zap.String("raw_data_dir", fallback))
			return fallback, nil
		}
	}
	return "", &errdefs.MissingDataError{Path: dir}
}

func (t *Trainer) runEpoch(epoch int) error {
	t.logger.Info("epoch running",
		zap.Int("epoch", epoch),
		zap.Float64("lr", t.comp.Optimizer.GetLR()))

	trnMetrics, err := RunTrainingEpoch(t.loaders.Train, t.comp.Model, t.comp.Criterion, t.comp.Optimizer, t.comp.Scheduler, t.epochParams(epoch, t.cfg.Visualization.VisAtTrain))
	if err != nil {
		return err
	}

	valMetrics, err := RunEvaluationEpoch(t.loaders.Validation, t.comp.Model, t.comp.Criterion, samples.SplitValidation, t.cfg.Training.BatchMetrics, t.epochParams(epoch, t.cfg.Visualization.VisAtEvaluation))
	if err != nil {
		return err
	}

	tracked := map[string]float64{
		"trn_loss": trnMetrics.Get(MetricLoss).Avg,
		"val_loss": valMetrics.Get(MetricLoss).Avg,
		"lr":       t.comp.Optimizer.GetLR(),
	}
	for _, name := range []string{MetricPrecision, MetricRecall, MetricFScore, MetricIoU} {
		if m := valMetrics.Get(name); m.Count > 0 {
			tracked["val_"+name] = m.Avg
		}
	}
	if err := t.tracker.LogMetrics(tracked, epoch); err != nil {
		return err
	}

	valLoss := valMetrics.Get(MetricLoss).Avg
	if valLoss < t.bestLoss {
		t.bestLoss = valLoss
		if err := t.saveCheckpoint(epoch); err != nil {
			return err
		}
		t.logger.Info("validation loss improved, checkpoint saved",
			zap.Int("epoch", epoch),
			zap.Float64("best_loss", t.bestLoss))

		if t.cfg.Visualization.VisAtCheckpoint && t.visualizer != nil &&
			epoch-t.lastVisEpoch >= t.cfg.Visualization.VisAtCkptMinEpDiff {
			t.logger.Info("visualizing checkpoint outputs", zap.Int("epoch", epoch))
			if err := t.visPass(t.loaders.Validation, samples.SplitValidation, epoch+1); err != nil {
				return err
			}
			t.lastVisEpoch = epoch
		}
	}
	return nil
}

func (t *Trainer) finalize(epochs int) (*Summary, error) {
	t.logger.Info("finalizing")
	summary := &Summary{
		Epochs:         epochs,
		BestLoss:       t.bestLoss,
		CheckpointPath: t.checkpointPath(),
	}

	if epochs > 0 {
		if t.cfg.General.SaveWeightsDir != "" {
			if err := t.saver.CopyTo(t.checkpointPath(), t.cfg.General.SaveWeightsDir); err != nil {
				return nil, err
			}
			t.logger.Info("checkpoint copied",
				zap.String("dir", t.cfg.General.SaveWeightsDir))
		}
		record, err := t.saver.Load(t.checkpointPath())
		if err != nil {
			return nil, err
		}
		if err := LoadStateDict(t.comp.Model, record.Model); err != nil {
			return nil, err
		}
		t.logger.Info("best parameters restored",
			zap.Int("epoch", record.Epoch),
			zap.Float64("best_loss", record.BestLoss))
	}

	if t.loaders.Test != nil {
		// The test phase is logged one past the last training epoch.
		tstMetrics, err := RunEvaluationEpoch(t.loaders.Test, t.comp.Model, t.comp.Criterion, samples.SplitTest, t.cfg.Training.BatchMetrics, t.epochParams(epochs, t.cfg.Visualization.VisAtEvaluation))
		if err != nil {
			return nil, err
		}
		summary.TestMetrics = tstMetrics.Averages()
		tracked := make(map[string]float64, len(summary.TestMetrics))
		for name, val := range summary.TestMetrics {
			tracked["tst_"+name] = val
		}
		if err := t.tracker.LogMetrics(tracked, epochs); err != nil {
			return nil, err
		}
	}

	return summary, t.tracker.EndRun()
}

func (t *Trainer) checkpointPath() string {
	return filepath.Join(t.cfg.General.OutputPath, checkpoints.Filename)
}

func (t *Trainer) saveCheckpoint(epoch int) error {
	record := &checkpoints.Record{
		Epoch:     epoch,
		Params:    t.cfg,
		Model:     StateDict(t.comp.Model),
		BestLoss:  t.bestLoss,
		Optimizer: t.comp.Optimizer.State(),
	}
	return t.saver.Save(record, t.checkpointPath())
}

func (t *Trainer) epochParams(epoch int, visualize bool) EpochParams {
	p := EpochParams{
		Epoch:      epoch,
		NumClasses: t.cfg.NumClassesCorrected(),
		Device:     t.comp.Device,
		Devices:    t.comp.Devices,
		Progress:   t.progress,
		Logger:     t.logger,
	}
	if visualize && t.visualizer != nil {
		if r := t.visRange(); r != nil {
			p.Visualizer = t.visualizer
			p.VisRange = r
		}
	}
	return p
}

func (t *Trainer) visRange() *VisRange {
	r := t.cfg.Visualization.VisBatchRange
	if len(r) != 3 {
		return nil
	}
	return &VisRange{Min: r[0], Max: r[1], Increment: r[2]}
}

// visPass renders the in-range batches of one loader in inference mode,
// without touching the progress log or any metrics.
func (t *Trainer) visPass(dl *loader.DataLoader, split string, epoch int) error {
	r := t.visRange()
	if r == nil {
		return nil
	}
	t.comp.Model.Eval()
	dev := t.comp.Device

	it := dl.Iterator()
	defer it.Close()
	for batchIndex := 0; ; batchIndex++ {
		batch, err := it.Next()
		if err != nil {
			return err
		}
		if batch == nil {
			return nil
		}
		if !r.Contains(batchIndex) {
			continue
		}
		dev, err = transferBatch(t.comp.Devices, dev, batch, t.logger)
		if err != nil {
			return err
		}
		outputs, err := t.comp.Model.Forward(batch.Images)
		if err != nil {
			return err
		}
		if err := t.visualizer.Render(split, epoch, batchIndex, batch.Images, outputs, batch.Labels); err != nil {
			return err
		}
	}
}

// runParams flattens the hyperparameters reported to the tracker.
func (t *Trainer) runParams(evalBatchSize int) map[string]string {
	return map[string]string{
		"model":           t.cfg.Model.Name,
		"batch_size":      fmt.Sprintf("%d", t.cfg.Training.BatchSize),
		"eval_batch_size": fmt.Sprintf("%d", evalBatchSize),
		"max_epochs":      fmt.Sprintf("%d", *t.cfg.Training.MaxEpochs),
		"optimizer":       t.cfg.Optimizer.Name,
		"lr":              fmt.Sprintf("%g", t.cfg.Optimizer.LR),
		"scheduler":       t.cfg.Scheduler.Name,
		"num_classes":     fmt.Sprintf("%d", t.cfg.NumClassesCorrected()),
		"bands":           fmt.Sprintf("%d", t.cfg.Dataset.Bands),
	}
}
