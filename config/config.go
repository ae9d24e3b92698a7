// Package config loads and validates the static training configuration.
// Unknown keys are rejected at load time, every optional field has a single
// documented default applied in ApplyDefaults, and mandatory fields are
// checked in Validate before any training state is created.
package config

import (
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v2"

	"github.com/geodl/segtrain/errdefs"
)

// Config is the full configuration surface of a training run.
type Config struct {
	General       General       `yaml:"general"`
	Dataset       Dataset       `yaml:"dataset"`
	Training      Training      `yaml:"training"`
	Model         Model         `yaml:"model"`
	Optimizer     Optimizer     `yaml:"optimizer"`
	Scheduler     Scheduler     `yaml:"scheduler"`
	Augmentation  Augmentation  `yaml:"augmentation"`
	Visualization Visualization `yaml:"visualization"`
	Tracker       Tracker       `yaml:"tracker"`
}

// General holds run identity and output locations.
type General struct {
	// ProjectName names the experiment; it is part of the samples folder
	// name. Default "gdl-training".
	ProjectName string `yaml:"project_name"`
	// OutputPath is the per-run working directory for the checkpoint,
	// progress log and visualization artifacts. Mandatory.
	OutputPath string `yaml:"output_path"`
	// SaveWeightsDir is the durable directory the checkpoint is copied to
	// when the run completes. Empty disables the copy.
	SaveWeightsDir string `yaml:"save_weights_dir"`
}

// Dataset describes the sample archives and the label space.
type Dataset struct {
	// DataPath is the directory holding the samples folder. Mandatory.
	DataPath string `yaml:"data_path"`
	// RawDataDir is searched for the samples folder when DataPath does not
	// contain it. Empty disables the fallback.
	RawDataDir string `yaml:"raw_data_dir"`
	// NumClasses counts the foreground classes; one background class is
	// added on top. Mandatory, >= 1.
	NumClasses int `yaml:"num_classes"`
	// Bands is the number of imagery channels. Mandatory, >= 1.
	Bands int `yaml:"bands"`
	// InputDim is the square sample side length in pixels. Default 256.
	InputDim int `yaml:"input_dim"`
	// Overlap is the tiling overlap percentage used when the samples were
	// produced. Default 0.
	Overlap int `yaml:"overlap"`
	// MinAnnotatedPercent is the annotation threshold used when the samples
	// were produced. Default 0.
	MinAnnotatedPercent int `yaml:"min_annotated_percent"`
	// IgnoreIndex is the label value excluded from loss and metrics.
	// Default -1.
	IgnoreIndex *int64 `yaml:"ignore_index"`
	// ClassWeights optionally weights the loss per class; when set its
	// length must equal NumClasses+1.
	ClassWeights []float64 `yaml:"class_weights"`
}

// Training holds the epoch-loop hyperparameters.
type Training struct {
	// BatchSize is the training batch size. Mandatory, >= 1.
	BatchSize int `yaml:"batch_size"`
	// EvalBatchSize is the validation/test batch size before the advisor
	// runs. Default BatchSize.
	EvalBatchSize int `yaml:"eval_batch_size"`
	// MaxEpochs is the number of training epochs. Mandatory, >= 0.
	MaxEpochs *int `yaml:"max_epochs"`
	// NumTrnSamples..NumTstSamples override the per-split sample counts.
	// Zero means the archive's natural count.
	NumTrnSamples int `yaml:"num_trn_samples"`
	NumValSamples int `yaml:"num_val_samples"`
	NumTstSamples int `yaml:"num_tst_samples"`
	// BatchMetrics computes validation classification metrics every N
	// batches. Zero skips them for validation; test always computes them.
	BatchMetrics int `yaml:"batch_metrics"`
	// TargetSize crops samples to a square of this side length. Zero
	// disables cropping.
	TargetSize int `yaml:"target_size"`
	// NumWorkers overrides the prefetch worker count. Zero means
	// max(4, 4 x accelerator count).
	NumWorkers int `yaml:"num_workers"`
	// NumAccelerators is the number of accelerator devices requested.
	// Default 0 (CPU only).
	NumAccelerators int `yaml:"num_accelerators"`
	// MaxPixelsPerMB tunes the evaluation batch-size advisor. Default 280.
	MaxPixelsPerMB int `yaml:"max_pixels_per_mb"`
	// DontcareToBackground remaps the ignore value to class 0 in labels
	// instead of masking it. Default false.
	DontcareToBackground bool `yaml:"dontcare_to_background"`
}

// Model selects the architecture built by the model factory.
type Model struct {
	// Name of the model. Default "pixel_classifier".
	Name string `yaml:"name"`
	// Seed for parameter initialization and the training sampler.
	// Default 0.
	Seed int64 `yaml:"seed"`
}

// Optimizer selects and parameterizes the optimizer.
type Optimizer struct {
	// Name is "adam" or "sgd". Default "adam".
	Name string `yaml:"name"`
	// LR is the base learning rate. Default 0.001.
	LR float64 `yaml:"lr"`
	// Momentum applies to sgd only. Default 0.
	Momentum float64 `yaml:"momentum"`
	// WeightDecay is the L2 penalty. Default 0.
	WeightDecay float64 `yaml:"weight_decay"`
}

// Scheduler selects the learning-rate schedule.
type Scheduler struct {
	// Name is "steplr", "exponentiallr" or "constantlr". Default "steplr".
	Name string `yaml:"name"`
	// StepSize applies to steplr. Default 30.
	StepSize int `yaml:"step_size"`
	// Gamma is the decay factor. Default 0.1 for steplr, 0.95 for
	// exponentiallr.
	Gamma float64 `yaml:"gamma"`
}

// Augmentation holds the input transforms applied by the datasets.
type Augmentation struct {
	// ScaleData rescales imagery from [0,1] to [min,max]. Default [0,1]
	// (identity).
	ScaleData []float64 `yaml:"scale_data"`
}

// Visualization drives the artifact-rendering cadence.
type Visualization struct {
	// VisBatchRange is [min, max, increment) over batch indices, with the
	// increment applied from min. Empty disables visualization.
	VisBatchRange []int `yaml:"vis_batch_range"`
	// VisAtTrain renders during training epochs. Default false.
	VisAtTrain bool `yaml:"vis_at_train"`
	// VisAtEvaluation renders during validation/test epochs. Default false.
	VisAtEvaluation bool `yaml:"vis_at_evaluation"`
	// VisAtCheckpoint renders a validation pass when a new best checkpoint
	// is saved. Default false.
	VisAtCheckpoint bool `yaml:"vis_at_checkpoint"`
	// VisAtCkptMinEpDiff is the minimum epoch gap between two
	// checkpoint-triggered visualization passes. Default 1.
	VisAtCkptMinEpDiff int `yaml:"vis_at_ckpt_min_ep_diff"`
	// VisAtInit renders one pass before training starts. Default false.
	VisAtInit bool `yaml:"vis_at_init"`
	// VisAtInitDataset is the split visualized at init. Default "val".
	VisAtInitDataset string `yaml:"vis_at_init_dataset"`
}

// Tracker configures the optional experiment tracker.
type Tracker struct {
	// URI of an MLflow-compatible tracking server. Empty disables tracking.
	URI string `yaml:"uri"`
	// RunName labels the tracked run. Default "gdl".
	RunName string `yaml:"run_name"`
	// Experiment is the tracking experiment identifier. Default "0".
	Experiment string `yaml:"experiment"`
}

// Load reads a YAML configuration file, rejecting unknown keys, then applies
// defaults and validates.
func Load(fs afero.Fs, path string) (*Config, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, &errdefs.MissingDataError{Path: path}
	}
	var cfg Config
	if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills every optional field with its documented default.
func (c *Config) ApplyDefaults() {
	if c.General.ProjectName == "" {
		c.General.ProjectName = "gdl-training"
	}
	if c.Dataset.InputDim == 0 {
		c.Dataset.InputDim = 256
	}
	if c.Dataset.IgnoreIndex == nil {
		v := int64(-1)
		c.Dataset.IgnoreIndex = &v
	}
	if c.Training.EvalBatchSize == 0 {
		c.Training.EvalBatchSize = c.Training.BatchSize
	}
	if c.Training.MaxPixelsPerMB == 0 {
		c.Training.MaxPixelsPerMB = 280
	}
	if c.Model.Name == "" {
		c.Model.Name = "pixel_classifier"
	}
	if c.Optimizer.Name == "" {
		c.Optimizer.Name = "adam"
	}
	if c.Optimizer.LR == 0 {
		c.Optimizer.LR = 0.001
	}
	if c.Scheduler.Name == "" {
		c.Scheduler.Name = "steplr"
	}
	if c.Scheduler.StepSize == 0 {
		c.Scheduler.StepSize = 30
	}
	if c.Scheduler.Gamma == 0 {
		switch c.Scheduler.Name {
		case "exponentiallr":
			c.Scheduler.Gamma = 0.95
		default:
			c.Scheduler.Gamma = 0.1
		}
	}
	if len(c.Augmentation.ScaleData) == 0 {
		c.Augmentation.ScaleData = []float64{0, 1}
	}
	if c.Visualization.VisAtCkptMinEpDiff == 0 {
		c.Visualization.VisAtCkptMinEpDiff = 1
	}
	if c.Visualization.VisAtInitDataset == "" {
		c.Visualization.VisAtInitDataset = "val"
	}
	if c.Tracker.RunName == "" {
		c.Tracker.RunName = "gdl"
	}
	if c.Tracker.Experiment == "" {
		c.Tracker.Experiment = "0"
	}
}

// Validate checks mandatory fields and cross-field constraints.
func (c *Config) Validate() error {
	if c.General.OutputPath == "" {
		return errdefs.Configf("general.output_path is mandatory")
	}
	if c.Dataset.DataPath == "" {
		return errdefs.Configf("dataset.data_path is mandatory")
	}
	if c.Dataset.NumClasses < 1 {
		return errdefs.Configf("dataset.num_classes must be >= 1, got %d", c.Dataset.NumClasses)
	}
	if c.Dataset.Bands < 1 {
		return errdefs.Configf("dataset.bands must be >= 1, got %d", c.Dataset.Bands)
	}
	if c.Training.BatchSize < 1 {
		return errdefs.Configf("training.batch_size must be >= 1, got %d", c.Training.BatchSize)
	}
	if c.Training.EvalBatchSize < 1 {
		return errdefs.Configf("training.eval_batch_size must be >= 1, got %d", c.Training.EvalBatchSize)
	}
	if c.Training.MaxEpochs == nil {
		return errdefs.Configf("training.max_epochs is mandatory")
	}
	if *c.Training.MaxEpochs < 0 {
		return errdefs.Configf("training.max_epochs must be >= 0, got %d", *c.Training.MaxEpochs)
	}
	if c.Training.BatchMetrics < 0 {
		return errdefs.Configf("training.batch_metrics must be >= 0, got %d", c.Training.BatchMetrics)
	}
	if c.Training.TargetSize < 0 || c.Training.TargetSize > c.Dataset.InputDim {
		return errdefs.Configf("training.target_size must be in [0, %d], got %d", c.Dataset.InputDim, c.Training.TargetSize)
	}
	if n := len(c.Dataset.ClassWeights); n != 0 && n != c.NumClassesCorrected() {
		return errdefs.Configf("dataset.class_weights needs %d entries (classes plus background), got %d", c.NumClassesCorrected(), n)
	}
	if len(c.Augmentation.ScaleData) != 2 {
		return errdefs.Configf("augmentation.scale_data needs exactly [min, max], got %d values", len(c.Augmentation.ScaleData))
	}
	if c.Augmentation.ScaleData[0] >= c.Augmentation.ScaleData[1] {
		return errdefs.Configf("augmentation.scale_data min %g must be below max %g", c.Augmentation.ScaleData[0], c.Augmentation.ScaleData[1])
	}
	switch c.Optimizer.Name {
	case "adam", "sgd":
	default:
		return errdefs.Configf("optimizer.name must be adam or sgd, got %q", c.Optimizer.Name)
	}
	switch c.Scheduler.Name {
	case "steplr", "exponentiallr", "constantlr":
	default:
		return errdefs.Configf("scheduler.name must be steplr, exponentiallr or constantlr, got %q", c.Scheduler.Name)
	}
	if r := c.Visualization.VisBatchRange; len(r) != 0 {
		if len(r) != 3 {
			return errdefs.Configf("visualization.vis_batch_range needs exactly [min, max, increment], got %d values", len(r))
		}
		if r[2] < 1 {
			return errdefs.Configf("visualization.vis_batch_range increment must be >= 1, got %d", r[2])
		}
	}
	switch c.Visualization.VisAtInitDataset {
	case "val", "tst":
	default:
		return errdefs.Configf("visualization.vis_at_init_dataset must be val or tst, got %q", c.Visualization.VisAtInitDataset)
	}
	return nil
}

// NumClassesCorrected is the class count including the background class.
func (c *Config) NumClassesCorrected() int {
	return c.Dataset.NumClasses + 1
}

// SampleOverrides maps split names to the configured sample-count overrides,
// skipping zeros.
func (c *Config) SampleOverrides() map[string]int {
	overrides := make(map[string]int)
	if c.Training.NumTrnSamples > 0 {
		overrides["trn"] = c.Training.NumTrnSamples
	}
	if c.Training.NumValSamples > 0 {
		overrides["val"] = c.Training.NumValSamples
	}
	if c.Training.NumTstSamples > 0 {
		overrides["tst"] = c.Training.NumTstSamples
	}
	return overrides
}
