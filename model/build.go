package model

import (
	"go.uber.org/zap"

	"github.com/geodl/segtrain/config"
	"github.com/geodl/segtrain/device"
	"github.com/geodl/segtrain/errdefs"
	"github.com/geodl/segtrain/training"
)

// Bundle is everything Build derives from the configuration: the model and
// its training machinery plus the resolved device placement.
type Bundle struct {
	Model     training.Module
	Criterion training.Loss
	Optimizer training.Optimizer
	Scheduler *training.Scheduler
	Device    device.Device
	Devices   *device.Registry
}

// Build assembles the model bundle. Multi-head architectures are normalized
// here with a head-selecting wrapper, so callers always receive a Module
// producing a single logits tensor. accels describes the accelerators
// available to the process; an empty map means CPU only.
func Build(cfg *config.Config, accels map[int]device.Info, logger *zap.Logger) (*Bundle, error) {
	classes := cfg.NumClassesCorrected()
	bands := cfg.Dataset.Bands

	var m training.Module
	switch cfg.Model.Name {
	case "pixel_classifier":
		m = NewPixelClassifier(bands, classes, cfg.Model.Seed)
	case "aux_pixel_classifier":
		m = training.SelectHead(NewAuxPixelClassifier(bands, classes, cfg.Model.Seed), training.PrimaryHead)
	default:
		return nil, errdefs.Configf("unknown model name %q", cfg.Model.Name)
	}

	registry := device.NewRegistry(accels)
	dev := device.NewCPU()
	if cfg.Training.NumAccelerators > 0 {
		if ords := registry.Ordinals(); len(ords) > 0 {
			dev = device.NewAccelerator(ords[0])
		} else {
			logger.Warn("no accelerators available, falling back to cpu",
				zap.Int("requested", cfg.Training.NumAccelerators))
		}
	}
	logger.Info("model built",
		zap.String("model", cfg.Model.Name),
		zap.Int("bands", bands),
		zap.Int("classes", classes),
		zap.String("device", dev.String()))

	var criterion training.Loss
	if len(cfg.Dataset.ClassWeights) > 0 {
		criterion = training.NewWeightedCrossEntropyLoss(*cfg.Dataset.IgnoreIndex, cfg.Dataset.ClassWeights)
	} else {
		criterion = training.NewCrossEntropyLoss(*cfg.Dataset.IgnoreIndex)
	}

	var optimizer training.Optimizer
	switch cfg.Optimizer.Name {
	case "sgd":
		optimizer = training.NewSGD(m.Parameters(), cfg.Optimizer.LR, cfg.Optimizer.Momentum, cfg.Optimizer.WeightDecay)
	case "adam":
		optimizer = training.NewAdam(m.Parameters(), cfg.Optimizer.LR, 0, 0, 0, cfg.Optimizer.WeightDecay)
	default:
		return nil, errdefs.Configf("unknown optimizer %q", cfg.Optimizer.Name)
	}

	var policy training.LRPolicy
	switch cfg.Scheduler.Name {
	case "steplr":
		policy = training.NewStepLRPolicy(cfg.Scheduler.StepSize, cfg.Scheduler.Gamma)
	case "exponentiallr":
		policy = training.NewExponentialLRPolicy(cfg.Scheduler.Gamma)
	case "constantlr":
		policy = training.ConstantLRPolicy{}
	default:
		return nil, errdefs.Configf("unknown scheduler %q", cfg.Scheduler.Name)
	}

	return &Bundle{
		Model:     m,
		Criterion: criterion,
		Optimizer: optimizer,
		Scheduler: training.NewScheduler(policy, optimizer),
		Device:    dev,
		Devices:   registry,
	}, nil
}
