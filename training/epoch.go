package training

import (
	"go.uber.org/zap"

	"github.com/geodl/segtrain/device"
	"github.com/geodl/segtrain/loader"
	"github.com/geodl/segtrain/samples"
	"github.com/geodl/segtrain/tensor"
)

// Visualizer renders model inputs, predictions and labels for a batch.
// A nil Visualizer disables visualization.
type Visualizer interface {
	Render(split string, epoch, batchIndex int, images, logits, labels *tensor.Tensor) error
}

// VisRange selects the batch indices to visualize, with Python range
// semantics: [Min, Max) stepping by Increment.
type VisRange struct {
	Min       int
	Max       int
	Increment int
}

// Contains reports whether batch index i falls inside the range.
func (r VisRange) Contains(i int) bool {
	step := r.Increment
	if step <= 0 {
		step = 1
	}
	return i >= r.Min && i < r.Max && (i-r.Min)%step == 0
}

// EpochParams carries the cross-batch context an epoch runner needs.
type EpochParams struct {
	Epoch      int
	NumClasses int
	Device     device.Device
	Devices    *device.Registry
	Progress   *ProgressLog
	Visualizer Visualizer
	VisRange   *VisRange
	Logger     *zap.Logger
}

// RunTrainingEpoch consumes one full pass of the training loader: forward,
// loss, backward and optimizer step per batch, then one scheduler step. It
// returns the populated epoch metrics.
func RunTrainingEpoch(dl *loader.DataLoader, model Module, criterion Loss, optimizer Optimizer, scheduler *Scheduler, p EpochParams) (*MetricsSet, error) {
	model.Train()
	metrics := NewMetricsSet(p.NumClasses)
	batches := dl.Len()
	dev := p.Device

	it := dl.Iterator()
	defer it.Close()
	for batchIndex := 0; ; batchIndex++ {
		batch, err := it.Next()
		if err != nil {
			return nil, err
		}
		if batch == nil {
			break
		}

		if err := p.Progress.Record(p.Epoch, samples.SplitTrain, batchIndex, batches); err != nil {
			return nil, err
		}

		dev, err = transferBatch(p.Devices, dev, batch, p.Logger)
		if err != nil {
			return nil, err
		}

		optimizer.ZeroGrad()
		outputs, err := model.Forward(batch.Images)
		if err != nil {
			return nil, err
		}

		if p.Visualizer != nil && p.VisRange != nil && p.VisRange.Contains(batchIndex) {
			if p.Epoch == 0 && batchIndex == p.VisRange.Min {
				p.Logger.Info("visualizing train outputs",
					zap.Int("min_batch", p.VisRange.Min),
					zap.Int("max_batch", p.VisRange.Max))
			}
			if err := p.Visualizer.Render(samples.SplitTrain, p.Epoch+1, batchIndex, batch.Images, outputs, batch.Labels); err != nil {
				return nil, err
			}
		}

		lossVal, err := criterion.Forward(outputs, batch.Labels)
		if err != nil {
			return nil, err
		}
		metrics.Get(MetricLoss).Update(lossVal, batch.Size)

		grad, err := criterion.Backward(outputs, batch.Labels)
		if err != nil {
			return nil, err
		}
		if err := model.Backward(grad); err != nil {
			return nil, err
		}
		if err := optimizer.Step(); err != nil {
			return nil, err
		}
	}

	scheduler.Step()
	return metrics, nil
}

// RunEvaluationEpoch consumes one full pass of an evaluation loader in
// inference mode. Classification metrics are computed every batchMetrics
// batches on the validation split, and on every batch of the test split.
// A cadence larger than the split's batch count only produces a warning.
func RunEvaluationEpoch(dl *loader.DataLoader, model Module, criterion Loss, split string, batchMetrics int, p EpochParams) (*MetricsSet, error) {
	model.Eval()
	metrics := NewMetricsSet(p.NumClasses)
	batches := dl.Len()
	dev := p.Device

	if split == samples.SplitValidation && batchMetrics > batches {
		p.Logger.Warn("metric cadence exceeds the number of batches, metrics in validation loop won't be computed",
			zap.Int("batch_metrics", batchMetrics),
			zap.Int("batches", batches))
	}

	it := dl.Iterator()
	defer it.Close()
	for batchIndex := 0; ; batchIndex++ {
		batch, err := it.Next()
		if err != nil {
			return nil, err
		}
		if batch == nil {
			break
		}

		if err := p.Progress.Record(p.Epoch, split, batchIndex, batches); err != nil {
			return nil, err
		}

		dev, err = transferBatch(p.Devices, dev, batch, p.Logger)
		if err != nil {
			return nil, err
		}

		outputs, err := model.Forward(batch.Images)
		if err != nil {
			return nil, err
		}

		if p.Visualizer != nil && p.VisRange != nil && p.VisRange.Contains(batchIndex) {
			if p.Epoch == 0 && batchIndex == p.VisRange.Min {
				p.Logger.Info("visualizing evaluation outputs",
					zap.String("split", split),
					zap.Int("min_batch", p.VisRange.Min),
					zap.Int("max_batch", p.VisRange.Max))
			}
			if err := p.Visualizer.Render(split, p.Epoch+1, batchIndex, batch.Images, outputs, batch.Labels); err != nil {
				return nil, err
			}
		}

		lossVal, err := criterion.Forward(outputs, batch.Labels)
		if err != nil {
			return nil, err
		}
		metrics.Get(MetricLoss).Update(lossVal, batch.Size)

		compute := false
		switch split {
		case samples.SplitValidation:
			compute = batchMetrics > 0 && (batchIndex+1)%batchMetrics == 0
		case samples.SplitTest:
			compute = true
		}
		if compute {
			preds, err := tensor.ArgMaxClasses(outputs)
			if err != nil {
				return nil, err
			}
			labels, err := tensor.FlattenLabels(batch.Labels)
			if err != nil {
				return nil, err
			}
			if err := metrics.UpdateIoU(preds, labels, batch.Size, dl.DontcareVal()); err != nil {
				return nil, err
			}
			if err := metrics.UpdateClassification(preds, labels, batch.Size, dl.DontcareVal()); err != nil {
				return nil, err
			}
		}
	}

	p.Logger.Info("evaluation epoch complete",
		zap.String("split", split),
		zap.Int("epoch", p.Epoch),
		zap.Float64("loss", metrics.Get(MetricLoss).Avg))
	if m := metrics.Get(MetricIoU); m.Count > 0 {
		p.Logger.Info("evaluation metrics",
			zap.String("split", split),
			zap.Float64("precision", metrics.Get(MetricPrecision).Avg),
			zap.Float64("recall", metrics.Get(MetricRecall).Avg),
			zap.Float64("fscore", metrics.Get(MetricFScore).Avg),
			zap.Float64("iou", m.Avg))
	}
	return metrics, nil
}

// transferBatch moves the batch tensors to the wanted device. On selection
// failure it retries once against the registry's canonical fallback device;
// a second failure is surfaced to the caller.
func transferBatch(reg *device.Registry, want device.Device, batch *loader.Batch, logger *zap.Logger) (device.Device, error) {
	dev, err := reg.Select(want)
	if err != nil {
		fallback := reg.Fallback()
		logger.Warn("unable to use device, retrying against fallback",
			zap.String("device", want.String()),
			zap.String("fallback", fallback.String()),
			zap.Error(err))
		dev, err = reg.Select(fallback)
		if err != nil {
			return device.Device{}, err
		}
	}
	batch.Images.To(dev)
	batch.Labels.To(dev)
	return dev, nil
}
