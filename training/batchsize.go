package training

import (
	"go.uber.org/zap"

	"github.com/geodl/segtrain/device"
)

// DefaultMaxPixPerMB is the empirical ceiling of pixels one MB of
// accelerator memory can handle during evaluation.
const DefaultMaxPixPerMB = 280

// CalcEvalBatchSize derives a safe evaluation batch size from the available
// accelerator memory and the sample geometry. It returns batchSize unchanged
// when the estimated pixel load stays under maxPixPerMB; otherwise it
// downgrades to the largest size the smallest accelerator can handle, rounded
// down to a multiple of the device count and floored at 1.
//
// The orchestrator invokes this only when spatial cropping is configured:
// cropping shrinks the training footprint, making full-size evaluation the
// binding constraint.
func CalcEvalBatchSize(reg *device.Registry, batchSize, sampleSize, maxPixPerMB int, logger *zap.Logger) int {
	if reg.Count() == 0 {
		return batchSize
	}
	if maxPixPerMB <= 0 {
		maxPixPerMB = DefaultMaxPixPerMB
	}

	smallest := reg.SmallestMemoryMB()
	devices := float64(reg.Count())
	pixels := float64(sampleSize * sampleSize)

	pixPerMB := (float64(batchSize) / devices * pixels) / smallest
	if pixPerMB < float64(maxPixPerMB) {
		return batchSize
	}

	advised := smallest * float64(maxPixPerMB) / pixels
	rounded := int(advised) - int(advised)%reg.Count()
	if rounded < 1 {
		rounded = 1
	}
	logger.Warn("validation and test batch size downgraded based on max ram of smallest accelerator available",
		zap.Int("batch_size", batchSize),
		zap.Int("eval_batch_size", rounded),
		zap.Float64("smallest_memory_mb", smallest))
	return rounded
}
