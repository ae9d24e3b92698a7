package training

import (
	"fmt"
	"math"

	"github.com/geodl/segtrain/tensor"
)

// Loss computes a scalar training criterion and its gradient with respect to
// the logits.
type Loss interface {
	Forward(logits, labels *tensor.Tensor) (float64, error)
	Backward(logits, labels *tensor.Tensor) (*tensor.Tensor, error)
}

// CrossEntropyLoss is per-pixel softmax cross-entropy over [N, C, H, W]
// logits and [N, H, W] integer labels. Pixels whose label equals the ignore
// index contribute neither loss nor gradient.
type CrossEntropyLoss struct {
	ignoreIndex  int64
	hasIgnore    bool
	classWeights []float64
}

// NewCrossEntropyLoss creates a cross-entropy criterion that masks out the
// given label value.
func NewCrossEntropyLoss(ignoreIndex int64) *CrossEntropyLoss {
	return &CrossEntropyLoss{ignoreIndex: ignoreIndex, hasIgnore: true}
}

// NewWeightedCrossEntropyLoss additionally rescales each class's
// contribution. weights must have one entry per class.
func NewWeightedCrossEntropyLoss(ignoreIndex int64, weights []float64) *CrossEntropyLoss {
	return &CrossEntropyLoss{ignoreIndex: ignoreIndex, hasIgnore: true, classWeights: weights}
}

// Forward returns the mean weighted negative log-likelihood over non-ignored
// pixels.
func (ce *CrossEntropyLoss) Forward(logits, labels *tensor.Tensor) (float64, error) {
	n, c, pixels, err := ce.checkShapes(logits, labels)
	if err != nil {
		return 0, err
	}

	data := logits.Float32s()
	target := labels.Int64s()

	var total, weightSum float64
	for i := 0; i < n; i++ {
		base := i * c * pixels
		for p := 0; p < pixels; p++ {
			cls := target[i*pixels+p]
			if ce.hasIgnore && cls == ce.ignoreIndex {
				continue
			}
			if cls < 0 || cls >= int64(c) {
				return 0, fmt.Errorf("label value %d outside class range [0, %d)", cls, c)
			}
			logProb := ce.logSoftmaxAt(data, base, pixels, c, p, int(cls))
			w := ce.classWeight(int(cls))
			total += -logProb * w
			weightSum += w
		}
	}
	if weightSum == 0 {
		return 0, nil
	}
	return total / weightSum, nil
}

// Backward returns dLoss/dLogits, shaped like the logits.
func (ce *CrossEntropyLoss) Backward(logits, labels *tensor.Tensor) (*tensor.Tensor, error) {
	n, c, pixels, err := ce.checkShapes(logits, labels)
	if err != nil {
		return nil, err
	}

	data := logits.Float32s()
	target := labels.Int64s()
	grad, err := tensor.Zeros(logits.Shape, tensor.Float32)
	if err != nil {
		return nil, err
	}
	out := grad.Float32s()

	var weightSum float64
	for i := 0; i < n; i++ {
		for p := 0; p < pixels; p++ {
			cls := target[i*pixels+p]
			if ce.hasIgnore && cls == ce.ignoreIndex {
				continue
			}
			weightSum += ce.classWeight(int(cls))
		}
	}
	if weightSum == 0 {
		return grad, nil
	}

	probs := make([]float64, c)
	for i := 0; i < n; i++ {
		base := i * c * pixels
		for p := 0; p < pixels; p++ {
			cls := target[i*pixels+p]
			if ce.hasIgnore && cls == ce.ignoreIndex {
				continue
			}
			ce.softmaxAt(data, base, pixels, c, p, probs)
			w := ce.classWeight(int(cls))
			for j := 0; j < c; j++ {
				g := probs[j]
				if int64(j) == cls {
					g -= 1
				}
				out[base+j*pixels+p] = float32(g * w / weightSum)
			}
		}
	}
	return grad, nil
}

func (ce *CrossEntropyLoss) classWeight(cls int) float64 {
	if ce.classWeights == nil || cls >= len(ce.classWeights) {
		return 1
	}
	return ce.classWeights[cls]
}

// logSoftmaxAt computes log softmax of class cls at pixel p, stabilized by
// the max logit.
func (ce *CrossEntropyLoss) logSoftmaxAt(data []float32, base, pixels, c, p, cls int) float64 {
	maxVal := float64(data[base+p])
	for j := 1; j < c; j++ {
		if v := float64(data[base+j*pixels+p]); v > maxVal {
			maxVal = v
		}
	}
	var sum float64
	for j := 0; j < c; j++ {
		sum += math.Exp(float64(data[base+j*pixels+p]) - maxVal)
	}
	return float64(data[base+cls*pixels+p]) - maxVal - math.Log(sum)
}

func (ce *CrossEntropyLoss) softmaxAt(data []float32, base, pixels, c, p int, out []float64) {
	maxVal := float64(data[base+p])
	for j := 1; j < c; j++ {
		if v := float64(data[base+j*pixels+p]); v > maxVal {
			maxVal = v
		}
	}
	var sum float64
	for j := 0; j < c; j++ {
		out[j] = math.Exp(float64(data[base+j*pixels+p]) - maxVal)
		sum += out[j]
	}
	for j := 0; j < c; j++ {
		out[j] /= sum
	}
}

func (ce *CrossEntropyLoss) checkShapes(logits, labels *tensor.Tensor) (n, c, pixels int, err error) {
	if logits.DType != tensor.Float32 || labels.DType != tensor.Int64 {
		return 0, 0, 0, fmt.Errorf("cross entropy requires Float32 logits and Int64 labels, got %s and %s",
			logits.DType, labels.DType)
	}
	if len(logits.Shape) != 4 || len(labels.Shape) != 3 {
		return 0, 0, 0, fmt.Errorf("cross entropy requires [N, C, H, W] logits and [N, H, W] labels, got %v and %v",
			logits.Shape, labels.Shape)
	}
	if logits.Shape[0] != labels.Shape[0] || logits.Shape[2] != labels.Shape[1] || logits.Shape[3] != labels.Shape[2] {
		return 0, 0, 0, fmt.Errorf("logits shape %v does not align with labels shape %v", logits.Shape, labels.Shape)
	}
	return logits.Shape[0], logits.Shape[1], logits.Shape[2] * logits.Shape[3], nil
}
