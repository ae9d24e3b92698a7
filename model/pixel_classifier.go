// Package model builds the segmentation model bundle consumed by the
// training orchestrator: model, loss, optimizer, scheduler and device
// placement, all derived from the static configuration.
package model

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/geodl/segtrain/tensor"
	"github.com/geodl/segtrain/training"
)

// PixelClassifier is a linear per-pixel classifier over the band values of
// each pixel. It is the reference architecture of the pipeline: small enough
// to train on CPU, with the exact Module surface real networks plug into.
type PixelClassifier struct {
	bands   int
	classes int

	weight *training.Parameter // [classes x bands], row-major
	bias   *training.Parameter // [classes]

	training bool
	input    *tensor.Tensor
}

// NewPixelClassifier initializes a classifier for the given band and class
// counts, with weights drawn from a seeded uniform distribution.
func NewPixelClassifier(bands, classes int, seed int64) *PixelClassifier {
	rng := rand.New(rand.NewSource(uint64(seed)))
	scale := float32(1.0 / float64(bands))
	weights := make([]float32, classes*bands)
	for i := range weights {
		weights[i] = (rng.Float32()*2 - 1) * scale
	}
	return &PixelClassifier{
		bands:   bands,
		classes: classes,
		weight:  training.NewParameter("classifier.weight", []int{classes, bands}, weights),
		bias:    training.NewParameter("classifier.bias", []int{classes}, make([]float32, classes)),
	}
}

// Forward computes logits [batch, classes, H, W] from imagery
// [batch, bands, H, W]. In training mode the input is cached for Backward.
func (pc *PixelClassifier) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 4 {
		return nil, fmt.Errorf("expected 4D input tensor, got shape %v", input.Shape)
	}
	n, bands, h, w := input.Shape[0], input.Shape[1], input.Shape[2], input.Shape[3]
	if bands != pc.bands {
		return nil, fmt.Errorf("input has %d bands, classifier expects %d", bands, pc.bands)
	}

	logits, err := tensor.Zeros([]int{n, pc.classes, h, w}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	logits.Device = input.Device

	x := input.Float32s()
	out := logits.Float32s()
	pixels := h * w
	for s := 0; s < n; s++ {
		inBase := s * bands * pixels
		outBase := s * pc.classes * pixels
		for c := 0; c < pc.classes; c++ {
			wRow := pc.weight.Data[c*bands : (c+1)*bands]
			b := pc.bias.Data[c]
			for p := 0; p < pixels; p++ {
				acc := b
				for band := 0; band < bands; band++ {
					acc += wRow[band] * x[inBase+band*pixels+p]
				}
				out[outBase+c*pixels+p] = acc
			}
		}
	}

	if pc.training {
		pc.input = input
	} else {
		pc.input = nil
	}
	return logits, nil
}

// Backward accumulates weight and bias gradients from the loss gradient with
// respect to the logits. Forward must have run in training mode first.
func (pc *PixelClassifier) Backward(gradLogits *tensor.Tensor) error {
	if pc.input == nil {
		return fmt.Errorf("backward called without a cached forward pass")
	}
	if len(gradLogits.Shape) != 4 || gradLogits.Shape[1] != pc.classes {
		return fmt.Errorf("expected gradient shape [batch, %d, H, W], got %v", pc.classes, gradLogits.Shape)
	}

	n, h, w := gradLogits.Shape[0], gradLogits.Shape[2], gradLogits.Shape[3]
	pixels := h * w
	g := gradLogits.Float32s()
	x := pc.input.Float32s()
	for s := 0; s < n; s++ {
		inBase := s * pc.bands * pixels
		gradBase := s * pc.classes * pixels
		for c := 0; c < pc.classes; c++ {
			gRow := g[gradBase+c*pixels : gradBase+(c+1)*pixels]
			var biasAcc float32
			for p := 0; p < pixels; p++ {
				biasAcc += gRow[p]
			}
			pc.bias.Grad[c] += biasAcc
			for band := 0; band < pc.bands; band++ {
				xRow := x[inBase+band*pixels : inBase+(band+1)*pixels]
				var acc float32
				for p := 0; p < pixels; p++ {
					acc += gRow[p] * xRow[p]
				}
				pc.weight.Grad[c*pc.bands+band] += acc
			}
		}
	}
	return nil
}

// Parameters returns the classifier weight and bias.
func (pc *PixelClassifier) Parameters() []*training.Parameter {
	return []*training.Parameter{pc.weight, pc.bias}
}

// Train enables activation caching for Backward.
func (pc *PixelClassifier) Train() { pc.training = true }

// Eval disables activation caching.
func (pc *PixelClassifier) Eval() {
	pc.training = false
	pc.input = nil
}
