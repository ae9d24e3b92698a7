// Package training implements the epoch loop of the segmentation pipeline:
// epoch runners for the train/validation/test phases, the batch-size advisor,
// loss/optimizer/scheduler primitives, metric accumulation and the
// multi-epoch orchestrator with best-loss checkpointing.
package training

import (
	"fmt"

	"github.com/geodl/segtrain/tensor"
)

// Parameter is one trainable tensor of a model, with its gradient
// accumulator.
type Parameter struct {
	Name  string
	Shape []int
	Data  []float32
	Grad  []float32
}

// NewParameter allocates a parameter with a zeroed gradient.
func NewParameter(name string, shape []int, data []float32) *Parameter {
	return &Parameter{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Data:  data,
		Grad:  make([]float32, len(data)),
	}
}

// ZeroGrad resets the gradient accumulator.
func (p *Parameter) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// Module is the model contract the epoch runners drive. Forward always
// returns a single [batch, classes, H, W] logits tensor; models with multiple
// output heads are normalized at the factory boundary (see SelectHead).
type Module interface {
	// Forward computes logits for a [batch, bands, H, W] input. In training
	// mode the module may cache activations for the subsequent Backward.
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	// Backward accumulates parameter gradients from the loss gradient with
	// respect to the logits.
	Backward(gradLogits *tensor.Tensor) error
	// Parameters returns the trainable parameters.
	Parameters() []*Parameter
	// Train puts the module in training mode.
	Train()
	// Eval puts the module in inference mode; no activation caching occurs.
	Eval()
}

// HeadModule is a model producing multiple named output heads, in the manner
// of torchvision segmentation networks.
type HeadModule interface {
	ForwardHeads(input *tensor.Tensor) (map[string]*tensor.Tensor, error)
	Backward(gradLogits *tensor.Tensor) error
	Parameters() []*Parameter
	Train()
	Eval()
}

// PrimaryHead is the designated output key of multi-head models.
const PrimaryHead = "out"

// SelectHead adapts a multi-head model into a Module by selecting one named
// head, so the epoch runners never see a polymorphic output.
func SelectHead(m HeadModule, key string) Module {
	return &headSelector{inner: m, key: key}
}

type headSelector struct {
	inner HeadModule
	key   string
}

func (h *headSelector) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	heads, err := h.inner.ForwardHeads(input)
	if err != nil {
		return nil, err
	}
	out, ok := heads[h.key]
	if !ok {
		return nil, fmt.Errorf("model output has no %q head", h.key)
	}
	return out, nil
}

func (h *headSelector) Backward(gradLogits *tensor.Tensor) error {
	return h.inner.Backward(gradLogits)
}

func (h *headSelector) Parameters() []*Parameter { return h.inner.Parameters() }
func (h *headSelector) Train()                   { h.inner.Train() }
func (h *headSelector) Eval()                    { h.inner.Eval() }

// StateDict flattens module parameters into a name-to-values map for
// checkpointing.
func StateDict(m Module) map[string][]float32 {
	state := make(map[string][]float32)
	for _, p := range m.Parameters() {
		values := make([]float32, len(p.Data))
		copy(values, p.Data)
		state[p.Name] = values
	}
	return state
}

// LoadStateDict restores module parameters from a checkpointed state map.
func LoadStateDict(m Module, state map[string][]float32) error {
	for _, p := range m.Parameters() {
		values, ok := state[p.Name]
		if !ok {
			return fmt.Errorf("checkpoint is missing parameter %q", p.Name)
		}
		if len(values) != len(p.Data) {
			return fmt.Errorf("parameter %q size mismatch: checkpoint %d, model %d", p.Name, len(values), len(p.Data))
		}
		copy(p.Data, values)
	}
	return nil
}
