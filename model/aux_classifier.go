package model

import (
	"github.com/geodl/segtrain/tensor"
	"github.com/geodl/segtrain/training"
)

// AuxPixelClassifier pairs the main classifier with an auxiliary head, in
// the manner of torchvision segmentation networks that return a named map of
// outputs. Only the primary "out" head receives gradients; the auxiliary
// head exists for inspection and visualization.
type AuxPixelClassifier struct {
	main *PixelClassifier
	aux  *PixelClassifier
}

// NewAuxPixelClassifier builds the two-headed classifier. The auxiliary head
// uses an offset seed so the heads never start identical.
func NewAuxPixelClassifier(bands, classes int, seed int64) *AuxPixelClassifier {
	return &AuxPixelClassifier{
		main: NewPixelClassifier(bands, classes, seed),
		aux:  newAuxHead(bands, classes, seed+1),
	}
}

func newAuxHead(bands, classes int, seed int64) *PixelClassifier {
	head := NewPixelClassifier(bands, classes, seed)
	head.weight.Name = "aux_classifier.weight"
	head.bias.Name = "aux_classifier.bias"
	return head
}

// ForwardHeads runs both heads and returns them keyed by name.
func (ac *AuxPixelClassifier) ForwardHeads(input *tensor.Tensor) (map[string]*tensor.Tensor, error) {
	out, err := ac.main.Forward(input)
	if err != nil {
		return nil, err
	}
	aux, err := ac.aux.Forward(input)
	if err != nil {
		return nil, err
	}
	return map[string]*tensor.Tensor{
		training.PrimaryHead: out,
		"aux":                aux,
	}, nil
}

// Backward routes the loss gradient to the primary head.
func (ac *AuxPixelClassifier) Backward(gradLogits *tensor.Tensor) error {
	return ac.main.Backward(gradLogits)
}

// Parameters returns both heads' parameters.
func (ac *AuxPixelClassifier) Parameters() []*training.Parameter {
	return append(ac.main.Parameters(), ac.aux.Parameters()...)
}

// Train puts both heads in training mode.
func (ac *AuxPixelClassifier) Train() {
	ac.main.Train()
	ac.aux.Train()
}

// Eval puts both heads in inference mode.
func (ac *AuxPixelClassifier) Eval() {
	ac.main.Eval()
	ac.aux.Eval()
}
