// Package tensor provides the in-memory tensor type flowing through the
// training pipeline. Data lives in host memory regardless of the device tag;
// the tag records placement decisions made by the device registry.
package tensor

import (
	"fmt"

	"github.com/geodl/segtrain/device"
)

type DType int

const (
	Float32 DType = iota
	Int64
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "Float32"
	case Int64:
		return "Int64"
	default:
		return "Unknown"
	}
}

// Tensor is a dense n-dimensional array. Data holds either []float32 or
// []int64 depending on DType.
type Tensor struct {
	Shape    []int
	Strides  []int
	DType    DType
	Device   device.Device
	Data     interface{}
	NumElems int
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, device=%s, elements=%d)",
		t.Shape, t.DType, t.Device, t.NumElems)
}

// NewTensor creates a tensor from existing data. The data length must match
// the shape's element count.
func NewTensor(shape []int, dtype DType, data interface{}) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	n := numElements(shape)

	switch dtype {
	case Float32:
		values, ok := data.([]float32)
		if !ok {
			return nil, fmt.Errorf("expected []float32 data for Float32 tensor, got %T", data)
		}
		if len(values) != n {
			return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(values), shape, n)
		}
	case Int64:
		values, ok := data.([]int64)
		if !ok {
			return nil, fmt.Errorf("expected []int64 data for Int64 tensor, got %T", data)
		}
		if len(values) != n {
			return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(values), shape, n)
		}
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", dtype)
	}

	return &Tensor{
		Shape:    append([]int(nil), shape...),
		Strides:  calculateStrides(shape),
		DType:    dtype,
		Device:   device.NewCPU(),
		Data:     data,
		NumElems: n,
	}, nil
}

// Zeros creates a zero-filled tensor.
func Zeros(shape []int, dtype DType) (*Tensor, error) {
	n := numElements(shape)
	switch dtype {
	case Float32:
		return NewTensor(shape, dtype, make([]float32, n))
	case Int64:
		return NewTensor(shape, dtype, make([]int64, n))
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", dtype)
	}
}

// Float32s returns the underlying float32 slice.
func (t *Tensor) Float32s() []float32 {
	return t.Data.([]float32)
}

// Int64s returns the underlying int64 slice.
func (t *Tensor) Int64s() []int64 {
	return t.Data.([]int64)
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	out := &Tensor{
		Shape:    append([]int(nil), t.Shape...),
		Strides:  append([]int(nil), t.Strides...),
		DType:    t.DType,
		Device:   t.Device,
		NumElems: t.NumElems,
	}
	switch t.DType {
	case Float32:
		data := make([]float32, t.NumElems)
		copy(data, t.Float32s())
		out.Data = data
	case Int64:
		data := make([]int64, t.NumElems)
		copy(data, t.Int64s())
		out.Data = data
	}
	return out
}

// To tags the tensor with a new device placement after the registry has
// validated it. The tensor is returned for chaining.
func (t *Tensor) To(d device.Device) *Tensor {
	t.Device = d
	return t
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func numElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, dim := range shape {
		n *= dim
	}
	return n
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("invalid shape: must have at least one dimension")
	}
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}
