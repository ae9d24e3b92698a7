// Package device models compute device placement for the training pipeline.
// Devices are abstract targets: a Registry knows which accelerators exist and
// how much memory each carries, and tensor transfers are validated against it.
package device

import (
	"fmt"
	"sort"

	"github.com/geodl/segtrain/errdefs"
)

// Kind classifies a compute device.
type Kind int

const (
	CPU Kind = iota
	Accelerator
)

func (k Kind) String() string {
	switch k {
	case CPU:
		return "cpu"
	case Accelerator:
		return "accel"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Device identifies a compute target.
type Device struct {
	Kind    Kind
	Ordinal int
}

func (d Device) String() string {
	if d.Kind == CPU {
		return "cpu"
	}
	return fmt.Sprintf("%s:%d", d.Kind, d.Ordinal)
}

// NewCPU returns the CPU device.
func NewCPU() Device { return Device{Kind: CPU} }

// NewAccelerator returns the accelerator device with the given ordinal.
func NewAccelerator(ordinal int) Device {
	return Device{Kind: Accelerator, Ordinal: ordinal}
}

// Info describes one accelerator. MemoryMB is the memory budget usable for
// batch sizing.
type Info struct {
	MemoryMB float64
}

// Registry holds the accelerators available to this process. The CPU is
// always selectable. A nil or empty Registry means CPU-only operation.
type Registry struct {
	accels map[int]Info
}

// NewRegistry builds a registry from an ordinal-to-info accelerator map.
func NewRegistry(accels map[int]Info) *Registry {
	copied := make(map[int]Info, len(accels))
	for ord, info := range accels {
		copied[ord] = info
	}
	return &Registry{accels: copied}
}

// Count returns the number of registered accelerators.
func (r *Registry) Count() int {
	if r == nil {
		return 0
	}
	return len(r.accels)
}

// Select validates that the requested device exists and returns it. Selecting
// an unregistered accelerator yields a DeviceError.
func (r *Registry) Select(d Device) (Device, error) {
	if d.Kind == CPU {
		return d, nil
	}
	if r == nil {
		return Device{}, &errdefs.DeviceError{Device: d.String()}
	}
	if _, ok := r.accels[d.Ordinal]; !ok {
		return Device{}, &errdefs.DeviceError{Device: d.String()}
	}
	return d, nil
}

// Fallback returns the canonical device to retry against when a transfer
// fails: the lowest-ordinal accelerator, or the CPU when none is registered.
func (r *Registry) Fallback() Device {
	if r.Count() == 0 {
		return NewCPU()
	}
	ordinals := r.Ordinals()
	return NewAccelerator(ordinals[0])
}

// Ordinals returns the registered accelerator ordinals in ascending order.
func (r *Registry) Ordinals() []int {
	if r == nil {
		return nil
	}
	ordinals := make([]int, 0, len(r.accels))
	for ord := range r.accels {
		ordinals = append(ordinals, ord)
	}
	sort.Ints(ordinals)
	return ordinals
}

// SmallestMemoryMB returns the memory budget of the smallest registered
// accelerator, or 0 when none is registered.
func (r *Registry) SmallestMemoryMB() float64 {
	if r.Count() == 0 {
		return 0
	}
	smallest := 0.0
	first := true
	for _, info := range r.accels {
		if first || info.MemoryMB < smallest {
			smallest = info.MemoryMB
			first = false
		}
	}
	return smallest
}
