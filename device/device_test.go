package device

import (
	"testing"

	"github.com/geodl/segtrain/errdefs"
)

func TestDeviceString(t *testing.T) {
	if got := NewCPU().String(); got != "cpu" {
		t.Errorf("CPU String() = %q, want %q", got, "cpu")
	}
	if got := NewAccelerator(2).String(); got != "accel:2" {
		t.Errorf("Accelerator String() = %q, want %q", got, "accel:2")
	}
}

func TestRegistrySelect(t *testing.T) {
	reg := NewRegistry(map[int]Info{0: {MemoryMB: 8192}, 1: {MemoryMB: 4096}})

	t.Run("cpu always selectable", func(t *testing.T) {
		if _, err := reg.Select(NewCPU()); err != nil {
			t.Fatalf("selecting cpu: %v", err)
		}
	})

	t.Run("registered accelerator", func(t *testing.T) {
		dev, err := reg.Select(NewAccelerator(1))
		if err != nil {
			t.Fatalf("selecting accel:1: %v", err)
		}
		if dev.Ordinal != 1 {
			t.Errorf("selected ordinal = %d, want 1", dev.Ordinal)
		}
	})

	t.Run("unregistered accelerator", func(t *testing.T) {
		_, err := reg.Select(NewAccelerator(7))
		if err == nil {
			t.Fatal("expected error selecting accel:7")
		}
		if !errdefs.IsDevice(err) {
			t.Errorf("expected DeviceError, got %T", err)
		}
	})
}

func TestRegistryFallback(t *testing.T) {
	reg := NewRegistry(map[int]Info{3: {}, 1: {}, 2: {}})
	if got := reg.Fallback(); got != NewAccelerator(1) {
		t.Errorf("Fallback() = %v, want accel:1", got)
	}

	empty := NewRegistry(nil)
	if got := empty.Fallback(); got != NewCPU() {
		t.Errorf("empty registry Fallback() = %v, want cpu", got)
	}
}

func TestRegistrySmallestMemory(t *testing.T) {
	reg := NewRegistry(map[int]Info{0: {MemoryMB: 8192}, 1: {MemoryMB: 4096}, 2: {MemoryMB: 16384}})
	if got := reg.SmallestMemoryMB(); got != 4096 {
		t.Errorf("SmallestMemoryMB() = %v, want 4096", got)
	}
	if got := NewRegistry(nil).SmallestMemoryMB(); got != 0 {
		t.Errorf("empty registry SmallestMemoryMB() = %v, want 0", got)
	}
}
