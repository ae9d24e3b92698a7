package tensor

import (
	"reflect"
	"testing"

	"github.com/geodl/segtrain/device"
)

func TestNewTensor(t *testing.T) {
	t.Run("valid float32", func(t *testing.T) {
		tn, err := NewTensor([]int{2, 3}, Float32, []float32{1, 2, 3, 4, 5, 6})
		if err != nil {
			t.Fatalf("NewTensor failed: %v", err)
		}
		if tn.NumElems != 6 {
			t.Errorf("NumElems = %d, want 6", tn.NumElems)
		}
		if !reflect.DeepEqual(tn.Strides, []int{3, 1}) {
			t.Errorf("Strides = %v, want [3 1]", tn.Strides)
		}
		if tn.Device != device.NewCPU() {
			t.Errorf("new tensors should start on cpu, got %v", tn.Device)
		}
	})

	t.Run("length mismatch", func(t *testing.T) {
		if _, err := NewTensor([]int{2, 3}, Float32, []float32{1, 2}); err == nil {
			t.Error("expected error for data length mismatch")
		}
	})

	t.Run("wrong data type", func(t *testing.T) {
		if _, err := NewTensor([]int{2}, Int64, []float32{1, 2}); err == nil {
			t.Error("expected error for mismatched data type")
		}
	})

	t.Run("invalid shape", func(t *testing.T) {
		if _, err := NewTensor([]int{2, -1}, Float32, []float32{}); err == nil {
			t.Error("expected error for negative dimension")
		}
	})
}

func TestClone(t *testing.T) {
	orig, err := NewTensor([]int{2, 2}, Int64, []int64{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	clone := orig.Clone()
	clone.Int64s()[0] = 99
	if orig.Int64s()[0] != 1 {
		t.Error("mutating a clone should not affect the original")
	}
}

func TestTo(t *testing.T) {
	tn, err := Zeros([]int{4}, Float32)
	if err != nil {
		t.Fatalf("Zeros failed: %v", err)
	}
	dev := device.NewAccelerator(0)
	got := tn.To(dev)
	if got != tn {
		t.Error("To should return the receiver for chaining")
	}
	if tn.Device != dev {
		t.Errorf("Device = %v, want %v", tn.Device, dev)
	}
}

func TestArgMaxClasses(t *testing.T) {
	// One sample, 3 classes, 2x2 pixels. Class planes are contiguous.
	logits, err := NewTensor([]int{1, 3, 2, 2}, Float32, []float32{
		// class 0
		0.9, 0.1, 0.2, 0.3,
		// class 1
		0.1, 0.8, 0.1, 0.7,
		// class 2
		0.0, 0.1, 0.7, 0.2,
	})
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	got, err := ArgMaxClasses(logits)
	if err != nil {
		t.Fatalf("ArgMaxClasses failed: %v", err)
	}
	want := []int64{0, 1, 2, 1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ArgMaxClasses = %v, want %v", got, want)
	}
}

func TestArgMaxClassesRejectsBadShapes(t *testing.T) {
	labels, _ := Zeros([]int{2, 2}, Int64)
	if _, err := ArgMaxClasses(labels); err == nil {
		t.Error("expected error for non-float logits")
	}
	flat, _ := Zeros([]int{4}, Float32)
	if _, err := ArgMaxClasses(flat); err == nil {
		t.Error("expected error for non-4D logits")
	}
}
