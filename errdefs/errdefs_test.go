package errdefs

import (
	"errors"
	"fmt"
	"testing"
)

func TestMissingDataError(t *testing.T) {
	err := &MissingDataError{Path: "/data/trn_samples.hdf5"}
	if !IsMissingData(err) {
		t.Error("IsMissingData should report true for MissingDataError")
	}
	if IsConfiguration(err) || IsDevice(err) {
		t.Error("MissingDataError should not match other categories")
	}

	wrapped := fmt.Errorf("taking inventory: %w", err)
	if !IsMissingData(wrapped) {
		t.Error("IsMissingData should see through wrapped errors")
	}
}

func TestConfigf(t *testing.T) {
	err := Configf("batch size %d exceeds sample count %d", 32, 10)
	if !IsConfiguration(err) {
		t.Error("IsConfiguration should report true for ConfigurationError")
	}
	want := "batch size 32 exceeds sample count 10"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestDeviceErrorUnwrap(t *testing.T) {
	cause := errors.New("ordinal out of range")
	err := &DeviceError{Device: "accel:3", Err: cause}
	if !IsDevice(err) {
		t.Error("IsDevice should report true for DeviceError")
	}
	if !errors.Is(err, cause) {
		t.Error("DeviceError should unwrap to its cause")
	}
}
