// Package errdefs defines the error taxonomy shared across the training
// pipeline. Configuration and data errors are raised at startup before any
// epoch runs; device errors are recoverable once via the fallback device.
package errdefs

import (
	"errors"
	"fmt"
)

// MissingDataError indicates a required archive, directory or checkpoint
// path is absent. It is fatal and aborts startup.
type MissingDataError struct {
	Path string
}

func (e *MissingDataError) Error() string {
	return fmt.Sprintf("could not locate: %s", e.Path)
}

// ConfigurationError indicates a requested parameter is inconsistent with
// the data or the domain constraints. It is fatal.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return e.Reason
}

// Configf builds a ConfigurationError from a format string.
func Configf(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// DeviceError indicates a requested accelerator is unavailable. The epoch
// runners recover from it at most once per failure by retrying against the
// canonical fallback device.
type DeviceError struct {
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unable to use device %s: %v", e.Device, e.Err)
	}
	return fmt.Sprintf("unable to use device %s", e.Device)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// IsMissingData reports whether err is a MissingDataError.
func IsMissingData(err error) bool {
	var target *MissingDataError
	return errors.As(err, &target)
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsDevice reports whether err is a DeviceError.
func IsDevice(err error) bool {
	var target *DeviceError
	return errors.As(err, &target)
}
