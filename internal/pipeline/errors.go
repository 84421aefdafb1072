package pipeline

import "errors"

var (
	// ErrDeviceBusy is returned when another run holds the device lock.
	ErrDeviceBusy = errors.New("converter device is in use by another run")
	// ErrCompletionTimeout is returned when an input buffer is not consumed
	// by every stream within the completion timeout.
	ErrCompletionTimeout = errors.New("input buffer not consumed before deadline")
	// ErrDeviceRemoved is returned when the converter node disappears.
	ErrDeviceRemoved = errors.New("converter device removed")
	// ErrNoInputs is returned when Run is given no images.
	ErrNoInputs = errors.New("no input images")
)
