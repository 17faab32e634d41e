package gpu

import "errors"

// DevicePtr is an address in a device's own address space. It is never a
// valid host pointer.
type DevicePtr uintptr

var (
	ErrGPUNotAvailable     = errors.New("GPU support not enabled in this build")
	ErrOutOfDeviceMemory   = errors.New("device memory limit reached")
	ErrInvalidDevicePtr    = errors.New("pointer does not belong to a live device allocation")
	ErrTransferOutOfBounds = errors.New("transfer exceeds device allocation bounds")
)

// Device is the driver boundary used by device-backed pools. Implementations
// must stay valid for as long as any pool built on them is open.
type Device interface {
	// Name identifies the device in logs and metrics.
	Name() string

	// Malloc reserves size bytes of device memory.
	Malloc(size int) (DevicePtr, error)

	// Free releases an allocation previously returned by Malloc.
	Free(ptr DevicePtr) error

	// CopyFromHost copies src into device memory starting at dst.
	CopyFromHost(dst DevicePtr, src []byte) error

	// CopyToHost copies len(dst) bytes of device memory starting at src.
	CopyToHost(dst []byte, src DevicePtr) error

	// Close releases every outstanding allocation and the device context.
	Close() error
}

// Config selects and sizes a device.
type Config struct {
	// Simulated backs device memory with host memory outside the pool's view.
	Simulated bool
	// DeviceID selects the accelerator ordinal.
	DeviceID int
	// MemoryLimit caps total device allocations in bytes (0 = unlimited).
	MemoryLimit int64
}
