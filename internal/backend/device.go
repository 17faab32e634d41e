package backend

import (
	"fmt"

	"github.com/23skdu/blockpool/internal/gpu"
)

// Device carves pools out of accelerator memory. The buffer is addressed in
// the device's own address space and is only reachable through copies.
type Device struct {
	dev gpu.Device
}

func NewDevice(dev gpu.Device) *Device {
	return &Device{dev: dev}
}

func (d *Device) Kind() Kind { return KindDevice }

// Driver exposes the device the backend allocates from.
func (d *Device) Driver() gpu.Device { return d.dev }

func (d *Device) BlockSize(requested int) (int, error) {
	return callerBlockSize(requested)
}

func (d *Device) Acquire(size int) (Buffer, error) {
	if err := checkSize(size); err != nil {
		return Buffer{}, err
	}
	ptr, err := d.dev.Malloc(size)
	if err != nil {
		return Buffer{}, fmt.Errorf("%w on %s: %v", ErrDeviceAlloc, d.dev.Name(), err)
	}
	return Buffer{Base: uintptr(ptr), Size: size}, nil
}

func (d *Device) Release(buf Buffer) error {
	if buf.IsZero() {
		return nil
	}
	return d.dev.Free(gpu.DevicePtr(buf.Base))
}

func (d *Device) CopyIn(buf Buffer, off int, src []byte) error {
	return d.dev.CopyFromHost(gpu.DevicePtr(buf.Base+uintptr(off)), src)
}

func (d *Device) CopyOut(buf Buffer, off int, dst []byte) error {
	return d.dev.CopyToHost(dst, gpu.DevicePtr(buf.Base+uintptr(off)))
}

var (
	_ Backend    = (*Device)(nil)
	_ Transferer = (*Device)(nil)
)
