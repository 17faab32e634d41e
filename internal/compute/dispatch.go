// Package compute runs small numeric kernels over pool memory. The code path
// is picked at runtime from the pool's backend kind: host kinds work on the
// memory in place, device pools stage through the driver's copy primitives.
package compute

import (
	"errors"
	"fmt"

	"github.com/23skdu/blockpool/internal/backend"
	"github.com/23skdu/blockpool/internal/memory"
	"github.com/23skdu/blockpool/internal/metrics"
)

// ErrUnsupportedKind is returned when no kernels are registered for a pool's
// backend kind.
var ErrUnsupportedKind = errors.New("compute: no kernels for backend kind")

// Kernels is the set of operations one backend kind provides. x and y address
// n float32 elements in p.
type Kernels interface {
	Sum(p *memory.Pool, x memory.Pointer, n int) (float32, error)
	Saxpy(p *memory.Pool, a float32, x, y memory.Pointer, n int) error
}

// Dispatcher maps backend kinds to kernels.
type Dispatcher struct {
	table map[backend.Kind]Kernels
}

// NewDispatcher returns a dispatcher with host kernels for the host accessible
// kinds and staged kernels for device pools.
func NewDispatcher() *Dispatcher {
	host := NewHostKernels(GetImplementation())
	return &Dispatcher{
		table: map[backend.Kind]Kernels{
			backend.KindHost:    host,
			backend.KindAligned: host,
			backend.KindPinned:  host,
			backend.KindDevice:  NewDeviceKernels(host),
		},
	}
}

// Register installs k for kind, replacing any previous entry.
func (d *Dispatcher) Register(kind backend.Kind, k Kernels) {
	d.table[kind] = k
}

func (d *Dispatcher) lookup(kernel string, kind backend.Kind) (Kernels, error) {
	k, ok := d.table[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
	metrics.ComputeDispatchTotal.WithLabelValues(kernel, kind.String()).Inc()
	return k, nil
}

// Sum adds the n float32 values at x.
func (d *Dispatcher) Sum(p *memory.Pool, x memory.Pointer, n int) (float32, error) {
	k, err := d.lookup("sum", p.Kind())
	if err != nil {
		return 0, err
	}
	return k.Sum(p, x, n)
}

// Saxpy computes y = a*x + y over n float32 values.
func (d *Dispatcher) Saxpy(p *memory.Pool, a float32, x, y memory.Pointer, n int) error {
	k, err := d.lookup("saxpy", p.Kind())
	if err != nil {
		return err
	}
	return k.Saxpy(p, a, x, y, n)
}

// HostKernels work on host accessible pool memory in place.
type HostKernels struct {
	impl hostImplementation
}

// NewHostKernels selects a host implementation by name, falling back to the
// generic loops for unknown names.
func NewHostKernels(name string) *HostKernels {
	impl, ok := hostImplementations[name]
	if !ok {
		impl = hostImplementations["generic"]
	}
	return &HostKernels{impl: impl}
}

func (h *HostKernels) Sum(p *memory.Pool, x memory.Pointer, n int) (float32, error) {
	xs, err := memory.NewAllocator[float32](p).Slice(x, n)
	if err != nil {
		return 0, err
	}
	return h.impl.Sum(xs), nil
}

func (h *HostKernels) Saxpy(p *memory.Pool, a float32, x, y memory.Pointer, n int) error {
	alloc := memory.NewAllocator[float32](p)
	xs, err := alloc.Slice(x, n)
	if err != nil {
		return err
	}
	ys, err := alloc.Slice(y, n)
	if err != nil {
		return err
	}
	h.impl.Saxpy(a, xs, ys)
	return nil
}

// DeviceKernels copy operands to the host, run the host kernels and copy
// results back.
type DeviceKernels struct {
	host *HostKernels
}

func NewDeviceKernels(host *HostKernels) *DeviceKernels {
	return &DeviceKernels{host: host}
}

func (d *DeviceKernels) stage(p *memory.Pool, ptr memory.Pointer, n int) ([]float32, error) {
	buf := make([]float32, n)
	if err := p.CopyOut(ptr, float32Bytes(buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *DeviceKernels) Sum(p *memory.Pool, x memory.Pointer, n int) (float32, error) {
	xs, err := d.stage(p, x, n)
	if err != nil {
		return 0, err
	}
	return d.host.impl.Sum(xs), nil
}

func (d *DeviceKernels) Saxpy(p *memory.Pool, a float32, x, y memory.Pointer, n int) error {
	xs, err := d.stage(p, x, n)
	if err != nil {
		return err
	}
	ys, err := d.stage(p, y, n)
	if err != nil {
		return err
	}
	d.host.impl.Saxpy(a, xs, ys)
	return p.CopyIn(y, float32Bytes(ys))
}

var (
	_ Kernels = (*HostKernels)(nil)
	_ Kernels = (*DeviceKernels)(nil)
)
