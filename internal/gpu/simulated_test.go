package gpu

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDevice_RequiresSimulation(t *testing.T) {
	_, err := NewDevice(Config{})
	assert.ErrorIs(t, err, ErrGPUNotAvailable)

	dev, err := NewDevice(Config{Simulated: true, DeviceID: 2})
	require.NoError(t, err)
	defer dev.Close()
	assert.Equal(t, "simulated:2", dev.Name())
}

func TestSimulated_RoundTrip(t *testing.T) {
	checked := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer checked.AssertSize(t, 0)

	dev := NewSimulated(Config{}, checked)

	ptr, err := dev.Malloc(1024)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, uintptr(ptr), uintptr(simulatedBase))

	src := []byte{1, 2, 3, 4}
	require.NoError(t, dev.CopyFromHost(ptr+100, src))

	dst := make([]byte, 4)
	require.NoError(t, dev.CopyToHost(dst, ptr+100))
	assert.Equal(t, src, dst)

	require.NoError(t, dev.Free(ptr))
	assert.Equal(t, int64(0), dev.Used())
}

func TestSimulated_DistinctAddresses(t *testing.T) {
	dev := NewSimulated(Config{}, nil)
	defer dev.Close()

	a, err := dev.Malloc(10)
	require.NoError(t, err)
	b, err := dev.Malloc(10)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Greater(t, uintptr(b), uintptr(a)+10)
}

func TestSimulated_Errors(t *testing.T) {
	dev := NewSimulated(Config{MemoryLimit: 512}, nil)
	defer dev.Close()

	_, err := dev.Malloc(0)
	assert.Error(t, err)

	ptr, err := dev.Malloc(512)
	require.NoError(t, err)

	_, err = dev.Malloc(1)
	assert.ErrorIs(t, err, ErrOutOfDeviceMemory)

	assert.ErrorIs(t, dev.CopyFromHost(ptr+510, []byte{1, 2, 3}), ErrTransferOutOfBounds)
	assert.ErrorIs(t, dev.CopyToHost(make([]byte, 1), 0x1000), ErrInvalidDevicePtr)
	assert.ErrorIs(t, dev.Free(ptr+1), ErrInvalidDevicePtr)

	require.NoError(t, dev.Free(ptr))
	assert.ErrorIs(t, dev.Free(ptr), ErrInvalidDevicePtr)
}
