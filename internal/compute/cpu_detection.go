package compute

import (
	"github.com/klauspost/cpuid/v2"
)

// CPUFeatures contains the detected capabilities that steer host kernels.
type CPUFeatures struct {
	Vendor  string
	HasAVX2 bool
	HasNEON bool
}

var (
	features       CPUFeatures
	implementation string
)

func detectCPU() {
	features = CPUFeatures{
		Vendor:  cpuid.CPU.VendorString,
		HasAVX2: cpuid.CPU.Supports(cpuid.AVX2),
		HasNEON: cpuid.CPU.Supports(cpuid.ASIMD),
	}

	switch {
	case features.HasAVX2, features.HasNEON:
		implementation = "unrolled"
	default:
		implementation = "generic"
	}
}

// GetCPUFeatures returns the detected CPU capabilities.
func GetCPUFeatures() CPUFeatures {
	return features
}

// GetImplementation returns the selected host kernel implementation.
func GetImplementation() string {
	return implementation
}

func init() {
	detectCPU()
}
