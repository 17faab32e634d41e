package compute

import "unsafe"

type sumFunc func(x []float32) float32
type saxpyFunc func(a float32, x, y []float32)

type hostImplementation struct {
	Sum   sumFunc
	Saxpy saxpyFunc
}

var hostImplementations = map[string]hostImplementation{
	"unrolled": {Sum: sumUnrolled4x, Saxpy: saxpyUnrolled4x},
	"generic":  {Sum: sumGeneric, Saxpy: saxpyGeneric},
}

func sumGeneric(x []float32) float32 {
	var s float32
	for _, v := range x {
		s += v
	}
	return s
}

func sumUnrolled4x(x []float32) float32 {
	var s0, s1, s2, s3 float32
	i := 0
	for ; i+4 <= len(x); i += 4 {
		s0 += x[i]
		s1 += x[i+1]
		s2 += x[i+2]
		s3 += x[i+3]
	}
	for ; i < len(x); i++ {
		s0 += x[i]
	}
	return (s0 + s1) + (s2 + s3)
}

func saxpyGeneric(a float32, x, y []float32) {
	for i := range y {
		y[i] += a * x[i]
	}
}

func saxpyUnrolled4x(a float32, x, y []float32) {
	x = x[:len(y)]
	i := 0
	for ; i+4 <= len(y); i += 4 {
		y[i] += a * x[i]
		y[i+1] += a * x[i+1]
		y[i+2] += a * x[i+2]
		y[i+3] += a * x[i+3]
	}
	for ; i < len(y); i++ {
		y[i] += a * x[i]
	}
}

// float32Bytes views s as raw bytes for device transfers.
func float32Bytes(s []float32) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*4)
}
