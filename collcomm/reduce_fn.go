package collcomm

import (
	"math"

	"github.com/unixpickle/distrain/simulator"
)

// FlopTime is the amount of virtual time it takes to
// perform a single floating-point operation.
const FlopTime = 1e-9

// A ReduceFn combines several equal-length vectors into
// one, element by element.
//
// A ReduceFn must be associative, since allreduce
// algorithms may apply it to partial results.
type ReduceFn func(h *simulator.Handle, vecs ...[]float64) []float64

// Sum is a ReduceFn that computes a vector sum.
func Sum(h *simulator.Handle, vecs ...[]float64) []float64 {
	return elementwise(h, vecs, 0, func(acc, x float64) float64 {
		return acc + x
	})
}

// Max is a ReduceFn that computes an element-wise max.
func Max(h *simulator.Handle, vecs ...[]float64) []float64 {
	return elementwise(h, vecs, math.Inf(-1), func(acc, x float64) float64 {
		return math.Max(acc, x)
	})
}

func elementwise(h *simulator.Handle, vecs [][]float64, init float64,
	f func(acc, x float64) float64) []float64 {
	for _, v := range vecs[1:] {
		if len(v) != len(vecs[0]) {
			panic("mismatching lengths")
		}
	}
	res := make([]float64, len(vecs[0]))
	for i := range res {
		res[i] = init
	}
	for _, v := range vecs {
		for i, x := range v {
			res[i] = f(res[i], x)
		}
	}

	// Simulate computation time.
	h.Sleep(FlopTime * float64(len(vecs)*len(vecs[0])))

	return res
}
