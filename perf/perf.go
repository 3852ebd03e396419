// Package perf estimates model size and training
// throughput: parameter counts, FLOPs per token, device
// peak FLOPs and model FLOPs utilization.
package perf

import (
	"strings"

	"github.com/unixpickle/distrain/config"
)

// A Parameter describes one parameter tensor of a model.
type Parameter struct {
	Name      string
	Shape     []int
	Trainable bool

	// StorageID identifies the underlying buffer.
	// Parameters with the same non-empty StorageID are
	// tied and share their elements.
	StorageID string
}

// NumElements is the product of the shape's dimensions.
// A scalar has one element.
func (p Parameter) NumElements() int64 {
	n := int64(1)
	for _, d := range p.Shape {
		n *= int64(d)
	}
	return n
}

// A Model exposes its parameter tensors.
type Model interface {
	Parameters() []Parameter
}

// ParamList is a Model backed by a slice.
type ParamList []Parameter

// Parameters returns the list itself.
func (p ParamList) Parameters() []Parameter {
	return p
}

// NumParams sums the element counts of a model's
// parameters, counting tied parameters once.
//
// If onlyTrainable is set, frozen parameters are left
// out.
func NumParams(model Model, onlyTrainable bool) int64 {
	var total int64
	seen := map[string]bool{}
	for _, p := range model.Parameters() {
		if onlyTrainable && !p.Trainable {
			continue
		}
		if p.StorageID != "" {
			if seen[p.StorageID] {
				continue
			}
			seen[p.StorageID] = true
		}
		total += p.NumElements()
	}
	return total
}

// NumFlopPerToken approximates the training FLOPs spent
// per token: 6 FLOPs per parameter for the forward and
// backward matmuls, plus the attention term
// 12 * layers * heads * headDim * seqLen.
func NumFlopPerToken(numParams int64, model config.ModelConfig, seqLen int) int64 {
	l := int64(model.NLayers)
	h := int64(model.NHeads)
	q := int64(model.HeadDim())
	t := int64(seqLen)
	return 6*numParams + 12*l*h*q*t
}

// Dense bf16 peak throughput, in FLOPs per second.
const (
	A100Flops     = 312e12
	H100SXMFlops  = 989e12
	H100PCIeFlops = 756e12
	H100NVLFlops  = 1979e12
)

// PeakFlops returns the peak bf16 FLOPs of a device,
// matched by substring of its name.
//
// Unrecognized devices fall back to the A100 number.
func PeakFlops(deviceName string) float64 {
	switch {
	case strings.Contains(deviceName, "A100"):
		return A100Flops
	case strings.Contains(deviceName, "H100"):
		switch {
		case strings.Contains(deviceName, "NVL"):
			return H100NVLFlops
		case strings.Contains(deviceName, "PCIe"):
			return H100PCIeFlops
		default:
			return H100SXMFlops
		}
	default:
		return A100Flops
	}
}

// MFU returns the model FLOPs utilization in percent:
// the share of peakFlops that tokensPerSecond tokens at
// flopPerToken each amount to.
func MFU(tokensPerSecond float64, flopPerToken int64, peakFlops float64) float64 {
	if peakFlops <= 0 {
		return 0
	}
	return 100 * float64(flopPerToken) * tokensPerSecond / peakFlops
}
