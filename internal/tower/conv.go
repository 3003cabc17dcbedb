package tower

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/basarnoyan1/bpnet-lite/internal/tensor"
)

// Conv1D is a dilated 1D convolution over channel-major sequences,
// always with stride 1. Weights are laid out as
// Weight[f*InChannels*Kernel + c*Kernel + k].
type Conv1D struct {
	InChannels int
	Filters    int
	Kernel     int
	Pad        int
	Dilation   int

	Weight []float64
	Bias   []float64
	GradW  []float64
	GradB  []float64

	lastIn tensor.Seq
}

// NewConv1D builds a convolution with He-initialized weights drawn
// from rng. With bias false the layer adds no offset and Bias stays
// nil.
func NewConv1D(inChannels, filters, kernel, pad, dilation int, bias bool, rng *rand.Rand) *Conv1D {
	c := &Conv1D{
		InChannels: inChannels,
		Filters:    filters,
		Kernel:     kernel,
		Pad:        pad,
		Dilation:   dilation,
		Weight:     make([]float64, filters*inChannels*kernel),
		GradW:      make([]float64, filters*inChannels*kernel),
	}
	stddev := math.Sqrt(2.0 / float64(inChannels*kernel))
	for i := range c.Weight {
		c.Weight[i] = rng.NormFloat64() * stddev
	}
	if bias {
		c.Bias = make([]float64, filters)
		c.GradB = make([]float64, filters)
	}
	return c
}

// OutLen returns the output length for an input of the given length.
func (c *Conv1D) OutLen(length int) int {
	span := (c.Kernel-1)*c.Dilation + 1
	return length + 2*c.Pad - span + 1
}

// Forward convolves x with zero padding and caches x for Backward.
func (c *Conv1D) Forward(x tensor.Seq) (tensor.Seq, error) {
	if err := x.Check(); err != nil {
		return tensor.Seq{}, err
	}
	if x.Channels != c.InChannels {
		return tensor.Seq{}, fmt.Errorf("convolution expects %d input channels, got %d", c.InChannels, x.Channels)
	}
	outLen := c.OutLen(x.Length)
	if outLen <= 0 {
		return tensor.Seq{}, fmt.Errorf("input length %d too short for kernel %d with dilation %d", x.Length, c.Kernel, c.Dilation)
	}

	out := tensor.NewSeq(x.Batch, c.Filters, outLen)
	for b := 0; b < x.Batch; b++ {
		for f := 0; f < c.Filters; f++ {
			for o := 0; o < outLen; o++ {
				sum := 0.0
				if c.Bias != nil {
					sum = c.Bias[f]
				}
				for ic := 0; ic < c.InChannels; ic++ {
					for k := 0; k < c.Kernel; k++ {
						p := o + k*c.Dilation - c.Pad
						if p < 0 || p >= x.Length {
							continue
						}
						inIdx := b*x.Channels*x.Length + ic*x.Length + p
						wIdx := f*c.InChannels*c.Kernel + ic*c.Kernel + k
						sum += x.Data[inIdx] * c.Weight[wIdx]
					}
				}
				out.Data[b*c.Filters*outLen+f*outLen+o] = sum
			}
		}
	}
	c.lastIn = x
	return out, nil
}

// Backward consumes the gradient with respect to the last Forward
// output, accumulates parameter gradients into GradW and GradB, and
// returns the gradient with respect to the input.
func (c *Conv1D) Backward(grad tensor.Seq) (tensor.Seq, error) {
	x := c.lastIn
	if x.Data == nil {
		return tensor.Seq{}, fmt.Errorf("backward called before forward")
	}
	outLen := c.OutLen(x.Length)
	if grad.Batch != x.Batch || grad.Channels != c.Filters || grad.Length != outLen {
		return tensor.Seq{}, fmt.Errorf("gradient shape (%d, %d, %d) does not match output shape (%d, %d, %d)",
			grad.Batch, grad.Channels, grad.Length, x.Batch, c.Filters, outLen)
	}

	gradIn := tensor.NewSeq(x.Batch, c.InChannels, x.Length)
	for b := 0; b < x.Batch; b++ {
		for f := 0; f < c.Filters; f++ {
			for o := 0; o < outLen; o++ {
				g := grad.Data[b*c.Filters*outLen+f*outLen+o]
				if g == 0 {
					continue
				}
				if c.GradB != nil {
					c.GradB[f] += g
				}
				for ic := 0; ic < c.InChannels; ic++ {
					for k := 0; k < c.Kernel; k++ {
						p := o + k*c.Dilation - c.Pad
						if p < 0 || p >= x.Length {
							continue
						}
						inIdx := b*x.Channels*x.Length + ic*x.Length + p
						wIdx := f*c.InChannels*c.Kernel + ic*c.Kernel + k
						gradIn.Data[inIdx] += g * c.Weight[wIdx]
						c.GradW[wIdx] += g * x.Data[inIdx]
					}
				}
			}
		}
	}
	return gradIn, nil
}
