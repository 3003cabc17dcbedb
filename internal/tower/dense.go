package tower

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/basarnoyan1/bpnet-lite/internal/tensor"
)

// Dense is a fully connected layer mapping In features to Out.
// Weights are laid out as Weight[o*In + i].
type Dense struct {
	In  int
	Out int

	Weight []float64
	Bias   []float64
	GradW  []float64
	GradB  []float64

	lastIn tensor.Mat
}

// NewDense builds a linear layer with He-initialized weights drawn
// from rng. With bias false the layer adds no offset and Bias stays
// nil.
func NewDense(in, out int, bias bool, rng *rand.Rand) *Dense {
	d := &Dense{
		In:     in,
		Out:    out,
		Weight: make([]float64, out*in),
		GradW:  make([]float64, out*in),
	}
	stddev := math.Sqrt(2.0 / float64(in))
	for i := range d.Weight {
		d.Weight[i] = rng.NormFloat64() * stddev
	}
	if bias {
		d.Bias = make([]float64, out)
		d.GradB = make([]float64, out)
	}
	return d
}

// Forward applies the affine map to each row of x and caches x for
// Backward.
func (d *Dense) Forward(x tensor.Mat) (tensor.Mat, error) {
	if err := x.Check(); err != nil {
		return tensor.Mat{}, err
	}
	if x.Cols != d.In {
		return tensor.Mat{}, fmt.Errorf("linear layer expects %d features, got %d", d.In, x.Cols)
	}
	out := tensor.NewMat(x.Rows, d.Out)
	for r := 0; r < x.Rows; r++ {
		for o := 0; o < d.Out; o++ {
			sum := 0.0
			if d.Bias != nil {
				sum = d.Bias[o]
			}
			for i := 0; i < d.In; i++ {
				sum += x.Data[r*d.In+i] * d.Weight[o*d.In+i]
			}
			out.Data[r*d.Out+o] = sum
		}
	}
	d.lastIn = x
	return out, nil
}

// Backward consumes the gradient with respect to the last Forward
// output, accumulates parameter gradients, and returns the gradient
// with respect to the input.
func (d *Dense) Backward(grad tensor.Mat) (tensor.Mat, error) {
	x := d.lastIn
	if x.Data == nil {
		return tensor.Mat{}, fmt.Errorf("backward called before forward")
	}
	if grad.Rows != x.Rows || grad.Cols != d.Out {
		return tensor.Mat{}, fmt.Errorf("gradient shape (%d, %d) does not match output shape (%d, %d)",
			grad.Rows, grad.Cols, x.Rows, d.Out)
	}
	gradIn := tensor.NewMat(x.Rows, d.In)
	for r := 0; r < x.Rows; r++ {
		for o := 0; o < d.Out; o++ {
			g := grad.Data[r*d.Out+o]
			if g == 0 {
				continue
			}
			if d.GradB != nil {
				d.GradB[o] += g
			}
			for i := 0; i < d.In; i++ {
				gradIn.Data[r*d.In+i] += g * d.Weight[o*d.In+i]
				d.GradW[o*d.In+i] += g * x.Data[r*d.In+i]
			}
		}
	}
	return gradIn, nil
}
