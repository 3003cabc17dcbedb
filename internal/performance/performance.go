package performance

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/basarnoyan1/bpnet-lite/internal/loss"
	"github.com/basarnoyan1/bpnet-lite/internal/tensor"
)

// Validation smoothing uses a fixed discrete Gaussian.
const (
	DefaultKernelWidth = 81
	DefaultKernelSigma = 7.0
)

// GaussianKernel returns a discrete Gaussian of the given width,
// centered on (width-1)/2 and normalized to sum to one.
func GaussianKernel(width int, sigma float64) []float64 {
	kernel := make([]float64, width)
	mean := float64(width-1) / 2
	sum := 0.0
	for i := range kernel {
		d := (float64(i) - mean) / sigma
		kernel[i] = math.Exp(-0.5 * d * d)
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// Smooth convolves row with kernel at equal length, zero-padded at the
// edges.
func Smooth(row, kernel []float64) []float64 {
	pad := len(kernel) / 2
	out := make([]float64, len(row))
	for p := range out {
		sum := 0.0
		for k, w := range kernel {
			q := p + k - pad
			if q < 0 || q >= len(row) {
				continue
			}
			sum += w * row[q]
		}
		out[p] = sum
	}
	return out
}

// sanitize coerces non-finite values to zero so one degenerate window
// cannot corrupt an aggregate.
func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Pearson returns the correlation of a and b, with degenerate inputs
// coerced to zero.
func Pearson(a, b []float64) float64 {
	return sanitize(stat.Correlation(a, b, nil))
}

// Measures holds validation metrics at their native granularity:
// per example for MNLL and count error, per example and track for the
// profile correlation, one scalar for the count correlation.
type Measures struct {
	ProfileMNLL    []float64
	ProfilePearson []float64
	CountPearson   float64
	CountMSE       []float64
}

// Calculate computes the validation measures from predicted profile
// log-probabilities, observed profiles, and predicted log counts.
// Profiles are converted to probabilities and both sides smoothed
// before the correlation.
func Calculate(logps, obs tensor.Seq, predLogCounts []float64, kernelWidth int, kernelSigma float64) (Measures, error) {
	if err := logps.Check(); err != nil {
		return Measures{}, err
	}
	if err := obs.Check(); err != nil {
		return Measures{}, err
	}
	if logps.Batch != obs.Batch || logps.Channels != obs.Channels || logps.Length != obs.Length {
		return Measures{}, fmt.Errorf("prediction shape (%d, %d, %d) does not match observation shape (%d, %d, %d)",
			logps.Batch, logps.Channels, logps.Length, obs.Batch, obs.Channels, obs.Length)
	}
	if len(predLogCounts) != logps.Batch {
		return Measures{}, fmt.Errorf("got %d predicted counts for %d examples", len(predLogCounts), logps.Batch)
	}
	if kernelWidth <= 0 {
		return Measures{}, fmt.Errorf("kernel width must be > 0")
	}
	if kernelSigma <= 0 {
		return Measures{}, fmt.Errorf("kernel sigma must be > 0")
	}

	kernel := GaussianKernel(kernelWidth, kernelSigma)
	m := Measures{
		ProfileMNLL:    make([]float64, logps.Batch),
		ProfilePearson: make([]float64, 0, logps.Batch*logps.Channels),
		CountMSE:       make([]float64, logps.Batch),
	}
	obsLog1p := make([]float64, logps.Batch)
	for b := 0; b < logps.Batch; b++ {
		mnll, err := loss.MNLL(logps.Example(b), obs.Example(b))
		if err != nil {
			return Measures{}, err
		}
		m.ProfileMNLL[b] = mnll

		for c := 0; c < logps.Channels; c++ {
			pred := make([]float64, logps.Length)
			for p, lp := range logps.Row(b, c) {
				pred[p] = math.Exp(lp)
			}
			r := Pearson(Smooth(pred, kernel), Smooth(obs.Row(b, c), kernel))
			m.ProfilePearson = append(m.ProfilePearson, r)
		}

		total := 0.0
		for _, v := range obs.Example(b) {
			total += v
		}
		obsLog1p[b] = math.Log1p(total)
		m.CountMSE[b] = loss.Log1pMSE(predLogCounts[b], total)
	}
	m.CountPearson = Pearson(predLogCounts, obsLog1p)
	return m, nil
}

// Summary aggregates the measures to their means.
type Summary struct {
	Examples       int     `json:"examples"`
	ProfileMNLL    float64 `json:"profile_mnll"`
	ProfilePearson float64 `json:"profile_pearson"`
	CountPearson   float64 `json:"count_pearson"`
	CountMSE       float64 `json:"count_mse"`
}

// Summary reduces the measures to batch means.
func (m Measures) Summary() Summary {
	return Summary{
		Examples:       len(m.ProfileMNLL),
		ProfileMNLL:    mean(m.ProfileMNLL),
		ProfilePearson: mean(m.ProfilePearson),
		CountPearson:   m.CountPearson,
		CountMSE:       mean(m.CountMSE),
	}
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	return stat.Mean(vals, nil)
}
