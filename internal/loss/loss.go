package loss

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// LogSoftmax returns log(softmax(logits)) computed stably through
// gonum's LogSumExp. Profile heads flatten all strands of one example
// into a single slice first, so every strand shares one normalizer.
func LogSoftmax(logits []float64) ([]float64, error) {
	if len(logits) == 0 {
		return nil, fmt.Errorf("logits must not be empty")
	}
	lse := floats.LogSumExp(logits)
	out := make([]float64, len(logits))
	for i, v := range logits {
		out[i] = v - lse
	}
	return out, nil
}

// MNLL returns the multinomial negative log-likelihood of one example:
// -lgamma(T+1) + sum lgamma(x_i+1) - sum x_i*logp_i, with T the total
// observed count. logps must already be normalized log-probabilities.
func MNLL(logps, obs []float64) (float64, error) {
	if len(logps) == 0 {
		return 0, fmt.Errorf("log-probabilities must not be empty")
	}
	if len(logps) != len(obs) {
		return 0, fmt.Errorf("log-probabilities and observations differ in length: %d != %d", len(logps), len(obs))
	}
	total := 0.0
	cross := 0.0
	coeff := 0.0
	for i, x := range obs {
		total += x
		cross += x * logps[i]
		lg, _ := math.Lgamma(x + 1)
		coeff += lg
	}
	lgTotal, _ := math.Lgamma(total + 1)
	return -lgTotal + coeff - cross, nil
}

// Log1pMSE returns the squared error between a predicted log count and
// log1p of the observed total.
func Log1pMSE(predLog, obsTotal float64) float64 {
	d := predLog - math.Log1p(obsTotal)
	return d * d
}

// ProfileGrad writes the gradient of the batch-mean MNLL with respect
// to the raw profile logits of one example into dst:
// (softmax_i * T - x_i) / batch. The flattened log-softmax is folded
// in, so callers hand over log-probabilities, not logits.
func ProfileGrad(dst, logps, obs []float64, batch int) error {
	if len(dst) != len(logps) || len(logps) != len(obs) {
		return fmt.Errorf("gradient, log-probabilities and observations differ in length: %d, %d, %d", len(dst), len(logps), len(obs))
	}
	if batch <= 0 {
		return fmt.Errorf("batch must be > 0")
	}
	total := 0.0
	for _, x := range obs {
		total += x
	}
	inv := 1.0 / float64(batch)
	for i, lp := range logps {
		dst[i] = (math.Exp(lp)*total - obs[i]) * inv
	}
	return nil
}

// CountGrad returns the gradient of the batch-mean weighted count loss
// with respect to the predicted log count of one example:
// alpha * 2 * (pred - log1p(obsTotal)) / batch.
func CountGrad(predLog, obsTotal, alpha float64, batch int) float64 {
	return alpha * 2 * (predLog - math.Log1p(obsTotal)) / float64(batch)
}
