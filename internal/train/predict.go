package train

import (
	"context"
	"fmt"

	"github.com/basarnoyan1/bpnet-lite/internal/data"
	"github.com/basarnoyan1/bpnet-lite/internal/loss"
	"github.com/basarnoyan1/bpnet-lite/internal/tensor"
	"github.com/basarnoyan1/bpnet-lite/internal/tower"
)

// Predict runs the tower over src in contiguous chunks of batchSize
// examples and reassembles the outputs in input order. With normalize
// set, each example's profile logits are log-softmax normalized over
// the flattened strand-by-position axis. A failure in any chunk
// aborts the whole call.
func Predict(ctx context.Context, t *tower.Tower, src data.Source, batchSize int, normalize bool) (tensor.Seq, tensor.Mat, error) {
	if batchSize <= 0 {
		return tensor.Seq{}, tensor.Mat{}, fmt.Errorf("batch size must be > 0")
	}
	n := src.Examples()
	var profile tensor.Seq
	var counts tensor.Mat
	done := 0
	for from := 0; from < n; from += batchSize {
		if err := ctx.Err(); err != nil {
			return tensor.Seq{}, tensor.Mat{}, err
		}
		to := from + batchSize
		if to > n {
			to = n
		}
		b, err := src.Slice(from, to)
		if err != nil {
			return tensor.Seq{}, tensor.Mat{}, err
		}
		p, c, err := t.Forward(b.Seq, b.Controls)
		if err != nil {
			return tensor.Seq{}, tensor.Mat{}, err
		}
		if done == 0 {
			profile = tensor.NewSeq(n, p.Channels, p.Length)
			counts = tensor.NewMat(n, c.Cols)
		}
		for i := 0; i < p.Batch; i++ {
			copy(profile.Example(done+i), p.Example(i))
			copy(counts.Row(done+i), c.Row(i))
		}
		done += p.Batch
	}
	if normalize {
		for b := 0; b < profile.Batch; b++ {
			ex := profile.Example(b)
			logps, err := loss.LogSoftmax(ex)
			if err != nil {
				return tensor.Seq{}, tensor.Mat{}, err
			}
			copy(ex, logps)
		}
	}
	return profile, counts, nil
}
