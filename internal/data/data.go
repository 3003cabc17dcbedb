package data

import (
	"fmt"
	"math/rand"

	"github.com/basarnoyan1/bpnet-lite/internal/tensor"
)

// Batch groups aligned example tensors for one forward pass. Controls
// stays empty for sources without control tracks.
type Batch struct {
	Seq      tensor.Seq // one-hot DNA, (batch, 4, L)
	Controls tensor.Seq // control signal, (batch, tracks, L)
	Profile  tensor.Seq // observed signal, (batch, outputs, L_out)
}

// HasControls reports whether the batch carries control tracks.
func (b Batch) HasControls() bool {
	return !b.Controls.Empty()
}

// Source yields examples in fixed order as contiguous batches.
type Source interface {
	Examples() int
	Slice(from, to int) (Batch, error)
}

// Dataset is an in-memory Source.
type Dataset struct {
	Seq      tensor.Seq
	Controls tensor.Seq
	Profile  tensor.Seq
}

// Examples returns the number of examples in the set.
func (d *Dataset) Examples() int {
	return d.Seq.Batch
}

// HasControls reports whether the set carries control tracks.
func (d *Dataset) HasControls() bool {
	return !d.Controls.Empty()
}

// Check validates that the member tensors describe the same examples.
func (d *Dataset) Check() error {
	if err := d.Seq.Check(); err != nil {
		return err
	}
	if err := d.Profile.Check(); err != nil {
		return err
	}
	if d.Seq.Channels != 4 {
		return fmt.Errorf("sequence tensor has %d channels, want 4", d.Seq.Channels)
	}
	if d.Profile.Batch != d.Seq.Batch {
		return fmt.Errorf("profile holds %d examples, sequence holds %d", d.Profile.Batch, d.Seq.Batch)
	}
	if d.HasControls() {
		if err := d.Controls.Check(); err != nil {
			return err
		}
		if d.Controls.Batch != d.Seq.Batch || d.Controls.Length != d.Seq.Length {
			return fmt.Errorf("control shape (%d, %d, %d) does not match sequence shape (%d, %d, %d)",
				d.Controls.Batch, d.Controls.Channels, d.Controls.Length, d.Seq.Batch, d.Seq.Channels, d.Seq.Length)
		}
	}
	return nil
}

// Slice copies examples [from, to) into a batch.
func (d *Dataset) Slice(from, to int) (Batch, error) {
	seq, err := d.Seq.Slice(from, to)
	if err != nil {
		return Batch{}, err
	}
	profile, err := d.Profile.Slice(from, to)
	if err != nil {
		return Batch{}, err
	}
	var controls tensor.Seq
	if d.HasControls() {
		controls, err = d.Controls.Slice(from, to)
		if err != nil {
			return Batch{}, err
		}
	}
	return Batch{Seq: seq, Controls: controls, Profile: profile}, nil
}

// Batches splits the set into consecutive batches of at most size
// examples. The final batch may be short.
func Batches(src Source, size int) ([]Batch, error) {
	if size <= 0 {
		return nil, fmt.Errorf("batch size must be > 0")
	}
	n := src.Examples()
	out := make([]Batch, 0, (n+size-1)/size)
	for from := 0; from < n; from += size {
		to := from + size
		if to > n {
			to = n
		}
		b, err := src.Slice(from, to)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// Shuffle permutes the examples in place, keeping the member tensors
// aligned.
func (d *Dataset) Shuffle(rng *rand.Rand) {
	n := d.Examples()
	buf := make([]float64, d.Seq.Channels*d.Seq.Length)
	ctlBuf := make([]float64, d.Controls.Channels*d.Controls.Length)
	profBuf := make([]float64, d.Profile.Channels*d.Profile.Length)
	rng.Shuffle(n, func(i, j int) {
		swapExample(d.Seq, i, j, buf)
		if d.HasControls() {
			swapExample(d.Controls, i, j, ctlBuf)
		}
		swapExample(d.Profile, i, j, profBuf)
	})
}

func swapExample(s tensor.Seq, i, j int, buf []float64) {
	a, b := s.Example(i), s.Example(j)
	copy(buf, a)
	copy(a, b)
	copy(b, buf)
}
