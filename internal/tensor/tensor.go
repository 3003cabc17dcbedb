package tensor

import "fmt"

// Seq holds a batch of multi-channel sequences in channel-major order.
// The value at (batch b, channel c, position p) lives at
// Data[b*Channels*Length + c*Length + p].
type Seq struct {
	Data     []float64
	Batch    int
	Channels int
	Length   int
}

// NewSeq returns a zero-filled sequence tensor with the given shape.
func NewSeq(batch, channels, length int) Seq {
	return Seq{
		Data:     make([]float64, batch*channels*length),
		Batch:    batch,
		Channels: channels,
		Length:   length,
	}
}

// Index returns the flat offset of (b, c, p).
func (s Seq) Index(b, c, p int) int {
	return b*s.Channels*s.Length + c*s.Length + p
}

// At returns the value at (b, c, p).
func (s Seq) At(b, c, p int) float64 {
	return s.Data[s.Index(b, c, p)]
}

// Set stores v at (b, c, p).
func (s Seq) Set(b, c, p int, v float64) {
	s.Data[s.Index(b, c, p)] = v
}

// Add accumulates v at (b, c, p).
func (s Seq) Add(b, c, p int, v float64) {
	s.Data[s.Index(b, c, p)] += v
}

// Row returns the positions of channel c in example b as a subslice.
// Mutating the result mutates the tensor.
func (s Seq) Row(b, c int) []float64 {
	off := s.Index(b, c, 0)
	return s.Data[off : off+s.Length]
}

// Example returns all channels of example b as a subslice.
func (s Seq) Example(b int) []float64 {
	off := s.Index(b, 0, 0)
	return s.Data[off : off+s.Channels*s.Length]
}

// Clone returns a deep copy.
func (s Seq) Clone() Seq {
	out := s
	out.Data = append([]float64(nil), s.Data...)
	return out
}

// Empty reports whether the tensor carries no channels.
func (s Seq) Empty() bool {
	return s.Channels == 0
}

// Check reports an error when the data length does not match the
// declared shape.
func (s Seq) Check() error {
	if s.Batch < 0 || s.Channels < 0 || s.Length < 0 {
		return fmt.Errorf("sequence shape (%d, %d, %d) must be non-negative", s.Batch, s.Channels, s.Length)
	}
	want := s.Batch * s.Channels * s.Length
	if len(s.Data) != want {
		return fmt.Errorf("sequence data length %d does not match shape (%d, %d, %d)", len(s.Data), s.Batch, s.Channels, s.Length)
	}
	return nil
}

// Slice returns a view-free copy of examples [from, to).
func (s Seq) Slice(from, to int) (Seq, error) {
	if from < 0 || to < from || to > s.Batch {
		return Seq{}, fmt.Errorf("slice [%d, %d) out of range for batch %d", from, to, s.Batch)
	}
	out := NewSeq(to-from, s.Channels, s.Length)
	copy(out.Data, s.Data[from*s.Channels*s.Length:to*s.Channels*s.Length])
	return out, nil
}

// Mat holds a row-major matrix with the value at (r, c) stored at
// Data[r*Cols + c].
type Mat struct {
	Data []float64
	Rows int
	Cols int
}

// NewMat returns a zero-filled matrix with the given shape.
func NewMat(rows, cols int) Mat {
	return Mat{Data: make([]float64, rows*cols), Rows: rows, Cols: cols}
}

// At returns the value at (r, c).
func (m Mat) At(r, c int) float64 {
	return m.Data[r*m.Cols+c]
}

// Set stores v at (r, c).
func (m Mat) Set(r, c int, v float64) {
	m.Data[r*m.Cols+c] = v
}

// Row returns row r as a subslice. Mutating the result mutates the
// matrix.
func (m Mat) Row(r int) []float64 {
	off := r * m.Cols
	return m.Data[off : off+m.Cols]
}

// Clone returns a deep copy.
func (m Mat) Clone() Mat {
	out := m
	out.Data = append([]float64(nil), m.Data...)
	return out
}

// Check reports an error when the data length does not match the
// declared shape.
func (m Mat) Check() error {
	if m.Rows < 0 || m.Cols < 0 {
		return fmt.Errorf("matrix shape (%d, %d) must be non-negative", m.Rows, m.Cols)
	}
	if len(m.Data) != m.Rows*m.Cols {
		return fmt.Errorf("matrix data length %d does not match shape (%d, %d)", len(m.Data), m.Rows, m.Cols)
	}
	return nil
}
