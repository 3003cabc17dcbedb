package tower

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/basarnoyan1/bpnet-lite/internal/tensor"
)

// AlphabetSize is the number of input channels for one-hot encoded DNA.
const AlphabetSize = 4

// countFlank widens the count-head window beyond the trimmed profile
// window by this many positions on each side.
const countFlank = 37

// Config fixes the architecture of a Tower for its lifetime. Start
// from DefaultConfig; New derives trimming and the model name when
// they are unset.
type Config struct {
	Filters       int     `json:"n_filters"`
	Layers        int     `json:"n_layers"`
	Outputs       int     `json:"n_outputs"`
	ControlTracks int     `json:"n_control_tracks"`
	Alpha         float64 `json:"alpha"`
	Trimming      int     `json:"trimming"`
	ProfileBias   bool    `json:"profile_output_bias"`
	CountBias     bool    `json:"count_output_bias"`
	Name          string  `json:"name"`
	Seed          int64   `json:"seed"`
}

// DefaultConfig returns the standard architecture: 64 filters, 8
// dilated residual layers, 2 output strands, 2 control tracks, and
// biases on both heads.
func DefaultConfig() Config {
	return Config{
		Filters:       64,
		Layers:        8,
		Outputs:       2,
		ControlTracks: 2,
		Alpha:         1,
		ProfileBias:   true,
		CountBias:     true,
	}
}

// Validate checks the configuration after derived defaults have been
// applied.
func (c Config) Validate() error {
	if c.Filters <= 0 {
		return fmt.Errorf("n_filters must be > 0")
	}
	if c.Layers <= 0 {
		return fmt.Errorf("n_layers must be > 0")
	}
	if c.Outputs <= 0 {
		return fmt.Errorf("n_outputs must be > 0")
	}
	if c.ControlTracks < 0 {
		return fmt.Errorf("n_control_tracks must be >= 0")
	}
	if c.Alpha < 0 {
		return fmt.Errorf("alpha must be >= 0")
	}
	if c.Trimming < countFlank {
		return fmt.Errorf("trimming must be >= %d so the count window stays inside the sequence", countFlank)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Trimming == 0 {
		c.Trimming = 1 << c.Layers
	}
	if c.Name == "" {
		c.Name = fmt.Sprintf("bpnet.%d.%d", c.Filters, c.Layers)
	}
	return c
}

// Tower is the dilated residual convolution stack with a per-position
// profile head and a scalar count head.
type Tower struct {
	cfg Config

	iconv  *Conv1D
	rconvs []*Conv1D
	fconv  *Conv1D
	count  *Dense

	fwd fwdState
}

// fwdState carries the intermediates Backward needs from the most
// recent Forward call.
type fwdState struct {
	valid  bool
	preIn  tensor.Seq   // initial convolution output before ReLU
	preRes []tensor.Seq // residual convolution outputs before ReLU
	feat   tensor.Seq   // feature map after the residual stack
	start  int
	end    int
}

// New builds a tower from cfg with weights drawn from a generator
// seeded by cfg.Seed.
func New(cfg Config) (*Tower, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	t := &Tower{cfg: cfg}
	t.iconv = NewConv1D(AlphabetSize, cfg.Filters, 21, 10, 1, true, rng)
	for i := 1; i <= cfg.Layers; i++ {
		d := 1 << i
		t.rconvs = append(t.rconvs, NewConv1D(cfg.Filters, cfg.Filters, 3, d, d, true, rng))
	}
	t.fconv = NewConv1D(cfg.Filters+cfg.ControlTracks, cfg.Outputs, 75, 37, 1, cfg.ProfileBias, rng)
	countIn := cfg.Filters
	if cfg.ControlTracks > 0 {
		countIn++
	}
	t.count = NewDense(countIn, 1, cfg.CountBias, rng)
	return t, nil
}

// Config returns the configuration the tower was built with, after
// derived defaults were applied.
func (t *Tower) Config() Config {
	return t.cfg
}

// OutLen returns the trimmed profile length for an input of the given
// length.
func (t *Tower) OutLen(length int) int {
	return length - 2*t.cfg.Trimming
}

func (t *Tower) checkShapes(x, ctl tensor.Seq) error {
	if err := x.Check(); err != nil {
		return err
	}
	if x.Channels != AlphabetSize {
		return fmt.Errorf("one-hot input must have %d channels, got %d", AlphabetSize, x.Channels)
	}
	if t.cfg.ControlTracks == 0 {
		if !ctl.Empty() {
			return fmt.Errorf("model built without control tracks got %d control channels", ctl.Channels)
		}
	} else {
		if err := ctl.Check(); err != nil {
			return err
		}
		if ctl.Channels != t.cfg.ControlTracks {
			return fmt.Errorf("model expects %d control tracks, got %d", t.cfg.ControlTracks, ctl.Channels)
		}
		if ctl.Batch != x.Batch || ctl.Length != x.Length {
			return fmt.Errorf("control shape (%d, %d, %d) does not match input shape (%d, %d, %d)",
				ctl.Batch, ctl.Channels, ctl.Length, x.Batch, x.Channels, x.Length)
		}
	}
	if x.Length-2*t.cfg.Trimming <= 0 {
		return fmt.Errorf("input length %d leaves no output after trimming %d per side", x.Length, t.cfg.Trimming)
	}
	return nil
}

// Forward runs the network over a batch of one-hot sequences and
// optional control tracks. It returns per-position profile logits of
// shape (batch, n_outputs, L - 2*trimming) and one predicted log
// count per example. Pass a zero Seq for ctl when the tower was
// configured without control tracks.
func (t *Tower) Forward(x, ctl tensor.Seq) (tensor.Seq, tensor.Mat, error) {
	if err := t.checkShapes(x, ctl); err != nil {
		return tensor.Seq{}, tensor.Mat{}, err
	}
	start, end := t.cfg.Trimming, x.Length-t.cfg.Trimming

	preIn, err := t.iconv.Forward(x)
	if err != nil {
		return tensor.Seq{}, tensor.Mat{}, err
	}
	feat := reluSeq(preIn)

	preRes := make([]tensor.Seq, len(t.rconvs))
	for i, rc := range t.rconvs {
		pre, err := rc.Forward(feat)
		if err != nil {
			return tensor.Seq{}, tensor.Mat{}, err
		}
		preRes[i] = pre
		feat = addRelu(feat, pre)
	}

	convIn := feat
	if t.cfg.ControlTracks > 0 {
		convIn = concatChannels(feat, ctl)
	}
	full, err := t.fconv.Forward(convIn)
	if err != nil {
		return tensor.Seq{}, tensor.Mat{}, err
	}
	profile := cropSeq(full, start, end)

	wStart, wEnd := start-countFlank, end+countFlank
	wLen := float64(wEnd - wStart)
	featMat := tensor.NewMat(x.Batch, t.count.In)
	for b := 0; b < x.Batch; b++ {
		for f := 0; f < t.cfg.Filters; f++ {
			sum := 0.0
			for p := wStart; p < wEnd; p++ {
				sum += feat.At(b, f, p)
			}
			featMat.Set(b, f, sum/wLen)
		}
		if t.cfg.ControlTracks > 0 {
			sum := 0.0
			for c := 0; c < ctl.Channels; c++ {
				for p := wStart; p < wEnd; p++ {
					sum += ctl.At(b, c, p)
				}
			}
			featMat.Set(b, t.cfg.Filters, math.Log1p(sum))
		}
	}
	counts, err := t.count.Forward(featMat)
	if err != nil {
		return tensor.Seq{}, tensor.Mat{}, err
	}

	t.fwd = fwdState{
		valid:  true,
		preIn:  preIn,
		preRes: preRes,
		feat:   feat,
		start:  start,
		end:    end,
	}
	return profile, counts, nil
}

// Backward propagates loss gradients from the profile logits and the
// count predictions into every parameter gradient. Gradients
// accumulate; call ZeroGrad before a fresh batch.
func (t *Tower) Backward(gradProfile tensor.Seq, gradCounts tensor.Mat) error {
	if !t.fwd.valid {
		return fmt.Errorf("backward called before forward")
	}
	st := t.fwd
	feat := st.feat
	batch, filters, length := feat.Batch, feat.Channels, feat.Length
	outLen := st.end - st.start
	if gradProfile.Batch != batch || gradProfile.Channels != t.cfg.Outputs || gradProfile.Length != outLen {
		return fmt.Errorf("profile gradient shape (%d, %d, %d) does not match output shape (%d, %d, %d)",
			gradProfile.Batch, gradProfile.Channels, gradProfile.Length, batch, t.cfg.Outputs, outLen)
	}
	if gradCounts.Rows != batch || gradCounts.Cols != 1 {
		return fmt.Errorf("count gradient shape (%d, %d) does not match output shape (%d, 1)",
			gradCounts.Rows, gradCounts.Cols, batch)
	}

	// Count head. The mean over the widened window spreads the
	// gradient uniformly; the control feature is an input, so its
	// gradient stops here.
	gFeatMat, err := t.count.Backward(gradCounts)
	if err != nil {
		return err
	}
	gFeat := tensor.NewSeq(batch, filters, length)
	wStart, wEnd := st.start-countFlank, st.end+countFlank
	spread := 1.0 / float64(wEnd-wStart)
	for b := 0; b < batch; b++ {
		for f := 0; f < filters; f++ {
			g := gFeatMat.At(b, f) * spread
			if g == 0 {
				continue
			}
			for p := wStart; p < wEnd; p++ {
				gFeat.Add(b, f, p, g)
			}
		}
	}

	// Profile head. Positions outside the trimmed window received no
	// gradient, and only the learned feature channels continue - the
	// control channels are inputs.
	gFull := tensor.NewSeq(batch, t.cfg.Outputs, length)
	for b := 0; b < batch; b++ {
		for o := 0; o < t.cfg.Outputs; o++ {
			for p := st.start; p < st.end; p++ {
				gFull.Set(b, o, p, gradProfile.At(b, o, p-st.start))
			}
		}
	}
	gConvIn, err := t.fconv.Backward(gFull)
	if err != nil {
		return err
	}
	for b := 0; b < batch; b++ {
		for f := 0; f < filters; f++ {
			for p := 0; p < length; p++ {
				gFeat.Add(b, f, p, gConvIn.At(b, f, p))
			}
		}
	}

	// Residual stack, reversed: X_{i+1} = X_i + relu(conv_i(X_i)).
	g := gFeat
	for i := len(t.rconvs) - 1; i >= 0; i-- {
		gIn, err := t.rconvs[i].Backward(reluMask(st.preRes[i], g))
		if err != nil {
			return err
		}
		for j := range g.Data {
			g.Data[j] += gIn.Data[j]
		}
	}
	if _, err := t.iconv.Backward(reluMask(st.preIn, g)); err != nil {
		return err
	}
	return nil
}

// Param is a named view over one parameter slice and its gradient.
type Param struct {
	Name  string
	Value []float64
	Grad  []float64
}

// Parameters returns named views over every trainable slice. The
// names are stable across construction and checkpoint round-trips.
func (t *Tower) Parameters() []Param {
	ps := []Param{
		{Name: "iconv.weight", Value: t.iconv.Weight, Grad: t.iconv.GradW},
		{Name: "iconv.bias", Value: t.iconv.Bias, Grad: t.iconv.GradB},
	}
	for i, rc := range t.rconvs {
		ps = append(ps,
			Param{Name: fmt.Sprintf("rconv%d.weight", i+1), Value: rc.Weight, Grad: rc.GradW},
			Param{Name: fmt.Sprintf("rconv%d.bias", i+1), Value: rc.Bias, Grad: rc.GradB},
		)
	}
	ps = append(ps, Param{Name: "fconv.weight", Value: t.fconv.Weight, Grad: t.fconv.GradW})
	if t.fconv.Bias != nil {
		ps = append(ps, Param{Name: "fconv.bias", Value: t.fconv.Bias, Grad: t.fconv.GradB})
	}
	ps = append(ps, Param{Name: "count.weight", Value: t.count.Weight, Grad: t.count.GradW})
	if t.count.Bias != nil {
		ps = append(ps, Param{Name: "count.bias", Value: t.count.Bias, Grad: t.count.GradB})
	}
	return ps
}

// ZeroGrad clears every accumulated parameter gradient.
func (t *Tower) ZeroGrad() {
	for _, p := range t.Parameters() {
		for i := range p.Grad {
			p.Grad[i] = 0
		}
	}
}

func reluSeq(x tensor.Seq) tensor.Seq {
	out := tensor.NewSeq(x.Batch, x.Channels, x.Length)
	for i, v := range x.Data {
		if v > 0 {
			out.Data[i] = v
		}
	}
	return out
}

// addRelu returns x + max(pre, 0) elementwise as a new tensor.
func addRelu(x, pre tensor.Seq) tensor.Seq {
	out := tensor.NewSeq(x.Batch, x.Channels, x.Length)
	for i, v := range x.Data {
		if p := pre.Data[i]; p > 0 {
			out.Data[i] = v + p
		} else {
			out.Data[i] = v
		}
	}
	return out
}

// reluMask zeroes grad wherever the pre-activation was non-positive.
func reluMask(pre, grad tensor.Seq) tensor.Seq {
	out := tensor.NewSeq(grad.Batch, grad.Channels, grad.Length)
	for i, v := range pre.Data {
		if v > 0 {
			out.Data[i] = grad.Data[i]
		}
	}
	return out
}

// concatChannels stacks the channels of b below the channels of a.
func concatChannels(a, b tensor.Seq) tensor.Seq {
	out := tensor.NewSeq(a.Batch, a.Channels+b.Channels, a.Length)
	for ex := 0; ex < a.Batch; ex++ {
		copy(out.Example(ex)[:a.Channels*a.Length], a.Example(ex))
		copy(out.Example(ex)[a.Channels*a.Length:], b.Example(ex))
	}
	return out
}

// cropSeq copies positions [start, end) of every channel.
func cropSeq(x tensor.Seq, start, end int) tensor.Seq {
	out := tensor.NewSeq(x.Batch, x.Channels, end-start)
	for b := 0; b < x.Batch; b++ {
		for c := 0; c < x.Channels; c++ {
			copy(out.Row(b, c), x.Row(b, c)[start:end])
		}
	}
	return out
}
