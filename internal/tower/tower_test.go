package tower

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"gonum.org/v1/gonum/diff/fd"

	"github.com/basarnoyan1/bpnet-lite/internal/tensor"
)

func testConfig() Config {
	return Config{
		Filters:       3,
		Layers:        2,
		Outputs:       2,
		ControlTracks: 2,
		Alpha:         1,
		Trimming:      40,
		ProfileBias:   true,
		CountBias:     true,
		Seed:          1,
	}
}

func randOneHot(rng *rand.Rand, batch, length int) tensor.Seq {
	x := tensor.NewSeq(batch, AlphabetSize, length)
	for b := 0; b < batch; b++ {
		for p := 0; p < length; p++ {
			x.Set(b, rng.Intn(AlphabetSize), p, 1)
		}
	}
	return x
}

func randControls(rng *rand.Rand, batch, channels, length int) tensor.Seq {
	ctl := tensor.NewSeq(batch, channels, length)
	for i := range ctl.Data {
		ctl.Data[i] = rng.Float64() * 2
	}
	return ctl
}

func TestConfigDerivedDefaults(t *testing.T) {
	tw, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	cfg := tw.Config()
	if cfg.Trimming != 256 {
		t.Fatalf("trimming = %d, want 256", cfg.Trimming)
	}
	if cfg.Name != "bpnet.64.8" {
		t.Fatalf("name = %q, want bpnet.64.8", cfg.Name)
	}
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero filters", func(c *Config) { c.Filters = 0 }},
		{"zero layers", func(c *Config) { c.Layers = 0 }},
		{"zero outputs", func(c *Config) { c.Outputs = 0 }},
		{"negative controls", func(c *Config) { c.ControlTracks = -1 }},
		{"negative alpha", func(c *Config) { c.Alpha = -0.5 }},
		{"small trimming", func(c *Config) { c.Trimming = 10 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			if _, err := New(cfg); err == nil {
				t.Fatal("expected config error")
			}
		})
	}
}

func TestForwardShapes(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	tw, err := New(testConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	x := randOneHot(rng, 3, 100)
	ctl := randControls(rng, 3, 2, 100)
	profile, counts, err := tw.Forward(x, ctl)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if profile.Batch != 3 || profile.Channels != 2 || profile.Length != 20 {
		t.Fatalf("profile shape = (%d, %d, %d), want (3, 2, 20)", profile.Batch, profile.Channels, profile.Length)
	}
	if counts.Rows != 3 || counts.Cols != 1 {
		t.Fatalf("counts shape = (%d, %d), want (3, 1)", counts.Rows, counts.Cols)
	}
}

func TestResidualLayersPreserveLength(t *testing.T) {
	tw, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for i, rc := range tw.rconvs {
		if got := rc.OutLen(2114); got != 2114 {
			t.Fatalf("layer %d OutLen(2114) = %d", i+1, got)
		}
	}
	if got := tw.iconv.OutLen(2114); got != 2114 {
		t.Fatalf("initial convolution OutLen(2114) = %d", got)
	}
	if got := tw.fconv.OutLen(2114); got != 2114 {
		t.Fatalf("profile convolution OutLen(2114) = %d", got)
	}
}

func TestControlArity(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	x := randOneHot(rng, 2, 100)

	cfg := testConfig()
	cfg.ControlTracks = 0
	plain, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	p1, c1, err := plain.Forward(x, tensor.Seq{})
	if err != nil {
		t.Fatalf("forward with zero control: %v", err)
	}
	p2, c2, err := plain.Forward(x, tensor.NewSeq(2, 0, 100))
	if err != nil {
		t.Fatalf("forward with empty control: %v", err)
	}
	for i := range p1.Data {
		if p1.Data[i] != p2.Data[i] {
			t.Fatalf("profile differs at %d between zero and empty control", i)
		}
	}
	for i := range c1.Data {
		if c1.Data[i] != c2.Data[i] {
			t.Fatalf("counts differ at %d between zero and empty control", i)
		}
	}
	if _, _, err := plain.Forward(x, randControls(rng, 2, 2, 100)); err == nil {
		t.Fatal("expected error for controls on a control-free model")
	}

	withCtl, err := New(testConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, _, err := withCtl.Forward(x, tensor.Seq{}); err == nil {
		t.Fatal("expected error for missing controls")
	}
	if _, _, err := withCtl.Forward(x, randControls(rng, 2, 1, 100)); err == nil {
		t.Fatal("expected error for wrong control channel count")
	}
	if _, _, err := withCtl.Forward(x, randControls(rng, 2, 2, 50)); err == nil {
		t.Fatal("expected error for mismatched control length")
	}
}

func TestForwardRejectsBadInput(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	tw, err := New(testConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, _, err := tw.Forward(tensor.NewSeq(1, 3, 100), randControls(rng, 1, 2, 100)); err == nil {
		t.Fatal("expected error for non one-hot channel count")
	}
	if _, _, err := tw.Forward(randOneHot(rng, 1, 80), randControls(rng, 1, 2, 80)); err == nil {
		t.Fatal("expected error for input shorter than twice the trimming")
	}
}

func TestForwardDeterministicPerSeed(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	x := randOneHot(rng, 2, 100)
	ctl := randControls(rng, 2, 2, 100)

	a, err := New(testConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	b, err := New(testConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	pa, ca, err := a.Forward(x, ctl)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	pb, cb, err := b.Forward(x, ctl)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	for i := range pa.Data {
		if pa.Data[i] != pb.Data[i] {
			t.Fatalf("same seed towers diverge at profile %d", i)
		}
	}
	for i := range ca.Data {
		if ca.Data[i] != cb.Data[i] {
			t.Fatalf("same seed towers diverge at count %d", i)
		}
	}

	cfg := testConfig()
	cfg.Seed = 99
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	pc, _, err := c.Forward(x, ctl)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	same := true
	for i := range pa.Data {
		if pa.Data[i] != pc.Data[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("different seeds produced identical profiles")
	}
}

// TestCountHeadWindow pins the count window to trimming widened by 37
// per side using a control feature that counts window positions.
func TestCountHeadWindow(t *testing.T) {
	tw, err := New(testConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	// Freeze the learned path: constant features, profile from bias
	// only, count head reading only the control feature.
	zero := func(vals []float64) {
		for i := range vals {
			vals[i] = 0
		}
	}
	zero(tw.iconv.Weight)
	for i := range tw.iconv.Bias {
		tw.iconv.Bias[i] = 1
	}
	for _, rc := range tw.rconvs {
		zero(rc.Weight)
		for i := range rc.Bias {
			rc.Bias[i] = -1
		}
	}
	zero(tw.fconv.Weight)
	tw.fconv.Bias[0], tw.fconv.Bias[1] = 2.5, -1.5
	zero(tw.count.Weight)
	tw.count.Weight[tw.cfg.Filters] = 1
	tw.count.Bias[0] = 0

	length := 100
	x := randOneHot(rand.New(rand.NewSource(6)), 1, length)
	ctl := tensor.NewSeq(1, 2, length)
	for i := range ctl.Data {
		ctl.Data[i] = 1
	}
	profile, counts, err := tw.Forward(x, ctl)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	for p := 0; p < profile.Length; p++ {
		if got := profile.At(0, 0, p); got != 2.5 {
			t.Fatalf("profile[0][%d] = %v, want 2.5", p, got)
		}
		if got := profile.At(0, 1, p); got != -1.5 {
			t.Fatalf("profile[1][%d] = %v, want -1.5", p, got)
		}
	}
	windowLen := (length - 2*tw.cfg.Trimming) + 2*countFlank
	want := math.Log1p(float64(2 * windowLen))
	if got := counts.At(0, 0); math.Abs(got-want) > 1e-12 {
		t.Fatalf("count = %v, want log1p(2*%d) = %v", got, windowLen, want)
	}
}

// TestDeadResidualBranchGetsNoGradient drives one residual layer fully
// negative so its ReLU output is zero everywhere, then checks that no
// gradient reaches its parameters while the initial convolution still
// trains.
func TestDeadResidualBranchGetsNoGradient(t *testing.T) {
	cfg := testConfig()
	cfg.Layers = 1
	cfg.ControlTracks = 0
	tw, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for i := range tw.iconv.Weight {
		tw.iconv.Weight[i] = 1
	}
	for i := range tw.iconv.Bias {
		tw.iconv.Bias[i] = 0.1
	}
	rc := tw.rconvs[0]
	for i := range rc.Weight {
		rc.Weight[i] = -1
	}
	for i := range rc.Bias {
		rc.Bias[i] = -1
	}

	rng := rand.New(rand.NewSource(7))
	x := randOneHot(rng, 2, 100)
	profile, counts, err := tw.Forward(x, tensor.Seq{})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	gradProfile := tensor.NewSeq(profile.Batch, profile.Channels, profile.Length)
	for i := range gradProfile.Data {
		gradProfile.Data[i] = rng.NormFloat64()
	}
	gradCounts := tensor.NewMat(counts.Rows, 1)
	for i := range gradCounts.Data {
		gradCounts.Data[i] = rng.NormFloat64()
	}
	tw.ZeroGrad()
	if err := tw.Backward(gradProfile, gradCounts); err != nil {
		t.Fatalf("backward: %v", err)
	}
	for i, g := range rc.GradW {
		if g != 0 {
			t.Fatalf("dead branch weight gradient [%d] = %v, want 0", i, g)
		}
	}
	for i, g := range rc.GradB {
		if g != 0 {
			t.Fatalf("dead branch bias gradient [%d] = %v, want 0", i, g)
		}
	}
	nonZero := false
	for _, g := range tw.iconv.GradW {
		if g != 0 {
			nonZero = true
			break
		}
	}
	if !nonZero {
		t.Fatal("initial convolution received no gradient")
	}
}

func TestBackwardBeforeForward(t *testing.T) {
	tw, err := New(testConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	err = tw.Backward(tensor.NewSeq(1, 2, 20), tensor.NewMat(1, 1))
	if err == nil || !strings.Contains(err.Error(), "before forward") {
		t.Fatalf("expected backward before forward error, got %v", err)
	}
}

// TestTowerGradientsMatchFiniteDifference checks every layer's
// parameter gradients through the full network against central
// differences. Weights and biases are shifted strictly positive so no
// ReLU sits near its kink and the finite differences stay exact.
func TestTowerGradientsMatchFiniteDifference(t *testing.T) {
	tw, err := New(testConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, p := range tw.Parameters() {
		for i := range p.Value {
			p.Value[i] = 0.25 + math.Abs(p.Value[i])*0.25
		}
	}

	rng := rand.New(rand.NewSource(8))
	x := randOneHot(rng, 2, 100)
	ctl := randControls(rng, 2, 2, 100)
	outLen := tw.OutLen(100)
	probeProfile := tensor.NewSeq(2, 2, outLen)
	for i := range probeProfile.Data {
		probeProfile.Data[i] = rng.NormFloat64()
	}
	probeCounts := tensor.NewMat(2, 1)
	for i := range probeCounts.Data {
		probeCounts.Data[i] = rng.NormFloat64()
	}

	objective := func() float64 {
		profile, counts, err := tw.Forward(x, ctl)
		if err != nil {
			t.Fatalf("forward: %v", err)
		}
		sum := 0.0
		for i, v := range profile.Data {
			sum += v * probeProfile.Data[i]
		}
		for i, v := range counts.Data {
			sum += v * probeCounts.Data[i]
		}
		return sum
	}

	objective()
	tw.ZeroGrad()
	if err := tw.Backward(probeProfile, probeCounts); err != nil {
		t.Fatalf("backward: %v", err)
	}
	for _, p := range tw.Parameters() {
		checkSampledGradient(t, p.Name, p.Value, p.Grad, objective)
	}
}

// checkSampledGradient compares analytic gradients against central
// differences at a spread of indices, restoring values afterwards.
func checkSampledGradient(t *testing.T, name string, values, analytic []float64, objective func() float64) {
	t.Helper()
	idxs := sampleIndices(len(values), 6)
	orig := make([]float64, len(idxs))
	for j, idx := range idxs {
		orig[j] = values[idx]
	}
	f := func(sub []float64) float64 {
		for j, idx := range idxs {
			values[idx] = sub[j]
		}
		return objective()
	}
	numeric := fd.Gradient(nil, f, orig, &fd.Settings{Formula: fd.Central})
	for j, idx := range idxs {
		values[idx] = orig[j]
	}
	for j, idx := range idxs {
		if diff := math.Abs(analytic[idx] - numeric[j]); diff > 1e-4+1e-4*math.Abs(numeric[j]) {
			t.Fatalf("%s gradient [%d] = %v, finite difference %v", name, idx, analytic[idx], numeric[j])
		}
	}
}

func sampleIndices(n, count int) []int {
	if n <= count {
		idxs := make([]int, n)
		for i := range idxs {
			idxs[i] = i
		}
		return idxs
	}
	idxs := make([]int, count)
	for i := range idxs {
		idxs[i] = i * n / count
	}
	return idxs
}

func TestReluHelpers(t *testing.T) {
	x := tensor.Seq{Data: []float64{-1, 0, 2}, Batch: 1, Channels: 1, Length: 3}
	pre := tensor.Seq{Data: []float64{0.5, -0.5, 0}, Batch: 1, Channels: 1, Length: 3}

	r := reluSeq(pre)
	if r.Data[0] != 0.5 || r.Data[1] != 0 || r.Data[2] != 0 {
		t.Fatalf("reluSeq = %v", r.Data)
	}
	a := addRelu(x, pre)
	if a.Data[0] != -0.5 || a.Data[1] != 0 || a.Data[2] != 2 {
		t.Fatalf("addRelu = %v", a.Data)
	}
	grad := tensor.Seq{Data: []float64{3, 4, 5}, Batch: 1, Channels: 1, Length: 3}
	m := reluMask(pre, grad)
	if m.Data[0] != 3 || m.Data[1] != 0 || m.Data[2] != 0 {
		t.Fatalf("reluMask = %v", m.Data)
	}
}
