package train

import (
	"context"
	"errors"
	"math"
	"os"
	"strings"
	"testing"

	"github.com/basarnoyan1/bpnet-lite/internal/data"
	"github.com/basarnoyan1/bpnet-lite/internal/telemetry"
	"github.com/basarnoyan1/bpnet-lite/internal/tower"
)

func testBatches(t *testing.T, set *data.Dataset, size int) []data.Batch {
	t.Helper()
	batches, err := data.Batches(set, size)
	if err != nil {
		t.Fatalf("batch dataset: %v", err)
	}
	return batches
}

func readLogbook(t *testing.T, path string) []string {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read logbook: %v", err)
	}
	return strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
}

func TestFitTickSchedule(t *testing.T) {
	// Ten batches per epoch for two epochs with a validation tick
	// every fifth iteration puts ticks at iterations 0, 5, 10 and 15.
	tw := testTower(t, 2)
	batches := testBatches(t, testSet(t, 100, 2, 1), 10)
	valid := testSet(t, 10, 2, 2)
	sink := telemetry.NewChannelSink(8)

	res, err := Fit(context.Background(), tw, batches, valid, Config{
		MaxEpochs:      2,
		BatchSize:      64,
		ValidationIter: 5,
		LearningRate:   0,
		OutputDir:      t.TempDir(),
		Sink:           sink,
	})
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if res.Ticks != 4 {
		t.Fatalf("got %d validation ticks, want 4", res.Ticks)
	}
	if res.Iterations != 20 {
		t.Fatalf("got %d iterations, want 20", res.Iterations)
	}
	if res.EarlyStopped {
		t.Fatal("run should not have stopped early")
	}
	// A zero learning rate keeps the weights fixed, so the first tick
	// sets the best loss and every later tick matches it.
	if res.BestValidLoss != res.FinalValidLoss {
		t.Fatalf("best loss %v != final loss %v with frozen weights", res.BestValidLoss, res.FinalValidLoss)
	}

	wantIters := []float64{0, 5, 10, 15}
	for i, want := range wantIters {
		select {
		case rec := <-sink.Records:
			if rec["iteration"] != want {
				t.Fatalf("telemetry tick %d at iteration %v, want %v", i, rec["iteration"], want)
			}
		default:
			t.Fatalf("missing telemetry record for tick %d", i)
		}
	}

	lines := readLogbook(t, res.LogbookPath)
	if len(lines) != 5 {
		t.Fatalf("logbook has %d lines, want header plus 4 rows", len(lines))
	}
	for i, want := range []string{"0", "5", "10", "15"} {
		fields := strings.Split(lines[i+1], "\t")
		if fields[1] != want {
			t.Fatalf("logbook row %d iteration = %q, want %q", i, fields[1], want)
		}
	}

	for _, path := range []string{res.BestPath, res.FinalPath} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("missing checkpoint %s: %v", path, err)
		}
	}
}

func TestFitEarlyStopping(t *testing.T) {
	// With frozen weights the validation loss never improves after the
	// first tick, so a threshold of 2 halts after the third tick.
	tw := testTower(t, 2)
	batches := testBatches(t, testSet(t, 60, 2, 3), 10)
	valid := testSet(t, 10, 2, 4)

	res, err := Fit(context.Background(), tw, batches, valid, Config{
		MaxEpochs:      50,
		BatchSize:      64,
		ValidationIter: 1,
		EarlyStopping:  2,
		LearningRate:   0,
		OutputDir:      t.TempDir(),
	})
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if !res.EarlyStopped {
		t.Fatal("expected the run to stop early")
	}
	if res.Ticks != 3 {
		t.Fatalf("got %d ticks, want 1 improving plus 2 non-improving", res.Ticks)
	}
	if res.Iterations != 3 {
		t.Fatalf("got %d iterations, want 3", res.Iterations)
	}

	lines := readLogbook(t, res.LogbookPath)
	if len(lines) != 4 {
		t.Fatalf("logbook has %d lines, want header plus 3 rows", len(lines))
	}
	for i, want := range []string{"true", "false", "false"} {
		fields := strings.Split(lines[i+1], "\t")
		if got := fields[len(fields)-1]; got != want {
			t.Fatalf("logbook row %d saved flag = %q, want %q", i, got, want)
		}
	}
}

func TestFitBestCheckpointMatchesTickPredictions(t *testing.T) {
	// One tick at iteration 0, then four more training steps that move
	// the weights. Loading the best checkpoint must reproduce the
	// predictions captured at the tick, not the final weights.
	tw := testTower(t, 2)
	batches := testBatches(t, testSet(t, 50, 2, 5), 10)
	valid := testSet(t, 8, 2, 6)

	res, err := Fit(context.Background(), tw, batches, valid, Config{
		MaxEpochs:      1,
		BatchSize:      3,
		ValidationIter: 5,
		LearningRate:   0.001,
		OutputDir:      t.TempDir(),
	})
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if res.Ticks != 1 {
		t.Fatalf("got %d ticks, want 1", res.Ticks)
	}

	best, err := tower.Load(res.BestPath)
	if err != nil {
		t.Fatalf("load best checkpoint: %v", err)
	}
	logps, counts, err := Predict(context.Background(), best, valid, 8, true)
	if err != nil {
		t.Fatalf("predict from checkpoint: %v", err)
	}
	if len(logps.Data) != len(res.ValidProfile.Data) {
		t.Fatalf("checkpoint predicts %d profile values, tick captured %d", len(logps.Data), len(res.ValidProfile.Data))
	}
	for i := range logps.Data {
		if math.Abs(logps.Data[i]-res.ValidProfile.Data[i]) > 1e-9 {
			t.Fatalf("profile element %d differs from the tick's prediction", i)
		}
	}
	if counts.Rows != len(res.ValidCounts) {
		t.Fatalf("checkpoint predicts %d counts, tick captured %d", counts.Rows, len(res.ValidCounts))
	}
	for i := range res.ValidCounts {
		if math.Abs(counts.At(i, 0)-res.ValidCounts[i]) > 1e-9 {
			t.Fatalf("count %d differs from the tick's prediction", i)
		}
	}
}

func TestFitWithoutValidationSet(t *testing.T) {
	tw := testTower(t, 2)
	batches := testBatches(t, testSet(t, 20, 2, 7), 10)

	res, err := Fit(context.Background(), tw, batches, nil, Config{
		MaxEpochs:      1,
		BatchSize:      64,
		ValidationIter: 1,
		LearningRate:   0.001,
		OutputDir:      t.TempDir(),
	})
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if res.Ticks != 0 {
		t.Fatalf("got %d ticks without a validation set", res.Ticks)
	}
	if res.BestValidLoss != 0 {
		t.Fatalf("best loss = %v without a validation set", res.BestValidLoss)
	}
	if _, err := os.Stat(res.FinalPath); err != nil {
		t.Fatalf("missing final checkpoint: %v", err)
	}
	if _, err := os.Stat(res.BestPath); !os.IsNotExist(err) {
		t.Fatalf("best checkpoint should not exist without validation, stat err = %v", err)
	}
	if _, err := os.Stat(res.LogbookPath); !os.IsNotExist(err) {
		t.Fatalf("logbook should not exist without validation, stat err = %v", err)
	}
}

func TestFitControlArityMismatch(t *testing.T) {
	batches := testBatches(t, testSet(t, 10, 2, 8), 10)
	noControls := testTower(t, 0)
	_, err := Fit(context.Background(), noControls, batches, nil, Config{
		MaxEpochs:      1,
		BatchSize:      64,
		ValidationIter: 1,
		LearningRate:   0.001,
		OutputDir:      t.TempDir(),
	})
	if err == nil {
		t.Fatal("expected error fitting a control-free model on control batches")
	}

	withControls := testTower(t, 2)
	ctlBatches := testBatches(t, testSet(t, 10, 2, 9), 10)
	bareValid := testSet(t, 4, 0, 10)
	_, err = Fit(context.Background(), withControls, ctlBatches, bareValid, Config{
		MaxEpochs:      1,
		BatchSize:      64,
		ValidationIter: 1,
		LearningRate:   0.001,
		OutputDir:      t.TempDir(),
	})
	if err == nil {
		t.Fatal("expected error validating without the configured control tracks")
	}
}

func TestFitRejectsBadSetup(t *testing.T) {
	tw := testTower(t, 2)
	batches := testBatches(t, testSet(t, 10, 2, 11), 10)
	good := Config{
		MaxEpochs:      1,
		BatchSize:      64,
		ValidationIter: 1,
		LearningRate:   0.001,
		OutputDir:      t.TempDir(),
	}

	if _, err := Fit(context.Background(), tw, nil, nil, good); err == nil {
		t.Fatal("expected error without training batches")
	}

	bad := good
	bad.MaxEpochs = 0
	if _, err := Fit(context.Background(), tw, batches, nil, bad); err == nil {
		t.Fatal("expected error for zero max epochs")
	}
	bad = good
	bad.ValidationIter = 0
	if _, err := Fit(context.Background(), tw, batches, nil, bad); err == nil {
		t.Fatal("expected error for a zero validation interval")
	}
	bad = good
	bad.LearningRate = -1
	if _, err := Fit(context.Background(), tw, batches, nil, bad); err == nil {
		t.Fatal("expected error for a negative learning rate")
	}
}

func TestFitContextCancelled(t *testing.T) {
	tw := testTower(t, 2)
	batches := testBatches(t, testSet(t, 10, 2, 12), 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Fit(ctx, tw, batches, nil, Config{
		MaxEpochs:      1,
		BatchSize:      64,
		ValidationIter: 1,
		LearningRate:   0.001,
		OutputDir:      t.TempDir(),
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}
