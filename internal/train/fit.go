package train

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/basarnoyan1/bpnet-lite/internal/data"
	"github.com/basarnoyan1/bpnet-lite/internal/logbook"
	"github.com/basarnoyan1/bpnet-lite/internal/loss"
	"github.com/basarnoyan1/bpnet-lite/internal/performance"
	"github.com/basarnoyan1/bpnet-lite/internal/telemetry"
	"github.com/basarnoyan1/bpnet-lite/internal/tensor"
	"github.com/basarnoyan1/bpnet-lite/internal/tower"
)

// Config drives one training run. Every field is explicit here;
// higher-level clients apply their defaults before calling Fit.
type Config struct {
	MaxEpochs      int
	BatchSize      int // chunk size for validation predictions
	ValidationIter int // training iterations between validation ticks
	EarlyStopping  int // consecutive non-improving ticks before halting; 0 disables
	LearningRate   float64
	OutputDir      string
	Sink           telemetry.Sink // nil drops tick records
}

func (c Config) validate() error {
	if c.MaxEpochs <= 0 {
		return fmt.Errorf("max epochs must be > 0")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be > 0")
	}
	if c.ValidationIter <= 0 {
		return fmt.Errorf("validation interval must be > 0")
	}
	if c.EarlyStopping < 0 {
		return fmt.Errorf("early stopping must be >= 0")
	}
	if c.LearningRate < 0 {
		return fmt.Errorf("learning rate must be >= 0")
	}
	return nil
}

// Result reports a finished run. The Valid fields carry the
// predictions from the last validation tick so callers can report on
// them without re-running inference.
type Result struct {
	BestValidLoss  float64
	FinalValidLoss float64
	Iterations     int
	Ticks          int
	EarlyStopped   bool
	BestPath       string
	FinalPath      string
	LogbookPath    string
	Log            []logbook.Row // one row per validation tick
	ValidProfile   tensor.Seq    // log-probabilities from the last tick
	ValidCounts    []float64     // predicted log counts from the last tick
}

// Fit consumes the training batches in order, one optimizer step per
// batch, for up to MaxEpochs passes. After every ValidationIter-th
// step, when a validation set was supplied, it predicts over the full
// set, logs the tick, checkpoints on strict improvement of the
// validation loss, and halts early once EarlyStopping consecutive
// ticks fail to improve. Early stopping is a normal way for a run to
// end, not an error. The final weights are always saved separately
// from the best ones, and a failed checkpoint or logbook write kills
// the run.
func Fit(ctx context.Context, t *tower.Tower, training []data.Batch, valid *data.Dataset, cfg Config) (Result, error) {
	if err := cfg.validate(); err != nil {
		return Result{}, err
	}
	if len(training) == 0 {
		return Result{}, fmt.Errorf("fit requires at least one training batch")
	}
	wantControls := t.Config().ControlTracks > 0
	for i, b := range training {
		if b.HasControls() != wantControls {
			return Result{}, fmt.Errorf("training batch %d control arity does not match the model configuration", i)
		}
	}
	if valid != nil {
		if err := valid.Check(); err != nil {
			return Result{}, fmt.Errorf("validation set: %w", err)
		}
		if valid.HasControls() != wantControls {
			return Result{}, fmt.Errorf("validation set control arity does not match the model configuration")
		}
	}

	name := t.Config().Name
	alpha := t.Config().Alpha
	res := Result{
		BestPath:    filepath.Join(cfg.OutputDir, name+".json"),
		FinalPath:   filepath.Join(cfg.OutputDir, name+".final.json"),
		LogbookPath: filepath.Join(cfg.OutputDir, name+".log"),
	}

	sink := cfg.Sink
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	opt := NewAdamW(cfg.LearningRate)
	book := logbook.New()
	book.Start()

	best := math.Inf(1)
	patience := 0
	iteration := 0
	halted := false
	start := time.Now()

	for epoch := 0; epoch < cfg.MaxEpochs && !halted; epoch++ {
		for _, b := range training {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
			trainMNLL, trainCountMSE, err := trainStep(t, opt, b, alpha)
			if err != nil {
				return Result{}, err
			}

			if valid != nil && iteration%cfg.ValidationIter == 0 {
				trainTime := time.Since(start).Seconds()
				tic := time.Now()
				logps, predLog, sum, err := validate(ctx, t, valid, cfg.BatchSize)
				if err != nil {
					return Result{}, fmt.Errorf("validate: %w", err)
				}
				validTime := time.Since(tic).Seconds()

				validLoss := sum.ProfileMNLL + alpha*sum.CountMSE
				saved := validLoss < best
				row := logbook.Row{
					Epoch:               epoch + 1,
					Iteration:           iteration,
					TrainTime:           trainTime,
					ValidTime:           validTime,
					TrainingMNLL:        trainMNLL,
					TrainingCountMSE:    trainCountMSE,
					ValidMNLL:           sum.ProfileMNLL,
					ValidProfilePearson: sum.ProfilePearson,
					ValidCountPearson:   sum.CountPearson,
					ValidCountMSE:       sum.CountMSE,
					Saved:               saved,
				}
				if err := book.Add(row); err != nil {
					return Result{}, err
				}
				if err := book.Save(res.LogbookPath); err != nil {
					return Result{}, fmt.Errorf("save logbook: %w", err)
				}
				sink.Emit(tickRecord(row))

				if saved {
					if err := t.Save(res.BestPath); err != nil {
						return Result{}, fmt.Errorf("save checkpoint: %w", err)
					}
					best = validLoss
					patience = 0
				} else {
					patience++
				}

				res.Ticks++
				res.FinalValidLoss = validLoss
				res.ValidProfile = logps
				res.ValidCounts = predLog
				if cfg.EarlyStopping > 0 && patience >= cfg.EarlyStopping {
					halted = true
					res.EarlyStopped = true
				}
				start = time.Now()
			}

			iteration++
			if halted {
				break
			}
		}
	}

	if err := t.Save(res.FinalPath); err != nil {
		return Result{}, fmt.Errorf("save final checkpoint: %w", err)
	}
	res.Iterations = iteration
	res.Log = book.Rows()
	if res.Ticks > 0 {
		res.BestValidLoss = best
	}
	return res, nil
}

// trainStep runs one batch through forward, loss, backward, and one
// optimizer step. It returns the batch-mean profile MNLL and count
// MSE.
func trainStep(t *tower.Tower, opt *AdamW, b data.Batch, alpha float64) (float64, float64, error) {
	t.ZeroGrad()
	profile, counts, err := t.Forward(b.Seq, b.Controls)
	if err != nil {
		return 0, 0, err
	}
	if err := b.Profile.Check(); err != nil {
		return 0, 0, err
	}
	if b.Profile.Batch != profile.Batch || b.Profile.Channels != profile.Channels || b.Profile.Length != profile.Length {
		return 0, 0, fmt.Errorf("target shape (%d, %d, %d) does not match profile output (%d, %d, %d)",
			b.Profile.Batch, b.Profile.Channels, b.Profile.Length, profile.Batch, profile.Channels, profile.Length)
	}

	batch := profile.Batch
	gradProfile := tensor.NewSeq(batch, profile.Channels, profile.Length)
	gradCounts := tensor.NewMat(batch, 1)
	mnllSum, countSum := 0.0, 0.0
	for i := 0; i < batch; i++ {
		logps, err := loss.LogSoftmax(profile.Example(i))
		if err != nil {
			return 0, 0, err
		}
		obs := b.Profile.Example(i)
		mnll, err := loss.MNLL(logps, obs)
		if err != nil {
			return 0, 0, err
		}
		mnllSum += mnll

		total := 0.0
		for _, v := range obs {
			total += v
		}
		pred := counts.At(i, 0)
		countSum += loss.Log1pMSE(pred, total)

		if err := loss.ProfileGrad(gradProfile.Example(i), logps, obs, batch); err != nil {
			return 0, 0, err
		}
		gradCounts.Set(i, 0, loss.CountGrad(pred, total, alpha, batch))
	}
	if err := t.Backward(gradProfile, gradCounts); err != nil {
		return 0, 0, err
	}
	opt.Step(t.Parameters())
	return mnllSum / float64(batch), countSum / float64(batch), nil
}

// validate predicts over the full validation set and reduces the
// measures to their summary.
func validate(ctx context.Context, t *tower.Tower, valid *data.Dataset, batchSize int) (tensor.Seq, []float64, performance.Summary, error) {
	logps, counts, err := Predict(ctx, t, valid, batchSize, true)
	if err != nil {
		return tensor.Seq{}, nil, performance.Summary{}, err
	}
	predLog := make([]float64, counts.Rows)
	for i := range predLog {
		predLog[i] = counts.At(i, 0)
	}
	m, err := performance.Calculate(logps, valid.Profile, predLog, performance.DefaultKernelWidth, performance.DefaultKernelSigma)
	if err != nil {
		return tensor.Seq{}, nil, performance.Summary{}, err
	}
	return logps, predLog, m.Summary(), nil
}

// tickRecord flattens one logbook row into a telemetry record.
func tickRecord(r logbook.Row) telemetry.Record {
	rec := telemetry.Record{
		"epoch":                 float64(r.Epoch),
		"iteration":             float64(r.Iteration),
		"train_time":            r.TrainTime,
		"valid_time":            r.ValidTime,
		"training_mnll":         r.TrainingMNLL,
		"training_count_mse":    r.TrainingCountMSE,
		"valid_mnll":            r.ValidMNLL,
		"valid_profile_pearson": r.ValidProfilePearson,
		"valid_count_pearson":   r.ValidCountPearson,
		"valid_count_mse":       r.ValidCountMSE,
		"saved":                 0,
	}
	if r.Saved {
		rec["saved"] = 1
	}
	return rec
}
