package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/basarnoyan1/bpnet-lite/internal/storage"
	"github.com/basarnoyan1/bpnet-lite/internal/telemetry"
	bpnetapi "github.com/basarnoyan1/bpnet-lite/pkg/bpnet"
)

const version = "0.1.0"

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "fit":
		return runFit(ctx, args[1:])
	case "predict":
		return runPredict(ctx, args[1:])
	case "simulate":
		return runSimulate(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "ticks":
		return runTicks(ctx, args[1:])
	case "artifacts":
		return runArtifacts(ctx, args[1:])
	case "version":
		return runVersion()
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "bpnet.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := bpnetapi.New(bpnetapi.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	fmt.Printf("initialized store=%s\n", *storeKind)
	return nil
}

func runFit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fit", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional fit config JSON path")
	name := fs.String("name", "", "model name (default bpnet.{filters}.{layers})")
	seed := fs.Int64("seed", 1, "rng seed")
	filters := fs.Int("filters", 64, "convolution filter count")
	layers := fs.Int("layers", 8, "dilated residual layer count")
	outputs := fs.Int("outputs", 2, "output track count")
	controlTracks := fs.Int("control-tracks", 2, "control track count (0 disables control conditioning)")
	alpha := fs.Float64("alpha", 1.0, "count loss weight")
	trimming := fs.Int("trimming", 0, "positions trimmed per side of the profile (0 derives 2^layers)")
	noProfileBias := fs.Bool("no-profile-bias", false, "drop the profile head bias")
	noCountBias := fs.Bool("no-count-bias", false, "drop the count head bias")
	trainData := fs.String("train-data", "", "training dataset JSON path (from simulate); empty generates")
	validData := fs.String("valid-data", "", "validation dataset JSON path; empty generates")
	trainExamples := fs.Int("train-examples", 256, "generated training examples")
	validExamples := fs.Int("valid-examples", 32, "generated validation examples (negative disables validation)")
	seqLength := fs.Int("seq-length", 2114, "generated sequence length")
	meanReads := fs.Int("mean-reads", 100, "generated mean reads per example")
	maxEpochs := fs.Int("max-epochs", 100, "training epochs")
	batchSize := fs.Int("batch-size", 64, "examples per optimizer step")
	validationIter := fs.Int("validation-iter", 100, "iterations between validation ticks")
	earlyStopping := fs.Int("early-stopping", 0, "non-improving ticks before halting (0 disables)")
	lr := fs.Float64("lr", 0.001, "learning rate")
	telemetryName := fs.String("telemetry", "", "tick telemetry: none|console|http(s) URL")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "bpnet.db", "sqlite database path")
	outDir := fs.String("out", "out", "artifact output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	req, err := loadOrDefaultFitRequest(*configPath)
	if err != nil {
		return err
	}
	if *configPath == "" {
		req = bpnetapi.FitRequest{
			Name:               *name,
			Seed:               *seed,
			Filters:            *filters,
			Layers:             *layers,
			Outputs:            *outputs,
			ControlTracks:      *controlTracks,
			Alpha:              *alpha,
			Trimming:           *trimming,
			DisableProfileBias: *noProfileBias,
			DisableCountBias:   *noCountBias,
			TrainPath:          *trainData,
			ValidPath:          *validData,
			TrainExamples:      *trainExamples,
			ValidExamples:      *validExamples,
			SeqLength:          *seqLength,
			MeanReads:          *meanReads,
			MaxEpochs:          *maxEpochs,
			BatchSize:          *batchSize,
			ValidationIter:     *validationIter,
			EarlyStopping:      *earlyStopping,
			LearningRate:       *lr,
		}
	} else {
		overrideFromFlags(&req, setFlags, map[string]any{
			"name":            *name,
			"seed":            *seed,
			"filters":         *filters,
			"layers":          *layers,
			"outputs":         *outputs,
			"control-tracks":  *controlTracks,
			"alpha":           *alpha,
			"trimming":        *trimming,
			"no-profile-bias": *noProfileBias,
			"no-count-bias":   *noCountBias,
			"train-data":      *trainData,
			"valid-data":      *validData,
			"train-examples":  *trainExamples,
			"valid-examples":  *validExamples,
			"seq-length":      *seqLength,
			"mean-reads":      *meanReads,
			"max-epochs":      *maxEpochs,
			"batch-size":      *batchSize,
			"validation-iter": *validationIter,
			"early-stopping":  *earlyStopping,
			"lr":              *lr,
		})
	}

	sink, err := telemetrySink(*telemetryName)
	if err != nil {
		return err
	}

	client, err := bpnetapi.New(bpnetapi.Options{
		StoreKind: *storeKind,
		DBPath:    *dbPath,
		OutputDir: *outDir,
		Sink:      sink,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Fit(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("fit completed run_id=%s model=%s iterations=%d ticks=%d early_stopped=%t\n",
		summary.RunID, summary.Model, summary.Iterations, summary.Ticks, summary.EarlyStopped)
	if summary.Ticks > 0 {
		ticks, err := client.Ticks(ctx, bpnetapi.TicksRequest{RunID: summary.RunID})
		if err != nil {
			return err
		}
		for _, tick := range ticks {
			fmt.Printf("epoch=%d iteration=%d valid_mnll=%.6f valid_profile_pearson=%.6f valid_count_pearson=%.6f valid_count_mse=%.6f saved=%t\n",
				tick.Epoch, tick.Iteration, tick.ValidMNLL, tick.ValidProfilePearson, tick.ValidCountPearson, tick.ValidCountMSE, tick.Saved)
		}
		fmt.Printf("best_valid_loss=%.6f final_valid_loss=%.6f\n", summary.BestValidLoss, summary.FinalValidLoss)
		fmt.Printf("best_checkpoint=%s\n", summary.BestCheckpoint)
		fmt.Printf("logbook=%s\n", summary.Logbook)
		fmt.Printf("summary=%s\n", summary.SummaryPath)
	}
	fmt.Printf("final_checkpoint=%s\n", summary.FinalCheckpoint)
	fmt.Printf("output_dir=%s\n", summary.OutputDir)
	return nil
}

func runPredict(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("predict", flag.ContinueOnError)
	checkpoint := fs.String("checkpoint", "", "model checkpoint path")
	dataPath := fs.String("data", "", "dataset JSON path (from simulate); empty generates")
	outPath := fs.String("out-path", "", "predictions output path (default <out>/predictions.json)")
	examples := fs.Int("examples", 64, "generated examples")
	seqLength := fs.Int("seq-length", 2114, "generated sequence length")
	meanReads := fs.Int("mean-reads", 100, "generated mean reads per example")
	seed := fs.Int64("seed", 1, "rng seed")
	batchSize := fs.Int("batch-size", 64, "prediction batch size")
	raw := fs.Bool("raw", false, "emit unnormalized profile logits")
	jsonOut := fs.Bool("json", false, "emit the prediction summary as JSON")
	outDir := fs.String("out", "out", "artifact output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *checkpoint == "" {
		return errors.New("predict requires --checkpoint")
	}

	client, err := bpnetapi.New(bpnetapi.Options{OutputDir: *outDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Predict(ctx, bpnetapi.PredictRequest{
		Checkpoint: *checkpoint,
		DataPath:   *dataPath,
		OutPath:    *outPath,
		Examples:   *examples,
		SeqLength:  *seqLength,
		MeanReads:  *meanReads,
		Seed:       *seed,
		BatchSize:  *batchSize,
		Raw:        *raw,
	})
	if err != nil {
		return err
	}

	if *jsonOut {
		type metricsItem struct {
			Examples       int     `json:"examples"`
			ProfileMNLL    float64 `json:"profile_mnll"`
			ProfilePearson float64 `json:"profile_pearson"`
			CountPearson   float64 `json:"count_pearson"`
			CountMSE       float64 `json:"count_mse"`
		}
		type predictItem struct {
			Model      string       `json:"model"`
			Checkpoint string       `json:"checkpoint"`
			Examples   int          `json:"examples"`
			Outputs    int          `json:"n_outputs"`
			OutLength  int          `json:"out_length"`
			Normalized bool         `json:"normalized"`
			OutPath    string       `json:"out_path"`
			LogCounts  []float64    `json:"log_counts"`
			Metrics    *metricsItem `json:"metrics,omitempty"`
		}
		item := predictItem{
			Model:      summary.Model,
			Checkpoint: summary.Checkpoint,
			Examples:   summary.Examples,
			Outputs:    summary.Outputs,
			OutLength:  summary.OutLength,
			Normalized: summary.Normalized,
			OutPath:    summary.OutPath,
			LogCounts:  summary.LogCounts,
		}
		if summary.Metrics != nil {
			item.Metrics = &metricsItem{
				Examples:       summary.Metrics.Examples,
				ProfileMNLL:    summary.Metrics.ProfileMNLL,
				ProfilePearson: summary.Metrics.ProfilePearson,
				CountPearson:   summary.Metrics.CountPearson,
				CountMSE:       summary.Metrics.CountMSE,
			}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(item)
	}

	fmt.Printf("predict completed model=%s examples=%d n_outputs=%d out_length=%d normalized=%t\n",
		summary.Model, summary.Examples, summary.Outputs, summary.OutLength, summary.Normalized)
	if summary.Metrics != nil {
		fmt.Printf("profile_mnll=%.6f profile_pearson=%.6f count_pearson=%.6f count_mse=%.6f\n",
			summary.Metrics.ProfileMNLL, summary.Metrics.ProfilePearson, summary.Metrics.CountPearson, summary.Metrics.CountMSE)
	}
	fmt.Printf("predictions=%s\n", summary.OutPath)
	return nil
}

func runSimulate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	outPath := fs.String("out-path", "", "dataset output path (default <out>/dataset.json)")
	examples := fs.Int("examples", 256, "example count")
	seqLength := fs.Int("seq-length", 2114, "sequence length")
	trimming := fs.Int("trimming", 256, "positions trimmed per side of the profile")
	outputs := fs.Int("outputs", 2, "output track count")
	controlTracks := fs.Int("control-tracks", 2, "control track count")
	motifLength := fs.Int("motif-length", 8, "planted motif length")
	meanReads := fs.Int("mean-reads", 100, "mean reads per example")
	seed := fs.Int64("seed", 1, "rng seed")
	outDir := fs.String("out", "out", "artifact output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := bpnetapi.New(bpnetapi.Options{OutputDir: *outDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Simulate(ctx, bpnetapi.SimulateRequest{
		OutPath:       *outPath,
		Examples:      *examples,
		SeqLength:     *seqLength,
		Trimming:      *trimming,
		Outputs:       *outputs,
		ControlTracks: *controlTracks,
		MotifLength:   *motifLength,
		MeanReads:     *meanReads,
		Seed:          *seed,
	})
	if err != nil {
		return err
	}

	fmt.Printf("simulate completed path=%s examples=%d length=%d out_length=%d n_outputs=%d n_control_tracks=%d mean_reads_per_example=%.2f\n",
		summary.Path, summary.Examples, summary.Length, summary.OutLength, summary.Outputs, summary.ControlTracks, summary.MeanReadsPerExample)
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "bpnet.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := bpnetapi.New(bpnetapi.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	runs, err := client.Runs(ctx, bpnetapi.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	if *jsonOut {
		type runsItem struct {
			RunID          string  `json:"run_id"`
			Model          string  `json:"model"`
			CreatedAtUTC   string  `json:"created_at_utc"`
			Status         string  `json:"status"`
			Seed           int64   `json:"seed"`
			BestValidLoss  float64 `json:"best_valid_loss"`
			FinalValidLoss float64 `json:"final_valid_loss"`
			Iterations     int     `json:"iterations"`
			EarlyStopped   bool    `json:"early_stopped"`
		}
		items := make([]runsItem, 0, len(runs))
		for _, r := range runs {
			items = append(items, runsItem{
				RunID:          r.RunID,
				Model:          r.Model,
				CreatedAtUTC:   r.CreatedAtUTC,
				Status:         r.Status,
				Seed:           r.Seed,
				BestValidLoss:  r.BestValidLoss,
				FinalValidLoss: r.FinalValidLoss,
				Iterations:     r.Iterations,
				EarlyStopped:   r.EarlyStopped,
			})
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}

	for _, r := range runs {
		fmt.Printf("run_id=%s created_at=%s model=%s seed=%d status=%s iterations=%d early_stopped=%t best_valid_loss=%.6f final_valid_loss=%.6f\n",
			r.RunID, r.CreatedAtUTC, r.Model, r.Seed, r.Status, r.Iterations, r.EarlyStopped, r.BestValidLoss, r.FinalValidLoss)
	}
	return nil
}

func runTicks(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ticks", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show ticks for the most recent run")
	limit := fs.Int("limit", 50, "max ticks to print (<=0 for all)")
	jsonOut := fs.Bool("json", false, "emit ticks as JSON")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "bpnet.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("ticks requires --run-id or --latest")
	}

	client, err := bpnetapi.New(bpnetapi.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	ticks, err := client.Ticks(ctx, bpnetapi.TicksRequest{
		RunID:  *runID,
		Latest: *latest,
		Limit:  *limit,
	})
	if err != nil {
		return err
	}
	if len(ticks) == 0 {
		fmt.Println("no ticks recorded")
		return nil
	}

	if *jsonOut {
		type ticksItem struct {
			Epoch               int     `json:"epoch"`
			Iteration           int     `json:"iteration"`
			TrainTimeSeconds    float64 `json:"train_time_seconds"`
			ValidTimeSeconds    float64 `json:"valid_time_seconds"`
			TrainingMNLL        float64 `json:"training_mnll"`
			TrainingCountMSE    float64 `json:"training_count_mse"`
			ValidMNLL           float64 `json:"valid_mnll"`
			ValidProfilePearson float64 `json:"valid_profile_pearson"`
			ValidCountPearson   float64 `json:"valid_count_pearson"`
			ValidCountMSE       float64 `json:"valid_count_mse"`
			Saved               bool    `json:"saved"`
		}
		items := make([]ticksItem, 0, len(ticks))
		for _, t := range ticks {
			items = append(items, ticksItem{
				Epoch:               t.Epoch,
				Iteration:           t.Iteration,
				TrainTimeSeconds:    t.TrainTimeSeconds,
				ValidTimeSeconds:    t.ValidTimeSeconds,
				TrainingMNLL:        t.TrainingMNLL,
				TrainingCountMSE:    t.TrainingCountMSE,
				ValidMNLL:           t.ValidMNLL,
				ValidProfilePearson: t.ValidProfilePearson,
				ValidCountPearson:   t.ValidCountPearson,
				ValidCountMSE:       t.ValidCountMSE,
				Saved:               t.Saved,
			})
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}

	for _, t := range ticks {
		fmt.Printf("epoch=%d iteration=%d train_time=%.3f valid_time=%.3f training_mnll=%.6f training_count_mse=%.6f valid_mnll=%.6f valid_profile_pearson=%.6f valid_count_pearson=%.6f valid_count_mse=%.6f saved=%t\n",
			t.Epoch, t.Iteration, t.TrainTimeSeconds, t.ValidTimeSeconds, t.TrainingMNLL, t.TrainingCountMSE, t.ValidMNLL, t.ValidProfilePearson, t.ValidCountPearson, t.ValidCountMSE, t.Saved)
	}
	return nil
}

func runArtifacts(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("artifacts", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show artifacts for the most recent run")
	jsonOut := fs.Bool("json", false, "emit artifacts as JSON")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "bpnet.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("artifacts requires --run-id or --latest")
	}

	client, err := bpnetapi.New(bpnetapi.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	artifacts, err := client.Artifacts(ctx, bpnetapi.ArtifactsRequest{
		RunID:  *runID,
		Latest: *latest,
	})
	if err != nil {
		return err
	}
	if len(artifacts) == 0 {
		fmt.Println("no artifacts recorded")
		return nil
	}

	if *jsonOut {
		type artifactItem struct {
			Kind         string `json:"kind"`
			Path         string `json:"path"`
			CreatedAtUTC string `json:"created_at_utc"`
		}
		items := make([]artifactItem, 0, len(artifacts))
		for _, a := range artifacts {
			items = append(items, artifactItem{Kind: a.Kind, Path: a.Path, CreatedAtUTC: a.CreatedAtUTC})
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}

	for _, a := range artifacts {
		fmt.Printf("kind=%s path=%s created_at=%s\n", a.Kind, a.Path, a.CreatedAtUTC)
	}
	return nil
}

func runVersion() error {
	fmt.Printf("bpnetctl version=%s\n", version)
	return nil
}

func telemetrySink(name string) (telemetry.Sink, error) {
	switch {
	case name == "" || name == "none":
		return nil, nil
	case name == "console":
		return telemetry.ConsoleSink{W: os.Stderr}, nil
	case strings.HasPrefix(name, "http://") || strings.HasPrefix(name, "https://"):
		return telemetry.NewHTTPSink(name), nil
	default:
		return nil, fmt.Errorf("unsupported telemetry sink: %s", name)
	}
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: bpnetctl <init|fit|predict|simulate|runs|ticks|artifacts|version> [flags]", msg)
}
