package bpnet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/basarnoyan1/bpnet-lite/internal/data"
	"github.com/basarnoyan1/bpnet-lite/internal/model"
	"github.com/basarnoyan1/bpnet-lite/internal/performance"
	"github.com/basarnoyan1/bpnet-lite/internal/storage"
	"github.com/basarnoyan1/bpnet-lite/internal/telemetry"
	"github.com/basarnoyan1/bpnet-lite/internal/tensor"
	"github.com/basarnoyan1/bpnet-lite/internal/tower"
	"github.com/basarnoyan1/bpnet-lite/internal/train"
)

const (
	defaultDBPath    = "bpnet.db"
	defaultOutputDir = "out"
)

type Options struct {
	StoreKind string
	DBPath    string
	OutputDir string
	Sink      telemetry.Sink
}

type Client struct {
	store      storage.Store
	outputDir  string
	sink       telemetry.Sink
	storeReady bool
}

type FitRequest struct {
	Name          string
	Seed          int64
	Filters       int
	Layers        int
	Outputs       int
	ControlTracks int
	Alpha         float64
	Trimming      int

	DisableProfileBias bool
	DisableCountBias   bool

	TrainPath     string
	ValidPath     string
	TrainExamples int
	ValidExamples int // negative skips validation entirely
	SeqLength     int
	MeanReads     int

	MaxEpochs      int
	BatchSize      int
	ValidationIter int
	EarlyStopping  int
	LearningRate   float64
}

type FitSummary struct {
	RunID           string
	Model           string
	OutputDir       string
	BestValidLoss   float64
	FinalValidLoss  float64
	Iterations      int
	Ticks           int
	EarlyStopped    bool
	BestCheckpoint  string
	FinalCheckpoint string
	Logbook         string
	SummaryPath     string
	Metrics         *MetricsSummary
}

type MetricsSummary struct {
	Examples       int
	ProfileMNLL    float64
	ProfilePearson float64
	CountPearson   float64
	CountMSE       float64
}

type PredictRequest struct {
	Checkpoint string
	DataPath   string
	OutPath    string
	Examples   int
	SeqLength  int
	MeanReads  int
	Seed       int64
	BatchSize  int
	Raw        bool // emit unnormalized profile logits
}

type PredictSummary struct {
	Model      string
	Checkpoint string
	Examples   int
	Outputs    int
	OutLength  int
	Normalized bool
	OutPath    string
	LogCounts  []float64
	Metrics    *MetricsSummary
}

type SimulateRequest struct {
	OutPath       string
	Examples      int
	SeqLength     int
	Trimming      int
	Outputs       int
	ControlTracks int
	MotifLength   int
	MeanReads     int
	Seed          int64
}

type SimulateSummary struct {
	Path                string
	Examples            int
	Length              int
	OutLength           int
	Outputs             int
	ControlTracks       int
	MeanReadsPerExample float64
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID          string
	Model          string
	CreatedAtUTC   string
	Status         string
	Seed           int64
	BestValidLoss  float64
	FinalValidLoss float64
	Iterations     int
	EarlyStopped   bool
}

type TicksRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type TickItem struct {
	Epoch               int
	Iteration           int
	TrainTimeSeconds    float64
	ValidTimeSeconds    float64
	TrainingMNLL        float64
	TrainingCountMSE    float64
	ValidMNLL           float64
	ValidProfilePearson float64
	ValidCountPearson   float64
	ValidCountMSE       float64
	Saved               bool
}

type ArtifactsRequest struct {
	RunID  string
	Latest bool
}

type ArtifactItem struct {
	Kind         string
	Path         string
	CreatedAtUTC string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = defaultOutputDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:     store,
		outputDir: outputDir,
		sink:      opts.Sink,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.ensureStore(ctx)
}

func (c *Client) Fit(ctx context.Context, req FitRequest) (FitSummary, error) {
	if req.Filters <= 0 {
		req.Filters = 64
	}
	if req.Layers <= 0 {
		req.Layers = 8
	}
	if req.Outputs <= 0 {
		req.Outputs = 2
	}
	if req.Alpha == 0 {
		req.Alpha = 1
	}
	if req.MaxEpochs <= 0 {
		req.MaxEpochs = 100
	}
	if req.BatchSize <= 0 {
		req.BatchSize = 64
	}
	if req.ValidationIter <= 0 {
		req.ValidationIter = 100
	}
	if req.LearningRate == 0 {
		req.LearningRate = 0.001
	}
	if req.TrainExamples <= 0 {
		req.TrainExamples = 256
	}
	if req.ValidExamples == 0 {
		req.ValidExamples = 32
	}
	if req.SeqLength <= 0 {
		req.SeqLength = 2114
	}

	t, err := tower.New(tower.Config{
		Filters:       req.Filters,
		Layers:        req.Layers,
		Outputs:       req.Outputs,
		ControlTracks: req.ControlTracks,
		Alpha:         req.Alpha,
		Trimming:      req.Trimming,
		ProfileBias:   !req.DisableProfileBias,
		CountBias:     !req.DisableCountBias,
		Name:          req.Name,
		Seed:          req.Seed,
	})
	if err != nil {
		return FitSummary{}, err
	}
	cfg := t.Config()

	trainSet, err := c.loadOrGenerate(req.TrainPath, data.SimConfig{
		Examples:      req.TrainExamples,
		Length:        req.SeqLength,
		Trimming:      cfg.Trimming,
		Outputs:       cfg.Outputs,
		ControlTracks: cfg.ControlTracks,
		MeanReads:     req.MeanReads,
		Seed:          req.Seed + 1000,
	})
	if err != nil {
		return FitSummary{}, fmt.Errorf("training data: %w", err)
	}
	var validSet *data.Dataset
	if req.ValidPath != "" || req.ValidExamples > 0 {
		validSet, err = c.loadOrGenerate(req.ValidPath, data.SimConfig{
			Examples:      req.ValidExamples,
			Length:        req.SeqLength,
			Trimming:      cfg.Trimming,
			Outputs:       cfg.Outputs,
			ControlTracks: cfg.ControlTracks,
			MeanReads:     req.MeanReads,
			Seed:          req.Seed + 2000,
		})
		if err != nil {
			return FitSummary{}, fmt.Errorf("validation data: %w", err)
		}
	}

	batches, err := data.Batches(trainSet, req.BatchSize)
	if err != nil {
		return FitSummary{}, err
	}

	now := time.Now().UTC()
	runID := fmt.Sprintf("%s-%d-%d", cfg.Name, req.Seed, now.Unix())
	runDir := filepath.Join(c.outputDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return FitSummary{}, err
	}

	if err := c.ensureStore(ctx); err != nil {
		return FitSummary{}, err
	}
	rec := model.RunRecord{
		VersionedRecord: versioned(),
		ID:              runID,
		Model:           cfg.Name,
		Seed:            req.Seed,
		CreatedAtUTC:    now.Format(time.RFC3339Nano),
		Status:          model.RunStatusRunning,
	}
	if err := c.store.SaveRun(ctx, rec); err != nil {
		return FitSummary{}, err
	}

	res, err := train.Fit(ctx, t, batches, validSet, train.Config{
		MaxEpochs:      req.MaxEpochs,
		BatchSize:      req.BatchSize,
		ValidationIter: req.ValidationIter,
		EarlyStopping:  req.EarlyStopping,
		LearningRate:   req.LearningRate,
		OutputDir:      runDir,
		Sink:           c.sink,
	})
	if err != nil {
		rec.Status = model.RunStatusFailed
		_ = c.store.SaveRun(ctx, rec)
		return FitSummary{}, err
	}

	rec.Status = model.RunStatusFinished
	rec.BestValidLoss = res.BestValidLoss
	rec.FinalValidLoss = res.FinalValidLoss
	rec.Iterations = res.Iterations
	rec.EarlyStopped = res.EarlyStopped
	if err := c.store.SaveRun(ctx, rec); err != nil {
		return FitSummary{}, err
	}

	if len(res.Log) > 0 {
		ticks := make([]model.TickRecord, len(res.Log))
		for i, row := range res.Log {
			ticks[i] = model.TickRecord{
				VersionedRecord:     versioned(),
				RunID:               runID,
				Epoch:               row.Epoch,
				Iteration:           row.Iteration,
				TrainTimeSeconds:    row.TrainTime,
				ValidTimeSeconds:    row.ValidTime,
				TrainingMNLL:        row.TrainingMNLL,
				TrainingCountMSE:    row.TrainingCountMSE,
				ValidMNLL:           row.ValidMNLL,
				ValidProfilePearson: row.ValidProfilePearson,
				ValidCountPearson:   row.ValidCountPearson,
				ValidCountMSE:       row.ValidCountMSE,
				Saved:               row.Saved,
			}
		}
		if err := c.store.SaveTicks(ctx, runID, ticks); err != nil {
			return FitSummary{}, err
		}
	}

	summary := FitSummary{
		RunID:           runID,
		Model:           cfg.Name,
		OutputDir:       filepath.Clean(runDir),
		BestValidLoss:   res.BestValidLoss,
		FinalValidLoss:  res.FinalValidLoss,
		Iterations:      res.Iterations,
		Ticks:           res.Ticks,
		EarlyStopped:    res.EarlyStopped,
		FinalCheckpoint: res.FinalPath,
	}

	artifacts := []model.ArtifactRecord{
		artifact(runID, model.ArtifactCheckpointFinal, res.FinalPath, now),
	}
	if res.Ticks > 0 {
		last := res.Log[len(res.Log)-1]
		sum := performance.Summary{
			Examples:       validSet.Examples(),
			ProfileMNLL:    last.ValidMNLL,
			ProfilePearson: last.ValidProfilePearson,
			CountPearson:   last.ValidCountPearson,
			CountMSE:       last.ValidCountMSE,
		}
		summaryPath := filepath.Join(runDir, cfg.Name+".summary.json")
		if err := performance.WriteSummary(summaryPath, sum); err != nil {
			return FitSummary{}, err
		}
		summary.BestCheckpoint = res.BestPath
		summary.Logbook = res.LogbookPath
		summary.SummaryPath = summaryPath
		m := toMetrics(sum)
		summary.Metrics = &m
		artifacts = append(artifacts,
			artifact(runID, model.ArtifactCheckpointBest, res.BestPath, now),
			artifact(runID, model.ArtifactLogbook, res.LogbookPath, now),
			artifact(runID, model.ArtifactSummary, summaryPath, now),
		)
	}
	if err := c.store.SaveArtifacts(ctx, runID, artifacts); err != nil {
		return FitSummary{}, err
	}

	return summary, nil
}

func (c *Client) Predict(ctx context.Context, req PredictRequest) (PredictSummary, error) {
	if req.Checkpoint == "" {
		return PredictSummary{}, errors.New("predict requires a checkpoint path")
	}
	if req.BatchSize <= 0 {
		req.BatchSize = 64
	}
	if req.Examples <= 0 {
		req.Examples = 64
	}
	if req.SeqLength <= 0 {
		req.SeqLength = 2114
	}
	if req.OutPath == "" {
		req.OutPath = filepath.Join(c.outputDir, "predictions.json")
	}

	t, err := tower.Load(req.Checkpoint)
	if err != nil {
		return PredictSummary{}, err
	}
	cfg := t.Config()

	set, err := c.loadOrGenerate(req.DataPath, data.SimConfig{
		Examples:      req.Examples,
		Length:        req.SeqLength,
		Trimming:      cfg.Trimming,
		Outputs:       cfg.Outputs,
		ControlTracks: cfg.ControlTracks,
		MeanReads:     req.MeanReads,
		Seed:          req.Seed + 3000,
	})
	if err != nil {
		return PredictSummary{}, fmt.Errorf("prediction data: %w", err)
	}

	profile, counts, err := train.Predict(ctx, t, set, req.BatchSize, !req.Raw)
	if err != nil {
		return PredictSummary{}, err
	}
	logCounts := make([]float64, counts.Rows)
	for i := range logCounts {
		logCounts[i] = counts.At(i, 0)
	}

	summary := PredictSummary{
		Model:      cfg.Name,
		Checkpoint: req.Checkpoint,
		Examples:   profile.Batch,
		Outputs:    profile.Channels,
		OutLength:  profile.Length,
		Normalized: !req.Raw,
		OutPath:    filepath.Clean(req.OutPath),
		LogCounts:  logCounts,
	}
	if !req.Raw && set.Profile.Channels == profile.Channels && set.Profile.Length == profile.Length {
		m, err := performance.Calculate(profile, set.Profile, logCounts, performance.DefaultKernelWidth, performance.DefaultKernelSigma)
		if err != nil {
			return PredictSummary{}, err
		}
		sum := toMetrics(m.Summary())
		summary.Metrics = &sum
	}

	if err := os.MkdirAll(filepath.Dir(req.OutPath), 0o755); err != nil {
		return PredictSummary{}, err
	}
	if err := writePredictions(req.OutPath, cfg.Name, profile, logCounts, !req.Raw); err != nil {
		return PredictSummary{}, err
	}
	return summary, nil
}

func (c *Client) Simulate(_ context.Context, req SimulateRequest) (SimulateSummary, error) {
	if req.Examples <= 0 {
		req.Examples = 256
	}
	if req.SeqLength <= 0 {
		req.SeqLength = 2114
	}
	if req.Trimming <= 0 {
		req.Trimming = 256
	}
	if req.OutPath == "" {
		req.OutPath = filepath.Join(c.outputDir, "dataset.json")
	}

	set, err := data.Generate(data.SimConfig{
		Examples:      req.Examples,
		Length:        req.SeqLength,
		Trimming:      req.Trimming,
		Outputs:       req.Outputs,
		ControlTracks: req.ControlTracks,
		MotifLength:   req.MotifLength,
		MeanReads:     req.MeanReads,
		Seed:          req.Seed,
	})
	if err != nil {
		return SimulateSummary{}, err
	}
	if err := os.MkdirAll(filepath.Dir(req.OutPath), 0o755); err != nil {
		return SimulateSummary{}, err
	}
	if err := data.WriteDataset(req.OutPath, set); err != nil {
		return SimulateSummary{}, err
	}

	total := 0.0
	for _, v := range set.Profile.Data {
		total += v
	}
	return SimulateSummary{
		Path:                filepath.Clean(req.OutPath),
		Examples:            set.Examples(),
		Length:              set.Seq.Length,
		OutLength:           set.Profile.Length,
		Outputs:             set.Profile.Channels,
		ControlTracks:       set.Controls.Channels,
		MeanReadsPerExample: total / float64(set.Examples()),
	}, nil
}

func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}
	records, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]RunItem, 0, len(records))
	for i := len(records) - 1; i >= 0 && len(out) < req.Limit; i-- {
		r := records[i]
		out = append(out, RunItem{
			RunID:          r.ID,
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
	return out, nil
}

func (c *Client) Ticks(ctx context.Context, req TicksRequest) ([]TickItem, error) {
	if req.RunID != "" && req.Latest {
		return nil, errors.New("use either run id or latest")
	}
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}

	runID := req.RunID
	if req.Latest {
		var err error
		runID, err = c.latestRunID(ctx)
		if err != nil {
			return nil, err
		}
	}
	if runID == "" {
		return nil, errors.New("ticks requires run id or latest")
	}

	ticks, ok, err := c.store.GetTicks(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("ticks not found for run: %s", runID)
	}
	if req.Limit > 0 && len(ticks) > req.Limit {
		ticks = ticks[:req.Limit]
	}

	out := make([]TickItem, 0, len(ticks))
	for _, t := range ticks {
		out = append(out, TickItem{
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
	return out, nil
}

func (c *Client) Artifacts(ctx context.Context, req ArtifactsRequest) ([]ArtifactItem, error) {
	if req.RunID != "" && req.Latest {
		return nil, errors.New("use either run id or latest")
	}
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}

	runID := req.RunID
	if req.Latest {
		var err error
		runID, err = c.latestRunID(ctx)
		if err != nil {
			return nil, err
		}
	}
	if runID == "" {
		return nil, errors.New("artifacts requires run id or latest")
	}

	records, ok, err := c.store.GetArtifacts(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("artifacts not found for run: %s", runID)
	}

	out := make([]ArtifactItem, 0, len(records))
	for _, a := range records {
		out = append(out, ArtifactItem{
			Kind:         a.Kind,
			Path:         a.Path,
			CreatedAtUTC: a.CreatedAtUTC,
		})
	}
	return out, nil
}

func (c *Client) ensureStore(ctx context.Context) error {
	if c.storeReady {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.storeReady = true
	return nil
}

func (c *Client) latestRunID(ctx context.Context) (string, error) {
	records, err := c.store.ListRuns(ctx)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", errors.New("no runs available")
	}
	return records[len(records)-1].ID, nil
}

// loadOrGenerate reads a dataset file when a path is given and falls
// back to the synthetic generator otherwise.
func (c *Client) loadOrGenerate(path string, cfg data.SimConfig) (*data.Dataset, error) {
	if path == "" {
		return data.Generate(cfg)
	}
	set, ok, err := data.ReadDataset(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("dataset not found: %s", path)
	}
	return set, nil
}

func versioned() model.VersionedRecord {
	return model.VersionedRecord{
		SchemaVersion: storage.CurrentSchemaVersion,
		CodecVersion:  storage.CurrentCodecVersion,
	}
}

func artifact(runID, kind, path string, now time.Time) model.ArtifactRecord {
	return model.ArtifactRecord{
		VersionedRecord: versioned(),
		RunID:           runID,
		Kind:            kind,
		Path:            path,
		CreatedAtUTC:    now.Format(time.RFC3339Nano),
	}
}

func toMetrics(s performance.Summary) MetricsSummary {
	return MetricsSummary{
		Examples:       s.Examples,
		ProfileMNLL:    s.ProfileMNLL,
		ProfilePearson: s.ProfilePearson,
		CountPearson:   s.CountPearson,
		CountMSE:       s.CountMSE,
	}
}

type predictionsFile struct {
	Model      string    `json:"model"`
	Examples   int       `json:"examples"`
	Outputs    int       `json:"n_outputs"`
	OutLength  int       `json:"out_length"`
	Normalized bool      `json:"normalized"`
	LogCounts  []float64 `json:"log_counts"`
	Profile    []float64 `json:"profile"`
}

func writePredictions(path, modelName string, profile tensor.Seq, logCounts []float64, normalized bool) error {
	f := predictionsFile{
		Model:      modelName,
		Examples:   profile.Batch,
		Outputs:    profile.Channels,
		OutLength:  profile.Length,
		Normalized: normalized,
		LogCounts:  logCounts,
		Profile:    profile.Data,
	}
	encoded, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode predictions: %w", err)
	}
	encoded = append(encoded, '\n')
	return os.WriteFile(path, encoded, 0o644)
}
