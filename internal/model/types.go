package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// RunRecord summarizes one training run.
type RunRecord struct {
	VersionedRecord
	ID             string  `json:"id"`
	Model          string  `json:"model"`
	Seed           int64   `json:"seed"`
	CreatedAtUTC   string  `json:"created_at_utc"`
	Status         string  `json:"status"`
	BestValidLoss  float64 `json:"best_valid_loss"`
	FinalValidLoss float64 `json:"final_valid_loss"`
	Iterations     int     `json:"iterations"`
	EarlyStopped   bool    `json:"early_stopped"`
}

// Run status values.
const (
	RunStatusRunning  = "running"
	RunStatusFinished = "finished"
	RunStatusFailed   = "failed"
)

// TickRecord is one validation checkpoint within a run.
type TickRecord struct {
	VersionedRecord
	RunID               string  `json:"run_id"`
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

// ArtifactRecord points at a file a run produced.
type ArtifactRecord struct {
	VersionedRecord
	RunID        string `json:"run_id"`
	Kind         string `json:"kind"`
	Path         string `json:"path"`
	CreatedAtUTC string `json:"created_at_utc"`
}

// Artifact kinds.
const (
	ArtifactCheckpointBest  = "checkpoint_best"
	ArtifactCheckpointFinal = "checkpoint_final"
	ArtifactLogbook         = "logbook"
	ArtifactSummary         = "summary"
)
