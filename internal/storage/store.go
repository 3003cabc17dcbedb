package storage

import (
	"context"
	"errors"

	"github.com/basarnoyan1/bpnet-lite/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

// Store defines persistence operations for training runs and the
// artifacts they produce. Tick and artifact histories are saved whole
// per run, mirroring how the training loop rewrites its logbook.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveTicks(ctx context.Context, runID string, ticks []model.TickRecord) error
	GetTicks(ctx context.Context, runID string) ([]model.TickRecord, bool, error)
	SaveArtifacts(ctx context.Context, runID string, artifacts []model.ArtifactRecord) error
	GetArtifacts(ctx context.Context, runID string) ([]model.ArtifactRecord, bool, error)
}
