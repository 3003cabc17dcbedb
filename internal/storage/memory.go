package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/basarnoyan1/bpnet-lite/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	ticks       map[string][]model.TickRecord
	artifacts   map[string][]model.ArtifactRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.ticks = make(map[string][]model.TickRecord)
	s.artifacts = make(map[string][]model.ArtifactRecord)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.RunRecord{}, false, errNotInitialized
	}
	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, errNotInitialized
	}
	runs := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sortRuns(runs)
	return runs, nil
}

func (s *MemoryStore) SaveTicks(_ context.Context, runID string, ticks []model.TickRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	copied := make([]model.TickRecord, len(ticks))
	copy(copied, ticks)
	s.ticks[runID] = copied
	return nil
}

func (s *MemoryStore) GetTicks(_ context.Context, runID string) ([]model.TickRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, false, errNotInitialized
	}
	ticks, ok := s.ticks[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.TickRecord, len(ticks))
	copy(copied, ticks)
	return copied, true, nil
}

func (s *MemoryStore) SaveArtifacts(_ context.Context, runID string, artifacts []model.ArtifactRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	copied := make([]model.ArtifactRecord, len(artifacts))
	copy(copied, artifacts)
	s.artifacts[runID] = copied
	return nil
}

func (s *MemoryStore) GetArtifacts(_ context.Context, runID string) ([]model.ArtifactRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, false, errNotInitialized
	}
	artifacts, ok := s.artifacts[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.ArtifactRecord, len(artifacts))
	copy(copied, artifacts)
	return copied, true, nil
}

// sortRuns orders runs by creation time, then by id. RFC 3339
// timestamps sort chronologically as strings.
func sortRuns(runs []model.RunRecord) {
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAtUTC != runs[j].CreatedAtUTC {
			return runs[i].CreatedAtUTC < runs[j].CreatedAtUTC
		}
		return runs[i].ID < runs[j].ID
	})
}
